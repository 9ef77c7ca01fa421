package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"dealvault/native/deal"
)

type dealIDParams struct {
	ID string `json:"id"`
}

type dealActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type dealDepositParams struct {
	ID        string `json:"id"`
	Caller    string `json:"caller"`
	Value     string `json:"value"`
	ActNumber string `json:"actNumber"`
}

type dealApproveParams struct {
	ID        string `json:"id"`
	Caller    string `json:"caller"`
	ActNumber string `json:"actNumber"`
}

type dealParticipantParams struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type dealJSON struct {
	ID                  string  `json:"id"`
	Buyer               string  `json:"buyer"`
	Seller              string  `json:"seller"`
	Notary              string  `json:"notary"`
	Agent               *string `json:"agent,omitempty"`
	Price               string  `json:"price"`
	AgentFeeBps         uint32  `json:"agentFeeBps"`
	NotaryFeeBps        uint32  `json:"notaryFeeBps"`
	AgentFeeAmount      string  `json:"agentFeeAmount"`
	NotaryFeeAmount     string  `json:"notaryFeeAmount"`
	TotalDeposit        string  `json:"totalDeposit"`
	PropertyDescription string  `json:"propertyDescription"`
	DocumentRef         string  `json:"documentRef"`
	ContractName        string  `json:"contractName"`
	DeadlineSeconds     int64   `json:"deadlineSeconds"`
	DepositTime         int64   `json:"depositTime,omitempty"`
	ActNumber           string  `json:"actNumber,omitempty"`
	CreatedAt           int64   `json:"createdAt"`
	Status              string  `json:"status"`
}

type dealStatusJSON struct {
	Status        string `json:"status"`
	Deposited     bool   `json:"deposited"`
	Finalized     bool   `json:"finalized"`
	Balance       string `json:"balance"`
	DepositTime   int64  `json:"depositTime,omitempty"`
	DeadlineAt    int64  `json:"deadlineAt,omitempty"`
	TimeRemaining int64  `json:"timeRemaining"`
}

type feeBreakdownJSON struct {
	Price           string `json:"price"`
	AgentFeeBps     uint32 `json:"agentFeeBps"`
	NotaryFeeBps    uint32 `json:"notaryFeeBps"`
	AgentFeeAmount  string `json:"agentFeeAmount"`
	NotaryFeeAmount string `json:"notaryFeeAmount"`
	TotalDeposit    string `json:"totalDeposit"`
}

func formatDealJSON(d *deal.Deal) dealJSON {
	out := dealJSON{
		ID:                  formatDealID(d.ID),
		Buyer:               formatAddress(d.Buyer),
		Seller:              formatAddress(d.Seller),
		Notary:              formatAddress(d.Notary),
		Price:               d.Price.String(),
		AgentFeeBps:         d.AgentFeeBps,
		NotaryFeeBps:        d.NotaryFeeBps,
		AgentFeeAmount:      d.AgentFeeAmount.String(),
		NotaryFeeAmount:     d.NotaryFeeAmount.String(),
		TotalDeposit:        d.TotalDeposit.String(),
		PropertyDescription: d.PropertyDescription,
		DocumentRef:         d.DocumentRef,
		ContractName:        d.ContractName,
		DeadlineSeconds:     d.DeadlineSeconds,
		DepositTime:         d.DepositTime,
		ActNumber:           d.ActNumber,
		CreatedAt:           d.CreatedAt,
		Status:              d.Status.String(),
	}
	if d.HasAgent() {
		agent := formatAddress(d.Agent)
		out.Agent = &agent
	}
	return out
}

func writeDealError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, deal.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeDealNotFound, "not_found", err.Error())
	case errors.Is(err, deal.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeDealForbidden, "forbidden", err.Error())
	case errors.Is(err, deal.ErrInvalidParams),
		errors.Is(err, deal.ErrWrongAmount),
		errors.Is(err, deal.ErrActMismatch):
		writeError(w, http.StatusBadRequest, id, codeDealInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, deal.ErrInvalidState),
		errors.Is(err, deal.ErrAlreadyFinalized),
		errors.Is(err, deal.ErrAlreadyInitialized),
		errors.Is(err, deal.ErrDeadlinePassed),
		errors.Is(err, deal.ErrDeadlineNotReached):
		writeError(w, http.StatusConflict, id, codeDealConflict, "conflict", err.Error())
	case errors.Is(err, deal.ErrTransferFailed):
		writeError(w, http.StatusConflict, id, codeDealTransfer, "transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleDealGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params dealIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	d, err := s.deals.Get(id)
	if err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatDealJSON(d))
}

func (s *Server) handleDealStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params dealIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	summary, err := s.deals.Summary(id)
	if err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, dealStatusJSON{
		Status:        summary.Status.String(),
		Deposited:     summary.Deposited,
		Finalized:     summary.Finalized,
		Balance:       summary.Balance.String(),
		DepositTime:   summary.DepositTime,
		DeadlineAt:    summary.DeadlineAt,
		TimeRemaining: summary.TimeRemaining,
	})
}

func (s *Server) handleDealFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params dealIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	fees, err := s.deals.Fees(id)
	if err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, feeBreakdownJSON{
		Price:           fees.Price.String(),
		AgentFeeBps:     fees.AgentFeeBps,
		NotaryFeeBps:    fees.NotaryFeeBps,
		AgentFeeAmount:  fees.AgentFeeAmount.String(),
		NotaryFeeAmount: fees.NotaryFeeAmount.String(),
		TotalDeposit:    fees.TotalDeposit.String(),
	})
}

func (s *Server) handleDealDocumentURL(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params dealIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	url, err := s.deals.DocumentURL(id)
	if err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"url": url})
}

func (s *Server) handleDealIsParticipant(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params dealParticipantParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	member, err := s.deals.IsParticipant(id, addr)
	if err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"isParticipant": member})
}

func (s *Server) handleDealDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params dealDepositParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := parsePositiveBigInt(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.deals.Deposit(id, caller, value, params.ActNumber); err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleDealApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params dealApproveParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.deals.ApproveSale(id, caller, params.ActNumber); err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleDealCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDealTransition(w, r, req, s.deals.CancelSale)
}

func (s *Server) handleDealRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDealTransition(w, r, req, s.deals.RefundAfterDeadline)
}

func (s *Server) handleDealTransition(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func([32]byte, [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params dealActorParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDealID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(id, caller); err != nil {
		writeDealError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
