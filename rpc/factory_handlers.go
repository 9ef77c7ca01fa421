package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	nativecommon "dealvault/native/common"
	"dealvault/native/deal"
	"dealvault/native/factory"
)

type factoryDeployParams struct {
	Caller              string `json:"caller"`
	Value               string `json:"value"`
	Buyer               string `json:"buyer"`
	Seller              string `json:"seller"`
	Notary              string `json:"notary"`
	Agent               string `json:"agent,omitempty"`
	Price               string `json:"price"`
	AgentFeeBps         uint32 `json:"agentFeeBps"`
	NotaryFeeBps        uint32 `json:"notaryFeeBps"`
	PropertyDescription string `json:"propertyDescription"`
	DocumentRef         string `json:"documentRef"`
	ContractName        string `json:"contractName"`
	DeadlineDays        uint32 `json:"deadlineDays"`
}

type factoryCallerParams struct {
	Caller string `json:"caller"`
}

type factorySetFeeParams struct {
	Caller string `json:"caller"`
	Fee    string `json:"fee"`
}

type factorySetTemplateParams struct {
	Caller  string `json:"caller"`
	Version string `json:"version"`
}

type factoryWithdrawParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

type factoryAdminParams struct {
	Caller string `json:"caller"`
	Admin  string `json:"admin"`
}

type factoryPauseParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type factoryMarkParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type factoryPageParams struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type factoryIDParams struct {
	ID uint64 `json:"id"`
}

type factoryAddressPageParams struct {
	Address string `json:"address"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

type recordJSON struct {
	ID           uint64  `json:"id"`
	DealID       string  `json:"dealId"`
	Creator      string  `json:"creator"`
	Buyer        string  `json:"buyer"`
	Seller       string  `json:"seller"`
	Notary       string  `json:"notary"`
	Agent        *string `json:"agent,omitempty"`
	Price        string  `json:"price"`
	AgentFeeBps  uint32  `json:"agentFeeBps"`
	NotaryFeeBps uint32  `json:"notaryFeeBps"`
	ContractName string  `json:"contractName"`
	CreatedAt    int64   `json:"createdAt"`
	IsActive     bool    `json:"isActive"`
}

type statsJSON struct {
	TotalDeployed  uint64   `json:"totalDeployed"`
	ActiveCount    uint64   `json:"activeCount"`
	TotalCustodied string   `json:"totalCustodied"`
	CollectedFees  string   `json:"collectedFees"`
	DeployFee      string   `json:"deployFee"`
	Paused         bool     `json:"paused"`
	Template       string   `json:"template"`
	Admins         []string `json:"admins"`
}

func formatRecordJSON(r *factory.Record) recordJSON {
	out := recordJSON{
		ID:           r.ID,
		DealID:       formatDealID(r.DealID),
		Creator:      formatAddress(r.Creator),
		Buyer:        formatAddress(r.Buyer),
		Seller:       formatAddress(r.Seller),
		Notary:       formatAddress(r.Notary),
		Price:        r.Price.String(),
		AgentFeeBps:  r.AgentFeeBps,
		NotaryFeeBps: r.NotaryFeeBps,
		ContractName: r.ContractName,
		CreatedAt:    r.CreatedAt,
		IsActive:     r.IsActive,
	}
	if r.Agent != ([20]byte{}) {
		agent := formatAddress(r.Agent)
		out.Agent = &agent
	}
	return out
}

func formatRecordList(records []*factory.Record) []recordJSON {
	out := make([]recordJSON, 0, len(records))
	for _, r := range records {
		out = append(out, formatRecordJSON(r))
	}
	return out
}

func writeFactoryError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, factory.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeFactoryNotFound, "not_found", err.Error())
	case errors.Is(err, factory.ErrUnauthorized), errors.Is(err, factory.ErrOwnerNotSet):
		writeError(w, http.StatusForbidden, id, codeFactoryForbidden, "forbidden", err.Error())
	case errors.Is(err, factory.ErrInvalidParams), errors.Is(err, deal.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, id, codeFactoryInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, factory.ErrTemplateNotSet),
		errors.Is(err, factory.ErrFeeTooLow),
		errors.Is(err, factory.ErrNoCollectedFees),
		errors.Is(err, factory.ErrAlreadyInactive),
		errors.Is(err, factory.ErrAdminIsOwner),
		errors.Is(err, factory.ErrNotAdmin):
		writeError(w, http.StatusConflict, id, codeFactoryConflict, "conflict", err.Error())
	case errors.Is(err, factory.ErrTransferFailed):
		writeError(w, http.StatusConflict, id, codeFactoryTransfer, "transfer_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleFactoryDeploy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factoryDeployParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	value := big.NewInt(0)
	if strings.TrimSpace(params.Value) != "" {
		value, err = parsePositiveBigInt(params.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	dealParams, rpcErr := parseDealParams(&params)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	record, err := s.factory.DeployInstance(caller, value, dealParams)
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRecordJSON(record))
}

func parseDealParams(p *factoryDeployParams) (*deal.Params, *RPCError) {
	invalid := func(msg string) *RPCError {
		return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: msg}
	}
	buyer, err := parseAddress(p.Buyer)
	if err != nil {
		return nil, invalid(err.Error())
	}
	seller, err := parseAddress(p.Seller)
	if err != nil {
		return nil, invalid(err.Error())
	}
	notary, err := parseAddress(p.Notary)
	if err != nil {
		return nil, invalid(err.Error())
	}
	var agent [20]byte
	if strings.TrimSpace(p.Agent) != "" {
		agent, err = parseAddress(p.Agent)
		if err != nil {
			return nil, invalid(err.Error())
		}
	}
	price, err := parsePositiveBigInt(p.Price)
	if err != nil {
		return nil, invalid(err.Error())
	}
	return &deal.Params{
		Buyer:               buyer,
		Seller:              seller,
		Notary:              notary,
		Agent:               agent,
		Price:               price,
		AgentFeeBps:         p.AgentFeeBps,
		NotaryFeeBps:        p.NotaryFeeBps,
		PropertyDescription: p.PropertyDescription,
		DocumentRef:         p.DocumentRef,
		ContractName:        p.ContractName,
		DeadlineDays:        p.DeadlineDays,
	}, nil
}

func (s *Server) handleFactorySetTemplate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factorySetTemplateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.factory.SetTemplate(caller, params.Version); err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFactorySetFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factorySetFeeParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	fee, ok := new(big.Int).SetString(strings.TrimSpace(params.Fee), 10)
	if !ok || fee.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "fee must be a non-negative integer")
		return
	}
	if err := s.factory.SetDeployFee(caller, fee); err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFactoryWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factoryWithdrawParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.factory.WithdrawFees(caller, recipient)
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

func (s *Server) handleFactoryAddAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleFactoryAdminChange(w, r, req, s.factory.AddAdmin)
}

func (s *Server) handleFactoryRemoveAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleFactoryAdminChange(w, r, req, s.factory.RemoveAdmin)
}

func (s *Server) handleFactoryAdminChange(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func([20]byte, [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factoryAdminParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	admin, err := parseAddress(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(caller, admin); err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFactoryPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factoryPauseParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.factory.Pause(caller, params.Paused); err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFactoryMarkInactive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params factoryMarkParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.factory.MarkInactive(caller, params.ID); err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFactoryGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.factory.Get(params.ID)
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRecordJSON(record))
}

func (s *Server) handleFactoryRecent(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleFactoryPage(w, req, s.factory.RecentDeployments)
}

func (s *Server) handleFactoryActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleFactoryPage(w, req, s.factory.ActiveDeployments)
}

func (s *Server) handleFactoryPage(w http.ResponseWriter, req *RPCRequest, fn func(int, int) ([]*factory.Record, error)) {
	params := factoryPageParams{}
	if len(req.Params) > 0 {
		if err := singleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	records, err := fn(params.Offset, params.Limit)
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRecordList(records))
}

func (s *Server) handleFactoryByCreator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleFactoryAddressPage(w, req, s.factory.DeploymentsByCreator)
}

func (s *Server) handleFactoryByParticipant(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleFactoryAddressPage(w, req, s.factory.DeploymentsByParticipant)
}

func (s *Server) handleFactoryAddressPage(w http.ResponseWriter, req *RPCRequest, fn func([20]byte, int, int) ([]*factory.Record, error)) {
	var params factoryAddressPageParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	records, err := fn(addr, params.Offset, params.Limit)
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRecordList(records))
}

func (s *Server) handleFactoryStats(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	stats, err := s.factory.Statistics()
	if err != nil {
		writeFactoryError(w, req.ID, err)
		return
	}
	admins := make([]string, 0, len(stats.Admins))
	for _, admin := range stats.Admins {
		admins = append(admins, formatAddress(admin))
	}
	writeResult(w, req.ID, statsJSON{
		TotalDeployed:  stats.TotalDeployed,
		ActiveCount:    stats.ActiveCount,
		TotalCustodied: stats.TotalCustodied.String(),
		CollectedFees:  stats.CollectedFees.String(),
		DeployFee:      stats.DeployFee.String(),
		Paused:         stats.Paused,
		Template:       stats.Template,
		Admins:         admins,
	})
}
