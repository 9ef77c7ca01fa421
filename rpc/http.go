package rpc

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dealvault/audit"
	"dealvault/core/state"
	"dealvault/native/deal"
	"dealvault/native/factory"
	"dealvault/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30

	// RPCTokenEnv names the environment variable carrying the bearer token
	// that gates every mutating method.
	RPCTokenEnv = "DEALVAULT_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeDealInvalidParams = -32030
	codeDealForbidden     = -32031
	codeDealNotFound      = -32032
	codeDealConflict      = -32033
	codeDealTransfer      = -32034

	codeFactoryInvalidParams = -32040
	codeFactoryForbidden     = -32041
	codeFactoryNotFound      = -32042
	codeFactoryConflict      = -32043
	codeFactoryTransfer      = -32044
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the deal engine, the factory and the audit journal over
// JSON-RPC 2.0.
type Server struct {
	deals   *deal.Engine
	factory *factory.Factory
	ledger  *state.Manager
	journal *audit.Store

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer wires the RPC surface. The bearer token is read from
// DEALVAULT_RPC_TOKEN; mutating methods reject every call until it is set.
func NewServer(deals *deal.Engine, f *factory.Factory, ledger *state.Manager, journal *audit.Store) *Server {
	return &Server{
		deals:        deals,
		factory:      f,
		ledger:       ledger,
		journal:      journal,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    strings.TrimSpace(os.Getenv(RPCTokenEnv)),
	}
}

// Handler returns the HTTP handler serving JSON-RPC at "/", Prometheus
// metrics at /metrics and a liveness probe at /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the RPC surface on the provided address.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse error", err.Error())
		return
	}
	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if mutating && !s.allowSource(clientSource(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	module := req.Method
	if idx := strings.IndexByte(module, '_'); idx > 0 {
		module = module[:idx]
	}
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, r, &req)
	outcome := "ok"
	if rec.status >= http.StatusBadRequest {
		outcome = "error"
		observability.Metrics().ObserveError(module, req.Method, fmt.Sprintf("%d", rec.status))
	}
	observability.Metrics().ObserveRequest(module, req.Method, outcome, started)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "deal_get":
		return s.handleDealGet, false
	case "deal_status":
		return s.handleDealStatus, false
	case "deal_feeBreakdown":
		return s.handleDealFees, false
	case "deal_documentURL":
		return s.handleDealDocumentURL, false
	case "deal_isParticipant":
		return s.handleDealIsParticipant, false
	case "deal_deposit":
		return s.handleDealDeposit, true
	case "deal_approve":
		return s.handleDealApprove, true
	case "deal_cancel":
		return s.handleDealCancel, true
	case "deal_refund":
		return s.handleDealRefund, true
	case "factory_deploy":
		return s.handleFactoryDeploy, true
	case "factory_setTemplate":
		return s.handleFactorySetTemplate, true
	case "factory_setFee":
		return s.handleFactorySetFee, true
	case "factory_withdraw":
		return s.handleFactoryWithdraw, true
	case "factory_addAdmin":
		return s.handleFactoryAddAdmin, true
	case "factory_removeAdmin":
		return s.handleFactoryRemoveAdmin, true
	case "factory_pause":
		return s.handleFactoryPause, true
	case "factory_markInactive":
		return s.handleFactoryMarkInactive, true
	case "factory_get":
		return s.handleFactoryGet, false
	case "factory_recent":
		return s.handleFactoryRecent, false
	case "factory_active":
		return s.handleFactoryActive, false
	case "factory_byCreator":
		return s.handleFactoryByCreator, false
	case "factory_byParticipant":
		return s.handleFactoryByParticipant, false
	case "factory_stats":
		return s.handleFactoryStats, false
	case "bank_getBalance":
		return s.handleBankGetBalance, false
	case "bank_mint":
		return s.handleBankMint, true
	case "events_list":
		return s.handleEventsList, false
	default:
		return nil, false
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if candidate := strings.TrimSpace(parts[0]); candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- shared parsing helpers ---

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return addr, fmt.Errorf("invalid address: %q", value)
	}
	copy(addr[:], ethcommon.HexToAddress(trimmed).Bytes())
	return addr, nil
}

func parseDealID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid deal id: %v", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("deal id must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func formatAddress(addr [20]byte) string {
	return ethcommon.BytesToAddress(addr[:]).Hex()
}

func formatDealID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
