package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"factorchain/core"
	"factorchain/crypto"
	"factorchain/observability"
	"factorchain/rpc/api"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	defaultNonceTTL        = 10 * time.Minute
	deadlineSkew           = 2 * time.Minute
)

// Config tunes the RPC surface.
type Config struct {
	JWTSecret       string
	JWTIssuer       string
	RateLimit       float64
	RateBurst       int
	NonceTTL        time.Duration
	MaxRequestBytes int64
	TrustedProxies  []string
	NonceStore      NonceStore
	Logger          *slog.Logger
}

// Server exposes the ledger over JSON-RPC 2.0.
type Server struct {
	node            *core.Node
	auth            *Authenticator
	limiter         *RateLimiter
	nonces          NonceStore
	nonceTTL        time.Duration
	maxRequestBytes int64
	trustedProxies  map[string]struct{}
	logger          *slog.Logger
	now             func() time.Time
	reads           map[string]readHandler
	writes          map[string]writeHandler
}

type (
	readHandler  func(w http.ResponseWriter, req *RPCRequest)
	writeHandler func(w http.ResponseWriter, req *RPCRequest, call *signedCall)
)

// NewServer builds a server over node.
func NewServer(node *core.Node, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nonces := cfg.NonceStore
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}
	ttl := cfg.NonceTTL
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	maxBytes := cfg.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBytes
	}
	proxies := make(map[string]struct{}, len(cfg.TrustedProxies))
	for _, proxy := range cfg.TrustedProxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			proxies[trimmed] = struct{}{}
		}
	}
	s := &Server{
		node:            node,
		auth:            NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter:         NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		nonces:          nonces,
		nonceTTL:        ttl,
		maxRequestBytes: maxBytes,
		trustedProxies:  proxies,
		logger:          logger,
		now:             time.Now,
	}
	s.registerHandlers()
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/", s.handle)
		r.Get("/ws/events", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "factoring-rpc")
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string, readHeaderTimeout time.Duration) error {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
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
	Error   *api.Error  `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &api.Error{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder captures the status written by a handler for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// handle decodes one JSON-RPC request and routes it to its method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = recorder
	reader := http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxRequestBytes)
		}
		writeError(w, status, nil, api.CodeInvalidRequest, message, nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, api.CodeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, api.CodeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidRequest, "method required", nil)
		return
	}
	defer func() {
		module := req.Method
		if idx := strings.IndexByte(module, '_'); idx > 0 {
			module = module[:idx]
		}
		observability.ModuleMetrics().Observe(module, req.Method, recorder.status, time.Since(start))
	}()

	if handler, ok := s.reads[req.Method]; ok {
		handler(w, req)
		return
	}
	if handler, ok := s.writes[req.Method]; ok {
		if err := s.auth.Authorize(r.Header.Get("Authorization"), WriteScope); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, api.CodeUnauthorized, err.Error(), nil)
			return
		}
		call, ok := s.openEnvelope(r.Context(), w, req)
		if !ok {
			return
		}
		handler(w, req, call)
		return
	}
	writeError(w, http.StatusNotFound, req.ID, api.CodeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
}

// signedCall is a verified envelope ready for dispatch.
type signedCall struct {
	caller crypto.Address
	value  *big.Int
	args   json.RawMessage
}

// openEnvelope verifies the single envelope parameter: expiry first, then
// signature, then replay, then the attached value.
func (s *Server) openEnvelope(ctx context.Context, w http.ResponseWriter, req *RPCRequest) (*signedCall, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "exactly one envelope parameter required", nil)
		return nil, false
	}
	var env api.Envelope
	if err := json.Unmarshal(req.Params[0], &env); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid envelope", err.Error())
		return nil, false
	}
	now := s.now()
	expiry := time.Unix(env.ExpiresAt, 0)
	if env.ExpiresAt <= 0 || !expiry.After(now.Add(-deadlineSkew)) {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "envelope expired", nil)
		return nil, false
	}
	if expiry.After(now.Add(s.nonceTTL + deadlineSkew)) {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "envelope expiry too far in the future", nil)
		return nil, false
	}
	caller, err := env.Verify(req.Method)
	if err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, api.CodeUnauthorized, "invalid envelope signature", err.Error())
		return nil, false
	}
	fresh, err := s.nonces.Remember(ctx, api.FormatAddress(caller), env.Nonce, expiry.Add(deadlineSkew))
	if err != nil {
		s.logger.Error("nonce store failure", slog.String("method", req.Method), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, req.ID, api.CodeServerError, "nonce store unavailable", nil)
		return nil, false
	}
	if !fresh {
		writeError(w, http.StatusConflict, req.ID, api.CodeReplay, "envelope nonce already used", env.Nonce)
		return nil, false
	}
	value, err := env.ParsedValue()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid value", err.Error())
		return nil, false
	}
	return &signedCall{caller: caller, value: value, args: env.Args}, true
}

func decodeParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return errors.New("parameter object required")
	}
	return decodeArgs(req.Params[0], out)
}

func decodeArgs(raw json.RawMessage, out interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("arguments required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// parseAddressParam accepts any well-formed hex address, including zero, so
// that the ledger rather than the transport classifies unset addresses.
func parseAddressParam(raw, field string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return crypto.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return ethcommon.HexToAddress(trimmed), nil
}
