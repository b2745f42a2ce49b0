// Package gateway provides the HTTP transport for the webhook collector:
// the webhook ingestion routes, the exposition endpoint, and the health
// and index pages. It translates engine results into HTTP statuses and
// structured JSON error bodies.
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Oorpe/prometheus-webhook-collector/config"
	"github.com/Oorpe/prometheus-webhook-collector/engine"
	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Version is the collector version reported on the index page.
const Version = "0.1.0"

// Server is the collector's HTTP server.
type Server struct {
	cfg        config.ServerConfig
	scrapeable bool
	engine     *engine.Engine
	logger     *slog.Logger
	limiter    *rate.Limiter

	mu     sync.Mutex // protects server field
	server *http.Server

	// Metrics (atomic operations)
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the HTTP server from configuration.
func NewServer(cfg config.ServerConfig, scrapeable bool, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		scrapeable: scrapeable,
		engine:     eng,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// Routes returns the server's HTTP mux. Exposed so extra surfaces (the
// debug dashboard) and tests can attach to it.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	basepath := strings.TrimSuffix(s.cfg.WebhookBasepath, "/")
	mux.HandleFunc(basepath+"/", s.handleWebhook)

	if s.scrapeable {
		mux.Handle("/metrics", s.engine.Registry().Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Start begins serving on the configured port. Blocks until the server
// stops; a clean shutdown returns nil.
func (s *Server) Start(mux *http.ServeMux) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start",
			"server already running")
	}
	if mux == nil {
		mux = s.Routes()
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "addr", server.Addr,
		"webhook_basepath", s.cfg.WebhookBasepath, "scrapeable", s.scrapeable)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on port %d", s.cfg.Port))
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
	}
	return nil
}

// handleWebhook routes POST/PUT to upsert and DELETE to removal for
// {basepath}/{event_title}.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.requestsTotal.Add(1)

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	if s.cfg.EnableCORS {
		s.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
		s.requestsFailed.Add(1)
		return
	}

	basepath := strings.TrimSuffix(s.cfg.WebhookBasepath, "/")
	eventName := strings.Trim(strings.TrimPrefix(r.URL.Path, basepath+"/"), "/")
	if eventName == "" || strings.Contains(eventName, "/") {
		s.writeError(w, http.StatusNotFound, "not_found", "no event name in path", nil)
		s.requestsFailed.Add(1)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handleDelete(w, r, eventName)
	case http.MethodPost, http.MethodPut:
		s.handleUpsert(w, r, eventName)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("method %s not allowed", r.Method), nil)
		s.requestsFailed.Add(1)
	}
}

// handleUpsert parses the event document and hands it to the engine.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, eventName string) {
	defer func() { _ = r.Body.Close() }()

	bodyReader := io.LimitReader(r.Body, s.cfg.MaxRequestSize+1)
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", nil)
		s.requestsFailed.Add(1)
		return
	}
	if int64(len(body)) > s.cfg.MaxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.cfg.MaxRequestSize), nil)
		s.requestsFailed.Add(1)
		return
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON", nil)
		s.requestsFailed.Add(1)
		return
	}

	cm, err := s.engine.ProcessEvent(eventName, doc)
	if err != nil {
		s.writeEngineError(w, eventName, err)
		s.requestsFailed.Add(1)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric": cm.Key,
		"kind":   cm.Kind,
		"value":  cm.Value,
	})
	s.requestsSuccess.Add(1)
}

// handleDelete removes the metric, answering 202 when it existed and 404
// otherwise.
func (s *Server) handleDelete(w http.ResponseWriter, _ *http.Request, eventName string) {
	existed, err := s.engine.Delete(eventName)
	if err != nil && !existed {
		s.writeError(w, http.StatusNotFound, "key_not_found", "not found", nil)
		s.requestsFailed.Add(1)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"removed_metric": eventName,
	})
	s.requestsSuccess.Add(1)
}

// handleIndex reports the collector's configuration surface.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not_found", "not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":           "prometheus-webhook-collector",
		"version":           Version,
		"webhook_basepath":  s.cfg.WebhookBasepath,
		"configured_events": s.configuredEvents(),
		"metrics_cached":    s.engine.Size(),
	})
}

// configuredEvents renders the configured patterns the way the original
// reported them: basepath plus the delimited pattern.
func (s *Server) configuredEvents() []string {
	patterns := s.engine.Patterns()
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, fmt.Sprintf("%s/ + /%s/", s.cfg.WebhookBasepath, p))
	}
	return out
}

// writeEngineError maps a typed engine error to an HTTP status and a
// structured body naming the error kind and relevant context.
func (s *Server) writeEngineError(w http.ResponseWriter, eventName string, err error) {
	switch {
	case errors.Is(err, errors.ErrRuleNotFound):
		s.writeError(w, http.StatusNotFound, "rule_not_found", "not found", map[string]interface{}{
			"event":             eventName,
			"webhook_basepath":  s.cfg.WebhookBasepath,
			"configured_events": s.configuredEvents(),
		})
	case errors.Is(err, errors.ErrMetricConflict):
		s.writeError(w, http.StatusConflict, "label_set_conflict", err.Error(), nil)
	case errors.Is(err, errors.ErrValueNotNumeric):
		s.writeError(w, http.StatusBadRequest, "value_parse", err.Error(), nil)
	case errors.Is(err, errors.ErrUnsupportedKind):
		s.writeError(w, http.StatusBadRequest, "unsupported_kind", err.Error(), nil)
	case errors.Is(err, errors.ErrNegativeIncrement):
		s.writeError(w, http.StatusBadRequest, "invalid_increment", err.Error(), nil)
	case errors.Is(err, errors.ErrSchemaViolation):
		s.writeError(w, http.StatusBadRequest, "schema_violation", err.Error(), nil)
	case errors.IsInvalid(err):
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.IsTransient(err):
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable", nil)
	default:
		s.logger.Error("webhook processing failed", "event", eventName, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
	}
}

// applyCORS applies CORS headers to the response.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range s.cfg.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// writeError writes a structured JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, kind, message string, context map[string]interface{}) {
	body := map[string]interface{}{
		"error":  message,
		"kind":   kind,
		"status": statusCode,
	}
	for k, v := range context {
		body[k] = v
	}
	s.writeJSON(w, statusCode, body)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}
