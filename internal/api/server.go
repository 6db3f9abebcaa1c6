// Package api exposes the analyzer and route store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/analysis"
	"github.com/nexus-trading/routeintel/internal/audit"
	"github.com/nexus-trading/routeintel/internal/observability"
	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/storage"
)

// Analyzer is the analysis surface the API drives.
type Analyzer interface {
	Analyze(ctx context.Context, wallet string, opts analysis.Options) (*analysis.Result, error)
	AnalyzeBatch(ctx context.Context, wallets []string, opts analysis.Options) map[string]*analysis.Result
}

// AuditLog answers decision-trail queries for one route.
type AuditLog interface {
	Query(routeID string) []audit.Entry
}

// Config configures the handlers.
type Config struct {
	MaxBatch  int // wallets per batch request (default 100)
	ListLimit int // routes per wallet listing (default 100)
}

// Server holds the HTTP handlers.
type Server struct {
	analyzer Analyzer
	store    storage.RouteStore
	health   *observability.HealthMonitor
	metrics  http.Handler
	audit    AuditLog
	config   Config
}

// NewServer wires the handlers. health and metrics may be nil.
func NewServer(cfg Config, analyzer Analyzer, store storage.RouteStore, health *observability.HealthMonitor, metrics http.Handler) *Server {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	return &Server{
		analyzer: analyzer,
		store:    store,
		health:   health,
		metrics:  metrics,
		config:   cfg,
	}
}

// WithAudit enables GET /api/routes/{id}/audit.
func (s *Server) WithAudit(trail AuditLog) *Server {
	s.audit = trail
	return s
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/routes/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/routes/batch", s.handleBatch)
	mux.HandleFunc("GET /api/routes/{id}", s.handleGetRoute)
	if s.audit != nil {
		mux.HandleFunc("GET /api/routes/{id}/audit", s.handleAudit)
	}
	mux.HandleFunc("GET /api/wallets/{wallet}/routes", s.handleListWallet)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return withRequestLog(mux)
}

// ---------------------------------------------------------------------------
// Requests and responses
// ---------------------------------------------------------------------------

type analyzeRequest struct {
	Wallet       string `json:"wallet"`
	WindowStart  int64  `json:"window_start"`
	WindowEnd    int64  `json:"window_end"`
	ForceRebuild bool   `json:"force_rebuild"`
	SkipAlerts   bool   `json:"skip_alerts"`
}

func (r analyzeRequest) options() analysis.Options {
	return analysis.Options{
		Window:       route.Window{Start: r.WindowStart, End: r.WindowEnd},
		ForceRebuild: r.ForceRebuild,
		SkipAlerts:   r.SkipAlerts,
	}
}

type batchRequest struct {
	Wallets      []string `json:"wallets"`
	WindowStart  int64    `json:"window_start"`
	WindowEnd    int64    `json:"window_end"`
	ForceRebuild bool     `json:"force_rebuild"`
	SkipAlerts   bool     `json:"skip_alerts"`
}

type batchResponse struct {
	Results   map[string]*analysis.Result `json:"results"`
	Succeeded int                         `json:"succeeded"`
	Empty     int                         `json:"empty"` // failed or no data
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), req.Wallet, req.options())
	switch {
	case isInvalid(err):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case err != nil:
		writeError(w, statusFor(r.Context(), err), "analysis_failed", err)
	case res == nil:
		writeError(w, http.StatusNotFound, "no_data", errors.New("no segments in window"))
	default:
		status := http.StatusOK
		if res.IsNew {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Wallets) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("wallets is required"))
		return
	}
	if len(req.Wallets) > s.config.MaxBatch {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("batch of %d exceeds limit %d", len(req.Wallets), s.config.MaxBatch))
		return
	}
	opts := analyzeRequest{
		WindowStart:  req.WindowStart,
		WindowEnd:    req.WindowEnd,
		ForceRebuild: req.ForceRebuild,
		SkipAlerts:   req.SkipAlerts,
	}.options()
	if err := opts.Window.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	results := s.analyzer.AnalyzeBatch(r.Context(), req.Wallets, opts)
	resp := batchResponse{Results: results}
	for _, res := range results {
		if res != nil {
			resp.Succeeded++
		} else {
			resp.Empty++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	rt, err := s.store.FindByRouteID(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "store_error", err)
	default:
		writeJSON(w, http.StatusOK, rt)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	entries := s.audit.Query(id)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"route_id": id, "entries": entries})
}

func (s *Server) handleListWallet(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.PathValue("wallet"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}

	routes, err := s.store.ListByWallet(r.Context(), wallet, storage.ClampLimit(limit, s.config.ListLimit))
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "store_error", err)
	default:
		if routes == nil {
			routes = []*route.EnrichedRoute{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "routes": routes})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": observability.StatusHealthy})
		return
	}
	h := s.health.Check(r.Context())
	status := http.StatusOK
	if h.Status == observability.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return false
	}
	return true
}

func isInvalid(err error) bool {
	return errors.Is(err, analysis.ErrInvalidWallet) || errors.Is(err, route.ErrInvalidWindow)
}

// statusFor maps an analysis failure: cancelled requests get 503, upstream
// and store failures 502.
func statusFor(ctx context.Context, err error) int {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("api: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog tags each request with an id, recovers handler panics and
// logs method, path, status and latency.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("request_id", reqID).Str("panic", fmt.Sprint(p)).Msg("api: handler panic")
				writeError(rec, http.StatusInternalServerError, "internal", errors.New("internal error"))
			}
			log.Debug().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("api: request")
		}()

		next.ServeHTTP(rec, r)
	})
}
