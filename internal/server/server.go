package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yapay-ai/usage-sentinel/internal/metrics"
	"github.com/yapay-ai/usage-sentinel/pkg/engine"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

// Server exposes the alert engine over HTTP.
type Server struct {
	engine      *engine.Engine
	mux         *http.ServeMux
	promHandler http.Handler
	metrics     *metrics.ServerMetrics
	logger      *slog.Logger
}

// NewServer creates an API server. promHandler serves GET /metrics and may
// be nil, as may m.
func NewServer(eng *engine.Engine, promHandler http.Handler, m *metrics.ServerMetrics, logger *slog.Logger) *Server {
	s := &Server{
		engine:      eng,
		mux:         http.NewServeMux(),
		promHandler: promHandler,
		metrics:     m,
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.promHandler != nil {
		s.mux.Handle("GET /metrics", s.promHandler)
	}
	s.mux.HandleFunc("POST /api/v1/samples", s.handleIngest)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.handleAcknowledge)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/redispatch", s.handleRedispatch)
	s.mux.HandleFunc("GET /api/v1/thresholds", s.handleListThresholds)
	s.mux.HandleFunc("POST /api/v1/thresholds", s.handleSetThreshold)
	s.mux.HandleFunc("DELETE /api/v1/thresholds/{id}", s.handleRemoveThreshold)
	s.mux.HandleFunc("POST /api/v1/suppressions", s.handleSuppress)
	s.mux.HandleFunc("DELETE /api/v1/suppressions/{key}", s.handleClearSuppression)
	s.mux.HandleFunc("GET /api/v1/channels", s.handleListChannels)
	s.mux.HandleFunc("POST /api/v1/channels/{name}/test", s.handleTestChannel)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	if s.metrics == nil {
		return s.mux
	}
	return s.instrument(s.mux)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sampleRequest struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type ingestRequest struct {
	sampleRequest
	Samples []sampleRequest `json:"samples"`
}

func (r ingestRequest) samples() []model.Sample {
	reqs := r.Samples
	if len(reqs) == 0 {
		reqs = []sampleRequest{r.sampleRequest}
	}
	samples := make([]model.Sample, len(reqs))
	for i, req := range reqs {
		samples[i] = model.Sample{Metric: req.Metric, Value: req.Value, Timestamp: req.Timestamp}
	}
	return samples
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("decode request: %v", err)})
		return
	}

	samples := req.samples()
	if err := s.engine.IngestBatch(r.Context(), samples); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(samples)})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.HistoryFilter{
		Severity:     model.Severity(q.Get("severity")),
		MetricPrefix: q.Get("metric_prefix"),
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid severity %q", filter.Severity)})
		return
	}

	for param, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := q.Get(param); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid %s: %v", param, err)})
				return
			}
			*dst = ts
		}
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid limit: %v", err)})
			return
		}
		limit = parsed
	}

	records, err := s.engine.Query(r.Context(), filter, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []model.HistoryRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Acknowledge(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resolve(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Redispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Thresholds())
}

type thresholdRequest struct {
	Metric         string  `json:"metric"`
	Scope          string  `json:"scope"`
	ComparisonMode string  `json:"comparison_mode"`
	WarningValue   float64 `json:"warning_value"`
	CriticalValue  float64 `json:"critical_value"`
	PeriodBudget   float64 `json:"period_budget"`
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("decode request: %v", err)})
		return
	}

	mode := model.ComparisonMode(req.ComparisonMode)
	if mode == "" {
		mode = model.CompareAbsolute
	}

	th, err := s.engine.ConfigureThreshold(req.Metric, model.Scope(req.Scope), mode, req.WarningValue, req.CriticalValue, req.PeriodBudget)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, th)
}

func (s *Server) handleRemoveThreshold(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.RemoveThreshold(id) {
		s.writeError(w, fmt.Errorf("threshold %q: %w", id, model.ErrNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type suppressRequest struct {
	AlertKey        string `json:"alert_key"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("decode request: %v", err)})
		return
	}

	if err := s.engine.Suppress(req.AlertKey, time.Duration(req.DurationSeconds)*time.Second); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "suppressed"})
}

func (s *Server) handleClearSuppression(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearSuppression(r.PathValue("key"))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Channels())
}

func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	healthy, err := s.engine.TestChannel(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channel": name, "healthy": healthy})
}
