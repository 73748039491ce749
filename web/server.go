// Package web serves the JSON API: dashboard reads, spreadsheet imports and
// the import audit trail. Identity is the actor string sent by the caller.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"metricboard/config"
	"metricboard/dashboard"
	"metricboard/importer"
	"metricboard/internal/telemetry"
	"metricboard/internal/timeutil"
	"metricboard/metric"
	"metricboard/storage"
)

const (
	defaultBatchLimit = 50
	defaultActor      = "api"
)

type Server struct {
	store     *storage.SQLiteStore
	cfg       config.Config
	importer  *importer.Service
	dashboard *dashboard.Service
	logger    *zap.Logger

	gatherer      prometheus.Gatherer
	importMetrics *telemetry.ImportMetrics
	httpMetrics   *telemetry.HTTPMetrics

	handler http.Handler
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires Prometheus collectors and the gatherer served on /metrics.
func WithMetrics(gatherer prometheus.Gatherer, imports *telemetry.ImportMetrics, requests *telemetry.HTTPMetrics) Option {
	return func(s *Server) {
		s.gatherer = gatherer
		s.importMetrics = imports
		s.httpMetrics = requests
	}
}

func NewServer(store *storage.SQLiteStore, cfg config.Config, opts ...Option) *Server {
	server := &Server{
		store:    store,
		cfg:      cfg,
		logger:   zap.NewNop(),
		gatherer: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.importer = importer.NewService(store,
		importer.WithLogger(server.logger.Named("import")),
		importer.WithMetrics(server.importMetrics),
	)
	server.dashboard = dashboard.NewService(store,
		dashboard.WithLogger(server.logger.Named("dashboard")),
		dashboard.WithDefaultDays(cfg.Dashboard.DefaultDays),
		dashboard.WithFormsURL(cfg.Dashboard.FormsURL),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/metric-types", server.handleAPIMetricTypes)
	mux.HandleFunc("GET /api/dashboard/{subject}", server.handleAPIDashboard)
	mux.HandleFunc("POST /api/import", server.handleAPIImport)
	mux.HandleFunc("GET /api/batches", server.handleAPIBatches)
	mux.HandleFunc("GET /api/batches/{id}", server.handleAPIBatch)
	mux.HandleFunc("DELETE /api/batches/{id}", server.handleAPIBatchDelete)
	server.handler = server.withRequestLogging(mux)

	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type metricTypeResponse struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Code       string            `json:"code"`
	Unit       string            `json:"unit"`
	Target     *float64          `json:"target"`
	BetterWhen metric.BetterWhen `json:"better_when"`
	IsTime     bool              `json:"is_time"`
	Group      metric.Group      `json:"group"`
}

func (s *Server) handleAPIMetricTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListMetricTypes(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]metricTypeResponse, 0, len(types))
	for _, t := range types {
		out = append(out, metricTypeResponse{
			ID:         t.ID,
			Name:       t.Name,
			Code:       t.Code,
			Unit:       t.Unit,
			Target:     t.Target,
			BetterWhen: t.BetterWhen,
			IsTime:     metric.IsTimeMetric(t),
			Group:      metric.GroupOf(t),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIDashboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	view, err := s.dashboard.Build(r.Context(), r.PathValue("subject"),
		parseOptionalDate(query.Get("start")),
		parseOptionalDate(query.Get("end")),
	)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type batchResponse struct {
	ID               int64              `json:"id"`
	Ref              string             `json:"ref"`
	Actor            string             `json:"actor"`
	MetricTypeID     int64              `json:"metric_type_id"`
	OriginalFilename string             `json:"original_filename"`
	Status           metric.BatchStatus `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	Report           metric.Report      `json:"report"`
}

func newBatchResponse(batch metric.Batch) batchResponse {
	return batchResponse{
		ID:               batch.ID,
		Ref:              batch.Ref,
		Actor:            batch.Actor,
		MetricTypeID:     batch.TypeID,
		OriginalFilename: batch.OriginalFilename,
		Status:           batch.Status,
		CreatedAt:        batch.CreatedAt,
		Report:           batch.Report,
	}
}

func (s *Server) handleAPIBatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	batches, err := s.store.ListBatches(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, batch := range batches {
		out = append(out, newBatchResponse(batch))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIBatch(w http.ResponseWriter, r *http.Request) {
	id, err := parsePositiveInt64(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return
	}
	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, storageErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch))
}

func (s *Server) handleAPIBatchDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parsePositiveInt64(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteBatch(r.Context(), id); err != nil {
		s.writeError(w, r, storageErrorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storageErrorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInUse), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseOptionalDate returns nil for empty or malformed values; the dashboard
// then falls back to its default range.
func parseOptionalDate(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := timeutil.ParseDate(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func parsePositiveInt64(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return parsed, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
