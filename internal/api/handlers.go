package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/registry"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

const statusCacheKey = "sentinel:status"

// StatusReader produces the scheduler summary.
type StatusReader interface {
	Status(ctx context.Context) (models.Status, error)
}

// SourceManager is the registry surface exposed over HTTP.
type SourceManager interface {
	Register(ctx context.Context, src models.Source) (models.Source, error)
	Get(ctx context.Context, id string) (models.Source, error)
	List(ctx context.Context) ([]models.Source, error)
	Enable(ctx context.Context, id string) (models.Source, error)
	Disable(ctx context.Context, id string) (models.Source, error)
	TriggerNow(ctx context.Context, id string) (models.Source, error)
}

// HistoryReader serves stored probe results and pattern snapshots.
type HistoryReader interface {
	RecentResults(ctx context.Context, sourceID string, limit int) ([]models.ProbeResult, error)
	PatternHistory(ctx context.Context, sourceID string, limit int) ([]models.PatternSnapshot, error)
}

// HandlerOptions tunes caching and throttling.
type HandlerOptions struct {
	StatusTTL       time.Duration
	TriggerCooldown time.Duration
}

// Handler serves the REST API.
type Handler struct {
	status  StatusReader
	sources SourceManager
	history HistoryReader
	cache   cache.Provider
	events  http.Handler
	opts    HandlerOptions
	logger  *slog.Logger
}

// NewHandler wires the HTTP handlers. cacheProvider may be nil; events may be nil
// when no websocket stream is offered.
func NewHandler(logger *slog.Logger, status StatusReader, sources SourceManager, history HistoryReader, cacheProvider cache.Provider, events http.Handler, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Handler{
		status:  status,
		sources: sources,
		history: history,
		cache:   cacheProvider,
		events:  events,
		opts:    opts,
		logger:  logger,
	}
}

// Router builds the chi router for the API.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/sources", h.ListSources)
		r.Post("/sources", h.RegisterSource)
		r.Route("/sources/{id}", func(r chi.Router) {
			r.Get("/", h.GetSource)
			r.Post("/enable", h.EnableSource)
			r.Post("/disable", h.DisableSource)
			r.Post("/trigger", h.TriggerSource)
			r.Get("/results", h.ListResults)
			r.Get("/patterns", h.ListPatterns)
		})
	})

	if h.events != nil {
		r.Get("/ws", h.events.ServeHTTP)
	}
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// GetStatus serves the scheduler summary, cached for StatusTTL.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cached, err := h.cache.Get(ctx, statusCacheKey); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	status, err := h.status.Status(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := json.Marshal(status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.opts.StatusTTL > 0 {
		if err := h.cache.Set(ctx, statusCacheKey, body, h.opts.StatusTTL); err != nil {
			h.logger.Warn("status cache write failed", slog.Any("error", err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

// sourceRequest is the registration payload; enabled defaults to true.
type sourceRequest struct {
	ID              string         `json:"source_id"`
	Type            string         `json:"source_type"`
	Name            string         `json:"name"`
	Frequency       string         `json:"frequency"`
	Enabled         *bool          `json:"enabled"`
	FreshnessWeight float64        `json:"data_freshness_weight"`
	QueryParameters map[string]any `json:"query_parameters"`
	AlertThresholds map[string]any `json:"alert_thresholds"`
}

func (req sourceRequest) toSource() models.Source {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return models.Source{
		ID:              req.ID,
		Type:            models.SourceType(req.Type),
		Name:            req.Name,
		Frequency:       models.FrequencyTier(req.Frequency),
		Enabled:         enabled,
		QueryParameters: req.QueryParameters,
		AlertThresholds: req.AlertThresholds,
		SourceState:     models.SourceState{DataFreshnessWeight: req.FreshnessWeight},
	}
}

func (h *Handler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	src, err := h.sources.Register(r.Context(), req.toSource())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidateStatus(r.Context())
	writeJSON(w, http.StatusCreated, src)
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.sources.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *Handler) EnableSource(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.sources.Enable)
}

func (h *Handler) DisableSource(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.sources.Disable)
}

// TriggerSource schedules an immediate check, at most once per TriggerCooldown per source.
func (h *Handler) TriggerSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.opts.TriggerCooldown > 0 {
		ok, err := h.cache.SetNX(r.Context(), "sentinel:trigger:"+id, []byte("1"), h.opts.TriggerCooldown)
		if err != nil {
			h.logger.Warn("trigger throttle unavailable", slog.Any("error", err))
		} else if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "check already triggered for " + id})
			return
		}
	}
	h.mutate(w, r, h.sources.TriggerNow)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (models.Source, error)) {
	src, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidateStatus(r.Context())
	writeJSON(w, http.StatusOK, src)
}

func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sources.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	results, err := h.history.RecentResults(r.Context(), id, queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []models.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sources.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	patterns, err := h.history.PatternHistory(r.Context(), id, queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if patterns == nil {
		patterns = []models.PatternSnapshot{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (h *Handler) invalidateStatus(ctx context.Context) {
	if err := h.cache.Del(ctx, statusCacheKey); err != nil {
		h.logger.Warn("status cache invalidation failed", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidSource):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
