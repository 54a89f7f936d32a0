package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/roster/roster/internal/cache"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/query"
	"github.com/roster/roster/internal/serializer"
)

// Service is the business layer behind a ResourceHandler. T is the model and
// P its partial-update body.
type Service[T query.Positioned, P any] interface {
	List(ctx context.Context, p *query.Params) (query.Result[T], error)
	Get(ctx context.Context, id int64) (*T, error)
	Create(ctx context.Context, patch P) (*T, error)
	Update(ctx context.Context, id int64, patch P, partial bool) (*T, error)
	Delete(ctx context.Context, id int64) error
}

// DetailCache stores encoded retrieve responses. On a miss GetDetail returns
// the invalidation generation; SetDetail drops the write if the entry was
// invalidated after that generation was read.
type DetailCache interface {
	GetDetail(ctx context.Context, resource string, id int64) ([]byte, int64, error)
	SetDetail(ctx context.Context, resource string, id, gen int64, body []byte, ttl time.Duration) error
}

// ResourceConfig configures a ResourceHandler.
type ResourceConfig struct {
	// Resource is the model name used for cache keys, metrics and logs.
	Resource   string
	Fields     query.FieldSet
	Pagination query.Pagination
	// NotFound is the service error meaning the id does not exist.
	NotFound error
	BaseURL  string

	// Cache is optional; retrieve is uncached without it.
	Cache    DetailCache
	CacheTTL time.Duration

	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// ResourceHandler implements ViewSet over a Service.
type ResourceHandler[T query.Positioned, P any] struct {
	svc     Service[T, P]
	cfg     ResourceConfig
	logger  *slog.Logger
	metrics metrics.Recorder
	detail  func(*T) any
}

// NewResourceHandler creates a ResourceHandler.
func NewResourceHandler[T query.Positioned, P any](svc Service[T, P], cfg ResourceConfig) *ResourceHandler[T, P] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return &ResourceHandler[T, P]{
		svc:     svc,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "handler", "resource", cfg.Resource),
		metrics: cfg.Metrics,
		detail:  func(v *T) any { return v },
	}
}

// WithDetail sets the representation used by Retrieve.
func (h *ResourceHandler[T, P]) WithDetail(fn func(*T) any) *ResourceHandler[T, P] {
	h.detail = fn
	return h
}

// List handles GET on the collection.
func (h *ResourceHandler[T, P]) List(w http.ResponseWriter, r *http.Request) {
	p, err := query.Parse(r.URL.Query(), h.cfg.Fields, h.cfg.Pagination)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	res, err := h.svc.List(r.Context(), p)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res.Envelope(absoluteURL(r, h.cfg.BaseURL)))
}

// Create handles POST on the collection.
func (h *ResourceHandler[T, P]) Create(w http.ResponseWriter, r *http.Request) {
	var patch P
	if err := serializer.Decode(r, &patch); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	v, err := h.svc.Create(r.Context(), patch)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Retrieve handles GET on an item, served from the detail cache when warm.
func (h *ResourceHandler[T, P]) Retrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
		return
	}
	ctx := r.Context()

	var gen int64
	if h.cfg.Cache != nil {
		body, g, err := h.cfg.Cache.GetDetail(ctx, h.cfg.Resource, id)
		if err == nil {
			h.metrics.IncDetailCacheHit(h.cfg.Resource)
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, body)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("detail cache read failed", "id", id, "error", err)
		}
		h.metrics.IncDetailCacheMiss(h.cfg.Resource)
		w.Header().Set("X-Cache", "MISS")
		gen = g
	}

	v, err := h.svc.Get(ctx, id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	body, err := json.Marshal(h.detail(v))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	body = append(body, '\n')

	if h.cfg.Cache != nil {
		if err := h.cfg.Cache.SetDetail(ctx, h.cfg.Resource, id, gen, body, h.cfg.CacheTTL); err != nil {
			h.logger.Warn("detail cache write failed", "id", id, "error", err)
		}
	}
	writeRaw(w, http.StatusOK, body)
}

// Update handles PUT on an item; every field is required.
func (h *ResourceHandler[T, P]) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// PartialUpdate handles PATCH on an item.
func (h *ResourceHandler[T, P]) PartialUpdate(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *ResourceHandler[T, P]) update(w http.ResponseWriter, r *http.Request, partial bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
		return
	}

	var patch P
	if err := serializer.Decode(r, &patch); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	v, err := h.svc.Update(r.Context(), id, patch, partial)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Destroy handles DELETE on an item.
func (h *ResourceHandler[T, P]) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleServiceError maps service and query errors to HTTP responses.
func (h *ResourceHandler[T, P]) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *serializer.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ve.Fields)
	case errors.Is(err, serializer.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
	case errors.Is(err, serializer.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
	case errors.Is(err, serializer.ErrInvalidJSON):
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
	case h.cfg.NotFound != nil && errors.Is(err, h.cfg.NotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found.")
	case errors.Is(err, query.ErrInvalidPage):
		writeError(w, http.StatusNotFound, "INVALID_PAGE", "Invalid page.")
	case errors.Is(err, query.ErrInvalidCursor):
		writeError(w, http.StatusNotFound, "INVALID_CURSOR", "Invalid cursor.")
	case errors.Is(err, query.ErrInvalidOrdering):
		writeError(w, http.StatusBadRequest, "INVALID_ORDERING", err.Error())
	case errors.Is(err, query.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
