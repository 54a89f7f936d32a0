package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/serializer"
	"github.com/roster/roster/internal/webhook"
)

// WebhookStore persists webhook endpoints and their deliveries.
type WebhookStore interface {
	CreateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	ListEndpointsByUser(ctx context.Context, userID string) ([]*model.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error
	UpdateEndpointSecret(ctx context.Context, id, secret string) error
	DeleteEndpoint(ctx context.Context, id string) error
	GetDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error)
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []string, limit, offset int) ([]*model.WebhookDelivery, int, error)
	ResetDeliveryForRetry(ctx context.Context, id string) error
}

const (
	defaultDeliveryLimit = 20
	maxDeliveryLimit     = 100
)

// WebhookHandler handles webhook management endpoints.
type WebhookHandler struct {
	store       WebhookStore
	validateURL func(ctx context.Context, targetURL string) error
	logger      *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(store WebhookStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:       store,
		validateURL: webhook.ValidateTargetURL,
		logger:      logger.With("component", "webhooks"),
	}
}

// Routes mounts the endpoint and delivery routes.
func (h *WebhookHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/rotate-secret", h.RotateSecret)
		r.Get("/deliveries", h.ListDeliveries)
		r.Post("/deliveries/{delivery_id}/retry", h.RetryDelivery)
	})
}

// Create handles POST /api/webhooks/
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthorized(w)
		return
	}

	var req model.WebhookEndpointCreateRequest
	if err := serializer.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	serializer.Normalize(&req)

	fe := serializer.FieldErrors{}
	if req.TargetURL == "" {
		fe.Add("target_url", serializer.MsgRequired)
	} else if err := h.validateURL(ctx, req.TargetURL); err != nil {
		fe.Add("target_url", err.Error())
	}
	eventTypes := req.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = model.ValidEventTypes
	}
	checkEventTypes(fe, eventTypes)
	if len(fe) > 0 {
		writeJSON(w, http.StatusBadRequest, fe)
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		h.internalError(w, "failed to generate webhook secret", err)
		return
	}

	now := time.Now().UTC()
	endpoint := &model.WebhookEndpoint{
		ID:          ulid.Make().String(),
		UserID:      userID,
		TargetURL:   req.TargetURL,
		Secret:      secret,
		Enabled:     true,
		EventTypes:  eventTypes,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateEndpoint(ctx, endpoint); err != nil {
		h.internalError(w, "failed to create webhook endpoint", err)
		return
	}

	h.logger.Info("webhook endpoint created",
		slog.String("endpoint_id", endpoint.ID),
		slog.String("target_host", webhook.ExtractHost(endpoint.TargetURL)),
		slog.String("user_id", userID),
	)

	writeJSON(w, http.StatusCreated, model.WebhookEndpointCreateResponse{
		WebhookEndpointResponse: endpoint.ToResponse(),
		Secret:                  secret,
	})
}

// List handles GET /api/webhooks/
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthorized(w)
		return
	}

	endpoints, err := h.store.ListEndpointsByUser(ctx, userID)
	if err != nil {
		h.internalError(w, "failed to list webhook endpoints", err)
		return
	}

	resp := make([]model.WebhookEndpointResponse, len(endpoints))
	for i, e := range endpoints {
		resp[i] = e.ToResponse()
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": resp})
}

// Get handles GET /api/webhooks/{id}
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, endpoint.ToResponse())
}

// Update handles PATCH /api/webhooks/{id}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	var req model.WebhookEndpointUpdateRequest
	if err := serializer.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	serializer.Normalize(&req)

	fe := serializer.FieldErrors{}
	if req.TargetURL != nil {
		if err := h.validateURL(ctx, *req.TargetURL); err != nil {
			fe.Add("target_url", err.Error())
		}
		endpoint.TargetURL = *req.TargetURL
	}
	if req.EventTypes != nil {
		if len(*req.EventTypes) == 0 {
			fe.Add("event_types", "This list may not be empty.")
		}
		checkEventTypes(fe, *req.EventTypes)
		endpoint.EventTypes = *req.EventTypes
	}
	if len(fe) > 0 {
		writeJSON(w, http.StatusBadRequest, fe)
		return
	}

	if req.Name != nil {
		endpoint.Name = *req.Name
	}
	if req.Description != nil {
		endpoint.Description = *req.Description
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}
	endpoint.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateEndpoint(ctx, endpoint); err != nil {
		if errors.Is(err, webhook.ErrEndpointNotFound) {
			writeWebhookNotFound(w)
			return
		}
		h.internalError(w, "failed to update webhook endpoint", err)
		return
	}

	h.logger.Info("webhook endpoint updated", slog.String("endpoint_id", endpoint.ID))
	writeJSON(w, http.StatusOK, endpoint.ToResponse())
}

// Delete handles DELETE /api/webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), endpoint.ID); err != nil {
		if errors.Is(err, webhook.ErrEndpointNotFound) {
			writeWebhookNotFound(w)
			return
		}
		h.internalError(w, "failed to delete webhook endpoint", err)
		return
	}

	h.logger.Info("webhook endpoint deleted", slog.String("endpoint_id", endpoint.ID))
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/webhooks/{id}/rotate-secret. The new
// secret is returned once; deliveries already queued are signed with it.
func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		h.internalError(w, "failed to generate webhook secret", err)
		return
	}
	if err := h.store.UpdateEndpointSecret(r.Context(), endpoint.ID, secret); err != nil {
		if errors.Is(err, webhook.ErrEndpointNotFound) {
			writeWebhookNotFound(w)
			return
		}
		h.internalError(w, "failed to rotate webhook secret", err)
		return
	}

	h.logger.Info("webhook secret rotated", slog.String("endpoint_id", endpoint.ID))
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     endpoint.ID,
		"secret": secret,
	})
}

// ListDeliveries handles GET /api/webhooks/{id}/deliveries with
// limit/offset paging and repeatable ?status= filters.
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	statuses := q["status"]
	for _, s := range statuses {
		switch model.DeliveryStatus(s) {
		case model.DeliveryStatusPending, model.DeliveryStatusSuccess,
			model.DeliveryStatusFailed, model.DeliveryStatusExhausted:
		default:
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", "Invalid delivery status: "+s)
			return
		}
	}

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultDeliveryLimit
	}
	limit = min(limit, maxDeliveryLimit)
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	deliveries, total, err := h.store.ListDeliveriesByEndpoint(r.Context(), endpoint.ID, statuses, limit, offset)
	if err != nil {
		h.internalError(w, "failed to list webhook deliveries", err)
		return
	}

	resp := make([]model.WebhookDeliveryResponse, len(deliveries))
	for i, d := range deliveries {
		resp[i] = d.ToResponse()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   total,
		"limit":   limit,
		"offset":  offset,
		"results": resp,
	})
}

// RetryDelivery handles POST /api/webhooks/{id}/deliveries/{delivery_id}/retry.
// Only exhausted deliveries can be requeued.
func (h *WebhookHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	deliveryID := chi.URLParam(r, "delivery_id")
	delivery, err := h.store.GetDelivery(ctx, deliveryID)
	if err != nil && !errors.Is(err, webhook.ErrDeliveryNotFound) {
		h.internalError(w, "failed to load webhook delivery", err)
		return
	}
	if err != nil || delivery.EndpointID != endpoint.ID {
		writeError(w, http.StatusNotFound, "DELIVERY_NOT_FOUND", "Delivery not found")
		return
	}

	if err := h.store.ResetDeliveryForRetry(ctx, deliveryID); err != nil {
		if errors.Is(err, webhook.ErrDeliveryNotRetryable) {
			writeError(w, http.StatusConflict, "NOT_RETRYABLE", "Only exhausted deliveries can be retried")
			return
		}
		h.internalError(w, "failed to retry webhook delivery", err)
		return
	}

	h.logger.Info("webhook delivery retry requested",
		slog.String("delivery_id", deliveryID),
		slog.String("endpoint_id", endpoint.ID),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry_scheduled"})
}

// ownedEndpoint loads the path endpoint. Endpoints of other users are
// reported as not found.
func (h *WebhookHandler) ownedEndpoint(w http.ResponseWriter, r *http.Request) (*model.WebhookEndpoint, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeUnauthorized(w)
		return nil, false
	}

	endpoint, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, webhook.ErrEndpointNotFound) {
			writeWebhookNotFound(w)
			return nil, false
		}
		h.internalError(w, "failed to load webhook endpoint", err)
		return nil, false
	}
	if endpoint.UserID != userID {
		writeWebhookNotFound(w)
		return nil, false
	}
	return endpoint, true
}

func (h *WebhookHandler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}

func checkEventTypes(fe serializer.FieldErrors, types []model.EventType) {
	for _, et := range types {
		if !model.IsValidEventType(et) {
			fe.Add("event_types", "\""+string(et)+"\" is not a valid choice.")
		}
	}
}

func writeWebhookNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Webhook not found")
}
