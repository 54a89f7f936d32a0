package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/testutil"
	"github.com/roster/roster/internal/webhook"
)

type memWebhookStore struct {
	mu         sync.Mutex
	endpoints  map[string]*model.WebhookEndpoint
	deliveries map[string]*model.WebhookDelivery
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{
		endpoints:  map[string]*model.WebhookEndpoint{},
		deliveries: map[string]*model.WebhookDelivery{},
	}
}

func (s *memWebhookStore) CreateEndpoint(_ context.Context, e *model.WebhookEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.ID] = e
	return nil
}

func (s *memWebhookStore) GetEndpoint(_ context.Context, id string) (*model.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.IsDeleted() {
		return nil, webhook.ErrEndpointNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memWebhookStore) ListEndpointsByUser(_ context.Context, userID string) ([]*model.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WebhookEndpoint
	for _, e := range s.endpoints {
		if e.UserID == userID && !e.IsDeleted() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memWebhookStore) UpdateEndpoint(_ context.Context, e *model.WebhookEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[e.ID]; !ok {
		return webhook.ErrEndpointNotFound
	}
	s.endpoints[e.ID] = e
	return nil
}

func (s *memWebhookStore) UpdateEndpointSecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return webhook.ErrEndpointNotFound
	}
	e.Secret = secret
	return nil
}

func (s *memWebhookStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.IsDeleted() {
		return webhook.ErrEndpointNotFound
	}
	now := time.Now()
	e.DeletedAt = &now
	return nil
}

func (s *memWebhookStore) GetDelivery(_ context.Context, id string) (*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, webhook.ErrDeliveryNotFound
	}
	return d, nil
}

func (s *memWebhookStore) ListDeliveriesByEndpoint(_ context.Context, endpointID string, statuses []string, limit, offset int) ([]*model.WebhookDelivery, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*model.WebhookDelivery
	for _, d := range s.deliveries {
		if d.EndpointID != endpointID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, string(d.Status)) {
			continue
		}
		matched = append(matched, d)
	}
	slices.SortFunc(matched, func(a, b *model.WebhookDelivery) int { return strings.Compare(a.ID, b.ID) })
	start := min(offset, len(matched))
	end := min(offset+limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (s *memWebhookStore) ResetDeliveryForRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || d.Status != model.DeliveryStatusExhausted {
		return webhook.ErrDeliveryNotRetryable
	}
	d.Status = model.DeliveryStatusPending
	d.AttemptCount = 0
	return nil
}

func (s *memWebhookStore) addEndpoint(userID string) *model.WebhookEndpoint {
	e := &model.WebhookEndpoint{
		ID:         testutil.UniqueID("ep"),
		UserID:     userID,
		TargetURL:  "https://hooks.example.com/roster",
		Secret:     "whsec_old",
		Enabled:    true,
		EventTypes: []model.EventType{"student.created"},
		CreatedAt:  epoch,
		UpdatedAt:  epoch,
	}
	s.endpoints[e.ID] = e
	return e
}

func (s *memWebhookStore) addDelivery(endpointID, id string, status model.DeliveryStatus) *model.WebhookDelivery {
	d := &model.WebhookDelivery{
		ID:           id,
		EndpointID:   endpointID,
		EventID:      "evt-" + id,
		EventType:    "student.created",
		Status:       status,
		AttemptCount: 1,
		MaxAttempts:  webhook.DefaultMaxAttempts,
		CreatedAt:    epoch,
	}
	s.deliveries[id] = d
	return d
}

func webhookRouter(store WebhookStore, userID string) http.Handler {
	h := NewWebhookHandler(store, testutil.DiscardLogger())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{
					KeyID: "caller", UserID: userID, Scopes: []string{model.ScopeWebhook},
				}))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/webhooks", h.Routes)
	return r
}

func TestWebhookHandler_Create(t *testing.T) {
	store := newMemWebhookStore()
	h := webhookRouter(store, "user-1")

	rec := do(t, h, http.MethodPost, "/api/webhooks/", `{"name":"ops","target_url":"https://203.0.113.10/hook"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[model.WebhookEndpointCreateResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.Secret, "whsec_"))
	assert.True(t, resp.Enabled)
	assert.Equal(t, model.ValidEventTypes, resp.EventTypes, "defaults to every event type")

	stored := store.endpoints[resp.ID]
	require.NotNil(t, stored)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, resp.Secret, stored.Secret)

	rec = do(t, h, http.MethodGet, "/api/webhooks/"+resp.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestWebhookHandler_CreateRejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing url", `{"name":"x"}`, "target_url"},
		{"http scheme", `{"target_url":"http://203.0.113.10/hook"}`, "target_url"},
		{"private address", `{"target_url":"https://10.0.0.5/hook"}`, "target_url"},
		{"localhost", `{"target_url":"https://localhost/hook"}`, "target_url"},
		{"unknown event", `{"target_url":"https://203.0.113.10/hook","event_types":["student.renamed"]}`, "event_types"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemWebhookStore()
			rec := do(t, webhookRouter(store, "user-1"), http.MethodPost, "/api/webhooks/", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, decode[map[string][]string](t, rec), tt.field)
			assert.Empty(t, store.endpoints)
		})
	}
}

func TestWebhookHandler_Unauthenticated(t *testing.T) {
	rec := do(t, webhookRouter(newMemWebhookStore(), ""), http.MethodGet, "/api/webhooks/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandler_Ownership(t *testing.T) {
	store := newMemWebhookStore()
	foreign := store.addEndpoint("user-2")
	store.addEndpoint("user-1")
	h := webhookRouter(store, "user-1")

	rec := do(t, h, http.MethodGet, "/api/webhooks/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Webhooks []model.WebhookEndpointResponse `json:"webhooks"`
	}](t, rec)
	assert.Len(t, body.Webhooks, 1)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/webhooks/" + foreign.ID},
		{http.MethodDelete, "/api/webhooks/" + foreign.ID},
		{http.MethodPost, "/api/webhooks/" + foreign.ID + "/rotate-secret"},
		{http.MethodGet, "/api/webhooks/" + foreign.ID + "/deliveries"},
	} {
		rec := do(t, h, req.method, req.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, req.method+" "+req.path)
	}
	assert.False(t, foreign.IsDeleted())
	assert.Equal(t, "whsec_old", foreign.Secret)
}

func TestWebhookHandler_Update(t *testing.T) {
	store := newMemWebhookStore()
	ep := store.addEndpoint("user-1")
	h := webhookRouter(store, "user-1")

	rec := do(t, h, http.MethodPatch, "/api/webhooks/"+ep.ID,
		`{"enabled":false,"event_types":["blog.created","comment.deleted"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[model.WebhookEndpointResponse](t, rec)
	assert.False(t, resp.Enabled)
	assert.Equal(t, []model.EventType{"blog.created", "comment.deleted"}, resp.EventTypes)
	assert.Equal(t, ep.TargetURL, resp.TargetURL)
	assert.True(t, resp.UpdatedAt.After(epoch))

	rec = do(t, h, http.MethodPatch, "/api/webhooks/"+ep.ID, `{"event_types":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/webhooks/"+ep.ID, `{"target_url":"https://127.0.0.1/x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "https://hooks.example.com/roster", store.endpoints[ep.ID].TargetURL)
}

func TestWebhookHandler_DeleteAndRotate(t *testing.T) {
	store := newMemWebhookStore()
	ep := store.addEndpoint("user-1")
	h := webhookRouter(store, "user-1")

	rec := do(t, h, http.MethodPost, "/api/webhooks/"+ep.ID+"/rotate-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	secret := decode[map[string]string](t, rec)["secret"]
	assert.True(t, strings.HasPrefix(secret, "whsec_"))
	assert.Equal(t, secret, ep.Secret)

	rec = do(t, h, http.MethodDelete, "/api/webhooks/"+ep.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ep.IsDeleted())

	rec = do(t, h, http.MethodGet, "/api/webhooks/"+ep.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookHandler_ListDeliveries(t *testing.T) {
	store := newMemWebhookStore()
	ep := store.addEndpoint("user-1")
	store.addDelivery(ep.ID, "d1", model.DeliveryStatusSuccess)
	store.addDelivery(ep.ID, "d2", model.DeliveryStatusExhausted)
	store.addDelivery(ep.ID, "d3", model.DeliveryStatusPending)
	h := webhookRouter(store, "user-1")

	type page struct {
		Count   int                             `json:"count"`
		Limit   int                             `json:"limit"`
		Results []model.WebhookDeliveryResponse `json:"results"`
	}

	rec := do(t, h, http.MethodGet, "/api/webhooks/"+ep.ID+"/deliveries?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[page](t, rec)
	assert.Equal(t, 3, p.Count)
	assert.Equal(t, 2, p.Limit)
	assert.Len(t, p.Results, 2)

	rec = do(t, h, http.MethodGet, "/api/webhooks/"+ep.ID+"/deliveries?status=exhausted", "")
	require.Equal(t, http.StatusOK, rec.Code)
	p = decode[page](t, rec)
	require.Len(t, p.Results, 1)
	assert.Equal(t, "d2", p.Results[0].ID)

	rec = do(t, h, http.MethodGet, "/api/webhooks/"+ep.ID+"/deliveries?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandler_RetryDelivery(t *testing.T) {
	store := newMemWebhookStore()
	ep := store.addEndpoint("user-1")
	other := store.addEndpoint("user-1")
	exhausted := store.addDelivery(ep.ID, "d1", model.DeliveryStatusExhausted)
	store.addDelivery(ep.ID, "d2", model.DeliveryStatusSuccess)
	store.addDelivery(other.ID, "d3", model.DeliveryStatusExhausted)
	h := webhookRouter(store, "user-1")

	rec := do(t, h, http.MethodPost, "/api/webhooks/"+ep.ID+"/deliveries/d1/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, model.DeliveryStatusPending, exhausted.Status)
	assert.Zero(t, exhausted.AttemptCount)

	rec = do(t, h, http.MethodPost, "/api/webhooks/"+ep.ID+"/deliveries/d2/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/webhooks/"+ep.ID+"/deliveries/d3/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "delivery of another endpoint")

	rec = do(t, h, http.MethodPost, "/api/webhooks/"+ep.ID+"/deliveries/nope/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
