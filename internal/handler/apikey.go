package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/repository"
	"github.com/roster/roster/internal/serializer"
)

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) (time.Time, error)
	RotateAPIKey(ctx context.Context, oldID string, replacement *model.APIKey) (time.Time, error)
}

// AuthEvictor drops cached auth contexts of a key.
type AuthEvictor interface {
	DeleteAuthContext(ctx context.Context, keyID string) error
}

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	store   APIKeyStore
	evictor AuthEvictor
	env     string
	logger  *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler. evictor may be nil.
func NewAPIKeyHandler(store APIKeyStore, evictor AuthEvictor, appEnv string, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		store:   store,
		evictor: evictor,
		env:     auth.EnvFor(appEnv),
		logger:  logger.With("component", "apikeys"),
	}
}

// Routes mounts the key management endpoints.
func (h *APIKeyHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{key_id}", h.Revoke)
	r.Post("/{key_id}/rotate", h.Rotate)
}

// Create handles POST /api/keys/
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx := auth.AuthFromContext(ctx)
	if authCtx == nil {
		writeUnauthorized(w)
		return
	}

	var req model.APIKeyCreateRequest
	if err := serializer.Decode(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	fe := serializer.Validate(&req)
	if bad := model.InvalidScopes(req.Scopes); len(bad) > 0 {
		if fe == nil {
			fe = serializer.FieldErrors{}
		}
		fe.Add("scopes", "Invalid scope: "+strings.Join(bad, ", ")+".")
	}
	if len(fe) > 0 {
		writeJSON(w, http.StatusBadRequest, fe)
		return
	}

	scopes := model.NormalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		scopes = model.DefaultScopes
	}
	tier := req.RateLimitTier
	if tier == "" {
		tier = model.TierFree
	}

	key, plaintext, err := h.newKey(authCtx.UserID, req.Name, scopes, tier)
	if err != nil {
		h.internalError(w, "failed to generate API key", err)
		return
	}

	if err := h.store.CreateAPIKey(ctx, key); err != nil {
		h.internalError(w, "failed to create API key", err)
		return
	}

	h.logger.Info("API key created",
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
		slog.String("user_id", key.UserID),
	)

	writeJSON(w, http.StatusCreated, createResponse(key, plaintext))
}

// List handles GET /api/keys/
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		writeUnauthorized(w)
		return
	}

	keys, err := h.store.ListAPIKeysByUserID(ctx, userID)
	if err != nil {
		h.internalError(w, "failed to list API keys", err)
		return
	}

	responses := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, key.ToResponse())
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": responses})
}

// Revoke handles DELETE /api/keys/{key_id}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	if _, err := h.store.RevokeAPIKey(ctx, key.ID); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			writeKeyNotFound(w)
			return
		}
		h.internalError(w, "failed to revoke API key", err)
		return
	}
	h.evict(ctx, key.ID)

	h.logger.Info("API key revoked",
		slog.String("key_id", key.ID),
		slog.String("user_id", key.UserID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Rotate handles POST /api/keys/{key_id}/rotate. The replacement keeps the
// name, scopes and tier of the old key, which is revoked in the same step.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	oldKey, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	newKey, plaintext, err := h.newKey(oldKey.UserID, oldKey.Name, oldKey.Scopes, oldKey.RateLimitTier)
	if err != nil {
		h.internalError(w, "failed to generate API key", err)
		return
	}

	revokedAt, err := h.store.RotateAPIKey(ctx, oldKey.ID, newKey)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			writeKeyNotFound(w)
			return
		}
		h.internalError(w, "failed to rotate API key", err)
		return
	}
	h.evict(ctx, oldKey.ID)

	h.logger.Info("API key rotated",
		slog.String("old_key_id", oldKey.ID),
		slog.String("new_key_id", newKey.ID),
		slog.String("user_id", oldKey.UserID),
	)

	writeJSON(w, http.StatusCreated, model.APIKeyRotateResponse{
		OldKeyID:        oldKey.ID,
		OldKeyRevokedAt: revokedAt,
		NewKey:          createResponse(newKey, plaintext),
	})
}

// ownedKey loads the path key and checks that the caller owns it. Keys of
// other users and revoked keys are reported as not found.
func (h *APIKeyHandler) ownedKey(w http.ResponseWriter, r *http.Request) (*model.APIKey, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeUnauthorized(w)
		return nil, false
	}

	key, err := h.store.GetAPIKeyByID(r.Context(), chi.URLParam(r, "key_id"))
	if err != nil {
		if !errors.Is(err, repository.ErrAPIKeyNotFound) {
			h.internalError(w, "failed to load API key", err)
			return nil, false
		}
		writeKeyNotFound(w)
		return nil, false
	}
	if key.UserID != userID || key.IsRevoked() {
		writeKeyNotFound(w)
		return nil, false
	}
	return key, true
}

func (h *APIKeyHandler) newKey(userID, name string, scopes []string, tier string) (*model.APIKey, string, error) {
	generated, err := auth.GenerateAPIKey(h.env)
	if err != nil {
		return nil, "", err
	}
	return &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: tier,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}, generated.Plaintext, nil
}

func (h *APIKeyHandler) evict(ctx context.Context, keyID string) {
	if h.evictor == nil {
		return
	}
	if err := h.evictor.DeleteAuthContext(ctx, keyID); err != nil {
		h.logger.Warn("failed to evict cached auth context",
			slog.String("key_id", keyID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *APIKeyHandler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}

func writeKeyNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found or already revoked")
}

func createResponse(key *model.APIKey, plaintext string) model.APIKeyCreateResponse {
	return model.APIKeyCreateResponse{
		ID:            key.ID,
		Key:           plaintext,
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		CreatedAt:     key.CreatedAt,
	}
}
