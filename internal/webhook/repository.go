package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/roster/roster/internal/model"
)

// Repository handles webhook database operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new webhook repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const endpointColumns = `id, user_id, target_url, secret, enabled, event_types,
	name, description, created_at, updated_at, deleted_at`

const deliveryColumns = `id, endpoint_id, event_id, event_type, payload_json,
	status, attempt_count, max_attempts, next_retry_at,
	last_attempt_at, last_http_status, last_error,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*model.WebhookEndpoint, error) {
	var e model.WebhookEndpoint
	var eventTypes []string

	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.TargetURL,
		&e.Secret,
		&e.Enabled,
		pq.Array(&eventTypes),
		&e.Name,
		&e.Description,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.DeletedAt,
	); err != nil {
		return nil, err
	}

	e.EventTypes = make([]model.EventType, len(eventTypes))
	for i, et := range eventTypes {
		e.EventTypes[i] = model.EventType(et)
	}
	return &e, nil
}

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var eventType, status string
	var lastError sql.NullString

	if err := row.Scan(
		&d.ID,
		&d.EndpointID,
		&d.EventID,
		&eventType,
		&d.PayloadJSON,
		&status,
		&d.AttemptCount,
		&d.MaxAttempts,
		&d.NextRetryAt,
		&d.LastAttemptAt,
		&d.LastHTTPStatus,
		&lastError,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.EventType = model.EventType(eventType)
	d.Status = model.DeliveryStatus(status)
	d.LastError = lastError.String
	return &d, nil
}

func eventTypeStrings(types []model.EventType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = string(et)
	}
	return out
}

// CreateEndpoint creates a new webhook endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error {
	query := `
		INSERT INTO webhook_endpoints (
			id, user_id, target_url, secret, enabled,
			event_types, name, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		endpoint.ID,
		endpoint.UserID,
		endpoint.TargetURL,
		endpoint.Secret,
		endpoint.Enabled,
		pq.Array(eventTypeStrings(endpoint.EventTypes)),
		endpoint.Name,
		endpoint.Description,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetEndpoint retrieves a live webhook endpoint by ID.
func (r *Repository) GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE id = $1 AND deleted_at IS NULL`

	endpoint, err := scanEndpoint(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoint: %w", err)
	}
	return endpoint, nil
}

// ListEndpointsByUser retrieves all webhook endpoints owned by a user.
func (r *Repository) ListEndpointsByUser(ctx context.Context, userID string) ([]*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`

	return r.queryEndpoints(ctx, query, userID)
}

// ListActiveEndpointsForEvent retrieves enabled endpoints subscribed to
// eventType, across all owners.
func (r *Repository) ListActiveEndpointsForEvent(ctx context.Context, eventType model.EventType) ([]*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE deleted_at IS NULL
		  AND enabled = true
		  AND $1 = ANY(event_types)
		ORDER BY created_at`

	return r.queryEndpoints(ctx, query, string(eventType))
}

func (r *Repository) queryEndpoints(ctx context.Context, query string, args ...any) ([]*model.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*model.WebhookEndpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, rows.Err()
}

// UpdateEndpoint updates a webhook endpoint.
func (r *Repository) UpdateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error {
	query := `
		UPDATE webhook_endpoints
		SET target_url = $2, enabled = $3, event_types = $4,
			name = $5, description = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		endpoint.ID,
		endpoint.TargetURL,
		endpoint.Enabled,
		pq.Array(eventTypeStrings(endpoint.EventTypes)),
		endpoint.Name,
		endpoint.Description,
		endpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	return requireRow(result, ErrEndpointNotFound)
}

// UpdateEndpointSecret replaces the signing secret of an endpoint.
func (r *Repository) UpdateEndpointSecret(ctx context.Context, id, secret string) error {
	query := `
		UPDATE webhook_endpoints
		SET secret = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, secret, time.Now())
	if err != nil {
		return fmt.Errorf("update endpoint secret: %w", err)
	}
	return requireRow(result, ErrEndpointNotFound)
}

// DeleteEndpoint soft-deletes a webhook endpoint.
func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	query := `
		UPDATE webhook_endpoints
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	return requireRow(result, ErrEndpointNotFound)
}

// CreateDelivery queues a delivery. A second delivery of the same event to
// the same endpoint is ignored.
func (r *Repository) CreateDelivery(ctx context.Context, delivery *model.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, endpoint_id, event_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_retry_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, endpoint_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.EndpointID,
		delivery.EventID,
		string(delivery.EventType),
		delivery.PayloadJSON,
		string(delivery.Status),
		delivery.AttemptCount,
		delivery.MaxAttempts,
		delivery.NextRetryAt,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// GetPendingDeliveries retrieves due deliveries of live, enabled endpoints.
// Rows locked by another worker are skipped.
func (r *Repository) GetPendingDeliveries(ctx context.Context, limit int) ([]*model.WebhookDelivery, error) {
	query := `
		SELECT d.id, d.endpoint_id, d.event_id, d.event_type, d.payload_json,
			   d.status, d.attempt_count, d.max_attempts, d.next_retry_at,
			   d.last_attempt_at, d.last_http_status, d.last_error,
			   d.created_at, d.updated_at
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON d.endpoint_id = e.id
		WHERE d.status IN ('pending', 'failed')
		  AND d.next_retry_at <= $1
		  AND e.deleted_at IS NULL
		  AND e.enabled = true
		ORDER BY d.next_retry_at
		LIMIT $2
		FOR UPDATE OF d SKIP LOCKED
	`

	return r.queryDeliveries(ctx, query, time.Now(), limit)
}

// GetDelivery retrieves one delivery.
func (r *Repository) GetDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery: %w", err)
	}
	return d, nil
}

// UpdateDeliverySuccess marks a delivery as successful.
func (r *Repository) UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'success',
			attempt_count = attempt_count + 1,
			last_attempt_at = $2,
			last_http_status = $3,
			last_error = NULL,
			updated_at = $2
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, time.Now(), httpStatus); err != nil {
		return fmt.Errorf("update delivery success: %w", err)
	}
	return nil
}

// UpdateDeliveryFailure records a failed attempt and schedules the next one.
func (r *Repository) UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	query := `
		UPDATE webhook_deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = $3,
			last_http_status = $4,
			last_error = $5,
			next_retry_at = $6,
			updated_at = $3
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, string(status), time.Now(), httpStatus, errMsg, nextRetryAt); err != nil {
		return fmt.Errorf("update delivery failure: %w", err)
	}
	return nil
}

// ListDeliveriesByEndpoint pages through an endpoint's deliveries, newest
// first, optionally filtered by status. It also returns the filtered total.
func (r *Repository) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []string, limit, offset int) ([]*model.WebhookDelivery, int, error) {
	var where strings.Builder
	args := []any{endpointID}
	where.WriteString("WHERE endpoint_id = $1")

	if len(statuses) > 0 {
		args = append(args, pq.Array(statuses))
		fmt.Fprintf(&where, " AND status = ANY($%d)", len(args))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM webhook_deliveries ` + where.String()
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, deliveryColumns, where.String(), len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	deliveries, err := r.queryDeliveries(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

// ResetDeliveryForRetry requeues an exhausted delivery for immediate sending.
func (r *Repository) ResetDeliveryForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending',
			attempt_count = 0,
			next_retry_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'exhausted'
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("reset delivery: %w", err)
	}
	return requireRow(result, ErrDeliveryNotRetryable)
}

// GetQueueDepth returns the count of pending and failed deliveries.
func (r *Repository) GetQueueDepth(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM webhook_deliveries
		WHERE status IN ('pending', 'failed')
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

func (r *Repository) queryDeliveries(ctx context.Context, query string, args ...any) ([]*model.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
