package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
)

const (
	// DefaultBatchSize is the number of deliveries to process per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polling for pending deliveries.
	DefaultPollInterval = 5 * time.Second
	// DefaultMetricsInterval is how often to update queue depth metrics.
	DefaultMetricsInterval = 10 * time.Second
)

// Delivery outcomes as counted by metrics.
const (
	outcomeSuccess   = "success"
	outcomeRetry     = "retry"
	outcomeExhausted = "exhausted"
)

// WorkerStore is the storage the worker reads and updates.
type WorkerStore interface {
	GetPendingDeliveries(ctx context.Context, limit int) ([]*model.WebhookDelivery, error)
	GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error
	UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error
	GetQueueDepth(ctx context.Context) (int64, error)
}

// Worker processes webhook deliveries.
type Worker struct {
	store           WorkerStore
	client          *http.Client
	logger          *slog.Logger
	metrics         metrics.Recorder
	batchSize       int
	pollInterval    time.Duration
	metricsInterval time.Duration
	lastMetrics     time.Time
	started         atomic.Bool
}

// NewWorker creates a new webhook delivery worker.
func NewWorker(store WorkerStore, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		store:           store,
		client:          NewHTTPClient(),
		logger:          logger.With("component", "webhook.worker"),
		metrics:         recorder,
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		metricsInterval: DefaultMetricsInterval,
	}
}

// Run polls for due deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}

	w.logger.Info("webhook worker started", "poll_interval", w.pollInterval.String())

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopping")
			return nil
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce sends one batch of due deliveries.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	deliveries, err := w.store.GetPendingDeliveries(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		if err := w.deliver(ctx, delivery); err != nil {
			w.logger.Warn("delivery failed",
				"delivery_id", delivery.ID,
				"error", err,
			)
		}
	}
	return nil
}

// deliver attempts to send a single webhook.
func (w *Worker) deliver(ctx context.Context, delivery *model.WebhookDelivery) error {
	endpoint, err := w.store.GetEndpoint(ctx, delivery.EndpointID)
	if errors.Is(err, ErrEndpointNotFound) {
		return w.store.UpdateDeliveryFailure(ctx, delivery.ID, nil, "endpoint deleted", time.Now(), true)
	}
	if err != nil {
		return err
	}
	if !endpoint.IsActive() {
		return w.store.UpdateDeliveryFailure(ctx, delivery.ID, nil, "endpoint disabled", time.Now(), true)
	}

	payload := []byte(delivery.PayloadJSON)
	timestamp := time.Now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TargetURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	deliveryHeaders{
		Signature:  GenerateSignature(endpoint.Secret, timestamp, payload),
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: delivery.ID,
		EventType:  string(delivery.EventType),
	}.apply(req)

	start := time.Now()
	resp, err := w.client.Do(req)
	duration := time.Since(start)
	w.metrics.ObserveWebhookDuration(duration)

	if err != nil {
		return w.handleDeliveryError(ctx, delivery, nil, err.Error())
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.handleDeliveryError(ctx, delivery, &resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	w.logger.Info("webhook delivered",
		"delivery_id", delivery.ID,
		"target_host", ExtractHost(endpoint.TargetURL),
		"http_status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)
	w.metrics.IncWebhookDelivery(outcomeSuccess)
	return w.store.UpdateDeliverySuccess(ctx, delivery.ID, resp.StatusCode)
}

// handleDeliveryError records a failed attempt and schedules the next one.
func (w *Worker) handleDeliveryError(ctx context.Context, delivery *model.WebhookDelivery, httpStatus *int, errMsg string) error {
	attempts := delivery.AttemptCount + 1
	exhausted := IsExhausted(attempts, delivery.MaxAttempts)

	outcome := outcomeRetry
	if exhausted {
		outcome = outcomeExhausted
	}

	w.logger.Warn("webhook delivery failed",
		"delivery_id", delivery.ID,
		"attempt", attempts,
		"exhausted", exhausted,
		"error", errMsg,
	)
	w.metrics.IncWebhookDelivery(outcome)

	return w.store.UpdateDeliveryFailure(ctx, delivery.ID, httpStatus, errMsg, NextRetryAt(attempts), exhausted)
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.store.GetQueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.metrics.SetWebhookQueueDepth(depth)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetHTTPClient replaces the delivery client.
func (w *Worker) SetHTTPClient(client *http.Client) {
	if client != nil {
		w.client = client
	}
}
