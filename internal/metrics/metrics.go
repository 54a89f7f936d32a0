// Package metrics provides lightweight hooks for instrumentation.
package metrics

import (
	"context"
	"time"

	"github.com/roster/roster/internal/signals"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Model lifecycle, action is created/updated/deleted
	IncModelEvent(resource, action string)

	// Detail response cache
	IncDetailCacheHit(resource string)
	IncDetailCacheMiss(resource string)

	// post_* receivers that returned an error or panicked
	IncSignalFailure(signal string)

	// Webhook pipeline, status is success/retry/exhausted
	IncWebhookQueued(n int)
	IncWebhookDelivery(status string)
	ObserveWebhookDuration(duration time.Duration)
	SetWebhookQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}

// ModelEventReceiver counts post_save/post_delete events per resource.
func ModelEventReceiver(rec Recorder) signals.Receiver {
	return func(_ context.Context, ev signals.Event) error {
		rec.IncModelEvent(ev.Sender, ev.Action())
		return nil
	}
}
