package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncModelEvent(resource, action string)         {}
func (n *NoopRecorder) IncDetailCacheHit(resource string)             {}
func (n *NoopRecorder) IncDetailCacheMiss(resource string)            {}
func (n *NoopRecorder) IncSignalFailure(signal string)                {}
func (n *NoopRecorder) IncWebhookQueued(count int)                    {}
func (n *NoopRecorder) IncWebhookDelivery(status string)              {}
func (n *NoopRecorder) ObserveWebhookDuration(duration time.Duration) {}
func (n *NoopRecorder) SetWebhookQueueDepth(depth int64)              {}
