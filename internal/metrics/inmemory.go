package metrics

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ModelEventKey labels a model event counter.
type ModelEventKey struct {
	Resource string
	Action   string
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ModelEvents            map[ModelEventKey]uint64
	DetailCacheHits        map[string]uint64
	DetailCacheMisses      map[string]uint64
	SignalFailures         map[string]uint64
	WebhookDeliveries      map[string]uint64
	WebhooksQueued         uint64
	WebhookDurationCount   uint64
	WebhookDurationTotalNs int64
	WebhookQueueDepth      int64
}

// InMemoryRecorder stores metrics in memory. It backs /metrics.
type InMemoryRecorder struct {
	mu                sync.Mutex
	modelEvents       map[ModelEventKey]uint64
	detailCacheHits   map[string]uint64
	detailCacheMisses map[string]uint64
	signalFailures    map[string]uint64
	webhookDeliveries map[string]uint64

	webhooksQueued         uint64
	webhookDurationCount   uint64
	webhookDurationTotalNs int64
	webhookQueueDepth      int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		modelEvents:       make(map[ModelEventKey]uint64),
		detailCacheHits:   make(map[string]uint64),
		detailCacheMisses: make(map[string]uint64),
		signalFailures:    make(map[string]uint64),
		webhookDeliveries: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		ModelEvents:            maps.Clone(m.modelEvents),
		DetailCacheHits:        maps.Clone(m.detailCacheHits),
		DetailCacheMisses:      maps.Clone(m.detailCacheMisses),
		SignalFailures:         maps.Clone(m.signalFailures),
		WebhookDeliveries:      maps.Clone(m.webhookDeliveries),
		WebhooksQueued:         atomic.LoadUint64(&m.webhooksQueued),
		WebhookDurationCount:   atomic.LoadUint64(&m.webhookDurationCount),
		WebhookDurationTotalNs: atomic.LoadInt64(&m.webhookDurationTotalNs),
		WebhookQueueDepth:      atomic.LoadInt64(&m.webhookQueueDepth),
	}
}

func (m *InMemoryRecorder) inc(counter map[string]uint64, label string) {
	m.mu.Lock()
	counter[label]++
	m.mu.Unlock()
}

// IncModelEvent increments the model event counter.
func (m *InMemoryRecorder) IncModelEvent(resource, action string) {
	m.mu.Lock()
	m.modelEvents[ModelEventKey{Resource: resource, Action: action}]++
	m.mu.Unlock()
}

// IncDetailCacheHit increments the detail cache hit counter.
func (m *InMemoryRecorder) IncDetailCacheHit(resource string) {
	m.inc(m.detailCacheHits, resource)
}

// IncDetailCacheMiss increments the detail cache miss counter.
func (m *InMemoryRecorder) IncDetailCacheMiss(resource string) {
	m.inc(m.detailCacheMisses, resource)
}

// IncSignalFailure increments the receiver failure counter.
func (m *InMemoryRecorder) IncSignalFailure(signal string) {
	m.inc(m.signalFailures, signal)
}

// IncWebhookQueued adds n queued deliveries.
func (m *InMemoryRecorder) IncWebhookQueued(n int) {
	atomic.AddUint64(&m.webhooksQueued, uint64(n))
}

// IncWebhookDelivery increments the delivery attempt counter.
func (m *InMemoryRecorder) IncWebhookDelivery(status string) {
	m.inc(m.webhookDeliveries, status)
}

// ObserveWebhookDuration records one delivery attempt's duration.
func (m *InMemoryRecorder) ObserveWebhookDuration(duration time.Duration) {
	atomic.AddUint64(&m.webhookDurationCount, 1)
	atomic.AddInt64(&m.webhookDurationTotalNs, duration.Nanoseconds())
}

// SetWebhookQueueDepth records the number of undelivered webhooks.
func (m *InMemoryRecorder) SetWebhookQueueDepth(depth int64) {
	atomic.StoreInt64(&m.webhookQueueDepth, depth)
}
