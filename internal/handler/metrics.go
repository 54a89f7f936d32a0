package handler

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"

	"github.com/roster/roster/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	keys := slices.SortedFunc(maps.Keys(snap.ModelEvents), func(a, b metrics.ModelEventKey) int {
		if a.Resource != b.Resource {
			return compare(a.Resource, b.Resource)
		}
		return compare(a.Action, b.Action)
	})
	for _, k := range keys {
		writeMetric(w, "roster_model_events_total{resource=%q,action=%q} %d\n", k.Resource, k.Action, snap.ModelEvents[k])
	}

	writeLabeled(w, "roster_detail_cache_hits_total", "resource", snap.DetailCacheHits)
	writeLabeled(w, "roster_detail_cache_misses_total", "resource", snap.DetailCacheMisses)
	writeLabeled(w, "roster_signal_receiver_failures_total", "signal", snap.SignalFailures)

	writeMetric(w, "roster_webhooks_queued_total %d\n", snap.WebhooksQueued)
	writeLabeled(w, "roster_webhook_deliveries_total", "status", snap.WebhookDeliveries)
	writeMetric(w, "roster_webhook_queue_depth %d\n", snap.WebhookQueueDepth)
	writeMetric(w, "roster_webhook_delivery_duration_seconds_count %d\n", snap.WebhookDurationCount)
	writeMetric(w, "roster_webhook_delivery_duration_seconds_sum %.6f\n", float64(snap.WebhookDurationTotalNs)/1e9)
}

func writeLabeled(w io.Writer, name, label string, values map[string]uint64) {
	for _, k := range slices.Sorted(maps.Keys(values)) {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
