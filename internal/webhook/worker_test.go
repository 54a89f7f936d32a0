package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/testutil"
)

// receiver records signed requests and answers with status.
type receiver struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	bodies   [][]byte
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, r)
	rc.bodies = append(rc.bodies, body)
	status := rc.status
	rc.mu.Unlock()
	w.WriteHeader(status)
}

func newWorkerEnv(t *testing.T, status int, endpointEnabled bool) (*Worker, *memStore, *receiver, *metrics.InMemoryRecorder) {
	t.Helper()
	rc := &receiver{status: status}
	srv := httptest.NewTLSServer(rc)
	t.Cleanup(srv.Close)

	et := model.NewEventType(model.ResourceStudent, model.ActionCreated)
	endpoint := testEndpoint("ep", endpointEnabled, et)
	endpoint.TargetURL = srv.URL + "/hook"
	store := newMemStore(endpoint)

	rec := metrics.NewInMemory()
	w := NewWorker(store, testutil.DiscardLogger(), rec)
	w.SetHTTPClient(srv.Client())
	return w, store, rc, rec
}

func pendingDelivery(id string, attempts int) *model.WebhookDelivery {
	return &model.WebhookDelivery{
		ID:           id,
		EndpointID:   "ep",
		EventID:      "01JEVENT",
		EventType:    model.NewEventType(model.ResourceStudent, model.ActionCreated),
		PayloadJSON:  `{"event_type":"student.created"}`,
		Status:       model.DeliveryStatusPending,
		AttemptCount: attempts,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func TestWorker_DeliversSignedRequest(t *testing.T) {
	w, store, rc, rec := newWorkerEnv(t, http.StatusNoContent, true)
	store.deliveries = append(store.deliveries, pendingDelivery("d1", 0))

	require.NoError(t, w.processOnce(context.Background()))

	require.Len(t, rc.requests, 1)
	req := rc.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/hook", req.URL.Path)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "d1", req.Header.Get(HeaderDeliveryID))
	assert.Equal(t, "student.created", req.Header.Get(HeaderEventType))

	ts, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	assert.NoError(t, ValidateSignature("whsec_ep", req.Header.Get(HeaderSignature), ts, rc.bodies[0], DefaultReplayWindow))

	assert.Equal(t, http.StatusNoContent, store.successes["d1"])
	assert.Equal(t, model.DeliveryStatusSuccess, store.deliveries[0].Status)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.WebhookDeliveries["success"])
	assert.Equal(t, uint64(1), snap.WebhookDurationCount)
	assert.Equal(t, int64(1), snap.WebhookQueueDepth)
}

func TestWorker_FailureSchedulesRetry(t *testing.T) {
	w, store, _, rec := newWorkerEnv(t, http.StatusServiceUnavailable, true)
	store.deliveries = append(store.deliveries, pendingDelivery("d1", 1))

	before := time.Now()
	require.NoError(t, w.processOnce(context.Background()))

	f, ok := store.failures["d1"]
	require.True(t, ok)
	assert.False(t, f.exhausted)
	assert.Equal(t, "HTTP 503", f.errMsg)
	require.NotNil(t, f.httpStatus)
	assert.Equal(t, http.StatusServiceUnavailable, *f.httpStatus)
	// Second failed attempt waits 5m ±20%.
	assert.WithinRange(t, f.nextRetryAt, before.Add(4*time.Minute), time.Now().Add(6*time.Minute))
	assert.Equal(t, uint64(1), rec.Snapshot().WebhookDeliveries["retry"])
}

func TestWorker_ExhaustsAfterMaxAttempts(t *testing.T) {
	w, store, _, rec := newWorkerEnv(t, http.StatusInternalServerError, true)
	store.deliveries = append(store.deliveries, pendingDelivery("d1", DefaultMaxAttempts-1))

	require.NoError(t, w.processOnce(context.Background()))

	assert.True(t, store.failures["d1"].exhausted)
	assert.Equal(t, model.DeliveryStatusExhausted, store.deliveries[0].Status)
	assert.Equal(t, uint64(1), rec.Snapshot().WebhookDeliveries["exhausted"])
}

func TestWorker_DisabledOrMissingEndpoint(t *testing.T) {
	w, store, rc, _ := newWorkerEnv(t, http.StatusOK, false)
	orphan := pendingDelivery("d2", 0)
	orphan.EndpointID = "gone"
	store.deliveries = append(store.deliveries, pendingDelivery("d1", 0), orphan)

	require.NoError(t, w.processOnce(context.Background()))

	assert.Empty(t, rc.requests)
	assert.Equal(t, "endpoint disabled", store.failures["d1"].errMsg)
	assert.True(t, store.failures["d1"].exhausted)
	assert.Equal(t, "endpoint deleted", store.failures["d2"].errMsg)
	assert.True(t, store.failures["d2"].exhausted)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w, store, rc, _ := newWorkerEnv(t, http.StatusOK, true)
	store.deliveries = append(store.deliveries, pendingDelivery("d1", 0))
	w.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return len(rc.requests) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Error(t, w.Run(context.Background()), "second Run should fail")
}

func TestHTTPClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient()
	assert.Equal(t, ClientTimeout, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
