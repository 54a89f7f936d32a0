package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roster/roster/internal/model"
)

type failureUpdate struct {
	httpStatus  *int
	errMsg      string
	nextRetryAt time.Time
	exhausted   bool
}

// memStore implements PublisherStore and WorkerStore in memory.
type memStore struct {
	mu         sync.Mutex
	endpoints  map[string]*model.WebhookEndpoint
	deliveries []*model.WebhookDelivery
	successes  map[string]int
	failures   map[string]failureUpdate
	createErr  error
	listErr    error
}

func newMemStore(endpoints ...*model.WebhookEndpoint) *memStore {
	s := &memStore{
		endpoints: make(map[string]*model.WebhookEndpoint),
		successes: make(map[string]int),
		failures:  make(map[string]failureUpdate),
	}
	for _, e := range endpoints {
		s.endpoints[e.ID] = e
	}
	return s
}

func (s *memStore) ListActiveEndpointsForEvent(_ context.Context, et model.EventType) ([]*model.WebhookEndpoint, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.WebhookEndpoint
	for _, e := range s.endpoints {
		if e.IsActive() && e.SubscribesToEvent(et) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) CreateDelivery(_ context.Context, d *model.WebhookDelivery) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *memStore) GetPendingDeliveries(_ context.Context, limit int) ([]*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.WebhookDelivery
	for _, d := range s.deliveries {
		if len(out) == limit {
			break
		}
		if d.Status == model.DeliveryStatusPending || d.Status == model.DeliveryStatusFailed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) GetEndpoint(_ context.Context, id string) (*model.WebhookEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	return e, nil
}

func (s *memStore) UpdateDeliverySuccess(_ context.Context, id string, httpStatus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[id] = httpStatus
	return s.setStatus(id, model.DeliveryStatusSuccess)
}

func (s *memStore) UpdateDeliveryFailure(_ context.Context, id string, httpStatus *int, errMsg string, next time.Time, exhausted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[id] = failureUpdate{httpStatus: httpStatus, errMsg: errMsg, nextRetryAt: next, exhausted: exhausted}
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}
	return s.setStatus(id, status)
}

func (s *memStore) GetQueueDepth(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.deliveries {
		if !d.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) setStatus(id string, status model.DeliveryStatus) error {
	for _, d := range s.deliveries {
		if d.ID == id {
			d.Status = status
			d.AttemptCount++
			return nil
		}
	}
	return errors.New("no such delivery")
}
