// Package signals dispatches model lifecycle events to connected receivers.
package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roster/roster/internal/model"
)

// Signal identifies a lifecycle hook.
type Signal string

const (
	PreSave    Signal = "pre_save"
	PostSave   Signal = "post_save"
	PreDelete  Signal = "pre_delete"
	PostDelete Signal = "post_delete"
)

// AnySender connects a receiver to every sender.
const AnySender = ""

// Event describes one model change.
type Event struct {
	Signal Signal
	// Sender is the resource name, e.g. "student".
	Sender   string
	Instance any
	// Previous is the stored state before an update, when the sender has it.
	Previous any
	ID       int64
	// Created is true on post_save for inserts.
	Created bool
	// Raw marks saves that bypass normal request handling, such as fixture loads.
	Raw        bool
	EventID    string
	OccurredAt time.Time
}

// Action maps the event onto a model action name.
func (e Event) Action() string {
	switch {
	case e.Signal == PreDelete || e.Signal == PostDelete:
		return model.ActionDeleted
	case e.Created:
		return model.ActionCreated
	default:
		return model.ActionUpdated
	}
}

// Receiver handles an event. Returning an error from a pre_* receiver aborts
// the operation.
type Receiver func(ctx context.Context, ev Event) error

type binding struct {
	uid      string
	sender   string
	receiver Receiver
}

// Dispatcher holds receivers per signal. It is safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	receivers map[Signal][]binding
	logger    *slog.Logger
	failures  FailureCounter
}

// FailureCounter is told about every failed SendRobust receiver.
type FailureCounter interface {
	IncSignalFailure(signal string)
}

// CountFailures installs c. Call it before the dispatcher is shared.
func (d *Dispatcher) CountFailures(c FailureCounter) {
	d.failures = c
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		receivers: make(map[Signal][]binding),
		logger:    logger.With("component", "signals"),
	}
}

// Connect registers receiver for sig. An empty sender matches all senders.
// Connecting an already registered dispatchUID is a no-op.
func (d *Dispatcher) Connect(sig Signal, sender string, receiver Receiver, dispatchUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range d.receivers[sig] {
		if b.uid == dispatchUID {
			return
		}
	}
	d.receivers[sig] = append(d.receivers[sig], binding{uid: dispatchUID, sender: sender, receiver: receiver})
}

// Disconnect removes the receiver registered under dispatchUID.
func (d *Dispatcher) Disconnect(sig Signal, dispatchUID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	bindings := d.receivers[sig]
	for i, b := range bindings {
		if b.uid == dispatchUID {
			d.receivers[sig] = append(bindings[:i:i], bindings[i+1:]...)
			return true
		}
	}
	return false
}

// HasReceivers reports whether any receiver would see an event from sender.
func (d *Dispatcher) HasReceivers(sig Signal, sender string) bool {
	return len(d.matching(sig, sender)) > 0
}

func (d *Dispatcher) matching(sig Signal, sender string) []binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []binding
	for _, b := range d.receivers[sig] {
		if b.sender == AnySender || b.sender == sender {
			out = append(out, b)
		}
	}
	return out
}

func stamp(sig Signal, ev Event) Event {
	ev.Signal = sig
	if ev.EventID == "" {
		ev.EventID = ulid.Make().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev
}

// Send calls receivers in connection order and stops at the first error.
func (d *Dispatcher) Send(ctx context.Context, sig Signal, ev Event) error {
	ev = stamp(sig, ev)
	for _, b := range d.matching(sig, ev.Sender) {
		if err := b.receiver(ctx, ev); err != nil {
			return fmt.Errorf("%s receiver %s: %w", sig, b.uid, err)
		}
	}
	return nil
}

// SendRobust calls every receiver, recovering panics, and returns all
// receiver errors joined. Failures are logged.
func (d *Dispatcher) SendRobust(ctx context.Context, sig Signal, ev Event) error {
	ev = stamp(sig, ev)

	var errs []error
	for _, b := range d.matching(sig, ev.Sender) {
		if err := d.call(ctx, b, ev); err != nil {
			d.logger.Warn("signal receiver failed",
				"signal", string(sig),
				"sender", ev.Sender,
				"receiver", b.uid,
				"error", err,
			)
			if d.failures != nil {
				d.failures.IncSignalFailure(string(sig))
			}
			errs = append(errs, fmt.Errorf("%s receiver %s: %w", sig, b.uid, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) call(ctx context.Context, b binding, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return b.receiver(ctx, ev)
}

// AuditLog returns a receiver that writes one structured line per event.
func AuditLog(logger *slog.Logger) Receiver {
	logger = logger.With("component", "audit")
	return func(ctx context.Context, ev Event) error {
		logger.InfoContext(ctx, "model changed",
			"resource", ev.Sender,
			"id", ev.ID,
			"action", ev.Action(),
			"event_id", ev.EventID,
		)
		return nil
	}
}
