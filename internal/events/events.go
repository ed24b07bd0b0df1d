// Package events carries domain notifications from a committed operation to
// the event sink. Components add events to the operation's Outbox; the
// engine publishes the outbox only after the store transaction commits.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
)

// Publisher is the event sink boundary.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Outbox buffers the events of one operation. Not safe for concurrent use.
type Outbox struct {
	events []models.Event
	now    func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

// Add queues an event of type typ for taskID. payload may be nil.
func (o *Outbox) Add(typ models.EventType, taskID string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	o.events = append(o.events, models.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		TaskID:     taskID,
		OccurredAt: o.now().UTC(),
		Payload:    payload,
	})
}

// Events returns the queued events in insertion order.
func (o *Outbox) Events() []models.Event {
	return o.events
}

func (o *Outbox) Len() int { return len(o.events) }

// Discard drops everything queued, used when the transaction rolled back.
func (o *Outbox) Discard() {
	o.events = nil
}

// Flush publishes every queued event and empties the outbox. Delivery errors
// are logged, not returned: the state change has already committed.
func (o *Outbox) Flush(ctx context.Context, p Publisher) int {
	if p == nil {
		o.events = nil
		return 0
	}
	sent := 0
	for _, ev := range o.events {
		if err := p.Publish(ctx, ev); err != nil {
			logging.Warn("event_publish_failed", logging.Fields{
				Component: "events",
				TaskID:    ev.TaskID,
				Method:    string(ev.Type),
				Error:     err.Error(),
			})
			continue
		}
		sent++
	}
	o.events = nil
	return sent
}

// Discarder drops every event.
type Discarder struct{}

func (Discarder) Publish(context.Context, models.Event) error { return nil }

// Recorder keeps published events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Publish(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
