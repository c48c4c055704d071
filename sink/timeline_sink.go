package sink

import (
	"chat-relay/domain/event"
	"context"
	"sync"
)

// Timeline holds the local timeline of everything pushed to one session.
// It backs sessions that have no network behind them, such as tests and
// internal observers.
type Timeline struct {
	Owner string

	mu     sync.Mutex
	events []event.Outbound
	closed bool
	notify chan struct{}
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{Owner: owner, notify: make(chan struct{}, 1)}
}

func (t *Timeline) Consume(_ context.Context, e event.Outbound) error {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *Timeline) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Events returns a copy of the received events, oldest first.
func (t *Timeline) Events() []event.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event.Outbound(nil), t.events...)
}

// Names lists the names of the received events, oldest first.
func (t *Timeline) Names() []event.Name {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]event.Name, 0, len(t.events))
	for _, e := range t.events {
		names = append(names, e.Name)
	}
	return names
}

// Updated fires after a Consume.
func (t *Timeline) Updated() <-chan struct{} {
	return t.notify
}
