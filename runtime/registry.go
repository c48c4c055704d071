package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"fmt"
	"log/slog"
	"sync"
)

type Set map[string]struct{}

type session struct {
	userID domain.UserID
	sink   contract.EventSink
}

// Registry is the presence registry of this process.
// A session is bound to exactly one user for its lifetime; a user may have
// any number of sessions and all of them observe the pushes to its channel.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	metrics  *observability.Metrics
	sessions map[string]session    // session -> bound user and its sink
	channels map[domain.UserID]Set // user -> sessions
}

func NewRegistry(log *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		log:      log,
		metrics:  metrics,
		sessions: make(map[string]session),
		channels: make(map[domain.UserID]Set),
	}
}

// Bind subscribes the session to the personal channel of userID.
// Binding the same session to the same user again is a no-op.
func (r *Registry) Bind(sessionID string, userID domain.UserID, sink contract.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sessionID]; ok {
		if existing.userID != userID {
			return fmt.Errorf("%w: session %s is bound to user %d", errors.ErrSessionAlreadyBound, sessionID, existing.userID)
		}
		return nil
	}

	r.sessions[sessionID] = session{userID: userID, sink: sink}
	if _, ok := r.channels[userID]; !ok {
		r.channels[userID] = make(Set)
	}
	r.channels[userID][sessionID] = struct{}{}
	r.metrics.Sessions.Inc()
	r.log.Debug("Session bound", "session_id", sessionID, "user_id", userID)
	return nil
}

// Unbind forgets the session. Nothing else changes: the user keeps its other
// sessions and its conversations.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbind(sessionID)
}

func (r *Registry) unbind(sessionID string) (contract.EventSink, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionID)
	if members, ok := r.channels[s.userID]; ok {
		delete(members, sessionID)
		// If no session is left, remove the channel entry entirely
		if len(members) == 0 {
			delete(r.channels, s.userID)
		}
	}
	r.metrics.Sessions.Dec()
	r.log.Debug("Session unbound", "session_id", sessionID, "user_id", s.userID)
	return s.sink, true
}

// ChannelFor is pure: offline users have a channel too, nobody observes it.
func (r *Registry) ChannelFor(userID domain.UserID) domain.Channel {
	return domain.ChannelFor(userID)
}

func (r *Registry) UserOf(sessionID string) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s.userID, ok
}

// SinksFor resolves a channel into the sinks of its live sessions.
// exceptSession, when not empty, is left out.
// Returns nil if nobody is bound to the channel.
func (r *Registry) SinksFor(channel domain.Channel, exceptSession string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.channels[channel.UserID]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for sessionID := range members {
		if sessionID == exceptSession {
			continue
		}
		if s, exists := r.sessions[sessionID]; exists {
			sinks = append(sinks, s.sink)
		}
	}
	return sinks
}

// CloseUser unbinds and closes every session of the user.
// Returns how many sessions were closed.
func (r *Registry) CloseUser(userID domain.UserID) int {
	r.mu.Lock()
	var sinks []contract.EventSink
	for sessionID := range r.channels[userID] {
		if sink, ok := r.unbind(sessionID); ok {
			sinks = append(sinks, sink)
		}
	}
	r.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
	return len(sinks)
}
