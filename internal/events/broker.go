// Package events is the in-process broker behind the per-session event
// stream. Payloads are advisory refetch triggers, never authoritative
// deltas: they carry the event type, session id, and the version the
// session reached, nothing else.
package events

import (
	"sync"
	"time"
)

// Type enumerates the events a session can emit.
type Type string

const (
	TypeSessionUpdated Type = "session_updated"
	TypeSessionEnded   Type = "session_ended"
	TypeTimerCreated   Type = "timer.created"
	TypeTimerUpdated   Type = "timer.updated"
	TypeCheckStep      Type = "check_step"
	TypeUncheckStep    Type = "uncheck_step"
)

// Event is one broadcast message for a session.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TimerID   string    `json:"timer_id,omitempty"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Broker fans session events out to subscribers. Publish never blocks:
// a subscriber that falls behind loses events, which is safe because
// consumers refetch the full snapshot on every event anyway.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for a session's events. The returned cancel func
// must be called to release the subscription.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber of the session.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default: // slow subscriber, drop
		}
	}
}

// SubscriberCount reports active subscriptions for a session (tests and
// the daemon's status output).
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
