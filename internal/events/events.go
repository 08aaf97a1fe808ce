// Package events carries the engine's typed notifications to whoever is
// listening, usually the UI bridge. Publishing is fire-and-forget: a slow
// or absent subscriber never blocks the state machine.
package events

import (
	"sync"
	"time"
)

// Type names an engine event.
type Type string

const (
	TypeUpdateAvailable  Type = "update-available"
	TypeDownloadProgress Type = "download-progress"
	TypeStatusChanged    Type = "status-changed"
	TypeUpdateComplete   Type = "update-complete"
	TypeError            Type = "error"
	TypeRestartCountdown Type = "restart-countdown"
	TypeRecoveryNeeded   Type = "recovery-needed"
	TypeRecoveryComplete Type = "recovery-complete"
)

// Event is one engine notification.
type Event struct {
	Type    Type      `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers over buffered channels. Events for a
// subscriber whose buffer is full are dropped, not queued.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room for it.
func (b *Bus) Publish(t Type, payload any) {
	ev := Event{Type: t, At: time.Now().UTC(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; dropping beats blocking.
		}
	}
}
