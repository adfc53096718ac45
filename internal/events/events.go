// Package events is an in-process publish/subscribe bus for vault lifecycle
// notifications, with an optional bridge to NATS.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/medvault/internal/logging"
)

type Type string

const (
	VaultSetup         Type = "vault.setup"
	VaultUnlocked      Type = "vault.unlocked"
	VaultUnlockFailed  Type = "vault.unlock_failed"
	VaultLocked        Type = "vault.locked"
	PinChangeRequested Type = "vault.pin_change_requested"
	PinChanged         Type = "vault.pin_changed"
	VaultReset         Type = "vault.reset"
	RecordSaved        Type = "record.saved"
	RecordDeleted      Type = "record.deleted"
)

// Event never carries secrets: no PIN, OTP, key or plaintext.
type Event struct {
	Type     Type      `json:"type"`
	UserID   string    `json:"user_id"`
	RecordID string    `json:"record_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher accepts events. Publish must not block the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type subscriber struct {
	ch    chan Event
	types map[Type]struct{}
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans events out to subscriber channels. Slow subscribers lose events
// rather than stall the publisher.
type Bus struct {
	log logging.Logger

	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	closed bool
}

func NewBus(log logging.Logger) *Bus {
	return &Bus{log: log, subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving events of the given types (all types
// when none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Event, buffer), types: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.log.Warn(ctx, "event subscriber is full, dropping event", "type", e.Type, "user_id", e.UserID)
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
