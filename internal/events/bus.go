// Package events implements the in-process access event channel. Components
// that render gated content subscribe here so that independent views of the
// same item converge without sharing state.
package events

import (
	"sync"
	"time"
)

// Type discriminates access event payloads.
type Type string

const (
	// TypeUpdated asks subscribers to re-check their access.
	TypeUpdated Type = "accessUpdated"
	// TypeGranted announces a fresh approval; subscribers unlock and refresh.
	TypeGranted Type = "accessGranted"
	// TypeRevoked announces access ended; subscribers re-lock immediately.
	TypeRevoked Type = "accessRevoked"
	// TypeSoftRefresh is a broadcast "re-pull your data" nudge with no target.
	TypeSoftRefresh Type = "softRefresh"
)

// Event is a single access-state-change notification.
type Event struct {
	Type      Type       `json:"type"`
	Feature   string     `json:"feature,omitempty"`
	FeatureID string     `json:"featureId,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	At        time.Time  `json:"at"`

	// Origin identifies the process that first published the event. The
	// broker uses it to suppress echo when relaying through Redis.
	Origin string `json:"origin,omitempty"`
}

// Matches reports whether the event targets the given (feature, featureID,
// email) triple. Soft refreshes target everyone.
func (e Event) Matches(feature, featureID, email string) bool {
	if e.Type == TypeSoftRefresh {
		return true
	}
	return e.Feature == feature && e.FeatureID == featureID && e.Email == email
}

// Filter narrows a subscription. Zero value matches every event.
type Filter struct {
	Feature   string
	FeatureID string
	Email     string
	Types     []Type
}

func (f Filter) match(e Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Feature == "" && f.FeatureID == "" && f.Email == "" {
		return true
	}
	return e.Matches(f.Feature, f.FeatureID, f.Email)
}

// Handler receives matching events.
type Handler func(Event)

type subscription struct {
	id      uint64
	filter  Filter
	handler Handler
}

// Bus fans events out to current subscribers. Delivery is synchronous and
// follows publish order; there is no buffering, so a subscriber registered
// after a publish never sees it.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs []*subscription
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for events accepted by the filter and
// returns a cancel function. The bus performs the triple filtering, so
// handlers never need to inspect fields themselves.
func (b *Bus) Subscribe(filter Filter, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	sub := &subscription{id: b.next, filter: filter, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers the event to every current matching subscriber, in
// subscription order. Handlers run on the publisher's goroutine.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.match(e) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.handler(e)
	}
}
