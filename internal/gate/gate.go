// Package gate implements the per-item lock/unlock state machine that sits
// between a viewer and gated content. A gate starts locked, unlocks when an
// active grant is found or announced, and re-locks when the grant expires or
// is revoked.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/events"
)

// State is the gate's rendering mode.
type State string

const (
	// StateLocked shows the preview and the request-access overlay.
	StateLocked State = "locked"
	// StateUnlocked shows the full content.
	StateUnlocked State = "unlocked"
)

// Checker resolves the current access record for a key. access.Service
// satisfies it; Check is fail-closed and never errors.
type Checker interface {
	Check(ctx context.Context, key access.Key) access.Record
}

// Subscriber is the slice of the event bus a gate needs.
type Subscriber interface {
	Subscribe(filter events.Filter, handler events.Handler) func()
}

// DefaultRelockBuffer pads the expiry timer so a grant extended at the last
// moment is re-checked rather than cut off by local clock skew.
const DefaultRelockBuffer = 1500 * time.Millisecond

// Config collects gate dependencies.
type Config struct {
	Key          access.Key
	Checker      Checker
	Bus          Subscriber // optional; without it the gate only re-locks on its own timer
	RelockBuffer time.Duration
	Logger       *slog.Logger
	// OnTransition fires after every state change, outside the gate's lock.
	OnTransition func(from, to State, rec access.Record)
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Gate is one content item's lock state. All methods are safe for
// concurrent use.
type Gate struct {
	cfg Config

	mu      sync.Mutex
	state   State
	record  access.Record
	forced  bool
	relock  *time.Timer
	unsub   func()
	runCtx  context.Context
	stopped bool
}

// New constructs a locked Gate.
func New(cfg Config) (*Gate, error) {
	if err := cfg.Key.Validate(); err != nil {
		return nil, err
	}
	if cfg.Checker == nil {
		return nil, errors.New("gate: checker is required")
	}
	if cfg.RelockBuffer <= 0 {
		cfg.RelockBuffer = DefaultRelockBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Gate{
		cfg:    cfg,
		state:  StateLocked,
		record: access.Locked(cfg.Key),
	}, nil
}

// Start performs the initial access check, subscribes to the bus, and ties
// the gate's lifetime to ctx. Cancelling ctx detaches the subscription,
// stops timers, and discards any in-flight refresh result.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.runCtx != nil {
		g.mu.Unlock()
		return errors.New("gate: already started")
	}
	g.runCtx = ctx
	if g.cfg.Bus != nil {
		g.unsub = g.cfg.Bus.Subscribe(events.Filter{
			Feature:   string(g.cfg.Key.Feature),
			FeatureID: g.cfg.Key.FeatureID,
			Email:     g.cfg.Key.Email,
		}, g.onEvent)
	}
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.shutdown()
	}()

	g.Refresh(ctx)
	return nil
}

// Refresh re-queries access and applies the result. Results arriving after
// ctx is cancelled are discarded, never applied.
func (g *Gate) Refresh(ctx context.Context) {
	rec := g.cfg.Checker.Check(ctx, g.cfg.Key)
	if ctx.Err() != nil {
		return
	}
	g.apply(rec)
}

// State returns the current rendering mode.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Unlocked reports whether the full content should render.
func (g *Gate) Unlocked() bool {
	return g.State() == StateUnlocked
}

// Record returns the last applied access record.
func (g *Gate) Record() access.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record
}

// ForceUnlock opens the gate without server confirmation and keeps it open
// for the gate's lifetime. This is the deliberate preview-then-trust soft
// paywall, not an authorization decision; a revoke event still closes it.
func (g *Gate) ForceUnlock() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.forced = true
	g.stopRelockLocked()
	notify := g.transitionLocked(StateUnlocked)
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// apply installs a fresh record and derives state from it.
func (g *Gate) apply(rec access.Record) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.record = rec
	now := g.cfg.Clock()

	var notify func()
	if rec.Active(now) || g.forced {
		notify = g.transitionLocked(StateUnlocked)
	} else {
		notify = g.transitionLocked(StateLocked)
	}

	g.stopRelockLocked()
	if rec.Active(now) && !g.forced {
		g.relock = time.AfterFunc(rec.Remaining(now)+g.cfg.RelockBuffer, g.expire)
	}
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// expire fires when the cached expiry elapses.
func (g *Gate) expire() {
	g.mu.Lock()
	if g.stopped || g.forced {
		g.mu.Unlock()
		return
	}
	now := g.cfg.Clock()
	if g.record.Active(now) {
		// The grant was extended under us; rearm instead of locking.
		g.relock = time.AfterFunc(g.record.Remaining(now)+g.cfg.RelockBuffer, g.expire)
		g.mu.Unlock()
		return
	}
	notify := g.transitionLocked(StateLocked)
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (g *Gate) onEvent(e events.Event) {
	switch e.Type {
	case events.TypeRevoked:
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return
		}
		g.forced = false
		g.stopRelockLocked()
		g.record = access.Locked(g.cfg.Key)
		notify := g.transitionLocked(StateLocked)
		g.mu.Unlock()
		if notify != nil {
			notify()
		}

	case events.TypeGranted:
		if e.ExpiresAt != nil {
			rec := access.Record{Key: g.cfg.Key, Source: access.SourceApproved, ExpiresAt: e.ExpiresAt}
			g.apply(rec)
		}
		g.refreshAsync()

	case events.TypeUpdated, events.TypeSoftRefresh:
		g.refreshAsync()
	}
}

func (g *Gate) refreshAsync() {
	g.mu.Lock()
	ctx := g.runCtx
	stopped := g.stopped
	g.mu.Unlock()
	if stopped || ctx == nil || ctx.Err() != nil {
		return
	}
	go g.Refresh(ctx)
}

// transitionLocked changes state and returns the observer notification to
// run after the lock is released. Caller must hold g.mu.
func (g *Gate) transitionLocked(to State) func() {
	if g.state == to {
		return nil
	}
	from := g.state
	g.state = to
	if g.cfg.OnTransition == nil {
		return nil
	}
	rec := g.record
	fn := g.cfg.OnTransition
	return func() { fn(from, to, rec) }
}

func (g *Gate) stopRelockLocked() {
	if g.relock != nil {
		g.relock.Stop()
		g.relock = nil
	}
}

func (g *Gate) shutdown() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	unsub := g.unsub
	g.unsub = nil
	g.stopRelockLocked()
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
