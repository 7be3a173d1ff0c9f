package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CheckQuery identifies what the watcher is waiting on.
type CheckQuery struct {
	Feature   string
	FeatureID string
	Email     string
}

// CheckResult is one poll outcome.
type CheckResult struct {
	Approved  bool
	ExpiresAt *time.Time
}

// CheckClient performs a single approval check.
type CheckClient interface {
	CheckAccess(ctx context.Context, q CheckQuery) (CheckResult, error)
}

// State is the watcher's externally visible snapshot. Checking is coarse:
// true for the whole lifetime of a running watcher, not just while a request
// is in flight.
type State struct {
	Approved  bool
	ExpiresAt *time.Time
	Checking  bool
}

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Watcher polls for asynchronous approval of a pending request. It issues
// one poll immediately, then one per interval until the context ends. A
// failed poll keeps the previous state; overlapping responses are resolved
// last-write-wins.
type Watcher struct {
	client   CheckClient
	query    CheckQuery
	interval time.Duration
	logger   *slog.Logger
	onChange func(State)

	mu    sync.Mutex
	state State
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the poll period.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnChange registers a callback fired when the approved flag flips.
// Consumers typically publish an access event from it so every open gate
// refreshes.
func WithOnChange(fn func(State)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher constructs a Watcher.
func NewWatcher(client CheckClient, query CheckQuery, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{client: client, query: query, interval: DefaultPollInterval, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current snapshot.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run polls until the context is cancelled. A watcher with no email is
// inert: it returns immediately and never issues a network call.
func (w *Watcher) Run(ctx context.Context) error {
	if w.query.Email == "" {
		return nil
	}

	w.setChecking(true)
	defer w.setChecking(false)

	w.poll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	res, err := w.client.CheckAccess(ctx, w.query)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("approval poll failed",
			slog.String("feature", w.query.Feature),
			slog.String("featureId", w.query.FeatureID),
			slog.Any("error", err))
		return
	}

	w.mu.Lock()
	flipped := w.state.Approved != res.Approved
	w.state.Approved = res.Approved
	w.state.ExpiresAt = res.ExpiresAt
	snapshot := w.state
	w.mu.Unlock()

	if flipped && w.onChange != nil {
		w.onChange(snapshot)
	}
}

func (w *Watcher) setChecking(v bool) {
	w.mu.Lock()
	w.state.Checking = v
	w.mu.Unlock()
}
