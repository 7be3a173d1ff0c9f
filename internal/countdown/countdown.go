// Package countdown derives human-readable remaining-time displays from an
// absolute expiry or a pre-computed remaining duration.
package countdown

import (
	"fmt"
	"sync"
	"time"
)

// TerminalDisplay is shown once the target has passed.
const TerminalDisplay = "Expired"

// Remaining returns the time left until target, clamped at zero.
func Remaining(target, now time.Time) time.Duration {
	d := target.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Format renders a duration as HH:MM:SS. Negative durations render as zero.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Display renders the countdown toward target, or TerminalDisplay once it
// has passed.
func Display(target, now time.Time) string {
	r := Remaining(target, now)
	if r == 0 {
		return TerminalDisplay
	}
	return Format(r)
}

// Snapshot is one tick of a running countdown.
type Snapshot struct {
	Remaining time.Duration
	Display   string
	Expired   bool
}

func snapshotAt(target, now time.Time) Snapshot {
	r := Remaining(target, now)
	s := Snapshot{Remaining: r, Expired: r == 0}
	if s.Expired {
		s.Display = TerminalDisplay
	} else {
		s.Display = Format(r)
	}
	return s
}

// Ticker emits one Snapshot immediately and then one per second until the
// target passes, at which point it emits a terminal snapshot, closes C, and
// stops. The remaining value never goes below zero.
type Ticker struct {
	C <-chan Snapshot

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTicker starts a countdown toward the target.
func NewTicker(target time.Time) *Ticker {
	ch := make(chan Snapshot, 1)
	t := &Ticker{C: ch, stop: make(chan struct{})}
	go t.run(target, ch)
	return t
}

// Stop halts the countdown. Safe to call more than once and after expiry.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

func (t *Ticker) run(target time.Time, ch chan Snapshot) {
	defer close(ch)

	emit := func(s Snapshot) bool {
		// Drop the stale snapshot if the consumer is behind; the next tick
		// supersedes it anyway.
		select {
		case ch <- s:
			return true
		case <-t.stop:
			return false
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
			return true
		case <-t.stop:
			return false
		}
	}

	snap := snapshotAt(target, time.Now())
	if !emit(snap) {
		return
	}
	if snap.Expired {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			snap := snapshotAt(target, now)
			if !emit(snap) {
				return
			}
			if snap.Expired {
				return
			}
		}
	}
}
