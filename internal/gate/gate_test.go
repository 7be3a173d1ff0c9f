package gate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/events"
	"github.com/lawnet-hq/accessd/internal/gate"
)

type fakeChecker struct {
	mu  sync.Mutex
	rec access.Record
}

func (f *fakeChecker) Check(ctx context.Context, key access.Key) access.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec.Key == (access.Key{}) {
		return access.Locked(key)
	}
	return f.rec
}

func (f *fakeChecker) set(rec access.Record) {
	f.mu.Lock()
	f.rec = rec
	f.mu.Unlock()
}

func gateKey() access.Key {
	return access.Key{Feature: access.FeaturePlaylist, FeatureID: "p1", Email: "a@x.com"}
}

func activeRecord(key access.Key, ttl time.Duration) access.Record {
	expiry := time.Now().Add(ttl)
	return access.Record{Key: key, Source: access.SourceApproved, ExpiresAt: &expiry}
}

func TestGateStartsLocked(t *testing.T) {
	g, err := gate.New(gate.Config{Key: gateKey(), Checker: &fakeChecker{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))

	assert.Equal(t, gate.StateLocked, g.State())
	assert.False(t, g.Unlocked())
}

func TestGateUnlocksOnActiveGrant(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(activeRecord(gateKey(), time.Hour))

	g, err := gate.New(gate.Config{Key: gateKey(), Checker: checker})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))

	assert.Equal(t, gate.StateUnlocked, g.State())
}

func TestGateRejectsInvalidKey(t *testing.T) {
	_, err := gate.New(gate.Config{Key: access.Key{}, Checker: &fakeChecker{}})
	assert.Error(t, err)
}

func TestGrantedEventUnlocksEveryGate(t *testing.T) {
	bus := events.NewBus()
	checker := &fakeChecker{}

	var gates []*gate.Gate
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 2; i++ {
		g, err := gate.New(gate.Config{Key: gateKey(), Checker: checker, Bus: bus})
		require.NoError(t, err)
		require.NoError(t, g.Start(ctx))
		require.Equal(t, gate.StateLocked, g.State())
		gates = append(gates, g)
	}

	// The grant lands server-side, then the announcement reaches the bus.
	checker.set(activeRecord(gateKey(), time.Hour))
	expiry := time.Now().Add(time.Hour)
	bus.Publish(events.Event{
		Type:      events.TypeGranted,
		Feature:   "playlist",
		FeatureID: "p1",
		Email:     "a@x.com",
		ExpiresAt: &expiry,
	})

	for _, g := range gates {
		assert.Equal(t, gate.StateUnlocked, g.State(), "every subscribed gate unlocks on the announcement")
	}
}

func TestNonMatchingEventLeavesGateAlone(t *testing.T) {
	bus := events.NewBus()
	g, err := gate.New(gate.Config{Key: gateKey(), Checker: &fakeChecker{}, Bus: bus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))

	expiry := time.Now().Add(time.Hour)
	bus.Publish(events.Event{
		Type:      events.TypeGranted,
		Feature:   "playlist",
		FeatureID: "other",
		Email:     "a@x.com",
		ExpiresAt: &expiry,
	})

	assert.Equal(t, gate.StateLocked, g.State())
}

func TestRevokeRelocksImmediately(t *testing.T) {
	bus := events.NewBus()
	checker := &fakeChecker{}
	checker.set(activeRecord(gateKey(), time.Hour))

	g, err := gate.New(gate.Config{Key: gateKey(), Checker: checker, Bus: bus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))
	require.Equal(t, gate.StateUnlocked, g.State())

	checker.set(access.Locked(gateKey()))
	bus.Publish(events.Event{Type: events.TypeRevoked, Feature: "playlist", FeatureID: "p1", Email: "a@x.com"})

	assert.Equal(t, gate.StateLocked, g.State(), "revocation wins even before the cached expiry")
	assert.False(t, g.Record().Active(time.Now()))
}

func TestRelockTimerFiresAtExpiry(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(activeRecord(gateKey(), 80*time.Millisecond))

	var mu sync.Mutex
	var transitions []gate.State
	g, err := gate.New(gate.Config{
		Key:          gateKey(),
		Checker:      checker,
		RelockBuffer: 10 * time.Millisecond,
		OnTransition: func(from, to gate.State, rec access.Record) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))
	require.Equal(t, gate.StateUnlocked, g.State())

	require.Eventually(t, func() bool {
		return g.State() == gate.StateLocked
	}, 2*time.Second, 10*time.Millisecond, "gate should re-lock once the grant expires")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []gate.State{gate.StateUnlocked, gate.StateLocked}, transitions)
}

func TestCancelledContextDiscardsRefreshResult(t *testing.T) {
	checker := &fakeChecker{}
	g, err := gate.New(gate.Config{Key: gateKey(), Checker: checker})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Start(ctx))
	require.Equal(t, gate.StateLocked, g.State())

	cancel()
	// A poll that resolves after teardown must not mutate the gate.
	checker.set(activeRecord(gateKey(), time.Hour))
	g.Refresh(ctx)

	assert.Equal(t, gate.StateLocked, g.State())
}

func TestForceUnlockOpensWithoutGrant(t *testing.T) {
	bus := events.NewBus()
	g, err := gate.New(gate.Config{Key: gateKey(), Checker: &fakeChecker{}, Bus: bus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))
	require.Equal(t, gate.StateLocked, g.State())

	g.ForceUnlock()
	assert.Equal(t, gate.StateUnlocked, g.State())

	// A revocation still closes a forced gate.
	bus.Publish(events.Event{Type: events.TypeRevoked, Feature: "playlist", FeatureID: "p1", Email: "a@x.com"})
	assert.Equal(t, gate.StateLocked, g.State())
}

func TestStartTwiceFails(t *testing.T) {
	g, err := gate.New(gate.Config{Key: gateKey(), Checker: &fakeChecker{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, g.Start(ctx))
	assert.Error(t, g.Start(ctx))
}
