package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnet-hq/accessd/internal/events"
)

func grantedFor(id string) events.Event {
	return events.Event{Type: events.TypeGranted, Feature: "playlist", FeatureID: id, Email: "a@x.com"}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := events.NewBus()

	var seen []string
	bus.Subscribe(events.Filter{}, func(e events.Event) {
		seen = append(seen, e.FeatureID)
	})

	bus.Publish(grantedFor("p1"))
	bus.Publish(grantedFor("p2"))
	bus.Publish(grantedFor("p3"))

	assert.Equal(t, []string{"p1", "p2", "p3"}, seen)
}

func TestFilterBlocksNonMatchingEvents(t *testing.T) {
	bus := events.NewBus()

	var count int
	bus.Subscribe(events.Filter{Feature: "playlist", FeatureID: "p1", Email: "a@x.com"}, func(events.Event) {
		count++
	})

	bus.Publish(grantedFor("p1"))
	bus.Publish(grantedFor("p2"))
	bus.Publish(events.Event{Type: events.TypeGranted, Feature: "playlist", FeatureID: "p1", Email: "b@x.com"})
	bus.Publish(events.Event{Type: events.TypeGranted, Feature: "article", FeatureID: "p1", Email: "a@x.com"})

	assert.Equal(t, 1, count, "only the exact triple should match")
}

func TestSoftRefreshReachesEveryFilter(t *testing.T) {
	bus := events.NewBus()

	var count int
	bus.Subscribe(events.Filter{Feature: "playlist", FeatureID: "p1", Email: "a@x.com"}, func(events.Event) {
		count++
	})

	bus.Publish(events.Event{Type: events.TypeSoftRefresh})
	assert.Equal(t, 1, count)
}

func TestTypeFilter(t *testing.T) {
	bus := events.NewBus()

	var types []events.Type
	bus.Subscribe(events.Filter{Types: []events.Type{events.TypeRevoked}}, func(e events.Event) {
		types = append(types, e.Type)
	})

	bus.Publish(grantedFor("p1"))
	bus.Publish(events.Event{Type: events.TypeRevoked, Feature: "playlist", FeatureID: "p1", Email: "a@x.com"})

	require.Len(t, types, 1)
	assert.Equal(t, events.TypeRevoked, types[0])
}

func TestLateSubscriberMissesEarlierPublish(t *testing.T) {
	bus := events.NewBus()
	bus.Publish(grantedFor("p1"))

	var count int
	bus.Subscribe(events.Filter{}, func(events.Event) { count++ })

	assert.Zero(t, count, "no buffering: publishes before subscribe are lost")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus()

	var count int
	cancel := bus.Subscribe(events.Filter{}, func(events.Event) { count++ })

	bus.Publish(grantedFor("p1"))
	cancel()
	cancel() // idempotent
	bus.Publish(grantedFor("p2"))

	assert.Equal(t, 1, count)
}

func TestPublishStampsTime(t *testing.T) {
	bus := events.NewBus()

	var got events.Event
	bus.Subscribe(events.Filter{}, func(e events.Event) { got = e })

	before := time.Now()
	bus.Publish(grantedFor("p1"))
	assert.False(t, got.At.Before(before))
}

func TestMatches(t *testing.T) {
	e := grantedFor("p1")
	assert.True(t, e.Matches("playlist", "p1", "a@x.com"))
	assert.False(t, e.Matches("playlist", "p1", "b@x.com"))
	assert.True(t, events.Event{Type: events.TypeSoftRefresh}.Matches("anything", "x", "y"))
}
