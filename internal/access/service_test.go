package access

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lawnet-hq/accessd/internal/events"
)

type stubRepo struct {
	record    Record
	err       error
	findCalls int
	upserts   []Record
	deletes   []Key
	reaped    []Record
}

func (s *stubRepo) Find(ctx context.Context, key Key) (Record, error) {
	s.findCalls++
	if s.err != nil {
		return Record{}, s.err
	}
	return s.record, nil
}

func (s *stubRepo) Upsert(ctx context.Context, rec Record) error {
	s.upserts = append(s.upserts, rec)
	return s.err
}

func (s *stubRepo) Delete(ctx context.Context, key Key) error {
	s.deletes = append(s.deletes, key)
	return s.err
}

func (s *stubRepo) ReapExpired(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	return s.reaped, s.err
}

type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Publish(e events.Event) {
	b.published = append(b.published, e)
}

func testKey() Key {
	return Key{Feature: FeaturePlaylist, FeatureID: "p1", Email: "a@x.com"}
}

func TestCheckAnonymousShortCircuits(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, nil)

	rec := svc.Check(context.Background(), Key{Feature: FeaturePlaylist, FeatureID: "p1"})
	if rec.Active(time.Now()) {
		t.Fatal("anonymous viewer must be locked")
	}
	if repo.findCalls != 0 {
		t.Fatalf("expected no repo call for anonymous viewer, got %d", repo.findCalls)
	}
}

func TestCheckFailsClosed(t *testing.T) {
	repo := &stubRepo{err: errors.New("connection refused")}
	svc := NewService(repo, nil, nil, nil)

	rec := svc.Check(context.Background(), testKey())
	if rec.Active(time.Now()) {
		t.Fatal("a failed lookup must resolve to locked")
	}
}

func TestCheckNoGrantIsLocked(t *testing.T) {
	repo := &stubRepo{err: ErrNoGrant}
	svc := NewService(repo, nil, nil, nil)

	rec := svc.Check(context.Background(), testKey())
	if rec.Active(time.Now()) {
		t.Fatal("missing grant must resolve to locked")
	}
}

func TestCheckReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	expiry := time.Now().Add(time.Hour)
	repo := &stubRepo{record: Record{Key: testKey(), Source: SourceDirect, ExpiresAt: &expiry}}
	svc := NewService(repo, NewCache(client, time.Minute), nil, nil)

	ctx := context.Background()
	rec := svc.Check(ctx, testKey())
	if !rec.Active(time.Now()) {
		t.Fatal("expected active record")
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected 1 repo call, got %d", repo.findCalls)
	}

	// Second call should be served from the cache.
	rec = svc.Check(ctx, testKey())
	if !rec.Active(time.Now()) {
		t.Fatal("expected active record from cache")
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repo to stay at 1 call, got %d", repo.findCalls)
	}
}

func TestGrantPublishesGranted(t *testing.T) {
	repo := &stubRepo{}
	bus := &recordingBus{}
	svc := NewService(repo, nil, bus, nil)

	expiry := time.Now().Add(time.Hour)
	rec, err := svc.Grant(context.Background(), testKey(), expiry, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Source != SourceDirect {
		t.Fatalf("expected default source %q, got %q", SourceDirect, rec.Source)
	}
	if len(bus.published) != 1 || bus.published[0].Type != events.TypeGranted {
		t.Fatalf("expected one accessGranted event, got %+v", bus.published)
	}
	if bus.published[0].FeatureID != "p1" || bus.published[0].Email != "a@x.com" {
		t.Fatalf("event detail mismatch: %+v", bus.published[0])
	}
}

func TestGrantRejectsPastExpiry(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, nil)
	_, err := svc.Grant(context.Background(), testKey(), time.Now().Add(-time.Second), SourceDirect)
	if err == nil {
		t.Fatal("expected error for past expiry")
	}
}

func TestRevokePublishesRevoked(t *testing.T) {
	repo := &stubRepo{}
	bus := &recordingBus{}
	svc := NewService(repo, nil, bus, nil)

	if err := svc.Revoke(context.Background(), testKey()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.deletes) != 1 {
		t.Fatalf("expected one delete, got %d", len(repo.deletes))
	}
	if len(bus.published) != 1 || bus.published[0].Type != events.TypeRevoked {
		t.Fatalf("expected one accessRevoked event, got %+v", bus.published)
	}
}

func TestSweepBroadcastsEachRevocation(t *testing.T) {
	expiry := time.Now().Add(-time.Minute)
	repo := &stubRepo{reaped: []Record{
		{Key: Key{Feature: FeatureArticle, FeatureID: "a1", Email: "a@x.com"}, ExpiresAt: &expiry},
		{Key: Key{Feature: FeatureBook, FeatureID: "b2", Email: "b@x.com"}, ExpiresAt: &expiry},
	}}
	bus := &recordingBus{}
	svc := NewService(repo, nil, bus, nil)

	n, err := svc.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reaped, got %d", n)
	}
	if len(bus.published) != 2 {
		t.Fatalf("expected 2 events, got %d", len(bus.published))
	}
	for _, e := range bus.published {
		if e.Type != events.TypeRevoked {
			t.Fatalf("expected accessRevoked, got %s", e.Type)
		}
	}
}
