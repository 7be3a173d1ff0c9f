package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lawnet-hq/accessd/internal/events"
)

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(events.Event)
}

// Service wraps grant business rules. Check is fail-closed and never
// returns an error: callers always receive a usable, possibly locked,
// record.
type Service struct {
	repo   Repository
	cache  *Cache
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. Cache and bus may be nil.
func NewService(repo Repository, cache *Cache, bus Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, bus: bus, logger: logger, now: time.Now}
}

// Check resolves the current record for a key. Anonymous viewers, unknown
// keys, and any storage failure all resolve to a locked record.
func (s *Service) Check(ctx context.Context, key Key) Record {
	if err := key.Validate(); err != nil {
		return Locked(key)
	}
	if key.Anonymous() {
		return Locked(key)
	}

	if rec, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("access cache read", slog.Any("error", err))
	} else if ok {
		return rec
	}

	rec, err := s.repo.Find(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNoGrant) {
			s.logger.Warn("access lookup failed, treating as locked",
				slog.String("feature", string(key.Feature)),
				slog.String("featureId", key.FeatureID),
				slog.Any("error", err))
		}
		return Locked(key)
	}

	if err := s.cache.Set(ctx, rec, s.now()); err != nil {
		s.logger.Warn("access cache write", slog.Any("error", err))
	}
	return rec
}

// Grant creates or extends a grant and announces it on the bus.
func (s *Service) Grant(ctx context.Context, key Key, expiresAt time.Time, source string) (Record, error) {
	if err := key.Validate(); err != nil {
		return Record{}, err
	}
	if key.Anonymous() {
		return Record{}, errors.New("access: grant requires an email")
	}
	now := s.now()
	if !expiresAt.After(now) {
		return Record{}, errors.New("access: grant expiry must be in the future")
	}
	if source == "" {
		source = SourceDirect
	}

	rec := Record{Key: key, Source: source, GrantedAt: now, ExpiresAt: &expiresAt}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("grant: %w", err)
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("access cache invalidate", slog.Any("error", err))
	}
	s.publish(events.TypeGranted, key, &expiresAt)
	return rec, nil
}

// Revoke removes a grant and announces the revocation.
func (s *Service) Revoke(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if key.Anonymous() {
		return errors.New("access: revoke requires an email")
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("access cache invalidate", slog.Any("error", err))
	}
	s.publish(events.TypeRevoked, key, nil)
	return nil
}

// NotifyUpdated nudges subscribers for a key to re-check their access.
func (s *Service) NotifyUpdated(key Key) {
	s.publish(events.TypeUpdated, key, nil)
}

// Sweep reaps expired grants and broadcasts their revocation. Returns the
// number of grants removed.
func (s *Service) Sweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	reaped, err := s.repo.ReapExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	for _, rec := range reaped {
		if err := s.cache.Invalidate(ctx, rec.Key); err != nil {
			s.logger.Warn("access cache invalidate", slog.Any("error", err))
		}
		s.publish(events.TypeRevoked, rec.Key, nil)
	}
	return len(reaped), nil
}

func (s *Service) publish(t events.Type, key Key, expiresAt *time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:      t,
		Feature:   string(key.Feature),
		FeatureID: key.FeatureID,
		Email:     key.Email,
		ExpiresAt: expiresAt,
		At:        s.now(),
	})
}
