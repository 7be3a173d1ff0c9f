package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lawnet-hq/accessd/internal/access"
)

// Granter is the slice of the access service the approval flow needs.
type Granter interface {
	Grant(ctx context.Context, key access.Key, expiresAt time.Time, source string) (access.Record, error)
	NotifyUpdated(key access.Key)
}

// Service wraps the request/decide workflow.
type Service struct {
	repo       Repository
	grants     Granter
	logger     *slog.Logger
	defaultTTL time.Duration
	now        func() time.Time
}

// NewService constructs a Service. defaultTTL is used when the approver does
// not choose a duration.
func NewService(repo Repository, grants Granter, defaultTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Service{repo: repo, grants: grants, logger: logger, defaultTTL: defaultTTL, now: time.Now}
}

// SubmitInput carries a new access request.
type SubmitInput struct {
	Feature   access.Feature
	FeatureID string
	Email     string
	Note      string
}

// Submit records a pending request. Re-submitting while one is already
// pending returns the existing request rather than an error.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	key := access.Key{Feature: in.Feature, FeatureID: in.FeatureID, Email: in.Email}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if key.Anonymous() {
		return nil, errors.New("approval: email is required")
	}

	if existing, err := s.repo.FindPending(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	req := Request{
		ID:        uuid.New(),
		Feature:   in.Feature,
		FeatureID: in.FeatureID,
		Email:     in.Email,
		Note:      in.Note,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			// Lost the race to another submit; surface that one.
			return s.repo.FindPending(ctx, key)
		}
		return nil, err
	}
	return &req, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.repo.Get(ctx, id)
}

// PendingFor returns the open request for a key, or ErrNotFound.
func (s *Service) PendingFor(ctx context.Context, key access.Key) (*Request, error) {
	return s.repo.FindPending(ctx, key)
}

// ListPending returns requests awaiting a decision.
func (s *Service) ListPending(ctx context.Context, limit int) ([]Request, error) {
	return s.repo.ListPending(ctx, limit)
}

// DecisionInput carries an admin decision.
type DecisionInput struct {
	DecidedBy string
	Note      string
	Duration  time.Duration // approval only; zero means the default TTL
}

// Approve marks the request approved, creates the grant, and announces it.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, in DecisionInput) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, fmt.Errorf("approval: request is %s, not pending", req.Status)
	}

	ttl := in.Duration
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiresAt := s.now().Add(ttl)

	if err := s.repo.UpdateDecision(ctx, id, StatusApproved, &expiresAt, in.DecidedBy, in.Note); err != nil {
		return nil, err
	}
	if _, err := s.grants.Grant(ctx, req.Key(), expiresAt, access.SourceApproved); err != nil {
		// The decision is recorded; the grant can be retried by re-approving
		// a fresh request, so report rather than roll back.
		s.logger.Error("grant after approval", slog.String("request", id.String()), slog.Any("error", err))
		return nil, fmt.Errorf("approval: grant: %w", err)
	}

	req.Status = StatusApproved
	req.ExpiresAt = &expiresAt
	req.DecidedBy = in.DecidedBy
	req.DecisionNote = in.Note
	return req, nil
}

// Reject marks the request rejected and nudges subscribers to re-check.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, in DecisionInput) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, fmt.Errorf("approval: request is %s, not pending", req.Status)
	}
	if err := s.repo.UpdateDecision(ctx, id, StatusRejected, nil, in.DecidedBy, in.Note); err != nil {
		return nil, err
	}
	s.grants.NotifyUpdated(req.Key())

	req.Status = StatusRejected
	req.DecidedBy = in.DecidedBy
	req.DecisionNote = in.Note
	return req, nil
}

// PurgeStale removes pending requests older than the cutoff. Returns the
// number of rows removed.
func (s *Service) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = 30 * 24 * time.Hour
	}
	return s.repo.DeleteStale(ctx, StatusPending, s.now().Add(-olderThan))
}
