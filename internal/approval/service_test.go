package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawnet-hq/accessd/internal/access"
)

type memRepo struct {
	requests map[uuid.UUID]Request
	deleted  int64
}

func newMemRepo() *memRepo {
	return &memRepo{requests: map[uuid.UUID]Request{}}
}

func (m *memRepo) Create(ctx context.Context, req Request) error {
	for _, r := range m.requests {
		if r.Status == StatusPending && r.Key() == req.Key() {
			return ErrDuplicatePending
		}
	}
	m.requests[req.ID] = req
	return nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *memRepo) FindPending(ctx context.Context, key access.Key) (*Request, error) {
	for _, r := range m.requests {
		if r.Status == StatusPending && r.Key() == key {
			req := r
			return &req, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) ListPending(ctx context.Context, limit int) ([]Request, error) {
	var out []Request
	for _, r := range m.requests {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateDecision(ctx context.Context, id uuid.UUID, status Status, expiresAt *time.Time, decidedBy, note string) error {
	req, ok := m.requests[id]
	if !ok || req.Status != StatusPending {
		return ErrNotFound
	}
	req.Status = status
	req.ExpiresAt = expiresAt
	req.DecidedBy = decidedBy
	req.DecisionNote = note
	m.requests[id] = req
	return nil
}

func (m *memRepo) DeleteStale(ctx context.Context, status Status, before time.Time) (int64, error) {
	var n int64
	for id, r := range m.requests {
		if r.Status == status && r.CreatedAt.Before(before) {
			delete(m.requests, id)
			n++
		}
	}
	m.deleted += n
	return n, nil
}

type stubGranter struct {
	grants   []access.Record
	notified []access.Key
	err      error
}

func (g *stubGranter) Grant(ctx context.Context, key access.Key, expiresAt time.Time, source string) (access.Record, error) {
	if g.err != nil {
		return access.Record{}, g.err
	}
	rec := access.Record{Key: key, Source: source, ExpiresAt: &expiresAt}
	g.grants = append(g.grants, rec)
	return rec, nil
}

func (g *stubGranter) NotifyUpdated(key access.Key) {
	g.notified = append(g.notified, key)
}

func submitInput() SubmitInput {
	return SubmitInput{Feature: access.FeaturePlaylist, FeatureID: "p1", Email: "a@x.com", Note: "please"}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubGranter{}, time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.NotEqual(t, uuid.Nil, req.ID)
	assert.Len(t, repo.requests, 1)
}

func TestSubmitIsIdempotentWhilePending(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubGranter{}, time.Hour, nil)

	first, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-submitting should surface the open request")
	assert.Len(t, repo.requests, 1)
}

func TestPendingForFindsOpenRequest(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubGranter{}, time.Hour, nil)

	key := access.Key{Feature: access.FeaturePlaylist, FeatureID: "p1", Email: "a@x.com"}
	_, err := svc.PendingFor(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)

	created, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	found, err := svc.PendingFor(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestSubmitRequiresEmail(t *testing.T) {
	svc := NewService(newMemRepo(), &stubGranter{}, time.Hour, nil)
	in := submitInput()
	in.Email = ""
	_, err := svc.Submit(context.Background(), in)
	assert.Error(t, err)
}

func TestApproveGrantsAccess(t *testing.T) {
	repo := newMemRepo()
	granter := &stubGranter{}
	svc := NewService(repo, granter, time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	decided, err := svc.Approve(context.Background(), req.ID, DecisionInput{DecidedBy: "admin", Duration: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	require.NotNil(t, decided.ExpiresAt)

	require.Len(t, granter.grants, 1)
	grant := granter.grants[0]
	assert.Equal(t, req.Key(), grant.Key)
	assert.Equal(t, access.SourceApproved, grant.Source)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *grant.ExpiresAt, 2*time.Second)
}

func TestApproveUsesDefaultTTL(t *testing.T) {
	granter := &stubGranter{}
	svc := NewService(newMemRepo(), granter, 2*time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), req.ID, DecisionInput{DecidedBy: "admin"})
	require.NoError(t, err)
	require.Len(t, granter.grants, 1)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *granter.grants[0].ExpiresAt, 2*time.Second)
}

func TestApproveRejectsDecidedRequest(t *testing.T) {
	svc := NewService(newMemRepo(), &stubGranter{}, time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), req.ID, DecisionInput{DecidedBy: "admin"})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), req.ID, DecisionInput{DecidedBy: "admin"})
	assert.Error(t, err, "a rejected request cannot be approved afterwards")
}

func TestApproveSurfacesGrantFailure(t *testing.T) {
	granter := &stubGranter{err: errors.New("db down")}
	svc := NewService(newMemRepo(), granter, time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), req.ID, DecisionInput{DecidedBy: "admin"})
	assert.Error(t, err)
}

func TestRejectNotifiesSubscribers(t *testing.T) {
	granter := &stubGranter{}
	svc := NewService(newMemRepo(), granter, time.Hour, nil)

	req, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	decided, err := svc.Reject(context.Background(), req.ID, DecisionInput{DecidedBy: "admin", Note: "nope"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)
	assert.Empty(t, granter.grants)
	require.Len(t, granter.notified, 1)
	assert.Equal(t, req.Key(), granter.notified[0])
}

func TestPurgeStaleRemovesOldPending(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubGranter{}, time.Hour, nil)

	old := Request{ID: uuid.New(), Feature: access.FeatureBook, FeatureID: "b1", Email: "b@x.com",
		Status: StatusPending, CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}
	repo.requests[old.ID] = old

	fresh, err := svc.Submit(context.Background(), submitInput())
	require.NoError(t, err)

	n, err := svc.PurgeStale(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok := repo.requests[old.ID]
	assert.False(t, ok)
	_, ok = repo.requests[fresh.ID]
	assert.True(t, ok)
}
