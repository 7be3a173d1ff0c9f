package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawnet-hq/accessd/internal/access"
)

var (
	// ErrNotFound marks a missing request.
	ErrNotFound = errors.New("approval: request not found")
	// ErrDuplicatePending marks a second pending request for the same triple.
	ErrDuplicatePending = errors.New("approval: pending request already exists")
)

// Repository persists access requests.
type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	FindPending(ctx context.Context, key access.Key) (*Request, error)
	ListPending(ctx context.Context, limit int) ([]Request, error)
	UpdateDecision(ctx context.Context, id uuid.UUID, status Status, expiresAt *time.Time, decidedBy, note string) error
	DeleteStale(ctx context.Context, status Status, before time.Time) (int64, error)
}

// PostgresRepository implements Repository over pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const requestColumns = `id, feature, feature_id, email, note, status, expires_at, decided_by, decision_note, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var feature, status string
	if err := row.Scan(&req.ID, &feature, &req.FeatureID, &req.Email, &req.Note, &status,
		&req.ExpiresAt, &req.DecidedBy, &req.DecisionNote, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	req.Feature = access.Feature(feature)
	req.Status = Status(status)
	return &req, nil
}

// Create inserts a new request. A unique partial index on pending triples
// turns a concurrent duplicate submit into ErrDuplicatePending.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	const query = `INSERT INTO access_requests (id, feature, feature_id, email, note, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	_, err := r.pool.Exec(ctx, query, req.ID, string(req.Feature), req.FeatureID, req.Email, req.Note, string(req.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePending
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// Get returns a request by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests WHERE id = $1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// FindPending returns the open request for a key, if any.
func (r *PostgresRepository) FindPending(ctx context.Context, key access.Key) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM access_requests
WHERE feature = $1 AND feature_id = $2 AND email = $3 AND status = 'pending'
ORDER BY created_at DESC LIMIT 1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, string(key.Feature), key.FeatureID, key.Email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending request: %w", err)
	}
	return req, nil
}

// ListPending returns open requests, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + ` FROM access_requests
WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var reqs []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// UpdateDecision records an admin decision on a pending request.
func (r *PostgresRepository) UpdateDecision(ctx context.Context, id uuid.UUID, status Status, expiresAt *time.Time, decidedBy, note string) error {
	const query = `UPDATE access_requests
SET status = $2, expires_at = $3, decided_by = $4, decision_note = $5, updated_at = NOW()
WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id, string(status), expiresAt, decidedBy, note)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStale removes requests in the given status created before the cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, status Status, before time.Time) (int64, error) {
	const query = `DELETE FROM access_requests WHERE status = $1 AND created_at < $2`
	tag, err := r.pool.Exec(ctx, query, string(status), before)
	if err != nil {
		return 0, fmt.Errorf("delete stale requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
