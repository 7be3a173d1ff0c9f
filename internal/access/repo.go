package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoGrant marks a lookup that found no grant row.
var ErrNoGrant = errors.New("access: no grant")

// Repository persists access grants.
type Repository interface {
	Find(ctx context.Context, key Key) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, key Key) error
	// ReapExpired removes grants whose expiry has passed and returns them so
	// the caller can broadcast revocations.
	ReapExpired(ctx context.Context, now time.Time, limit int) ([]Record, error)
}

// PostgresRepository implements Repository over pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Find returns the grant for a key, or ErrNoGrant.
func (r *PostgresRepository) Find(ctx context.Context, key Key) (Record, error) {
	const query = `SELECT source, granted_at, expires_at
FROM access_grants WHERE feature = $1 AND feature_id = $2 AND email = $3`

	rec := Record{Key: key}
	var expiresAt time.Time
	err := r.pool.QueryRow(ctx, query, string(key.Feature), key.FeatureID, key.Email).
		Scan(&rec.Source, &rec.GrantedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNoGrant
		}
		return Record{}, fmt.Errorf("find grant: %w", err)
	}
	rec.ExpiresAt = &expiresAt
	return rec, nil
}

// Upsert inserts or extends a grant.
func (r *PostgresRepository) Upsert(ctx context.Context, rec Record) error {
	if rec.ExpiresAt == nil {
		return errors.New("access: grant requires an expiry")
	}
	const query = `INSERT INTO access_grants (feature, feature_id, email, source, granted_at, expires_at)
VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6)
ON CONFLICT (feature, feature_id, email)
DO UPDATE SET source = EXCLUDED.source, granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at`

	var grantedAt any
	if !rec.GrantedAt.IsZero() {
		grantedAt = rec.GrantedAt
	}
	_, err := r.pool.Exec(ctx, query,
		string(rec.Key.Feature), rec.Key.FeatureID, rec.Key.Email, rec.Source, grantedAt, *rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

// Delete removes a grant. Deleting a missing grant is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, key Key) error {
	const query = `DELETE FROM access_grants WHERE feature = $1 AND feature_id = $2 AND email = $3`
	_, err := r.pool.Exec(ctx, query, string(key.Feature), key.FeatureID, key.Email)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// ReapExpired deletes up to limit expired grants and returns them.
func (r *PostgresRepository) ReapExpired(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	const query = `DELETE FROM access_grants
WHERE (feature, feature_id, email) IN (
	SELECT feature, feature_id, email FROM access_grants
	WHERE expires_at <= $1
	ORDER BY expires_at ASC
	LIMIT $2
)
RETURNING feature, feature_id, email, source, granted_at, expires_at`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reap expired grants: %w", err)
	}
	defer rows.Close()

	var reaped []Record
	for rows.Next() {
		var rec Record
		var feature string
		var expiresAt time.Time
		if err := rows.Scan(&feature, &rec.Key.FeatureID, &rec.Key.Email, &rec.Source, &rec.GrantedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan expired grant: %w", err)
		}
		rec.Key.Feature = Feature(feature)
		rec.ExpiresAt = &expiresAt
		reaped = append(reaped, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reaped, nil
}
