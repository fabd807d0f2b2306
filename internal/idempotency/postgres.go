package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the backing table. Run it at deploy time; the store never
// migrates on its own.
const Schema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    fingerprint   TEXT PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    owner_user_id TEXT NOT NULL,
    item_summary  TEXT NOT NULL DEFAULT ''
);
`

// PostgresStore backs the dedup contract with a conditional insert so that
// multiple orchestrator instances behind a load balancer share one
// idempotency view. This is the swap-in described for multi-instance
// deployments; the memory store remains the single-process default.
type PostgresStore struct {
	pool *pgxpool.Pool

	now func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Lookup(ctx context.Context, fingerprint string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, created_at, expires_at, owner_user_id, item_summary
		   FROM idempotency_keys
		  WHERE fingerprint = $1 AND expires_at > $2`,
		fingerprint, s.now())

	var rec Record
	if err := row.Scan(&rec.Fingerprint, &rec.CreatedAt, &rec.ExpiresAt, &rec.OwnerUserID, &rec.ItemSummary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: lookup: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, rec Record) (*Record, bool, error) {
	// Insert, or take over an expired row. A live row wins the conflict and
	// the RETURNING clause yields nothing, which tells us we lost the race.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO idempotency_keys (fingerprint, created_at, expires_at, owner_user_id, item_summary)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fingerprint) DO UPDATE
		    SET created_at = EXCLUDED.created_at,
		        expires_at = EXCLUDED.expires_at,
		        owner_user_id = EXCLUDED.owner_user_id,
		        item_summary = EXCLUDED.item_summary
		  WHERE idempotency_keys.expires_at <= $6
		 RETURNING fingerprint`,
		rec.Fingerprint, rec.CreatedAt, rec.ExpiresAt, rec.OwnerUserID, rec.ItemSummary, s.now())

	var inserted string
	err := row.Scan(&inserted)
	if err == nil {
		out := rec
		return &out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("idempotency: insert: %w", err)
	}

	existing, err := s.Lookup(ctx, rec.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The winning row expired between the insert and the lookup. Rare
		// enough to surface as a retryable conflict rather than loop here.
		return nil, false, fmt.Errorf("idempotency: record for %s vanished during insert", rec.Fingerprint)
	}
	return existing, false, nil
}

func (s *PostgresStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("idempotency: delete: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
