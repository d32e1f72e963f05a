package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"concierge/pkg/limiter"
)

// SaveBucket upserts one identity's bucket snapshot. Implements
// limiter.Store.
func (s *Store) SaveBucket(identity string, state limiter.BucketState) error {
	var blockedUntil any
	if !state.BlockedUntil.IsZero() {
		blockedUntil = state.BlockedUntil.UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO rate_buckets (identity, tokens, last_refill, warnings, blocked_until, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO UPDATE SET
			tokens = excluded.tokens,
			last_refill = excluded.last_refill,
			warnings = excluded.warnings,
			blocked_until = excluded.blocked_until,
			updated_at = CURRENT_TIMESTAMP`,
		identity, state.Tokens, state.LastRefill.UTC(), state.Warnings, blockedUntil)
	if err != nil {
		return fmt.Errorf("failed to save bucket for %s: %w", identity, err)
	}
	return nil
}

// LoadBuckets restores all bucket snapshots. Implements limiter.Store.
func (s *Store) LoadBuckets() (map[string]limiter.BucketState, error) {
	rows, err := s.db.Query(`SELECT identity, tokens, last_refill, warnings, blocked_until FROM rate_buckets`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	buckets := make(map[string]limiter.BucketState)
	for rows.Next() {
		var identity string
		var state limiter.BucketState
		var blockedUntil sql.NullTime
		if err := rows.Scan(&identity, &state.Tokens, &state.LastRefill, &state.Warnings, &blockedUntil); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		if blockedUntil.Valid {
			state.BlockedUntil = blockedUntil.Time
		}
		buckets[identity] = state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate buckets: %w", err)
	}
	return buckets, nil
}

// PruneBuckets removes snapshots not updated since the cutoff.
func (s *Store) PruneBuckets(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM rate_buckets WHERE updated_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune buckets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned buckets: %w", err)
	}
	return n, nil
}
