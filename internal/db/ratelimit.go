package db

import (
	"fmt"
	"time"
)

// RateLimiter is a persistent sliding-window counter keyed by client
// identifier. It lives in its own database file so limits survive process
// restarts and never contend with pipeline writes.
type RateLimiter struct {
	db     *DB
	limit  int
	window time.Duration
}

// OpenRateLimiter opens (or creates) the rate-limit database.
func OpenRateLimiter(dbPath string, limit int, window time.Duration) (*RateLimiter, error) {
	d, err := openRaw(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate limit db: %w", err)
	}
	_, err = d.Exec(`
		CREATE TABLE IF NOT EXISTS rate_limits (
			client_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rate_limits_client ON rate_limits(client_id, timestamp);
	`)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create rate limit table: %w", err)
	}
	return &RateLimiter{db: d, limit: limit, window: window}, nil
}

// Check prunes expired rows for the client, then either denies the request or
// records it. Returns whether the request is allowed and how many remain in
// the current window.
func (r *RateLimiter) Check(clientID string) (allowed bool, remaining int, err error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.window)

	tx, err := r.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rate_limits WHERE client_id = ? AND timestamp < ?`, clientID, cutoff); err != nil {
		return false, 0, fmt.Errorf("failed to prune rate limit rows: %w", err)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM rate_limits WHERE client_id = ?`, clientID).Scan(&count); err != nil {
		return false, 0, err
	}

	if count >= r.limit {
		return false, 0, tx.Commit()
	}

	if _, err := tx.Exec(`INSERT INTO rate_limits (client_id, timestamp) VALUES (?, ?)`, clientID, now); err != nil {
		return false, 0, fmt.Errorf("failed to record request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, r.limit - count - 1, nil
}

// Close closes the underlying database.
func (r *RateLimiter) Close() error { return r.db.Close() }
