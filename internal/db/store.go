package db

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"
)

// Store implements the pipeline repositories over SQLite.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *DB { return s.db }

// execer is satisfied by both *sql.DB and *sql.Tx so repository writes can
// run standalone or inside the sync transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// --- scan helpers ---

// nullStr converts an empty string to NULL so COALESCE-preserving upserts
// never overwrite stored values with "".
func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// nullJSON marshals v to a JSON string, or NULL when v is empty.
func nullJSON(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		if len(t) == 0 {
			return nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func strOf(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func floatOf(nf sql.NullFloat64) float64 {
	if nf.Valid {
		return nf.Float64
	}
	return 0
}

func timePtrOf(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

func jsonList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}
