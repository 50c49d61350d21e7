package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engagic/engagic/civic"
)

// EnqueueSkipped is the sentinel EnqueueForProcessing returns when the row is
// already pending or processing and must not be touched.
const EnqueueSkipped = int64(-1)

// DeadLetterThreshold is how many failures a queue entry may accrue before it
// stops being scheduled.
const DeadLetterThreshold = 3

// EnqueueForProcessing upserts a work item keyed by source URL.
//
// If the row is currently pending or processing nothing changes and the
// sentinel is returned: in-flight jobs are immutable from the enqueuer side.
// If the row is completed, failed or dead-lettered it resets to pending with
// retry_count zeroed and the new priority/metadata, and the existing row id is
// returned, so jobs whose inputs changed are reprocessable.
func (s *Store) EnqueueForProcessing(sourceURL, meetingID, banana string, priority int, metadata map[string]string) (int64, error) {
	return s.enqueue(s.db.DB, sourceURL, meetingID, banana, priority, metadata)
}

func (s *Store) enqueue(q execer, sourceURL, meetingID, banana string, priority int, metadata map[string]string) (int64, error) {
	var meta any
	if len(metadata) > 0 {
		b, _ := json.Marshal(metadata)
		meta = string(b)
	}

	res, err := q.Exec(`
		INSERT INTO processing_queue (source_url, meeting_id, city_banana, status, priority, processing_metadata, created_at)
		VALUES (?, ?, ?, 'pending', ?, ?, ?)
		ON CONFLICT(source_url) DO UPDATE SET
			status = 'pending',
			priority = excluded.priority,
			retry_count = 0,
			error_message = NULL,
			processing_metadata = excluded.processing_metadata,
			started_at = NULL,
			completed_at = NULL
		WHERE processing_queue.status IN ('completed', 'failed', 'dead_letter')
	`, sourceURL, meetingID, banana, priority, meta, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s: %w", sourceURL, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// Row exists and is pending or processing: leave it alone.
		return EnqueueSkipped, nil
	}

	var id int64
	err = q.QueryRow(`SELECT id FROM processing_queue WHERE source_url = ?`, sourceURL).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const queueColumns = `id, source_url, meeting_id, city_banana, status, priority,
	retry_count, error_message, processing_metadata, created_at, started_at, completed_at`

func scanQueueEntry(row interface{ Scan(...any) error }) (*civic.QueueEntry, error) {
	var e civic.QueueEntry
	var errMsg, meta sql.NullString
	var started, completed sql.NullTime
	err := row.Scan(&e.ID, &e.SourceURL, &e.MeetingID, &e.CityBanana,
		(*string)(&e.Status), &e.Priority, &e.RetryCount, &errMsg, &meta,
		&e.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	e.ErrorMessage = strOf(errMsg)
	if meta.Valid {
		_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
	}
	e.StartedAt = timePtrOf(started)
	e.CompletedAt = timePtrOf(completed)
	return &e, nil
}

// GetQueueEntry fetches one entry by source URL.
func (s *Store) GetQueueEntry(sourceURL string) (*civic.QueueEntry, error) {
	row := s.db.QueryRow(`SELECT `+queueColumns+` FROM processing_queue WHERE source_url = ?`, sourceURL)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// GetNextForProcessing atomically claims the highest-priority pending entry,
// optionally filtered by city, and moves it to processing. Returns ErrNotFound
// when the queue is drained. Safe under concurrent workers: the claim is a
// single conditional UPDATE.
func (s *Store) GetNextForProcessing(banana string) (*civic.QueueEntry, error) {
	query := `
		UPDATE processing_queue
		SET status = 'processing', started_at = ?
		WHERE id = (
			SELECT id FROM processing_queue
			WHERE status = 'pending'`
	args := []any{time.Now().UTC()}
	if banana != "" {
		query += ` AND city_banana = ?`
		args = append(args, banana)
	}
	query += `
			ORDER BY priority DESC, id ASC
			LIMIT 1
		)
		RETURNING ` + queueColumns

	row := s.db.QueryRow(query, args...)
	e, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// MarkProcessingComplete finishes a claimed entry.
func (s *Store) MarkProcessingComplete(id int64) error {
	_, err := s.db.Exec(`
		UPDATE processing_queue
		SET status = 'completed', completed_at = ?, error_message = NULL
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry complete: %w", err)
	}
	return nil
}

// MarkProcessingFailed records a failure. With incrementRetry, the retry count
// bumps and the entry dead-letters once it crosses the threshold.
func (s *Store) MarkProcessingFailed(id int64, msg string, incrementRetry bool) error {
	bump := 0
	if incrementRetry {
		bump = 1
	}
	_, err := s.db.Exec(`
		UPDATE processing_queue
		SET retry_count = retry_count + ?,
			error_message = ?,
			completed_at = ?,
			status = CASE
				WHEN retry_count + ? >= ? THEN 'dead_letter'
				ELSE 'failed'
			END
		WHERE id = ?
	`, bump, msg, time.Now().UTC(), bump, DeadLetterThreshold, id)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry failed: %w", err)
	}
	return nil
}

// QueueStats reports per-status counts and the average processing duration.
type QueueStats struct {
	Pending           int     `json:"pending"`
	Processing        int     `json:"processing"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	DeadLetter        int     `json:"dead_letter"`
	AvgProcessSeconds float64 `json:"avg_process_seconds"`
}

// GetQueueStats aggregates the queue table.
func (s *Store) GetQueueStats() (*QueueStats, error) {
	stats := &QueueStats{}
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM processing_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch civic.QueueStatus(status) {
		case civic.QueuePending:
			stats.Pending = n
		case civic.QueueProcessing:
			stats.Processing = n
		case civic.QueueCompleted:
			stats.Completed = n
		case civic.QueueFailed:
			stats.Failed = n
		case civic.QueueDeadLetter:
			stats.DeadLetter = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
		FROM processing_queue
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, err
	}
	stats.AvgProcessSeconds = floatOf(avg)
	return stats, nil
}
