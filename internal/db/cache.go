package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/engagic/engagic/civic"
)

// GetCachedSummary looks up a completed processing result by packet cache key
// and, together with the cache row, returns the meeting-level summary that was
// produced for that packet. A hit bumps cache_hit_count and last_accessed.
func (s *Store) GetCachedSummary(packet civic.PacketURL) (*civic.CacheEntry, *civic.Meeting, error) {
	key := packet.CacheKey()
	if key == "" {
		return nil, nil, ErrNotFound
	}

	row := s.db.QueryRow(`
		UPDATE processing_cache
		SET cache_hit_count = cache_hit_count + 1, last_accessed = ?
		WHERE packet_url = ?
		RETURNING packet_url, content_hash, processing_method, processing_time,
			cache_hit_count, created_at, last_accessed
	`, time.Now().UTC(), key)

	var e civic.CacheEntry
	var hash sql.NullString
	err := row.Scan(&e.PacketURL, &hash, &e.ProcessingMethod, &e.ProcessingTime,
		&e.CacheHitCount, &e.CreatedAt, &e.LastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read processing cache: %w", err)
	}
	e.ContentHash = strOf(hash)

	// Find the summarized meeting that carries this packet.
	mrow := s.db.QueryRow(`
		SELECT `+meetingColumns+` FROM meetings
		WHERE packet_url = ? AND summary IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`, s.packetColumnValue(packet))
	m, merr := scanMeeting(mrow)
	if merr != nil {
		// Cache row without a summarized meeting still counts as a hit for
		// method/time bookkeeping.
		return &e, nil, nil
	}
	return &e, m, nil
}

// packetColumnValue mirrors how storeMeeting serializes packet_url.
func (s *Store) packetColumnValue(packet civic.PacketURL) string {
	b, _ := packet.MarshalJSON()
	return string(b)
}

// StoreProcessingResult records a completed extraction so identical packets
// are never processed twice.
func (s *Store) StoreProcessingResult(packet civic.PacketURL, contentHash, method string, seconds float64) error {
	return s.storeProcessingResult(s.db.DB, packet, contentHash, method, seconds)
}

func (s *Store) storeProcessingResult(q execer, packet civic.PacketURL, contentHash, method string, seconds float64) error {
	key := packet.CacheKey()
	if key == "" {
		return nil
	}
	_, err := q.Exec(`
		INSERT INTO processing_cache (packet_url, content_hash, processing_method, processing_time, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(packet_url) DO UPDATE SET
			content_hash = excluded.content_hash,
			processing_method = excluded.processing_method,
			processing_time = excluded.processing_time,
			last_accessed = excluded.last_accessed
	`, key, nullStr(contentHash), method, seconds, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store processing result: %w", err)
	}
	return nil
}

// CompleteMeetingProcessing writes a meeting's enrichment result and its
// processing-cache row in one transaction.
func (s *Store) CompleteMeetingProcessing(meetingID string, packet civic.PacketURL, summary, method string, seconds float64, participation *civic.Participation, topics []string, contentHash string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateMeetingSummary(tx, meetingID, summary, method, seconds, participation, topics); err != nil {
		return err
	}
	if err := s.storeProcessingResult(tx, packet, contentHash, method, seconds); err != nil {
		return err
	}
	return tx.Commit()
}
