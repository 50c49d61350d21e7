package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engagic/engagic/civic"
)

// SyncStats summarizes one StoreMeetingFromSync call. Rejected records are
// counted instead of raised so the sweep keeps going.
type SyncStats struct {
	MeetingsStored  int    `json:"meetings_stored"`
	MeetingsSkipped int    `json:"meetings_skipped"`
	ItemsStored     int    `json:"items_stored"`
	Enqueued        int    `json:"enqueued"`
	SkipReason      string `json:"skip_reason,omitempty"`
	SkippedTitle    string `json:"skipped_title,omitempty"`
}

// StoreMeeting upserts a meeting. Enrichment fields (summary, topics,
// participation, processing method and time) are preserved when the incoming
// values are NULL, so a re-sync never erases completed work; everything else,
// status included, takes the incoming value so upstream corrections land.
// updated_at bumps on every upsert; created_at is set once.
func (s *Store) StoreMeeting(m *civic.Meeting) error {
	return s.storeMeeting(s.db.DB, m)
}

func (s *Store) storeMeeting(q execer, m *civic.Meeting) error {
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = civic.ProcessingPending
	}
	now := time.Now().UTC()

	var packet any
	if !m.PacketURL.IsZero() {
		b, _ := json.Marshal(m.PacketURL)
		packet = string(b)
	}
	var participation any
	if m.Participation != nil && !m.Participation.IsZero() {
		b, _ := json.Marshal(m.Participation)
		participation = string(b)
	}

	_, err := q.Exec(`
		INSERT INTO meetings (
			id, city_banana, title, date, agenda_url, packet_url,
			summary, participation, status, topics,
			processing_status, processing_method, processing_time,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			city_banana = excluded.city_banana,
			title = excluded.title,
			date = excluded.date,
			agenda_url = excluded.agenda_url,
			packet_url = excluded.packet_url,
			summary = COALESCE(excluded.summary, summary),
			participation = COALESCE(excluded.participation, participation),
			status = excluded.status,
			topics = COALESCE(excluded.topics, topics),
			processing_status = CASE
				WHEN excluded.summary IS NOT NULL THEN excluded.processing_status
				ELSE processing_status
			END,
			processing_method = COALESCE(excluded.processing_method, processing_method),
			processing_time = COALESCE(excluded.processing_time, processing_time),
			updated_at = excluded.updated_at
	`,
		m.ID, m.CityBanana, m.Title, nullTime(m.Date), nullStr(m.AgendaURL), packet,
		nullStr(m.Summary), participation, nullStr(string(m.Status)), nullJSON(m.Topics),
		string(m.ProcessingStatus), nullStr(m.ProcessingMethod), nullFloat(m.ProcessingTime),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store meeting %s: %w", m.ID, err)
	}
	return nil
}

const meetingColumns = `id, city_banana, title, date, agenda_url, packet_url,
	summary, participation, status, topics,
	processing_status, processing_method, processing_time, created_at, updated_at`

func scanMeeting(row interface{ Scan(...any) error }) (*civic.Meeting, error) {
	var m civic.Meeting
	var date sql.NullTime
	var agendaURL, packet, summary, participation, status, topics, method sql.NullString
	var ptime sql.NullFloat64

	err := row.Scan(&m.ID, &m.CityBanana, &m.Title, &date, &agendaURL, &packet,
		&summary, &participation, &status, &topics,
		(*string)(&m.ProcessingStatus), &method, &ptime, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Date = timePtrOf(date)
	m.AgendaURL = strOf(agendaURL)
	if packet.Valid {
		_ = m.PacketURL.UnmarshalJSON([]byte(packet.String))
	}
	m.Summary = strOf(summary)
	if participation.Valid {
		var p civic.Participation
		if json.Unmarshal([]byte(participation.String), &p) == nil {
			m.Participation = &p
		}
	}
	m.Status = civic.MeetingStatus(strOf(status))
	m.Topics = jsonList(topics)
	m.ProcessingMethod = strOf(method)
	m.ProcessingTime = floatOf(ptime)
	return &m, nil
}

// GetMeeting retrieves a meeting by id.
func (s *Store) GetMeeting(id string) (*civic.Meeting, error) {
	row := s.db.QueryRow(`SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetMeetingsForCity returns the city's meetings newest first.
func (s *Store) GetMeetingsForCity(banana string, limit int) ([]civic.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+meetingColumns+` FROM meetings
		WHERE city_banana = ?
		ORDER BY date DESC
		LIMIT ?
	`, banana, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// GetMeetingsByTopic returns meetings tagged with a canonical topic.
func (s *Store) GetMeetingsByTopic(topic string, limit int) ([]civic.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	// topics is a JSON array; match the quoted element
	rows, err := s.db.Query(`
		SELECT `+meetingColumns+` FROM meetings
		WHERE topics LIKE ?
		ORDER BY date DESC
		LIMIT ?
	`, `%"`+topic+`"%`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// GetUnprocessedMeetings returns meetings that have a packet but no summary,
// used by the periodic catch-up pass.
func (s *Store) GetUnprocessedMeetings(limit int) ([]civic.Meeting, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+meetingColumns+` FROM meetings
		WHERE summary IS NULL
		  AND packet_url IS NOT NULL
		  AND processing_status IN ('pending', 'failed')
		ORDER BY date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// RecentMeetingCount counts a city's meetings dated within the window,
// feeding the adaptive sync-due policy.
func (s *Store) RecentMeetingCount(banana string, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM meetings WHERE city_banana = ? AND date >= ?
	`, banana, cutoff).Scan(&n)
	return n, err
}

func collectMeetings(rows *sql.Rows) ([]civic.Meeting, error) {
	var meetings []civic.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	return meetings, rows.Err()
}

// UpdateMeetingSummary writes enrichment results for a meeting and marks it
// completed.
func (s *Store) UpdateMeetingSummary(id, summary, method string, seconds float64, participation *civic.Participation, topics []string) error {
	return s.updateMeetingSummary(s.db.DB, id, summary, method, seconds, participation, topics)
}

func (s *Store) updateMeetingSummary(q execer, id, summary, method string, seconds float64, participation *civic.Participation, topics []string) error {
	var part any
	if participation != nil && !participation.IsZero() {
		b, _ := json.Marshal(participation)
		part = string(b)
	}
	res, err := q.Exec(`
		UPDATE meetings SET
			summary = ?,
			processing_method = ?,
			processing_time = ?,
			participation = COALESCE(?, participation),
			topics = COALESCE(?, topics),
			processing_status = 'completed',
			updated_at = ?
		WHERE id = ?
	`, summary, method, seconds, part, nullJSON(topics), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update meeting summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMeetingProcessing updates a meeting's processing status.
func (s *Store) MarkMeetingProcessing(id string, status civic.ProcessingStatus) error {
	_, err := s.db.Exec(`
		UPDATE meetings SET processing_status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	return err
}

// StoreMeetingFromSync is the sync orchestrator: it validates the record's
// packet URLs against the effective vendor, builds the meeting and its agenda
// items, persists them in one transaction, and decides what to enqueue.
// Rejected records return (nil, stats) with a skip reason instead of an error.
func (s *Store) StoreMeetingFromSync(rec civic.MeetingRecord, city *civic.City) (*civic.Meeting, *SyncStats, error) {
	stats := &SyncStats{}

	id := rec.MeetingID
	if id == "" {
		if rec.Title == "" {
			stats.MeetingsSkipped = 1
			stats.SkipReason = "missing_id"
			return nil, stats, nil
		}
		id = contentHashID(city.Banana, rec.Title, rec.Start)
	}

	// Delegated records carry the vendor that actually served them; validate
	// packet URLs against that vendor's hosts, not the fronting city's.
	vendor, slug := city.Vendor, city.VendorSlug
	if rec.SourceVendor != "" {
		vendor, slug = rec.SourceVendor, rec.SourceSlug
	}

	switch civic.ValidatePacket(vendor, slug, rec.PacketURL) {
	case civic.ValidationReject:
		stats.MeetingsSkipped = 1
		stats.SkipReason = "url_validation"
		stats.SkippedTitle = rec.Title
		s.logger.Warn("rejected meeting packet url",
			"city", city.Banana, "vendor", vendor, "title", rec.Title)
		return nil, stats, nil
	case civic.ValidationWarn:
		s.logger.Warn("packet url is relative or malformed, storing anyway",
			"city", city.Banana, "meeting", id)
	}

	meeting := &civic.Meeting{
		ID:               id,
		CityBanana:       city.Banana,
		Title:            rec.Title,
		Date:             rec.Start,
		AgendaURL:        rec.AgendaURL,
		PacketURL:        rec.PacketURL,
		Status:           rec.MeetingStatus,
		ProcessingStatus: civic.ProcessingPending,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, stats, err
	}
	defer tx.Rollback()

	if err := s.storeMeeting(tx, meeting); err != nil {
		return nil, stats, err
	}
	stats.MeetingsStored = 1

	if len(rec.Items) > 0 {
		items := make([]civic.AgendaItem, 0, len(rec.Items))
		for _, ir := range rec.Items {
			items = append(items, civic.AgendaItem{
				ID:        civic.ItemID(id, ir.ItemID),
				MeetingID: id,
				Title:     ir.Title,
				Sequence:  ir.Sequence,
				Atts:      ir.Attachments,
			})
		}
		if err := s.storeAgendaItems(tx, id, items); err != nil {
			return nil, stats, err
		}
		stats.ItemsStored = len(items)
	}

	if err := s.decideEnqueue(tx, meeting, rec, stats); err != nil {
		return nil, stats, err
	}

	if err := tx.Commit(); err != nil {
		return nil, stats, err
	}
	return meeting, stats, nil
}

// decideEnqueue applies the golden-path enqueue policy in priority order.
// Everything here runs inside the sync transaction and is idempotent.
func (s *Store) decideEnqueue(tx *sql.Tx, m *civic.Meeting, rec civic.MeetingRecord, stats *SyncStats) error {
	// 1. Items with summaries already exist: nothing to do.
	var summarized int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM agenda_items WHERE meeting_id = ? AND summary IS NOT NULL
	`, m.ID).Scan(&summarized)
	if err != nil {
		return err
	}
	if summarized > 0 {
		return nil
	}

	// 2. A monolithic summary already exists: nothing to do.
	var existing sql.NullString
	err = tx.QueryRow(`SELECT summary FROM meetings WHERE id = ?`, m.ID).Scan(&existing)
	if err != nil {
		return err
	}
	if existing.Valid && existing.String != "" {
		return nil
	}

	priority := civic.SyncPriority(m.Date, time.Now().UTC())
	meta := map[string]string{"city_banana": m.CityBanana}

	// 3. Items present: enqueue the synthetic item-batch job.
	if len(rec.Items) > 0 {
		rowID, err := s.enqueue(tx, civic.ItemsSourceURL(m.ID), m.ID, m.CityBanana, priority, meta)
		if err != nil {
			return err
		}
		if rowID >= 0 {
			stats.Enqueued++
		}
		return nil
	}

	// 4. A packet exists: enqueue it for monolithic processing.
	if !m.PacketURL.IsZero() {
		rowID, err := s.enqueue(tx, m.PacketURL.CacheKey(), m.ID, m.CityBanana, priority, meta)
		if err != nil {
			return err
		}
		if rowID >= 0 {
			stats.Enqueued++
		}
	}
	return nil
}

// contentHashID derives a stable meeting id for vendors that provide none.
func contentHashID(banana, title string, date *time.Time) string {
	h := sha256.New()
	h.Write([]byte(banana))
	h.Write([]byte{0})
	h.Write([]byte(title))
	if date != nil {
		h.Write([]byte{0})
		h.Write([]byte(date.UTC().Format(time.RFC3339)))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
