package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engagic/engagic/civic"
)

// StoreAgendaItems replaces a meeting's item set. Items share the meeting's
// preservation law: an incoming item with no summary keeps the stored one.
// Items absent from the new set are deleted.
func (s *Store) StoreAgendaItems(meetingID string, items []civic.AgendaItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.storeAgendaItems(tx, meetingID, items); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) storeAgendaItems(tx *sql.Tx, meetingID string, items []civic.AgendaItem) error {
	now := time.Now().UTC()
	keep := make([]any, 0, len(items)+1)
	keep = append(keep, meetingID)
	placeholders := ""

	for i, item := range items {
		var atts any
		if len(item.Atts) > 0 {
			b, _ := json.Marshal(item.Atts)
			atts = string(b)
		}
		_, err := tx.Exec(`
			INSERT INTO agenda_items (id, meeting_id, title, sequence, attachments, summary, topics, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				sequence = excluded.sequence,
				attachments = COALESCE(excluded.attachments, attachments),
				summary = COALESCE(excluded.summary, summary),
				topics = COALESCE(excluded.topics, topics),
				updated_at = excluded.updated_at
		`, item.ID, meetingID, item.Title, item.Sequence, atts,
			nullStr(item.Summary), nullJSON(item.Topics), now, now)
		if err != nil {
			return fmt.Errorf("failed to store agenda item %s: %w", item.ID, err)
		}

		keep = append(keep, item.ID)
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}

	// Replace-set: drop items the vendor no longer lists.
	del := `DELETE FROM agenda_items WHERE meeting_id = ?`
	if len(items) > 0 {
		del += ` AND id NOT IN (` + placeholders + `)`
	}
	if _, err := tx.Exec(del, keep...); err != nil {
		return fmt.Errorf("failed to prune agenda items: %w", err)
	}
	return nil
}

const itemColumns = `id, meeting_id, title, sequence, attachments, summary, topics, created_at, updated_at`

// GetAgendaItems returns a meeting's items ordered by sequence.
func (s *Store) GetAgendaItems(meetingID string) ([]civic.AgendaItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM agenda_items
		WHERE meeting_id = ?
		ORDER BY sequence, id
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []civic.AgendaItem
	for rows.Next() {
		var item civic.AgendaItem
		var atts, summary, topics sql.NullString
		err := rows.Scan(&item.ID, &item.MeetingID, &item.Title, &item.Sequence,
			&atts, &summary, &topics, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if atts.Valid {
			_ = json.Unmarshal([]byte(atts.String), &item.Atts)
		}
		item.Summary = strOf(summary)
		item.Topics = jsonList(topics)
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemSummary writes one item's enrichment result.
func (s *Store) UpdateItemSummary(itemID, summary string, topics []string) error {
	res, err := s.db.Exec(`
		UPDATE agenda_items SET summary = ?, topics = COALESCE(?, topics), updated_at = ?
		WHERE id = ?
	`, summary, nullJSON(topics), time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("failed to update item summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
