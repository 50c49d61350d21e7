package engagic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/internal/db"
	"github.com/engagic/engagic/llm"
	"github.com/engagic/engagic/pdf"
	"github.com/engagic/engagic/pipeline"
)

// workerStore is the slice of the database the queue worker needs.
type workerStore interface {
	GetNextForProcessing(banana string) (*civic.QueueEntry, error)
	MarkProcessingComplete(id int64) error
	MarkProcessingFailed(id int64, msg string, incrementRetry bool) error
	GetMeeting(id string) (*civic.Meeting, error)
	GetAgendaItems(meetingID string) ([]civic.AgendaItem, error)
	UpdateItemSummary(itemID, summary string, topics []string) error
	GetUnprocessedMeetings(limit int) ([]civic.Meeting, error)
	EnqueueForProcessing(sourceURL, meetingID, banana string, priority int, metadata map[string]string) (int64, error)
}

// meetingAnalyzer processes one monolithic packet.
type meetingAnalyzer interface {
	AnalyzeMeeting(ctx context.Context, m *civic.Meeting) (*pipeline.Result, error)
}

// itemBatcher runs the item-sweep batch path.
type itemBatcher interface {
	Available() bool
	SummarizeItemsBatch(ctx context.Context, reqs []llm.ItemRequest, fn func([]llm.ItemResult) error) error
}

// Worker drains the processing queue: claim, branch on source scheme,
// process, mark.
type Worker struct {
	store     workerStore
	analyzer  meetingAnalyzer
	batcher   itemBatcher
	extractor pipeline.Extractor
	logger    *slog.Logger
}

// NewWorker wires the queue worker.
func NewWorker(store workerStore, analyzer meetingAnalyzer, batcher itemBatcher, extractor pipeline.Extractor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, analyzer: analyzer, batcher: batcher, extractor: extractor, logger: logger}
}

// DrainQueue claims and processes entries until the queue is empty or the
// context ends. Returns the number of entries processed, failures included.
func (w *Worker) DrainQueue(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		entry, err := w.store.GetNextForProcessing("")
		if errors.Is(err, db.ErrNotFound) {
			return processed, nil
		}
		if err != nil {
			return processed, fmt.Errorf("failed to claim queue entry: %w", err)
		}
		processed++
		w.ProcessEntry(ctx, entry)
	}
}

// ProcessEntry runs one claimed entry to completion, recording failure with a
// retry bump on error.
func (w *Worker) ProcessEntry(ctx context.Context, entry *civic.QueueEntry) {
	w.logger.Info("processing queue entry",
		"id", entry.ID, "meeting_id", entry.MeetingID, "priority", entry.Priority, "retries", entry.RetryCount)

	var err error
	if strings.HasPrefix(entry.SourceURL, civic.ItemsScheme) {
		err = w.processItemBatch(ctx, entry)
	} else {
		err = w.processPacket(ctx, entry)
	}

	if err != nil {
		w.logger.Error("queue entry failed", "id", entry.ID, "error", err)
		if markErr := w.store.MarkProcessingFailed(entry.ID, err.Error(), true); markErr != nil {
			w.logger.Error("failed to record queue failure", "id", entry.ID, "error", markErr)
		}
		return
	}
	if err := w.store.MarkProcessingComplete(entry.ID); err != nil {
		w.logger.Error("failed to mark queue entry complete", "id", entry.ID, "error", err)
	}
}

// processPacket runs the monolithic analysis path.
func (w *Worker) processPacket(ctx context.Context, entry *civic.QueueEntry) error {
	meeting, err := w.store.GetMeeting(entry.MeetingID)
	if err != nil {
		return fmt.Errorf("failed to load meeting %s: %w", entry.MeetingID, err)
	}
	result, err := w.analyzer.AnalyzeMeeting(ctx, meeting)
	if err != nil {
		return err
	}
	w.logger.Info("packet processed",
		"meeting_id", meeting.ID, "method", result.Method, "cached", result.Cached,
		"seconds", result.ProcessingTime)
	return nil
}

// processItemBatch runs the items:// path: extract each item's attachments,
// batch-summarize, persist incrementally per chunk. Individual item failures
// leave the entry completed with partial results; a failed batch submission
// or an exhausted quota fails the entry so a later retry picks up the items
// still missing summaries.
func (w *Worker) processItemBatch(ctx context.Context, entry *civic.QueueEntry) error {
	if !w.batcher.Available() {
		return fmt.Errorf("summarizer not configured")
	}

	meetingID := strings.TrimPrefix(entry.SourceURL, civic.ItemsScheme)
	items, err := w.store.GetAgendaItems(meetingID)
	if err != nil {
		return fmt.Errorf("failed to load agenda items for %s: %w", meetingID, err)
	}

	var reqs []llm.ItemRequest
	for _, item := range items {
		if item.Summary != "" {
			continue
		}
		text := w.itemText(ctx, item)
		if text == "" {
			continue
		}
		reqs = append(reqs, llm.ItemRequest{ItemID: item.ID, Title: item.Title, Text: text})
	}
	if len(reqs) == 0 {
		w.logger.Info("no items need summarization", "meeting_id", meetingID, "items", len(items))
		return nil
	}

	succeeded, failed := 0, 0
	err = w.batcher.SummarizeItemsBatch(ctx, reqs, func(results []llm.ItemResult) error {
		for _, r := range results {
			if r.Err != nil {
				w.logger.Warn("item summarization failed", "item_id", r.ItemID, "error", r.Err)
				failed++
				continue
			}
			if err := w.store.UpdateItemSummary(r.ItemID, r.Summary.Markdown(), r.Summary.Topics); err != nil {
				return fmt.Errorf("failed to store item summary %s: %w", r.ItemID, err)
			}
			succeeded++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("item batch for %s failed: %w", meetingID, err)
	}

	w.logger.Info("item batch processed",
		"meeting_id", meetingID, "succeeded", succeeded, "failed", failed, "total", len(reqs))
	return nil
}

// itemText extracts and joins an item's attachment texts. Per-attachment
// failures are logged and skipped.
func (w *Worker) itemText(ctx context.Context, item civic.AgendaItem) string {
	var parts []string
	for _, att := range item.Atts {
		if att.URL == "" {
			continue
		}
		res := w.extractor.ExtractFromURL(ctx, att.URL)
		if !res.Success {
			w.logger.Warn("attachment extraction failed",
				"item_id", item.ID, "url", att.URL, "error", res.Error)
			continue
		}
		parts = append(parts, res.Text)
	}
	return pdf.Normalize(strings.Join(parts, "\n\n"))
}

// CatchUpUnprocessed re-enqueues meetings that have a packet but were missed
// by per-record enqueue, then drains the queue.
func (w *Worker) CatchUpUnprocessed(ctx context.Context, limit int) (int, error) {
	meetings, err := w.store.GetUnprocessedMeetings(limit)
	if err != nil {
		return 0, fmt.Errorf("failed to scan unprocessed meetings: %w", err)
	}

	enqueued := 0
	now := time.Now()
	for _, m := range meetings {
		if m.PacketURL.IsZero() {
			continue
		}
		id, err := w.store.EnqueueForProcessing(m.PacketURL.CacheKey(), m.ID, m.CityBanana, civic.SyncPriority(m.Date, now), nil)
		if err != nil {
			w.logger.Warn("failed to enqueue stray meeting", "meeting_id", m.ID, "error", err)
			continue
		}
		if id != db.EnqueueSkipped {
			enqueued++
		}
	}
	if enqueued > 0 {
		w.logger.Info("catch-up enqueued stray meetings", "count", enqueued)
	}
	return w.DrainQueue(ctx)
}
