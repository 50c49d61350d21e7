package engagic

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/internal/db"
	"github.com/engagic/engagic/llm"
	"github.com/engagic/engagic/pdf"
	"github.com/engagic/engagic/pipeline"
)

type fakeWorkerStore struct {
	queue       []*civic.QueueEntry
	meetings    map[string]*civic.Meeting
	items       map[string][]civic.AgendaItem
	unprocessed []civic.Meeting

	completed     []int64
	failed        map[int64]string
	itemSummaries map[string]string
	enqueued      []string
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{
		meetings:      make(map[string]*civic.Meeting),
		items:         make(map[string][]civic.AgendaItem),
		failed:        make(map[int64]string),
		itemSummaries: make(map[string]string),
	}
}

func (f *fakeWorkerStore) GetNextForProcessing(banana string) (*civic.QueueEntry, error) {
	if len(f.queue) == 0 {
		return nil, db.ErrNotFound
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	return entry, nil
}

func (f *fakeWorkerStore) MarkProcessingComplete(id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeWorkerStore) MarkProcessingFailed(id int64, msg string, incrementRetry bool) error {
	f.failed[id] = msg
	return nil
}

func (f *fakeWorkerStore) GetMeeting(id string) (*civic.Meeting, error) {
	m, ok := f.meetings[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return m, nil
}

func (f *fakeWorkerStore) GetAgendaItems(meetingID string) ([]civic.AgendaItem, error) {
	return f.items[meetingID], nil
}

func (f *fakeWorkerStore) UpdateItemSummary(itemID, summary string, topics []string) error {
	f.itemSummaries[itemID] = summary
	return nil
}

func (f *fakeWorkerStore) GetUnprocessedMeetings(limit int) ([]civic.Meeting, error) {
	return f.unprocessed, nil
}

func (f *fakeWorkerStore) EnqueueForProcessing(sourceURL, meetingID, banana string, priority int, metadata map[string]string) (int64, error) {
	f.enqueued = append(f.enqueued, sourceURL)
	return int64(len(f.enqueued)), nil
}

type fakeAnalyzer struct {
	analyzed []string
	err      error
}

func (f *fakeAnalyzer) AnalyzeMeeting(ctx context.Context, m *civic.Meeting) (*pipeline.Result, error) {
	f.analyzed = append(f.analyzed, m.ID)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Success: true, Method: "primary+gemini-2.5-flash"}, nil
}

type fakeBatcher struct {
	available bool
	results   map[string]llm.ItemResult
	err       error
	got       []llm.ItemRequest
}

func (f *fakeBatcher) Available() bool { return f.available }

func (f *fakeBatcher) SummarizeItemsBatch(ctx context.Context, reqs []llm.ItemRequest, fn func([]llm.ItemResult) error) error {
	f.got = reqs
	if f.err != nil {
		return f.err
	}
	var results []llm.ItemResult
	for _, r := range reqs {
		if res, ok := f.results[r.ItemID]; ok {
			results = append(results, res)
		} else {
			results = append(results, llm.ItemResult{
				ItemID:  r.ItemID,
				Summary: llm.ItemSummary{SummaryMD: "summary of " + r.ItemID, Topics: []string{"other"}},
			})
		}
	}
	return fn(results)
}

type fakeWorkerExtractor struct {
	texts map[string]string
}

func (f *fakeWorkerExtractor) ExtractFromURL(ctx context.Context, url string) *pdf.Result {
	if text, ok := f.texts[url]; ok {
		return &pdf.Result{Success: true, Text: text, Method: "primary"}
	}
	return &pdf.Result{Success: false, Error: "download failed"}
}

func newTestWorker(store *fakeWorkerStore, analyzer *fakeAnalyzer, batcher *fakeBatcher, extractor *fakeWorkerExtractor) *Worker {
	if extractor == nil {
		extractor = &fakeWorkerExtractor{}
	}
	return NewWorker(store, analyzer, batcher, extractor, slog.Default())
}

func TestDrainQueueProcessesPackets(t *testing.T) {
	store := newFakeWorkerStore()
	store.meetings["m1"] = &civic.Meeting{ID: "m1"}
	store.meetings["m2"] = &civic.Meeting{ID: "m2"}
	store.queue = []*civic.QueueEntry{
		{ID: 1, SourceURL: "https://x.primegov.com/1.pdf", MeetingID: "m1"},
		{ID: 2, SourceURL: "https://x.primegov.com/2.pdf", MeetingID: "m2"},
	}
	analyzer := &fakeAnalyzer{}
	w := newTestWorker(store, analyzer, &fakeBatcher{available: true}, nil)

	n, err := w.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"m1", "m2"}, analyzer.analyzed)
	assert.Equal(t, []int64{1, 2}, store.completed)
	assert.Empty(t, store.failed)
}

func TestProcessEntryMarksFailure(t *testing.T) {
	store := newFakeWorkerStore()
	store.meetings["m1"] = &civic.Meeting{ID: "m1"}
	analyzer := &fakeAnalyzer{err: fmt.Errorf("extraction failed")}
	w := newTestWorker(store, analyzer, &fakeBatcher{available: true}, nil)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 7, SourceURL: "https://x.primegov.com/1.pdf", MeetingID: "m1",
	})

	assert.Empty(t, store.completed)
	assert.Contains(t, store.failed[7], "extraction failed")
}

func TestProcessEntryMissingMeetingFails(t *testing.T) {
	store := newFakeWorkerStore()
	w := newTestWorker(store, &fakeAnalyzer{}, &fakeBatcher{available: true}, nil)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 3, SourceURL: "https://x.primegov.com/1.pdf", MeetingID: "ghost",
	})
	assert.Contains(t, store.failed[3], "failed to load meeting")
}

func TestProcessEntryItemBatch(t *testing.T) {
	store := newFakeWorkerStore()
	store.items["m1"] = []civic.AgendaItem{
		{ID: "m1_a", Title: "Item A", Atts: []civic.Attachment{{URL: "https://x.primegov.com/a.pdf"}}},
		{ID: "m1_b", Title: "Already done", Summary: "existing"},
		{ID: "m1_c", Title: "No attachments"},
	}
	batcher := &fakeBatcher{available: true}
	extractor := &fakeWorkerExtractor{texts: map[string]string{
		"https://x.primegov.com/a.pdf": "staff report text",
	}}
	w := newTestWorker(store, &fakeAnalyzer{}, batcher, extractor)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 1, SourceURL: civic.ItemsSourceURL("m1"), MeetingID: "m1",
	})

	require.Len(t, batcher.got, 1, "summarized items and empty items are not re-sent")
	assert.Equal(t, "m1_a", batcher.got[0].ItemID)
	assert.Contains(t, store.itemSummaries["m1_a"], "summary of m1_a")
	assert.Equal(t, []int64{1}, store.completed)
}

func TestProcessEntryItemBatchPartialFailureStillCompletes(t *testing.T) {
	store := newFakeWorkerStore()
	store.items["m1"] = []civic.AgendaItem{
		{ID: "m1_a", Title: "A", Atts: []civic.Attachment{{URL: "https://x.primegov.com/a.pdf"}}},
		{ID: "m1_b", Title: "B", Atts: []civic.Attachment{{URL: "https://x.primegov.com/b.pdf"}}},
	}
	batcher := &fakeBatcher{
		available: true,
		results: map[string]llm.ItemResult{
			"m1_b": {ItemID: "m1_b", Err: fmt.Errorf("model refused")},
		},
	}
	extractor := &fakeWorkerExtractor{texts: map[string]string{
		"https://x.primegov.com/a.pdf": "text a",
		"https://x.primegov.com/b.pdf": "text b",
	}}
	w := newTestWorker(store, &fakeAnalyzer{}, batcher, extractor)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 1, SourceURL: civic.ItemsSourceURL("m1"), MeetingID: "m1",
	})

	assert.Contains(t, store.itemSummaries, "m1_a")
	assert.NotContains(t, store.itemSummaries, "m1_b")
	assert.Equal(t, []int64{1}, store.completed, "partial results still complete the entry")
}

func TestProcessEntryItemBatchQuotaExhaustedFailsEntry(t *testing.T) {
	store := newFakeWorkerStore()
	store.items["m1"] = []civic.AgendaItem{
		{ID: "m1_a", Title: "A", Atts: []civic.Attachment{{URL: "https://x.primegov.com/a.pdf"}}},
	}
	batcher := &fakeBatcher{
		available: true,
		err:       fmt.Errorf("batch chunk 0 exhausted quota after 3 attempts: %w", llm.ErrQuotaExhausted),
	}
	extractor := &fakeWorkerExtractor{texts: map[string]string{
		"https://x.primegov.com/a.pdf": "text a",
	}}
	w := newTestWorker(store, &fakeAnalyzer{}, batcher, extractor)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 9, SourceURL: civic.ItemsSourceURL("m1"), MeetingID: "m1",
	})

	assert.Empty(t, store.completed, "a quota-dead sweep must stay retryable")
	assert.Contains(t, store.failed[9], "exhausted quota")
	assert.Empty(t, store.itemSummaries)
}

func TestProcessEntryItemBatchUnavailable(t *testing.T) {
	store := newFakeWorkerStore()
	w := newTestWorker(store, &fakeAnalyzer{}, &fakeBatcher{available: false}, nil)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 1, SourceURL: civic.ItemsSourceURL("m1"), MeetingID: "m1",
	})
	assert.Contains(t, store.failed[1], "not configured")
}

func TestProcessEntryItemBatchNothingToDo(t *testing.T) {
	store := newFakeWorkerStore()
	store.items["m1"] = []civic.AgendaItem{{ID: "m1_a", Title: "Done", Summary: "existing"}}
	w := newTestWorker(store, &fakeAnalyzer{}, &fakeBatcher{available: true}, nil)

	w.ProcessEntry(context.Background(), &civic.QueueEntry{
		ID: 1, SourceURL: civic.ItemsSourceURL("m1"), MeetingID: "m1",
	})
	assert.Equal(t, []int64{1}, store.completed)
}

func TestCatchUpUnprocessed(t *testing.T) {
	store := newFakeWorkerStore()
	store.unprocessed = []civic.Meeting{
		{ID: "m1", CityBanana: "sanjoseCA", PacketURL: civic.SinglePacket("https://x.primegov.com/1.pdf")},
		{ID: "m2", CityBanana: "sanjoseCA"}, // no packet, skipped
	}
	w := newTestWorker(store, &fakeAnalyzer{}, &fakeBatcher{available: true}, nil)

	_, err := w.CatchUpUnprocessed(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.primegov.com/1.pdf"}, store.enqueued)
}
