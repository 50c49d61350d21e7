package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/civic"
)

func TestEnqueueUpsertLifecycle(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	id, err := s.EnqueueForProcessing("https://x.primegov.com/a.pdf", "m1", "sanjoseCA", 90, map[string]string{"city_banana": "sanjoseCA"})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	// Pending rows are immutable from the enqueuer side.
	again, err := s.EnqueueForProcessing("https://x.primegov.com/a.pdf", "m1", "sanjoseCA", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, EnqueueSkipped, again)

	entry, err := s.GetQueueEntry("https://x.primegov.com/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, 90, entry.Priority, "skipped enqueue must not rewrite priority")
	assert.Equal(t, civic.QueuePending, entry.Status)
	assert.Equal(t, map[string]string{"city_banana": "sanjoseCA"}, entry.Metadata)

	// A claimed row is equally untouchable.
	claimed, err := s.GetNextForProcessing("")
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)
	assert.Equal(t, civic.QueueProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	again, err = s.EnqueueForProcessing("https://x.primegov.com/a.pdf", "m1", "sanjoseCA", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, EnqueueSkipped, again)

	// Completed rows reset to pending on re-enqueue, keeping the row id.
	require.NoError(t, s.MarkProcessingComplete(id))
	reID, err := s.EnqueueForProcessing("https://x.primegov.com/a.pdf", "m1", "sanjoseCA", 75, nil)
	require.NoError(t, err)
	assert.Equal(t, id, reID)

	entry, err = s.GetQueueEntry("https://x.primegov.com/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, civic.QueuePending, entry.Status)
	assert.Equal(t, 75, entry.Priority)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Empty(t, entry.ErrorMessage)
	assert.Nil(t, entry.StartedAt)
	assert.Nil(t, entry.CompletedAt)
}

func TestGetNextForProcessingOrdering(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	low, err := s.EnqueueForProcessing("https://x.primegov.com/low.pdf", "m1", "sanjoseCA", 10, nil)
	require.NoError(t, err)
	high, err := s.EnqueueForProcessing("https://x.primegov.com/high.pdf", "m2", "sanjoseCA", 100, nil)
	require.NoError(t, err)
	tied, err := s.EnqueueForProcessing("https://x.primegov.com/tied.pdf", "m3", "sanjoseCA", 100, nil)
	require.NoError(t, err)
	require.Greater(t, tied, high)

	first, err := s.GetNextForProcessing("")
	require.NoError(t, err)
	assert.Equal(t, high, first.ID, "highest priority first, lowest id breaks ties")

	second, err := s.GetNextForProcessing("")
	require.NoError(t, err)
	assert.Equal(t, tied, second.ID)

	third, err := s.GetNextForProcessing("")
	require.NoError(t, err)
	assert.Equal(t, low, third.ID)

	_, err = s.GetNextForProcessing("")
	assert.ErrorIs(t, err, ErrNotFound, "drained queue signals not found")
}

func TestGetNextForProcessingCityFilter(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	_, err := s.EnqueueForProcessing("https://x.primegov.com/sj.pdf", "m1", "sanjoseCA", 50, nil)
	require.NoError(t, err)
	_, err = s.EnqueueForProcessing("https://x.granicus.com/oak.pdf", "m2", "oaklandCA", 90, nil)
	require.NoError(t, err)

	got, err := s.GetNextForProcessing("sanjoseCA")
	require.NoError(t, err)
	assert.Equal(t, "sanjoseCA", got.CityBanana)

	_, err = s.GetNextForProcessing("sanjoseCA")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkProcessingFailedDeadLetters(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	id, err := s.EnqueueForProcessing("https://x.primegov.com/bad.pdf", "m1", "sanjoseCA", 50, nil)
	require.NoError(t, err)

	for attempt := 1; attempt < DeadLetterThreshold; attempt++ {
		claimed, err := s.GetNextForProcessing("")
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)
		require.NoError(t, s.MarkProcessingFailed(id, fmt.Sprintf("attempt %d", attempt), true))

		entry, err := s.GetQueueEntry("https://x.primegov.com/bad.pdf")
		require.NoError(t, err)
		assert.Equal(t, civic.QueueFailed, entry.Status)
		assert.Equal(t, 1, entry.RetryCount, "re-enqueue zeroes retry_count before each attempt")

		// Failed entries are re-enqueueable under the same row id.
		reID, err := s.EnqueueForProcessing("https://x.primegov.com/bad.pdf", "m1", "sanjoseCA", 50, nil)
		require.NoError(t, err)
		require.Equal(t, id, reID)
	}

	// Without a reset in between, three strikes dead-letter the entry.
	for i := 0; i < DeadLetterThreshold; i++ {
		require.NoError(t, s.MarkProcessingFailed(id, "ocr crash", true))
	}
	entry, err := s.GetQueueEntry("https://x.primegov.com/bad.pdf")
	require.NoError(t, err)
	assert.Equal(t, civic.QueueDeadLetter, entry.Status)
	assert.Equal(t, DeadLetterThreshold, entry.RetryCount)

	_, err = s.GetNextForProcessing("")
	assert.ErrorIs(t, err, ErrNotFound, "dead-lettered entries are never claimed")
}

func TestMarkProcessingFailedWithoutRetryBump(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	id, err := s.EnqueueForProcessing("https://x.primegov.com/soft.pdf", "m1", "sanjoseCA", 50, nil)
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessingFailed(id, "llm unavailable", false))
	entry, err := s.GetQueueEntry("https://x.primegov.com/soft.pdf")
	require.NoError(t, err)
	assert.Equal(t, civic.QueueFailed, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
}

func TestGetQueueStats(t *testing.T) {
	s := newTestStore(t)
	seedCity(t, s)

	a, err := s.EnqueueForProcessing("https://x.primegov.com/1.pdf", "m1", "sanjoseCA", 50, nil)
	require.NoError(t, err)
	_, err = s.EnqueueForProcessing("https://x.primegov.com/2.pdf", "m2", "sanjoseCA", 40, nil)
	require.NoError(t, err)
	b, err := s.EnqueueForProcessing("https://x.primegov.com/3.pdf", "m3", "sanjoseCA", 30, nil)
	require.NoError(t, err)

	claimed, err := s.GetNextForProcessing("")
	require.NoError(t, err)
	require.Equal(t, a, claimed.ID)
	require.NoError(t, s.MarkProcessingComplete(a))
	require.NoError(t, s.MarkProcessingFailed(b, "boom", true))

	stats, err := s.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.DeadLetter)
	assert.GreaterOrEqual(t, stats.AvgProcessSeconds, 0.0)
}
