package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/civic"
)

func seedMeeting(t *testing.T, s *Store, id string) {
	t.Helper()
	city := seedCity(t, s)
	require.NoError(t, s.StoreMeeting(&civic.Meeting{ID: id, CityBanana: city.Banana, Title: "Council"}))
}

func TestStoreAgendaItemsReplaceSet(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, "m1")

	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A", Sequence: 1},
		{ID: "m1_b", MeetingID: "m1", Title: "Item B", Sequence: 2},
		{ID: "m1_c", MeetingID: "m1", Title: "Item C", Sequence: 3},
	}))

	// Vendor dropped B; A got renamed.
	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A (Revised)", Sequence: 1},
		{ID: "m1_c", MeetingID: "m1", Title: "Item C", Sequence: 2},
	}))

	items, err := s.GetAgendaItems("m1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "m1_a", items[0].ID)
	assert.Equal(t, "Item A (Revised)", items[0].Title)
	assert.Equal(t, "m1_c", items[1].ID)
	assert.Equal(t, 2, items[1].Sequence)
}

func TestStoreAgendaItemsPreservesSummaries(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, "m1")

	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A", Sequence: 1},
	}))
	require.NoError(t, s.UpdateItemSummary("m1_a", "## Summary\n\nApproved.", []string{"zoning"}))

	// Re-sync carries no summary; stored enrichment must survive.
	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A", Sequence: 1},
	}))

	items, err := s.GetAgendaItems("m1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "## Summary\n\nApproved.", items[0].Summary)
	assert.Equal(t, []string{"zoning"}, items[0].Topics)
}

func TestStoreAgendaItemsEmptySetClears(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, "m1")

	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A", Sequence: 1},
	}))
	require.NoError(t, s.StoreAgendaItems("m1", nil))

	items, err := s.GetAgendaItems("m1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStoreAgendaItemsAttachmentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, "m1")

	atts := []civic.Attachment{{Name: "Staff Report", URL: "https://sanjoseca.primegov.com/report.pdf"}}
	require.NoError(t, s.StoreAgendaItems("m1", []civic.AgendaItem{
		{ID: "m1_a", MeetingID: "m1", Title: "Item A", Sequence: 1, Atts: atts},
	}))

	items, err := s.GetAgendaItems("m1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, items[0].Atts, 1)
	assert.Equal(t, "Staff Report", items[0].Atts[0].Name)
}

func TestUpdateItemSummaryUnknownItem(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.UpdateItemSummary("ghost", "x", nil), ErrNotFound)
}
