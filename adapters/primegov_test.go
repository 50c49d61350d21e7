package adapters

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/civic"
)

const primeGovFixture = `[
	{
		"id": 4821,
		"title": "City Council Regular Meeting",
		"dateTime": "2026-04-01T18:00:00",
		"documentList": [
			{"id": 901, "templateName": "Minutes", "compileOutputType": "Html"},
			{"id": 902, "templateName": "Agenda Packet", "compileOutputType": "Pdf"}
		]
	},
	{
		"id": 4822,
		"title": "[CANCELLED] Planning Commission",
		"dateTime": "2026-04-03T17:30:00",
		"documentList": []
	},
	{
		"id": 0,
		"title": "Broken Row"
	}
]`

func TestPrimeGovFetchMeetings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/PublicPortal/ListUpcomingMeetings", r.URL.Path)
		w.Write([]byte(primeGovFixture))
	}))
	defer srv.Close()

	a := &PrimeGov{
		city:    &civic.City{Banana: "sanjoseCA", Vendor: civic.VendorPrimeGov, VendorSlug: "sanjoseca"},
		session: NewSession(slog.Default()),
		logger:  slog.Default(),
		baseURL: srv.URL,
	}

	records, err := a.FetchMeetings(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "rows without an id are skipped")

	first := records[0]
	assert.Equal(t, "primegov_4821", first.MeetingID)
	assert.Equal(t, "City Council Regular Meeting", first.Title)
	require.NotNil(t, first.Start)
	assert.Equal(t, 2026, first.Start.Year())
	assert.Equal(t, srv.URL+"/Public/CompiledDocument/902", first.PacketURL.First(),
		"the compiled pdf wins over non-agenda documents")
	assert.Empty(t, first.MeetingStatus)

	second := records[1]
	assert.Equal(t, civic.MeetingCancelled, second.MeetingStatus)
	assert.True(t, second.PacketURL.IsZero())
}

func TestPrimeGovDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance page</html>"))
	}))
	defer srv.Close()

	a := &PrimeGov{
		city:    &civic.City{Banana: "sanjoseCA", Vendor: civic.VendorPrimeGov, VendorSlug: "sanjoseca"},
		session: NewSession(slog.Default()),
		logger:  slog.Default(),
		baseURL: srv.URL,
	}

	_, err := a.FetchMeetings(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
