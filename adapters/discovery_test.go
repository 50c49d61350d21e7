package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverPacketLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a href="/files/agenda-2026-04-01.pdf">April Agenda</a>
			<a href="/files/agenda-2026-04-01.pdf">Duplicate link</a>
			<a href="https://cdn.example.com/packet.pdf">Full Packet</a>
			<a href="/minutes/2026">Download full agenda here</a>
			<a href="/contact">Contact Us</a>
		</body></html>`))
	}))
	defer srv.Close()

	s, _ := newTestSession()
	links, err := s.DiscoverPacketLinks(context.Background(), srv.URL+"/meetings")
	require.NoError(t, err)

	assert.Equal(t, []string{
		srv.URL + "/files/agenda-2026-04-01.pdf",
		"https://cdn.example.com/packet.pdf",
		srv.URL + "/minutes/2026",
	}, links, "keyword matches in order of appearance, deduplicated, resolved absolute")
}

func TestDiscoverPacketLinksNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/about">About</a></body></html>`))
	}))
	defer srv.Close()

	s, _ := newTestSession()
	links, err := s.DiscoverPacketLinks(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, links)
}
