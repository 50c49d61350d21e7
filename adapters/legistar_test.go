package adapters

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegistarEventStart(t *testing.T) {
	a := &Legistar{logger: slog.Default()}

	tests := []struct {
		name string
		ev   legistarEvent
		want string
	}{
		{
			name: "iso date with separate time",
			ev:   legistarEvent{EventDate: "2026-04-01T00:00:00", EventTime: "6:00 PM"},
			want: "2026-04-01T18:00:00Z",
		},
		{
			name: "short slash date with time",
			ev:   legistarEvent{EventDate: "1/2/2026", EventTime: "6:00 PM"},
			want: "2026-01-02T18:00:00Z",
		},
		{
			name: "no time falls back to the date",
			ev:   legistarEvent{EventDate: "2026-04-01T00:00:00", EventTime: ""},
			want: "2026-04-01T00:00:00Z",
		},
		{
			name: "unparseable time falls back to the date",
			ev:   legistarEvent{EventDate: "2026-04-01T00:00:00", EventTime: "TBD"},
			want: "2026-04-01T00:00:00Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.eventStart(tt.ev)
			require.NotNil(t, got)
			want, err := time.Parse(time.RFC3339, tt.want)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)
		})
	}
}

func TestLegistarEventStartUnparseableDate(t *testing.T) {
	a := &Legistar{logger: slog.Default()}
	assert.Nil(t, a.eventStart(legistarEvent{EventDate: "soon", EventTime: "6:00 PM"}))
	assert.Nil(t, a.eventStart(legistarEvent{EventDate: "", EventTime: "6:00 PM"}))
}
