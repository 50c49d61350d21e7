package db

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/civic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database, slog.Default())
}

func seedCity(t *testing.T, s *Store) *civic.City {
	t.Helper()
	city := &civic.City{
		Name:       "San Jose",
		State:      "CA",
		Vendor:     civic.VendorPrimeGov,
		VendorSlug: "sanjoseca",
		Zipcodes:   []string{"95110", "95112"},
	}
	require.NoError(t, s.AddCity(city))
	return city
}
