package engagic

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/adapters"
	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/internal/db"
)

type fakeSyncStore struct {
	cities      []civic.City
	recentCount map[string]int
	stored      []civic.MeetingRecord
	stamped     []string
	storeErr    error
}

func (f *fakeSyncStore) GetCity(banana string) (*civic.City, error) {
	for i := range f.cities {
		if f.cities[i].Banana == banana {
			return &f.cities[i], nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeSyncStore) GetCities(db.CityFilter) ([]civic.City, error) {
	return f.cities, nil
}

func (f *fakeSyncStore) RecentMeetingCount(banana string, window time.Duration) (int, error) {
	return f.recentCount[banana], nil
}

func (f *fakeSyncStore) StoreMeetingFromSync(rec civic.MeetingRecord, city *civic.City) (*civic.Meeting, *db.SyncStats, error) {
	if f.storeErr != nil {
		return nil, &db.SyncStats{}, f.storeErr
	}
	f.stored = append(f.stored, rec)
	return &civic.Meeting{ID: rec.MeetingID}, &db.SyncStats{MeetingsStored: 1, Enqueued: 1}, nil
}

func (f *fakeSyncStore) UpdateCityLastSynced(banana string, at time.Time) error {
	f.stamped = append(f.stamped, banana)
	return nil
}

type fakeAdapter struct {
	vendor  civic.Vendor
	records []civic.MeetingRecord
	errs    []error // consumed per FetchMeetings call
	calls   int
}

func (f *fakeAdapter) Vendor() civic.Vendor { return f.vendor }

func (f *fakeAdapter) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.records, nil
}

// newTestScheduler removes all real sleeping and pins the clock.
func newTestScheduler(store *fakeSyncStore, adapter *fakeAdapter) *Scheduler {
	s := NewScheduler(store, adapters.Options{Logger: slog.Default()}, slog.Default())
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	s.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	s.newAdapter = func(city *civic.City, opts adapters.Options) (adapters.Adapter, error) {
		return adapter, nil
	}
	return s
}

func activeCity(banana string, vendor civic.Vendor) civic.City {
	return civic.City{Banana: banana, Vendor: vendor, Status: civic.CityActive}
}

func TestRunSweepSyncsNeverSyncedCity(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{activeCity("sanjoseCA", civic.VendorPrimeGov)}}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov, records: []civic.MeetingRecord{
		{MeetingID: "primegov_1", Title: "Council"},
	}}
	s := newTestScheduler(store, adapter)

	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSynced)
	assert.Equal(t, 1, stats.MeetingsStored)
	assert.Equal(t, 1, stats.Enqueued)
	assert.Equal(t, []string{"sanjoseCA"}, store.stamped)
	assert.Len(t, store.stored, 1)

	last := s.LastSweep()
	require.NotNil(t, last)
	assert.Equal(t, *stats, *last)
}

func TestRunSweepRejectsUnsupportedVendor(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{
		{Banana: "nowhereKS", Vendor: civic.Vendor("geocities"), Status: civic.CityActive},
	}}
	s := newTestScheduler(store, &fakeAdapter{})

	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesRejected)
	assert.Equal(t, 0, stats.CitiesSynced)
}

func TestRunSweepSkipsRecentlySyncedQuietCity(t *testing.T) {
	recent := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC) // 6h before the pinned now
	store := &fakeSyncStore{cities: []civic.City{{
		Banana: "quietvilleKS", Vendor: civic.VendorPrimeGov,
		Status: civic.CityActive, LastSynced: &recent,
	}}}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov}
	s := newTestScheduler(store, adapter)

	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSkipped)
	assert.Equal(t, 0, adapter.calls)
}

func TestRunSweepBusyCityResyncsSooner(t *testing.T) {
	staleFor := time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC) // 18h before now
	store := &fakeSyncStore{
		cities: []civic.City{{
			Banana: "bigcityCA", Vendor: civic.VendorPrimeGov,
			Status: civic.CityActive, LastSynced: &staleFor,
		}},
		recentCount: map[string]int{"bigcityCA": 12},
	}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov}
	s := newTestScheduler(store, adapter)

	// 12+ recent meetings puts the city on the 12h interval; 18h is overdue.
	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSynced)

	// An ordinary city with the same staleness is on the 24h interval.
	store.cities[0].Banana = "calmtownOR"
	store.recentCount = map[string]int{"calmtownOR": 5}
	stats, err = s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSkipped)
}

func TestRunSweepRecordsFailures(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{activeCity("brokenNV", civic.VendorPrimeGov)}}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov, errs: []error{
		fmt.Errorf("connection refused"),
		fmt.Errorf("connection refused"),
		fmt.Errorf("connection refused"),
	}}
	s := newTestScheduler(store, adapter)

	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesFailed)
	assert.Equal(t, 3, adapter.calls, "two retries after the first failure")

	failed := s.FailedCities()
	require.Contains(t, failed, "brokenNV")
	assert.Contains(t, failed["brokenNV"], "connection refused")

	// The next sweep starts with a clean failure slate.
	adapter.errs = nil
	stats, err = s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSynced)
	assert.Empty(t, s.FailedCities())
}

func TestRunSweepRetrySucceedsSecondAttempt(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{activeCity("flakyTX", civic.VendorPrimeGov)}}
	adapter := &fakeAdapter{
		vendor:  civic.VendorPrimeGov,
		errs:    []error{fmt.Errorf("timeout"), nil},
		records: []civic.MeetingRecord{{MeetingID: "primegov_9", Title: "Council"}},
	}
	s := newTestScheduler(store, adapter)

	stats, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSynced)
	assert.Equal(t, 0, stats.CitiesFailed)
	assert.Equal(t, 2, adapter.calls)
}

func TestPriorityScore(t *testing.T) {
	store := &fakeSyncStore{recentCount: map[string]int{"busyCA": 7, "staleOR": 0}}
	s := newTestScheduler(store, &fakeAdapter{})

	assert.Equal(t, neverSyncedScore, s.priorityScore(civic.City{Banana: "newWA"}))

	twoDaysAgo := s.now().Add(-48 * time.Hour)
	busy := s.priorityScore(civic.City{Banana: "busyCA", LastSynced: &twoDaysAgo})
	assert.InDelta(t, 72.0, busy, 0.01, "recent*10 + staleness days")

	monthAgo := s.now().Add(-30 * 24 * time.Hour)
	stale := s.priorityScore(civic.City{Banana: "staleOR", LastSynced: &monthAgo})
	assert.InDelta(t, 10.0, stale, 0.01, "staleness contribution caps at 10 days")

	assert.Greater(t, neverSyncedScore, busy)
}

func TestSyncCityDirect(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{activeCity("sanjoseCA", civic.VendorPrimeGov)}}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov, records: []civic.MeetingRecord{
		{MeetingID: "primegov_1", Title: "Council"},
	}}
	s := newTestScheduler(store, adapter)

	stats, err := s.SyncCity(context.Background(), "sanjoseCA")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CitiesSynced)
	assert.Equal(t, 1, stats.MeetingsStored)

	_, err = s.SyncCity(context.Background(), "ghostND")
	require.Error(t, err)
}

func TestSyncCityUnsupportedVendor(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{
		{Banana: "oddballME", Vendor: civic.Vendor("faxmachine"), Status: civic.CityActive},
	}}
	s := newTestScheduler(store, &fakeAdapter{})

	_, err := s.SyncCity(context.Background(), "oddballME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vendor")
}

func TestCurrentSyncClearsAfterSweep(t *testing.T) {
	store := &fakeSyncStore{cities: []civic.City{activeCity("sanjoseCA", civic.VendorPrimeGov)}}
	adapter := &fakeAdapter{vendor: civic.VendorPrimeGov}
	s := newTestScheduler(store, adapter)

	var sawPhase string
	s.newAdapter = func(city *civic.City, opts adapters.Options) (adapters.Adapter, error) {
		if cur := s.CurrentSync(); cur != nil {
			sawPhase = cur.Phase
		}
		return adapter, nil
	}

	_, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fetching", sawPhase)
	assert.Nil(t, s.CurrentSync())
}
