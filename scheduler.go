package engagic

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/engagic/engagic/adapters"
	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/internal/db"
)

// Per-vendor minimum request spacing. Unknown vendors get the slowest tier.
var vendorMinInterval = map[civic.Vendor]time.Duration{
	civic.VendorPrimeGov:    3 * time.Second,
	civic.VendorCivicClerk:  3 * time.Second,
	civic.VendorLegistar:    3 * time.Second,
	civic.VendorGranicus:    4 * time.Second,
	civic.VendorCivicPlus:   4 * time.Second,
	civic.VendorNovusAgenda: 4 * time.Second,
}

const defaultVendorInterval = 5 * time.Second

// Due policy thresholds: cities with busier calendars re-sync more often.
const (
	busyCityMeetings   = 8
	activeCityMeetings = 4
	busyCityInterval   = 12 * time.Hour
	activeCityInterval = 24 * time.Hour
	quietCityInterval  = 168 * time.Hour
	activityWindow     = 30 * 24 * time.Hour
	neverSyncedScore   = 1000.0
)

// syncStore is the slice of the database the scheduler needs.
type syncStore interface {
	GetCity(banana string) (*civic.City, error)
	GetCities(f db.CityFilter) ([]civic.City, error)
	RecentMeetingCount(banana string, window time.Duration) (int, error)
	StoreMeetingFromSync(rec civic.MeetingRecord, city *civic.City) (*civic.Meeting, *db.SyncStats, error)
	UpdateCityLastSynced(banana string, at time.Time) error
}

// CitySyncStatus is a point-in-time view of one city's sync, surfaced by the
// status endpoint.
type CitySyncStatus struct {
	Banana    string       `json:"banana"`
	Vendor    civic.Vendor `json:"vendor"`
	StartedAt time.Time    `json:"started_at"`
	Phase     string       `json:"phase"`
}

// SweepStats summarizes one full sync sweep.
type SweepStats struct {
	CitiesSynced   int `json:"cities_synced"`
	CitiesSkipped  int `json:"cities_skipped"`
	CitiesFailed   int `json:"cities_failed"`
	CitiesRejected int `json:"cities_rejected"`
	MeetingsStored int `json:"meetings_stored"`
	ItemsStored    int `json:"items_stored"`
	Enqueued       int `json:"enqueued"`
}

// Scheduler runs the background sync sweep: it walks active cities grouped by
// vendor, strictly serial within a vendor group, and stores what the adapters
// yield.
type Scheduler struct {
	store       syncStore
	adapterOpts adapters.Options
	logger      *slog.Logger

	mu           sync.Mutex
	failedCities map[string]string
	current      *CitySyncStatus
	lastSweep    *SweepStats

	// overridable in tests
	newAdapter func(*civic.City, adapters.Options) (adapters.Adapter, error)
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewScheduler builds a scheduler over the store.
func NewScheduler(store syncStore, opts adapters.Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		adapterOpts:  opts,
		logger:       logger,
		failedCities: make(map[string]string),
		newAdapter:   adapters.New,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// FailedCities returns a snapshot of cities whose last sync failed, keyed by
// banana with the failure message as value.
func (s *Scheduler) FailedCities() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.failedCities))
	for k, v := range s.failedCities {
		out[k] = v
	}
	return out
}

// CurrentSync returns the city currently being synced, or nil.
func (s *Scheduler) CurrentSync() *CitySyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// LastSweep returns the most recent completed sweep's stats, or nil.
func (s *Scheduler) LastSweep() *SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSweep == nil {
		return nil
	}
	cp := *s.lastSweep
	return &cp
}

func (s *Scheduler) setCurrent(st *CitySyncStatus) {
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
}

func (s *Scheduler) recordFailure(banana, msg string) {
	s.mu.Lock()
	// Bounded: an unbounded failure map across long uptimes is a leak.
	if len(s.failedCities) < 10_000 {
		s.failedCities[banana] = msg
	}
	s.mu.Unlock()
}

// RunSweep executes one full sync sweep over all active cities.
func (s *Scheduler) RunSweep(ctx context.Context) (*SweepStats, error) {
	sweepID := uuid.NewString()
	s.mu.Lock()
	s.failedCities = make(map[string]string)
	s.mu.Unlock()

	cities, err := s.store.GetCities(db.CityFilter{Status: civic.CityActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active cities: %w", err)
	}
	s.logger.Info("starting sync sweep", "sweep_id", sweepID, "cities", len(cities))

	stats := &SweepStats{}
	groups := make(map[civic.Vendor][]civic.City)
	for _, c := range cities {
		if !civic.SupportedVendors[c.Vendor] {
			s.logger.Warn("rejecting city with unsupported vendor", "banana", c.Banana, "vendor", c.Vendor)
			stats.CitiesRejected++
			continue
		}
		groups[c.Vendor] = append(groups[c.Vendor], c)
	}

	vendors := make([]civic.Vendor, 0, len(groups))
	for v := range groups {
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })

	for gi, vendor := range vendors {
		if err := s.syncVendorGroup(ctx, vendor, groups[vendor], stats); err != nil {
			return stats, err
		}
		if gi < len(vendors)-1 {
			// Extra politeness before moving to the next vendor's hosts.
			pause := 30*time.Second + time.Duration(rand.Intn(10))*time.Second
			if err := s.sleep(ctx, pause); err != nil {
				return stats, err
			}
		}
	}

	s.mu.Lock()
	s.lastSweep = stats
	s.mu.Unlock()
	s.logger.Info("sync sweep complete",
		"sweep_id", sweepID,
		"synced", stats.CitiesSynced, "skipped", stats.CitiesSkipped,
		"failed", stats.CitiesFailed, "rejected", stats.CitiesRejected,
		"meetings", stats.MeetingsStored, "enqueued", stats.Enqueued)
	return stats, nil
}

// syncVendorGroup processes one vendor's cities serially in priority order.
func (s *Scheduler) syncVendorGroup(ctx context.Context, vendor civic.Vendor, cities []civic.City, stats *SweepStats) error {
	interval, ok := vendorMinInterval[vendor]
	if !ok {
		interval = defaultVendorInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	type scored struct {
		city  civic.City
		score float64
	}
	ranked := make([]scored, 0, len(cities))
	for _, c := range cities {
		ranked = append(ranked, scored{c, s.priorityScore(c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for _, sc := range ranked {
		if err := ctx.Err(); err != nil {
			return err
		}
		city := sc.city

		if due, reason := s.isDue(city); !due {
			s.logger.Debug("city not due for sync", "banana", city.Banana, "reason", reason)
			stats.CitiesSkipped++
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		// 0-1s jitter on top of the minimum spacing
		if err := s.sleep(ctx, time.Duration(rand.Intn(1000))*time.Millisecond); err != nil {
			return err
		}

		if err := s.syncCityWithRetry(ctx, &city, stats); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("city sync failed after retries", "banana", city.Banana, "error", err)
			s.recordFailure(city.Banana, err.Error())
			stats.CitiesFailed++
			continue
		}
		stats.CitiesSynced++
	}
	return nil
}

// priorityScore ranks cities within a vendor group: busy calendars and stale
// syncs first. Never-synced cities get a fixed high score.
func (s *Scheduler) priorityScore(city civic.City) float64 {
	if city.LastSynced == nil {
		return neverSyncedScore
	}
	recent, err := s.store.RecentMeetingCount(city.Banana, activityWindow)
	if err != nil {
		recent = 0
	}
	staleness := s.now().Sub(*city.LastSynced).Hours() / 24
	if staleness > 10 {
		staleness = 10
	}
	return float64(recent)*10 + staleness
}

// isDue applies the adaptive re-sync policy by recent activity.
func (s *Scheduler) isDue(city civic.City) (bool, string) {
	if city.LastSynced == nil {
		return true, ""
	}
	recent, err := s.store.RecentMeetingCount(city.Banana, activityWindow)
	if err != nil {
		return true, ""
	}
	var interval time.Duration
	switch {
	case recent >= busyCityMeetings:
		interval = busyCityInterval
	case recent >= activeCityMeetings:
		interval = activeCityInterval
	default:
		interval = quietCityInterval
	}
	age := s.now().Sub(*city.LastSynced)
	if age < interval {
		return false, fmt.Sprintf("synced %s ago, interval %s", age.Round(time.Minute), interval)
	}
	return true, ""
}

// syncCityWithRetry fetches and stores one city's calendar with bounded
// retries (waits 5s then 20s, each with up to 2s of jitter).
func (s *Scheduler) syncCityWithRetry(ctx context.Context, city *civic.City, stats *SweepStats) error {
	waits := []time.Duration{5 * time.Second, 20 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= len(waits); attempt++ {
		if attempt > 0 {
			wait := waits[attempt-1] + time.Duration(rand.Intn(2000))*time.Millisecond
			s.logger.Warn("retrying city sync", "banana", city.Banana, "attempt", attempt+1, "wait", wait)
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
		if lastErr = s.syncCity(ctx, city, stats); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// SyncCity syncs a single city immediately, outside the sweep policy.
func (s *Scheduler) SyncCity(ctx context.Context, banana string) (*SweepStats, error) {
	city, err := s.store.GetCity(banana)
	if err != nil {
		return nil, fmt.Errorf("failed to look up city %s: %w", banana, err)
	}
	if !civic.SupportedVendors[city.Vendor] {
		return nil, fmt.Errorf("city %s has unsupported vendor %s", banana, city.Vendor)
	}
	stats := &SweepStats{}
	if err := s.syncCity(ctx, city, stats); err != nil {
		return stats, err
	}
	stats.CitiesSynced = 1
	return stats, nil
}

func (s *Scheduler) syncCity(ctx context.Context, city *civic.City, stats *SweepStats) error {
	s.setCurrent(&CitySyncStatus{
		Banana:    city.Banana,
		Vendor:    city.Vendor,
		StartedAt: s.now(),
		Phase:     "fetching",
	})
	defer s.setCurrent(nil)

	adapter, err := s.newAdapter(city, s.adapterOpts)
	if err != nil {
		return fmt.Errorf("failed to build adapter for %s: %w", city.Banana, err)
	}

	records, err := adapter.FetchMeetings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch meetings for %s: %w", city.Banana, err)
	}

	s.setCurrent(&CitySyncStatus{
		Banana:    city.Banana,
		Vendor:    city.Vendor,
		StartedAt: s.now(),
		Phase:     "storing",
	})

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, recStats, err := s.store.StoreMeetingFromSync(rec, city)
		if err != nil {
			return fmt.Errorf("failed to store meeting for %s: %w", city.Banana, err)
		}
		stats.MeetingsStored += recStats.MeetingsStored
		stats.ItemsStored += recStats.ItemsStored
		stats.Enqueued += recStats.Enqueued
		if recStats.MeetingsSkipped > 0 {
			s.logger.Debug("meeting skipped during sync",
				"banana", city.Banana, "reason", recStats.SkipReason, "title", recStats.SkippedTitle)
		}
	}

	if err := s.store.UpdateCityLastSynced(city.Banana, s.now()); err != nil {
		s.logger.Warn("failed to stamp city sync time", "banana", city.Banana, "error", err)
	}
	s.logger.Info("city synced", "banana", city.Banana, "vendor", city.Vendor, "records", len(records))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
