package adapters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engagic/engagic/civic"
)

// Adapter is the single capability every vendor integration provides.
type Adapter interface {
	// Vendor names the platform this adapter speaks to.
	Vendor() civic.Vendor

	// FetchMeetings pulls the city's upcoming meetings as normalized records.
	// A single unparseable row is logged and skipped; only transport failures
	// after retries surface as errors.
	FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error)
}

// Options carries shared construction inputs.
type Options struct {
	Logger *slog.Logger

	// ViewIDCachePath is where the Granicus view-id discovery cache lives.
	ViewIDCachePath string
}

// Constructor builds an adapter for one city.
type Constructor func(city *civic.City, session *Session, opts Options) (Adapter, error)

// registry maps vendor names to adapter constructors. It is populated in
// init to avoid an initialization cycle (newCivicPlus refers back to New).
var registry map[civic.Vendor]Constructor

func init() {
	registry = map[civic.Vendor]Constructor{
		civic.VendorPrimeGov:    newPrimeGov,
		civic.VendorLegistar:    newLegistar,
		civic.VendorCivicClerk:  newCivicClerk,
		civic.VendorGranicus:    newGranicus,
		civic.VendorNovusAgenda: newNovusAgenda,
		civic.VendorCivicPlus:   newCivicPlus,
		civic.VendorEscribe:     newEscribe,
	}
}

// New constructs the adapter for a city's configured vendor.
func New(city *civic.City, opts Options) (Adapter, error) {
	ctor, ok := registry[city.Vendor]
	if !ok {
		return nil, fmt.Errorf("unsupported vendor %q for city %s", city.Vendor, city.Banana)
	}
	return ctor(city, NewSession(opts.Logger), opts)
}

// Supported reports whether a vendor has a registered adapter.
func Supported(v civic.Vendor) bool {
	_, ok := registry[v]
	return ok
}
