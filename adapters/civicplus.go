package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/engagic/engagic/civic"
)

// CivicPlus fronts a city homepage that frequently embeds another vendor's
// portal. The adapter fetches the homepage, and when it detects a known vendor
// behind it, delegates to that vendor's adapter; otherwise it scrapes the
// AgendaCenter directly.
type CivicPlus struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	opts    Options
	baseURL string

	// newAdapter builds the delegated vendor's adapter; tests swap it out.
	newAdapter func(*civic.City, Options) (Adapter, error)
}

func newCivicPlus(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &CivicPlus{
		city:       city,
		session:    session,
		logger:     opts.Logger,
		opts:       opts,
		baseURL:    fmt.Sprintf("https://%s", city.VendorSlug),
		newAdapter: New,
	}, nil
}

func (a *CivicPlus) Vendor() civic.Vendor { return civic.VendorCivicPlus }

// delegates maps homepage fingerprints to the vendor actually serving the
// agendas, with a slug extractor for each.
var delegates = []struct {
	pattern *regexp.Regexp
	vendor  civic.Vendor
}{
	{regexp.MustCompile(`(?i)https?://([a-z0-9-]+)\.legistar\.com`), civic.VendorLegistar},
	{regexp.MustCompile(`(?i)https?://([a-z0-9-]+)\.granicus\.com`), civic.VendorGranicus},
	{regexp.MustCompile(`(?i)https?://([a-z0-9-]+)\.primegov\.com`), civic.VendorPrimeGov},
	{regexp.MustCompile(`(?i)https?://([a-z0-9-]+)\.novusagenda\.com`), civic.VendorNovusAgenda},
}

// FetchMeetings first checks for vendor delegation, then falls back to
// scanning the AgendaCenter for packet links.
func (a *CivicPlus) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	body, err := a.session.GetBytes(ctx, a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch civicplus homepage: %w", err)
	}

	page := string(body)
	for _, d := range delegates {
		m := d.pattern.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		a.logger.Info("civicplus homepage delegates to another vendor",
			"city", a.city.Banana, "vendor", d.vendor, "slug", m[1])
		delegated := *a.city
		delegated.Vendor = d.vendor
		delegated.VendorSlug = m[1]
		inner, err := a.newAdapter(&delegated, a.opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build delegated adapter: %w", err)
		}
		records, err := inner.FetchMeetings(ctx)
		if err != nil {
			return nil, err
		}
		// Stamp the effective vendor so packet URLs on the delegate's hosts
		// pass validation at store time.
		for i := range records {
			records[i].SourceVendor = d.vendor
			records[i].SourceSlug = delegated.VendorSlug
		}
		return records, nil
	}

	// Direct scrape: the AgendaCenter lists downloadable agenda PDFs.
	links, err := a.session.DiscoverPacketLinks(ctx, a.baseURL+"/AgendaCenter")
	if err != nil {
		return nil, fmt.Errorf("failed to scan agenda center: %w", err)
	}

	var records []civic.MeetingRecord
	for _, link := range links {
		if !strings.Contains(strings.ToLower(link), "agenda") {
			continue
		}
		records = append(records, civic.MeetingRecord{
			// No vendor id here; the store hashes title+date.
			Title:     a.city.Name + " Meeting Agenda",
			PacketURL: civic.SinglePacket(link),
		})
	}
	a.logger.Info("civicplus sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}
