package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/civic"
)

// NovusAgenda is a plain HTML scrape: the public meetings page renders a
// table with one row per meeting and a PDF link carrying the meeting id in
// its query string.
type NovusAgenda struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
}

func newNovusAgenda(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &NovusAgenda{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://%s.novusagenda.com/agendapublic", city.VendorSlug),
	}, nil
}

func (a *NovusAgenda) Vendor() civic.Vendor { return civic.VendorNovusAgenda }

var novusMeetingID = regexp.MustCompile(`(?i)MeetingID=(\d+)`)

// FetchMeetings parses the meetings grid.
func (a *NovusAgenda) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	doc, err := a.session.GetDocument(ctx, a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch novusagenda page: %w", err)
	}

	var records []civic.MeetingRecord
	doc.Find("table.rgMasterTable tr, table#meetingsGrid tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		dateText := strings.TrimSpace(cells.Eq(0).Text())
		title := strings.TrimSpace(cells.Eq(2).Text())
		if title == "" {
			title = strings.TrimSpace(cells.Eq(1).Text())
		}
		if title == "" {
			return
		}

		rec := civic.MeetingRecord{
			Title:         title,
			Start:         ParseDate(dateText),
			MeetingStatus: ParseMeetingStatus(title),
		}

		row.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href := link.AttrOr("href", "")
			if m := novusMeetingID.FindStringSubmatch(href); m != nil {
				rec.MeetingID = "novus_" + m[1]
			}
			if strings.Contains(strings.ToLower(href), "displayagendapdf") {
				if !strings.HasPrefix(href, "http") {
					href = a.baseURL + "/" + strings.TrimPrefix(href, "/")
				}
				rec.PacketURL = civic.SinglePacket(href)
			}
		})

		if rec.MeetingID == "" && rec.PacketURL.IsZero() {
			a.logger.Warn("skipping novusagenda row with no id or packet", "city", a.city.Banana, "title", title)
			return
		}
		records = append(records, rec)
	})
	a.logger.Info("novusagenda sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}
