package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/civic"
)

// Escribe publishes an upcoming-meetings listing per deployment at
// pub-<slug>.escribemeetings.com.
type Escribe struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
}

func newEscribe(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &Escribe{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://pub-%s.escribemeetings.com", city.VendorSlug),
	}, nil
}

func (a *Escribe) Vendor() civic.Vendor { return civic.VendorEscribe }

// FetchMeetings scrapes the meeting list page.
func (a *Escribe) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	doc, err := a.session.GetDocument(ctx, a.baseURL+"/?FillWidth=1")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch escribe page: %w", err)
	}

	var records []civic.MeetingRecord
	doc.Find(".meeting-item, .MeetingRow").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".meeting-title, .MeetingTypeNameText").First().Text())
		dateText := strings.TrimSpace(sel.Find(".meeting-date, .MeetingDateText").First().Text())
		if title == "" {
			return
		}

		rec := civic.MeetingRecord{
			Title:         title,
			Start:         ParseDate(dateText),
			MeetingStatus: ParseMeetingStatus(title),
		}

		sel.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
			href := link.AttrOr("href", "")
			lower := strings.ToLower(href)
			if !strings.Contains(lower, "agenda") && !strings.Contains(lower, ".pdf") {
				return
			}
			if !strings.HasPrefix(href, "http") {
				href = a.baseURL + "/" + strings.TrimPrefix(href, "/")
			}
			if strings.Contains(lower, "meeting.aspx") {
				rec.AgendaURL = href
			} else if rec.PacketURL.IsZero() {
				rec.PacketURL = civic.SinglePacket(href)
			}
		})
		records = append(records, rec)
	})
	a.logger.Info("escribe sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}
