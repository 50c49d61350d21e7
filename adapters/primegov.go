package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/engagic/engagic/civic"
)

// PrimeGov exposes a JSON API of upcoming meetings per client subdomain.
type PrimeGov struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
}

func newPrimeGov(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &PrimeGov{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://%s.primegov.com", city.VendorSlug),
	}, nil
}

func (a *PrimeGov) Vendor() civic.Vendor { return civic.VendorPrimeGov }

type primeGovMeeting struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	DateTime  string `json:"dateTime"`
	Documents []struct {
		ID           int    `json:"id"`
		TemplateName string `json:"templateName"`
		CompileType  string `json:"compileOutputType"`
	} `json:"documentList"`
}

// FetchMeetings pages the upcoming-meetings endpoint and emits one record per
// event, linking the compiled agenda packet when present.
func (a *PrimeGov) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	url := a.baseURL + "/api/v2/PublicPortal/ListUpcomingMeetings"
	body, err := a.session.GetBytes(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list primegov meetings: %w", err)
	}

	var meetings []primeGovMeeting
	if err := json.Unmarshal(body, &meetings); err != nil {
		return nil, fmt.Errorf("failed to decode primegov response: %w", err)
	}

	records := make([]civic.MeetingRecord, 0, len(meetings))
	for _, m := range meetings {
		if m.ID == 0 || m.Title == "" {
			a.logger.Warn("skipping primegov row with missing fields", "city", a.city.Banana)
			continue
		}
		rec := civic.MeetingRecord{
			MeetingID:     fmt.Sprintf("primegov_%d", m.ID),
			Title:         m.Title,
			Start:         ParseDate(m.DateTime),
			MeetingStatus: ParseMeetingStatus(m.Title),
		}
		for _, doc := range m.Documents {
			if doc.CompileType == "Pdf" || doc.TemplateName == "Agenda Packet" || doc.TemplateName == "Agenda" {
				rec.PacketURL = civic.SinglePacket(fmt.Sprintf(
					"%s/Public/CompiledDocument/%d", a.baseURL, doc.ID))
				break
			}
		}
		records = append(records, rec)
	}
	a.logger.Info("primegov sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}

// futureFilter formats the OData-style cutoff the JSON vendors accept.
func futureFilter(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05Z")
}
