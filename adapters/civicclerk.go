package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/engagic/engagic/civic"
)

// CivicClerk serves an OData API per client at <slug>.api.civicclerk.com.
type CivicClerk struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
}

func newCivicClerk(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &CivicClerk{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://%s.api.civicclerk.com/v1", city.VendorSlug),
	}, nil
}

func (a *CivicClerk) Vendor() civic.Vendor { return civic.VendorCivicClerk }

type civicClerkEvent struct {
	ID            int    `json:"id"`
	EventName     string `json:"eventName"`
	EventDate     string `json:"startDateTime"`
	EventLocation string `json:"eventLocation"`
	PublishedFiles []struct {
		FileID   int    `json:"fileId"`
		Type     string `json:"type"`
		Name     string `json:"name"`
	} `json:"publishedFiles"`
}

type civicClerkPage struct {
	Value    []civicClerkEvent `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// FetchMeetings pages the events endpoint with a future-date filter.
func (a *CivicClerk) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	filter := url.QueryEscape(fmt.Sprintf("startDateTime ge %s", futureFilter(time.Now().AddDate(0, 0, -7))))
	next := fmt.Sprintf("%s/Events?$filter=%s&$orderby=startDateTime", a.baseURL, filter)

	var records []civic.MeetingRecord
	for page := 0; next != "" && page < 10; page++ {
		body, err := a.session.GetBytes(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("failed to list civicclerk events: %w", err)
		}
		var pg civicClerkPage
		if err := json.Unmarshal(body, &pg); err != nil {
			return nil, fmt.Errorf("failed to decode civicclerk response: %w", err)
		}

		for _, ev := range pg.Value {
			if ev.ID == 0 || ev.EventName == "" {
				a.logger.Warn("skipping civicclerk row with missing fields", "city", a.city.Banana)
				continue
			}
			rec := civic.MeetingRecord{
				MeetingID:     fmt.Sprintf("civicclerk_%d", ev.ID),
				Title:         ev.EventName,
				Start:         ParseDate(ev.EventDate),
				Location:      ev.EventLocation,
				MeetingStatus: ParseMeetingStatus(ev.EventName),
			}
			for _, f := range ev.PublishedFiles {
				if f.Type == "Agenda" || f.Type == "AgendaPacket" {
					rec.PacketURL = civic.SinglePacket(fmt.Sprintf(
						"%s/Meetings/GetMeetingFileStream(fileId=%d,plainText=false)", a.baseURL, f.FileID))
					break
				}
			}
			records = append(records, rec)
		}
		next = pg.NextLink
	}
	a.logger.Info("civicclerk sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}
