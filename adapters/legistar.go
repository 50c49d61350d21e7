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

// Legistar speaks the Granicus Legistar OData web API.
type Legistar struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
}

func newLegistar(city *civic.City, session *Session, opts Options) (Adapter, error) {
	return &Legistar{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://webapi.legistar.com/v1/%s", city.VendorSlug),
	}, nil
}

func (a *Legistar) Vendor() civic.Vendor { return civic.VendorLegistar }

type legistarEvent struct {
	EventID        int    `json:"EventId"`
	EventBodyName  string `json:"EventBodyName"`
	EventDate      string `json:"EventDate"`
	EventTime      string `json:"EventTime"`
	EventAgendaURL string `json:"EventAgendaFile"`
	EventInSiteURL string `json:"EventInSiteURL"`
	EventComment   string `json:"EventComment"`
}

type legistarItem struct {
	EventItemID       int    `json:"EventItemId"`
	EventItemTitle    string `json:"EventItemTitle"`
	EventItemSequence int    `json:"EventItemAgendaSequence"`
	EventItemMatterID int    `json:"EventItemMatterId"`
}

type legistarAttachment struct {
	MatterAttachmentName string `json:"MatterAttachmentName"`
	MatterAttachmentURL  string `json:"MatterAttachmentHyperlink"`
}

// FetchMeetings queries events with a future-date OData filter and pulls each
// event's agenda items and attachments.
func (a *Legistar) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	filter := url.QueryEscape(fmt.Sprintf("EventDate ge datetime'%s'", futureFilter(time.Now().AddDate(0, 0, -7))))
	eventsURL := fmt.Sprintf("%s/events?$filter=%s&$orderby=EventDate&$top=100", a.baseURL, filter)

	body, err := a.session.GetBytes(ctx, eventsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list legistar events: %w", err)
	}
	var events []legistarEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("failed to decode legistar events: %w", err)
	}

	records := make([]civic.MeetingRecord, 0, len(events))
	for _, ev := range events {
		if ev.EventID == 0 {
			a.logger.Warn("skipping legistar event with no id", "city", a.city.Banana)
			continue
		}
		title := ev.EventBodyName
		rec := civic.MeetingRecord{
			MeetingID:     fmt.Sprintf("legistar_%d", ev.EventID),
			Title:         title,
			Start:         a.eventStart(ev),
			AgendaURL:     ev.EventInSiteURL,
			PacketURL:     civic.SinglePacket(ev.EventAgendaURL),
			MeetingStatus: ParseMeetingStatus(title + " " + ev.EventComment),
		}

		items, err := a.fetchItems(ctx, ev.EventID)
		if err != nil {
			// Items are enrichment; the event itself still counts.
			a.logger.Warn("failed to fetch legistar items", "city", a.city.Banana,
				"event", ev.EventID, "error", err)
		} else {
			rec.Items = items
		}
		records = append(records, rec)
	}
	a.logger.Info("legistar sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}

func (a *Legistar) eventStart(ev legistarEvent) *time.Time {
	date := ParseDate(ev.EventDate)
	if date == nil {
		return nil
	}
	if ev.EventTime != "" {
		if t := ParseDate(date.Format("2006-01-02") + " " + ev.EventTime); t != nil {
			return t
		}
	}
	return date
}

func (a *Legistar) fetchItems(ctx context.Context, eventID int) ([]civic.ItemRecord, error) {
	itemsURL := fmt.Sprintf("%s/events/%d/eventitems?AgendaNote=1&MinutesNote=1", a.baseURL, eventID)
	body, err := a.session.GetBytes(ctx, itemsURL)
	if err != nil {
		return nil, err
	}
	var items []legistarItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode legistar items: %w", err)
	}

	records := make([]civic.ItemRecord, 0, len(items))
	for _, item := range items {
		if item.EventItemTitle == "" {
			continue
		}
		rec := civic.ItemRecord{
			ItemID:   fmt.Sprintf("%d", item.EventItemID),
			Title:    item.EventItemTitle,
			Sequence: item.EventItemSequence,
		}
		if item.EventItemMatterID != 0 {
			atts, err := a.fetchAttachments(ctx, item.EventItemMatterID)
			if err != nil {
				a.logger.Warn("failed to fetch legistar attachments",
					"matter", item.EventItemMatterID, "error", err)
			} else {
				rec.Attachments = atts
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *Legistar) fetchAttachments(ctx context.Context, matterID int) ([]civic.Attachment, error) {
	attURL := fmt.Sprintf("%s/matters/%d/attachments", a.baseURL, matterID)
	body, err := a.session.GetBytes(ctx, attURL)
	if err != nil {
		return nil, err
	}
	var atts []legistarAttachment
	if err := json.Unmarshal(body, &atts); err != nil {
		return nil, err
	}
	out := make([]civic.Attachment, 0, len(atts))
	for _, att := range atts {
		if att.MatterAttachmentURL == "" {
			continue
		}
		out = append(out, civic.Attachment{
			Name: att.MatterAttachmentName,
			URL:  att.MatterAttachmentURL,
			Type: "pdf",
		})
	}
	return out, nil
}
