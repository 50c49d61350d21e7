// Package civic defines the shared domain model for the engagic pipeline:
// cities, meetings, agenda items, queue entries and the normalized records
// vendor adapters emit.
package civic

import (
	"encoding/json"
	"time"
)

// Vendor identifies a civic-tech meeting platform.
type Vendor string

const (
	VendorPrimeGov    Vendor = "primegov"
	VendorLegistar    Vendor = "legistar"
	VendorCivicClerk  Vendor = "civicclerk"
	VendorGranicus    Vendor = "granicus"
	VendorNovusAgenda Vendor = "novusagenda"
	VendorCivicPlus   Vendor = "civicplus"
	VendorEscribe     Vendor = "escribe"
)

// SupportedVendors lists every vendor the pipeline can sync.
var SupportedVendors = map[Vendor]bool{
	VendorPrimeGov:    true,
	VendorLegistar:    true,
	VendorCivicClerk:  true,
	VendorGranicus:    true,
	VendorNovusAgenda: true,
	VendorCivicPlus:   true,
	VendorEscribe:     true,
}

// CityStatus marks whether a city participates in background sync.
type CityStatus string

const (
	CityActive   CityStatus = "active"
	CityInactive CityStatus = "inactive"
)

// City is a municipality tracked by the pipeline. Banana is the canonical
// identifier derived from (name, state).
type City struct {
	Banana     string     `json:"banana"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	Vendor     Vendor     `json:"vendor"`
	VendorSlug string     `json:"vendor_slug"`
	County     string     `json:"county,omitempty"`
	Status     CityStatus `json:"status"`
	Zipcodes   []string   `json:"zipcodes,omitempty"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MeetingStatus is the vendor-announced disposition of a meeting.
type MeetingStatus string

const (
	MeetingCancelled   MeetingStatus = "cancelled"
	MeetingPostponed   MeetingStatus = "postponed"
	MeetingRescheduled MeetingStatus = "rescheduled"
	MeetingRevised     MeetingStatus = "revised"
)

// ProcessingStatus tracks where a meeting sits in the enrichment pipeline.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// PacketURL is a packet reference that may be a single PDF URL or a list of
// them. The zero value means no packet.
type PacketURL struct {
	URLs []string
}

// SinglePacket wraps one URL.
func SinglePacket(url string) PacketURL {
	if url == "" {
		return PacketURL{}
	}
	return PacketURL{URLs: []string{url}}
}

// MultiPacket wraps several URLs, preserving order.
func MultiPacket(urls []string) PacketURL {
	return PacketURL{URLs: urls}
}

// IsZero reports whether no packet is present.
func (p PacketURL) IsZero() bool { return len(p.URLs) == 0 }

// First returns the first URL, or "".
func (p PacketURL) First() string {
	if len(p.URLs) == 0 {
		return ""
	}
	return p.URLs[0]
}

// CacheKey serializes the packet deterministically for use as a cache key.
// A single URL keys as itself; a list keys as a JSON array in insertion order.
func (p PacketURL) CacheKey() string {
	switch len(p.URLs) {
	case 0:
		return ""
	case 1:
		return p.URLs[0]
	default:
		b, _ := json.Marshal(p.URLs)
		return string(b)
	}
}

// MarshalJSON emits a bare string for single URLs and an array otherwise.
func (p PacketURL) MarshalJSON() ([]byte, error) {
	switch len(p.URLs) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(p.URLs[0])
	default:
		return json.Marshal(p.URLs)
	}
}

// UnmarshalJSON accepts null, a string, or an array of strings.
func (p *PacketURL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = SinglePacket(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = MultiPacket(list)
		return nil
	}
	*p = PacketURL{}
	return nil
}

// Participation carries the contact channels parsed from an agenda for
// residents who want to take part.
type Participation struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	ZoomURL string `json:"zoom_url,omitempty"`
	DialIn  string `json:"dial_in,omitempty"`
}

// IsZero reports whether nothing was parsed.
func (p Participation) IsZero() bool {
	return p.Email == "" && p.Phone == "" && p.ZoomURL == "" && p.DialIn == ""
}

// Meeting is a stored municipal meeting with its enrichment state.
type Meeting struct {
	ID               string           `json:"id"`
	CityBanana       string           `json:"city_banana"`
	Title            string           `json:"title"`
	Date             *time.Time       `json:"date,omitempty"`
	AgendaURL        string           `json:"agenda_url,omitempty"`
	PacketURL        PacketURL        `json:"packet_url,omitempty"`
	Summary          string           `json:"summary,omitempty"`
	Participation    *Participation   `json:"participation,omitempty"`
	Status           MeetingStatus    `json:"status,omitempty"`
	Topics           []string         `json:"topics,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingMethod string           `json:"processing_method,omitempty"`
	ProcessingTime   float64          `json:"processing_time,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Attachment is one document hanging off an agenda item.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// AgendaItem is one row on a meeting agenda. ID is stable across re-syncs:
// "<meeting_id>_<vendor_item_id>".
type AgendaItem struct {
	ID        string       `json:"id"`
	MeetingID string       `json:"meeting_id"`
	Title     string       `json:"title"`
	Sequence  int          `json:"sequence"`
	Atts      []Attachment `json:"attachments,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	Topics    []string     `json:"topics,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ItemID builds the stable agenda-item key.
func ItemID(meetingID, vendorItemID string) string {
	return meetingID + "_" + vendorItemID
}

// QueueStatus is the lifecycle of a processing-queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueDeadLetter QueueStatus = "dead_letter"
)

// QueueEntry is one unit of enrichment work keyed by source URL. The source
// may be a packet URL or the synthetic "items://<meeting_id>" scheme.
type QueueEntry struct {
	ID           int64             `json:"id"`
	SourceURL    string            `json:"source_url"`
	MeetingID    string            `json:"meeting_id"`
	CityBanana   string            `json:"city_banana"`
	Status       QueueStatus       `json:"status"`
	Priority     int               `json:"priority"`
	RetryCount   int               `json:"retry_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"processing_metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// ItemsScheme prefixes synthetic queue source URLs for item-batch work.
const ItemsScheme = "items://"

// ItemsSourceURL builds the synthetic queue key for a meeting's item batch.
func ItemsSourceURL(meetingID string) string { return ItemsScheme + meetingID }

// CacheEntry records a completed packet extraction so re-syncs skip the work.
type CacheEntry struct {
	PacketURL        string    `json:"packet_url"`
	ContentHash      string    `json:"content_hash,omitempty"`
	ProcessingMethod string    `json:"processing_method"`
	ProcessingTime   float64   `json:"processing_time"`
	CacheHitCount    int       `json:"cache_hit_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastAccessed     time.Time `json:"last_accessed"`
}

// ItemRecord is a normalized agenda item as yielded by an adapter.
type ItemRecord struct {
	ItemID      string       `json:"item_id"`
	Title       string       `json:"title"`
	Sequence    int          `json:"sequence"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// MeetingRecord is the normalized shape every vendor adapter yields.
type MeetingRecord struct {
	MeetingID     string        `json:"meeting_id"`
	Title         string        `json:"title"`
	Start         *time.Time    `json:"start,omitempty"`
	PacketURL     PacketURL     `json:"packet_url,omitempty"`
	AgendaURL     string        `json:"agenda_url,omitempty"`
	Items         []ItemRecord  `json:"items,omitempty"`
	MeetingStatus MeetingStatus `json:"meeting_status,omitempty"`
	Location      string        `json:"location,omitempty"`

	// SourceVendor and SourceSlug identify the vendor that actually served
	// the record when it arrived through delegation (a CivicPlus homepage
	// fronting another vendor's portal). Packet URLs are validated against
	// them instead of the city's own vendor. Empty means no delegation.
	SourceVendor Vendor `json:"source_vendor,omitempty"`
	SourceSlug   string `json:"source_slug,omitempty"`
}

// SyncPriority derives queue priority from meeting recency: upcoming and
// recent meetings are processed first.
func SyncPriority(date *time.Time, now time.Time) int {
	if date == nil {
		return 0
	}
	days := int(now.Sub(*date).Hours() / 24)
	if days < 0 {
		days = 0
	}
	p := 100 - days
	if p < 0 {
		p = 0
	}
	return p
}
