package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/engagic/engagic/civic"
)

// Granicus deployments publish meetings on numbered "views" with no way to
// enumerate them, so each deployment needs a one-time brute-force discovery of
// its view id. Discovered ids are cached on disk keyed by base URL.
type Granicus struct {
	city    *civic.City
	session *Session
	logger  *slog.Logger
	baseURL string
	cache   *viewIDCache
}

const viewIDSearchMax = 500

func newGranicus(city *civic.City, session *Session, opts Options) (Adapter, error) {
	cache, err := openViewIDCache(opts.ViewIDCachePath)
	if err != nil {
		return nil, err
	}
	return &Granicus{
		city:    city,
		session: session,
		logger:  opts.Logger,
		baseURL: fmt.Sprintf("https://%s.granicus.com", city.VendorSlug),
		cache:   cache,
	}, nil
}

func (a *Granicus) Vendor() civic.Vendor { return civic.VendorGranicus }

// FetchMeetings resolves the deployment's view id, then parses the upcoming
// meetings table.
func (a *Granicus) FetchMeetings(ctx context.Context) ([]civic.MeetingRecord, error) {
	viewID, err := a.resolveViewID(ctx)
	if err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s/ViewPublisher.php?view_id=%d", a.baseURL, viewID)
	doc, err := a.session.GetDocument(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch granicus view page: %w", err)
	}

	var records []civic.MeetingRecord
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		heading := strings.ToLower(table.AttrOr("summary", "") + " " + table.Find("caption").Text())
		if !strings.Contains(heading, "upcoming") {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			rec, ok := a.parseRow(row)
			if !ok {
				return
			}
			records = append(records, rec)
		})
	})
	a.logger.Info("granicus sync fetched", "city", a.city.Banana, "meetings", len(records))
	return records, nil
}

var granicusIDPattern = regexp.MustCompile(`(?:event_id|clip_id|ID)=(\d+)`)

func (a *Granicus) parseRow(row *goquery.Selection) (civic.MeetingRecord, bool) {
	cells := row.Find("td")
	if cells.Length() < 2 {
		return civic.MeetingRecord{}, false
	}

	title := strings.TrimSpace(cells.Eq(0).Text())
	dateText := strings.TrimSpace(cells.Eq(1).Text())
	if title == "" {
		return civic.MeetingRecord{}, false
	}

	rec := civic.MeetingRecord{
		Title:         title,
		Start:         ParseDate(dateText),
		MeetingStatus: ParseMeetingStatus(title),
	}

	row.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		lower := strings.ToLower(href + " " + link.Text())
		if strings.HasPrefix(href, "//") {
			href = "https:" + href
		}
		if strings.Contains(lower, "agenda") && rec.PacketURL.IsZero() {
			rec.PacketURL = civic.SinglePacket(href)
		}
		if m := granicusIDPattern.FindStringSubmatch(href); m != nil && rec.MeetingID == "" {
			rec.MeetingID = "granicus_" + m[1]
		}
	})
	// No stable vendor id on some deployments: the store derives a content
	// hash from title and date.
	return rec, true
}

// resolveViewID returns the cached view id or brute-forces the search space,
// accepting the first id whose page mentions meetings and the current year.
func (a *Granicus) resolveViewID(ctx context.Context) (int, error) {
	if id, ok := a.cache.Get(a.baseURL); ok {
		return id, nil
	}

	year := strconv.Itoa(time.Now().Year())
	for id := 1; id <= viewIDSearchMax; id++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		body, err := a.session.GetBytes(ctx, fmt.Sprintf("%s/ViewPublisher.php?view_id=%d", a.baseURL, id))
		if err != nil {
			continue
		}
		page := string(body)
		if (strings.Contains(page, "Meeting") || strings.Contains(page, "Agenda")) && strings.Contains(page, year) {
			a.logger.Info("discovered granicus view id", "city", a.city.Banana, "view_id", id)
			if err := a.cache.Put(a.baseURL, id); err != nil {
				a.logger.Warn("failed to persist view id cache", "error", err)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("no usable granicus view id found for %s", a.baseURL)
}

// viewIDCache is a JSON file mapping base URL to view id, rewritten atomically
// so concurrent readers never see a torn file.
type viewIDCache struct {
	path string
	mu   sync.Mutex
	ids  map[string]int
}

func openViewIDCache(path string) (*viewIDCache, error) {
	c := &viewIDCache{path: path, ids: make(map[string]int)}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read view id cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.ids); err != nil {
		return nil, fmt.Errorf("failed to parse view id cache: %w", err)
	}
	return c, nil
}

func (c *viewIDCache) Get(baseURL string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[baseURL]
	return id, ok
}

func (c *viewIDCache) Put(baseURL string, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[baseURL] = id
	if c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.ids, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".viewids-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}
