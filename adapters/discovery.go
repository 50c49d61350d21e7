package adapters

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// packetKeywords flag anchor hrefs or texts that look like agenda packets.
var packetKeywords = []string{"agenda", "packet", ".pdf"}

// DiscoverPacketLinks fetches a page and collects anchor hrefs whose target or
// text matches the packet keyword set, resolved to absolute URLs. Order of
// appearance is preserved and duplicates dropped.
func (s *Session) DiscoverPacketLinks(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := s.GetDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		lowerHref := strings.ToLower(href)

		matched := false
		for _, kw := range packetKeywords {
			if strings.Contains(lowerHref, kw) || strings.Contains(text, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	})
	return links, nil
}
