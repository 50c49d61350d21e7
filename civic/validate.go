package civic

import (
	"net/url"
	"strings"
)

// ValidationAction says what to do with a candidate URL.
type ValidationAction int

const (
	// ValidationStore accepts the URL as-is.
	ValidationStore ValidationAction = iota
	// ValidationWarn stores the URL but flags it (relative or malformed).
	ValidationWarn
	// ValidationReject refuses the record: the host belongs to no allow-listed
	// domain for the city's vendor.
	ValidationReject
)

func (a ValidationAction) String() string {
	switch a {
	case ValidationStore:
		return "store"
	case ValidationWarn:
		return "warn"
	default:
		return "reject"
	}
}

// vendorHosts maps each vendor to host fragments its packet URLs may live on.
// The "{slug}" placeholder is substituted with the city's vendor slug.
var vendorHosts = map[Vendor][]string{
	VendorPrimeGov: {"primegov.com", "{slug}.primegov.com"},
	VendorLegistar: {
		"legistar.granicus.com", "legistar1.granicus.com",
		"legistar2.granicus.com", "legistar3.granicus.com",
		"{slug}.legistar.com", "docs.google.com",
	},
	VendorCivicClerk:  {"civicclerk.com", "{slug}.api.civicclerk.com"},
	VendorGranicus:    {"granicus.com", "{slug}.granicus.com", "granicus_production_attachments.s3.amazonaws.com"},
	VendorNovusAgenda: {"novusagenda.com", "{slug}.novusagenda.com"},
	VendorCivicPlus:   {"civicplus.com", "civicweb.net", "{slug}"},
	VendorEscribe:     {"escribemeetings.com", "pub-{slug}.escribemeetings.com"},
}

// ValidateURL checks a candidate packet or agenda URL against the vendor's
// host allow-list. An empty URL is valid; absence is allowed.
func ValidateURL(vendor Vendor, slug, raw string) ValidationAction {
	if raw == "" {
		return ValidationStore
	}

	candidate := raw
	if strings.HasPrefix(candidate, "//") {
		candidate = "https:" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		// Relative or malformed: store but flag.
		return ValidationWarn
	}

	host := strings.ToLower(u.Host)
	for _, allowed := range vendorHosts[vendor] {
		allowed = strings.ReplaceAll(allowed, "{slug}", strings.ToLower(slug))
		if allowed != "" && strings.Contains(host, allowed) {
			return ValidationStore
		}
	}
	return ValidationReject
}

// ValidatePacket validates every URL of a packet; the worst action wins.
func ValidatePacket(vendor Vendor, slug string, packet PacketURL) ValidationAction {
	action := ValidationStore
	for _, u := range packet.URLs {
		a := ValidateURL(vendor, slug, u)
		if a > action {
			action = a
		}
	}
	return action
}
