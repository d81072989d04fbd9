// Package phone normalises phone numbers and maps them to ISO-3166 regions.
package phone

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// dialingPrefixes maps international dialing prefixes (digits after "+") to
// the region whose virtual numbers serve them. Longer prefixes win, so NANP
// area codes can route to CA ahead of the generic "1" entry.
var dialingPrefixes = map[string]string{
	"1":    "US",
	"1204": "CA",
	"1236": "CA",
	"1289": "CA",
	"1343": "CA",
	"1403": "CA",
	"1416": "CA",
	"1418": "CA",
	"1438": "CA",
	"1450": "CA",
	"1514": "CA",
	"1581": "CA",
	"1604": "CA",
	"1613": "CA",
	"1647": "CA",
	"1705": "CA",
	"1778": "CA",
	"1819": "CA",
	"1905": "CA",
	"212":  "MA",
	"213":  "DZ",
	"216":  "TN",
	"221":  "SN",
	"225":  "CI",
	"237":  "CM",
	"262":  "RE",
	"31":   "NL",
	"32":   "BE",
	"33":   "FR",
	"34":   "ES",
	"351":  "PT",
	"352":  "LU",
	"353":  "IE",
	"377":  "MC",
	"39":   "IT",
	"41":   "CH",
	"43":   "AT",
	"44":   "GB",
	"45":   "DK",
	"46":   "SE",
	"47":   "NO",
	"48":   "PL",
	"49":   "DE",
	"52":   "MX",
	"55":   "BR",
	"590":  "GP",
	"594":  "GF",
	"596":  "MQ",
	"61":   "AU",
	"687":  "NC",
	"689":  "PF",
	"81":   "JP",
	"91":   "IN",
	"971":  "AE",
}

type prefixEntry struct {
	prefix string
	region string
}

// Detector resolves the region of a raw number by longest dialing prefix.
type Detector struct {
	fallback string
	entries  []prefixEntry
}

// NewDetector builds a detector that answers fallback when nothing matches.
func NewDetector(fallback string) (*Detector, error) {
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if phonenumbers.GetCountryCodeForRegion(fallback) == 0 {
		return nil, fmt.Errorf("unknown fallback region %q", fallback)
	}
	entries := make([]prefixEntry, 0, len(dialingPrefixes))
	for prefix, region := range dialingPrefixes {
		entries = append(entries, prefixEntry{prefix: prefix, region: region})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].prefix) != len(entries[j].prefix) {
			return len(entries[i].prefix) > len(entries[j].prefix)
		}
		return entries[i].prefix < entries[j].prefix
	})
	return &Detector{fallback: fallback, entries: entries}, nil
}

// Fallback returns the configured default region.
func (d *Detector) Fallback() string {
	return d.fallback
}

// Detect returns the ISO region for raw. National-format and unmatched
// numbers resolve to the fallback region.
func (d *Detector) Detect(raw string) string {
	digits, international := internationalDigits(raw)
	if !international || digits == "" {
		return d.fallback
	}
	for _, entry := range d.entries {
		if strings.HasPrefix(digits, entry.prefix) {
			return entry.region
		}
	}
	return d.fallback
}

// internationalDigits strips formatting and reports whether raw carried an
// international prefix ("+" or "00").
func internationalDigits(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	digits := phonenumbers.NormalizeDigitsOnly(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "+"):
		return digits, true
	case strings.HasPrefix(digits, "00"):
		return digits[2:], true
	default:
		return digits, false
	}
}

// Normalize formats raw as E.164, reading national numbers in region. Input
// that cannot be parsed is returned trimmed so lookups still behave.
func Normalize(raw, region string) string {
	trimmed := strings.TrimSpace(raw)
	if digits, international := internationalDigits(trimmed); international {
		trimmed = "+" + digits
	}
	parsed, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// IsKnownRegion reports whether region is an ISO code with a dialing code.
func IsKnownRegion(region string) bool {
	return phonenumbers.GetCountryCodeForRegion(strings.ToUpper(strings.TrimSpace(region))) != 0
}
