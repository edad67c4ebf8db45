package provider

import (
	"regexp"
	"strings"
)

// twoLabelPublicSuffixes lists second-level public suffixes that need a
// third label to form a registrable apex (e.g. "example.co.uk", not
// "co.uk"). This mirrors a short hardcoded list rather than a full public
// suffix list; see DESIGN.md for why.
var twoLabelPublicSuffixes = map[string]bool{
	"com.au": true,
	"co.uk":  true,
	"co.nz":  true,
	"co.za":  true,
	"com.br": true,
	"com.mx": true,
}

// ExtractApex returns the registrable apex domain for a DNS name, e.g.
// "app.example.com" -> "example.com", "app.example.co.uk" -> "example.co.uk".
// Names with fewer than two labels return "".
func ExtractApex(hostname string) string {
	labels := strings.Split(strings.ToLower(hostname), ".")
	if len(labels) <= 1 {
		return ""
	}
	if len(labels) == 2 {
		return hostname
	}
	lastTwo := strings.Join(labels[len(labels)-2:], ".")
	if twoLabelPublicSuffixes[lastTwo] && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// DomainFilter decides which zone names a provider is allowed to manage.
// An empty Include matches every zone (subject to Exclude); this mirrors
// the observed behavior of the reference implementation rather than the
// stricter "empty means nothing matches" reading — see DESIGN.md.
type DomainFilter struct {
	Include []string
	Exclude []string
}

// Match reports whether domain should be managed by the provider.
func (f DomainFilter) Match(domain string) bool {
	if matchesAny(domain, f.Exclude) {
		return false
	}
	if len(f.Include) == 0 {
		return true
	}
	return matchesAny(domain, f.Include)
}

func matchesAny(domain string, patterns []string) bool {
	for _, p := range patterns {
		if matchesPattern(domain, p) {
			return true
		}
	}
	return false
}

func matchesPattern(domain, pattern string) bool {
	domain = strings.ToLower(domain)
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		re := regexp.MustCompile("^.*\\." + regexp.QuoteMeta(pattern[2:]) + "$")
		return re.MatchString(domain)
	}
	return domain == pattern
}

// ZoneFor returns the longest zone in zones that is a suffix of (or equal
// to) hostname, empty string if none match.
func ZoneFor(hostname string, zones []string) string {
	hostname = strings.ToLower(hostname)
	best := ""
	for _, z := range zones {
		zl := strings.ToLower(z)
		if hostname != zl && !strings.HasSuffix(hostname, "."+zl) {
			continue
		}
		if len(zl) > len(best) {
			best = zl
		}
	}
	return best
}
