// Package endpoint defines the Endpoint type: the declarative DNS record
// intent that flows from the container source, through the planner and
// registry, to the DNS provider.
package endpoint

import (
	"fmt"
	"strings"
)

// DNS record type constants.
const (
	RecordTypeA     = "A"
	RecordTypeAAAA  = "AAAA"
	RecordTypeCNAME = "CNAME"
	RecordTypeTXT   = "TXT"

	// AutoTTL is the sentinel TTL value meaning "provider-default / auto".
	AutoTTL = int64(1)
)

// Endpoint represents one DNS record intent. Its identity is the pair
// (DNSName, RecordType); two endpoints with the same identity are the
// same record, regardless of Targets.
type Endpoint struct {
	// DNSName is the fully-qualified DNS name (e.g. "app.example.com").
	// Compared case-insensitively.
	DNSName string
	// Targets is the ordered set of RDATA values this record points to.
	// Non-empty for create/update.
	Targets []string
	// RecordType is one of RecordTypeA, RecordTypeAAAA, RecordTypeCNAME,
	// RecordTypeTXT.
	RecordType string
	// RecordTTL is the TTL in seconds. AutoTTL (1) means "provider
	// default". Absent TTL must be normalized to AutoTTL by callers.
	RecordTTL int64
	// Proxied carries provider-specific proxy semantics (e.g. Cloudflare
	// orange-cloud). Defaults from provider configuration.
	Proxied bool
	// ContainerID and ContainerName are provenance only: used for event
	// correlation and logging, never persisted to DNS.
	ContainerID   string
	ContainerName string
}

// ID is the identity of an Endpoint.
type ID struct {
	DNSName    string
	RecordType string
}

// New returns an Endpoint with RecordTTL defaulting to AutoTTL when ttl is 0.
func New(dnsName string, targets []string, recordType string, ttl int64) *Endpoint {
	if ttl == 0 {
		ttl = AutoTTL
	}
	return &Endpoint{
		DNSName:    dnsName,
		Targets:    targets,
		RecordType: recordType,
		RecordTTL:  ttl,
	}
}

// Identity returns the endpoint's identity, with DNSName lower-cased so
// that identity comparisons are case-insensitive.
func (e *Endpoint) Identity() ID {
	return ID{DNSName: strings.ToLower(e.DNSName), RecordType: e.RecordType}
}

// Key returns a stable string form of Identity, suitable as a map key.
func (e *Endpoint) Key() string {
	id := e.Identity()
	return id.DNSName + "|" + id.RecordType
}

// String returns a human-readable representation, used in logs.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s %s %s (TTL %d)", e.DNSName, e.RecordType, strings.Join(e.Targets, ","), e.RecordTTL)
}

// SameTargets reports whether two endpoints have the same target set,
// ignoring order.
func SameTargets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
		if counts[t] < 0 {
			return false
		}
	}
	return true
}
