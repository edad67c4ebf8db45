// Package provider defines the Provider interface implemented by every DNS
// backend (Cloudflare, RFC2136, and the in-memory fake used in tests).
package provider

import (
	"context"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/plan"
)

// Provider is implemented by every DNS backend.
type Provider interface {
	// Zones returns the apex domain names this provider is authoritative
	// for and willing to manage, after any include/exclude domain
	// filtering has been applied.
	Zones(ctx context.Context) ([]string, error)

	// Records returns the current set of DNS endpoints across all managed
	// zones, including any TXT records (the registry is responsible for
	// separating ownership markers from plain records).
	Records(ctx context.Context) ([]*endpoint.Endpoint, error)

	// ApplyChanges applies the given set of create, update, and delete
	// operations to the DNS backend. When dryRun is true the provider
	// must log what it would have done and return without mutating
	// anything.
	ApplyChanges(ctx context.Context, changes *plan.Changes, dryRun bool) error
}
