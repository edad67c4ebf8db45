// Package registry tracks which DNS records are owned by this instance of
// the daemon, so that reconciliation never touches records it did not
// create. Ownership is recorded out-of-band as TXT "marker" records
// alongside the managed record.
package registry

import (
	"context"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/plan"
)

// Registry mediates all access to the provider on behalf of the
// controller: its Records reflect only endpoints owned by this instance,
// and its ApplyChanges keeps ownership markers in sync with the records
// they describe.
type Registry interface {
	// Records returns the endpoints this instance owns, derived from the
	// provider's full record set filtered through ownership markers.
	Records(ctx context.Context) ([]*endpoint.Endpoint, error)

	// ApplyChanges applies changes to the underlying provider and creates,
	// updates, or removes the corresponding ownership markers.
	ApplyChanges(ctx context.Context, changes *plan.Changes, dryRun bool) error
}
