// Package plan computes the minimal create/update/delete set that brings
// the current DNS state in line with the desired state. It knows nothing
// about ownership or TXT records; that bookkeeping lives in pkg/registry.
package plan

import "github.com/sherpa-dns/sherpa-dns/pkg/endpoint"

// Changes holds the sets of DNS record operations to apply in a single
// reconciliation cycle.
type Changes struct {
	// Create contains endpoints that should be created.
	Create []*endpoint.Endpoint
	// UpdateOld contains the current (old) state of endpoints to be updated.
	UpdateOld []*endpoint.Endpoint
	// UpdateNew contains the desired (new) state of endpoints to be updated.
	// Parallel slice with UpdateOld: UpdateOld[i] is replaced by UpdateNew[i].
	UpdateNew []*endpoint.Endpoint
	// Delete contains endpoints that should be deleted.
	Delete []*endpoint.Endpoint
}

// IsEmpty reports whether the change set has no operations at all.
func (c *Changes) IsEmpty() bool {
	return len(c.Create) == 0 &&
		len(c.UpdateOld) == 0 &&
		len(c.UpdateNew) == 0 &&
		len(c.Delete) == 0
}

// HasChanges reports whether there are any non-delete operations pending.
// The controller holds deletes back for the cleanup tracker to mature, so
// it checks this rather than IsEmpty to decide whether an immediate
// registry sync is warranted.
func (c *Changes) HasChanges() bool {
	return len(c.Create) > 0 || len(c.UpdateOld) > 0
}

// DeletionOnly returns a Changes set containing only the given deletes.
func DeletionOnly(eps []*endpoint.Endpoint) *Changes {
	return &Changes{Delete: eps}
}
