package plan

import "github.com/sherpa-dns/sherpa-dns/pkg/endpoint"

// Policy controls which kinds of changes Calculate is allowed to produce.
type Policy string

const (
	// PolicySync permits creates, updates and deletes (the default).
	PolicySync Policy = "sync"
	// PolicyUpsertOnly permits creates and updates but never deletes.
	PolicyUpsertOnly Policy = "upsert-only"
	// PolicyCreateOnly permits creates only; existing records, even if
	// their targets or TTL have drifted, are left untouched.
	PolicyCreateOnly Policy = "create-only"
)

// Plan diffs a desired state (from the source) against a current state
// (from the registry/provider) and computes the Changes needed to
// converge, subject to Policy.
type Plan struct {
	Current []*endpoint.Endpoint
	Desired []*endpoint.Endpoint
	Policy  Policy
}

// New returns a Plan with the given current and desired endpoint sets.
// An empty Policy is treated as PolicySync.
func New(current, desired []*endpoint.Endpoint, policy Policy) *Plan {
	if policy == "" {
		policy = PolicySync
	}
	return &Plan{Current: current, Desired: desired, Policy: policy}
}

// Calculate indexes Current by identity and walks Desired, producing
// creates for unmatched desired endpoints, updates for matched endpoints
// whose targets/TTL/proxied flag differ, and — under PolicySync — deletes
// for current endpoints absent from Desired.
func (p *Plan) Calculate() *Changes {
	currentIdx := indexEndpoints(p.Current)
	desiredIdx := indexEndpoints(p.Desired)

	changes := &Changes{}

	for key, want := range desiredIdx {
		have, exists := currentIdx[key]
		if !exists {
			changes.Create = append(changes.Create, want)
			continue
		}
		if p.Policy == PolicyCreateOnly {
			continue
		}
		if needsUpdate(have, want) {
			changes.UpdateOld = append(changes.UpdateOld, have)
			changes.UpdateNew = append(changes.UpdateNew, want)
		}
	}

	if p.Policy != PolicySync {
		return changes
	}

	for key, have := range currentIdx {
		if _, wanted := desiredIdx[key]; wanted {
			continue
		}
		changes.Delete = append(changes.Delete, have)
	}

	return changes
}

// DeletionOnly builds a Changes set that deletes exactly the given
// endpoints, bypassing Calculate. Method form of the package-level
// DeletionOnly, which the controller's cleanup pass uses once a pending
// deletion has matured past its delay.
func (p *Plan) DeletionOnly(eps []*endpoint.Endpoint) *Changes {
	return DeletionOnly(eps)
}

// needsUpdate reports whether desired differs from current in a way that
// requires a provider update: target set, TTL, or proxied flag.
func needsUpdate(current, desired *endpoint.Endpoint) bool {
	if !endpoint.SameTargets(current.Targets, desired.Targets) {
		return true
	}
	if current.RecordTTL != desired.RecordTTL {
		return true
	}
	if current.Proxied != desired.Proxied {
		return true
	}
	return false
}

// indexEndpoints builds a map from identity key to Endpoint. If duplicate
// keys exist the last one wins (undefined provider behaviour).
func indexEndpoints(eps []*endpoint.Endpoint) map[string]*endpoint.Endpoint {
	idx := make(map[string]*endpoint.Endpoint, len(eps))
	for _, ep := range eps {
		idx[ep.Key()] = ep
	}
	return idx
}
