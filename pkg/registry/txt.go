package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/plan"
	"github.com/sherpa-dns/sherpa-dns/pkg/provider"
)

const (
	// DefaultTXTPrefix is prepended to a managed record's DNS name to form
	// its ownership marker's name.
	DefaultTXTPrefix = "sherpa-dns-"
	// DefaultTXTOwnerID identifies this instance in ownership markers when
	// no explicit owner ID is configured.
	DefaultTXTOwnerID = "default"
	// DefaultWildcardReplacement substitutes for a leading "*" label in a
	// marker name, since wildcards are not valid there.
	DefaultWildcardReplacement = "star"

	heritageValue = "sherpa-dns"
)

// Config configures a TXTRegistry.
type Config struct {
	TXTPrefix              string
	TXTOwnerID             string
	TXTWildcardReplacement string
	EncryptTXT             bool
	EncryptionKey          string
	Logger                 *slog.Logger
}

// TXTRegistry records ownership of managed DNS records as companion TXT
// records, so reconciliation only ever touches records this instance
// created.
type TXTRegistry struct {
	provider provider.Provider
	cfg      Config
	log      *slog.Logger
}

// NewTXT returns a TXTRegistry wrapping provider p.
func NewTXT(p provider.Provider, cfg Config) *TXTRegistry {
	if cfg.TXTPrefix == "" {
		cfg.TXTPrefix = DefaultTXTPrefix
	}
	if cfg.TXTOwnerID == "" {
		cfg.TXTOwnerID = DefaultTXTOwnerID
	}
	if cfg.TXTWildcardReplacement == "" {
		cfg.TXTWildcardReplacement = DefaultWildcardReplacement
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TXTRegistry{provider: p, cfg: cfg, log: log}
}

// Records returns the provider's managed (non-TXT) records that carry a
// valid ownership marker matching this instance's owner ID. Records with
// no marker, or a marker owned by someone else, are omitted entirely so
// the planner never proposes changing them.
func (r *TXTRegistry) Records(ctx context.Context) ([]*endpoint.Endpoint, error) {
	all, err := r.provider.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: fetching provider records: %w", err)
	}

	markers := make(map[string]map[string]string)
	var plain []*endpoint.Endpoint
	for _, ep := range all {
		if ep.RecordType != endpoint.RecordTypeTXT {
			plain = append(plain, ep)
			continue
		}
		fields, ok := r.parseMarker(ep)
		if !ok {
			continue
		}
		markers[strings.ToLower(ep.DNSName)] = fields
	}

	owned := make([]*endpoint.Endpoint, 0, len(plain))
	for _, ep := range plain {
		fields, ok := markers[strings.ToLower(r.markerName(ep.DNSName))]
		if !ok || !isOwnedByThisInstance(fields, r.cfg.TXTOwnerID) {
			continue
		}
		r.overlayTTL(ep, fields)
		owned = append(owned, ep)
	}
	return owned, nil
}

// overlayTTL applies the marker's recorded ttl field onto ep, so a
// provider-reported TTL can't drift from what this instance last wrote.
// The sentinel string "auto" maps back to endpoint.AutoTTL. A marker with
// no ttl field, or one that fails to parse, leaves ep.RecordTTL untouched.
func (r *TXTRegistry) overlayTTL(ep *endpoint.Endpoint, fields map[string]string) {
	ttlValue, ok := fields["ttl"]
	if !ok {
		return
	}
	if ttlValue == "auto" {
		ep.RecordTTL = endpoint.AutoTTL
		return
	}
	ttl, err := strconv.ParseInt(ttlValue, 10, 64)
	if err != nil {
		r.log.Warn("registry: could not parse ttl from TXT marker, skipping TTL overlay",
			"name", ep.DNSName, "ttl", ttlValue)
		return
	}
	ep.RecordTTL = ttl
}

// parseMarker decodes a TXT record's content into its field map, handling
// the optional encryption envelope. It returns ok=false for markers that
// cannot be read (wrong key, corrupt content, empty record).
func (r *TXTRegistry) parseMarker(ep *endpoint.Endpoint) (map[string]string, bool) {
	if len(ep.Targets) == 0 {
		return nil, false
	}
	raw := strings.Trim(ep.Targets[0], `"`)
	if r.cfg.EncryptTXT {
		decrypted, err := decryptText(raw, r.cfg.EncryptionKey)
		if err != nil {
			r.log.Warn("registry: could not decrypt TXT marker", "name", ep.DNSName, "error", err)
			return nil, false
		}
		raw = decrypted
	}
	return parseMarkerContent(raw), true
}

// ApplyChanges applies changes to the provider, creating, updating, or
// deleting the ownership marker alongside each managed record.
func (r *TXTRegistry) ApplyChanges(ctx context.Context, changes *plan.Changes, dryRun bool) error {
	augmented := &plan.Changes{
		Create:    append([]*endpoint.Endpoint{}, changes.Create...),
		UpdateOld: append([]*endpoint.Endpoint{}, changes.UpdateOld...),
		UpdateNew: append([]*endpoint.Endpoint{}, changes.UpdateNew...),
		Delete:    append([]*endpoint.Endpoint{}, changes.Delete...),
	}

	for _, ep := range changes.Create {
		marker, err := r.buildMarker(r.markerName(ep.DNSName), ep)
		if err != nil {
			return err
		}
		augmented.Create = append(augmented.Create, marker)
	}

	for i, oldEp := range changes.UpdateOld {
		if i >= len(changes.UpdateNew) {
			continue
		}
		newEp := changes.UpdateNew[i]
		oldName, newName := r.markerName(oldEp.DNSName), r.markerName(newEp.DNSName)

		newMarker, err := r.buildMarker(newName, newEp)
		if err != nil {
			return err
		}
		if oldName != newName {
			oldMarker, err := r.buildMarker(oldName, oldEp)
			if err != nil {
				return err
			}
			augmented.Delete = append(augmented.Delete, oldMarker)
			augmented.Create = append(augmented.Create, newMarker)
			continue
		}
		oldMarker, err := r.buildMarker(oldName, oldEp)
		if err != nil {
			return err
		}
		augmented.UpdateOld = append(augmented.UpdateOld, oldMarker)
		augmented.UpdateNew = append(augmented.UpdateNew, newMarker)
	}

	for _, ep := range changes.Delete {
		marker, err := r.buildMarker(r.markerName(ep.DNSName), ep)
		if err != nil {
			return err
		}
		augmented.Delete = append(augmented.Delete, marker)
	}

	return r.provider.ApplyChanges(ctx, augmented, dryRun)
}

// markerName returns the TXT record name that carries ownership metadata
// for dnsName, with any wildcard label substituted.
func (r *TXTRegistry) markerName(dnsName string) string {
	replaced := strings.ReplaceAll(dnsName, "*", r.cfg.TXTWildcardReplacement)
	return r.cfg.TXTPrefix + replaced
}

// markerContent builds the comma-joined key=value marker body for ep.
// targets and ttl are only included when present, matching the original
// implementation's behavior; the AutoTTL sentinel is serialized as the
// literal string "auto" rather than its numeric value.
func (r *TXTRegistry) markerContent(ep *endpoint.Endpoint) string {
	fields := []string{
		"heritage=" + heritageValue,
		"owner=" + r.cfg.TXTOwnerID,
		"resource=docker",
	}
	if len(ep.Targets) > 0 {
		fields = append(fields, "targets="+strings.Join(ep.Targets, ","))
	}
	if ep.RecordTTL != 0 {
		if ep.RecordTTL == endpoint.AutoTTL {
			fields = append(fields, "ttl=auto")
		} else {
			fields = append(fields, fmt.Sprintf("ttl=%d", ep.RecordTTL))
		}
	}
	return strings.Join(fields, ",")
}

func (r *TXTRegistry) buildMarker(name string, ep *endpoint.Endpoint) (*endpoint.Endpoint, error) {
	content := r.markerContent(ep)
	if r.cfg.EncryptTXT {
		enc, err := encryptText(content, r.cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("registry: encrypting TXT marker for %s: %w", ep.DNSName, err)
		}
		content = enc
	}
	return endpoint.New(name, []string{content}, endpoint.RecordTypeTXT, endpoint.AutoTTL), nil
}

// parseMarkerContent splits a marker body into its key=value fields.
// Malformed pairs (missing "=") are ignored.
func parseMarkerContent(raw string) map[string]string {
	raw = strings.Trim(raw, `"`)
	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = kv[1]
	}
	return fields
}

func isOwnedByThisInstance(fields map[string]string, ownerID string) bool {
	return fields["heritage"] == heritageValue && fields["owner"] == ownerID
}
