// Package cloudflare implements provider.Provider against the Cloudflare
// DNS API.
package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/plan"
	"github.com/sherpa-dns/sherpa-dns/pkg/provider"
)

// api is the subset of *cloudflare.API this provider calls, extracted as
// an interface so tests can substitute a fake.
type api interface {
	ListZonesContext(ctx context.Context, opts ...cf.ReqOption) (cf.ZonesResponse, error)
	ListDNSRecords(ctx context.Context, rc *cf.ResourceContainer, rp cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, rp cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	UpdateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, rp cf.UpdateDNSRecordParams) error
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
}

// Provider manages DNS records in Cloudflare zones selected by a
// DomainFilter. Zone apex lookups are cached by name; the cache is
// refreshed whenever Zones is called.
type Provider struct {
	client           api
	domainFilter     provider.DomainFilter
	proxiedByDefault bool
	log              *slog.Logger

	mu          sync.Mutex
	zoneIDCache map[string]string
}

// New returns a Provider authenticated with apiToken.
func New(apiToken string, domainFilter provider.DomainFilter, proxiedByDefault bool, logger *slog.Logger) (*Provider, error) {
	client, err := cf.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: initializing client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:           client,
		domainFilter:     domainFilter,
		proxiedByDefault: proxiedByDefault,
		log:              logger,
		zoneIDCache:      make(map[string]string),
	}, nil
}

// Zones lists the account's zones, keeping only those that pass the
// configured domain filter, and refreshes the apex-name-to-ID cache.
func (p *Provider) Zones(ctx context.Context) ([]string, error) {
	resp, err := p.client.ListZonesContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: listing zones: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, z := range resp.Result {
		if !p.domainFilter.Match(z.Name) {
			continue
		}
		p.zoneIDCache[z.Name] = z.ID
		names = append(names, z.Name)
	}
	return names, nil
}

// Records returns every DNS record (including TXT) across all managed
// zones. The registry is responsible for separating ownership markers
// from plain records.
func (p *Provider) Records(ctx context.Context) ([]*endpoint.Endpoint, error) {
	zoneNames, err := p.Zones(ctx)
	if err != nil {
		return nil, err
	}

	var eps []*endpoint.Endpoint
	for _, zoneName := range zoneNames {
		zoneID := p.cachedZoneID(zoneName)
		records, _, err := p.client.ListDNSRecords(ctx, cf.ZoneIdentifier(zoneID), cf.ListDNSRecordsParams{})
		if err != nil {
			return nil, fmt.Errorf("cloudflare: listing records for zone %s: %w", zoneName, err)
		}
		for _, r := range records {
			ep := endpoint.New(r.Name, []string{r.Content}, r.Type, int64(r.TTL))
			if r.Proxied != nil {
				ep.Proxied = *r.Proxied
			}
			eps = append(eps, ep)
		}
	}
	return eps, nil
}

// ApplyChanges applies creates, updates, and deletes against Cloudflare.
// Updates that can't find their prior record fall back to creating the
// new one; deletes that can't find their record are skipped with a
// warning rather than treated as an error.
func (p *Provider) ApplyChanges(ctx context.Context, changes *plan.Changes, dryRun bool) error {
	if dryRun {
		p.logDryRun(changes)
		return nil
	}

	for _, ep := range changes.Create {
		if err := p.createRecord(ctx, ep); err != nil {
			p.log.Error("cloudflare: create failed, continuing with remaining changes",
				"name", ep.DNSName, "error", err)
		}
	}
	for i, oldEp := range changes.UpdateOld {
		if i >= len(changes.UpdateNew) {
			continue
		}
		if err := p.updateRecord(ctx, oldEp, changes.UpdateNew[i]); err != nil {
			p.log.Error("cloudflare: update failed, continuing with remaining changes",
				"name", oldEp.DNSName, "error", err)
		}
	}
	for _, ep := range changes.Delete {
		if err := p.deleteRecord(ctx, ep); err != nil {
			p.log.Error("cloudflare: delete failed, continuing with remaining changes",
				"name", ep.DNSName, "error", err)
		}
	}
	return nil
}

func (p *Provider) createRecord(ctx context.Context, ep *endpoint.Endpoint) error {
	zoneID, err := p.zoneIDForHostname(ctx, ep.DNSName)
	if err != nil {
		return err
	}
	proxied := ep.Proxied
	for _, target := range ep.Targets {
		_, err := p.client.CreateDNSRecord(ctx, cf.ZoneIdentifier(zoneID), cf.CreateDNSRecordParams{
			Name:    ep.DNSName,
			Type:    ep.RecordType,
			Content: target,
			TTL:     int(ep.RecordTTL),
			Proxied: &proxied,
		})
		if err != nil {
			return fmt.Errorf("cloudflare: creating record %s: %w", ep.DNSName, err)
		}
	}
	return nil
}

func (p *Provider) updateRecord(ctx context.Context, oldEp, newEp *endpoint.Endpoint) error {
	zoneID, err := p.zoneIDForHostname(ctx, newEp.DNSName)
	if err != nil {
		return err
	}
	recordID, err := p.recordID(ctx, zoneID, oldEp)
	if err != nil {
		return err
	}
	if recordID == "" {
		p.log.Warn("cloudflare: record to update not found, creating instead", "name", oldEp.DNSName)
		return p.createRecord(ctx, newEp)
	}
	if len(newEp.Targets) == 0 {
		return fmt.Errorf("cloudflare: endpoint %s has no targets to update", newEp.DNSName)
	}
	proxied := newEp.Proxied
	return p.client.UpdateDNSRecord(ctx, cf.ZoneIdentifier(zoneID), cf.UpdateDNSRecordParams{
		ID:      recordID,
		Name:    newEp.DNSName,
		Type:    newEp.RecordType,
		Content: newEp.Targets[0],
		TTL:     int(newEp.RecordTTL),
		Proxied: &proxied,
	})
}

func (p *Provider) deleteRecord(ctx context.Context, ep *endpoint.Endpoint) error {
	zoneID, err := p.zoneIDForHostname(ctx, ep.DNSName)
	if err != nil {
		p.log.Warn("cloudflare: cannot resolve zone for delete, skipping", "name", ep.DNSName, "error", err)
		return nil
	}
	recordID, err := p.recordID(ctx, zoneID, ep)
	if err != nil {
		return err
	}
	if recordID == "" {
		p.log.Warn("cloudflare: record to delete not found, skipping", "name", ep.DNSName)
		return nil
	}
	return p.client.DeleteDNSRecord(ctx, cf.ZoneIdentifier(zoneID), recordID)
}

// recordID returns the Cloudflare record ID matching ep's name and type,
// or "" if none exists.
func (p *Provider) recordID(ctx context.Context, zoneID string, ep *endpoint.Endpoint) (string, error) {
	records, _, err := p.client.ListDNSRecords(ctx, cf.ZoneIdentifier(zoneID), cf.ListDNSRecordsParams{
		Name: ep.DNSName,
		Type: ep.RecordType,
	})
	if err != nil {
		return "", fmt.Errorf("cloudflare: looking up record %s: %w", ep.DNSName, err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

// zoneIDForHostname resolves hostname's apex to a zone ID, refreshing the
// zone cache on a miss.
func (p *Provider) zoneIDForHostname(ctx context.Context, hostname string) (string, error) {
	apex := provider.ExtractApex(hostname)
	if apex == "" {
		return "", fmt.Errorf("cloudflare: cannot determine zone apex for %q", hostname)
	}
	if id := p.cachedZoneID(apex); id != "" {
		return id, nil
	}
	if _, err := p.Zones(ctx); err != nil {
		return "", err
	}
	if id := p.cachedZoneID(apex); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("cloudflare: no zone found for %q", apex)
}

func (p *Provider) cachedZoneID(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zoneIDCache[name]
}

func (p *Provider) logDryRun(changes *plan.Changes) {
	for _, ep := range changes.Create {
		p.log.Info("cloudflare: would create record", "name", ep.DNSName, "type", ep.RecordType, "targets", ep.Targets)
	}
	for i, ep := range changes.UpdateNew {
		old := "?"
		if i < len(changes.UpdateOld) {
			old = fmt.Sprint(changes.UpdateOld[i].Targets)
		}
		p.log.Info("cloudflare: would update record", "name", ep.DNSName, "type", ep.RecordType, "targets", ep.Targets, "old", old)
	}
	for _, ep := range changes.Delete {
		p.log.Info("cloudflare: would delete record", "name", ep.DNSName, "type", ep.RecordType)
	}
}
