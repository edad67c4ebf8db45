// Package controller implements the DNS reconciliation loop: periodic and
// event-driven reconciliation, delayed-cleanup, and partial-failure
// isolation between the container source and the DNS registry.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sherpa-dns/sherpa-dns/pkg/cleanup"
	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/plan"
	"github.com/sherpa-dns/sherpa-dns/pkg/registry"
	"github.com/sherpa-dns/sherpa-dns/pkg/source"
)

// cleanupInterval is the fixed period at which process_cleanup runs,
// independent of the reconciliation interval.
const cleanupInterval = 60 * time.Second

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherpa_dns_reconciliations_total",
		Help: "Total reconciliation cycles, partitioned by result.",
	}, []string{"result"})

	recordsManaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sherpa_dns_records_managed",
		Help: "Number of DNS records currently owned by this instance.",
	})

	plannedChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherpa_dns_planned_changes_total",
		Help: "Planned DNS record changes, partitioned by kind.",
	}, []string{"kind"})

	cleanupPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sherpa_dns_cleanup_pending",
		Help: "Number of endpoints currently awaiting their cleanup delay.",
	})
)

// Config holds controller tuning parameters.
type Config struct {
	// Interval is the periodic reconciliation interval. Default: 60s.
	Interval time.Duration
	// DebounceDelay is the fixed delay between the first container event of
	// a batch and the coalesced reconcile it triggers; later events in the
	// same window do not extend it. Default: 2s.
	DebounceDelay time.Duration
	// CleanupDelay is how long a would-be-deleted endpoint is held before
	// cleanup actually removes it. Default: cleanup.DefaultDelay (15m).
	CleanupDelay time.Duration
	// CleanupOnStop marks endpoints absent from the desired set for delayed
	// deletion instead of discarding them immediately.
	CleanupOnStop bool
	// DryRun logs planned changes without calling ApplyChanges.
	DryRun bool
	// Once causes the controller to run exactly one reconciliation cycle
	// then exit, skipping the event/cleanup loops entirely.
	Once bool
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 2 * time.Second
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = cleanup.DefaultDelay
	}
}

// Controller orchestrates periodic and event-driven DNS reconciliation
// between a Source and a Registry.
type Controller struct {
	source   source.Source
	registry registry.Registry
	tracker  *cleanup.Tracker
	log      *slog.Logger
	cfg      Config
	ready    atomic.Bool // set true after the first successful reconciliation

	debounceMu      sync.Mutex
	debouncePending bool
}

// New returns a Controller wired with the given source, registry, and
// config. A nil logger falls back to slog.Default().
func New(src source.Source, reg registry.Registry, log *slog.Logger, cfg Config) *Controller {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		source:   src,
		registry: reg,
		tracker:  cleanup.New(cfg.CleanupDelay),
		log:      log,
		cfg:      cfg,
	}
}

// IsReady reports whether at least one reconciliation cycle has completed
// successfully. Used by the health server to gate readiness.
func (c *Controller) IsReady() bool {
	return c.ready.Load()
}

// PendingCleanup returns a diagnostic snapshot of endpoints awaiting their
// cleanup delay.
func (c *Controller) PendingCleanup() []cleanup.PendingStatus {
	return c.tracker.GetPendingStatus()
}

// Run starts the controller. In Once mode it performs a single
// reconciliation and returns. Otherwise it blocks, running the
// reconciliation loop, event consumer, and cleanup ticker concurrently,
// until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.Once {
		return c.runOnce(ctx)
	}

	go c.source.Watch(ctx)

	reconcileCh := make(chan struct{}, 1)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	if err := c.runOnce(ctx); err != nil {
		c.log.Error("reconciliation failed", "err", err)
	}

	events := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				c.log.Error("reconciliation failed", "err", err)
			}
		case <-reconcileCh:
			if err := c.runOnce(ctx); err != nil {
				c.log.Error("reconciliation failed", "err", err)
			}
		case <-cleanupTicker.C:
			if err := c.processCleanup(ctx); err != nil {
				c.log.Error("cleanup pass failed", "err", err)
			}
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.processEvent(ctx, e, reconcileCh)
		}
	}
}

// runOnce fetches desired and current state, computes a sync plan, hands
// would-be deletes to the cleanup tracker, applies any remaining creates or
// updates, and runs one cleanup pass. A failure here is returned to the
// caller for logging; it must never stop the loop.
func (c *Controller) runOnce(ctx context.Context) (retErr error) {
	defer func() {
		if retErr == nil {
			c.ready.Store(true)
			reconciliationsTotal.WithLabelValues("success").Inc()
		} else {
			reconciliationsTotal.WithLabelValues("error").Inc()
		}
	}()

	desired, err := c.source.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("controller: fetching desired endpoints: %w", err)
	}

	current, err := c.registry.Records(ctx)
	if err != nil {
		return fmt.Errorf("controller: fetching current records: %w", err)
	}
	recordsManaged.Set(float64(len(current)))

	if len(desired) == 0 && len(current) == 0 {
		c.log.Debug("reconcile: no desired or current endpoints")
	} else {
		c.log.Debug("reconcile: running", "desired", len(desired), "current", len(current))
	}

	changes := plan.New(current, desired, plan.PolicySync).Calculate()

	for _, ep := range changes.Delete {
		if c.cfg.CleanupOnStop {
			c.tracker.MarkForDeletion(ep.Key())
		} else {
			c.log.Info("reconcile: discarding deletion (cleanup_on_stop disabled)", "name", ep.DNSName, "type", ep.RecordType)
		}
	}
	changes.Delete = nil
	cleanupPending.Set(float64(c.tracker.Len()))

	if changes.HasChanges() {
		plannedChangesTotal.WithLabelValues("create").Add(float64(len(changes.Create)))
		plannedChangesTotal.WithLabelValues("update").Add(float64(len(changes.UpdateOld)))
		c.log.Info("reconcile: applying changes", "create", len(changes.Create), "update", len(changes.UpdateOld))
		if err := c.registry.ApplyChanges(ctx, changes, c.cfg.DryRun); err != nil {
			return fmt.Errorf("controller: applying changes: %w", err)
		}
	}

	if err := c.processCleanup(ctx); err != nil {
		c.log.Warn("reconcile: cleanup pass failed", "err", err)
	}

	return nil
}

// processCleanup deletes every endpoint whose cleanup delay has matured,
// skipping (and logging) any that no longer exist in the current record
// set.
func (c *Controller) processCleanup(ctx context.Context) error {
	eligible := c.tracker.GetEligibleForDeletion()
	cleanupPending.Set(float64(c.tracker.Len()))
	if len(eligible) == 0 {
		return nil
	}

	current, err := c.registry.Records(ctx)
	if err != nil {
		return fmt.Errorf("controller: fetching current records for cleanup: %w", err)
	}
	byKey := make(map[string]*endpoint.Endpoint, len(current))
	for _, ep := range current {
		byKey[ep.Key()] = ep
	}

	var toDelete []*endpoint.Endpoint
	for _, id := range eligible {
		ep, ok := byKey[id]
		if !ok {
			c.log.Warn("cleanup: eligible endpoint no longer exists, discarding", "id", id)
			continue
		}
		toDelete = append(toDelete, ep)
	}
	if len(toDelete) == 0 {
		return nil
	}

	plannedChangesTotal.WithLabelValues("delete").Add(float64(len(toDelete)))
	c.log.Info("cleanup: deleting matured endpoints", "count", len(toDelete))
	return c.registry.ApplyChanges(ctx, plan.DeletionOnly(toDelete), c.cfg.DryRun)
}

// processEvent reacts to a single container lifecycle event: a start event
// unmarks that container's endpoints from pending cleanup (fast hysteresis
// against restarts); die/stop/kill cause no immediate state change; all
// other events are ignored outright. Any handled event schedules a
// debounced reconcile.
func (c *Controller) processEvent(ctx context.Context, e source.Event, reconcileCh chan<- struct{}) {
	switch e.Status {
	case source.EventStart:
		eps, err := c.source.EndpointsForContainer(ctx, e.ContainerID)
		if err != nil {
			c.log.Warn("event: failed to re-query container endpoints", "container", e.ContainerID, "err", err)
		} else {
			for _, ep := range eps {
				c.tracker.UnmarkForDeletion(ep.Key())
			}
		}
	case source.EventDie, source.EventStop, source.EventKill:
		// No immediate state change; the next reconcile marks via the diff.
	default:
		return
	}
	c.scheduleDebouncedReconcile(ctx, reconcileCh)
}

// scheduleDebouncedReconcile arranges for one run_once invocation once
// DebounceDelay has elapsed since this call. Events arriving while a debounce is
// already pending are coalesced (dropped) rather than restarting the timer.
func (c *Controller) scheduleDebouncedReconcile(ctx context.Context, reconcileCh chan<- struct{}) {
	c.debounceMu.Lock()
	if c.debouncePending {
		c.debounceMu.Unlock()
		return
	}
	c.debouncePending = true
	c.debounceMu.Unlock()

	go func() {
		select {
		case <-time.After(c.cfg.DebounceDelay):
		case <-ctx.Done():
			c.debounceMu.Lock()
			c.debouncePending = false
			c.debounceMu.Unlock()
			return
		}
		c.debounceMu.Lock()
		c.debouncePending = false
		c.debounceMu.Unlock()
		select {
		case reconcileCh <- struct{}{}:
		default:
		}
	}()
}
