package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	fake_provider "github.com/sherpa-dns/sherpa-dns/pkg/provider/fake"
	"github.com/sherpa-dns/sherpa-dns/pkg/registry"
	"github.com/sherpa-dns/sherpa-dns/pkg/source"
	fake_source "github.com/sherpa-dns/sherpa-dns/pkg/source/fake"
)

func newTestController(t *testing.T, src source.Source, prov *fake_provider.Provider, cfg Config) *Controller {
	t.Helper()
	reg := registry.NewTXT(prov, registry.Config{TXTOwnerID: "test"})
	return New(src, reg, nil, cfg)
}

func TestRunOnce_CreatesNewEndpoints(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: true})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	// The managed record plus its TXT ownership marker.
	if got, want := prov.RecordCount(), 2; got != want {
		t.Fatalf("RecordCount() = %d, want %d", got, want)
	}
	if !c.IsReady() {
		t.Error("IsReady() = false after a successful cycle")
	}
}

func TestRunOnce_CleanupOnStopMarksForDeletion(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: true})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	// Container disappears.
	src.SetContainer("c1", nil)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	if prov.RecordCount() != 2 {
		t.Fatalf("record deleted immediately, RecordCount() = %d, want 2", prov.RecordCount())
	}
	if c.tracker.Len() != 1 {
		t.Fatalf("tracker.Len() = %d, want 1 pending deletion", c.tracker.Len())
	}
}

func TestRunOnce_WithoutCleanupOnStop_DiscardsDeletion(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: false})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	src.SetContainer("c1", nil)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	if c.tracker.Len() != 0 {
		t.Errorf("tracker.Len() = %d, want 0 (cleanup_on_stop disabled)", c.tracker.Len())
	}
	if prov.RecordCount() != 2 {
		t.Errorf("record was removed despite cleanup_on_stop disabled")
	}
}

func TestProcessCleanup_DeletesMaturedEndpoints(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: true, CleanupDelay: 10 * time.Millisecond})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	src.SetContainer("c1", nil)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if c.tracker.Len() != 1 {
		t.Fatalf("tracker.Len() = %d, want 1", c.tracker.Len())
	}

	time.Sleep(20 * time.Millisecond)
	if err := c.processCleanup(context.Background()); err != nil {
		t.Fatalf("processCleanup() error = %v", err)
	}

	if prov.RecordCount() != 0 {
		t.Errorf("RecordCount() = %d after cleanup, want 0", prov.RecordCount())
	}
	if c.tracker.Len() != 0 {
		t.Errorf("tracker.Len() = %d after cleanup, want 0", c.tracker.Len())
	}
}

func TestProcessCleanup_DiscardsEligibleIDNoLongerCurrent(t *testing.T) {
	prov := fake_provider.New(nil, nil)
	src := fake_source.New()
	c := newTestController(t, src, prov, Config{CleanupDelay: time.Millisecond})

	c.tracker.MarkForDeletion("ghost.example.com|A")
	time.Sleep(5 * time.Millisecond)

	if err := c.processCleanup(context.Background()); err != nil {
		t.Fatalf("processCleanup() error = %v", err)
	}
	if c.tracker.Len() != 0 {
		t.Errorf("tracker.Len() = %d, want 0", c.tracker.Len())
	}
}

func TestProcessEvent_StartUnmarksForDeletion(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: true, CleanupDelay: time.Hour})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	src.SetContainer("c1", nil)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if c.tracker.Len() != 1 {
		t.Fatalf("tracker.Len() = %d, want 1", c.tracker.Len())
	}

	// Container comes back; Source now reports its endpoint again.
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	reconcileCh := make(chan struct{}, 1)
	c.processEvent(context.Background(), source.Event{Status: source.EventStart, ContainerID: "c1"}, reconcileCh)

	if c.tracker.Len() != 0 {
		t.Errorf("tracker.Len() = %d after start event, want 0", c.tracker.Len())
	}
}

func TestProcessEvent_IgnoredStatusSchedulesNoReconcile(t *testing.T) {
	src := fake_source.New()
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{DebounceDelay: 10 * time.Millisecond})

	reconcileCh := make(chan struct{}, 1)
	c.processEvent(context.Background(), source.Event{Status: source.EventPause, ContainerID: "c1"}, reconcileCh)

	select {
	case <-reconcileCh:
		t.Fatal("reconcile scheduled for an ignored event status")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestProcessEvent_CoalescesRapidEvents(t *testing.T) {
	src := fake_source.New()
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{DebounceDelay: 20 * time.Millisecond})

	reconcileCh := make(chan struct{}, 1)
	for i := 0; i < 5; i++ {
		c.processEvent(context.Background(), source.Event{Status: source.EventDie, ContainerID: "c1"}, reconcileCh)
	}

	select {
	case <-reconcileCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("debounced reconcile never fired")
	}

	select {
	case <-reconcileCh:
		t.Fatal("coalesced events produced more than one reconcile signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRun_OnceMode_Success(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{Once: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if prov.RecordCount() != 2 {
		t.Errorf("RecordCount() = %d, want 2", prov.RecordCount())
	}
}

type erroringSource struct {
	source.Source
	err error
}

func (e *erroringSource) Endpoints(context.Context) ([]*endpoint.Endpoint, error) {
	return nil, e.err
}

func TestRun_OnceMode_SourceError(t *testing.T) {
	prov := fake_provider.New(nil, nil)
	src := &erroringSource{err: errors.New("docker unreachable")}
	c := newTestController(t, src, prov, Config{Once: true})

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want error from Source.Endpoints")
	}
	if c.IsReady() {
		t.Error("IsReady() = true after a failed cycle")
	}
}

func TestRun_DryRun_DoesNotMutateProvider(t *testing.T) {
	src := fake_source.New()
	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{Once: true, DryRun: true})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if prov.RecordCount() != 0 {
		t.Errorf("RecordCount() = %d, want 0 under dry-run", prov.RecordCount())
	}
	history := prov.History()
	if len(history) != 1 || !history[0].DryRun {
		t.Errorf("expected one dry-run ApplyChanges call, got %+v", history)
	}
}

func TestRun_EventTriggersReconcile(t *testing.T) {
	src := fake_source.New()
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{
		Interval:      time.Hour,
		DebounceDelay: 10 * time.Millisecond,
		CleanupOnStop: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	// Wait for the initial synchronous reconcile to land.
	time.Sleep(20 * time.Millisecond)

	src.SetContainer("c1", []*endpoint.Endpoint{
		endpoint.New("app.example.com", []string{"1.2.3.4"}, endpoint.RecordTypeA, 300),
	})
	src.Emit(source.Event{Status: source.EventStart, ContainerID: "c1"})

	deadline := time.After(2 * time.Second)
	for prov.RecordCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("event-triggered reconcile never applied the new endpoint")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runErr:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.Interval != 60*time.Second {
		t.Errorf("Interval default = %v, want 60s", cfg.Interval)
	}
	if cfg.DebounceDelay != 2*time.Second {
		t.Errorf("DebounceDelay default = %v, want 2s", cfg.DebounceDelay)
	}
	if cfg.CleanupDelay == 0 {
		t.Error("CleanupDelay default not set")
	}
}

func TestPendingCleanup_ReportsSnapshot(t *testing.T) {
	src := fake_source.New()
	prov := fake_provider.New(nil, nil)
	c := newTestController(t, src, prov, Config{CleanupOnStop: true, CleanupDelay: time.Hour})

	c.tracker.MarkForDeletion("stale.example.com|A")
	statuses := c.PendingCleanup()
	if len(statuses) != 1 || statuses[0].ID != "stale.example.com|A" {
		t.Errorf("PendingCleanup() = %+v, want one entry for stale.example.com|A", statuses)
	}
}
