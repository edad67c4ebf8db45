// Package fake provides an in-memory Source implementation for testing.
package fake

import (
	"context"
	"sync"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
	"github.com/sherpa-dns/sherpa-dns/pkg/source"
)

// Source is a fake implementation of source.Source backed by an in-memory
// endpoint list, keyed by container ID, with manual event triggering.
type Source struct {
	mu         sync.Mutex
	byContainer map[string][]*endpoint.Endpoint
	events     chan source.Event
}

// New returns an empty fake Source.
func New() *Source {
	return &Source{
		byContainer: make(map[string][]*endpoint.Endpoint),
		events:      make(chan source.Event, 64),
	}
}

// SetContainer replaces the endpoints declared by containerID. Passing a nil
// or empty slice removes the container.
func (s *Source) SetContainer(containerID string, endpoints []*endpoint.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(endpoints) == 0 {
		delete(s.byContainer, containerID)
		return
	}
	s.byContainer[containerID] = endpoints
}

// Endpoints returns every endpoint across every registered container.
func (s *Source) Endpoints(_ context.Context) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*endpoint.Endpoint
	for _, eps := range s.byContainer {
		out = append(out, eps...)
	}
	return out, nil
}

// EndpointsForContainer returns the endpoints registered for containerID.
func (s *Source) EndpointsForContainer(_ context.Context, containerID string) ([]*endpoint.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byContainer[containerID], nil
}

// Events returns the channel lifecycle events are delivered on.
func (s *Source) Events() <-chan source.Event {
	return s.events
}

// Watch blocks until ctx is cancelled. The fake has nothing to reconnect to;
// events are injected directly via Emit.
func (s *Source) Watch(ctx context.Context) {
	<-ctx.Done()
}

// Emit pushes e onto the event channel, simulating a Docker lifecycle event.
func (s *Source) Emit(e source.Event) {
	s.events <- e
}
