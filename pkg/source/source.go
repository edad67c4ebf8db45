// Package source defines the Source interface for discovering desired DNS
// endpoints from a container runtime.
package source

import (
	"context"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
)

// EventStatus identifies a container lifecycle transition.
type EventStatus string

// Lifecycle event statuses a Source watches for.
const (
	EventStart   EventStatus = "start"
	EventDie     EventStatus = "die"
	EventStop    EventStatus = "stop"
	EventKill    EventStatus = "kill"
	EventPause   EventStatus = "pause"
	EventUnpause EventStatus = "unpause"
)

// Event is one container lifecycle transition pushed onto a Source's event
// queue.
type Event struct {
	Status      EventStatus
	ContainerID string
}

// Source discovers desired DNS endpoints from an external system (e.g.
// Docker) and notifies the controller of lifecycle events.
type Source interface {
	// Endpoints returns the current, deduplicated set of desired DNS
	// endpoints across every container the source can see.
	Endpoints(ctx context.Context) ([]*endpoint.Endpoint, error)

	// EndpointsForContainer returns the endpoints declared by exactly one
	// container. Used by the controller to re-query after a start event
	// without a full re-list.
	EndpointsForContainer(ctx context.Context, containerID string) ([]*endpoint.Endpoint, error)

	// Events returns the channel lifecycle events are delivered on. Safe to
	// call once; the same channel is returned on every call.
	Events() <-chan Event

	// Watch runs the event-watching loop until ctx is cancelled, pushing
	// events to the channel returned by Events and reconnecting to the
	// backend on failure with a bounded backoff. It does not return until
	// ctx is done.
	Watch(ctx context.Context)
}
