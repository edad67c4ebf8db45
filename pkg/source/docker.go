// Package source discovers desired DNS endpoints from the Docker daemon.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/sherpa-dns/sherpa-dns/pkg/endpoint"
)

const (
	// DefaultLabelPrefix is the label namespace examined for DNS intent,
	// absent an override.
	DefaultLabelPrefix = "sherpa.dns"

	hostnameKey = "hostname"
	typeKey     = "type"
	ttlKey      = "ttl"
	proxiedKey  = "proxied"
	targetKey   = "target"
	networkKey  = "network"

	reconnectBackoff   = 10 * time.Second
	eventEnqueueBound   = 5 * time.Second
	eventChannelBuffer = 64
)

// LabelFilter restricts which containers are considered: either a bare key
// (presence test) or a "key=value" pair (equality test). A zero-value
// LabelFilter matches every container.
type LabelFilter struct {
	Key   string
	Value string
	// HasValue distinguishes "key" (presence) from "key=value" (equality).
	HasValue bool
}

// ParseLabelFilter parses "key" or "key=value" into a LabelFilter. An empty
// string returns the zero LabelFilter, which matches everything.
func ParseLabelFilter(s string) LabelFilter {
	if s == "" {
		return LabelFilter{}
	}
	if idx := strings.Index(s, "="); idx >= 0 {
		return LabelFilter{Key: s[:idx], Value: s[idx+1:], HasValue: true}
	}
	return LabelFilter{Key: s}
}

// Match reports whether labels satisfies the filter.
func (f LabelFilter) Match(labels map[string]string) bool {
	if f.Key == "" {
		return true
	}
	v, ok := labels[f.Key]
	if !ok {
		return false
	}
	if !f.HasValue {
		return true
	}
	return v == f.Value
}

// dockerAPI is the subset of the Docker client used by DockerSource.
// Defined as an interface so tests can inject a mock.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// watchedEvents are the container lifecycle transitions the source reports.
var watchedEvents = []string{"start", "die", "stop", "kill", "pause", "unpause"}

// DockerSource implements Source by watching the Docker daemon for container
// lifecycle events and extracting DNS intent from container labels.
type DockerSource struct {
	client       dockerAPI
	log          *slog.Logger
	labelPrefix  string
	labelFilter  LabelFilter
	events       chan Event
	backoff      time.Duration
	enqueueBound time.Duration
}

// Option configures a DockerSource.
type Option func(*DockerSource)

// WithLabelPrefix overrides the default "sherpa.dns" label namespace.
func WithLabelPrefix(prefix string) Option {
	return func(s *DockerSource) {
		if prefix != "" {
			s.labelPrefix = prefix
		}
	}
}

// WithLabelFilter restricts which containers are considered.
func WithLabelFilter(f LabelFilter) Option {
	return func(s *DockerSource) { s.labelFilter = f }
}

// NewDockerSource returns a DockerSource that connects via the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, etc.) or the default Unix socket.
// Additional dockerclient.Opt values are appended after the defaults and
// override env-based settings where they conflict (e.g. WithHost overrides
// DOCKER_HOST).
func NewDockerSource(log *slog.Logger, opts []Option, extraOpts ...dockerclient.Opt) (*DockerSource, error) {
	clientOpts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	clientOpts = append(clientOpts, extraOpts...)
	c, err := dockerclient.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDockerSourceWithClient(c, log, opts...), nil
}

// newDockerSourceWithClient constructs a DockerSource with an injected client
// for unit testing.
func newDockerSourceWithClient(client dockerAPI, log *slog.Logger, opts ...Option) *DockerSource {
	if log == nil {
		log = slog.Default()
	}
	s := &DockerSource{
		client:       client,
		log:          log,
		labelPrefix:  DefaultLabelPrefix,
		events:       make(chan Event, eventChannelBuffer),
		backoff:      reconnectBackoff,
		enqueueBound: eventEnqueueBound,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping reports whether the Docker daemon is reachable, for the health
// endpoint's readiness check.
func (s *DockerSource) Ping(ctx context.Context) error {
	_, err := s.client.ContainerList(ctx, container.ListOptions{Limit: 1})
	return err
}

// Close releases the underlying Docker client connection, if the
// configured client supports it.
func (s *DockerSource) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Endpoints lists every running container passing the label filter and
// returns the union of endpoints they declare, deduplicated by identity.
func (s *DockerSource) Endpoints(ctx context.Context) ([]*endpoint.Endpoint, error) {
	containers, err := s.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("source: listing containers: %w", err)
	}

	byIdentity := make(map[endpoint.ID]*endpoint.Endpoint)
	for _, c := range containers {
		if !s.labelFilter.Match(c.Labels) {
			continue
		}
		for _, ep := range s.endpointsFromContainer(c) {
			byIdentity[ep.Identity()] = ep
		}
	}

	out := make([]*endpoint.Endpoint, 0, len(byIdentity))
	for _, ep := range byIdentity {
		out = append(out, ep)
	}
	return out, nil
}

// EndpointsForContainer returns the endpoints declared by the single
// container identified by containerID, without listing the full container
// set. Returns nil if the container is not running, not found, or excluded
// by the label filter.
func (s *DockerSource) EndpointsForContainer(ctx context.Context, containerID string) ([]*endpoint.Endpoint, error) {
	f := filters.NewArgs(filters.Arg("id", containerID))
	containers, err := s.client.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, fmt.Errorf("source: listing container %s: %w", containerID, err)
	}
	if len(containers) == 0 {
		return nil, nil
	}
	if !s.labelFilter.Match(containers[0].Labels) {
		return nil, nil
	}
	return s.endpointsFromContainer(containers[0]), nil
}

// Events returns the channel lifecycle events are delivered on.
func (s *DockerSource) Events() <-chan Event {
	return s.events
}

// Watch subscribes to Docker events and pushes matching lifecycle
// transitions to the event channel. Reconnects automatically on stream
// errors after a fixed backoff. Blocks until ctx is cancelled.
func (s *DockerSource) Watch(ctx context.Context) {
	for {
		s.runEventLoop(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
			s.log.Warn("source: reconnecting to docker event stream")
		}
	}
}

func (s *DockerSource) runEventLoop(ctx context.Context) {
	f := filters.NewArgs(filters.Arg("type", "container"))
	for _, ev := range watchedEvents {
		f.Add("event", ev)
	}
	msgs, errs := s.client.Events(ctx, events.ListOptions{Filters: f})
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				s.log.Warn("source: docker event stream error", "err", err)
			}
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.enqueue(Event{Status: EventStatus(msg.Action), ContainerID: msg.Actor.ID})
		}
	}
}

// enqueue pushes e onto the event channel, dropping it with a warning if the
// channel is still full after enqueueBound. A stalled consumer still catches
// up on the next reconciliation interval, so dropping is safe.
func (s *DockerSource) enqueue(e Event) {
	select {
	case s.events <- e:
		return
	default:
	}
	select {
	case s.events <- e:
	case <-time.After(s.enqueueBound):
		s.log.Warn("source: event queue full, dropping event", "status", e.Status, "container", e.ContainerID)
	}
}

// endpointsFromContainer extracts every hostname declared on c and resolves
// each into an Endpoint. Hostnames with no resolvable target are dropped
// with a warning.
func (s *DockerSource) endpointsFromContainer(c container.Summary) []*endpoint.Endpoint {
	prefix := s.labelPrefix + "/"
	containerID := c.ID
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	containerName := strings.TrimPrefix(firstOrEmpty(c.Names), "/")

	type hostnameEntry struct {
		name  string
		alias string // "" if declared via the generic hostname label
	}
	var entries []hostnameEntry

	for key, value := range c.Labels {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		var alias string
		switch {
		case rest == hostnameKey:
			alias = ""
		case strings.HasPrefix(rest, hostnameKey+"."):
			alias = strings.TrimPrefix(rest, hostnameKey+".")
		default:
			continue
		}
		for _, name := range splitAndTrim(value) {
			entries = append(entries, hostnameEntry{name: name, alias: alias})
		}
	}

	var out []*endpoint.Endpoint
	for _, e := range entries {
		if ep := s.resolveEndpoint(c, containerID, containerName, e.name, e.alias, prefix); ep != nil {
			out = append(out, ep)
		}
	}
	return out
}

// resolveEndpoint builds the Endpoint for one hostname, applying the
// alias-then-generic auxiliary label precedence and target resolution
// order of the label scheme.
func (s *DockerSource) resolveEndpoint(c container.Summary, containerID, containerName, hostname, alias, prefix string) *endpoint.Endpoint {
	lookup := func(key string) (string, bool) {
		if alias != "" {
			if v, ok := c.Labels[prefix+key+"."+alias]; ok {
				return v, true
			}
		}
		v, ok := c.Labels[prefix+key]
		return v, ok
	}

	recordType := endpoint.RecordTypeA
	if v, ok := lookup(typeKey); ok && v != "" {
		recordType = strings.ToUpper(v)
	}

	var ttl int64
	if v, ok := lookup(ttlKey); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ttl = n
		}
	}

	proxied := false
	if v, ok := lookup(proxiedKey); ok {
		proxied = strings.EqualFold(v, "true")
	}

	var networkName string
	if v, ok := lookup(networkKey); ok {
		networkName = v
	}

	target := ""
	if v, ok := lookup(targetKey); ok && v != "" {
		target = v
	} else if recordType == endpoint.RecordTypeA || recordType == endpoint.RecordTypeAAAA {
		target = targetFromNetworks(c, recordType, networkName)
	} else if recordType == endpoint.RecordTypeCNAME {
		target = containerName
	}

	if target == "" {
		s.log.Warn("source: no resolvable target, dropping endpoint",
			"hostname", hostname, "type", recordType, "container", containerName)
		return nil
	}

	ep := endpoint.New(hostname, []string{target}, recordType, ttl)
	ep.Proxied = proxied
	ep.ContainerID = containerID
	ep.ContainerName = containerName
	return ep
}

// targetFromNetworks inspects c's attached Docker networks for an address of
// the family recordType requires. If network is set, only that network is
// considered; otherwise "bridge" is preferred, falling back to the
// lexicographically-first network name.
func targetFromNetworks(c container.Summary, recordType, network string) string {
	if c.NetworkSettings == nil || len(c.NetworkSettings.Networks) == 0 {
		return ""
	}

	var chosen string
	switch {
	case network != "":
		if _, ok := c.NetworkSettings.Networks[network]; ok {
			chosen = network
		}
	default:
		if _, ok := c.NetworkSettings.Networks["bridge"]; ok {
			chosen = "bridge"
		} else {
			names := make([]string, 0, len(c.NetworkSettings.Networks))
			for name := range c.NetworkSettings.Networks {
				names = append(names, name)
			}
			sort.Strings(names)
			chosen = names[0]
		}
	}
	if chosen == "" {
		return ""
	}

	settings := c.NetworkSettings.Networks[chosen]
	if settings == nil {
		return ""
	}
	if recordType == endpoint.RecordTypeAAAA {
		return settings.GlobalIPv6Address
	}
	return settings.IPAddress
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
