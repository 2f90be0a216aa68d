package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Domain routes published payloads to every endpoint subscribed to the
// payload's topic. Each endpoint receives its own copy of the payload in a
// buffer from the domain's allocator.
type Domain struct {
	name      string
	config    Config
	allocator Allocator
	logger    *slog.Logger

	topics   map[string]*topic
	topicsMu sync.RWMutex

	closed atomic.Bool
}

type topic struct {
	typeName  string
	endpoints map[*Endpoint]struct{}
}

// NewDomain creates a Domain from configuration merged over defaults.
func NewDomain(cfg Config) (*Domain, error) {
	config := DefaultConfig()
	config.Merge(&cfg)

	allocator, err := NewAllocator(config.Allocator)
	if err != nil {
		return nil, err
	}

	return &Domain{
		name:      config.Name,
		config:    config,
		allocator: allocator,
		logger:    config.Logger,
		topics:    make(map[string]*topic),
	}, nil
}

func (d *Domain) Name() string         { return d.name }
func (d *Domain) Allocator() Allocator { return d.allocator }
func (d *Domain) Config() Config       { return d.config }

// CreateEndpoint subscribes a new endpoint to name. All endpoints on a topic
// must agree on the message type.
func (d *Domain) CreateEndpoint(name, typeName string) (*Endpoint, error) {
	if name == "" {
		return nil, ErrTopicRequired
	}
	if d.closed.Load() {
		return nil, ErrDomainClosed
	}

	d.topicsMu.Lock()
	defer d.topicsMu.Unlock()

	t, exists := d.topics[name]
	if !exists {
		t = &topic{typeName: typeName, endpoints: make(map[*Endpoint]struct{})}
		d.topics[name] = t
	} else if t.typeName != typeName {
		return nil, fmt.Errorf("%w: %s carries %s, not %s", ErrTypeMismatch, name, t.typeName, typeName)
	}

	ep := newEndpoint(d, name, typeName)
	t.endpoints[ep] = struct{}{}

	d.logger.Debug(
		"endpoint created",
		slog.String("domain", d.name),
		slog.String("topic", name),
		slog.String("type", typeName),
		slog.String("allocator", d.allocator.Name()),
	)

	return ep, nil
}

// Publish delivers payload to every endpoint on the topic and returns the
// number of endpoints that accepted it. Publishing to a topic nobody
// subscribes to is not an error.
func (d *Domain) Publish(ctx context.Context, name string, payload []byte) (int, error) {
	if d.closed.Load() {
		return 0, ErrDomainClosed
	}

	d.topicsMu.RLock()
	t, exists := d.topics[name]
	if !exists {
		d.topicsMu.RUnlock()
		d.logger.DebugContext(
			ctx,
			"no endpoints for topic",
			slog.String("domain", d.name),
			slog.String("topic", name),
		)
		return 0, nil
	}

	endpoints := make([]*Endpoint, 0, len(t.endpoints))
	for ep := range t.endpoints {
		endpoints = append(endpoints, ep)
	}
	d.topicsMu.RUnlock()

	delivered := 0
	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return delivered, fmt.Errorf("publish cancelled: %w", err)
		}

		if err := ep.deliver(payload); err != nil {
			d.logger.WarnContext(
				ctx,
				"failed to deliver payload",
				slog.String("domain", d.name),
				slog.String("topic", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}

	return delivered, nil
}

// Endpoints returns the number of live endpoints on a topic.
func (d *Domain) Endpoints(name string) int {
	d.topicsMu.RLock()
	defer d.topicsMu.RUnlock()

	if t, exists := d.topics[name]; exists {
		return len(t.endpoints)
	}
	return 0
}

// Shutdown stops accepting publishes and new endpoints. Endpoints that are
// still alive keep their outstanding loans until their owners finalize them.
func (d *Domain) Shutdown() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.logger.Debug(
		"shutting down domain",
		slog.String("domain", d.name),
	)
}

func (d *Domain) detach(ep *Endpoint) {
	d.topicsMu.Lock()
	defer d.topicsMu.Unlock()

	t, exists := d.topics[ep.topic]
	if !exists {
		return
	}
	delete(t.endpoints, ep)
	if len(t.endpoints) == 0 {
		delete(d.topics, ep.topic)
	}
}
