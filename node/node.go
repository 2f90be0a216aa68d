// Package node composes a middleware domain, its observers and the
// subscriptions taken on it, from one configuration.
//
// The node initializes from configuration via New. Functional options
// override the logger, the Prometheus registerer or the observer for tests.
//
//	cfg, err := node.LoadConfig("loaned.toml")
//	n, err := node.New(cfg)
//	defer n.Shutdown()
//
//	sub, err := node.Subscribe(n, wire.MustFixed[Reading](), "imu")
//	err = sub.Spin(ctx, handle)
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tailored-agentic-units/loaned/middleware"
	"github.com/tailored-agentic-units/loaned/observability"
	"github.com/tailored-agentic-units/loaned/subscription"
	"github.com/tailored-agentic-units/loaned/wire"
)

// Option configures a Node during New.
type Option func(*Node)

// WithLogger overrides slog.Default for the node and its domain.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithRegisterer overrides prometheus.DefaultRegisterer for the
// "prometheus" observer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(n *Node) { n.registerer = reg }
}

// WithObserver replaces the observers named in Config.Observers.
func WithObserver(o observability.Observer) Option {
	return func(n *Node) { n.observer = o }
}

type subscriber interface {
	Topic() string
	Close() error
}

// Node owns a middleware domain and every subscription created through it.
type Node struct {
	config     Config
	domain     *middleware.Domain
	observer   observability.Observer
	registerer prometheus.Registerer
	logger     *slog.Logger

	mu     sync.Mutex
	subs   []subscriber
	closed bool
}

// New creates a Node from configuration.
func New(cfg *Config, opts ...Option) (*Node, error) {
	config := DefaultConfig()
	config.Merge(cfg)

	n := &Node{
		config:     config,
		registerer: prometheus.DefaultRegisterer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.observer == nil {
		observer, err := n.buildObserver()
		if err != nil {
			return nil, err
		}
		n.observer = observer
	}

	mwCfg := n.config.Middleware
	mwCfg.Logger = n.logger
	domain, err := middleware.NewDomain(mwCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain: %w", err)
	}
	n.domain = domain

	n.logger.Info(
		"node started",
		slog.String("domain", domain.Name()),
		slog.String("allocator", domain.Allocator().Name()),
		slog.Any("observers", n.config.Observers),
	)

	return n, nil
}

func (n *Node) buildObserver() (observability.Observer, error) {
	observers := make([]observability.Observer, 0, len(n.config.Observers))
	for _, name := range n.config.Observers {
		switch name {
		case ObserverSlog:
			observers = append(observers, observability.NewSlogObserver(n.logger))
		case ObserverPrometheus:
			obs, err := observability.NewPrometheusObserver(
				n.registerer,
				n.config.MetricsNamespace,
				subscription.MetricBindings()...,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create prometheus observer: %w", err)
			}
			observers = append(observers, obs)
		default:
			obs, err := observability.GetObserver(name)
			if err != nil {
				return nil, err
			}
			observers = append(observers, obs)
		}
	}

	switch len(observers) {
	case 0:
		return observability.NoOpObserver{}, nil
	case 1:
		return observers[0], nil
	default:
		return observability.NewMultiObserver(observers...), nil
	}
}

func (n *Node) Config() Config                   { return n.config }
func (n *Node) Domain() *middleware.Domain       { return n.domain }
func (n *Node) Observer() observability.Observer { return n.observer }

// Subscribe creates a subscription on topic using the node's subscription
// config for that topic. The node closes it on Shutdown.
func Subscribe[W any](n *Node, support wire.TypeSupport[W], topic string) (*subscription.Subscription[W], error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, middleware.ErrDomainClosed
	}

	sub, err := subscription.New(
		n.domain,
		support,
		n.config.SubscriptionConfig(topic),
		subscription.WithObserver(n.observer),
		subscription.WithLogger(n.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	n.subs = append(n.subs, sub)
	return sub, nil
}

// Publish delivers payload to every endpoint on topic.
func (n *Node) Publish(ctx context.Context, topic string, payload []byte) (int, error) {
	return n.domain.Publish(ctx, topic, payload)
}

// Shutdown closes every subscription created through the node and shuts
// the domain down. Endpoints with loans still out are finalized when the
// last loan is closed.
func (n *Node) Shutdown() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", sub.Topic(), err))
		}
	}
	n.domain.Shutdown()

	n.logger.Info("node stopped", slog.String("domain", n.domain.Name()))
	return errors.Join(errs...)
}
