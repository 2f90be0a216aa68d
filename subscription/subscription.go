package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/loaned/middleware"
	"github.com/tailored-agentic-units/loaned/observability"
	"github.com/tailored-agentic-units/loaned/wire"
)

// Handler processes one loaned message. The message is closed by the caller
// after Handler returns or panics; Handler must not retain it.
type Handler[W any] func(ctx context.Context, msg *LoanedMessage[W]) error

// Option configures runtime collaborators that have no config file form.
type Option func(*options)

type options struct {
	observer observability.Observer
	logger   *slog.Logger
}

// WithObserver overrides the observer named in Config.Observer.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Subscription receives messages of wire-native type W from one endpoint
// as loans.
type Subscription[W any] struct {
	topic   string
	support wire.TypeSupport[W]
	handle  *Handle
	config  Config
	logger  *slog.Logger
	closed  atomic.Bool
}

// New creates an endpoint on domain for cfg.Topic and subscribes to it.
func New[W any](domain *middleware.Domain, support wire.TypeSupport[W], cfg Config, opts ...Option) (*Subscription[W], error) {
	config := DefaultConfig()
	config.Merge(&cfg)
	if config.Topic == "" {
		return nil, ErrTopicRequired
	}

	ep, err := domain.CreateEndpoint(config.Topic, support.TypeName())
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}

	sub, err := NewFromEndpoint(ep, support, config, opts...)
	if err != nil {
		_ = ep.Fini()
		return nil, err
	}
	return sub, nil
}

// NewFromEndpoint subscribes to an existing endpoint. The subscription takes
// ownership of ep and finalizes it once the subscription and all of its
// loaned messages are closed.
func NewFromEndpoint[W any](ep Endpoint, support wire.TypeSupport[W], cfg Config, opts ...Option) (*Subscription[W], error) {
	config := DefaultConfig()
	config.Merge(&cfg)
	config.Topic = ep.Topic()
	if err := config.validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	if config.Observer != "" {
		obs, err := observability.GetObserver(config.Observer)
		if err != nil {
			return nil, err
		}
		o.observer = obs
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = observability.NoOpObserver{}
	}

	h := newHandle(ep, config.FailurePolicy, o.observer, o.logger)
	if config.Workers > 1 && h.Transfer() != TransferShared {
		return nil, fmt.Errorf("%w: %d workers requested on %s", ErrNotTransferable, config.Workers, config.Topic)
	}

	o.logger.Debug(
		"subscription created",
		slog.String("topic", config.Topic),
		slog.String("type", support.TypeName()),
		slog.String("transfer", h.Transfer().String()),
		slog.Int("workers", config.Workers),
	)

	return &Subscription[W]{
		topic:   config.Topic,
		support: support,
		handle:  h,
		config:  config,
		logger:  o.logger,
	}, nil
}

func (s *Subscription[W]) Topic() string            { return s.topic }
func (s *Subscription[W]) Handle() *Handle          { return s.handle }
func (s *Subscription[W]) Metrics() MetricsSnapshot { return s.handle.metrics.Snapshot() }

// TakeLoaned takes the next pending message as a loan without waiting.
// It returns middleware.ErrNoMessage when nothing is pending.
func (s *Subscription[W]) TakeLoaned() (*LoanedMessage[W], error) {
	if s.closed.Load() || !s.handle.acquire() {
		return nil, ErrClosed
	}

	loan, err := s.handle.take()
	if err != nil {
		s.handle.drop()
		return nil, fmt.Errorf("take loaned message on %s: %w", s.topic, err)
	}

	msg, err := s.support.View(loan.Bytes())
	if err != nil {
		rerr := s.handle.returnLoan(loan)
		s.handle.drop()
		return nil, errors.Join(fmt.Errorf("view %s on %s: %w", s.support.TypeName(), s.topic, err), rerr)
	}

	return newLoanedMessage(msg, loan, s.handle), nil
}

// WithLoaned waits for one message, passes its view to fn and returns the
// loan when fn returns or panics. A release error is reported only if fn
// itself succeeded.
func (s *Subscription[W]) WithLoaned(ctx context.Context, fn func(msg W) error) (err error) {
	m, err := s.next(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(m.Get())
}

// Spin takes messages until ctx is done and dispatches them to handler.
// With more than one worker, messages are handed to a pool of goroutines,
// which requires a shared transfer class. Spin returns nil when ctx ends;
// every message it took has been closed by then.
func (s *Subscription[W]) Spin(ctx context.Context, handler Handler[W]) error {
	if s.config.Workers <= 1 {
		for {
			m, err := s.next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			s.dispatch(ctx, handler, m)
		}
	}

	if s.handle.Transfer() != TransferShared {
		return ErrNotTransferable
	}

	queue := newDispatchQueue[*LoanedMessage[W]](ctx, s.config.QueueDepth)

	var wg sync.WaitGroup
	for range s.config.Workers {
		wg.Go(func() {
			for {
				m, ok := queue.receive()
				if !ok {
					return
				}
				if ctx.Err() != nil {
					s.discard(m)
					continue
				}
				s.dispatch(ctx, handler, m)
			}
		})
	}

	var err error
	for {
		m, nerr := s.next(ctx)
		if nerr != nil {
			if ctx.Err() == nil {
				err = nerr
			}
			break
		}
		if serr := queue.send(ctx, m); serr != nil {
			s.discard(m)
			break
		}
	}

	queue.close()
	wg.Wait()
	return err
}

// Close drops the subscription's reference to the endpoint. Loaned messages
// still open keep the endpoint alive until they are closed.
func (s *Subscription[W]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.handle.drop()
	return nil
}

// next takes a message, polling while the endpoint is empty or at its loan
// limit.
func (s *Subscription[W]) next(ctx context.Context) (*LoanedMessage[W], error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		m, err := s.TakeLoaned()
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, middleware.ErrNoMessage) && !errors.Is(err, middleware.ErrLoanLimit) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Subscription[W]) dispatch(ctx context.Context, handler Handler[W], m *LoanedMessage[W]) {
	defer s.discard(m)
	defer func() {
		if r := recover(); r != nil {
			s.handlerFailed(ctx, m, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := handler(ctx, m); err != nil {
		s.handlerFailed(ctx, m, err)
	}
}

func (s *Subscription[W]) handlerFailed(ctx context.Context, m *LoanedMessage[W], err error) {
	s.handle.metrics.RecordHandlerError()
	s.handle.emit(ctx, EventHandlerFailed, observability.LevelError, map[string]any{
		"topic":    s.topic,
		"loan_id":  m.ID().String(),
		"sequence": m.Sequence(),
		"error":    err.Error(),
	})
}

func (s *Subscription[W]) discard(m *LoanedMessage[W]) {
	if err := m.Close(); err != nil {
		s.logger.Error(
			"failed to return loan",
			slog.String("topic", s.topic),
			slog.String("loan_id", m.ID().String()),
			slog.String("error", err.Error()),
		)
	}
}
