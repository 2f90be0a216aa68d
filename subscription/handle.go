package subscription

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/loaned/middleware"
	"github.com/tailored-agentic-units/loaned/observability"
)

// Endpoint is the middleware surface a Handle serializes.
type Endpoint interface {
	Topic() string
	TakeLoaned() (middleware.Loan, error)
	ReturnLoan(loan middleware.Loan) error
	Fini() error
	Capabilities() middleware.Capabilities
}

// Handle owns the lock around one Endpoint and is shared, by reference
// count, between a Subscription and every LoanedMessage taken from it. The
// endpoint is finalized when the last reference is dropped.
type Handle struct {
	mu       sync.Mutex
	endpoint Endpoint

	refs      atomic.Int64
	finalized atomic.Bool
	poisoned  atomic.Bool

	transfer Transfer
	policy   FailurePolicy

	metrics  *Metrics
	observer observability.Observer
	logger   *slog.Logger
}

func newHandle(ep Endpoint, policy FailurePolicy, observer observability.Observer, logger *slog.Logger) *Handle {
	h := &Handle{
		endpoint: ep,
		transfer: Classify(ep.Capabilities()),
		policy:   policy,
		metrics:  NewMetrics(),
		observer: observer,
		logger:   logger,
	}
	h.refs.Store(1)
	return h
}

func (h *Handle) Topic() string      { return h.endpoint.Topic() }
func (h *Handle) Transfer() Transfer { return h.transfer }
func (h *Handle) Poisoned() bool     { return h.poisoned.Load() }
func (h *Handle) Refs() int64        { return h.refs.Load() }
func (h *Handle) Finalized() bool    { return h.finalized.Load() }

// lock acquires the endpoint lock. The caller must invoke the returned
// unlock on every path, normally with defer.
func (h *Handle) lock() (Endpoint, func()) {
	h.mu.Lock()
	return h.endpoint, h.mu.Unlock
}

// acquire adds a reference unless the handle already dropped to zero.
func (h *Handle) acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// drop releases a reference and finalizes the endpoint on the last one.
func (h *Handle) drop() {
	n := h.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("subscription: handle reference count below zero")
	}
	if !h.finalized.CompareAndSwap(false, true) {
		return
	}

	ep, unlock := h.lock()
	err := ep.Fini()
	unlock()

	if err != nil {
		h.logger.Error(
			"endpoint finalization failed",
			slog.String("topic", ep.Topic()),
			slog.String("error", err.Error()),
		)
		return
	}

	h.emit(context.Background(), EventEndpointFinalized, observability.LevelInfo, map[string]any{
		"topic": ep.Topic(),
	})
}

func (h *Handle) take() (middleware.Loan, error) {
	if h.poisoned.Load() {
		return middleware.Loan{}, ErrPoisoned
	}

	ep, unlock := h.lock()
	defer unlock()

	loan, err := ep.TakeLoaned()
	if err != nil {
		return middleware.Loan{}, err
	}

	h.metrics.RecordTaken()
	h.emit(context.Background(), EventLoanTaken, observability.LevelVerbose, map[string]any{
		"topic":    ep.Topic(),
		"loan_id":  loan.ID().String(),
		"sequence": loan.Sequence(),
		"size":     loan.Size(),
	})
	return loan, nil
}

// returnLoan issues the ReturnLoan call for loan under the endpoint lock
// and applies the failure policy to its result.
func (h *Handle) returnLoan(loan middleware.Loan) error {
	ep, unlock := h.lock()
	err := ep.ReturnLoan(loan)
	unlock()

	data := map[string]any{
		"topic":    ep.Topic(),
		"loan_id":  loan.ID().String(),
		"sequence": loan.Sequence(),
	}

	if err == nil {
		h.metrics.RecordReturned()
		h.emit(context.Background(), EventLoanReturned, observability.LevelVerbose, data)
		return nil
	}

	h.metrics.RecordReleaseFailure()
	rerr := &ReleaseError{Topic: ep.Topic(), LoanID: loan.ID(), Err: err}
	data["error"] = err.Error()
	data["policy"] = string(h.policy)
	h.emit(context.Background(), EventReleaseFailed, observability.LevelError, data)

	if h.policy == FailurePolicyPoison {
		h.poisoned.Store(true)
		return rerr
	}
	panic(rerr)
}

// reportLeak records a loan whose LoanedMessage was collected without
// Close. The endpoint is not called.
func (h *Handle) reportLeak(loan middleware.Loan) {
	h.metrics.RecordLeaked()
	h.emit(context.Background(), EventLoanLeaked, observability.LevelWarning, map[string]any{
		"topic":    h.Topic(),
		"loan_id":  loan.ID().String(),
		"sequence": loan.Sequence(),
		"held":     time.Since(loan.ReceivedAt()).String(),
	})
}

func (h *Handle) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	h.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "subscription",
		Data:      data,
	})
}
