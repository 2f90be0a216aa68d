package subscription

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/loaned/middleware"
)

// LoanedMessage is a read-only view of a message whose buffer belongs to the
// middleware. Get returns the wire-native view W, which aliases the loaned
// buffer. Close returns the loan; it must be called exactly when the caller
// is done reading, normally with defer right after the take:
//
//	msg, err := sub.TakeLoaned()
//	if err != nil {
//	    return err
//	}
//	defer msg.Close()
//
// Nothing in a LoanedMessage changes after construction except the release
// flag, so one may be read from several goroutines at once when its
// Transferable reports true.
//
// The view returned by Get does not keep the LoanedMessage reachable. If a
// LoanedMessage becomes unreachable without Close, a runtime cleanup reports
// the loan as leaked but never returns it: the view may still be in use, and
// the buffer stays mapped until the process exits.
type LoanedMessage[W any] struct {
	msg     W
	state   *loanState
	cleanup runtime.Cleanup
}

// loanState is everything the release needs. It is kept apart from the
// LoanedMessage so the leak report can reach it without keeping the
// LoanedMessage alive.
type loanState struct {
	released atomic.Bool
	loan     middleware.Loan
	handle   *Handle
}

// newLoanedMessage takes over one handle reference already acquired by the
// caller.
func newLoanedMessage[W any](msg W, loan middleware.Loan, h *Handle) *LoanedMessage[W] {
	state := &loanState{loan: loan, handle: h}
	m := &LoanedMessage[W]{msg: msg, state: state}
	m.cleanup = runtime.AddCleanup(m, (*loanState).reportLeak, state)
	return m
}

// Get returns the wire-native view. The view is read-only by contract;
// the memguard and mmap allocators also write-protect its pages, the heap
// allocator does not. It must not be retained past Close. Get panics with
// ErrReleased after Close.
func (m *LoanedMessage[W]) Get() W {
	if m.state.released.Load() {
		panic(ErrReleased)
	}
	return m.msg
}

func (m *LoanedMessage[W]) ID() uuid.UUID         { return m.state.loan.ID() }
func (m *LoanedMessage[W]) Sequence() uint64      { return m.state.loan.Sequence() }
func (m *LoanedMessage[W]) ReceivedAt() time.Time { return m.state.loan.ReceivedAt() }
func (m *LoanedMessage[W]) Topic() string         { return m.state.handle.Topic() }
func (m *LoanedMessage[W]) Released() bool        { return m.state.released.Load() }

// Transferable reports whether the message may be handed to, or read
// concurrently from, goroutines other than the one that took it.
func (m *LoanedMessage[W]) Transferable() bool {
	return m.state.handle.Transfer() == TransferShared
}

// Close returns the loan to the middleware. Only the first call does
// anything; later calls return nil. The loan is returned before the
// endpoint reference is dropped.
func (m *LoanedMessage[W]) Close() error {
	if !m.state.released.CompareAndSwap(false, true) {
		return nil
	}
	m.cleanup.Stop()
	err := m.state.handle.returnLoan(m.state.loan)
	m.state.handle.drop()
	return err
}

// reportLeak runs when the LoanedMessage was collected without Close. The
// loan and its handle reference stay held.
func (s *loanState) reportLeak() {
	if s.released.Load() {
		return
	}
	s.handle.reportLeak(s.loan)
}

// Handoff passes m to another goroutine over ch. It refuses messages whose
// endpoint does not allow transfer.
func Handoff[W any](ctx context.Context, m *LoanedMessage[W], ch chan<- *LoanedMessage[W]) error {
	if !m.Transferable() {
		return ErrNotTransferable
	}
	select {
	case ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
