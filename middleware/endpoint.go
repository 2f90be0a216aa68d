package middleware

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Endpoint is the receiving side of a topic. Deliveries from the Domain are
// queued internally; the loan API (TakeLoaned, ReturnLoan, Fini) is not
// synchronized and callers must serialize it. Overlapping loan API calls are
// detected and rejected with ErrConcurrentCall.
type Endpoint struct {
	topic    string
	typeName string
	domain   *Domain

	allocator  Allocator
	caps       Capabilities
	queueDepth int
	maxLoans   int
	logger     *slog.Logger

	queue   []Loan
	queueMu sync.Mutex

	outstanding map[uint64]Loan
	busy        atomic.Bool
	finalized   atomic.Bool

	seq      atomic.Uint64
	loaned   atomic.Int64
	returned atomic.Int64
	dropped  atomic.Int64
}

func newEndpoint(d *Domain, topic, typeName string) *Endpoint {
	return &Endpoint{
		topic:      topic,
		typeName:   typeName,
		domain:     d,
		allocator:  d.allocator,
		queueDepth: d.config.QueueDepth,
		maxLoans:   d.config.MaxLoans,
		logger:     d.logger,
		caps: Capabilities{
			ContextAgnostic: !d.config.ContextAffine,
			ReadOnlyMemory:  d.allocator.ReadOnly(),
		},
		outstanding: make(map[uint64]Loan),
	}
}

func (e *Endpoint) Topic() string              { return e.topic }
func (e *Endpoint) TypeName() string           { return e.typeName }
func (e *Endpoint) Capabilities() Capabilities { return e.caps }
func (e *Endpoint) Outstanding() int           { return int(e.loaned.Load() - e.returned.Load()) }
func (e *Endpoint) Returned() int64            { return e.returned.Load() }
func (e *Endpoint) Dropped() int64             { return e.dropped.Load() }
func (e *Endpoint) Finalized() bool            { return e.finalized.Load() }

// Pending returns the number of deliveries waiting to be taken.
func (e *Endpoint) Pending() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// TakeLoaned hands out the oldest pending delivery as a loan.
func (e *Endpoint) TakeLoaned() (Loan, error) {
	if !e.enter() {
		return Loan{}, ErrConcurrentCall
	}
	defer e.exit()

	if e.finalized.Load() {
		return Loan{}, ErrEndpointFinalized
	}
	if e.maxLoans > 0 && len(e.outstanding) >= e.maxLoans {
		return Loan{}, fmt.Errorf("%w: %d", ErrLoanLimit, e.maxLoans)
	}

	e.queueMu.Lock()
	if len(e.queue) == 0 {
		e.queueMu.Unlock()
		return Loan{}, ErrNoMessage
	}
	loan := e.queue[0]
	e.queue[0] = Loan{}
	e.queue = e.queue[1:]
	e.queueMu.Unlock()

	e.outstanding[loan.seq] = loan
	e.loaned.Add(1)
	return loan, nil
}

// ReturnLoan gives a loaned buffer back. The buffer is destroyed and any
// view over it becomes invalid.
func (e *Endpoint) ReturnLoan(loan Loan) error {
	if !e.enter() {
		return ErrConcurrentCall
	}
	defer e.exit()

	if e.finalized.Load() {
		return ErrEndpointFinalized
	}

	held, ok := e.outstanding[loan.seq]
	if !ok || held.buf != loan.buf {
		return fmt.Errorf("%w: sequence %d on %s", ErrLoanNotOutstanding, loan.seq, e.topic)
	}

	delete(e.outstanding, loan.seq)
	held.buf.Destroy()
	e.returned.Add(1)
	return nil
}

// Fini detaches the endpoint from its domain and releases pending
// deliveries. It refuses while loans are outstanding.
func (e *Endpoint) Fini() error {
	if !e.enter() {
		return ErrConcurrentCall
	}
	defer e.exit()

	if e.finalized.Load() {
		return ErrEndpointFinalized
	}
	if n := len(e.outstanding); n > 0 {
		return fmt.Errorf("%w: %d on %s", ErrLoansOutstanding, n, e.topic)
	}

	e.domain.detach(e)

	e.queueMu.Lock()
	e.finalized.Store(true)
	for _, loan := range e.queue {
		loan.buf.Destroy()
	}
	e.queue = nil
	e.queueMu.Unlock()

	e.logger.Debug(
		"endpoint finalized",
		slog.String("domain", e.domain.name),
		slog.String("topic", e.topic),
		slog.Int64("returned", e.returned.Load()),
		slog.Int64("dropped", e.dropped.Load()),
	)

	return nil
}

// deliver copies payload into a fresh buffer, write-protects it and queues
// it. When the queue is full the oldest pending delivery is dropped.
func (e *Endpoint) deliver(payload []byte) error {
	buf, err := e.allocator.Alloc(len(payload))
	if err != nil {
		return fmt.Errorf("allocate delivery buffer: %w", err)
	}
	copy(buf.Bytes(), payload)
	if err := buf.Freeze(); err != nil {
		buf.Destroy()
		return fmt.Errorf("freeze delivery buffer: %w", err)
	}

	loan := Loan{
		id:       generateID(),
		seq:      e.seq.Add(1),
		received: time.Now(),
		size:     len(payload),
		buf:      buf,
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	if e.finalized.Load() {
		buf.Destroy()
		return ErrEndpointFinalized
	}

	if e.queueDepth > 0 && len(e.queue) >= e.queueDepth {
		oldest := e.queue[0]
		e.queue[0] = Loan{}
		e.queue = e.queue[1:]
		oldest.buf.Destroy()
		e.dropped.Add(1)
	}
	e.queue = append(e.queue, loan)

	return nil
}

func (e *Endpoint) enter() bool {
	return e.busy.CompareAndSwap(false, true)
}

func (e *Endpoint) exit() {
	e.busy.Store(false)
}
