package middleware

import (
	"time"

	"github.com/google/uuid"
)

// Capabilities is what a binding declares about its endpoints.
type Capabilities struct {
	// ContextAgnostic: take, return and fini behave the same from any goroutine.
	ContextAgnostic bool
	// ReadOnlyMemory: loaned pages are write-protected for their whole loan.
	ReadOnlyMemory bool
}

// Loan is the middleware's token for one buffer handed out by TakeLoaned.
// It stays valid until the matching ReturnLoan.
type Loan struct {
	id       uuid.UUID
	seq      uint64
	received time.Time
	size     int
	buf      Buffer
}

func (l Loan) ID() uuid.UUID         { return l.id }
func (l Loan) Sequence() uint64      { return l.seq }
func (l Loan) ReceivedAt() time.Time { return l.received }
func (l Loan) Size() int             { return l.size }

// Bytes aliases the loaned buffer. The slice must not be written and must
// not be used after the loan is returned.
func (l Loan) Bytes() []byte {
	return l.buf.Bytes()[:l.size]
}

func (l Loan) IsZero() bool {
	return l.buf == nil
}

func generateID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
