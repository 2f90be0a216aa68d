package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/loaned/middleware"
)

func newTestDomain(t *testing.T, allocator string) *middleware.Domain {
	t.Helper()
	d, err := middleware.NewDomain(middleware.Config{
		Name:       "test-domain",
		Allocator:  allocator,
		QueueDepth: 4,
		MaxLoans:   8,
	})
	require.NoError(t, err)
	t.Cleanup(d.Shutdown)
	return d
}

func TestEndpoint_TakeAndReturn(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	n, err := d.Publish(context.Background(), "chatter", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ep.Pending())

	loan, err := ep.TakeLoaned()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), loan.Bytes())
	assert.Equal(t, uint64(1), loan.Sequence())
	assert.NotZero(t, loan.ID())
	assert.Equal(t, 1, ep.Outstanding())
	assert.Equal(t, 0, ep.Pending())

	require.NoError(t, ep.ReturnLoan(loan))
	assert.Equal(t, 0, ep.Outstanding())
	assert.Equal(t, int64(1), ep.Returned())
}

func TestEndpoint_TakeEmpty(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	_, err = ep.TakeLoaned()
	assert.ErrorIs(t, err, middleware.ErrNoMessage)
}

func TestEndpoint_DoubleReturn(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "chatter", []byte("once"))
	require.NoError(t, err)

	loan, err := ep.TakeLoaned()
	require.NoError(t, err)
	require.NoError(t, ep.ReturnLoan(loan))

	err = ep.ReturnLoan(loan)
	assert.ErrorIs(t, err, middleware.ErrLoanNotOutstanding)
	assert.Equal(t, int64(1), ep.Returned())
}

func TestEndpoint_ReturnForeignLoan(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	a, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)
	b, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "chatter", []byte("fan-out"))
	require.NoError(t, err)

	loanA, err := a.TakeLoaned()
	require.NoError(t, err)
	loanB, err := b.TakeLoaned()
	require.NoError(t, err)

	// Same sequence number, different buffer.
	assert.ErrorIs(t, a.ReturnLoan(loanB), middleware.ErrLoanNotOutstanding)

	require.NoError(t, a.ReturnLoan(loanA))
	require.NoError(t, b.ReturnLoan(loanB))
}

func TestEndpoint_LoanLimit(t *testing.T) {
	d, err := middleware.NewDomain(middleware.Config{
		Allocator:  middleware.AllocatorHeap,
		QueueDepth: 4,
		MaxLoans:   2,
	})
	require.NoError(t, err)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	for range 3 {
		_, err := d.Publish(context.Background(), "chatter", []byte("x"))
		require.NoError(t, err)
	}

	first, err := ep.TakeLoaned()
	require.NoError(t, err)
	_, err = ep.TakeLoaned()
	require.NoError(t, err)

	_, err = ep.TakeLoaned()
	assert.ErrorIs(t, err, middleware.ErrLoanLimit)

	require.NoError(t, ep.ReturnLoan(first))
	_, err = ep.TakeLoaned()
	assert.NoError(t, err)
}

func TestEndpoint_QueueDropsOldest(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		_, err := d.Publish(context.Background(), "chatter", []byte(p))
		require.NoError(t, err)
	}

	assert.Equal(t, 4, ep.Pending())
	assert.Equal(t, int64(2), ep.Dropped())

	loan, err := ep.TakeLoaned()
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), loan.Bytes())
	require.NoError(t, ep.ReturnLoan(loan))
}

func TestEndpoint_FiniWithOutstandingLoan(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "chatter", []byte("held"))
	require.NoError(t, err)
	loan, err := ep.TakeLoaned()
	require.NoError(t, err)

	assert.ErrorIs(t, ep.Fini(), middleware.ErrLoansOutstanding)
	assert.False(t, ep.Finalized())

	require.NoError(t, ep.ReturnLoan(loan))
	require.NoError(t, ep.Fini())
	assert.True(t, ep.Finalized())
	assert.Equal(t, 0, d.Endpoints("chatter"))

	_, err = ep.TakeLoaned()
	assert.ErrorIs(t, err, middleware.ErrEndpointFinalized)
	assert.ErrorIs(t, ep.Fini(), middleware.ErrEndpointFinalized)
}

func TestEndpoint_SerializedCallersNeverCollide(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		concurrent int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = d.Publish(context.Background(), "chatter", []byte("tick"))

				mu.Lock()
				loan, err := ep.TakeLoaned()
				switch {
				case errors.Is(err, middleware.ErrConcurrentCall):
					concurrent++
				case err == nil:
					if rerr := ep.ReturnLoan(loan); errors.Is(rerr, middleware.ErrConcurrentCall) {
						concurrent++
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, concurrent)
	assert.Equal(t, 0, ep.Outstanding())
}

func TestEndpoint_Capabilities(t *testing.T) {
	tests := []struct {
		name      string
		allocator string
		affine    bool
		want      middleware.Capabilities
	}{
		{
			name:      "heap",
			allocator: middleware.AllocatorHeap,
			want:      middleware.Capabilities{ContextAgnostic: true, ReadOnlyMemory: false},
		},
		{
			name:      "mmap",
			allocator: middleware.AllocatorMmap,
			want:      middleware.Capabilities{ContextAgnostic: true, ReadOnlyMemory: true},
		},
		{
			name:      "mmap context affine",
			allocator: middleware.AllocatorMmap,
			affine:    true,
			want:      middleware.Capabilities{ContextAgnostic: false, ReadOnlyMemory: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := middleware.NewDomain(middleware.Config{Allocator: tt.allocator, ContextAffine: tt.affine})
			require.NoError(t, err)
			ep, err := d.CreateEndpoint("caps", "test.String")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep.Capabilities())
		})
	}
}
