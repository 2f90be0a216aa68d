package middleware_test

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/loaned/middleware"
)

func TestConfig_Merge(t *testing.T) {
	cfg := middleware.DefaultConfig()
	cfg.Merge(&middleware.Config{
		Allocator:     middleware.AllocatorHeap,
		QueueDepth:    2,
		ContextAffine: true,
	})

	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, middleware.AllocatorHeap, cfg.Allocator)
	assert.Equal(t, 2, cfg.QueueDepth)
	assert.Equal(t, 64, cfg.MaxLoans)
	assert.True(t, cfg.ContextAffine)
	assert.NotNil(t, cfg.Logger)
}

func TestNewDomain_UnknownAllocator(t *testing.T) {
	_, err := middleware.NewDomain(middleware.Config{Allocator: "tmpfs"})
	assert.ErrorIs(t, err, middleware.ErrUnknownAllocator)
}

func TestDomain_CreateEndpoint(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)

	_, err := d.CreateEndpoint("", "test.String")
	assert.ErrorIs(t, err, middleware.ErrTopicRequired)

	_, err = d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	_, err = d.CreateEndpoint("chatter", "test.Int32")
	assert.ErrorIs(t, err, middleware.ErrTypeMismatch)

	assert.Equal(t, 1, d.Endpoints("chatter"))
}

func TestDomain_PublishFanOut(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)

	endpoints := make([]*middleware.Endpoint, 3)
	for i := range endpoints {
		ep, err := d.CreateEndpoint("chatter", "test.String")
		require.NoError(t, err)
		endpoints[i] = ep
	}

	n, err := d.Publish(context.Background(), "chatter", []byte("all"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, ep := range endpoints {
		loan, err := ep.TakeLoaned()
		require.NoError(t, err)
		assert.Equal(t, []byte("all"), loan.Bytes())
		require.NoError(t, ep.ReturnLoan(loan))
	}
}

func TestDomain_PublishWithoutEndpoints(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)

	n, err := d.Publish(context.Background(), "nobody", []byte("lost"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDomain_PublishCancelled(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	_, err := d.CreateEndpoint("chatter", "test.String")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := d.Publish(ctx, "chatter", []byte("late"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}

func TestDomain_Shutdown(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	d.Shutdown()
	d.Shutdown()

	_, err := d.CreateEndpoint("chatter", "test.String")
	assert.ErrorIs(t, err, middleware.ErrDomainClosed)

	_, err = d.Publish(context.Background(), "chatter", []byte("x"))
	assert.ErrorIs(t, err, middleware.ErrDomainClosed)
}

func TestDomain_EmptyPayload(t *testing.T) {
	d := newTestDomain(t, middleware.AllocatorHeap)
	ep, err := d.CreateEndpoint("empty", "test.Empty")
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "empty", nil)
	require.NoError(t, err)

	loan, err := ep.TakeLoaned()
	require.NoError(t, err)
	assert.Empty(t, loan.Bytes())
	require.NoError(t, ep.ReturnLoan(loan))
}

func TestAllocators(t *testing.T) {
	for _, name := range []string{middleware.AllocatorMemguard, middleware.AllocatorMmap, middleware.AllocatorHeap} {
		t.Run(name, func(t *testing.T) {
			alloc, err := middleware.NewAllocator(name)
			require.NoError(t, err)
			assert.Equal(t, name, alloc.Name())

			buf, err := alloc.Alloc(13)
			require.NoError(t, err)
			data := buf.Bytes()
			require.GreaterOrEqual(t, len(data), 13)
			assert.Zero(t, uintptr(unsafe.Pointer(&data[0]))%8, "buffer start must be word aligned")

			copy(data, "loaned-buffer")
			require.NoError(t, buf.Freeze())
			assert.Equal(t, []byte("loaned-buffer"), buf.Bytes()[:13])

			buf.Destroy()
		})
	}
}
