package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/loaned/middleware"
	"github.com/tailored-agentic-units/loaned/observability"
	"github.com/tailored-agentic-units/loaned/subscription"
	"github.com/tailored-agentic-units/loaned/wire"
)

type sample struct {
	Seq uint64
}

func TestLoanLifecycle_ThroughSlogAndMulti(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var captured []observability.Event
	obs := observability.NewMultiObserver(
		observability.NewSlogObserver(logger),
		&captureObserver{events: &captured},
	)

	d, err := middleware.NewDomain(middleware.Config{Allocator: middleware.AllocatorHeap})
	require.NoError(t, err)
	defer d.Shutdown()

	support := wire.MustFixed[sample]()
	sub, err := subscription.New(d, support, subscription.Config{Topic: "imu"}, subscription.WithObserver(obs))
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), "imu", support.Encode(&sample{Seq: 3}))
	require.NoError(t, err)

	require.NoError(t, sub.WithLoaned(context.Background(), func(s *sample) error {
		assert.Equal(t, uint64(3), s.Seq)
		return nil
	}))
	require.NoError(t, sub.Close())

	types := make([]observability.EventType, 0, len(captured))
	for _, e := range captured {
		types = append(types, e.Type)
		assert.Equal(t, "subscription", e.Source)
		assert.Equal(t, "imu", e.Data["topic"])
	}
	assert.Equal(t, []observability.EventType{
		subscription.EventLoanTaken,
		subscription.EventLoanReturned,
		subscription.EventEndpointFinalized,
	}, types)

	assert.Equal(t, observability.LevelVerbose, captured[0].Level)
	assert.Equal(t, observability.LevelInfo, captured[2].Level)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var logged []string
	for _, line := range lines {
		if strings.Contains(line, "source=subscription") {
			logged = append(logged, line)
		}
	}
	require.Len(t, logged, 3)
	assert.Contains(t, logged[0], "level=DEBUG")
	assert.Contains(t, logged[0], "msg=subscription.loan.taken")
	assert.Contains(t, logged[0], "topic=imu")
	assert.Contains(t, logged[0], "sequence=1")
	assert.Contains(t, logged[1], "msg=subscription.loan.returned")
	assert.Contains(t, logged[2], "level=INFO")
	assert.Contains(t, logged[2], "msg=subscription.endpoint.finalized")
}

func TestSlogObserver_FiltersVerboseLoanEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	obs := observability.NewSlogObserver(logger)

	d, err := middleware.NewDomain(middleware.Config{Allocator: middleware.AllocatorHeap})
	require.NoError(t, err)
	defer d.Shutdown()

	support := wire.MustFixed[sample]()
	sub, err := subscription.New(d, support, subscription.Config{Topic: "imu"}, subscription.WithObserver(obs))
	require.NoError(t, err)
	defer sub.Close()

	_, err = d.Publish(context.Background(), "imu", support.Encode(&sample{Seq: 1}))
	require.NoError(t, err)

	// Verbose take/return events sit below the handler level.
	require.NoError(t, sub.WithLoaned(context.Background(), func(s *sample) error { return nil }))
	assert.Empty(t, buf.String())
}
