package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/loaned/node"
	"github.com/tailored-agentic-units/loaned/wire"
)

const (
	readingsTopic = "readings"
	eventsTopic   = "events"
)

// Reading is a fixed-layout sample whose in-memory form is its wire form.
type Reading struct {
	Seq       uint64
	Timestamp int64
	Value     float64
	Sensor    [16]byte
}

var (
	readingSupport = wire.MustFixed[Reading]()
	eventSupport   = wire.NewProto[*wrapperspb.StringValue]()
)

func sensorName(b [16]byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:])
}

// publish sends count readings and count events, one pair per interval.
func publish(ctx context.Context, n *node.Node, count int, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := range count {
		r := Reading{
			Seq:       uint64(i),
			Timestamp: time.Now().UnixNano(),
			Value:     math.Sin(float64(i) / 4),
		}
		copy(r.Sensor[:], "imu-0")

		if _, err := n.Publish(ctx, readingsTopic, readingSupport.Encode(&r)); err != nil {
			return fmt.Errorf("publish reading %d: %w", i, err)
		}

		payload, err := eventSupport.Encode(wrapperspb.String(fmt.Sprintf("sample %d published", i)))
		if err != nil {
			return fmt.Errorf("encode event %d: %w", i, err)
		}
		if _, err := n.Publish(ctx, eventsTopic, payload); err != nil {
			return fmt.Errorf("publish event %d: %w", i, err)
		}

		logger.Debug("published", slog.Int("seq", i))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
