package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tailored-agentic-units/loaned/node"
	"github.com/tailored-agentic-units/loaned/subscription"
	"github.com/tailored-agentic-units/loaned/wire"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to node config file, JSON or .toml (optional)")
		allocator   = flag.String("allocator", "", "Loan buffer allocator: memguard, mmap or heap (overrides config)")
		workers     = flag.Int("workers", 0, "Handler goroutines per subscription (overrides config)")
		count       = flag.Int("count", 10, "Messages to publish per topic")
		interval    = flag.Duration("interval", 100*time.Millisecond, "Delay between published messages")
		drain       = flag.Duration("drain", 5*time.Second, "How long to wait for consumers after publishing")
		logFile     = flag.String("log-file", "", "Write logs to a rotating file instead of stderr")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: loaned [-config <file>] [-count <n>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	defer memguard.Purge()

	cfg := node.DefaultConfig()
	if *configFile != "" {
		loaded, err := node.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	if *allocator != "" {
		cfg.Middleware.Allocator = *allocator
	}
	if *workers > 0 {
		cfg.Subscription.Workers = *workers
	}
	if *metricsAddr != "" && !slices.Contains(cfg.Observers, node.ObserverPrometheus) {
		cfg.Observers = append(cfg.Observers, node.ObserverPrometheus)
	}

	var out io.Writer = os.Stderr
	if *logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		defer rotating.Close()
		out = rotating
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	n, err := node.New(&cfg, node.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	readings, err := node.Subscribe(n, readingSupport, readingsTopic)
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	events, err := node.Subscribe(n, eventSupport, eventsTopic)
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	var (
		wg       sync.WaitGroup
		received atomic.Int64
		sum      atomic.Uint64
	)

	readCtx, readDone := context.WithCancel(ctx)
	wg.Go(func() {
		var seen atomic.Int64
		err := readings.Spin(readCtx, func(ctx context.Context, msg *subscription.LoanedMessage[*Reading]) error {
			r := msg.Get()
			sum.Add(r.Seq)
			logger.Debug(
				"reading",
				slog.Uint64("seq", r.Seq),
				slog.String("sensor", sensorName(r.Sensor)),
				slog.Float64("value", r.Value),
				slog.Duration("latency", msg.ReceivedAt().Sub(time.Unix(0, r.Timestamp))),
			)
			received.Add(1)
			if seen.Add(1) == int64(*count) {
				readDone()
			}
			return nil
		})
		if err != nil {
			logger.Error("readings subscription failed", slog.String("error", err.Error()))
		}
	})

	eventCtx, eventDone := context.WithCancel(ctx)
	wg.Go(func() {
		var seen atomic.Int64
		err := events.Spin(eventCtx, func(ctx context.Context, msg *subscription.LoanedMessage[wire.ProtoView]) error {
			text, _ := msg.Get().BytesField(1)
			logger.Debug("event", slog.Uint64("seq", msg.Sequence()), slog.String("text", string(text)))
			received.Add(1)
			if seen.Add(1) == int64(*count) {
				eventDone()
			}
			return nil
		})
		if err != nil {
			logger.Error("events subscription failed", slog.String("error", err.Error()))
		}
	})

	if err := publish(ctx, n, *count, *interval, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("publisher failed", slog.String("error", err.Error()))
		readDone()
		eventDone()
	}

	// Deliveries dropped by a full endpoint queue never arrive.
	drained := time.AfterFunc(*drain, func() {
		readDone()
		eventDone()
	})
	wg.Wait()
	drained.Stop()
	readDone()
	eventDone()

	rm, em := readings.Metrics(), events.Metrics()
	if err := n.Shutdown(); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}

	fmt.Printf("Received: %d of %d\n", received.Load(), 2*(*count))
	fmt.Printf("Reading sequence sum: %d\n", sum.Load())
	fmt.Printf("Readings: taken=%d returned=%d leaked=%d outstanding=%d\n", rm.Taken, rm.Returned, rm.Leaked, rm.Outstanding)
	fmt.Printf("Events:   taken=%d returned=%d leaked=%d outstanding=%d\n", em.Taken, em.Returned, em.Leaked, em.Outstanding)
}
