// Command ddmqbench drives synthetic publish/consume/ack traffic against a
// ddmq root to characterize throughput and error rates under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/logging"
	"github.com/ddmq/ddmq/internal/ratelimit"
)

var (
	root           = flag.String("root", "./ddmq-bench-root", "ddmq root directory")
	queue          = flag.String("queue", "bench", "queue name to drive traffic against")
	targetRate     = flag.Float64("rate", 1000, "target publishes per second")
	duration       = flag.Int("duration", 30, "test duration in seconds")
	workers        = flag.Int("workers", 4, "number of publisher goroutines")
	consumers      = flag.Int("consumers", 2, "number of consumer goroutines")
	reportInterval = flag.Int("interval", 5, "report interval in seconds")
)

// stats tracks load test counters. All fields are updated with atomic ops
// since publisher and consumer goroutines share it.
type stats struct {
	published   uint64
	publishErrs uint64
	consumed    uint64
	acked       uint64
	ackErrs     uint64
	startTime   time.Time
}

func (s *stats) report() {
	elapsed := time.Since(s.startTime).Seconds()
	published := atomic.LoadUint64(&s.published)
	consumed := atomic.LoadUint64(&s.consumed)
	acked := atomic.LoadUint64(&s.acked)

	fmt.Printf("\n=== ddmqbench statistics ===\n")
	fmt.Printf("duration:      %.2fs\n", elapsed)
	fmt.Printf("published:     %d (%.0f/sec)\n", published, float64(published)/elapsed)
	fmt.Printf("publish errs:  %d\n", atomic.LoadUint64(&s.publishErrs))
	fmt.Printf("consumed:      %d (%.0f/sec)\n", consumed, float64(consumed)/elapsed)
	fmt.Printf("acked:         %d\n", acked)
	fmt.Printf("ack errs:      %d\n", atomic.LoadUint64(&s.ackErrs))
	fmt.Printf("============================\n\n")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "console"})

	fmt.Printf("Starting ddmqbench against %s (queue=%s)\n", *root, *queue)
	fmt.Printf("Target Rate: %.0f publishes/sec\n", *targetRate)
	fmt.Printf("Duration: %d seconds\n", *duration)
	fmt.Printf("Publisher workers: %d, consumers: %d\n\n", *workers, *consumers)

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "ddmqbench: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	b := broker.New(*root, logger)
	if err := b.InitRoot(); err != nil {
		return fmt.Errorf("init root: %w", err)
	}
	if err := b.CreateQueue(*queue); err != nil {
		logger.Warn().Err(err).Msg("ddmqbench: create queue (may already exist)")
	}

	st := &stats{startTime: time.Now()}

	go func() {
		ticker := time.NewTicker(time.Duration(*reportInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.report()
			}
		}
	}()

	var wg sync.WaitGroup
	limiter := ratelimit.New(*targetRate, 1)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runPublisher(ctx, workerID, b, limiter, st)
		}(i)
	}

	for i := 0; i < *consumers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runConsumer(ctx, workerID, b, st)
		}(i)
	}

	select {
	case <-time.After(time.Duration(*duration) * time.Second):
		logger.Info().Msg("ddmqbench: duration reached")
	case <-sigCh:
		logger.Info().Msg("ddmqbench: received shutdown signal")
	}

	cancel()
	wg.Wait()
	st.report()
	return nil
}

func runPublisher(ctx context.Context, workerID int, b *broker.Broker, limiter *ratelimit.Limiter, st *stats) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload := fmt.Sprintf(`{"worker":%d,"sent_at":"%s"}`, workerID, time.Now().Format(time.RFC3339Nano))
		if _, err := b.Publish(*queue, payload, broker.PublishOptions{}); err != nil {
			atomic.AddUint64(&st.publishErrs, 1)
			continue
		}
		atomic.AddUint64(&st.published, 1)
	}
}

func runConsumer(ctx context.Context, workerID int, b *broker.Broker, st *stats) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, err := b.Consume(*queue, broker.ConsumeOptions{N: 10})
		if err != nil || len(msgs) == 0 {
			continue
		}
		atomic.AddUint64(&st.consumed, uint64(len(msgs)))

		names := make([]string, len(msgs))
		for i, m := range msgs {
			names[i] = m.Filename
		}
		result, err := b.Ack(*queue, names, nil)
		if err != nil {
			atomic.AddUint64(&st.ackErrs, 1)
			continue
		}
		atomic.AddUint64(&st.acked, uint64(len(result.Handled)))
	}
}
