package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"

	"github.com/ddmq/ddmq/internal/reliability"
	"github.com/ddmq/ddmq/internal/tracing"
)

// RouterConfig configures how a Router fans a record out to its sinks.
type RouterConfig struct {
	// FailureStrategy is "continue" (default, best-effort) or "stop".
	FailureStrategy string
	Parallel        bool
}

// DefaultRouterConfig returns the best-effort, parallel default.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{FailureStrategy: "continue", Parallel: true}
}

// Router fans archive records out to every registered sink, guarding each
// one behind its own circuit breaker so a sink stuck failing (network
// partition, bad credentials) doesn't keep eating request latency on every
// terminal message.
type Router struct {
	config  RouterConfig
	sinks   []Sink
	breaker *reliability.MultiCircuitBreaker
	metrics *RouterMetrics
	mu      sync.RWMutex
	closed  atomic.Bool
}

// RouterMetrics aggregates metrics across every registered sink.
type RouterMetrics struct {
	TotalSent   int64
	TotalFailed int64
	TotalBytes  int64
}

// NewRouter creates an empty router; sinks are registered with AddSink.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		config:  cfg,
		breaker: reliability.NewMultiCircuitBreaker(),
		metrics: &RouterMetrics{},
	}
}

// AddSink registers a sink with the router.
func (r *Router) AddSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Send forwards a record to every sink, sequentially or in parallel
// depending on config.
func (r *Router) Send(ctx context.Context, rec *Record) error {
	if r.closed.Load() {
		return fmt.Errorf("archive router is closed")
	}

	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()

	if len(sinks) == 0 {
		return nil
	}

	send := func(s Sink) error {
		spanCtx, span := tracing.TraceArchive(ctx, otel.Tracer("ddmq"), s.Name(), rec.Queue)
		defer span.End()
		err := r.breaker.Execute(spanCtx, s.Name(), reliability.CircuitBreakerConfig{}, func() error {
			return s.Send(spanCtx, rec)
		})
		if err != nil {
			tracing.RecordError(spanCtx, err)
		}
		return err
	}

	if r.config.Parallel {
		return r.sendParallel(sinks, send)
	}
	return r.sendSequential(sinks, send)
}

func (r *Router) sendParallel(sinks []Sink, send func(Sink) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(sinks))

	for _, s := range sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := send(sink); err != nil {
				errCh <- fmt.Errorf("%s: %w", sink.Name(), err)
			}
		}(s)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
		atomic.AddInt64(&r.metrics.TotalFailed, 1)
	}
	atomic.AddInt64(&r.metrics.TotalSent, int64(len(sinks))-int64(len(errs)))

	if len(errs) > 0 && r.config.FailureStrategy == "stop" {
		return fmt.Errorf("archive send failed on %d sinks: %v", len(errs), errs)
	}
	return nil
}

func (r *Router) sendSequential(sinks []Sink, send func(Sink) error) error {
	for _, s := range sinks {
		if err := send(s); err != nil {
			atomic.AddInt64(&r.metrics.TotalFailed, 1)
			if r.config.FailureStrategy == "stop" {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			continue
		}
		atomic.AddInt64(&r.metrics.TotalSent, 1)
	}
	return nil
}

// Close closes every registered sink, collecting the first error.
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()

	var firstErr error
	for _, s := range sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return firstErr
}

// SinkStates reports the circuit breaker state of every sink by name.
func (r *Router) SinkStates() map[string]reliability.State {
	return r.breaker.States()
}

// Metrics returns the router's aggregate send/fail counters.
func (r *Router) Metrics() RouterMetrics {
	return RouterMetrics{
		TotalSent:   atomic.LoadInt64(&r.metrics.TotalSent),
		TotalFailed: atomic.LoadInt64(&r.metrics.TotalFailed),
		TotalBytes:  atomic.LoadInt64(&r.metrics.TotalBytes),
	}
}
