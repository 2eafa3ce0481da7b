// Package metrics exposes ddmq's Prometheus collectors: broker activity,
// cleaner sweeps, archive forwarding, and process-level gauges.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ddmq"

// Collector is a central place for every metric ddmq emits.
type Collector struct {
	registry *prometheus.Registry

	BrokerPublishTotal  *prometheus.CounterVec
	BrokerConsumeTotal  *prometheus.CounterVec
	BrokerAckTotal      *prometheus.CounterVec
	BrokerNackTotal     *prometheus.CounterVec
	BrokerRequeueTotal  *prometheus.CounterVec
	BrokerErrorsTotal   *prometheus.CounterVec
	BrokerOpDuration    *prometheus.HistogramVec

	CleanerExpiredTotal   *prometheus.CounterVec
	CleanerRequeuedTotal  *prometheus.CounterVec
	CleanerDiscardedTotal *prometheus.CounterVec
	CleanerDuration       *prometheus.HistogramVec

	AdminQueueDepth  *prometheus.GaugeVec
	AdminLeasedDepth *prometheus.GaugeVec
	AdminQuarantine  *prometheus.GaugeVec

	ArchiveSentTotal   *prometheus.CounterVec
	ArchiveFailedTotal *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec

	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	collectWg sync.WaitGroup
}

// NewCollector registers every ddmq metric against its own registry so
// multiple Collectors (e.g. in tests) never collide on the default one.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry, stopCh: make(chan struct{})}

	c.initBrokerMetrics()
	c.initCleanerMetrics()
	c.initAdminMetrics()
	c.initArchiveMetrics()
	c.initReliabilityMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initBrokerMetrics() {
	c.BrokerPublishTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "publish_total",
		Help: "Total number of publish operations by queue and outcome.",
	}, []string{"queue", "outcome"})

	c.BrokerConsumeTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "consume_total",
		Help: "Total number of messages leased by queue.",
	}, []string{"queue"})

	c.BrokerAckTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "ack_total",
		Help: "Total number of acked messages by queue.",
	}, []string{"queue"})

	c.BrokerNackTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "nack_total",
		Help: "Total number of nacked messages by queue.",
	}, []string{"queue"})

	c.BrokerRequeueTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "requeue_total",
		Help: "Total number of messages republished via requeue by queue.",
	}, []string{"queue"})

	c.BrokerErrorsTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "errors_total",
		Help: "Total number of broker operation errors by queue and error kind.",
	}, []string{"queue", "kind"})

	c.BrokerOpDuration = promauto.With(c.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "broker", Name: "operation_duration_seconds",
		Help:    "Duration of broker operations by queue and operation.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"queue", "operation"})
}

func (c *Collector) initCleanerMetrics() {
	c.CleanerExpiredTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cleaner", Name: "expired_total",
		Help: "Total number of leased messages found expired by queue.",
	}, []string{"queue"})

	c.CleanerRequeuedTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cleaner", Name: "requeued_total",
		Help: "Total number of expired messages requeued by queue.",
	}, []string{"queue"})

	c.CleanerDiscardedTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cleaner", Name: "discarded_total",
		Help: "Total number of expired messages discarded (no requeue, or limit reached) by queue.",
	}, []string{"queue"})

	c.CleanerDuration = promauto.With(c.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "cleaner", Name: "sweep_duration_seconds",
		Help:    "Duration of a clean sweep by queue.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
}

func (c *Collector) initAdminMetrics() {
	c.AdminQueueDepth = promauto.With(c.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "admin", Name: "queue_waiting_depth",
		Help: "Number of waiting messages observed in a queue at last scan.",
	}, []string{"queue"})

	c.AdminLeasedDepth = promauto.With(c.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "admin", Name: "queue_leased_depth",
		Help: "Number of leased messages observed in a queue at last scan.",
	}, []string{"queue"})

	c.AdminQuarantine = promauto.With(c.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "admin", Name: "quarantined_files",
		Help: "Number of files observed that fail the filename grammar.",
	}, []string{"queue"})
}

func (c *Collector) initArchiveMetrics() {
	c.ArchiveSentTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "archive", Name: "sent_total",
		Help: "Total number of terminal messages forwarded to an archive sink.",
	}, []string{"sink", "queue"})

	c.ArchiveFailedTotal = promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "archive", Name: "failed_total",
		Help: "Total number of archive forwarding attempts that failed.",
	}, []string{"sink", "queue"})
}

func (c *Collector) initReliabilityMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "circuit_breaker", Name: "state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open) by name.",
	}, []string{"name"})
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "system", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "system", Name: "mem_alloc_bytes",
		Help: "Currently allocated heap memory in bytes.",
	})
	c.SystemMemSys = promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "system", Name: "mem_sys_bytes",
		Help: "Total memory obtained from the OS in bytes.",
	})
}

// Registry returns the Prometheus registry backing this collector, for
// mounting under an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start begins periodic collection of runtime (goroutine/memory) metrics.
// It is idempotent.
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.collectWg.Add(1)
	go func() {
		defer c.collectWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collectSystemMetrics()
		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopCh)
	c.collectWg.Wait()
}

func (c *Collector) collectSystemMetrics() {
	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.SystemMemAlloc.Set(float64(mem.Alloc))
	c.SystemMemSys.Set(float64(mem.Sys))
}

var (
	globalOnce sync.Once
	global     *Collector
)

// GetGlobalCollector returns a process-wide singleton Collector, built by
// NewCollector (with its own registry) on first use.
func GetGlobalCollector() *Collector {
	globalOnce.Do(func() {
		global = NewCollector()
	})
	return global
}
