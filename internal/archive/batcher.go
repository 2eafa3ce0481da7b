package archive

import (
	"context"
	"sync"
	"time"
)

// BatcherConfig configures batching behavior for a sink.
type BatcherConfig struct {
	MaxBatchSize  int
	MaxBatchBytes int
	FlushInterval time.Duration
}

// Batcher accumulates records and flushes them in batches, either when full
// or on a timer, whichever comes first.
type Batcher struct {
	config  BatcherConfig
	records []*Record
	size    int
	mu      sync.Mutex
	flushFn func(ctx context.Context, recs []*Record) error
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBatcher creates a new batcher and starts its background flush loop.
func NewBatcher(config BatcherConfig, flushFn func(ctx context.Context, recs []*Record) error) *Batcher {
	b := &Batcher{
		config:  config,
		records: make([]*Record, 0, config.MaxBatchSize),
		flushFn: flushFn,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.flushLoop()
	return b
}

// Add adds a record to the batch, flushing immediately if it is now full.
func (b *Batcher) Add(ctx context.Context, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, rec)
	b.size += len(rec.Message.Message)

	if len(b.records) >= b.config.MaxBatchSize || b.size >= b.config.MaxBatchBytes {
		return b.flushLocked(ctx)
	}
	return nil
}

// Flush forces a flush of the current batch.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *Batcher) flushLocked(ctx context.Context) error {
	if len(b.records) == 0 {
		return nil
	}

	toFlush := make([]*Record, len(b.records))
	copy(toFlush, b.records)
	b.records = b.records[:0]
	b.size = 0

	b.mu.Unlock()
	err := b.flushFn(ctx, toFlush)
	b.mu.Lock()

	return err
}

func (b *Batcher) flushLoop() {
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()
	defer close(b.doneCh)

	for {
		select {
		case <-ticker.C:
			b.Flush(context.Background())
		case <-b.stopCh:
			b.Flush(context.Background())
			return
		}
	}
}

// Stop stops the batcher, flushing any remaining records first.
func (b *Batcher) Stop() error {
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Size returns the number of records currently buffered.
func (b *Batcher) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
