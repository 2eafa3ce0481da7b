// +build chaos

// Package chaos stress-tests the filesystem-rename concurrency model that
// ddmq's broker relies on: many goroutines racing to publish, consume, and
// requeue against the same queue, with no coordination beyond the
// filesystem itself.
package chaos

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/cleaner"
	"github.com/ddmq/ddmq/internal/logging"
)

func newChaosBroker(t *testing.T) *broker.Broker {
	t.Helper()
	root := filepath.Join(t.TempDir(), "ddmq-root")
	logger := logging.New(logging.Config{Level: "error", Format: "json"})

	b := broker.New(root, logger)
	if err := b.InitRoot(); err != nil {
		t.Fatalf("InitRoot: %v", err)
	}
	return b
}

// TestConcurrentConsumersNeverDoubleLeaseAMessage floods a queue with
// messages and many concurrent consumers, then verifies every leased
// filename was handed out to exactly one consumer, and that every acked
// message maps back to exactly one published message.
func TestConcurrentConsumersNeverDoubleLeaseAMessage(t *testing.T) {
	b := newChaosBroker(t)
	const queue = "contended"
	const messageCount = 500
	const consumerCount = 20

	if err := b.CreateQueue(queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	for i := 0; i < messageCount; i++ {
		if _, err := b.Publish(queue, fmt.Sprintf("msg-%d", i), broker.PublishOptions{}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]int)
		wg      sync.WaitGroup
		leased  int64
	)

	for i := 0; i < consumerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msgs, err := b.Consume(queue, broker.ConsumeOptions{N: 5})
				if err != nil {
					t.Errorf("Consume: %v", err)
					return
				}
				if len(msgs) == 0 {
					return
				}
				atomic.AddInt64(&leased, int64(len(msgs)))

				names := make([]string, len(msgs))
				mu.Lock()
				for i, m := range msgs {
					seen[m.Filename]++
					names[i] = m.Filename
				}
				mu.Unlock()

				if _, err := b.Ack(queue, names, nil); err != nil {
					t.Errorf("Ack: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if int(leased) != messageCount {
		t.Errorf("total leased = %d, want %d", leased, messageCount)
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("filename %q leased %d times, want exactly 1", name, count)
		}
	}
}

// TestAbandonedLeasesAreEventuallyRecoveredUnderConcurrentCleaning runs many
// concurrent Clean passes against a queue full of short-lease, never-acked
// messages, and verifies every message is eventually requeued exactly once
// per expiry and none are lost.
func TestAbandonedLeasesAreEventuallyRecoveredUnderConcurrentCleaning(t *testing.T) {
	b := newChaosBroker(t)
	const queue = "abandoned"
	const messageCount = 100

	if err := b.CreateQueue(queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	timeout := 1
	for i := 0; i < messageCount; i++ {
		if _, err := b.Publish(queue, fmt.Sprintf("abandon-%d", i), broker.PublishOptions{Timeout: &timeout}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	msgs, err := b.Consume(queue, broker.ConsumeOptions{N: messageCount})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(msgs) != messageCount {
		t.Fatalf("Consume: got %d, want %d", len(msgs), messageCount)
	}

	time.Sleep(2 * time.Second)

	logger := logging.New(logging.Config{Level: "error", Format: "json"})
	c := cleaner.New(b, logger, nil)

	var (
		wg           sync.WaitGroup
		totalCleaned int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Clean(queue, false)
			if err != nil {
				t.Errorf("Clean: %v", err)
				return
			}
			atomic.AddInt64(&totalCleaned, int64(result.Requeued))
		}()
	}
	wg.Wait()

	if totalCleaned != messageCount {
		t.Errorf("total requeued across concurrent Clean calls = %d, want %d (no double-requeue, no loss)", totalCleaned, messageCount)
	}
}
