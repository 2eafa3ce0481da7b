// +build integration

// Package integration exercises the broker, cleaner, and admin packages
// together against a real filesystem root, the way a `ddmq serve` process
// would use them.
package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ddmq/ddmq/internal/admin"
	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/cleaner"
	"github.com/ddmq/ddmq/internal/logging"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	root := filepath.Join(t.TempDir(), "ddmq-root")
	logger := logging.New(logging.Config{Level: "error", Format: "json"})

	b := broker.New(root, logger)
	if err := b.InitRoot(); err != nil {
		t.Fatalf("InitRoot: %v", err)
	}
	return b
}

// TestPublishConsumeAckLifecycle walks a message through its full terminal
// path: published, leased by Consume, then removed by Ack.
func TestPublishConsumeAckLifecycle(t *testing.T) {
	b := newTestBroker(t)
	const queue = "orders"

	if err := b.CreateQueue(queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	if _, err := b.Publish(queue, `{"order_id":1}`, broker.PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := b.Consume(queue, broker.ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Consume: got %d messages, want 1", len(msgs))
	}

	result, err := b.Ack(queue, []string{msgs[0].Filename}, nil)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if len(result.Handled) != 1 {
		t.Fatalf("Ack: handled %d, want 1", len(result.Handled))
	}

	a := admin.New(b)
	stats, err := a.QueueStats(queue)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Waiting != 0 || stats.Leased != 0 {
		t.Errorf("QueueStats after ack: waiting=%d leased=%d, want 0/0", stats.Waiting, stats.Leased)
	}
}

// TestCleanerRequeuesExpiredLease publishes a message with a short timeout,
// lets a consumer abandon its lease without acking, and confirms the
// cleaner's GC pass requeues it back to waiting.
func TestCleanerRequeuesExpiredLease(t *testing.T) {
	b := newTestBroker(t)
	const queue = "leases"

	if err := b.CreateQueue(queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	timeout := 1
	if _, err := b.Publish(queue, "abandon me", broker.PublishOptions{Timeout: &timeout}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := b.Consume(queue, broker.ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Consume: got %d messages, want 1", len(msgs))
	}

	time.Sleep(2 * time.Second)

	logger := logging.New(logging.Config{Level: "error", Format: "json"})
	c := cleaner.New(b, logger, nil)
	cleanResult, err := c.Clean(queue, false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if cleanResult.Requeued == 0 {
		t.Error("expected the expired lease to be requeued, requeued count is 0")
	}

	a := admin.New(b)
	stats, err := a.QueueStats(queue)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Waiting != 1 {
		t.Errorf("QueueStats after clean: waiting=%d, want 1", stats.Waiting)
	}
}

// TestQuarantineScanSurfacesGarbageFiles confirms a non-ddmq file dropped
// into a queue directory never surfaces via Consume but is reported by
// Admin.Scan instead of silently disappearing.
func TestQuarantineScanSurfacesGarbageFiles(t *testing.T) {
	b := newTestBroker(t)
	const queue = "quarantine"

	if err := b.CreateQueue(queue); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	garbagePath := filepath.Join(b.Root().QueuePath(queue), "garbage.txt")
	if err := os.WriteFile(garbagePath, []byte("not a ddmq message"), 0o644); err != nil {
		t.Fatalf("write garbage file: %v", err)
	}

	msgs, err := b.Consume(queue, broker.ConsumeOptions{N: 10})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("Consume returned %d messages from a garbage-only queue, want 0", len(msgs))
	}

	a := admin.New(b)
	scan, err := a.Scan(queue)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(scan.Quarantine) != 1 || scan.Quarantine[0].Name != "garbage.txt" {
		t.Fatalf("Scan: quarantine entries = %+v, want one entry for garbage.txt", scan.Quarantine)
	}
}
