package broker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(filepath.Join(t.TempDir(), "root"), nil)
	if err := b.InitRoot(); err != nil {
		t.Fatalf("init root: %v", err)
	}
	return b
}

func TestPublishCreatesWaitingFile(t *testing.T) {
	b := newTestBroker(t)

	msg, err := b.Publish("q1", "hello", PublishOptions{Create: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg.Priority != 999 || msg.Seq != 0 {
		t.Errorf("expected default priority 999 and seq 0, got priority=%d seq=%d", msg.Priority, msg.Seq)
	}

	path := filepath.Join(b.Root().QueuePath("q1"), msg.Filename)
	if _, err := os.ReadFile(path); err != nil {
		t.Errorf("expected message file at %s: %v", path, err)
	}
}

func TestPublishAssignsHexEncodedID(t *testing.T) {
	b := newTestBroker(t)

	msg, err := b.Publish("q1", "hello", PublishOptions{Create: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(msg.ID) != 32 {
		t.Errorf("expected a 32-char hex id, got %q (len %d)", msg.ID, len(msg.ID))
	}
	if strings.Contains(msg.ID, "-") {
		t.Errorf("id should have no dashes, got %q", msg.ID)
	}
	for _, r := range msg.ID {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("id %q contains non-hex character %q", msg.ID, r)
			break
		}
	}
	if !strings.Contains(msg.Filename, msg.ID) {
		t.Errorf("filename %q should embed the hex id %q", msg.Filename, msg.ID)
	}
}

func TestPublishRejectsNegativePriority(t *testing.T) {
	b := newTestBroker(t)
	neg := -1

	_, err := b.Publish("q1", "x", PublishOptions{Create: true, Priority: &neg})
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != InvalidPriority {
		t.Fatalf("expected InvalidPriority, got %v", err)
	}
}

func TestPublishMissingQueueWithoutCreate(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Publish("q1", "x", PublishOptions{})
	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != QueueMissing {
		t.Fatalf("expected QueueMissing, got %v", err)
	}
}

func TestPriorityOrdering(t *testing.T) {
	b := newTestBroker(t)
	lo, hi := 1, 9

	if _, err := b.Publish("q1", "low", PublishOptions{Create: true, Priority: &lo}); err != nil {
		t.Fatalf("publish low: %v", err)
	}
	if _, err := b.Publish("q1", "high", PublishOptions{Priority: &hi}); err != nil {
		t.Fatalf("publish high: %v", err)
	}

	got, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 1 || got[0].Message != "low" {
		t.Errorf("expected the lower-priority message first, got %+v", got)
	}
}

func TestConsumeThenAckRemovesLeasedFile(t *testing.T) {
	b := newTestBroker(t)

	if _, err := b.Publish("q1", "x", PublishOptions{Create: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	leased, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil || len(leased) != 1 {
		t.Fatalf("consume: %v %+v", err, leased)
	}

	result, err := b.Ack("q1", []string{leased[0].Filename}, nil)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(result.Handled) != 1 {
		t.Errorf("expected ack to handle the leased file, got %+v", result)
	}

	again, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("consume again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected nothing left to consume after ack, got %+v", again)
	}
}

func TestNackRespectsMessageRequeueField(t *testing.T) {
	b := newTestBroker(t)

	msg, err := b.Publish("q1", "x", PublishOptions{Create: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg.Requeue.Enabled != true {
		t.Fatalf("expected requeue to default to true")
	}

	leased, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil || len(leased) != 1 {
		t.Fatalf("consume: %v", err)
	}

	if _, err := b.Nack("q1", []string{leased[0].Filename}, nil); err != nil {
		t.Fatalf("nack: %v", err)
	}

	waiting, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("consume after nack: %v", err)
	}
	if len(waiting) != 1 || waiting[0].RequeueCounter != 1 {
		t.Errorf("expected a requeued message with counter 1, got %+v", waiting)
	}
}

func TestRequeueLimitExhaustion(t *testing.T) {
	b := newTestBroker(t)
	limit := 1

	if _, err := b.Publish("q1", "x", PublishOptions{Create: true, RequeueLimit: &limit}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	leased, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil || len(leased) != 1 {
		t.Fatalf("consume: %v", err)
	}
	if _, err := b.Nack("q1", []string{leased[0].Filename}, nil); err != nil {
		t.Fatalf("nack 1: %v", err)
	}

	leased, err = b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil || len(leased) != 1 {
		t.Fatalf("consume 2: %v", err)
	}
	if leased[0].RequeueCounter != 1 {
		t.Fatalf("expected requeue_counter 1, got %d", leased[0].RequeueCounter)
	}
	if _, err := b.Nack("q1", []string{leased[0].Filename}, nil); err != nil {
		t.Fatalf("nack 2: %v", err)
	}

	remaining, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil {
		t.Fatalf("consume 3: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected the message to be discarded once requeue_limit was reached, got %+v", remaining)
	}
}

func TestPurgeRemovesWaitingAndLeased(t *testing.T) {
	b := newTestBroker(t)

	if _, err := b.Publish("q1", "a", PublishOptions{Create: true}); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	if _, err := b.Publish("q1", "b", PublishOptions{}); err != nil {
		t.Fatalf("publish b: %v", err)
	}
	if _, err := b.Consume("q1", ConsumeOptions{N: 1}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	waiting, leasedCount, err := b.Purge("q1")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if waiting != 1 || leasedCount != 1 {
		t.Errorf("expected (1 waiting, 1 leased) removed, got (%d, %d)", waiting, leasedCount)
	}
}

func TestConsumeZeroWhenEmpty(t *testing.T) {
	b := newTestBroker(t)
	if err := b.CreateQueue("q1"); err != nil {
		t.Fatalf("create queue: %v", err)
	}

	got, err := b.Consume("q1", ConsumeOptions{N: 5})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no messages, got %+v", got)
	}
}

func TestConfigOverrideAffectsLeaseExpiry(t *testing.T) {
	b := newTestBroker(t)
	if err := b.CreateQueue("q1"); err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if err := b.Configs().WriteQueuePatch("q1", map[string]any{"message_timeout": 5}); err != nil {
		t.Fatalf("patch: %v", err)
	}

	fixed := time.Unix(1700000000, 0)
	b.clock = func() time.Time { return fixed }

	if _, err := b.Publish("q1", "x", PublishOptions{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	leased, err := b.Consume("q1", ConsumeOptions{N: 1})
	if err != nil || len(leased) != 1 {
		t.Fatalf("consume: %v", err)
	}

	wantExpiry := fixed.Add(5 * time.Second).Unix()
	wantPrefix := fmt.Sprintf("%d.", wantExpiry)
	if !strings.HasPrefix(leased[0].Filename, wantPrefix) {
		t.Errorf("expected leased filename %q to start with %q", leased[0].Filename, wantPrefix)
	}
}
