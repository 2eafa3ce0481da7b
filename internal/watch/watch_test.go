package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitForWriteReturnsOnFileCreate(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- WaitForWrite(ctx, dir)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "new-message"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForWrite returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForWrite did not return after file creation")
	}
}

func TestWaitForWriteReturnsOnContextCancel(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitForWrite(ctx, dir); err == nil {
		t.Error("expected an error from an already-canceled context")
	}
}

func TestWaitForWriteRejectsMissingDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := WaitForWrite(ctx, filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Error("expected an error watching a nonexistent directory")
	}
}
