// Package watch provides a blocking wait for new messages in a queue
// directory, using fsnotify instead of busy-polling. It only ever
// observes that *something* changed; the caller still calls Consume to
// actually lease a message, so a spurious or coalesced event just causes
// one harmless extra Consume attempt.
package watch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WaitForWrite blocks until dir receives a Create, Write or Rename event,
// or ctx is done. Only events after the watch is added are seen: a file
// written to dir before that does not wake it.
func WaitForWrite(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watch: watcher closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watch: watcher closed")
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}
