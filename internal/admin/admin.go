// Package admin implements ddmq's read-only introspection surface: queue
// listing, message listing, version reporting, and a scan that surfaces
// filenames that fail the grammar instead of silently ignoring them.
package admin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/filename"
	"github.com/ddmq/ddmq/internal/layout"
	"github.com/ddmq/ddmq/pkg/ddmsg"
)

// Version is the ddmq implementation version reported by `ddmq version`.
const Version = "1.0.0"

// Admin wraps a broker with read-only operations.
type Admin struct {
	broker *broker.Broker
}

func New(b *broker.Broker) *Admin {
	return &Admin{broker: b}
}

// ListQueues returns every queue directory under the root that passes
// layout.CheckDir (has both a config file and a work/ directory).
func (a *Admin) ListQueues() ([]string, error) {
	return a.broker.Root().ListQueues()
}

// MessageList is the result of GetMessageList: waiting and leased message
// records for one queue.
type MessageList struct {
	Waiting []*ddmsg.Message
	Leased  []*ddmsg.Message
}

// GetMessageList reads and parses every message file in queue and its
// work/ directory, without mutating anything.
func (a *Admin) GetMessageList(queue string) (*MessageList, error) {
	waiting, err := readMessages(a.broker.Root().QueuePath(queue))
	if err != nil {
		return nil, err
	}
	leased, err := readMessages(a.broker.Root().WorkPath(queue))
	if err != nil {
		return nil, err
	}
	return &MessageList{Waiting: waiting, Leased: leased}, nil
}

func readMessages(dir string) ([]*ddmsg.Message, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*ddmsg.Message
	for _, e := range entries {
		if e.IsDir() || !filename.IsDdmqFile(e.Name()) {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // raced with a consumer/cleaner/ack; not this scan's concern
		}
		msg, err := ddmsg.Decode(body)
		if err != nil {
			continue // malformed body: Scan is the place that reports this
		}
		out = append(out, msg)
	}
	return out, nil
}

// QuarantineEntry records a file whose name does not match the grammar or
// whose body does not decode, so operators can see what consume/clean
// silently skip.
type QuarantineEntry struct {
	Directory string
	Name      string
	Observed  time.Time
}

// ScanResult reports a queue's messages alongside anything quarantined.
type ScanResult struct {
	MessageList
	Quarantine []QuarantineEntry
}

// Scan is GetMessageList extended with quarantine reporting: every file
// in queue or its work/ directory that isn't a valid grammar match (or
// whose body does not decode). The queue's own config file is not reported.
func (a *Admin) Scan(queue string) (*ScanResult, error) {
	now := time.Now()
	result := &ScanResult{}

	for _, dir := range []string{a.broker.Root().QueuePath(queue), a.broker.Root().WorkPath(queue)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), layout.ConfigFile) {
				continue
			}
			var parseErr error
			if dir == a.broker.Root().WorkPath(queue) {
				_, parseErr = filename.ParseLeased(e.Name())
			} else {
				_, parseErr = filename.ParseWaiting(e.Name())
			}
			if parseErr != nil {
				result.Quarantine = append(result.Quarantine, QuarantineEntry{Directory: dir, Name: e.Name(), Observed: now})
				continue
			}

			body, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			msg, err := ddmsg.Decode(body)
			if err != nil {
				result.Quarantine = append(result.Quarantine, QuarantineEntry{Directory: dir, Name: e.Name(), Observed: now})
				continue
			}

			if dir == a.broker.Root().WorkPath(queue) {
				result.Leased = append(result.Leased, msg)
			} else {
				result.Waiting = append(result.Waiting, msg)
			}
		}
	}

	return result, nil
}

// Stats summarizes a queue's depth for dashboards and the CLI's view command.
type Stats struct {
	Waiting      int
	Leased       int
	OldestWaitAt time.Time
}

// QueueStats computes read-only depth statistics for queue.
func (a *Admin) QueueStats(queue string) (*Stats, error) {
	list, err := a.GetMessageList(queue)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Waiting: len(list.Waiting), Leased: len(list.Leased)}
	sort.Slice(list.Waiting, func(i, j int) bool { return list.Waiting[i].Published.Before(list.Waiting[j].Published) })
	if len(list.Waiting) > 0 {
		stats.OldestWaitAt = list.Waiting[0].Published
	}
	return stats, nil
}
