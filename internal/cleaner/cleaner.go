// Package cleaner implements ddmq's garbage-collection and requeue scan:
// it walks a queue's work/ directory, expires overdue leases, and either
// requeues or discards each one according to its requeue policy.
package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ddmq/ddmq/internal/archive"
	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/filename"
	"github.com/ddmq/ddmq/internal/logging"
	"github.com/ddmq/ddmq/internal/tracing"
	"github.com/ddmq/ddmq/pkg/ddmsg"
)

// throttle is how often an unforced clean pass actually does work.
const throttle = 60 * time.Second

// Cleaner scans and expires leased messages for one broker's root.
type Cleaner struct {
	broker  *broker.Broker
	clock   func() time.Time
	logger  *logging.Logger
	archive *archive.Router
	tracer  trace.Tracer
}

// New builds a Cleaner bound to b. archiver may be nil, in which case
// discarded messages are simply dropped with no durable record.
func New(b *broker.Broker, logger *logging.Logger, archiver *archive.Router) *Cleaner {
	return &Cleaner{broker: b, clock: time.Now, logger: logger, archive: archiver, tracer: otel.Tracer("ddmq")}
}

// SetTracer overrides the cleaner's tracer; see broker.Broker.SetTracer.
func (c *Cleaner) SetTracer(t trace.Tracer) { c.tracer = t }

// Result reports what a Clean pass did.
type Result struct {
	Skipped   bool
	Expired   int
	Requeued  int
	Discarded int
}

// Clean scans queue's work/ directory for expired leases. Unless force is
// set, it does nothing if the queue was cleaned within the last 60
// seconds, per the settings-cached "cleaned" timestamp.
func (c *Cleaner) Clean(queue string, force bool) (*Result, error) {
	_, span := tracing.TraceClean(context.Background(), c.tracer, queue, force)
	defer span.End()

	settings, err := c.broker.Configs().Effective(queue)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	if !force && settings.Cleaned != 0 {
		lastCleaned := time.Unix(settings.Cleaned, 0)
		if lastCleaned.After(now.Add(-throttle)) {
			return &Result{Skipped: true}, nil
		}
	}

	workDir := c.broker.Root().WorkPath(queue)
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{}, nil
		}
		return nil, err
	}

	result := &Result{}
	for _, e := range entries {
		if e.IsDir() || !filename.IsDdmqFile(e.Name()) {
			continue
		}

		leased, err := filename.ParseLeased(e.Name())
		if err != nil {
			continue // malformed name: admin surface's Scan reports these, clean just skips
		}
		if leased.Expiry >= now.Unix() {
			continue // not yet expired
		}

		path := filepath.Join(workDir, e.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // raced with another cleaner or an ack
			}
			if c.logger != nil {
				c.logger.WithQueue(queue).Warn().Err(err).Str("file", e.Name()).Msg("clean: read failed, skipping")
			}
			continue
		}

		msg, err := ddmsg.Decode(body)
		if err != nil {
			if c.logger != nil {
				c.logger.WithQueue(queue).Warn().Err(err).Str("file", e.Name()).Msg("clean: malformed message body, skipping")
			}
			continue
		}

		result.Expired++
		discarded := !msg.Requeue.Enabled || broker.RequeueLimitReached(msg)
		if !discarded {
			if _, err := c.broker.Requeue(queue, msg); err != nil {
				return result, err
			}
			result.Requeued++
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return result, err
		}

		if discarded {
			result.Discarded++
			c.forwardToArchive(queue, msg, archive.OutcomeDiscarded)
		}
	}

	if err := c.broker.Configs().MarkCleaned(queue, now); err != nil {
		return result, err
	}
	return result, nil
}

// CleanAll runs Clean against every queue under the root.
func (c *Cleaner) CleanAll(force bool) (map[string]*Result, error) {
	queues, err := c.broker.Root().ListQueues()
	if err != nil {
		return nil, err
	}

	results := make(map[string]*Result, len(queues))
	for _, q := range queues {
		r, err := c.Clean(q, force)
		if err != nil {
			return results, err
		}
		results[q] = r
	}
	return results, nil
}

// forwardToArchive hands a terminally-discarded message to the archive
// router, if one is configured, through the broker's archive worker pool.
// It runs strictly after the file removal that commits the discard, so a
// slow or failing sink never delays a clean sweep.
func (c *Cleaner) forwardToArchive(queue string, msg *ddmsg.Message, outcome archive.Outcome) {
	if c.archive == nil {
		return
	}
	c.broker.ForwardToArchive(queue, msg, outcome)
}
