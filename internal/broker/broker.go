// Package broker implements ddmq's core engine: publish, consume, ack,
// nack, purge, and queue lifecycle, all built on atomic filesystem rename
// as the sole concurrency primitive.
package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ddmq/ddmq/internal/archive"
	"github.com/ddmq/ddmq/internal/config"
	"github.com/ddmq/ddmq/internal/filename"
	"github.com/ddmq/ddmq/internal/layout"
	"github.com/ddmq/ddmq/internal/logging"
	"github.com/ddmq/ddmq/internal/reliability"
	"github.com/ddmq/ddmq/internal/tracing"
	"github.com/ddmq/ddmq/internal/worker"
	"github.com/ddmq/ddmq/pkg/ddmsg"
)

// seqRetry bounds the retry/backoff applied around sequence allocation and
// the consume-time lease rename, to absorb transient EXDEV/EBUSY-class
// errors from network filesystems without turning them into hard failures.
var seqRetry = reliability.RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 5 * time.Millisecond,
	MaxBackoff:     50 * time.Millisecond,
	Multiplier:     2,
	Jitter:         true,
}

// newMessageID returns a 128-bit random identifier, hex-encoded with no
// separators, matching the filename grammar's H component.
func newMessageID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Clock allows tests to control what "now" means; production code uses
// realClock (time.Now).
type Clock func() time.Time

// Broker binds the core engine operations to one ddmq root.
type Broker struct {
	root    *layout.Root
	configs *config.Store
	clock   Clock
	logger  *logging.Logger
	archive *archive.Router
	pool    *worker.WorkerPool
	tracer  trace.Tracer
}

// New builds a Broker rooted at rootPath.
func New(rootPath string, logger *logging.Logger) *Broker {
	root := layout.NewRoot(rootPath)
	return &Broker{
		root: root,
		configs: config.NewStore(
			root.RootConfigPath,
			root.QueueConfigPath,
		),
		clock:  time.Now,
		logger: logger,
		tracer: otel.Tracer("ddmq"),
	}
}

// SetTracer overrides the broker's tracer, e.g. with one built from a
// tracing.Provider configured to export to an OTLP collector. The default
// (an unconfigured otel.Tracer) is a no-op that costs nothing.
func (b *Broker) SetTracer(t trace.Tracer) { b.tracer = t }

// SetArchive attaches an archive router that terminal messages (acked,
// purged) are forwarded to after their removal is committed. A nil router
// (the default) disables archive forwarding entirely. Forwarding itself
// runs on a small worker pool so a slow or unreachable sink never adds
// latency to the Ack/Nack/Purge call that triggered it.
func (b *Broker) SetArchive(r *archive.Router) {
	b.archive = r
	if r == nil {
		b.pool = nil
		return
	}
	pool, err := worker.NewWorkerPool(worker.PoolConfig{NumWorkers: 2, QueueSize: 1000}, func(ctx context.Context, rec *archive.Record) error {
		return r.Send(ctx, rec)
	})
	if err != nil {
		if b.logger != nil {
			b.logger.Warn().Err(err).Msg("archive worker pool disabled, forwarding synchronously")
		}
		return
	}
	pool.Start()
	b.pool = pool
}

// Close releases resources held by the broker, namely its archive worker
// pool. It is a no-op when no archive router was ever attached.
func (b *Broker) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Stop()
}

// ForwardToArchive hands a terminally-handled message to the archive
// router, if one is attached, via the broker's archive worker pool. The
// cleaner uses this so a single pool backs both the broker's and the
// cleaner's forwarding instead of running two against the same router.
func (b *Broker) ForwardToArchive(queue string, msg *ddmsg.Message, outcome archive.Outcome) {
	b.forwardToArchive(queue, msg, outcome)
}

func (b *Broker) forwardToArchive(queue string, msg *ddmsg.Message, outcome archive.Outcome) {
	if b.archive == nil {
		return
	}
	rec := &archive.Record{Queue: queue, Message: msg, Outcome: outcome, ArchivedAt: b.clock()}
	if b.pool != nil {
		if err := b.pool.SubmitAsync(rec); err != nil && b.logger != nil {
			b.logger.WithQueue(queue).Warn().Err(err).Msg("archive forwarding queue full")
		}
		return
	}
	if err := b.archive.Send(context.Background(), rec); err != nil && b.logger != nil {
		b.logger.WithQueue(queue).Warn().Err(err).Msg("archive forwarding failed")
	}
}

// Root returns the broker's underlying root handle, for admin/cleaner use.
func (b *Broker) Root() *layout.Root { return b.root }

// Configs returns the broker's config store, for admin/cleaner use.
func (b *Broker) Configs() *config.Store { return b.configs }

// checkRoot enforces the RootMissing/RootUninitiated distinction every
// operation (other than root init itself) must honor.
func (b *Broker) checkRoot() error {
	if !b.root.Exists() {
		return newErr(RootMissing, "", "root directory does not exist", nil)
	}
	if !b.root.Initiated() {
		return newErr(RootUninitiated, "", "root exists but has no .ddmq marker file", nil)
	}
	return nil
}

// InitRoot creates the root directory and its marker/example config files.
func (b *Broker) InitRoot() error {
	if err := b.root.Init(); err != nil {
		return newErr(IOFault, "", "init root", err)
	}
	return config.WriteExampleRootConfig(b.root.Path)
}

// resolveQueue ensures queue exists (creating it when create is true),
// returning QueueMissing when it doesn't and create wasn't requested.
func (b *Broker) resolveQueue(queue string, create bool) error {
	if !layout.ValidQueueName(queue) {
		return newErr(InvalidName, queue, "queue name fails ^[A-Za-z0-9_-]+$", nil)
	}
	if b.root.QueueExists(queue) {
		return nil
	}
	if !create {
		return newErr(QueueMissing, queue, "queue does not exist", nil)
	}
	return b.CreateQueue(queue)
}

// CreateQueue creates a queue directory, its work/ subdirectory, and a
// default config file. It fails if the directory exists but lacks the
// config file, since that suggests a foreign directory.
func (b *Broker) CreateQueue(queue string) error {
	if !layout.ValidQueueName(queue) {
		return newErr(InvalidName, queue, "queue name fails ^[A-Za-z0-9_-]+$", nil)
	}
	if err := b.checkRoot(); err != nil {
		return err
	}

	cfgPath := b.root.QueueConfigPath(queue)
	if b.root.QueueExists(queue) {
		if _, err := os.Stat(cfgPath); err == nil {
			return nil
		}
		return newErr(IOFault, queue, "directory exists but is not a ddmq queue (missing config)", nil)
	}

	if err := b.root.CreateQueue(queue); err != nil {
		return newErr(IOFault, queue, "create queue directories", err)
	}
	if err := config.WriteDefaultQueueConfig(cfgPath); err != nil {
		return newErr(IOFault, queue, "write default queue config", err)
	}
	return nil
}

// DeleteQueue removes every ddmq file from a queue and its work/
// directory, then the directory itself. It refuses to remove a directory
// that still contains foreign files.
func (b *Broker) DeleteQueue(queue string) error {
	if err := b.checkRoot(); err != nil {
		return err
	}
	if err := b.root.DeleteQueue(queue, filename.IsDdmqFile); err != nil {
		return newErr(IOFault, queue, "delete queue", err)
	}
	b.configs.Invalidate(queue)
	return nil
}

// nextSeq scans <root>/Q for the highest queue_number in use and returns
// one past it. This is not atomic across processes; collisions are
// resolved by each message's uuid suffix rather than by locking.
func (b *Broker) nextSeq(queue string) (int, error) {
	var entries []os.DirEntry
	err := reliability.Retry(context.Background(), seqRetry, func(ctx context.Context) error {
		var readErr error
		entries, readErr = os.ReadDir(b.root.QueuePath(queue))
		return readErr
	})
	if err != nil {
		return 0, err
	}

	max := -1
	for _, e := range entries {
		if e.IsDir() || !filename.IsDdmqFile(e.Name()) {
			continue
		}
		w, err := filename.ParseWaiting(e.Name())
		if err != nil {
			continue // malformed name: skip, do not fail the scan
		}
		if w.Seq > max {
			max = w.Seq
		}
	}
	return max + 1, nil
}

// PublishOptions carries the optional fields a caller may set on publish.
type PublishOptions struct {
	Priority     *int
	Timeout      *int
	Requeue      *ddmsg.Requeue
	RequeuePrio  *int
	RequeueLimit *int
	Create       bool
	Clean        bool
	CleanFunc    func(queue string, force bool) error
}

// Publish writes a new waiting message file into queue and returns the
// record that was written.
func (b *Broker) Publish(queue, payload string, opts PublishOptions) (*ddmsg.Message, error) {
	_, span := tracing.TracePublish(context.Background(), b.tracer, queue)
	defer span.End()

	if err := b.checkRoot(); err != nil {
		return nil, err
	}
	if err := b.resolveQueue(queue, opts.Create); err != nil {
		return nil, err
	}

	settings, err := b.configs.Effective(queue)
	if err != nil {
		return nil, newErr(IOFault, queue, "read effective settings", err)
	}

	if opts.Clean && opts.CleanFunc != nil {
		_ = opts.CleanFunc(queue, false)
	}

	priority := settings.Priority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if priority < 0 {
		return nil, newErr(InvalidPriority, queue, fmt.Sprintf("priority %d is negative", priority), nil)
	}

	req := ddmsg.Requeue{Enabled: settings.Requeue}
	if opts.RequeuePrio != nil {
		req = ddmsg.Requeue{Enabled: true, HasPrio: true, Priority: *opts.RequeuePrio}
	}
	if opts.Requeue != nil {
		req = *opts.Requeue
	}

	seq, err := b.nextSeq(queue)
	if err != nil {
		return nil, newErr(IOFault, queue, "allocate sequence number", err)
	}
	id := newMessageID()

	timeout := 0
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}

	var requeueLimit *int
	if opts.RequeueLimit != nil {
		requeueLimit = opts.RequeueLimit
	}

	msg := &ddmsg.Message{
		Message:      payload,
		Queue:        queue,
		Published:    b.clock(),
		Timeout:      timeout,
		ID:           id,
		Priority:     priority,
		Seq:          seq,
		Requeue:      req,
		RequeueLimit: requeueLimit,
	}
	msg.Filename = filename.FormatWaiting(priority, seq, id)

	body, err := ddmsg.Encode(msg)
	if err != nil {
		return nil, newErr(IOFault, queue, "encode message", err)
	}

	path := filepath.Join(b.root.QueuePath(queue), msg.Filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, newErr(IOFault, queue, "write message file", err)
	}

	return msg, nil
}

// ConsumeOptions carries the optional fields a caller may set on consume.
type ConsumeOptions struct {
	N         int
	Create    bool
	Clean     bool
	CleanFunc func(queue string, force bool) error
}

// Consume leases up to opts.N waiting messages from queue, returning the
// messages it successfully leased. A nil, non-error result means nothing
// was available.
func (b *Broker) Consume(queue string, opts ConsumeOptions) ([]*ddmsg.Message, error) {
	_, span := tracing.TraceConsume(context.Background(), b.tracer, queue, opts.N)
	defer span.End()

	if opts.N <= 0 {
		opts.N = 1
	}
	if err := b.checkRoot(); err != nil {
		return nil, err
	}
	if err := b.resolveQueue(queue, opts.Create); err != nil {
		return nil, err
	}

	settings, err := b.configs.Effective(queue)
	if err != nil {
		return nil, newErr(IOFault, queue, "read effective settings", err)
	}

	if opts.Clean && opts.CleanFunc != nil {
		_ = opts.CleanFunc(queue, false)
	}

	queueDir := b.root.QueuePath(queue)
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return nil, newErr(IOFault, queue, "list queue directory", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() || !filename.IsDdmqFile(e.Name()) {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	sort.Strings(candidates)

	workDir := b.root.WorkPath(queue)
	now := b.clock()

	var leased []*ddmsg.Message
	for _, name := range candidates {
		if len(leased) >= opts.N {
			break
		}

		srcPath := filepath.Join(queueDir, name)
		body, err := os.ReadFile(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // another consumer or the cleaner won the race
			}
			if b.logger != nil {
				b.logger.WithQueue(queue).Warn().Err(err).Str("file", name).Msg("consume: read failed, skipping")
			}
			continue
		}

		msg, err := ddmsg.Decode(body)
		if err != nil {
			if b.logger != nil {
				b.logger.WithQueue(queue).Warn().Err(err).Str("file", name).Msg("consume: malformed message body, skipping")
			}
			continue
		}

		timeout := settings.MessageTimeout
		if msg.Timeout != 0 {
			timeout = msg.Timeout
		}
		expiry := now.Add(time.Duration(timeout) * time.Second).Unix()
		leasedName := filename.FormatLeased(expiry, name)
		dstPath := filepath.Join(workDir, leasedName)

		var lostRace bool
		renameErr := reliability.Retry(context.Background(), seqRetry, func(ctx context.Context) error {
			err := os.Rename(srcPath, dstPath)
			if err == nil {
				return nil
			}
			if os.IsNotExist(err) {
				lostRace = true
				return nil // not transient, don't retry a lost race
			}
			return err
		})
		if lostRace {
			continue // lost the race to another consumer
		}
		if renameErr != nil {
			if b.logger != nil {
				b.logger.WithQueue(queue).Warn().Err(renameErr).Str("file", name).Msg("consume: rename failed, skipping")
			}
			continue
		}

		msg.Filename = leasedName
		leased = append(leased, msg)
	}

	return leased, nil
}

// leasedFile locates a leased message by its work/ filename and returns
// its parsed message record plus its disk path.
func (b *Broker) leasedFile(queue, leasedName string) (*ddmsg.Message, string, error) {
	path := filepath.Join(b.root.WorkPath(queue), leasedName)
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}
	msg, err := ddmsg.Decode(body)
	if err != nil {
		return nil, path, err
	}
	return msg, path, nil
}

// ackRequeuePolicy is ack's requeue decision: by default (no explicit
// override) ack just removes the file; requeue only happens when the
// caller explicitly asks for it.
func ackRequeuePolicy(explicit *bool) bool {
	return explicit != nil && *explicit
}

// nackRequeuePolicy is nack's requeue decision: by default it respects
// the message's own requeue field; an explicit override replaces that.
func nackRequeuePolicy(msg *ddmsg.Message, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return msg.Requeue.Enabled
}

// Requeue publishes a derived copy of an expiring/nacked message and
// returns it. It does not itself consult requeue_limit; callers (Clean,
// explicit nack) are responsible for that gate — see RequeueLimitReached.
func (b *Broker) Requeue(queue string, msg *ddmsg.Message) (*ddmsg.Message, error) {
	_, span := tracing.TraceRequeue(context.Background(), b.tracer, queue)
	defer span.End()

	settings, err := b.configs.Effective(queue)
	if err != nil {
		return nil, err
	}
	return b.requeue(queue, msg, &configSettingsView{RequeuePrio: settings.RequeuePrio})
}

// RequeueLimitReached reports whether msg has exhausted its requeue_limit
// and should be discarded rather than requeued.
func RequeueLimitReached(msg *ddmsg.Message) bool {
	return msg.RequeueLimit != nil && msg.RequeueCounter >= *msg.RequeueLimit
}

func (b *Broker) requeue(queue string, msg *ddmsg.Message, settings *configSettingsView) (*ddmsg.Message, error) {
	priority := settings.RequeuePrio
	if msg.Requeue.HasPrio {
		priority = msg.Requeue.Priority
	}

	seq, err := b.nextSeq(queue)
	if err != nil {
		return nil, err
	}
	id := newMessageID()

	next := &ddmsg.Message{
		Message:        msg.Message,
		Queue:          queue,
		Published:      b.clock(),
		Timeout:        msg.Timeout,
		ID:             id,
		Priority:       priority,
		Seq:            seq,
		Requeue:        msg.Requeue,
		RequeueCounter: msg.RequeueCounter + 1,
		RequeueLimit:   msg.RequeueLimit,
	}
	next.Filename = filename.FormatWaiting(priority, seq, id)

	body, err := ddmsg.Encode(next)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(b.root.QueuePath(queue), next.Filename)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, err
	}
	return next, nil
}

// configSettingsView is the subset of Settings the requeue operation needs.
type configSettingsView struct {
	RequeuePrio int
}

// AckNackResult reports which leased filenames were actually acted on.
type AckNackResult struct {
	Handled []string
	Missing []string
}

// Ack removes one or more leased files, optionally republishing a copy
// first when requeue is explicitly requested.
func (b *Broker) Ack(queue string, leasedNames []string, requeue *bool) (*AckNackResult, error) {
	_, span := tracing.TraceAckNack(context.Background(), b.tracer, queue, "ack", len(leasedNames))
	defer span.End()

	if err := b.checkRoot(); err != nil {
		return nil, err
	}
	settings, err := b.configs.Effective(queue)
	if err != nil {
		return nil, newErr(IOFault, queue, "read effective settings", err)
	}
	view := &configSettingsView{RequeuePrio: settings.RequeuePrio}

	result := &AckNackResult{}
	for _, name := range leasedNames {
		msg, path, err := b.leasedFile(queue, name)
		if err != nil {
			if os.IsNotExist(err) {
				result.Missing = append(result.Missing, name)
				continue
			}
			return nil, newErr(IOFault, queue, "read leased file "+name, err)
		}

		requeued := ackRequeuePolicy(requeue) && !RequeueLimitReached(msg)
		if requeued {
			if _, err := b.requeue(queue, msg, view); err != nil {
				return nil, newErr(IOFault, queue, "requeue on ack", err)
			}
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, newErr(IOFault, queue, "remove leased file "+name, err)
		}
		if !requeued {
			b.forwardToArchive(queue, msg, archive.OutcomeAcked)
		}
		result.Handled = append(result.Handled, name)
	}
	return result, nil
}

// Nack removes one or more leased files. Its default policy (requeue ==
// nil) is to respect each message's own requeue field; an explicit true
// or false overrides that per-message policy for every filename given.
func (b *Broker) Nack(queue string, leasedNames []string, requeue *bool) (*AckNackResult, error) {
	_, span := tracing.TraceAckNack(context.Background(), b.tracer, queue, "nack", len(leasedNames))
	defer span.End()

	if err := b.checkRoot(); err != nil {
		return nil, err
	}
	settings, err := b.configs.Effective(queue)
	if err != nil {
		return nil, newErr(IOFault, queue, "read effective settings", err)
	}
	view := &configSettingsView{RequeuePrio: settings.RequeuePrio}

	result := &AckNackResult{}
	for _, name := range leasedNames {
		msg, path, err := b.leasedFile(queue, name)
		if err != nil {
			if os.IsNotExist(err) {
				result.Missing = append(result.Missing, name)
				continue
			}
			return nil, newErr(IOFault, queue, "read leased file "+name, err)
		}

		if nackRequeuePolicy(msg, requeue) && !RequeueLimitReached(msg) {
			if _, err := b.requeue(queue, msg, view); err != nil {
				return nil, newErr(IOFault, queue, "requeue on nack", err)
			}
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, newErr(IOFault, queue, "remove leased file "+name, err)
		}
		result.Handled = append(result.Handled, name)
	}
	return result, nil
}

// Purge removes every message file (waiting and leased) from a queue,
// leaving its config and directory structure intact.
func (b *Broker) Purge(queue string) (removedWaiting, removedLeased int, err error) {
	if err := b.checkRoot(); err != nil {
		return 0, 0, err
	}

	onRemove := func(body []byte) {
		if b.archive == nil {
			return
		}
		if msg, err := ddmsg.Decode(body); err == nil {
			b.forwardToArchive(queue, msg, archive.OutcomePurged)
		}
	}

	removedWaiting, err = removeDdmqFiles(b.root.QueuePath(queue), onRemove)
	if err != nil {
		return 0, 0, newErr(IOFault, queue, "purge waiting messages", err)
	}
	removedLeased, err = removeDdmqFiles(b.root.WorkPath(queue), onRemove)
	if err != nil {
		return removedWaiting, 0, newErr(IOFault, queue, "purge leased messages", err)
	}
	return removedWaiting, removedLeased, nil
}

// DeleteMessage removes a single message file, identified by its filename,
// from either queue's waiting directory or its work/ directory, whichever
// has it. It forwards the removed message to the archive router as purged,
// same as Purge.
func (b *Broker) DeleteMessage(queue, name string) error {
	if err := b.checkRoot(); err != nil {
		return err
	}
	name = NormalizeLeasedName(name)
	if !filename.IsDdmqFile(name) {
		return newErr(MalformedName, queue, fmt.Sprintf("%q is not a ddmq filename", name), nil)
	}

	for _, dir := range []string{b.root.QueuePath(queue), b.root.WorkPath(queue)} {
		path := filepath.Join(dir, name)
		body, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return newErr(IOFault, queue, "read message file", err)
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return newErr(IOFault, queue, "remove message file", err)
		}
		if msg, err := ddmsg.Decode(body); err == nil {
			b.forwardToArchive(queue, msg, archive.OutcomePurged)
		}
		return nil
	}
	return newErr(IOFault, queue, fmt.Sprintf("message %q not found", name), nil)
}

func removeDdmqFiles(dir string, onRemove func(body []byte)) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !filename.IsDdmqFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if onRemove != nil {
			if body, readErr := os.ReadFile(path); readErr == nil {
				onRemove(body)
			}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return count, err
		}
		count++
	}
	return count, nil
}

// NormalizeLeasedName accepts either a bare filename or a path and
// returns just the basename, matching the CLI's tolerance for either form.
func NormalizeLeasedName(s string) string {
	return filepath.Base(strings.TrimSpace(s))
}
