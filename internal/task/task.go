// Package task implements the sink task lifecycle: start, open, put,
// close, stop. It bridges the upstream runtime's record delivery and
// rebalance protocol to the writer manager and the offset seeker.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jittakal/kafs3sink/internal/config"
	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	formatimpl "github.com/jittakal/kafs3sink/internal/format"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/internal/seek"
	"github.com/jittakal/kafs3sink/internal/staging"
	storageimpl "github.com/jittakal/kafs3sink/internal/storage"
	"github.com/jittakal/kafs3sink/internal/writer"
	"github.com/jittakal/kafs3sink/pkg/sink"
	"github.com/jittakal/kafs3sink/pkg/storage"
)

// RuntimeContext is the slice of the upstream runtime the task talks
// back to: seeking redelivery positions and reporting committed offsets.
type RuntimeContext interface {
	// Seek requests redelivery for the partition starting at offset.
	Seek(tp sink.TopicPartition, offset int64)

	// OffsetCommitted reports that everything below nextOffset is
	// durable and may be committed upstream.
	OffsetCommitted(tp sink.TopicPartition, nextOffset int64)
}

// DLQPublisher publishes records that failed terminally. Only consulted
// under the NOOP error policy.
type DLQPublisher interface {
	Publish(ctx context.Context, r *sink.Record, reason string) error
}

// Option configures a Task.
type Option func(*Task)

// WithStoreClient overrides the object store client, bypassing S3 client
// construction. Used by alternate backends and tests.
func WithStoreClient(client storage.Client) Option {
	return func(t *Task) {
		t.client = client
	}
}

// WithDLQ attaches a dead letter publisher.
func WithDLQ(dlq DLQPublisher) Option {
	return func(t *Task) {
		t.dlq = dlq
	}
}

// Task is one sink task instance. The runtime serializes all calls.
type Task struct {
	logger  *slog.Logger
	metrics writer.MetricsCollector

	cfg     *config.SinkConfig
	client  storage.Client
	manager *writer.Manager
	seeker  *seek.Seeker
	rt      RuntimeContext
	dlq     DLQPublisher
	started bool
}

// NewTask creates an unstarted task.
func NewTask(logger *slog.Logger, metrics writer.MetricsCollector, opts ...Option) *Task {
	t := &Task{logger: logger, metrics: metrics}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start parses and validates the connector properties and builds the
// pipeline. The runtime context may be nil in tooling contexts; seeks are
// then skipped.
func (t *Task) Start(ctx context.Context, props map[string]string, rt RuntimeContext) error {
	cfg, err := config.ParseSink(props, t.logger)
	if err != nil {
		return err
	}
	t.cfg = cfg
	t.rt = rt

	if t.client == nil {
		client, err := storageimpl.NewS3Client(ctx, cfg.S3, t.logger)
		if err != nil {
			return err
		}
		t.client = client
	}

	var stager staging.Factory
	switch cfg.WriteMode {
	case staging.ModeBuildLocal:
		stager, err = staging.NewLocalFactory(cfg.TmpDirectory, t.client, t.logger)
		if err != nil {
			return err
		}
	default:
		stager = staging.NewStreamedFactory(t.client)
	}

	rules := make([]writer.TopicRule, 0, len(cfg.Statements))
	topics := make(map[string]seek.TopicNaming, len(cfg.Statements))
	for i := range cfg.Statements {
		stmt := &cfg.Statements[i]

		opener, err := formatimpl.NewOpener(stmt.Format, formatimpl.DefaultCompression(stmt.Format))
		if err != nil {
			return fmt.Errorf("%w: %v", sinkerrors.ErrConfig, err)
		}
		policy, err := stmt.CommitPolicy()
		if err != nil {
			return fmt.Errorf("%w: %v", sinkerrors.ErrConfig, err)
		}

		naming := stmt.Naming()
		rules = append(rules, writer.TopicRule{
			Topic:   stmt.Topic,
			Builder: partition.NewBuilder(stmt.PartitionFields),
			Naming:  naming,
			Opener:  opener,
			Policy:  policy,
		})
		topics[stmt.Topic] = seek.TopicNaming{Naming: naming, Format: stmt.Format}
	}

	t.manager = writer.NewManager(rules, stager, t.onCommit, t.logger, t.metrics)
	t.seeker = seek.NewSeeker(t.client, topics, t.logger)
	t.started = true

	t.logger.Info("sink task started",
		"statements", len(cfg.Statements),
		"write_mode", cfg.WriteMode,
		"error_policy", cfg.ErrorPolicy,
	)
	return nil
}

func (t *Task) onCommit(tp sink.TopicPartition, nextOffset int64) {
	if t.rt != nil {
		t.rt.OffsetCommitted(tp, nextOffset)
	}
}

// Open recovers committed offsets for newly assigned partitions and
// rewinds the runtime to the position after the last committed record.
// Repeating Open for the same partitions re-seeks to the same position.
func (t *Task) Open(ctx context.Context, tps []sink.TopicPartition) error {
	if !t.started {
		return sinkerrors.ErrTaskStopped
	}

	committed, err := t.seeker.Seek(ctx, tps)
	if err != nil {
		return err
	}

	for tp, offset := range committed {
		t.manager.SetCommittedOffset(tp, offset)
		if t.rt != nil {
			t.rt.Seek(tp, offset+1)
		}
	}
	return nil
}

// Put processes one delivered batch. Failures surface according to the
// configured error policy: THROW fails the task, RETRY preserves open
// file state and reports a retriable error, NOOP sends terminally failed
// records to the DLQ (when configured) and drops the batch.
func (t *Task) Put(ctx context.Context, records []sink.Record) error {
	if !t.started {
		return sinkerrors.ErrTaskStopped
	}

	err := t.manager.Put(ctx, records)
	if err == nil {
		return nil
	}

	switch t.cfg.ErrorPolicy {
	case config.PolicyRetry:
		if sinkerrors.IsRetryable(err) {
			t.logger.Warn("transient failure, signalling retry",
				"retry_interval", t.cfg.RetryInterval,
				"error", err,
			)
			return &sinkerrors.RetriableError{Err: err}
		}
		return err

	case config.PolicyNoop:
		if isRecordError(err) {
			t.publishToDLQ(ctx, records, err)
			t.logger.Warn("dropping batch after record error", "error", err)
			return nil
		}
		t.logger.Error("ignoring store failure under NOOP policy", "error", err)
		return nil

	default:
		return err
	}
}

// isRecordError reports whether the failure is caused by record content
// rather than the store.
func isRecordError(err error) bool {
	return errors.Is(err, sinkerrors.ErrRecordType) ||
		errors.Is(err, sinkerrors.ErrHeaderNotFound) ||
		errors.Is(err, sinkerrors.ErrNonPrimitiveKey)
}

func (t *Task) publishToDLQ(ctx context.Context, records []sink.Record, cause error) {
	if t.dlq == nil {
		return
	}
	for i := range records {
		if err := t.dlq.Publish(ctx, &records[i], cause.Error()); err != nil {
			t.logger.Error("failed to publish record to DLQ",
				"topic", records[i].Topic,
				"offset", records[i].Offset,
				"error", err,
			)
		}
	}
}

// Close commits all open files for the closing partitions regardless of
// commit policy. Called when partitions are revoked.
func (t *Task) Close(ctx context.Context, tps []sink.TopicPartition) error {
	if !t.started {
		return nil
	}
	return t.manager.Close(ctx, tps)
}

// Stop aborts in-progress uploads and releases all local resources. Safe
// to call even when Start never succeeded.
func (t *Task) Stop(ctx context.Context) {
	if t.manager != nil {
		t.manager.Stop(ctx)
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.logger.Warn("failed to close store client", "error", err)
		}
	}
	t.started = false
	t.logger.Info("sink task stopped")
}

// RetryInterval returns the configured backoff between retriable put
// attempts.
func (t *Task) RetryInterval() time.Duration {
	if t.cfg == nil {
		return 0
	}
	return t.cfg.RetryInterval
}

// Topics returns the source topics named by the KCQL statements.
func (t *Task) Topics() []string {
	if t.cfg == nil {
		return nil
	}
	out := make([]string, 0, len(t.cfg.Statements))
	for i := range t.cfg.Statements {
		out = append(out, t.cfg.Statements[i].Topic)
	}
	return out
}
