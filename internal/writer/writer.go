// Package writer implements the per-partition file writer and the fan-out
// manager that drives it.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jittakal/kafs3sink/internal/commit"
	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/internal/staging"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// Writer owns at most one open file for a single
// (topic, kafka partition, logical partition) combination.
//
// Lifecycle: the first appended record opens the file (staging handle plus
// format writer); appends accumulate until the commit policy or a schema
// change triggers a flush; a successful flush publishes the object named
// by the last appended offset and returns the writer to idle.
type Writer struct {
	tp     sink.TopicPartition
	key    partition.Key
	naming partition.Strategy
	opener pkgformat.Opener
	stager staging.Factory
	policy *commit.Policy
	logger *slog.Logger

	file *openFile
	due  bool
}

// openFile is the state of one file between open and commit.
type openFile struct {
	stage       staging.Stage
	writer      pkgformat.Writer
	fingerprint string
	recordCount int
	firstOffset int64
	lastOffset  int64
	openedAt    time.Time
	// finalized is set once the format writer has been closed by a flush
	// whose upload failed; the retried flush must not close it again.
	finalized bool
}

// NewWriter creates an idle writer.
func NewWriter(
	tp sink.TopicPartition,
	key partition.Key,
	naming partition.Strategy,
	opener pkgformat.Opener,
	stager staging.Factory,
	policy *commit.Policy,
	logger *slog.Logger,
) *Writer {
	return &Writer{
		tp:     tp,
		key:    key,
		naming: naming,
		opener: opener,
		stager: stager,
		policy: policy,
		logger: logger,
	}
}

// Open reports whether a file is currently open.
func (w *Writer) Open() bool {
	return w.file != nil
}

// Fingerprint returns the open file's schema fingerprint, or empty.
func (w *Writer) Fingerprint() string {
	if w.file == nil {
		return ""
	}
	return w.file.fingerprint
}

// LastOffset returns the open file's last appended offset. Only valid
// while open.
func (w *Writer) LastOffset() int64 {
	if w.file == nil {
		return -1
	}
	return w.file.lastOffset
}

// PendingCommit reports whether a prior flush finalized the file but
// failed to upload it.
func (w *Writer) PendingCommit() bool {
	return w.file != nil && w.file.finalized
}

// Append adds one record to the open file, opening a new file if needed.
// Records at or below the file's last offset are duplicates from a
// redelivery and are skipped.
func (w *Writer) Append(ctx context.Context, r *sink.Record, now time.Time) error {
	if w.file != nil && r.Offset <= w.file.lastOffset {
		w.logger.Debug("skipping record already staged",
			"topic", r.Topic,
			"partition", r.Partition,
			"offset", r.Offset,
		)
		return nil
	}
	if w.file != nil && w.file.finalized {
		return fmt.Errorf("append to finalized file %s at offset %d", w.tp, r.Offset)
	}

	if w.file == nil {
		if err := w.open(ctx, r, now); err != nil {
			return err
		}
	}

	if err := w.file.writer.Write(r.Value); err != nil {
		return err
	}
	w.file.recordCount++
	w.file.lastOffset = r.Offset
	return nil
}

func (w *Writer) open(ctx context.Context, r *sink.Record, now time.Time) error {
	stagingKey := w.naming.StagingKey(w.tp, r.Offset, w.opener.Format())
	stage, err := w.stager.New(ctx, stagingKey)
	if err != nil {
		return err
	}

	fw, err := w.opener.Open(stage, schemaOf(r.Value))
	if err != nil {
		stage.Discard(ctx)
		return err
	}

	w.file = &openFile{
		stage:       stage,
		writer:      fw,
		fingerprint: sink.FingerprintOf(r.Value),
		firstOffset: r.Offset,
		lastOffset:  r.Offset - 1,
		openedAt:    now,
	}

	w.logger.Debug("opened file",
		"topic", w.tp.Topic,
		"partition", w.tp.Partition,
		"logical_partition", w.key.ID(),
		"first_offset", r.Offset,
		"format", w.opener.Format(),
	)
	return nil
}

// ShouldFlush evaluates the commit policy against the open file.
func (w *Writer) ShouldFlush(now time.Time) bool {
	if w.file == nil {
		return false
	}
	return w.policy.ShouldFlush(commit.FileState{
		RecordCount: w.file.recordCount,
		SizeBytes:   w.sizeEstimate(),
		OpenedAt:    w.file.openedAt,
	}, now)
}

// MarkDue flags the writer for commit at the end of the current put.
// Flush decisions are deferred so that all commits of one batch can be
// ordered by last offset per kafka partition.
func (w *Writer) MarkDue() {
	w.due = true
}

// Due reports whether the writer was flagged for commit.
func (w *Writer) Due() bool {
	return w.due
}

// sizeEstimate prefers the format writer's monotonic count; formats that
// buffer internally fall back to the stage's accepted byte count.
func (w *Writer) sizeEstimate() int64 {
	if w.file == nil {
		return 0
	}
	if n := w.file.writer.CurrentSize(); n > w.file.stage.Size() {
		return n
	}
	return w.file.stage.Size()
}

// Flush commits the open file: the format writer is finalized, the stage
// publishes at the offset-named key and the writer returns to idle. On
// success the committed last offset and object key are returned.
//
// A transient store failure leaves the finalized file in place so the
// next attempt can retry the upload without losing records.
func (w *Writer) Flush(ctx context.Context) (int64, string, error) {
	if w.file == nil {
		return -1, "", sinkerrors.ErrWriterClosed
	}
	if w.file.recordCount == 0 {
		// Nothing staged; drop the empty handle.
		w.file.stage.Discard(ctx)
		w.file = nil
		return -1, "", sinkerrors.ErrWriterClosed
	}

	if !w.file.finalized {
		if err := w.file.writer.Close(); err != nil {
			return -1, "", err
		}
		w.file.finalized = true
	}

	objectKey := w.naming.ObjectKey(w.key, w.tp, w.file.lastOffset, w.opener.Format())
	if err := w.file.stage.Commit(ctx, objectKey); err != nil {
		return -1, "", &sinkerrors.CommitError{
			TopicPartition: w.tp,
			LastOffset:     w.file.lastOffset,
			Err:            err,
		}
	}

	committed := w.file.lastOffset
	w.logger.Info("committed file",
		"topic", w.tp.Topic,
		"partition", w.tp.Partition,
		"logical_partition", w.key.ID(),
		"key", objectKey,
		"first_offset", w.file.firstOffset,
		"last_offset", committed,
		"record_count", w.file.recordCount,
	)
	w.file = nil
	w.due = false
	return committed, objectKey, nil
}

// Discard drops the open file without publishing anything.
func (w *Writer) Discard(ctx context.Context) {
	if w.file == nil {
		return
	}
	if err := w.file.stage.Discard(ctx); err != nil {
		w.logger.Warn("failed to discard stage",
			"topic", w.tp.Topic,
			"partition", w.tp.Partition,
			"error", err,
		)
	}
	w.file = nil
	w.due = false
}

func schemaOf(v sink.Value) *sink.Schema {
	if v == nil {
		return nil
	}
	return v.ValueSchema()
}
