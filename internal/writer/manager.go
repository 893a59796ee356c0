package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/kafs3sink/internal/commit"
	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/partition"
	"github.com/jittakal/kafs3sink/internal/staging"
	pkgformat "github.com/jittakal/kafs3sink/pkg/format"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// MetricsCollector defines metrics operations for the writer manager.
type MetricsCollector interface {
	IncRecordsWritten(topic string, partition int32)
	IncRecordsSkipped(topic string, partition int32)
	IncFilesCommitted(topic string, partition int32, format string)
	ObserveFileSize(topic string, partition int32, format string, size float64)
	ObserveCommitDuration(topic string, partition int32, duration float64)
	IncStoreErrors(operation string)
}

// TopicRule is the per-topic wiring derived from one KCQL statement.
type TopicRule struct {
	Topic   string
	Builder *partition.Builder
	Naming  partition.Strategy
	Opener  pkgformat.Opener
	Policy  *commit.Policy
}

// CommitListener observes successful commits. nextOffset is the offset
// the upstream runtime should resume from for the partition.
type CommitListener func(tp sink.TopicPartition, nextOffset int64)

// Manager fans incoming records out to per-logical-partition writers,
// enforces schema-change rolls, drives the commit policy and tracks
// committed offsets per kafka partition.
type Manager struct {
	rules    map[string]TopicRule
	stager   staging.Factory
	listener CommitListener
	logger   *slog.Logger
	metrics  MetricsCollector
	clock    func() time.Time

	mu            sync.Mutex
	writers       map[writerKey]*Writer
	lastCommitted map[sink.TopicPartition]int64
}

type writerKey struct {
	tp      sink.TopicPartition
	logical string
}

// NewManager creates a writer manager for the given topic rules.
func NewManager(
	rules []TopicRule,
	stager staging.Factory,
	listener CommitListener,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Manager {
	byTopic := make(map[string]TopicRule, len(rules))
	for _, r := range rules {
		byTopic[r.Topic] = r
	}
	return &Manager{
		rules:         byTopic,
		stager:        stager,
		listener:      listener,
		logger:        logger,
		metrics:       metrics,
		clock:         time.Now,
		writers:       make(map[writerKey]*Writer),
		lastCommitted: make(map[sink.TopicPartition]int64),
	}
}

// SetCommittedOffset seeds the dedup boundary for a partition, normally
// from the offset seeker after open.
func (m *Manager) SetCommittedOffset(tp sink.TopicPartition, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCommitted[tp] = offset
}

// Put processes one delivered batch. Records are dispatched in delivery
// order, but flush decisions (append-triggered and time-triggered alike)
// are deferred to a single pass at the end of the batch, where due files
// commit smallest last offset first per kafka partition. An empty batch
// still runs the pass so wall-clock rolls fire.
func (m *Manager) Put(ctx context.Context, records []sink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	// Finish any upload a previous put left behind before accepting more
	// records for the same files.
	if err := m.retryPending(ctx); err != nil {
		return err
	}

	for i := range records {
		if err := m.dispatch(ctx, &records[i], now); err != nil {
			return err
		}
	}

	return m.flushDue(ctx, now)
}

func (m *Manager) dispatch(ctx context.Context, r *sink.Record, now time.Time) error {
	rule, ok := m.rules[r.Topic]
	if !ok {
		return fmt.Errorf("%w: no KCQL statement for topic %q", sinkerrors.ErrConfig, r.Topic)
	}

	tp := r.TopicPartition()
	if committed, ok := m.lastCommitted[tp]; ok && r.Offset <= committed {
		m.logger.Debug("discarding already committed record",
			"topic", r.Topic,
			"partition", r.Partition,
			"offset", r.Offset,
		)
		if m.metrics != nil {
			m.metrics.IncRecordsSkipped(r.Topic, r.Partition)
		}
		return nil
	}

	key, err := rule.Builder.BuildKey(r)
	if err != nil {
		return err
	}

	wk := writerKey{tp: tp, logical: key.ID()}
	w, exists := m.writers[wk]
	if !exists {
		w = NewWriter(tp, key, rule.Naming, rule.Opener, m.stager, rule.Policy, m.logger)
		m.writers[wk] = w
	}

	// A full file (commit policy already hit) or a schema change forces
	// the current file out before this record opens a new one. These
	// rolls cannot wait for the end-of-batch pass, so any other due file
	// of the same kafka partition with a smaller last offset commits
	// first to keep object names monotonic.
	if w.Open() && (w.Due() || w.Fingerprint() != sink.FingerprintOf(r.Value)) {
		if err := m.rollBeforeAppend(ctx, wk, w, now); err != nil {
			return err
		}
	}

	if err := w.Append(ctx, r, now); err != nil {
		if sinkerrors.IsStageCorruption(err) {
			m.dropCorrupted(ctx, wk, w, err)
			return nil
		}
		return err
	}
	if m.metrics != nil {
		m.metrics.IncRecordsWritten(r.Topic, r.Partition)
	}

	if w.ShouldFlush(now) {
		w.MarkDue()
	}
	return nil
}

// rollBeforeAppend commits the writer mid-batch, preceded by every due
// open file of the same kafka partition whose last offset is smaller.
func (m *Manager) rollBeforeAppend(ctx context.Context, wk writerKey, w *Writer, now time.Time) error {
	var first []writerKey
	for k, other := range m.writers {
		if k == wk || k.tp != wk.tp || !other.Open() {
			continue
		}
		if other.LastOffset() < w.LastOffset() && (other.Due() || other.ShouldFlush(now)) {
			first = append(first, k)
		}
	}
	if err := m.flushInOrder(ctx, first); err != nil {
		return err
	}
	return m.flushWriter(ctx, wk, w)
}

// flushDue runs the end-of-batch commit pass: every file flagged during
// dispatch plus every file whose time threshold has passed, smallest last
// offset first within each kafka partition so committed object names stay
// strictly increasing.
func (m *Manager) flushDue(ctx context.Context, now time.Time) error {
	var due []writerKey
	for wk, w := range m.writers {
		if w.Due() || w.ShouldFlush(now) {
			due = append(due, wk)
		}
	}
	return m.flushInOrder(ctx, due)
}

// flushInOrder commits the given writers, sorted per kafka partition by
// ascending last offset.
func (m *Manager) flushInOrder(ctx context.Context, due []writerKey) error {
	sort.Slice(due, func(i, j int) bool {
		if due[i].tp != due[j].tp {
			return due[i].tp.String() < due[j].tp.String()
		}
		return m.writers[due[i]].LastOffset() < m.writers[due[j]].LastOffset()
	})

	for _, wk := range due {
		if err := m.flushWriter(ctx, wk, m.writers[wk]); err != nil {
			return err
		}
	}
	return nil
}

// retryPending retries uploads that were finalized but not committed by a
// previous put.
func (m *Manager) retryPending(ctx context.Context) error {
	var pending []writerKey
	for wk, w := range m.writers {
		if w.PendingCommit() {
			pending = append(pending, wk)
		}
	}
	return m.flushInOrder(ctx, pending)
}

func (m *Manager) flushWriter(ctx context.Context, wk writerKey, w *Writer) error {
	start := m.clock()
	size := w.sizeEstimate()

	committed, _, err := w.Flush(ctx)
	if err != nil {
		if errors.Is(err, sinkerrors.ErrWriterClosed) {
			delete(m.writers, wk)
			return nil
		}
		if sinkerrors.IsStageCorruption(err) {
			m.dropCorrupted(ctx, wk, w, err)
			return nil
		}
		if m.metrics != nil {
			m.metrics.IncStoreErrors("commit")
		}
		return err
	}

	delete(m.writers, wk)
	m.lastCommitted[wk.tp] = committed
	if m.listener != nil {
		m.listener(wk.tp, committed+1)
	}
	if m.metrics != nil {
		f := string(m.rules[wk.tp.Topic].Opener.Format())
		m.metrics.IncFilesCommitted(wk.tp.Topic, wk.tp.Partition, f)
		m.metrics.ObserveFileSize(wk.tp.Topic, wk.tp.Partition, f, float64(size))
		m.metrics.ObserveCommitDuration(wk.tp.Topic, wk.tp.Partition,
			m.clock().Sub(start).Seconds())
	}
	return nil
}

// dropCorrupted discards a writer whose local stage vanished. Buffered
// records are lost; the runtime redelivers from the last committed
// offset.
func (m *Manager) dropCorrupted(ctx context.Context, wk writerKey, w *Writer, err error) {
	m.logger.Error("local stage corrupted, dropping open file",
		"topic", wk.tp.Topic,
		"partition", wk.tp.Partition,
		"logical_partition", wk.logical,
		"error", err,
	)
	if m.metrics != nil {
		m.metrics.IncStoreErrors("stage_corruption")
	}
	w.Discard(ctx)
	delete(m.writers, wk)
}

// Close commits all open files belonging to the given partitions
// regardless of commit policy. Used when partitions are revoked.
func (m *Manager) Close(ctx context.Context, tps []sink.TopicPartition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	closing := make(map[sink.TopicPartition]bool, len(tps))
	for _, tp := range tps {
		closing[tp] = true
	}

	var due []writerKey
	for wk := range m.writers {
		if closing[wk.tp] {
			due = append(due, wk)
		}
	}
	return m.flushInOrder(ctx, due)
}

// Stop discards every open file without committing. Used on task stop,
// where in-progress uploads must abort without publishing partial
// objects.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for wk, w := range m.writers {
		w.Discard(ctx)
		delete(m.writers, wk)
	}
}

// OpenFileCount reports the number of files currently open.
func (m *Manager) OpenFileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writers)
}
