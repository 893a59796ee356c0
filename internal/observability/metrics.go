package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec
	PutRetries         *prometheus.CounterVec

	// Writer metrics
	RecordsWritten *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec
	FilesCommitted *prometheus.CounterVec
	FileSize       *prometheus.HistogramVec
	CommitDuration *prometheus.HistogramVec
	StoreErrors    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		PutRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_put_retries_total",
				Help: "Total number of retried put attempts after transient store failures",
			},
			[]string{"topic"},
		),

		// Writer metrics
		RecordsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_records_written_total",
				Help: "Total number of records appended to open files",
			},
			[]string{"topic", "partition"},
		),
		RecordsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_records_skipped_total",
				Help: "Total number of records discarded as already committed",
			},
			[]string{"topic", "partition"},
		),
		FilesCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_files_committed_total",
				Help: "Total number of files committed to the object store",
			},
			[]string{"topic", "partition", "format"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_file_size_bytes",
				Help:    "Size of files committed to the object store",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"topic", "partition", "format"},
		),
		CommitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_commit_duration_seconds",
				Help:    "Duration of file commit operations including upload",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "partition"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_store_errors_total",
				Help: "Total number of object store errors",
			},
			[]string{"operation"},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncPutRetries increments the put retry counter.
func (m *Metrics) IncPutRetries(topic string) {
	m.PutRetries.WithLabelValues(topic).Inc()
}

// IncRecordsWritten increments the records written counter.
func (m *Metrics) IncRecordsWritten(topic string, partition int32) {
	m.RecordsWritten.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncRecordsSkipped increments the records skipped counter.
func (m *Metrics) IncRecordsSkipped(topic string, partition int32) {
	m.RecordsSkipped.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncFilesCommitted increments the files committed counter.
func (m *Metrics) IncFilesCommitted(topic string, partition int32, format string) {
	m.FilesCommitted.WithLabelValues(topic, fmt.Sprintf("%d", partition), format).Inc()
}

// ObserveFileSize observes committed file size.
func (m *Metrics) ObserveFileSize(topic string, partition int32, format string, size float64) {
	m.FileSize.WithLabelValues(topic, fmt.Sprintf("%d", partition), format).Observe(size)
}

// ObserveCommitDuration observes commit duration.
func (m *Metrics) ObserveCommitDuration(topic string, partition int32, duration float64) {
	m.CommitDuration.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Observe(duration)
}

// IncStoreErrors increments the store errors counter.
func (m *Metrics) IncStoreErrors(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}
