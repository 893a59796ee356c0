// Package kafka bridges the sarama consumer-group runtime to the sink
// task: delivered batches drive put, rebalances drive open and close, and
// committed offsets flow back through offset marks and resets.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"

	sinkerrors "github.com/jittakal/kafs3sink/internal/errors"
	"github.com/jittakal/kafs3sink/internal/task"
	"github.com/jittakal/kafs3sink/pkg/sink"
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AutoOffsetReset     string
	MaxPollRecords      int
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
}

// MetricsCollector defines metrics operations for the Kafka bridge.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	IncPutRetries(topic string)
	SetPartitionsAssigned(topic string, count float64)
}

// Bridge runs a sarama consumer group and feeds the sink task. It also
// implements the task's runtime context: offset seeks translate to
// ResetOffset and committed offsets to MarkOffset.
type Bridge struct {
	group   sarama.ConsumerGroup
	task    *task.Task
	config  ConsumerConfig
	logger  *slog.Logger
	metrics MetricsCollector

	mu      sync.RWMutex
	session sarama.ConsumerGroupSession
	closed  bool
}

// Ensure the bridge satisfies the runtime contract at compile time.
var _ task.RuntimeContext = (*Bridge)(nil)

// NewBridge creates a consumer-group bridge for the given task.
func NewBridge(
	config ConsumerConfig,
	sinkTask *task.Task,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*Bridge, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = false
	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond

	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}
	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka bridge created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
	)

	return &Bridge{
		group:   group,
		task:    sinkTask,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Run consumes until the context is cancelled or a fatal error occurs.
func (b *Bridge) Run(ctx context.Context) error {
	topics := b.task.Topics()
	for {
		if err := b.group.Consume(ctx, topics, b); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consumer group error: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Seek rewinds delivery for the partition to the given offset.
func (b *Bridge) Seek(tp sink.TopicPartition, offset int64) {
	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()
	if session == nil {
		return
	}
	session.ResetOffset(tp.Topic, tp.Partition, offset, "")
	b.logger.Info("seeked partition",
		"topic", tp.Topic,
		"partition", tp.Partition,
		"offset", offset,
	)
}

// OffsetCommitted marks everything below nextOffset as durable.
func (b *Bridge) OffsetCommitted(tp sink.TopicPartition, nextOffset int64) {
	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()
	if session == nil {
		return
	}
	session.MarkOffset(tp.Topic, tp.Partition, nextOffset, "")
	if b.metrics != nil {
		b.metrics.IncOffsetCommits(tp.Topic, tp.Partition, "success")
	}
}

// Close shuts the consumer group down.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.group.Close()
}

// Setup runs at the beginning of a session: the task opens the assigned
// partitions and recovered offsets translate into resets before any
// record is delivered.
func (b *Bridge) Setup(session sarama.ConsumerGroupSession) error {
	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	b.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	var tps []sink.TopicPartition
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			tps = append(tps, sink.TopicPartition{Topic: topic, Partition: p})
		}
		if b.metrics != nil {
			b.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}
	if b.metrics != nil {
		b.metrics.IncRebalances(b.config.GroupID)
	}

	return b.task.Open(session.Context(), tps)
}

// Cleanup runs at the end of a session: open files for the revoked
// partitions are committed so their offsets survive the rebalance.
func (b *Bridge) Cleanup(session sarama.ConsumerGroupSession) error {
	var tps []sink.TopicPartition
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			tps = append(tps, sink.TopicPartition{Topic: topic, Partition: p})
		}
	}

	if err := b.task.Close(session.Context(), tps); err != nil {
		b.logger.Error("failed to close partitions", "error", err)
	}

	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()
	return nil
}

// ConsumeClaim delivers records for one partition, batching up to
// MaxPollRecords per put. A retriable put failure pauses the claim for
// the task's retry interval and replays the same batch; the sink
// deduplicates by offset.
func (b *Bridge) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batchSize := b.config.MaxPollRecords
	if batchSize <= 0 {
		batchSize = 500
	}

	batch := make([]sink.Record, 0, batchSize)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() error {
		err := b.put(session.Context(), batch)
		if err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return flush()
			}
			batch = append(batch, DecodeMessage(message))
			if b.metrics != nil {
				b.metrics.IncMessagesConsumed(message.Topic, message.Partition)
			}
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			// Deliver what we have; an empty put still drives
			// time-based commits.
			if err := flush(); err != nil {
				return err
			}

		case <-session.Context().Done():
			return flush()
		}
	}
}

// put drives the task, retrying retriable failures with the configured
// backoff. The claim stays paused while retrying.
func (b *Bridge) put(ctx context.Context, batch []sink.Record) error {
	for {
		err := b.task.Put(ctx, batch)
		if err == nil {
			return nil
		}

		var retriable *sinkerrors.RetriableError
		if !errors.As(err, &retriable) {
			return err
		}

		if b.metrics != nil && len(batch) > 0 {
			b.metrics.IncPutRetries(batch[0].Topic)
		}
		select {
		case <-time.After(b.task.RetryInterval()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS
// MSK IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset
// constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	case "latest":
		return sarama.OffsetNewest
	default:
		return sarama.OffsetNewest
	}
}

func configureSecurity(config *sarama.Config, kafkaConfig ConsumerConfig) error {
	switch kafkaConfig.SecurityProtocol {
	case "", "PLAINTEXT":
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		config.Net.SASL.Enable = true

		switch kafkaConfig.SASLMechanism {
		case "PLAIN":
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
			config.Net.SASL.User = kafkaConfig.SASLUsername
			config.Net.SASL.Password = kafkaConfig.SASLPassword

		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.User = kafkaConfig.SASLUsername
			config.Net.SASL.Password = kafkaConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256()}
			}

		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.User = kafkaConfig.SASLUsername
			config.Net.SASL.Password = kafkaConfig.SASLPassword
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512()}
			}

		case "AWS_MSK_IAM":
			config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			config.Net.SASL.Enable = true
			config.Net.SASL.User = "token"
			config.Net.SASL.Password = "token"
			config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{
				region: "us-east-1",
			}

		default:
			return fmt.Errorf("unsupported SASL mechanism: %s", kafkaConfig.SASLMechanism)
		}

		if kafkaConfig.SecurityProtocol == "SASL_SSL" {
			config.Net.TLS.Enable = true
			config.Net.TLS.Config = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

	case "SSL":
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

	default:
		return fmt.Errorf("unsupported security protocol: %s", kafkaConfig.SecurityProtocol)
	}

	return nil
}
