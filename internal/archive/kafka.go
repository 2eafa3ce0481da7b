package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig configures a Kafka archive sink.
type KafkaConfig struct {
	BaseConfig `yaml:",inline"`

	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	PartitionKey     string   `yaml:"partition_key,omitempty"`
	RequiredAcks     int16    `yaml:"required_acks,omitempty"`
	CompressionCodec string   `yaml:"compression_codec,omitempty"`
	IdempotentWrites bool     `yaml:"idempotent_writes,omitempty"`
	ClientID         string   `yaml:"client_id,omitempty"`
	Version          string   `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns sensible defaults for a Kafka sink.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BaseConfig:       DefaultBaseConfig(),
		Brokers:          []string{"localhost:9092"},
		Topic:            "ddmq-archive",
		RequiredAcks:     1,
		CompressionCodec: "none",
		ClientID:         "ddmq",
		Version:          "3.0.0",
	}
}

// KafkaSink forwards terminal messages to a single Kafka topic, one record
// per message; when PartitionKey is "queue" the record key is the queue name.
type KafkaSink struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	batcher  *Batcher
	metrics  *SinkMetrics
	mu       sync.RWMutex
	closed   atomic.Bool
}

// NewKafkaSink dials the configured brokers and returns a ready sink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaConfig.Producer.Idempotent = cfg.IdempotentWrites
	saramaConfig.ClientID = cfg.ClientID

	switch cfg.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version: %w", err)
		}
		saramaConfig.Version = v
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	sink := &KafkaSink{config: cfg, producer: producer, metrics: &SinkMetrics{}}
	if cfg.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  cfg.BatchSize,
			MaxBatchBytes: 10 * 1024 * 1024,
			FlushInterval: cfg.FlushInterval,
		}, sink.sendBatchInternal)
	}
	return sink, nil
}

// Send forwards a single record, optionally through the batcher.
func (k *KafkaSink) Send(ctx context.Context, rec *Record) error {
	if k.closed.Load() {
		return fmt.Errorf("kafka sink is closed")
	}
	if k.batcher != nil {
		return k.batcher.Add(ctx, rec)
	}
	return k.sendBatchInternal(ctx, []*Record{rec})
}

// SendBatch forwards records immediately, bypassing the batcher.
func (k *KafkaSink) SendBatch(ctx context.Context, recs []*Record) error {
	if k.closed.Load() {
		return fmt.Errorf("kafka sink is closed")
	}
	return k.sendBatchInternal(ctx, recs)
}

func (k *KafkaSink) sendBatchInternal(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	var failed, totalBytes int64

	for _, rec := range recs {
		value, err := json.Marshal(rec)
		if err != nil {
			failed++
			continue
		}
		msg := &sarama.ProducerMessage{Topic: k.config.Topic, Value: sarama.ByteEncoder(value)}
		if k.config.PartitionKey == "queue" {
			msg.Key = sarama.StringEncoder(rec.Queue)
		}
		if _, _, err := k.producer.SendMessage(msg); err != nil {
			failed++
			k.metrics.LastError = err.Error()
			k.metrics.LastErrorTime = time.Now()
			continue
		}
		totalBytes += int64(len(value))
	}

	latency := time.Since(start)
	success := int64(len(recs)) - failed

	atomic.AddInt64(&k.metrics.RecordsSent, success)
	atomic.AddInt64(&k.metrics.RecordsFailed, failed)
	atomic.AddInt64(&k.metrics.BytesSent, totalBytes)
	atomic.AddInt64(&k.metrics.BatchesSent, 1)
	k.metrics.LastSendTime = time.Now()

	k.mu.Lock()
	if k.metrics.BatchesSent > 0 {
		k.metrics.AvgBatchSize = float64(k.metrics.RecordsSent) / float64(k.metrics.BatchesSent)
	}
	k.metrics.AvgLatency = (k.metrics.AvgLatency + latency) / 2
	k.mu.Unlock()

	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to send to kafka", failed, len(recs))
	}
	return nil
}

// Close stops the batcher and closes the underlying producer.
func (k *KafkaSink) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	if k.batcher != nil {
		if err := k.batcher.Stop(); err != nil {
			return err
		}
	}
	return k.producer.Close()
}

// Name returns the sink's configured or default name.
func (k *KafkaSink) Name() string {
	if k.config.Name != "" {
		return k.config.Name
	}
	return "kafka"
}

// Metrics returns a copy of the sink's current metrics.
func (k *KafkaSink) Metrics() *SinkMetrics {
	k.mu.RLock()
	defer k.mu.RUnlock()
	m := *k.metrics
	return &m
}
