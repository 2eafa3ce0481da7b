// Package archive forwards terminally-handled ddmq messages (acked, discarded
// after requeue_limit exhaustion, or purged) to a durable external sink. It
// is strictly best-effort: it runs after the filesystem rename that commits
// the outcome and never blocks or fails the broker/cleaner operation that
// triggered it.
package archive

import (
	"context"
	"time"

	"github.com/ddmq/ddmq/pkg/ddmsg"
)

// Outcome names why a message reached a terminal state.
type Outcome string

const (
	OutcomeAcked     Outcome = "acked"
	OutcomeDiscarded Outcome = "discarded"
	OutcomePurged    Outcome = "purged"
)

// Record is one terminal message event handed to a Sink.
type Record struct {
	Queue      string        `json:"queue"`
	Message    *ddmsg.Message `json:"message"`
	Outcome    Outcome       `json:"outcome"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Sink defines the interface every archive destination implements.
type Sink interface {
	Send(ctx context.Context, rec *Record) error
	SendBatch(ctx context.Context, recs []*Record) error
	Close() error
	Name() string
	Metrics() *SinkMetrics
}

// SinkMetrics tracks performance and health metrics for a sink.
type SinkMetrics struct {
	RecordsSent   int64         `json:"records_sent"`
	RecordsFailed int64         `json:"records_failed"`
	BytesSent     int64         `json:"bytes_sent"`
	BatchesSent   int64         `json:"batches_sent"`
	LastSendTime  time.Time     `json:"last_send_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time,omitempty"`
	AvgBatchSize  float64       `json:"avg_batch_size"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// CompressionType names the payload compression algorithm a sink applies.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)

// BaseConfig is the configuration every sink type embeds.
type BaseConfig struct {
	Type          string          `yaml:"type"`
	Name          string          `yaml:"name,omitempty"`
	BatchSize     int             `yaml:"batch_size,omitempty"`
	BatchTimeout  time.Duration   `yaml:"batch_timeout,omitempty"`
	Compression   CompressionType `yaml:"compression,omitempty"`
	FlushInterval time.Duration   `yaml:"flush_interval,omitempty"`
	Timeout       time.Duration   `yaml:"timeout,omitempty"`
}

// DefaultBaseConfig returns a base config with sensible defaults.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		BatchSize:     50,
		BatchTimeout:  5 * time.Second,
		Compression:   CompressionNone,
		FlushInterval: 1 * time.Second,
		Timeout:       30 * time.Second,
	}
}
