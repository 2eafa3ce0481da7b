package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3 archive sink.
type S3Config struct {
	BaseConfig `yaml:",inline"`

	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix,omitempty"`
	KeyTemplate  string `yaml:"key_template,omitempty"`
	StorageClass string `yaml:"storage_class,omitempty"`
	ACL          string `yaml:"acl,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
	ContentType  string `yaml:"content_type,omitempty"`
}

// DefaultS3Config returns sensible defaults for an S3 sink.
func DefaultS3Config() S3Config {
	return S3Config{
		BaseConfig:   DefaultBaseConfig(),
		Region:       "us-east-1",
		Prefix:       "ddmq/",
		KeyTemplate:  "{{.Year}}/{{.Month}}/{{.Day}}/{{.Queue}}/{{.Timestamp}}.json",
		StorageClass: "STANDARD",
		ACL:          "private",
		ContentType:  "application/json",
	}
}

// S3Sink writes terminal messages as one object per batch (or per message
// when batching is disabled) into a bucket/prefix.
type S3Sink struct {
	config     S3Config
	client     *s3.Client
	batcher    *Batcher
	metrics    *SinkMetrics
	compressor Compressor
	mu         sync.RWMutex
	closed     atomic.Bool
}

// NewS3Sink loads AWS credentials from the default chain and returns a
// ready sink.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no region specified")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	client := s3.NewFromConfig(awsCfg, opts...)

	compressor, err := GetCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	sink := &S3Sink{config: cfg, client: client, metrics: &SinkMetrics{}, compressor: compressor}
	if cfg.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  cfg.BatchSize,
			MaxBatchBytes: 100 * 1024 * 1024,
			FlushInterval: cfg.FlushInterval,
		}, sink.sendBatchInternal)
	}
	return sink, nil
}

// Send forwards a single record, optionally through the batcher.
func (s *S3Sink) Send(ctx context.Context, rec *Record) error {
	if s.closed.Load() {
		return fmt.Errorf("s3 sink is closed")
	}
	if s.batcher != nil {
		return s.batcher.Add(ctx, rec)
	}
	return s.sendBatchInternal(ctx, []*Record{rec})
}

// SendBatch forwards records immediately as a single NDJSON object.
func (s *S3Sink) SendBatch(ctx context.Context, recs []*Record) error {
	if s.closed.Load() {
		return fmt.Errorf("s3 sink is closed")
	}
	return s.sendBatchInternal(ctx, recs)
}

func (s *S3Sink) sendBatchInternal(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	key := s.generateKey(recs[0])

	var buf bytes.Buffer
	var failed int64
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			failed++
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	payload, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, int64(len(recs)))
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("compress archive payload: %w", err)
	}

	if err := s.uploadObject(ctx, key, payload); err != nil {
		atomic.AddInt64(&s.metrics.RecordsFailed, int64(len(recs)))
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
		return err
	}

	latency := time.Since(start)
	success := int64(len(recs)) - failed

	atomic.AddInt64(&s.metrics.RecordsSent, success)
	atomic.AddInt64(&s.metrics.RecordsFailed, failed)
	atomic.AddInt64(&s.metrics.BytesSent, int64(len(payload)))
	atomic.AddInt64(&s.metrics.BatchesSent, 1)
	s.metrics.LastSendTime = time.Now()

	s.mu.Lock()
	if s.metrics.BatchesSent > 0 {
		s.metrics.AvgBatchSize = float64(s.metrics.RecordsSent) / float64(s.metrics.BatchesSent)
	}
	s.metrics.AvgLatency = (s.metrics.AvgLatency + latency) / 2
	s.mu.Unlock()

	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to encode for s3", failed, len(recs))
	}
	return nil
}

func (s *S3Sink) uploadObject(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(s.config.ContentType),
	}
	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}
	if s.config.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.config.ACL)
	}
	if s.config.Compression != CompressionNone {
		input.ContentEncoding = aws.String(string(s.config.Compression))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}

func (s *S3Sink) generateKey(rec *Record) string {
	ts := rec.ArchivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	key := s.config.KeyTemplate
	if key == "" {
		key = "{{.Queue}}/{{.Timestamp}}.json"
	}

	replacements := map[string]string{
		"{{.Year}}":      fmt.Sprintf("%04d", ts.Year()),
		"{{.Month}}":     fmt.Sprintf("%02d", ts.Month()),
		"{{.Day}}":       fmt.Sprintf("%02d", ts.Day()),
		"{{.Hour}}":      fmt.Sprintf("%02d", ts.Hour()),
		"{{.Queue}}":     rec.Queue,
		"{{.Timestamp}}": fmt.Sprintf("%d", ts.UnixNano()),
	}
	for placeholder, value := range replacements {
		key = strings.ReplaceAll(key, placeholder, value)
	}

	if s.config.Prefix != "" {
		key = s.config.Prefix + key
	}
	switch s.config.Compression {
	case CompressionGzip:
		key += ".gz"
	case CompressionSnappy:
		key += ".snappy"
	}
	return key
}

// Close stops the batcher. The S3 client holds no connection to release.
func (s *S3Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.batcher != nil {
		return s.batcher.Stop()
	}
	return nil
}

// Name returns the sink's configured or default name.
func (s *S3Sink) Name() string {
	if s.config.Name != "" {
		return s.config.Name
	}
	return "s3"
}

// Metrics returns a copy of the sink's current metrics.
func (s *S3Sink) Metrics() *SinkMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := *s.metrics
	return &m
}
