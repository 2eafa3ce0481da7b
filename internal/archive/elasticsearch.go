package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchConfig configures an Elasticsearch archive sink.
type ElasticsearchConfig struct {
	BaseConfig `yaml:",inline"`

	Addresses     []string `yaml:"addresses"`
	Index         string   `yaml:"index"`
	IndexRotation string   `yaml:"index_rotation,omitempty"`
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	CloudID       string   `yaml:"cloud_id,omitempty"`
	APIKey        string   `yaml:"api_key,omitempty"`
}

// DefaultElasticsearchConfig returns sensible defaults for an ES sink.
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		BaseConfig:    DefaultBaseConfig(),
		Addresses:     []string{"http://localhost:9200"},
		Index:         "ddmq-archive",
		IndexRotation: "daily",
	}
}

// ElasticsearchSink indexes terminal messages as documents, one per
// message. IndexRotation appends a date suffix to Index; the queue name is
// not part of the index name.
type ElasticsearchSink struct {
	config  ElasticsearchConfig
	client  *elasticsearch.Client
	batcher *Batcher
	metrics *SinkMetrics
	mu      sync.RWMutex
	closed  atomic.Bool
}

// NewElasticsearchSink connects to the configured cluster and returns a
// ready sink, failing fast if the cluster cannot be reached.
func NewElasticsearchSink(cfg ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud id specified")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("no index specified")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}

	sink := &ElasticsearchSink{config: cfg, client: client, metrics: &SinkMetrics{}}
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
func (e *ElasticsearchSink) Send(ctx context.Context, rec *Record) error {
	if e.closed.Load() {
		return fmt.Errorf("elasticsearch sink is closed")
	}
	if e.batcher != nil {
		return e.batcher.Add(ctx, rec)
	}
	return e.sendBatchInternal(ctx, []*Record{rec})
}

// SendBatch indexes records immediately using the bulk API.
func (e *ElasticsearchSink) SendBatch(ctx context.Context, recs []*Record) error {
	if e.closed.Load() {
		return fmt.Errorf("elasticsearch sink is closed")
	}
	return e.sendBatchInternal(ctx, recs)
}

func (e *ElasticsearchSink) sendBatchInternal(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	var buf bytes.Buffer
	var totalBytes int64

	for _, rec := range recs {
		meta, _ := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_index": e.indexName(rec)},
		})
		doc, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
		totalBytes += int64(len(doc))
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(recs)))
		e.metrics.LastError = err.Error()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(recs)))
		e.metrics.LastError = res.Status()
		e.metrics.LastErrorTime = time.Now()
		return fmt.Errorf("bulk request returned error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		atomic.AddInt64(&e.metrics.RecordsFailed, int64(len(recs)))
		return fmt.Errorf("parse bulk response: %w", err)
	}

	var failed int64
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, doc := range item {
				if doc.Status >= 400 {
					failed++
					e.metrics.LastError = doc.Error
					e.metrics.LastErrorTime = time.Now()
				}
			}
		}
	}

	latency := time.Since(start)
	success := int64(len(recs)) - failed

	atomic.AddInt64(&e.metrics.RecordsSent, success)
	atomic.AddInt64(&e.metrics.RecordsFailed, failed)
	atomic.AddInt64(&e.metrics.BytesSent, totalBytes)
	atomic.AddInt64(&e.metrics.BatchesSent, 1)
	e.metrics.LastSendTime = time.Now()

	e.mu.Lock()
	if e.metrics.BatchesSent > 0 {
		e.metrics.AvgBatchSize = float64(e.metrics.RecordsSent) / float64(e.metrics.BatchesSent)
	}
	e.metrics.AvgLatency = (e.metrics.AvgLatency + latency) / 2
	e.mu.Unlock()

	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to index", failed, len(recs))
	}
	return nil
}

func (e *ElasticsearchSink) indexName(rec *Record) string {
	index := e.config.Index
	if e.config.IndexRotation == "" || e.config.IndexRotation == "none" {
		return index
	}

	ts := rec.ArchivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var suffix string
	switch e.config.IndexRotation {
	case "weekly":
		year, week := ts.ISOWeek()
		suffix = fmt.Sprintf("%d.%02d", year, week)
	case "monthly":
		suffix = ts.Format("2006.01")
	default: // daily
		suffix = ts.Format("2006.01.02")
	}
	return fmt.Sprintf("%s-%s", index, suffix)
}

// Close stops the batcher. The ES client holds no connection to release.
func (e *ElasticsearchSink) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.batcher != nil {
		return e.batcher.Stop()
	}
	return nil
}

// Name returns the sink's configured or default name.
func (e *ElasticsearchSink) Name() string {
	if e.config.Name != "" {
		return e.config.Name
	}
	return "elasticsearch"
}

// Metrics returns a copy of the sink's current metrics.
func (e *ElasticsearchSink) Metrics() *SinkMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m := *e.metrics
	return &m
}
