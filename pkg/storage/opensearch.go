package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/appfacterp/log-shipper/pkg/codec"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opensearch_indexing_errors_total",
		Help: "The total number of failed bulk indexing attempts",
	})
	indexingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opensearch_indexing_duration_seconds",
		Help:    "The duration of bulk requests to OpenSearch",
		Buckets: prometheus.DefBuckets,
	})
	documentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opensearch_documents_indexed_total",
		Help: "The total number of documents acknowledged by OpenSearch",
	})
)

type Config struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	// Timeout bounds how long a request waits for response headers. Zero
	// leaves it to the transport.
	Timeout    time.Duration
	Serializer codec.Serializer
}

type OpenSearchClient struct {
	client     *opensearch.Client
	serializer codec.Serializer
}

func NewOpenSearchClient(cfg Config) (*OpenSearchClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("at least one opensearch address is required")
	}
	if cfg.Serializer == nil {
		cfg.Serializer = codec.JSON()
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		// The sink owns retries: one recovery pass per failed batch.
		DisableRetry: true,
		Transport: &http.Transport{
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConnsPerHost:   4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchClient{client: client, serializer: cfg.Serializer}, nil
}

// Serializer is the codec every document sent through this client is
// encoded with.
func (c *OpenSearchClient) Serializer() codec.Serializer {
	return c.serializer
}

func (c *OpenSearchClient) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch ping failed: status %d", res.StatusCode)
	}
	return nil
}

// SendMany indexes docs into index with a single bulk request. A returned
// error means nothing can be assumed about delivery; a result with Errors set
// lists the positions OpenSearch rejected.
func (c *OpenSearchClient) SendMany(ctx context.Context, index string, docs []any) (*BulkResult, error) {
	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	timer := prometheus.NewTimer(indexingDuration)
	defer timer.ObserveDuration()

	body, err := c.encodeBulk(index, docs)
	if err != nil {
		indexingErrors.Inc()
		return nil, err
	}

	req := opensearchapi.BulkRequest{
		Body: bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		indexingErrors.Inc()
		return nil, fmt.Errorf("failed to execute bulk request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		indexingErrors.Inc()
		return nil, fmt.Errorf("failed to read bulk response: %w", err)
	}

	if res.IsError() {
		indexingErrors.Inc()
		return nil, fmt.Errorf("opensearch bulk error: [%d] %s", res.StatusCode, truncate(raw, 512))
	}

	result, err := parseBulkResponse(raw)
	if err != nil {
		indexingErrors.Inc()
		return nil, err
	}
	if result.Errors {
		indexingErrors.Inc()
	}
	documentsIndexed.Add(float64(len(docs) - len(result.Items)))

	return result, nil
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
	} `json:"index"`
}

func (c *OpenSearchClient) encodeBulk(index string, docs []any) ([]byte, error) {
	var buf bytes.Buffer
	var action bulkAction
	action.Index.Index = index
	meta, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk action: %w", err)
	}
	meta = append(meta, '\n')

	for i, doc := range docs {
		data, err := c.serializer.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document %d for bulk index: %w", i, err)
		}

		buf.Write(meta)
		buf.Write(data)
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// DailyIndex returns an index name factory producing prefix-2006.01.02 names
// for the current UTC day.
func DailyIndex(prefix string) func() string {
	return func() string {
		return fmt.Sprintf("%s-%s", prefix, time.Now().UTC().Format("2006.01.02"))
	}
}
