package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/appfacterp/log-shipper/pkg/model"
)

type HTTPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPPublisher posts batches as a JSON array to the shipper's ingest API.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

func NewHTTPPublisher(cfg HTTPConfig) *HTTPPublisher {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 1000
	t.MaxIdleConnsPerHost = 100

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPPublisher{
		url: cfg.URL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

func (hp *HTTPPublisher) Publish(ctx context.Context, events []model.LogEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hp.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hp.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned error status: %s", resp.Status)
	}
	return nil
}

func (hp *HTTPPublisher) Close() error {
	hp.client.CloseIdleConnections()
	return nil
}
