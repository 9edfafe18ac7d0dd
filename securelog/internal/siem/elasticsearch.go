package siem

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
)

// ElasticsearchConfig configures the bulk-index connector.
type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	Index         string
	TLSSkipVerify bool
}

// ElasticsearchConnector indexes events through the _bulk API.
type ElasticsearchConnector struct {
	client *opensearch.Client
	index  string
}

type esDocument struct {
	Timestamp string                 `json:"@timestamp"`
	Event     esEventFields          `json:"event"`
	Host      esHostFields           `json:"host"`
	Message   string                 `json:"message"`
	Tags      []string               `json:"tags,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

type esEventFields struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Severity int    `json:"severity"`
}

type esHostFields struct {
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

func NewElasticsearchConnector(cfg ElasticsearchConfig) (*ElasticsearchConnector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("elasticsearch url is required")
	}
	if cfg.Index == "" {
		cfg.Index = "securelog-events"
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticsearchConnector{client: client, index: cfg.Index}, nil
}

func (c *ElasticsearchConnector) Name() string { return "elasticsearch" }

func (c *ElasticsearchConnector) FormatEvent(e Event) ([]byte, error) {
	return json.Marshal(esDocument{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     esEventFields{ID: e.ID, Type: e.Type, Severity: e.Severity},
		Host:      esHostFields{IP: e.SourceIP, Hostname: e.SourceHost},
		Message:   e.Message,
		Tags:      e.Tags,
		Raw:       e.Raw,
	})
}

func (c *ElasticsearchConnector) SendEvent(ctx context.Context, e Event) error {
	return c.SendBatch(ctx, []Event{e})
}

// SendBatch issues one _bulk request. Event ids are used as document ids so
// a retried batch does not duplicate documents.
func (c *ElasticsearchConnector) SendBatch(ctx context.Context, events []Event) error {
	var body bytes.Buffer
	for _, e := range events {
		action, _ := json.Marshal(map[string]interface{}{
			"index": map[string]string{"_index": c.index, "_id": e.ID},
		})
		doc, err := c.FormatEvent(e)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", e.ID, err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := c.client.Bulk(&body, c.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.IsError() {
		return fmt.Errorf("bulk request returned status %d: %s", res.StatusCode, bytes.TrimSpace(truncate(raw, 512)))
	}

	var parsed bulkResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	var reasons []string
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error != nil {
				reasons = append(reasons, result.Error.Type+": "+result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk indexing failed for %d documents: %s", len(reasons), strings.Join(reasons, "; "))
}

func (c *ElasticsearchConnector) HealthCheck(ctx context.Context) error {
	res, err := c.client.Info(c.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch info returned status %d", res.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
