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
)

const hecPath = "/services/collector/event"

// HECConfig configures a Splunk HTTP Event Collector connector.
type HECConfig struct {
	URL           string
	Token         string
	Index         string
	Source        string
	SourceType    string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// HECConnector posts newline-delimited events to Splunk HEC.
type HECConnector struct {
	cfg      HECConfig
	endpoint string
	client   *http.Client
}

type hecEnvelope struct {
	Time       float64     `json:"time"`
	Host       string      `json:"host,omitempty"`
	Source     string      `json:"source,omitempty"`
	SourceType string      `json:"sourcetype,omitempty"`
	Index      string      `json:"index,omitempty"`
	Event      interface{} `json:"event"`
}

type hecEvent struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Severity int                    `json:"severity"`
	Level    string                 `json:"level"`
	Message  string                 `json:"message"`
	SourceIP string                 `json:"source_ip,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

func NewHECConnector(cfg HECConfig) (*HECConnector, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("splunk hec url and token are required")
	}
	if cfg.Source == "" {
		cfg.Source = AppName
	}
	if cfg.SourceType == "" {
		cfg.SourceType = "_json"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	endpoint := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(endpoint, hecPath) {
		endpoint += hecPath
	}
	return &HECConnector{
		cfg:      cfg,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
			},
		},
	}, nil
}

func (c *HECConnector) Name() string { return "splunk" }

func (c *HECConnector) FormatEvent(e Event) ([]byte, error) {
	env := hecEnvelope{
		Time:       float64(e.Timestamp.UnixMilli()) / 1000,
		Host:       e.SourceHost,
		Source:     c.cfg.Source,
		SourceType: c.cfg.SourceType,
		Index:      c.cfg.Index,
		Event: hecEvent{
			ID:       e.ID,
			Type:     e.Type,
			Severity: e.Severity,
			Level:    severityName(e.Severity),
			Message:  e.Message,
			SourceIP: e.SourceIP,
			Tags:     e.Tags,
			Raw:      e.Raw,
		},
	}
	return json.Marshal(env)
}

func (c *HECConnector) SendEvent(ctx context.Context, e Event) error {
	return c.SendBatch(ctx, []Event{e})
}

// SendBatch posts all events in one request body, one envelope per line.
func (c *HECConnector) SendBatch(ctx context.Context, events []Event) error {
	var body bytes.Buffer
	for _, e := range events {
		line, err := c.FormatEvent(e)
		if err != nil {
			return fmt.Errorf("encode hec event %s: %w", e.ID, err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return fmt.Errorf("build hec request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hec request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hec returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
