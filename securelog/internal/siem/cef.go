package siem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// cefKeys maps payload field names to CEF extension keys.
var cefKeys = map[string]string{
	"user":             "suser",
	"source_ip":        "src",
	"destination_ip":   "dst",
	"source_port":      "spt",
	"destination_port": "dpt",
	"action":           "act",
	"outcome":          "outcome",
	"file":             "fname",
	"process":          "sproc",
	"protocol":         "proto",
}

var (
	cefHeaderEscaper    = strings.NewReplacer(`\`, `\\`, `|`, `\|`)
	cefExtensionEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, "\r\n", `\n`, "\n", `\n`, "\r", `\n`)
)

// CEFConfig configures the CEF connector. Transport settings match syslog.
type CEFConfig struct {
	Network  string
	Address  string
	Facility string
	Vendor   string
	Product  string
	Version  string
}

// CEFConnector emits Common Event Format records inside a syslog envelope.
type CEFConnector struct {
	cfg       CEFConfig
	transport *streamTransport
}

func NewCEFConnector(cfg CEFConfig) (*CEFConnector, error) {
	t, err := newStreamTransport(cfg.Network, cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "RoverMissionControl"
	}
	if cfg.Product == "" {
		cfg.Product = "SecureLog"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	return &CEFConnector{cfg: cfg, transport: t}, nil
}

func (c *CEFConnector) Name() string { return "cef" }

// extensionKey sanitizes an unmapped payload key to CEF's alphanumeric form.
func extensionKey(k string) string {
	if mapped, ok := cefKeys[k]; ok {
		return mapped
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, k)
}

// Extension renders the key=value extension block. Fixed keys come first,
// payload keys follow in sorted order.
func (c *CEFConnector) Extension(e Event) string {
	pairs := []string{
		"rt=" + strconv.FormatInt(e.Timestamp.UnixMilli(), 10),
		"externalId=" + cefExtensionEscaper.Replace(e.ID),
	}
	if e.SourceHost != "" {
		pairs = append(pairs, "dvchost="+cefExtensionEscaper.Replace(e.SourceHost))
	}

	seen := map[string]bool{"rt": true, "externalId": true, "dvchost": true}
	var extra []string
	for _, k := range sortedKeys(e.Raw) {
		v := e.Raw[k]
		key := extensionKey(k)
		if v == nil || key == "" || seen[key] {
			continue
		}
		seen[key] = true
		extra = append(extra, key+"="+cefExtensionEscaper.Replace(fmt.Sprint(v)))
	}
	if !seen["src"] && e.SourceIP != "" {
		extra = append(extra, "src="+cefExtensionEscaper.Replace(e.SourceIP))
	}
	sort.Strings(extra)
	pairs = append(pairs, extra...)
	pairs = append(pairs, "msg="+cefExtensionEscaper.Replace(e.Message))
	return strings.Join(pairs, " ")
}

// Record renders the bare CEF line without the syslog envelope.
func (c *CEFConnector) Record(e Event) string {
	return fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
		cefHeaderEscaper.Replace(c.cfg.Vendor),
		cefHeaderEscaper.Replace(c.cfg.Product),
		cefHeaderEscaper.Replace(c.cfg.Version),
		cefHeaderEscaper.Replace(e.Type),
		cefHeaderEscaper.Replace(e.Message),
		e.Severity,
		c.Extension(e))
}

func (c *CEFConnector) FormatEvent(e Event) ([]byte, error) {
	return []byte(header(c.cfg.Facility, e) + " - " + c.Record(e)), nil
}

func (c *CEFConnector) SendEvent(ctx context.Context, e Event) error {
	return c.SendBatch(ctx, []Event{e})
}

func (c *CEFConnector) SendBatch(ctx context.Context, events []Event) error {
	msgs := make([][]byte, 0, len(events))
	for _, e := range events {
		m, _ := c.FormatEvent(e)
		msgs = append(msgs, m)
	}
	return c.transport.write(ctx, msgs...)
}

func (c *CEFConnector) Close() error {
	return c.transport.close()
}
