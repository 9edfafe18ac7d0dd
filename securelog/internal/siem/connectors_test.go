package siem

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging/messagingtest"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

func sampleEvent() Event {
	return Event{
		Timestamp:  testTime,
		SourceHost: "rover-1",
		SourceIP:   "10.0.0.9",
		ID:         "evt-1",
		Type:       "emergency_stop",
		Severity:   10,
		Message:    "emergency_stop: manual",
		Raw:        map[string]interface{}{"reason": "manual", "user": "op1"},
		Tags:       []string{"securelog", "critical"},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		severity models.Severity
		level    int
		tags     []string
	}{
		{models.SeverityInfo, 1, []string{"securelog", "info", "correlated"}},
		{models.SeverityLow, 3, []string{"securelog", "low", "correlated"}},
		{models.SeverityMedium, 5, []string{"securelog", "medium", "correlated"}},
		{models.SeverityHigh, 8, []string{"securelog", "high", "correlated"}},
		{models.SeverityCritical, 10, []string{"securelog", "critical", "correlated"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			e := models.Event{
				ID:            "evt-1",
				Type:          "emergency_stop",
				Severity:      tt.severity,
				Timestamp:     testTime,
				Payload:       map[string]interface{}{"reason": "manual"},
				Actor:         "op1",
				CorrelationID: "corr-1",
			}
			got := Normalize(e, "rover-1", "10.0.0.9")
			assert.Equal(t, tt.level, got.Severity)
			assert.Equal(t, tt.tags, got.Tags)
			assert.Equal(t, "emergency_stop: manual", got.Message)
			assert.Equal(t, "op1", got.Raw["user"])
			assert.Equal(t, "corr-1", got.Raw["correlation_id"])
			assert.Equal(t, "rover-1", got.SourceHost)
		})
	}
}

func TestSyslogFormat(t *testing.T) {
	c, err := NewSyslogConnector("udp", "127.0.0.1:514", "local0")
	require.NoError(t, err)

	line, err := c.FormatEvent(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t,
		`<130>1 2026-01-02T03:04:05.006Z rover-1 RoverMissionControl evt-1 `+
			`[securelog@32473 eventType="emergency_stop" severity="critical" reason="manual" user="op1"] `+
			`emergency_stop: manual`,
		string(line))
}

func TestSyslogStructuredData(t *testing.T) {
	t.Run("escapes param values", func(t *testing.T) {
		e := sampleEvent()
		e.Raw = map[string]interface{}{"note": `a"b\c]d`}
		assert.Contains(t, structuredData(e), `note="a\"b\\c\]d"`)
	})

	t.Run("keeps five sorted custom params", func(t *testing.T) {
		e := sampleEvent()
		e.Raw = map[string]interface{}{"g": 7, "a": 1, "f": 6, "b": 2, "e": 5, "c": 3, "d": 4}
		assert.Equal(t,
			`[securelog@32473 eventType="emergency_stop" severity="critical" a="1" b="2" c="3" d="4" e="5"]`,
			structuredData(e))
	})

	t.Run("sanitizes param names", func(t *testing.T) {
		e := sampleEvent()
		e.Raw = map[string]interface{}{"bad key=": "v"}
		assert.Contains(t, structuredData(e), ` bad_key_="v"`)
	})

	t.Run("truncates long param names", func(t *testing.T) {
		e := sampleEvent()
		e.Raw = map[string]interface{}{"wheel_motor_front_left_temperature_celsius": 71}
		assert.Contains(t, structuredData(e), ` wheel_motor_front_left_temperatu="71"`)
	})
}

func TestSDName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"zone", "zone"},
		{"a b", "a_b"},
		{"tab\tkey", "tab_key"},
		{"ünit", "_nit"},
		{strings.Repeat("k", 40), strings.Repeat("k", 32)},
		{strings.Repeat("é", 40), strings.Repeat("_", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := sdName(tt.key)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 32)
		})
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		facility string
		level    int
		want     int
	}{
		{"local0", 10, 130},
		{"local0", 9, 130},
		{"local0", 8, 131},
		{"local0", 5, 132},
		{"local0", 3, 133},
		{"local0", 1, 134},
		{"kern", 10, 2},
		{"auth", 8, 35},
		{"local7", 1, 190},
		{"bogus", 1, 134},
		{"", 5, 132},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, priority(tt.facility, tt.level), "%s/%d", tt.facility, tt.level)
	}
}

func TestSyslogUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c, err := NewSyslogConnector("udp", pc.LocalAddr().String(), "local0")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendEvent(context.Background(), sampleEvent()))

	buf := make([]byte, 4096)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	want, _ := c.FormatEvent(sampleEvent())
	assert.Equal(t, string(want), string(buf[:n]))
}

func TestSyslogTCPOctetCounting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c, err := NewSyslogConnector("tcp", ln.Addr().String(), "local0")
	require.NoError(t, err)
	defer c.Close()

	first := sampleEvent()
	second := sampleEvent()
	second.ID = "evt-2"
	m1, _ := c.FormatEvent(first)
	m2, _ := c.FormatEvent(second)
	want := string(c.transport.frame(m1)) + string(c.transport.frame(m2))

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- ""
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, len(want))
		n, _ := io.ReadFull(conn, buf)
		received <- string(buf[:n])
	}()

	require.NoError(t, c.SendBatch(context.Background(), []Event{first, second}))
	got := <-received
	assert.Equal(t, want, got)
	assert.Regexp(t, `^\d+ <130>1 `, got)
}

func TestTransportValidation(t *testing.T) {
	_, err := NewSyslogConnector("sctp", "127.0.0.1:514", "")
	assert.Error(t, err)
	_, err = NewSyslogConnector("udp", "", "")
	assert.Error(t, err)
}

type hecRequest struct {
	path   string
	header http.Header
	body   string
}

func hecServer(t *testing.T, status int) (*httptest.Server, func() []hecRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []hecRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, hecRequest{path: r.URL.Path, header: r.Header.Clone(), body: string(body)})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"text":"Success","code":0}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []hecRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]hecRequest(nil), reqs...)
	}
}

func TestHECBatch(t *testing.T) {
	srv, requests := hecServer(t, http.StatusOK)
	c, err := NewHECConnector(HECConfig{URL: srv.URL, Token: "tok", Index: "security"})
	require.NoError(t, err)

	second := sampleEvent()
	second.ID = "evt-2"
	require.NoError(t, c.SendBatch(context.Background(), []Event{sampleEvent(), second}))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/services/collector/event", reqs[0].path)
	assert.Equal(t, "Splunk tok", reqs[0].header.Get("Authorization"))

	scanner := bufio.NewScanner(strings.NewReader(reqs[0].body))
	var lines []map[string]interface{}
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	first := lines[0]
	assert.InDelta(t, 1767323045.006, first["time"], 0.0005)
	assert.Equal(t, "rover-1", first["host"])
	assert.Equal(t, AppName, first["source"])
	assert.Equal(t, "_json", first["sourcetype"])
	assert.Equal(t, "security", first["index"])
	event := first["event"].(map[string]interface{})
	assert.Equal(t, "evt-1", event["id"])
	assert.Equal(t, "critical", event["level"])
	assert.Equal(t, "evt-2", lines[1]["event"].(map[string]interface{})["id"])
}

func TestHECOmitsEmptyIndex(t *testing.T) {
	c, err := NewHECConnector(HECConfig{URL: "http://splunk:8088/services/collector/event", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "http://splunk:8088/services/collector/event", c.endpoint)

	line, err := c.FormatEvent(sampleEvent())
	require.NoError(t, err)
	assert.NotContains(t, string(line), `"index"`)
}

func TestHECErrorStatus(t *testing.T) {
	srv, _ := hecServer(t, http.StatusForbidden)
	c, err := NewHECConnector(HECConfig{URL: srv.URL, Token: "bad"})
	require.NoError(t, err)

	err = c.SendEvent(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, err = NewHECConnector(HECConfig{URL: srv.URL})
	assert.Error(t, err)
}

func bulkServer(t *testing.T, response string) (*httptest.Server, func() string) {
	t.Helper()
	var (
		mu   sync.Mutex
		last string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		last = string(body)
		mu.Unlock()
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, func() string {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestElasticsearchBulk(t *testing.T) {
	srv, body := bulkServer(t, `{"took":1,"errors":false,"items":[{"index":{"status":201}}]}`)
	c, err := NewElasticsearchConnector(ElasticsearchConfig{URL: srv.URL, Index: "securelog-test"})
	require.NoError(t, err)

	require.NoError(t, c.SendBatch(context.Background(), []Event{sampleEvent()}))

	lines := strings.Split(strings.TrimSpace(body()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"index":{"_index":"securelog-test","_id":"evt-1"}}`, lines[0])

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &doc))
	assert.Equal(t, "2026-01-02T03:04:05.006Z", doc["@timestamp"])
	assert.Equal(t, map[string]interface{}{"id": "evt-1", "type": "emergency_stop", "severity": float64(10)}, doc["event"])
	assert.Equal(t, map[string]interface{}{"ip": "10.0.0.9", "hostname": "rover-1"}, doc["host"])
	assert.Equal(t, "emergency_stop: manual", doc["message"])
	assert.Equal(t, []interface{}{"securelog", "critical"}, doc["tags"])
	assert.Equal(t, "op1", doc["raw"].(map[string]interface{})["user"])

	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestElasticsearchItemErrors(t *testing.T) {
	srv, _ := bulkServer(t, `{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad field"}}}]}`)
	c, err := NewElasticsearchConnector(ElasticsearchConfig{URL: srv.URL})
	require.NoError(t, err)

	err = c.SendEvent(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception: bad field")
}

func newCEF(t *testing.T) *CEFConnector {
	t.Helper()
	c, err := NewCEFConnector(CEFConfig{Address: "127.0.0.1:514", Facility: "local0"})
	require.NoError(t, err)
	return c
}

func TestCEFRecord(t *testing.T) {
	c := newCEF(t)
	e := sampleEvent()
	e.Raw = map[string]interface{}{"user": "op1", "source_ip": "10.0.0.5", "action": "stop"}

	assert.Equal(t,
		"CEF:0|RoverMissionControl|SecureLog|1.0|emergency_stop|emergency_stop: manual|10|"+
			"rt=1767323045006 externalId=evt-1 dvchost=rover-1 act=stop src=10.0.0.5 suser=op1 msg=emergency_stop: manual",
		c.Record(e))

	line, err := c.FormatEvent(e)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(line),
		"<130>1 2026-01-02T03:04:05.006Z rover-1 RoverMissionControl evt-1 - CEF:0|"))
}

func TestCEFEscaping(t *testing.T) {
	c := newCEF(t)
	e := sampleEvent()
	e.Type = `door|open\now`
	e.Message = "line1\nline2 a=b"
	e.Raw = map[string]interface{}{"file": `C:\logs\a=b`}

	rec := c.Record(e)
	assert.Contains(t, rec, `|door\|open\\now|`)
	assert.Contains(t, rec, `fname=C:\\logs\\a\=b`)
	assert.Contains(t, rec, `msg=line1\nline2 a\=b`)
}

func TestCEFSourceIPFallback(t *testing.T) {
	c := newCEF(t)
	e := sampleEvent()
	e.Raw = nil
	assert.Contains(t, c.Record(e), " src=10.0.0.9 ")
}

func TestNATSConnector(t *testing.T) {
	t.Run("fixed subject", func(t *testing.T) {
		bus := messagingtest.NewBus()
		c := NewNATSConnector(bus, "", false)
		require.NoError(t, c.SendEvent(context.Background(), sampleEvent()))

		published := bus.Published()
		require.Len(t, published, 1)
		assert.Equal(t, "securelog.siem.events", published[0].Subject)
		assert.Equal(t, "evt-1", published[0].Metadata["event_id"])

		var got Event
		require.NoError(t, json.Unmarshal(published[0].Data, &got))
		assert.Equal(t, "emergency_stop", got.Type)
		assert.Equal(t, 10, got.Severity)
	})

	t.Run("per type subject", func(t *testing.T) {
		bus := messagingtest.NewBus()
		c := NewNATSConnector(bus, "", true)
		require.NoError(t, c.SendEvent(context.Background(), sampleEvent()))
		assert.Equal(t, "securelog.siem.events.emergency_stop", bus.Published()[0].Subject)
	})

	t.Run("health follows connection", func(t *testing.T) {
		bus := messagingtest.NewBus()
		c := NewNATSConnector(bus, "", false)
		assert.NoError(t, c.HealthCheck(context.Background()))
		require.NoError(t, bus.Close())
		assert.Error(t, c.HealthCheck(context.Background()))
	})
}
