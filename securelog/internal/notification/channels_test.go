package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

type capturedRequest struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func testMessage() Message {
	e := testEvent("evt-42", models.SeverityHigh)
	return Message{Subject: "[HIGH] emergency_stop", Body: "stop pressed", Event: e, RuleID: "r1", CreatedAt: e.Timestamp}
}

func TestRecipientValidation(t *testing.T) {
	tests := []struct {
		name      string
		channel   Channel
		recipient string
		valid     bool
	}{
		{"email ok", NewEmailChannel(config.SMTPConfig{}), "ops@example.com", true},
		{"email display name", NewEmailChannel(config.SMTPConfig{}), "Ops <ops@example.com>", false},
		{"email garbage", NewEmailChannel(config.SMTPConfig{}), "not-an-address", false},
		{"sms ok", NewSMSChannel(config.SMSConfig{}, nil), "+14155550123", true},
		{"sms missing plus", NewSMSChannel(config.SMSConfig{}, nil), "14155550123", false},
		{"sms leading zero", NewSMSChannel(config.SMSConfig{}, nil), "+0123", false},
		{"webhook https", NewWebhookChannel(config.WebhookConfig{}, nil), "https://hooks.example.com/x", true},
		{"webhook ftp", NewWebhookChannel(config.WebhookConfig{}, nil), "ftp://example.com", false},
		{"chat no host", NewChatChannel(nil), "https://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.channel.ValidateRecipient(tt.recipient)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, models.ErrConfiguration), "got %v", err)
			}
		})
	}
}

func TestSMSChannel_Send(t *testing.T) {
	srv, requests := captureServer(t, http.StatusAccepted)
	ch := NewSMSChannel(config.SMSConfig{GatewayURL: srv.URL, AccountID: "acct", AuthToken: "tok", From: "+15550000"}, srv.Client())

	require.NoError(t, ch.Send(context.Background(), "+14155550123", testMessage()))

	reqs := requests()
	require.Len(t, reqs, 1)
	user, pass, ok := (&http.Request{Header: reqs[0].header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "acct", user)
	assert.Equal(t, "tok", pass)

	var body map[string]string
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, "+14155550123", body["to"])
	assert.Equal(t, "+15550000", body["from"])
	assert.Contains(t, body["body"], "stop pressed")
}

func TestWebhookChannel_SignsRequests(t *testing.T) {
	srv, requests := captureServer(t, http.StatusOK)
	ch := NewWebhookChannel(config.WebhookConfig{SigningSecret: "s3cret", Issuer: "rover"}, srv.Client())

	require.NoError(t, ch.Send(context.Background(), srv.URL, testMessage()))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, userAgent, reqs[0].header.Get("User-Agent"))

	auth := reqs[0].header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims := &WebhookClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "evt-42", claims.EventID)
	assert.Equal(t, "rover", claims.Issuer)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(reqs[0].body, &payload))
	assert.Equal(t, "evt-42", payload.EventID)
	assert.Equal(t, models.SeverityHigh, payload.Severity)
	assert.Equal(t, "manual", payload.Payload["reason"])
}

func TestWebhookChannel_Non2xxFails(t *testing.T) {
	srv, _ := captureServer(t, http.StatusServiceUnavailable)
	ch := NewWebhookChannel(config.WebhookConfig{}, srv.Client())

	err := ch.Send(context.Background(), srv.URL, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestChatChannel_SeverityColor(t *testing.T) {
	tests := []struct {
		severity models.Severity
		color    string
	}{
		{models.SeverityCritical, "#8B0000"},
		{models.SeverityHigh, "#FF0000"},
		{models.SeverityMedium, "#FFA500"},
		{models.SeverityLow, "#FFFF00"},
		{models.SeverityInfo, "#0000FF"},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			srv, requests := captureServer(t, http.StatusOK)
			msg := testMessage()
			msg.Event.Severity = tt.severity

			require.NoError(t, NewChatChannel(srv.Client()).Send(context.Background(), srv.URL, msg))

			var body chatMessage
			require.NoError(t, json.Unmarshal(requests()[0].body, &body))
			require.Len(t, body.Attachments, 1)
			assert.Equal(t, tt.color, body.Attachments[0].Color)
			assert.Equal(t, msg.Subject, body.Text)
		})
	}
}

// fakeSMTP accepts one conversation and captures the DATA section.
func fakeSMTP(t *testing.T) (host string, port int, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		write("220 localhost ESMTP")

		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					write("250 OK")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250 localhost")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				write("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				write("221 bye")
				return
			default:
				write("250 OK")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, out
}

func TestEmailChannel_Send(t *testing.T) {
	host, port, received := fakeSMTP(t)
	ch := NewEmailChannel(config.SMTPConfig{Host: host, Port: port, From: "securelog@rover.local"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Send(ctx, "ops@example.com", testMessage()))

	select {
	case data := <-received:
		assert.Contains(t, data, "To: ops@example.com")
		assert.Contains(t, data, "Subject: [HIGH] emergency_stop")
		assert.Contains(t, data, "X-SecureLog-Event-ID: evt-42")
		assert.Contains(t, data, "stop pressed")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailChannel_Unconfigured(t *testing.T) {
	err := NewEmailChannel(config.SMTPConfig{}).Send(context.Background(), "ops@example.com", testMessage())
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestTemplates_Render(t *testing.T) {
	tmpl := NewTemplates()
	rule := &Rule{ID: "r1", Name: "Safety"}
	e := testEvent("e1", models.SeverityCritical)

	subject, body, err := tmpl.Render(TemplateCriticalAlert, rule, e, false)
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL: emergency_stop - manual", subject)
	assert.Contains(t, body, "Actor: op1")

	subject, body, err = tmpl.Render(TemplateEscalation, rule, e, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(subject, "ESCALATION"))
	assert.Contains(t, body, "Safety")

	_, _, err = tmpl.Render("missing", rule, e, false)
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	err = tmpl.Add("broken", "{{.Unclosed", "")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}
