package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// maxSMSLength keeps a message within a few concatenated segments.
const maxSMSLength = 480

// SMSChannel posts messages to an HTTP SMS gateway.
type SMSChannel struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewSMSChannel(cfg config.SMSConfig, client *http.Client) *SMSChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &SMSChannel{cfg: cfg, client: client}
}

func (c *SMSChannel) Type() ChannelType { return ChannelSMS }

func (c *SMSChannel) ValidateRecipient(recipient string) error {
	if !e164.MatchString(recipient) {
		return fmt.Errorf("%w: %q is not an E.164 phone number", models.ErrConfiguration, recipient)
	}
	return nil
}

func (c *SMSChannel) Send(ctx context.Context, recipient string, msg Message) error {
	if c.cfg.GatewayURL == "" {
		return fmt.Errorf("%w: sms gateway not configured", models.ErrConfiguration)
	}
	text := msg.Subject + "\n" + msg.Body
	if len(text) > maxSMSLength {
		text = text[:maxSMSLength-3] + "..."
	}
	body, err := json.Marshal(map[string]string{
		"from": c.cfg.From,
		"to":   recipient,
		"body": text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.AccountID != "" {
		req.SetBasicAuth(c.cfg.AccountID, c.cfg.AuthToken)
	}
	return doRequest(c.client, req)
}

// doRequest sends req and turns any non-2xx status into an error.
func doRequest(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
