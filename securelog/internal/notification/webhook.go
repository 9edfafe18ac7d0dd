package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// WebhookChannel posts a JSON document to an arbitrary URL. When a
// signing secret is configured each request carries an HS256 bearer token.
type WebhookChannel struct {
	secret []byte
	issuer string
	client *http.Client
}

// WebhookClaims are the claims of the bearer token on outgoing webhooks.
type WebhookClaims struct {
	EventID string `json:"event_id"`
	RuleID  string `json:"rule_id"`
	jwt.RegisteredClaims
}

func NewWebhookChannel(cfg config.WebhookConfig, client *http.Client) *WebhookChannel {
	if client == nil {
		client = http.DefaultClient
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "securelog"
	}
	return &WebhookChannel{secret: []byte(cfg.SigningSecret), issuer: issuer, client: client}
}

func (c *WebhookChannel) Type() ChannelType { return ChannelWebhook }

func (c *WebhookChannel) ValidateRecipient(recipient string) error {
	return validateHTTPURL(recipient)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid webhook url %q", models.ErrConfiguration, raw)
	}
	return nil
}

type webhookPayload struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Severity      models.Severity        `json:"severity"`
	Timestamp     time.Time              `json:"timestamp"`
	Actor         string                 `json:"actor,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	RuleID        string                 `json:"rule_id"`
	Subject       string                 `json:"subject"`
	Body          string                 `json:"body"`
	Escalation    bool                   `json:"escalation"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

func (c *WebhookChannel) Send(ctx context.Context, recipient string, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		EventID:       msg.Event.ID,
		EventType:     msg.Event.Type,
		Severity:      msg.Event.Severity,
		Timestamp:     msg.Event.Timestamp,
		Actor:         msg.Event.Actor,
		CorrelationID: msg.Event.CorrelationID,
		RuleID:        msg.RuleID,
		Subject:       msg.Subject,
		Body:          msg.Body,
		Escalation:    msg.Escalation,
		Payload:       msg.Event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if len(c.secret) > 0 {
		token, err := c.sign(msg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doRequest(c.client, req)
}

func (c *WebhookChannel) sign(msg Message) (string, error) {
	now := time.Now()
	claims := WebhookClaims{
		EventID: msg.Event.ID,
		RuleID:  msg.RuleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   msg.Event.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign webhook token: %w", err)
	}
	return signed, nil
}
