package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

var severityColors = map[models.Severity]string{
	models.SeverityCritical: "#8B0000",
	models.SeverityHigh:     "#FF0000",
	models.SeverityMedium:   "#FFA500",
	models.SeverityLow:      "#FFFF00",
	models.SeverityInfo:     "#0000FF",
}

// ChatChannel posts Slack-compatible attachment messages to an incoming
// webhook URL.
type ChatChannel struct {
	client *http.Client
}

func NewChatChannel(client *http.Client) *ChatChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatChannel{client: client}
}

func (c *ChatChannel) Type() ChannelType { return ChannelChat }

func (c *ChatChannel) ValidateRecipient(recipient string) error {
	return validateHTTPURL(recipient)
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields"`
	Footer string      `json:"footer"`
	TS     int64       `json:"ts"`
}

type chatMessage struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments"`
}

func (c *ChatChannel) Send(ctx context.Context, recipient string, msg Message) error {
	color, ok := severityColors[msg.Event.Severity]
	if !ok {
		color = severityColors[models.SeverityInfo]
	}
	fields := []chatField{
		{Title: "Event Type", Value: msg.Event.Type, Short: true},
		{Title: "Severity", Value: string(msg.Event.Severity), Short: true},
		{Title: "Event ID", Value: msg.Event.ID, Short: false},
	}
	if msg.Event.Actor != "" {
		fields = append(fields, chatField{Title: "Actor", Value: msg.Event.Actor, Short: true})
	}

	body, err := json.Marshal(chatMessage{
		Text: msg.Subject,
		Attachments: []chatAttachment{{
			Color:  color,
			Title:  msg.Subject,
			Text:   msg.Body,
			Fields: fields,
			Footer: "RoverMissionControl SecureLog",
			TS:     msg.Event.Timestamp.Unix(),
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return doRequest(c.client, req)
}
