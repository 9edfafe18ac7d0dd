package notification

import (
	"context"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Message is a rendered notification ready for a channel.
type Message struct {
	Subject    string
	Body       string
	Event      models.Event
	RuleID     string
	Escalation bool
	CreatedAt  time.Time
}

// Channel delivers messages to one kind of recipient.
type Channel interface {
	Type() ChannelType
	// ValidateRecipient returns an error wrapping models.ErrConfiguration
	// when recipient is malformed for this channel.
	ValidateRecipient(recipient string) error
	Send(ctx context.Context, recipient string, msg Message) error
}

const userAgent = "RoverMissionControl-SecureLog/1.0"
