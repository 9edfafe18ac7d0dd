package siem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
)

// NATSConnector publishes normalized events as JSON for bus consumers.
// With perType set, each event goes to a subject suffixed with its type.
type NATSConnector struct {
	publisher messaging.Publisher
	subject   string
	perType   bool
}

func NewNATSConnector(publisher messaging.Publisher, subject string, perType bool) *NATSConnector {
	if subject == "" {
		subject = messaging.SubjectSIEMEvents
	}
	return &NATSConnector{publisher: publisher, subject: subject, perType: perType}
}

func (c *NATSConnector) subjectFor(e Event) string {
	if c.perType && c.subject == messaging.SubjectSIEMEvents {
		return messaging.SIEMEventSubject(e.Type)
	}
	if c.perType && e.Type != "" {
		return c.subject + "." + e.Type
	}
	return c.subject
}

func (c *NATSConnector) Name() string { return "nats" }

func (c *NATSConnector) FormatEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func (c *NATSConnector) SendEvent(ctx context.Context, e Event) error {
	data, err := c.FormatEvent(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return c.publisher.PublishMsg(ctx, &messaging.Message{
		Subject:  c.subjectFor(e),
		Data:     data,
		Metadata: map[string]string{"event_type": e.Type, "event_id": e.ID},
	})
}

func (c *NATSConnector) HealthCheck(ctx context.Context) error {
	if client, ok := c.publisher.(interface{ IsConnected() bool }); ok && !client.IsConnected() {
		return fmt.Errorf("nats publisher disconnected")
	}
	return nil
}
