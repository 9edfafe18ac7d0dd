package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/correlation"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
)

// IntakeReply answers request/reply submissions.
type IntakeReply struct {
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Intake accepts LogRequest JSON from the message bus.
type Intake struct {
	svc    *Service
	client messaging.Client
	logger *logging.Logger
	sub    messaging.Subscription
}

func NewIntake(svc *Service, client messaging.Client, logger *logging.Logger) *Intake {
	return &Intake{
		svc:    svc,
		client: client,
		logger: logging.OrDefault(logger).With(logging.Component("intake")),
	}
}

// Start joins the ingest queue group.
func (in *Intake) Start() error {
	sub, err := in.client.QueueSubscribe(messaging.SubjectEventsIngest, messaging.QueueIngestWorkers, in.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messaging.SubjectEventsIngest, err)
	}
	in.sub = sub
	in.logger.Info("event intake subscribed", "subject", messaging.SubjectEventsIngest, "queue", messaging.QueueIngestWorkers)
	return nil
}

func (in *Intake) Stop() error {
	if in.sub == nil {
		return nil
	}
	err := in.sub.Unsubscribe()
	in.sub = nil
	return err
}

func (in *Intake) handle(ctx context.Context, msg *messaging.Message) error {
	if id := msg.Metadata["correlation_id"]; id != "" {
		ctx = correlation.NewContext(ctx, id)
	}

	var req LogRequest
	var reply IntakeReply
	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		err = fmt.Errorf("decode log request: %w", err)
	} else {
		reply.EventID, err = in.svc.LogEvent(ctx, req)
	}
	if err != nil {
		reply.Error = err.Error()
		in.logger.WarnContext(ctx, "intake request rejected", logging.Error(err))
	}

	if msg.Reply != "" {
		data, _ := json.Marshal(reply)
		if perr := in.client.Publish(ctx, msg.Reply, data); perr != nil {
			in.logger.WarnContext(ctx, "failed to send intake reply", logging.Error(perr))
		}
	}
	return err
}
