package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// ProcessedEvent is delivered to listeners after an event leaves the
// pipeline.
type ProcessedEvent struct {
	Event       models.Event      `json:"event"`
	StageErrors map[string]string `json:"stage_errors,omitempty"`
}

// Listener observes processed events. Handle runs on the listener's own
// goroutine.
type Listener interface {
	Handle(ctx context.Context, e ProcessedEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e ProcessedEvent)

func (f ListenerFunc) Handle(ctx context.Context, e ProcessedEvent) { f(ctx, e) }

type delivery struct {
	ctx   context.Context
	event ProcessedEvent
}

type listenerRunner struct {
	listener Listener
	queue    chan delivery
	done     chan struct{}
	logger   *logging.Logger
}

func (r *listenerRunner) run() {
	defer close(r.done)
	for d := range r.queue {
		r.handle(d)
	}
}

func (r *listenerRunner) handle(d delivery) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("listener panicked", logging.EventID(d.event.Event.ID), "panic", p)
		}
	}()
	r.listener.Handle(d.ctx, d.event)
}

// AddListener registers l with its own bounded queue. When the queue is
// full, events for l are dropped with a warning.
func (s *Service) AddListener(l Listener) {
	r := &listenerRunner{
		listener: l,
		queue:    make(chan delivery, s.settings.ListenerQueueSize),
		done:     make(chan struct{}),
		logger:   s.logger,
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, r)
	s.listenersMu.Unlock()
	go r.run()
}

func (s *Service) emit(ctx context.Context, ev models.Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	if len(s.listeners) == 0 {
		return
	}

	pe := ProcessedEvent{Event: ev}
	if st, ok := s.tracker.get(ev.ID); ok {
		pe.StageErrors = st.StageErrors
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: pe}
	for _, r := range s.listeners {
		select {
		case r.queue <- d:
		default:
			metrics.ListenerDrops.Inc()
			s.logger.WarnContext(ctx, "listener queue full, event dropped", logging.EventID(ev.ID))
		}
	}
}

func (s *Service) stopListeners(ctx context.Context) {
	s.listenersMu.Lock()
	runners := s.listeners
	s.listeners = nil
	s.listenersMu.Unlock()

	for _, r := range runners {
		close(r.queue)
	}
	for _, r := range runners {
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
	}
}

// PublishListener announces processed events on the message bus.
type PublishListener struct {
	publisher messaging.Publisher
	subject   string
	logger    *logging.Logger
}

func NewPublishListener(publisher messaging.Publisher, logger *logging.Logger) *PublishListener {
	return &PublishListener{
		publisher: publisher,
		subject:   messaging.SubjectEventsLogged,
		logger:    logging.OrDefault(logger),
	}
}

func (p *PublishListener) Handle(ctx context.Context, e ProcessedEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode processed event", logging.EventID(e.Event.ID), logging.Error(err))
		return
	}
	if err := p.publisher.PublishMsg(ctx, &messaging.Message{
		Subject:  p.subject,
		Data:     data,
		Metadata: map[string]string{"event_id": e.Event.ID, "event_type": e.Event.Type},
	}); err != nil {
		p.logger.WarnContext(ctx, "failed to publish processed event", logging.EventID(e.Event.ID),
			logging.Error(fmt.Errorf("publish %s: %w", p.subject, err)))
	}
}
