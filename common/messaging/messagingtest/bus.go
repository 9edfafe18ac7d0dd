// Package messagingtest provides an in-process messaging.Client for tests.
package messagingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
)

// ErrNoResponders mirrors the broker error returned when a request has no subscriber.
var ErrNoResponders = errors.New("no responders available for request")

// Bus delivers messages synchronously to in-process subscribers.
type Bus struct {
	mu        sync.Mutex
	subs      []*subscription
	published []*messaging.Message
	closed    bool
	inbox     int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Published returns a copy of every message published so far.
func (b *Bus) Published() []*messaging.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*messaging.Message, len(b.published))
	copy(out, b.published)
	return out
}

func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (b *Bus) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus closed")
	}
	m := *msg
	m.Timestamp = time.Now()
	b.published = append(b.published, &m)
	targets := b.matching(m.Subject)
	b.mu.Unlock()

	for _, s := range targets {
		_ = s.handler(ctx, &m)
	}
	return nil
}

func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*messaging.Message, error) {
	b.mu.Lock()
	b.inbox++
	reply := fmt.Sprintf("_INBOX.%d", b.inbox)
	b.mu.Unlock()

	ch := make(chan *messaging.Message, 1)
	sub, err := b.Subscribe(reply, func(_ context.Context, msg *messaging.Message) error {
		select {
		case ch <- msg:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	b.mu.Lock()
	hasTarget := len(b.matching(subject)) > 0
	b.mu.Unlock()
	if !hasTarget {
		return nil, ErrNoResponders
	}

	if err := b.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data, Reply: reply}); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.QueueSubscribe(subject, "", handler)
}

// QueueSubscribe registers handler; with a single process every queue member
// is the only member, so queue groups behave like plain subscriptions.
func (b *Bus) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("bus closed")
	}
	s := &subscription{bus: b, subject: subject, queue: queue, handler: handler, valid: true}
	b.subs = append(b.subs, s)
	return s, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

func (b *Bus) Drain() error { return b.Close() }

func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *Bus) matching(subject string) []*subscription {
	var out []*subscription
	seenQueue := map[string]bool{}
	for _, s := range b.subs {
		if s.subject != subject {
			continue
		}
		if s.queue != "" {
			if seenQueue[s.queue] {
				continue
			}
			seenQueue[s.queue] = true
		}
		out = append(out, s)
	}
	return out
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type subscription struct {
	bus     *Bus
	subject string
	queue   string
	handler messaging.MessageHandler
	valid   bool
}

func (s *subscription) Unsubscribe() error {
	s.valid = false
	s.bus.remove(s)
	return nil
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) IsValid() bool { return s.valid }

var _ messaging.Client = (*Bus)(nil)
