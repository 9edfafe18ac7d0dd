// Package service wires the hash chain, encrypted store, redundant storage,
// notification and SIEM layers into one logging pipeline.
package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/chain"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/dlq"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/encstore"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/keys"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/notification"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/siem"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/storage"
)

// Components are the already constructed subsystems. Keys, Chain and Store
// are required; the others may be nil.
type Components struct {
	Keys     *keys.Manager
	Chain    *chain.HashChainLogger
	Store    *encstore.Store
	Storage  *storage.Manager
	Notifier *notification.Manager
	SIEM     *siem.Integration
	DLQ      *dlq.Queue

	// Bus is closed last on Stop when set.
	Bus messaging.Client
}

// Settings tunes worker pools and bookkeeping.
type Settings struct {
	Workers           int
	QueueSize         int
	ListenerQueueSize int
	StatusRetention   int
	// VerifySample is the number of recent and spread replicated chain
	// entries checked by VerifyIntegrity.
	VerifySample int
}

func (s *Settings) applyDefaults() {
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 1000
	}
	if s.ListenerQueueSize <= 0 {
		s.ListenerQueueSize = 100
	}
	if s.StatusRetention <= 0 {
		s.StatusRetention = 10000
	}
	if s.VerifySample <= 0 {
		s.VerifySample = 10
	}
}

// Service is the SecureLoggingService.
type Service struct {
	Components
	settings Settings
	logger   *logging.Logger
	tracker  *tracker

	stateMu sync.RWMutex
	queues  []chan job
	started bool
	closed  bool
	workers sync.WaitGroup

	listenersMu sync.Mutex
	listeners   []*listenerRunner

	processed atomic.Uint64
	failed    atomic.Uint64
}

// New validates the components and builds an idle service.
func New(c Components, settings Settings, logger *logging.Logger) (*Service, error) {
	if c.Keys == nil || c.Chain == nil || c.Store == nil {
		return nil, fmt.Errorf("%w: keys, chain and encrypted store are required", models.ErrConfiguration)
	}
	settings.applyDefaults()

	s := &Service{
		Components: c,
		settings:   settings,
		logger:     logging.OrDefault(logger).With(logging.Component("service")),
		tracker:    newTracker(settings.StatusRetention),
		queues:     make([]chan job, settings.Workers),
	}
	for i := range s.queues {
		s.queues[i] = make(chan job, settings.QueueSize)
	}
	return s, nil
}

// Start launches subsystem loops and the event workers.
func (s *Service) Start(ctx context.Context) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	if s.Storage != nil {
		s.Storage.Start(ctx)
	}
	if s.Notifier != nil {
		s.Notifier.Start(ctx)
	}
	if s.SIEM != nil {
		s.SIEM.Start(ctx)
	}

	for i, q := range s.queues {
		s.workers.Add(1)
		go s.worker(context.WithoutCancel(ctx), i, q)
	}
	s.logger.InfoContext(ctx, "secure logging service started", "workers", len(s.queues))
}

func (s *Service) worker(ctx context.Context, id int, q <-chan job) {
	defer s.workers.Done()
	label := fmt.Sprintf("worker-%d", id)
	for j := range q {
		metrics.QueueDepth.WithLabelValues(label).Set(float64(len(q)))
		_ = s.process(j.ctx, j.event, j.opts)
	}
}

// queueFor keeps every event of one correlation id on the same worker.
func (s *Service) queueFor(correlationID string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	return s.queues[h.Sum32()%uint32(len(s.queues))]
}

// QueueDepth returns the number of events waiting for a worker.
func (s *Service) QueueDepth() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Stop refuses new events, drains worker queues within ctx, then stops the
// subsystems in reverse construction order.
func (s *Service) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	for _, q := range s.queues {
		close(q)
	}
	s.stateMu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if started {
		done := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			keep(fmt.Errorf("drain event queues: %w", ctx.Err()))
			s.logger.WarnContext(ctx, "shutdown deadline reached with events queued", "queued", s.QueueDepth())
		}
	} else if n := s.QueueDepth(); n > 0 {
		s.logger.WarnContext(ctx, "service stopped before start, queued events discarded", "queued", n)
	}

	s.stopListeners(ctx)

	if s.SIEM != nil {
		s.SIEM.Stop(ctx)
	}
	if s.Notifier != nil {
		keep(s.Notifier.Stop(ctx))
	}
	if s.Storage != nil {
		s.Storage.Stop()
		keep(s.Storage.Close())
	}
	keep(s.Store.Close())
	keep(s.Chain.Close())
	if s.Bus != nil {
		keep(s.Bus.Drain())
	}

	s.logger.InfoContext(ctx, "secure logging service stopped",
		"events_processed", s.processed.Load(),
		"events_failed", s.failed.Load())
	return firstErr
}
