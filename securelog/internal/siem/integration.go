package siem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Settings tunes batching and connector isolation.
type Settings struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	SendTimeout   time.Duration
	Hostname      string
	SourceIP      string

	// BreakerFailures consecutive failures open a connector's breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize < 1 {
		s.BatchSize = 100
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = 5 * time.Second
	}
	if s.QueueSize < 1 {
		s.QueueSize = 10000
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 10 * time.Second
	}
	if s.BreakerFailures == 0 {
		s.BreakerFailures = 5
	}
	if s.BreakerTimeout <= 0 {
		s.BreakerTimeout = 30 * time.Second
	}
	return s
}

// ConnectorStatus reports delivery counters and breaker state for one
// connector.
type ConnectorStatus struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	LastError    string    `json:"last_error,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	Sent         uint64    `json:"sent"`
	Failed       uint64    `json:"failed"`
	BreakerState string    `json:"breaker_state"`
}

type connectorState struct {
	connector Connector
	breaker   *gobreaker.CircuitBreaker

	mu          sync.Mutex
	lastErr     error
	lastSuccess time.Time
	sent        uint64
	failed      uint64
}

func (cs *connectorState) record(n int, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err != nil {
		cs.failed += uint64(n)
		cs.lastErr = err
		return
	}
	cs.sent += uint64(n)
	cs.lastErr = nil
	cs.lastSuccess = time.Now().UTC()
}

func (cs *connectorState) status() ConnectorStatus {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	st := ConnectorStatus{
		Name:         cs.connector.Name(),
		Healthy:      cs.lastErr == nil && cs.breaker.State() != gobreaker.StateOpen,
		LastSuccess:  cs.lastSuccess,
		Sent:         cs.sent,
		Failed:       cs.failed,
		BreakerState: cs.breaker.State().String(),
	}
	if cs.lastErr != nil {
		st.LastError = cs.lastErr.Error()
	}
	return st
}

// Integration batches normalized events and fans each batch out to every
// registered connector. Connector failures are recorded, never returned.
type Integration struct {
	settings Settings
	logger   *logging.Logger

	connMu     sync.RWMutex
	connectors []*connectorState

	mu      sync.Mutex
	pending []Event
	closed  bool

	// sendMu keeps batches in submission order.
	sendMu sync.Mutex

	kick    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	started bool
}

func NewIntegration(settings Settings, logger *logging.Logger) *Integration {
	return &Integration{
		settings: settings.withDefaults(),
		logger:   logging.OrDefault(logger).With(logging.Component("siem")),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// AddConnector registers a connector behind its own circuit breaker.
func (i *Integration) AddConnector(c Connector) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("%w: connector must have a name", models.ErrConfiguration)
	}
	i.connMu.Lock()
	defer i.connMu.Unlock()
	for _, existing := range i.connectors {
		if existing.connector.Name() == c.Name() {
			return fmt.Errorf("%w: connector %q already registered", models.ErrConfiguration, c.Name())
		}
	}

	failures := i.settings.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.Name(),
		MaxRequests: 1,
		Timeout:     i.settings.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			i.logger.Warn("siem connector breaker state changed",
				logging.Connector(name),
				"from", from.String(),
				"to", to.String())
		},
	})
	i.connectors = append(i.connectors, &connectorState{connector: c, breaker: breaker})
	return nil
}

func (i *Integration) snapshot() []*connectorState {
	i.connMu.RLock()
	defer i.connMu.RUnlock()
	out := make([]*connectorState, len(i.connectors))
	copy(out, i.connectors)
	return out
}

// SendEvent normalizes e and queues it for the next batch.
func (i *Integration) SendEvent(ctx context.Context, e models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := Normalize(e, i.settings.Hostname, i.settings.SourceIP)

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return models.ErrClosed
	}
	if len(i.pending) >= i.settings.QueueSize {
		i.mu.Unlock()
		return fmt.Errorf("%w: siem queue holds %d events", models.ErrQueueFull, i.settings.QueueSize)
	}
	i.pending = append(i.pending, ev)
	n := len(i.pending)
	i.mu.Unlock()

	metrics.QueueDepth.WithLabelValues("siem").Set(float64(n))
	if n >= i.settings.BatchSize {
		select {
		case i.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of queued events.
func (i *Integration) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

// Flush sends everything queued so far and waits for every connector.
func (i *Integration) Flush(ctx context.Context) {
	i.sendMu.Lock()
	defer i.sendMu.Unlock()

	for {
		i.mu.Lock()
		n := len(i.pending)
		if n > i.settings.BatchSize {
			n = i.settings.BatchSize
		}
		batch := make([]Event, n)
		copy(batch, i.pending[:n])
		i.pending = i.pending[n:]
		left := len(i.pending)
		i.mu.Unlock()

		metrics.QueueDepth.WithLabelValues("siem").Set(float64(left))
		if len(batch) == 0 {
			return
		}
		i.dispatch(ctx, batch)
		if left == 0 || ctx.Err() != nil {
			return
		}
	}
}

func (i *Integration) dispatch(ctx context.Context, batch []Event) {
	metrics.SIEMBatchSize.Observe(float64(len(batch)))

	var wg sync.WaitGroup
	for _, cs := range i.snapshot() {
		wg.Add(1)
		go func(cs *connectorState) {
			defer wg.Done()
			i.deliver(ctx, cs, batch)
		}(cs)
	}
	wg.Wait()
}

func (i *Integration) deliver(ctx context.Context, cs *connectorState, batch []Event) {
	name := cs.connector.Name()
	_, err := cs.breaker.Execute(func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("connector panic: %v", r)
			}
		}()
		sendCtx, cancel := context.WithTimeout(ctx, i.settings.SendTimeout)
		defer cancel()
		return nil, send(sendCtx, cs.connector, batch)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
		}
		cs.record(len(batch), err)
		metrics.SIEMEvents.WithLabelValues(name, "failure").Add(float64(len(batch)))
		i.logger.WarnContext(ctx, "siem delivery failed",
			logging.Connector(name),
			"batch_size", len(batch),
			logging.Error(err))
		return
	}
	cs.record(len(batch), nil)
	metrics.SIEMEvents.WithLabelValues(name, "success").Add(float64(len(batch)))
}

func send(ctx context.Context, c Connector, batch []Event) error {
	if bs, ok := c.(BatchSender); ok {
		return bs.SendBatch(ctx, batch)
	}
	var errs []error
	for _, e := range batch {
		if err := c.SendEvent(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Start runs the batcher until Stop.
func (i *Integration) Start(ctx context.Context) {
	i.mu.Lock()
	if i.started || i.closed {
		i.mu.Unlock()
		return
	}
	i.started = true
	i.mu.Unlock()

	go i.run(ctx)
}

func (i *Integration) run(ctx context.Context) {
	defer close(i.stopped)
	ticker := time.NewTicker(i.settings.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Flush(ctx)
		case <-i.kick:
			i.Flush(ctx)
		}
	}
}

// Stop refuses new events, performs a final flush within ctx and closes
// connectors that hold sessions.
func (i *Integration) Stop(ctx context.Context) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	started := i.started
	i.mu.Unlock()

	close(i.stop)
	if started {
		select {
		case <-i.stopped:
		case <-ctx.Done():
		}
	}

	i.Flush(ctx)
	if left := i.Pending(); left > 0 {
		i.logger.WarnContext(ctx, "siem events dropped at shutdown", "count", left)
	}

	for _, cs := range i.snapshot() {
		if closer, ok := cs.connector.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				i.logger.WarnContext(ctx, "failed to close siem connector",
					logging.Connector(cs.connector.Name()), logging.Error(err))
			}
		}
	}
}

// Status returns delivery state for every connector, in registration order.
func (i *Integration) Status() []ConnectorStatus {
	conns := i.snapshot()
	out := make([]ConnectorStatus, 0, len(conns))
	for _, cs := range conns {
		out = append(out, cs.status())
	}
	return out
}

// CheckConnectors health-checks connectors that support it. Others report their
// delivery state.
func (i *Integration) CheckConnectors(ctx context.Context) []ConnectorStatus {
	conns := i.snapshot()
	out := make([]ConnectorStatus, len(conns))

	var wg sync.WaitGroup
	for idx, cs := range conns {
		wg.Add(1)
		go func(idx int, cs *connectorState) {
			defer wg.Done()
			st := cs.status()
			if hc, ok := cs.connector.(HealthChecker); ok {
				checkCtx, cancel := context.WithTimeout(ctx, i.settings.SendTimeout)
				defer cancel()
				if err := hc.HealthCheck(checkCtx); err != nil {
					st.Healthy = false
					st.LastError = err.Error()
				} else if st.BreakerState != gobreaker.StateOpen.String() {
					st.Healthy = true
				}
			}
			out[idx] = st
		}(idx, cs)
	}
	wg.Wait()
	return out
}
