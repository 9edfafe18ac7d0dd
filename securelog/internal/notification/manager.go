package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Settings tunes a Manager. Zero values fall back to defaults.
type Settings struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	SendTimeout  time.Duration
	HistorySize  int
	RetryInitial time.Duration
}

func (s *Settings) applyDefaults() {
	if s.Workers <= 0 {
		s.Workers = 2
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 1000
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 10 * time.Second
	}
	if s.HistorySize <= 0 {
		s.HistorySize = 1000
	}
	if s.RetryInitial <= 0 {
		s.RetryInitial = 500 * time.Millisecond
	}
}

// Manager is the NotificationManager.
type Manager struct {
	settings  Settings
	templates *Templates
	limiter   RateLimiter
	logger    *logging.Logger
	now       func() time.Time

	rulesMu sync.RWMutex
	rules   map[string]*Rule

	channelsMu sync.RWMutex
	channels   map[ChannelType]Channel

	cooldownMu   sync.Mutex
	lastDispatch map[string]time.Time

	historyMu sync.RWMutex
	history   []Record

	stateMu sync.RWMutex
	queue   chan models.Event
	started bool
	closed  bool
	pending atomic.Int64
	wg      sync.WaitGroup

	escMu       sync.Mutex
	escalations map[*time.Timer]struct{}
	escWG       sync.WaitGroup
	stopCtx     context.Context
	stopCancel  context.CancelFunc
}

// Option customizes a Manager.
type Option func(*Manager)

func WithRateLimiter(l RateLimiter) Option {
	return func(m *Manager) { m.limiter = l }
}

func WithTemplates(t *Templates) Option {
	return func(m *Manager) { m.templates = t }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager with no channels and no rules.
func NewManager(settings Settings, logger *logging.Logger, opts ...Option) *Manager {
	settings.applyDefaults()
	m := &Manager{
		settings:     settings,
		templates:    NewTemplates(),
		logger:       logging.OrDefault(logger).With(logging.Component("notification")),
		now:          time.Now,
		rules:        make(map[string]*Rule),
		channels:     make(map[ChannelType]Channel),
		lastDispatch: make(map[string]time.Time),
		queue:        make(chan models.Event, settings.QueueSize),
		escalations:  make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limiter == nil {
		m.limiter = NewMemoryRateLimiter(time.Hour, m.now)
	}
	m.stopCtx, m.stopCancel = context.WithCancel(context.Background())
	return m
}

// RegisterChannel makes a channel available to rules.
func (m *Manager) RegisterChannel(ch Channel) {
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()
	m.channels[ch.Type()] = ch
}

func (m *Manager) channel(t ChannelType) (Channel, bool) {
	m.channelsMu.RLock()
	defer m.channelsMu.RUnlock()
	ch, ok := m.channels[t]
	return ch, ok
}

// Templates exposes the registry so callers can add custom templates.
func (m *Manager) Templates() *Templates {
	return m.templates
}

func (m *Manager) validate(r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	for chType, recipients := range r.Channels {
		ch, ok := m.channel(chType)
		if !ok {
			return fmt.Errorf("%w: rule %s uses unknown channel %q", models.ErrConfiguration, r.ID, chType)
		}
		for _, recipient := range recipients {
			if err := ch.ValidateRecipient(recipient); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
	}
	if r.TemplateID != "" && !m.templates.Has(r.TemplateID) {
		return fmt.Errorf("%w: rule %s uses unknown template %q", models.ErrConfiguration, r.ID, r.TemplateID)
	}
	return nil
}

// AddRule validates and registers a rule, replacing one with the same id.
func (m *Manager) AddRule(r Rule) error {
	if err := m.validate(&r); err != nil {
		return err
	}
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()
	m.rules[r.ID] = &r
	m.logger.Info("notification rule registered", logging.RuleID(r.ID), "enabled", r.Enabled)
	return nil
}

// ReplaceRules validates every rule first and swaps the whole set only
// when all of them are valid.
func (m *Manager) ReplaceRules(rules []Rule) error {
	next := make(map[string]*Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if err := m.validate(&r); err != nil {
			return err
		}
		if _, dup := next[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", models.ErrConfiguration, r.ID)
		}
		next[r.ID] = &r
	}
	m.rulesMu.Lock()
	m.rules = next
	m.rulesMu.Unlock()
	m.logger.Info("notification rules replaced", "count", len(next))
	return nil
}

func (m *Manager) RemoveRule(id string) bool {
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()
	_, ok := m.rules[id]
	delete(m.rules, id)
	return ok
}

// Rules returns copies of every rule ordered by id.
func (m *Manager) Rules() []Rule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) matching(e models.Event) []*Rule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	var out []*Rule
	for _, r := range m.rules {
		if r.Matches(e) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Notify enqueues e without blocking.
func (m *Manager) Notify(ctx context.Context, e models.Event) error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.closed {
		return models.ErrClosed
	}
	m.pending.Add(1)
	select {
	case m.queue <- e:
		metrics.QueueDepth.WithLabelValues("notification").Set(float64(len(m.queue)))
		return nil
	default:
		m.pending.Add(-1)
		m.logger.WarnContext(ctx, "notification queue full, dropping event", logging.EventID(e.ID))
		return fmt.Errorf("notification queue: %w", models.ErrQueueFull)
	}
}

// Dispatch evaluates every rule against e on the caller's goroutine and
// returns once all deliveries have been recorded.
func (m *Manager) Dispatch(ctx context.Context, e models.Event) error {
	m.stateMu.RLock()
	closed := m.closed
	m.stateMu.RUnlock()
	if closed {
		return models.ErrClosed
	}
	m.process(ctx, e)
	return nil
}

// Start launches the dispatch workers.
func (m *Manager) Start(ctx context.Context) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	for i := 0; i < m.settings.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.logger.Info("notification workers started", "workers", m.settings.Workers)
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for e := range m.queue {
		m.process(ctx, e)
		m.pending.Add(-1)
		metrics.QueueDepth.WithLabelValues("notification").Set(float64(len(m.queue)))
	}
}

// Flush blocks until every queued event has been dispatched.
func (m *Manager) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for m.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop refuses new events, drains the queue within ctx and cancels
// pending escalations.
func (m *Manager) Stop(ctx context.Context) error {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("notification drain: %w", ctx.Err())
	}

	m.escMu.Lock()
	for t := range m.escalations {
		if t.Stop() {
			m.escWG.Done()
		}
	}
	m.escalations = map[*time.Timer]struct{}{}
	m.escMu.Unlock()
	m.stopCancel()
	m.escWG.Wait()

	if cerr := m.limiter.Close(); cerr != nil && err == nil {
		err = cerr
	}
	m.logger.Info("notification manager stopped")
	return err
}

func (m *Manager) process(ctx context.Context, e models.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification dispatch panicked", logging.EventID(e.ID), "panic", r)
		}
	}()
	for _, rule := range m.matching(e) {
		m.dispatch(ctx, rule, e, false)
	}
}

// inCooldown reserves the dispatch slot for rule when it is free.
func (m *Manager) inCooldown(rule *Rule, now time.Time) bool {
	if rule.Cooldown <= 0 {
		return false
	}
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	if last, ok := m.lastDispatch[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
		return true
	}
	m.lastDispatch[rule.ID] = now
	return false
}

func (m *Manager) dispatch(ctx context.Context, rule *Rule, e models.Event, escalation bool) {
	targets := rule.targets()
	log := m.logger.With(logging.RuleID(rule.ID), logging.EventID(e.ID))

	if !escalation {
		reason := ""
		if m.inCooldown(rule, m.now()) {
			reason = "cooldown active"
		} else {
			allowed, err := m.limiter.Allow(ctx, rule.ID, rule.MaxPerHour)
			switch {
			case err != nil:
				log.WarnContext(ctx, "rate limiter unavailable, allowing dispatch", logging.Error(err))
			case !allowed:
				reason = fmt.Sprintf("hourly cap of %d reached", rule.MaxPerHour)
			}
		}
		if reason != "" {
			for _, t := range targets {
				rec := m.newRecord(rule, e, t, escalation)
				rec.Status = StatusRateLimited
				rec.Error = reason
				m.record(rec)
			}
			log.InfoContext(ctx, "notification suppressed", "reason", reason)
			return
		}
	}

	failed := false
	for _, t := range targets {
		rec := m.deliver(ctx, rule, e, t, escalation)
		if rec.Status == StatusFailed {
			failed = true
		}
		m.record(rec)
	}

	if failed && !escalation && len(rule.EscalationChannels) > 0 {
		m.scheduleEscalation(rule, e)
	}
}

func (m *Manager) newRecord(rule *Rule, e models.Event, t target, escalation bool) Record {
	return Record{
		ID:         uuid.NewString(),
		EventID:    e.ID,
		RuleID:     rule.ID,
		Channel:    t.channel,
		Recipient:  t.recipient,
		Status:     StatusPending,
		CreatedAt:  m.now().UTC(),
		Escalation: escalation,
	}
}

func (m *Manager) deliver(ctx context.Context, rule *Rule, e models.Event, t target, escalation bool) Record {
	rec := m.newRecord(rule, e, t, escalation)
	fail := func(err error) Record {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		m.logger.WarnContext(ctx, "notification delivery failed",
			logging.RuleID(rule.ID), logging.EventID(e.ID), logging.Channel(string(t.channel)),
			"retries", rec.RetryCount, logging.Error(err))
		return rec
	}

	ch, ok := m.channel(t.channel)
	if !ok {
		return fail(fmt.Errorf("%w: channel %s not registered", models.ErrConfiguration, t.channel))
	}
	if err := ch.ValidateRecipient(t.recipient); err != nil {
		return fail(err)
	}

	templateID := rule.TemplateID
	if templateID == "" {
		templateID = TemplateDefault
		if e.Severity.IsCritical() {
			templateID = TemplateCriticalAlert
		}
	}
	subject, body, err := m.templates.Render(templateID, rule, e, escalation)
	if err != nil {
		return fail(err)
	}
	msg := Message{Subject: subject, Body: body, Event: e, RuleID: rule.ID, Escalation: escalation, CreatedAt: m.now()}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.settings.RetryInitial
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	attempts := 0
	err = backoff.Retry(func() (err error) {
		attempts++
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: channel %s panicked: %v", models.ErrBackendUnavailable, t.channel, r)
			}
		}()
		sendCtx, cancel := context.WithTimeout(ctx, m.settings.SendTimeout)
		defer cancel()
		if err := ch.Send(sendCtx, t.recipient, msg); err != nil {
			if errors.Is(err, models.ErrConfiguration) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.settings.MaxRetries)), ctx))
	rec.RetryCount = attempts - 1

	if err != nil {
		metrics.Notifications.WithLabelValues(string(t.channel), string(StatusFailed)).Inc()
		return fail(fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err))
	}
	sent := m.now().UTC()
	rec.Status = StatusSent
	rec.SentAt = &sent
	metrics.Notifications.WithLabelValues(string(t.channel), string(StatusSent)).Inc()
	return rec
}

// scheduleEscalation arms the single escalation for (rule, event).
func (m *Manager) scheduleEscalation(rule *Rule, e models.Event) {
	esc := rule.escalationRule()
	if len(esc.Channels) == 0 {
		return
	}
	escalated := e
	escalated.Severity = models.SeverityCritical

	m.escMu.Lock()
	defer m.escMu.Unlock()
	if m.stopCtx.Err() != nil {
		return
	}
	m.escWG.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(rule.EscalationDelay, func() {
		defer m.escWG.Done()
		m.escMu.Lock()
		delete(m.escalations, timer)
		m.escMu.Unlock()
		m.dispatch(m.stopCtx, esc, escalated, true)
	})
	m.escalations[timer] = struct{}{}
	metrics.Escalations.Inc()
	m.logger.Warn("notification escalation scheduled",
		logging.RuleID(rule.ID), logging.EventID(e.ID), "delay", rule.EscalationDelay.String())
}

func (m *Manager) record(rec Record) {
	if rec.Status == StatusRateLimited {
		metrics.Notifications.WithLabelValues(string(rec.Channel), string(StatusRateLimited)).Inc()
	}
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	m.history = append(m.history, rec)
	if over := len(m.history) - m.settings.HistorySize; over > 0 {
		m.history = append([]Record(nil), m.history[over:]...)
	}
}

// History returns matching records, newest first.
func (m *Manager) History(filter HistoryFilter) []Record {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	var out []Record
	for i := len(m.history) - 1; i >= 0; i-- {
		if filter.matches(m.history[i]) {
			out = append(out, m.history[i])
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out
}
