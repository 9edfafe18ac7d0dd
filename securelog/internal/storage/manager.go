package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

const (
	defaultHealthInterval   = 30 * time.Second
	defaultOperationTimeout = 10 * time.Second
)

type registered struct {
	loc     Location
	backend Backend
}

// Manager is the RedundantStorageManager.
type Manager struct {
	mu        sync.RWMutex
	locations map[string]*registered

	replicationFactor int
	healthInterval    time.Duration
	opTimeout         time.Duration
	logger            *logging.Logger

	stop    chan struct{}
	stopped chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.healthInterval = d
		}
	}
}

// WithOperationTimeout bounds every individual backend call.
func WithOperationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.opTimeout = d
		}
	}
}

func NewManager(replicationFactor int, logger *logging.Logger, opts ...Option) *Manager {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	m := &Manager{
		locations:         make(map[string]*registered),
		replicationFactor: replicationFactor,
		healthInterval:    defaultHealthInterval,
		opTimeout:         defaultOperationTimeout,
		logger:            logging.OrDefault(logger).With(logging.Component("storage")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a location. It starts active until a health check says otherwise.
func (m *Manager) Register(loc Location, backend Backend) error {
	if loc.ID == "" {
		return fmt.Errorf("%w: storage location without id", models.ErrConfiguration)
	}
	if backend == nil {
		return fmt.Errorf("%w: storage location %s has no backend", models.ErrConfiguration, loc.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.locations[loc.ID]; exists {
		return fmt.Errorf("%w: duplicate storage location %s", models.ErrConfiguration, loc.ID)
	}
	loc.Active = true
	m.locations[loc.ID] = &registered{loc: loc, backend: backend}
	metrics.StorageLocationActive.WithLabelValues(loc.ID).Set(1)
	return nil
}

// Locations returns a snapshot ordered by priority.
func (m *Manager) Locations() []Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Location, 0, len(m.locations))
	for _, r := range m.locations {
		out = append(out, r.loc)
	}
	sortLocations(out)
	return out
}

type target struct {
	id      string
	backend Backend
}

func (m *Manager) active() []target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	locs := make([]Location, 0, len(m.locations))
	for _, r := range m.locations {
		if r.loc.Active {
			locs = append(locs, r.loc)
		}
	}
	sortLocations(locs)
	out := make([]target, len(locs))
	for i, l := range locs {
		out[i] = target{id: l.ID, backend: m.locations[l.ID].backend}
	}
	return out
}

func sortLocations(locs []Location) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Priority != locs[j].Priority {
			return locs[i].Priority < locs[j].Priority
		}
		return locs[i].ID < locs[j].ID
	})
}

// call runs one backend operation under the per-call timeout. Panics and
// errors other than ErrNotFound come back as ErrBackendUnavailable.
func (m *Manager) call(ctx context.Context, id, op string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s %s panicked: %v", models.ErrBackendUnavailable, id, op, r)
		}
	}()
	if err := fn(ctx); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %w", models.ErrBackendUnavailable, id, op, err)
	}
	return nil
}

func (m *Manager) read(ctx context.Context, t target, path string) ([]byte, error) {
	var data []byte
	err := m.call(ctx, t.id, "read", func(ctx context.Context) error {
		var err error
		data, err = t.backend.Read(ctx, path)
		return err
	})
	return data, err
}

// writeVerified writes then reads back; the location only counts when the
// readback checksum matches.
func (m *Manager) writeVerified(ctx context.Context, t target, path string, data []byte, want string) error {
	if err := m.call(ctx, t.id, "write", func(ctx context.Context) error {
		return t.backend.Write(ctx, path, data)
	}); err != nil {
		return err
	}
	got, err := m.read(ctx, t, path)
	if err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	if sum := Checksum(got); sum != want {
		return fmt.Errorf("%w: readback checksum %s does not match %s", models.ErrIntegrity, sum, want)
	}
	return nil
}

// WriteRedundant writes data to up to the replication factor of active
// locations in priority order. It succeeds when at least one location
// confirmed the write.
func (m *Manager) WriteRedundant(ctx context.Context, path string, data []byte) (bool, []string) {
	targets := m.active()
	if len(targets) > m.replicationFactor {
		targets = targets[:m.replicationFactor]
	}
	if len(targets) == 0 {
		m.logger.ErrorContext(ctx, "no active storage locations", logging.Path(path))
		return false, nil
	}

	want := Checksum(data)
	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = m.writeVerified(ctx, t, path, data, want)
		}(i, t)
	}
	wg.Wait()

	var written []string
	for i, t := range targets {
		if results[i] != nil {
			metrics.StorageWrites.WithLabelValues(t.id, "failed").Inc()
			m.logger.WarnContext(ctx, "replica write failed",
				logging.Location(t.id), logging.Path(path), logging.Error(results[i]))
			continue
		}
		metrics.StorageWrites.WithLabelValues(t.id, "ok").Inc()
		written = append(written, t.id)
	}

	if len(written) < len(targets) {
		m.logger.WarnContext(ctx, "object under-replicated",
			logging.Path(path), "written", len(written), "wanted", len(targets))
	}
	return len(written) > 0, written
}

// ReadRedundant returns the object from the first active location that has it.
func (m *Manager) ReadRedundant(ctx context.Context, path string) ([]byte, error) {
	for _, t := range m.active() {
		data, err := m.read(ctx, t, path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			m.logger.WarnContext(ctx, "replica read failed, trying next location",
				logging.Location(t.id), logging.Path(path), logging.Error(err))
		}
	}
	return nil, fmt.Errorf("object %s: %w", path, models.ErrNotFound)
}

type replicaState struct {
	exists   bool
	checksum string
	data     []byte
	err      error
}

func (m *Manager) inspect(ctx context.Context, targets []target, path string) []replicaState {
	states := make([]replicaState, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			data, err := m.read(ctx, t, path)
			switch {
			case err == nil:
				states[i] = replicaState{exists: true, checksum: Checksum(data), data: data}
			case errors.Is(err, models.ErrNotFound):
			default:
				states[i] = replicaState{err: err}
			}
		}(i, t)
	}
	wg.Wait()
	return states
}

// VerifyRedundancy reports existence and checksum of path at every active
// location. The object is consistent when at least
// min(replicationFactor, active locations) locations hold it, every holder
// agrees on the checksum and no location failed to answer.
func (m *Manager) VerifyRedundancy(ctx context.Context, path string) (RedundancyReport, error) {
	targets := m.active()
	report := RedundancyReport{
		Path:      path,
		Locations: make(map[string]bool, len(targets)),
		Checksums: make(map[string]string, len(targets)),
	}
	if len(targets) == 0 {
		return report, fmt.Errorf("%w: no active storage locations", models.ErrBackendUnavailable)
	}

	distinct := make(map[string]struct{})
	failed := false
	holders := 0
	for i, st := range m.inspect(ctx, targets, path) {
		id := targets[i].id
		report.Locations[id] = st.exists
		if st.err != nil {
			failed = true
			m.logger.WarnContext(ctx, "replica unreadable during verification",
				logging.Location(id), logging.Path(path), logging.Error(st.err))
			continue
		}
		if st.exists {
			holders++
			report.Checksums[id] = st.checksum
			distinct[st.checksum] = struct{}{}
		}
	}
	required := min(m.replicationFactor, len(targets))
	report.IsConsistent = len(distinct) == 1 && !failed && holders >= required
	return report, nil
}

// RepairRedundancy rewrites every active location whose replica is missing
// or differs from the majority checksum. Without a strict majority among
// the holders nothing is written and the error wraps ErrIntegrity.
func (m *Manager) RepairRedundancy(ctx context.Context, path string) (RepairResult, error) {
	result := RepairResult{Path: path}
	targets := m.active()
	states := m.inspect(ctx, targets, path)

	counts := make(map[string]int)
	holders := 0
	var source []byte
	for _, st := range states {
		if st.exists {
			holders++
			counts[st.checksum]++
		}
	}
	if holders == 0 {
		metrics.StorageRepairs.WithLabelValues("not_found").Inc()
		return result, fmt.Errorf("object %s: %w", path, models.ErrNotFound)
	}
	for sum, n := range counts {
		if n*2 > holders {
			result.MajorityChecksum = sum
		}
	}
	if result.MajorityChecksum == "" {
		metrics.StorageRepairs.WithLabelValues("no_majority").Inc()
		m.logger.ErrorContext(ctx, "replicas diverge without a majority, refusing to repair",
			logging.Path(path), "holders", holders, "variants", len(counts))
		return result, fmt.Errorf("%w: no majority checksum for %s across %d replicas", models.ErrIntegrity, path, holders)
	}
	for _, st := range states {
		if st.exists && st.checksum == result.MajorityChecksum {
			source = st.data
			break
		}
	}

	for i, st := range states {
		if st.exists && st.checksum == result.MajorityChecksum {
			continue
		}
		t := targets[i]
		if err := m.writeVerified(ctx, t, path, source, result.MajorityChecksum); err != nil {
			result.Failed = append(result.Failed, t.id)
			m.logger.WarnContext(ctx, "replica repair failed",
				logging.Location(t.id), logging.Path(path), logging.Error(err))
			continue
		}
		result.Repaired = append(result.Repaired, t.id)
	}

	switch {
	case len(result.Failed) > 0:
		metrics.StorageRepairs.WithLabelValues("partial").Inc()
	case len(result.Repaired) > 0:
		metrics.StorageRepairs.WithLabelValues("repaired").Inc()
		m.logger.InfoContext(ctx, "replicas repaired", logging.Path(path), "locations", result.Repaired)
	default:
		metrics.StorageRepairs.WithLabelValues("consistent").Inc()
	}
	return result, nil
}

// CheckHealth runs one health pass over every registered location and
// updates the active flags.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.mu.RLock()
	all := make([]target, 0, len(m.locations))
	for id, r := range m.locations {
		all = append(all, target{id: id, backend: r.backend})
	}
	m.mu.RUnlock()

	type outcome struct {
		id  string
		err error
	}
	outcomes := make([]outcome, len(all))
	var wg sync.WaitGroup
	for i, t := range all {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			err := m.call(ctx, t.id, "health check", t.backend.HealthCheck)
			outcomes[i] = outcome{id: t.id, err: err}
		}(i, t)
	}
	wg.Wait()

	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outcomes {
		r, ok := m.locations[o.id]
		if !ok {
			continue
		}
		wasActive := r.loc.Active
		r.loc.LastCheck = now
		r.loc.Active = o.err == nil
		r.loc.LastError = ""
		if o.err != nil {
			r.loc.LastError = o.err.Error()
		}

		gauge := 0.0
		if r.loc.Active {
			gauge = 1
		}
		metrics.StorageLocationActive.WithLabelValues(o.id).Set(gauge)

		switch {
		case wasActive && !r.loc.Active:
			m.logger.Warn("storage location marked inactive", logging.Location(o.id), logging.Error(o.err))
		case !wasActive && r.loc.Active:
			m.logger.Info("storage location recovered", logging.Location(o.id))
		}
	}
}

// Start runs CheckHealth immediately and then on every health interval
// until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	stop, stopped := m.stop, m.stopped
	m.mu.Unlock()

	m.CheckHealth(ctx)

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(m.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	m.logger.Info("storage health loop started", "interval", m.healthInterval.String(), "locations", len(m.Locations()))
}

// Stop ends the health loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, stopped := m.stop, m.stopped
	m.stop, m.stopped = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// Close releases backends that hold connections.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for id, r := range m.locations {
		if c, ok := r.backend.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
