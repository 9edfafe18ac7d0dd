package service

import (
	"context"
	"sync"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/dlq"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/notification"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/siem"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/storage"
)

// EventStatus is the pipeline progress of one event.
type EventStatus struct {
	ID          string              `json:"id"`
	State       models.EventState   `json:"state"`
	History     []models.EventState `json:"history"`
	ChainIndex  *uint64             `json:"chain_index,omitempty"`
	StageErrors map[string]string   `json:"stage_errors,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (st *EventStatus) clone() EventStatus {
	out := *st
	out.History = append([]models.EventState(nil), st.History...)
	if st.ChainIndex != nil {
		idx := *st.ChainIndex
		out.ChainIndex = &idx
	}
	if st.StageErrors != nil {
		out.StageErrors = make(map[string]string, len(st.StageErrors))
		for k, v := range st.StageErrors {
			out.StageErrors[k] = v
		}
	}
	return out
}

// tracker keeps the newest statuses up to a retention limit.
type tracker struct {
	mu       sync.Mutex
	limit    int
	statuses map[string]*EventStatus
	order    []string
}

func newTracker(limit int) *tracker {
	return &tracker{limit: limit, statuses: make(map[string]*EventStatus)}
}

func (t *tracker) begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[id] = &EventStatus{
		ID:        id,
		State:     models.StateQueued,
		History:   []models.EventState{models.StateQueued},
		UpdatedAt: time.Now().UTC(),
	}
	t.order = append(t.order, id)
	for len(t.order) > t.limit {
		delete(t.statuses, t.order[0])
		t.order = t.order[1:]
	}
}

func (t *tracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, id)
}

func (t *tracker) advance(id string, state models.EventState, fn func(*EventStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.statuses[id]
	if !ok || st.State.Terminal() {
		return
	}
	st.State = state
	st.History = append(st.History, state)
	st.UpdatedAt = time.Now().UTC()
	if fn != nil {
		fn(st)
	}
}

func (t *tracker) stageError(id, stage string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.statuses[id]
	if !ok {
		return
	}
	if st.StageErrors == nil {
		st.StageErrors = make(map[string]string)
	}
	st.StageErrors[stage] = err.Error()
	st.UpdatedAt = time.Now().UTC()
}

func (t *tracker) fail(id, stage string, err error) {
	t.stageError(id, stage, err)
	t.advance(id, models.StateFailed, nil)
}

func (t *tracker) get(id string) (EventStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.statuses[id]
	if !ok {
		return EventStatus{}, false
	}
	return st.clone(), true
}

// EventStatus returns the tracked progress of an event. Statuses older than
// the retention window are gone and return ErrNotFound.
func (s *Service) EventStatus(id string) (EventStatus, error) {
	st, ok := s.tracker.get(id)
	if !ok {
		return EventStatus{}, models.ErrNotFound
	}
	return st, nil
}

// StatusReport summarizes the service.
type StatusReport struct {
	ChainLength     uint64                  `json:"chain_length"`
	MerkleRoot      string                  `json:"merkle_root"`
	Storage         []storage.Location      `json:"storage"`
	SIEM            []siem.ConnectorStatus  `json:"siem"`
	QueueDepth      int                     `json:"queue_depth"`
	EventsProcessed uint64                  `json:"events_processed"`
	EventsFailed    uint64                  `json:"events_failed"`
	KeyVersions     []int                   `json:"key_versions"`
	DLQ             dlq.Stats               `json:"dlq"`
	Bus             *messaging.HealthStatus `json:"bus,omitempty"`
}

// Status reports chain, storage and SIEM state.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	root, err := s.Chain.MerkleRoot(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{
		ChainLength:     s.Chain.Length(),
		MerkleRoot:      root,
		Storage:         []storage.Location{},
		SIEM:            []siem.ConnectorStatus{},
		QueueDepth:      s.QueueDepth(),
		EventsProcessed: s.processed.Load(),
		EventsFailed:    s.failed.Load(),
		KeyVersions:     s.Keys.Versions(),
		DLQ:             s.DLQ.Stats(),
	}
	if s.Storage != nil {
		report.Storage = s.Storage.Locations()
	}
	if s.SIEM != nil {
		report.SIEM = s.SIEM.Status()
	}
	if s.Bus != nil {
		bus := messaging.CheckClientHealth(ctx, s.Bus)
		report.Bus = &bus
	}
	return report, nil
}

// SearchLogs returns metadata of matching encrypted records.
func (s *Service) SearchLogs(ctx context.Context, filter models.SearchFilter) ([]models.LogMetadata, error) {
	return s.Store.SearchLogs(ctx, filter)
}

// NotificationHistory returns delivery records, newest first.
func (s *Service) NotificationHistory(filter notification.HistoryFilter) []notification.Record {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.History(filter)
}
