package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/correlation"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/chain"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/dlq"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/metrics"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Pipeline stage names used in status, DLQ entries and metrics.
const (
	StageChain     = "chain"
	StageEncrypt   = "encrypt"
	StageReplicate = "replicate"
	StageSIEM      = "siem"
	StageNotify    = "notify"
)

var eventTypePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// LogRequest is one event submitted for logging.
type LogRequest struct {
	EventType     string                 `json:"event_type"`
	Severity      models.Severity        `json:"severity"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Actor         string                 `json:"actor,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	// Notify defaults to true when unset.
	Notify             *bool `json:"notify,omitempty"`
	ComplianceEvidence bool  `json:"compliance_evidence,omitempty"`
}

func (r LogRequest) notify() bool {
	return r.Notify == nil || *r.Notify
}

func (r LogRequest) validate() error {
	if !eventTypePattern.MatchString(r.EventType) {
		return fmt.Errorf("%w: invalid event type %q", models.ErrConfiguration, r.EventType)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: invalid severity %q", models.ErrConfiguration, r.Severity)
	}
	return nil
}

type stageOptions struct {
	notify   bool
	evidence bool
	// inline flushes SIEM and dispatches notifications before returning.
	inline bool
}

type job struct {
	ctx   context.Context
	event models.Event
	opts  stageOptions
}

// replicaBundle is written to chain/<index>.json.
type replicaBundle struct {
	EventID string           `json:"event_id"`
	Entry   *models.LogEntry `json:"entry"`
}

// evidenceBundle is written to evidence/<id>.json for compliance events.
type evidenceBundle struct {
	Event      models.Event `json:"event"`
	ChainIndex uint64       `json:"chain_index"`
	ChainHash  string       `json:"chain_hash"`
	Signature  string       `json:"signature"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// ChainPath is the replica path of a chain entry.
func ChainPath(index uint64) string {
	return "chain/" + strconv.FormatUint(index, 10) + ".json"
}

// EvidencePath is the replica path of a compliance evidence bundle.
func EvidencePath(eventID string) string {
	return "evidence/" + eventID + ".json"
}

// LogEvent validates and logs one event. Critical events run every stage
// before returning and report durability failures; other events are queued
// and processed by a worker.
func (s *Service) LogEvent(ctx context.Context, req LogRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	if req.CorrelationID != "" {
		ctx = correlation.NewContext(ctx, req.CorrelationID)
	}
	ctx, corrID := correlation.Ensure(ctx)

	// Snapshot the payload so later changes to the caller's map never
	// reach the chain.
	payload, err := chain.NormalizePayload(req.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}

	ev := models.Event{
		ID:            uuid.New().String(),
		Type:          req.EventType,
		Severity:      req.Severity,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
		Actor:         req.Actor,
		CorrelationID: corrID,
	}
	opts := stageOptions{
		notify:   req.notify(),
		evidence: req.ComplianceEvidence,
		inline:   req.Severity.IsCritical(),
	}

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		return "", models.ErrClosed
	}

	s.tracker.begin(ev.ID)

	if req.Severity.IsCritical() {
		if err := s.process(ctx, ev, opts); err != nil {
			return "", err
		}
		return ev.ID, nil
	}

	select {
	case s.queueFor(corrID) <- job{ctx: context.WithoutCancel(ctx), event: ev, opts: opts}:
		return ev.ID, nil
	default:
		s.tracker.forget(ev.ID)
		s.logger.WarnContext(ctx, "event queue full", logging.EventType(ev.Type))
		return "", fmt.Errorf("event queue: %w", models.ErrQueueFull)
	}
}

// process runs every stage for one event. Only chain and encryption
// failures are returned.
func (s *Service) process(ctx context.Context, ev models.Event, opts stageOptions) error {
	log := s.logger.With(logging.EventID(ev.ID), logging.EventType(ev.Type))

	entry, err := s.Chain.Append(ctx, ev.Type, ev.Severity, ev.Payload, ev.Actor, ev.CorrelationID)
	if err != nil {
		return s.fatal(ctx, log, ev, StageChain, err)
	}
	ev.ChainIndex = entry.Index
	ev.ChainHash = entry.Hash
	ev.Timestamp = entry.Timestamp
	ev.Payload = entry.Payload
	s.tracker.advance(ev.ID, models.StateChainAppended, func(st *EventStatus) {
		idx := entry.Index
		st.ChainIndex = &idx
	})

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return s.fatal(ctx, log, ev, StageEncrypt, fmt.Errorf("%w: encode payload: %w", models.ErrDurability, err))
	}
	if _, err := s.Store.EncryptLog(ctx, ev.ID, payload, ev.Type, ev.Severity, ev.Actor, ev.CorrelationID); err != nil {
		return s.fatal(ctx, log, ev, StageEncrypt, err)
	}
	s.tracker.advance(ev.ID, models.StateEncryptedStored, nil)

	if s.replicate(ctx, log, ev, entry, opts.evidence) {
		s.tracker.advance(ev.ID, models.StateReplicated, nil)
	}

	var wg sync.WaitGroup
	if s.SIEM != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SIEM.SendEvent(ctx, ev); err != nil {
				s.degrade(ctx, log, ev, StageSIEM, err)
				return
			}
			if opts.inline {
				s.SIEM.Flush(ctx)
			}
			s.tracker.advance(ev.ID, models.StateSIEMForwarded, nil)
		}()
	}
	if s.Notifier != nil && opts.notify {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notify := s.Notifier.Notify
			if opts.inline {
				notify = s.Notifier.Dispatch
			}
			if err := notify(ctx, ev); err != nil {
				s.degrade(ctx, log, ev, StageNotify, err)
				return
			}
			s.tracker.advance(ev.ID, models.StateNotified, nil)
		}()
	}
	wg.Wait()

	s.tracker.advance(ev.ID, models.StateDone, nil)
	s.processed.Add(1)
	metrics.EventsLogged.WithLabelValues(string(ev.Severity)).Inc()

	log.DebugContext(ctx, "event logged", logging.ChainIndex(entry.Index))
	s.emit(ctx, ev)
	return nil
}

func (s *Service) replicate(ctx context.Context, log *logging.Logger, ev models.Event, entry *models.LogEntry, evidence bool) bool {
	if s.Storage == nil {
		return false
	}

	writes := map[string]interface{}{
		ChainPath(entry.Index): replicaBundle{EventID: ev.ID, Entry: entry},
	}
	if evidence {
		writes[EvidencePath(ev.ID)] = evidenceBundle{
			Event:      ev,
			ChainIndex: entry.Index,
			ChainHash:  entry.Hash,
			Signature:  entry.Signature,
			RecordedAt: time.Now().UTC(),
		}
	}

	ok := true
	for path, v := range writes {
		data, err := json.Marshal(v)
		if err != nil {
			s.degrade(ctx, log, ev, StageReplicate, fmt.Errorf("encode %s: %w", path, err))
			ok = false
			continue
		}
		written, failed := s.Storage.WriteRedundant(ctx, path, data)
		if !written {
			s.degrade(ctx, log, ev, StageReplicate,
				fmt.Errorf("%w: %s not written to any location (failed: %v)", models.ErrBackendUnavailable, path, failed))
			ok = false
			continue
		}
		if len(failed) > 0 {
			log.WarnContext(ctx, "replica under-replicated", logging.Path(path), "failed_locations", failed)
		}
	}
	return ok
}

// fatal records a durability failure. The event is not logged.
func (s *Service) fatal(ctx context.Context, log *logging.Logger, ev models.Event, stage string, err error) error {
	s.failed.Add(1)
	metrics.StageFailures.WithLabelValues(stage).Inc()
	s.tracker.fail(ev.ID, stage, err)
	log.ErrorContext(ctx, "event not logged", logging.Stage(stage), logging.Error(err))
	return err
}

// degrade records a best-effort failure. The logged record stays valid.
func (s *Service) degrade(ctx context.Context, log *logging.Logger, ev models.Event, stage string, err error) {
	metrics.StageFailures.WithLabelValues(stage).Inc()
	s.tracker.stageError(ev.ID, stage, err)
	log.WarnContext(ctx, "pipeline stage degraded", logging.Stage(stage), logging.Error(err))

	if s.DLQ == nil {
		return
	}
	payload, _ := json.Marshal(ev)
	if werr := s.DLQ.Write(ctx, dlq.Entry{
		EventID: ev.ID,
		Stage:   stage,
		Error:   err.Error(),
		Payload: payload,
	}); werr != nil {
		log.ErrorContext(ctx, "failed to dead-letter stage failure", logging.Stage(stage), logging.Error(werr))
	}
}
