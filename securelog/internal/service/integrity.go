package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/chain"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/siem"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/storage"
)

// ChainReport is the hash chain part of an IntegrityReport.
type ChainReport struct {
	Valid      bool                      `json:"valid"`
	StartIndex uint64                    `json:"start_index"`
	Length     uint64                    `json:"length"`
	MerkleRoot string                    `json:"merkle_root"`
	Errors     []chain.VerificationError `json:"errors,omitempty"`
}

// StorageReport is the replica consistency part of an IntegrityReport.
type StorageReport struct {
	Checked      int                        `json:"checked"`
	Consistent   int                        `json:"consistent"`
	Inconsistent []storage.RedundancyReport `json:"inconsistent,omitempty"`
	Errors       []string                   `json:"errors,omitempty"`
}

// IntegrityReport aggregates chain verification, replica consistency and
// SIEM connector liveness.
type IntegrityReport struct {
	CheckedAt   time.Time              `json:"checked_at"`
	Valid       bool                   `json:"valid"`
	Chain       ChainReport            `json:"chain"`
	Storage     StorageReport          `json:"storage"`
	SIEM        []siem.ConnectorStatus `json:"siem"`
	SIEMHealthy bool                   `json:"siem_healthy"`
}

// VerifyIntegrity checks the chain from startIndex, samples replicated
// chain entries and health-checks SIEM connectors. Valid covers chain and
// storage; SIEM liveness is reported separately.
func (s *Service) VerifyIntegrity(ctx context.Context, startIndex uint64) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: time.Now().UTC(), SIEM: []siem.ConnectorStatus{}, SIEMHealthy: true}

	valid, defects, err := s.Chain.VerifyChain(ctx, startIndex)
	if err != nil {
		return report, fmt.Errorf("verify chain: %w", err)
	}
	root, err := s.Chain.MerkleRoot(ctx)
	if err != nil {
		return report, fmt.Errorf("merkle root: %w", err)
	}
	report.Chain = ChainReport{
		Valid:      valid,
		StartIndex: startIndex,
		Length:     s.Chain.Length(),
		MerkleRoot: root,
		Errors:     defects,
	}

	storageOK := true
	if s.Storage != nil {
		report.Storage = s.verifyReplicas(ctx, startIndex, report.Chain.Length)
		storageOK = len(report.Storage.Inconsistent) == 0 && len(report.Storage.Errors) == 0
	}

	if s.SIEM != nil {
		report.SIEM = s.SIEM.CheckConnectors(ctx)
		for _, st := range report.SIEM {
			if !st.Healthy {
				report.SIEMHealthy = false
			}
		}
	}

	report.Valid = valid && storageOK
	if !report.Valid {
		s.logger.WarnContext(ctx, "integrity verification found defects",
			"chain_defects", len(defects),
			"inconsistent_replicas", len(report.Storage.Inconsistent))
	}
	return report, nil
}

// sampleIndexes picks the last n indexes of [start, length) plus up to n
// more spread evenly over the rest.
func sampleIndexes(start, length uint64, n int) []uint64 {
	if start >= length || n <= 0 {
		return nil
	}
	seen := make(map[uint64]bool)
	var out []uint64
	add := func(i uint64) {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}

	tail := length - uint64(n)
	if uint64(n) > length || tail < start {
		tail = start
	}
	if span := tail - start; span > 0 {
		stride := span / uint64(n)
		if stride == 0 {
			stride = 1
		}
		for i := start; i < tail && len(out) < n; i += stride {
			add(i)
		}
	}
	for i := tail; i < length; i++ {
		add(i)
	}
	return out
}

func (s *Service) verifyReplicas(ctx context.Context, start, length uint64) StorageReport {
	var report StorageReport
	for _, idx := range sampleIndexes(start, length, s.settings.VerifySample) {
		path := ChainPath(idx)
		r, err := s.Storage.VerifyRedundancy(ctx, path)
		report.Checked++
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
			if errors.Is(err, models.ErrBackendUnavailable) {
				break
			}
			continue
		}
		if r.IsConsistent {
			report.Consistent++
			continue
		}
		report.Inconsistent = append(report.Inconsistent, r)
		s.logger.WarnContext(ctx, "replica inconsistency detected", logging.Path(path))
	}
	return report
}

// RepairReplicas runs majority-vote repair on every inconsistent replica
// found by VerifyIntegrity.
func (s *Service) RepairReplicas(ctx context.Context, report IntegrityReport) []storage.RepairResult {
	if s.Storage == nil {
		return nil
	}
	var out []storage.RepairResult
	for _, r := range report.Storage.Inconsistent {
		res, err := s.Storage.RepairRedundancy(ctx, r.Path)
		if err != nil {
			s.logger.WarnContext(ctx, "replica repair failed", logging.Path(r.Path), logging.Error(err))
		}
		out = append(out, res)
	}
	return out
}
