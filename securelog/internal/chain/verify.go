package chain

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Defect kinds reported by VerifyChain.
const (
	DefectHashMismatch = "hash_mismatch"
	DefectProofOfWork  = "proof_of_work"
	DefectLinkage      = "linkage"
	DefectSignature    = "signature"
	DefectIndex        = "index"
	DefectMissing      = "missing"
)

const verifyPageSize = 500

// VerificationError describes one defect found at one chain index.
type VerificationError struct {
	Index  uint64 `json:"index"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("entry %d: %s: %s", e.Index, e.Kind, e.Detail)
}

// VerifyChain checks every entry from startIndex onward and returns all
// defects found. The returned error is only set when the store itself
// cannot be read; defects are never repaired.
func (l *HashChainLogger) VerifyChain(ctx context.Context, startIndex uint64) (bool, []VerificationError, error) {
	var defects []VerificationError
	length := l.Length()

	prevHash := models.GenesisHash
	if startIndex > 0 && startIndex < length {
		prev, err := l.store.Get(ctx, startIndex-1)
		switch {
		case errors.Is(err, models.ErrNotFound):
			defects = append(defects, VerificationError{Index: startIndex - 1, Kind: DefectMissing, Detail: "predecessor entry not found"})
			prevHash = ""
		case err != nil:
			return false, nil, fmt.Errorf("load entry %d: %w", startIndex-1, err)
		default:
			prevHash = prev.Hash
		}
	}

	expected := startIndex
	for from := startIndex; from < length; from += verifyPageSize {
		if err := ctx.Err(); err != nil {
			return false, defects, err
		}
		to := from + verifyPageSize
		if to > length {
			to = length
		}
		entries, err := l.store.Range(ctx, from, to)
		if err != nil {
			return false, defects, fmt.Errorf("load entries %d-%d: %w", from, to, err)
		}
		for _, e := range entries {
			for expected < e.Index {
				defects = append(defects, VerificationError{Index: expected, Kind: DefectMissing, Detail: "entry not found"})
				expected++
				prevHash = ""
			}
			defects = append(defects, l.verifyEntry(e, prevHash)...)
			prevHash = e.Hash
			expected = e.Index + 1
		}
		for expected < to {
			defects = append(defects, VerificationError{Index: expected, Kind: DefectMissing, Detail: "entry not found"})
			expected++
			prevHash = ""
		}
	}

	return len(defects) == 0, defects, nil
}

// verifyEntry checks one entry. An empty prevHash means the predecessor is
// unknown and linkage is not checked.
func (l *HashChainLogger) verifyEntry(e *models.LogEntry, prevHash string) []VerificationError {
	var defects []VerificationError

	computed, err := ComputeHash(e)
	if err != nil {
		defects = append(defects, VerificationError{Index: e.Index, Kind: DefectHashMismatch, Detail: err.Error()})
	} else if subtle.ConstantTimeCompare([]byte(computed), []byte(e.Hash)) != 1 {
		defects = append(defects, VerificationError{
			Index:  e.Index,
			Kind:   DefectHashMismatch,
			Detail: fmt.Sprintf("stored %s, computed %s", e.Hash, computed),
		})
	}

	if !MeetsDifficulty(e.Hash, l.difficulty) {
		defects = append(defects, VerificationError{
			Index:  e.Index,
			Kind:   DefectProofOfWork,
			Detail: fmt.Sprintf("hash does not have %d leading zeros", l.difficulty),
		})
	}

	if prevHash != "" && e.PreviousHash != prevHash {
		defects = append(defects, VerificationError{
			Index:  e.Index,
			Kind:   DefectLinkage,
			Detail: fmt.Sprintf("previous_hash %s does not match %s", e.PreviousHash, prevHash),
		})
	}

	if err := l.signer.Verify(e.Hash, e.Signature); err != nil {
		defects = append(defects, VerificationError{Index: e.Index, Kind: DefectSignature, Detail: err.Error()})
	}

	return defects
}
