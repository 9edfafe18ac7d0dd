package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/chain"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// ExportPeriod bounds an export. Zero values are open.
type ExportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ExportedChain holds the chain entries of an export and their Merkle root.
type ExportedChain struct {
	Entries    []*models.LogEntry `json:"entries"`
	MerkleRoot string             `json:"merkle_root"`
}

// ExportedLog is one encrypted record. Payload is set when decryption was
// requested and succeeded; otherwise the sealed fields are included.
type ExportedLog struct {
	ID           string             `json:"id"`
	Metadata     models.LogMetadata `json:"metadata"`
	Payload      json.RawMessage    `json:"payload,omitempty"`
	Ciphertext   string             `json:"ciphertext,omitempty"`
	Nonce        string             `json:"nonce,omitempty"`
	Tag          string             `json:"tag,omitempty"`
	KeyVersion   int                `json:"key_version,omitempty"`
	DecryptError string             `json:"decrypt_error,omitempty"`
}

// ExportBundle is the compliance export document.
type ExportBundle struct {
	ExportTime    time.Time     `json:"export_time"`
	Period        ExportPeriod  `json:"period"`
	HashChain     ExportedChain `json:"hash_chain"`
	EncryptedLogs []ExportedLog `json:"encrypted_logs"`
}

// ExportLogs collects chain entries and encrypted records in [start, end].
// Records that fail to decrypt are exported sealed with DecryptError set.
func (s *Service) ExportLogs(ctx context.Context, start, end time.Time, includeDecrypted bool) (*ExportBundle, error) {
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: export end precedes start", models.ErrConfiguration)
	}

	entries, err := s.Chain.EntriesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load chain entries: %w", err)
	}
	records, err := s.Store.RecordsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load encrypted records: %w", err)
	}
	if entries == nil {
		entries = []*models.LogEntry{}
	}

	bundle := &ExportBundle{
		ExportTime: time.Now().UTC(),
		Period:     ExportPeriod{Start: start, End: end},
		HashChain: ExportedChain{
			Entries:    entries,
			MerkleRoot: chain.MerkleRoot(chain.EntryHashes(entries)),
		},
		EncryptedLogs: make([]ExportedLog, 0, len(records)),
	}

	for _, rec := range records {
		out := ExportedLog{ID: rec.ID, Metadata: rec.Metadata}
		if includeDecrypted {
			payload, err := s.Store.Open(rec)
			if err == nil {
				out.Payload = payload
				bundle.EncryptedLogs = append(bundle.EncryptedLogs, out)
				continue
			}
			out.DecryptError = err.Error()
			s.logger.WarnContext(ctx, "record failed to decrypt during export", "record_id", rec.ID)
		}
		out.Ciphertext = base64.StdEncoding.EncodeToString(rec.Ciphertext)
		out.Nonce = base64.StdEncoding.EncodeToString(rec.Nonce)
		out.Tag = base64.StdEncoding.EncodeToString(rec.Tag)
		out.KeyVersion = rec.KeyVersion
		bundle.EncryptedLogs = append(bundle.EncryptedLogs, out)
	}

	s.logger.InfoContext(ctx, "logs exported",
		"entries", len(entries),
		"records", len(bundle.EncryptedLogs),
		"decrypted", includeDecrypted)
	return bundle, nil
}
