package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// canonicalJSON renders every hashed field of e as a JSON object with
// sorted keys and no insignificant whitespace. Hash and signature are excluded.
func canonicalJSON(e *models.LogEntry) ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	obj := map[string]interface{}{
		"index":          e.Index,
		"timestamp":      formatTimestamp(e.Timestamp),
		"event_type":     e.EventType,
		"severity":       string(e.Severity),
		"payload":        payload,
		"actor":          e.Actor,
		"correlation_id": e.CorrelationID,
		"previous_hash":  e.PreviousHash,
		"nonce":          e.Nonce,
	}
	return json.Marshal(obj)
}

// ComputeHash returns the hex SHA-256 of the entry's canonical form.
func ComputeHash(e *models.LogEntry) (string, error) {
	data, err := canonicalJSON(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %d: %w", e.Index, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MeetsDifficulty reports whether hash has at least difficulty leading hex zeros.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// NormalizePayload round-trips p through JSON so numbers become json.Number
// and nested values take the shape they will have after being read back from
// any store. Hashes computed before and after persistence then agree.
func NormalizePayload(p map[string]interface{}) (map[string]interface{}, error) {
	if p == nil {
		return map[string]interface{}{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return decodePayload(data)
}

func decodePayload(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out := map[string]interface{}{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
