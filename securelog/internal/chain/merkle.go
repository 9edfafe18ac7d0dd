package chain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// MerkleRoot folds an ordered list of hex hashes pairwise into a single root.
// When a level has an odd count the last hash is paired with itself.
// Parents are SHA-256 over the concatenated hex strings of both children.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			sum := sha256.Sum256([]byte(level[i] + level[i+1]))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		level = next
	}

	return level[0]
}

// EntryHashes extracts the hash of every entry in order.
func EntryHashes(entries []*models.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Hash
	}
	return out
}
