// Package storage replicates opaque blobs across independent backends,
// verifies each write by reading it back, and repairs divergent replicas
// by majority checksum.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Backend is one storage location. Read returns an error wrapping
// models.ErrNotFound when the path does not exist.
type Backend interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// Backend kinds.
const (
	KindFilesystem = "filesystem"
	KindMemory     = "memory"
	KindRedis      = "redis"
	KindS3         = "s3"
	KindPostgres   = "postgres"
)

// Location is the registry view of a backend. Active is only changed by
// health checks.
type Location struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// RedundancyReport describes the replicas of one path across active locations.
type RedundancyReport struct {
	Path         string            `json:"path"`
	Locations    map[string]bool   `json:"locations"`
	Checksums    map[string]string `json:"checksums"`
	IsConsistent bool              `json:"is_consistent"`
}

// RepairResult lists what a repair changed.
type RepairResult struct {
	Path             string   `json:"path"`
	MajorityChecksum string   `json:"majority_checksum"`
	Repaired         []string `json:"repaired"`
	Failed           []string `json:"failed,omitempty"`
}

// Checksum is the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
