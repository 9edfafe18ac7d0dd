package storage

import (
	"context"
	"fmt"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// NewBackend builds the backend described by bc.
func NewBackend(ctx context.Context, bc config.BackendConfig) (Backend, error) {
	switch bc.Kind {
	case KindFilesystem:
		return NewFilesystemBackend(bc.Path)
	case KindMemory:
		return NewMemoryBackend(), nil
	case KindRedis:
		return NewRedisBackend(bc.URL, bc.Prefix)
	case KindS3:
		return NewS3Backend(ctx, bc.Bucket, bc.Region, bc.Endpoint, bc.Prefix)
	case KindPostgres:
		return NewPostgresBackend(ctx, bc.URL, bc.ID)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend kind %q", models.ErrConfiguration, bc.Kind)
	}
}

// NewFromConfig builds a Manager with every configured location registered.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Manager, error) {
	m := NewManager(cfg.ReplicationFactor, logger,
		WithHealthInterval(cfg.HealthInterval),
		WithOperationTimeout(cfg.OperationTimeout))

	for _, bc := range cfg.Backends {
		backend, err := NewBackend(ctx, bc)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("storage location %s: %w", bc.ID, err)
		}
		loc := Location{ID: bc.ID, Kind: bc.Kind, Priority: bc.Priority}
		if err := m.Register(loc, backend); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	return m, nil
}
