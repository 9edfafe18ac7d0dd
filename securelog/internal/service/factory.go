package service

import (
	"context"
	"fmt"
	"io"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	natsclient "github.com/wtyler2505/RoverMissionControl-sub001/common/messaging/nats"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/chain"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/dlq"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/encstore"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/keys"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/notification"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/siem"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/storage"
)

// Build constructs every subsystem from cfg in dependency order: keys,
// chain, encrypted store, storage, notification, SIEM, then the service.
// Anything already opened is closed again when a later step fails.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (svc *Service, err error) {
	logger = logging.OrDefault(logger)

	var opened []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}()

	km, err := buildKeys(cfg.Keys, logger)
	if err != nil {
		return nil, err
	}

	signer, err := chain.LoadOrCreateSigner(cfg.Chain.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("chain signing key: %w", err)
	}
	chainStore, err := chain.OpenSQLiteStore(cfg.Chain.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open chain store: %w", err)
	}
	opened = append(opened, chainStore)
	chainLogger, err := chain.NewHashChainLogger(ctx, chainStore, signer, cfg.Chain.Difficulty, logger)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepository(ctx, cfg.EncStore)
	if err != nil {
		return nil, err
	}
	opened = append(opened, repo)
	store, err := encstore.New(ctx, repo, km, cfg.Keys.RotationInterval, logger)
	if err != nil {
		return nil, err
	}

	replicas, err := storage.NewFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	opened = append(opened, replicas)

	notifier, err := notification.NewFromConfig(cfg.Notification, logger)
	if err != nil {
		return nil, err
	}

	var bus messaging.Client
	if cfg.NATS.URL != "" && (cfg.NATS.Intake || cfg.SIEM.NATS.Enabled) {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		client, nerr := natsclient.NewClient(natsCfg, logger)
		if nerr != nil {
			return nil, nerr
		}
		bus = client
		opened = append(opened, client)
	}

	var publisher messaging.Publisher
	if bus != nil {
		publisher = bus
	}
	integration, err := siem.NewFromConfig(cfg.SIEM, publisher, logger)
	if err != nil {
		return nil, err
	}

	var queue *dlq.Queue
	if cfg.DLQ.Enabled {
		queue, err = dlq.NewQueue(cfg.DLQ.BasePath, logger)
		if err != nil {
			return nil, err
		}
	}

	svc, err = New(Components{
		Keys:     km,
		Chain:    chainLogger,
		Store:    store,
		Storage:  replicas,
		Notifier: notifier,
		SIEM:     integration,
		DLQ:      queue,
		Bus:      bus,
	}, Settings{
		Workers:           cfg.Service.Workers,
		QueueSize:         cfg.Service.QueueSize,
		ListenerQueueSize: cfg.Service.ListenerQueueSize,
		StatusRetention:   cfg.Service.StatusRetention,
	}, logger)
	if err != nil {
		return nil, err
	}
	if bus != nil {
		svc.AddListener(NewPublishListener(bus, logger))
	}
	return svc, nil
}

func buildKeys(cfg config.KeysConfig, logger *logging.Logger) (*keys.Manager, error) {
	if cfg.Passphrase == "" {
		logger.Warn("no keyring passphrase configured, encryption keys are not persisted")
		return keys.NewManager(logger)
	}
	kr, err := keys.NewKeyring(cfg.KeyringPath, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	return keys.NewManager(logger, keys.WithKeyring(kr))
}

func buildRepository(ctx context.Context, cfg config.EncStoreConfig) (encstore.Repository, error) {
	switch cfg.Backend {
	case "memory":
		return encstore.NewMemoryRepository(), nil
	case "sqlite", "":
		return encstore.OpenSQLiteRepository(cfg.DBPath)
	case "postgres":
		return encstore.NewPostgresRepository(ctx, cfg.DatabaseURL, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("%w: unknown encstore backend %q", models.ErrConfiguration, cfg.Backend)
	}
}
