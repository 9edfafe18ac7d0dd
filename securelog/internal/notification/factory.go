package notification

import (
	"fmt"
	"net/http"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
)

// NewFromConfig builds a manager with every channel registered and the
// rules file, when configured, loaded.
func NewFromConfig(cfg config.NotificationConfig, logger *logging.Logger) (*Manager, error) {
	var opts []Option
	if cfg.RateLimitBackend == "redis" {
		limiter, err := NewRedisRateLimiter(cfg.RedisURL, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("notification rate limiter: %w", err)
		}
		opts = append(opts, WithRateLimiter(limiter))
	}

	m := NewManager(Settings{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		MaxRetries:  cfg.MaxRetries,
		SendTimeout: cfg.SendTimeout,
		HistorySize: cfg.HistorySize,
	}, logger, opts...)

	client := &http.Client{Timeout: cfg.SendTimeout}
	m.RegisterChannel(NewEmailChannel(cfg.SMTP))
	m.RegisterChannel(NewSMSChannel(cfg.SMS, client))
	m.RegisterChannel(NewWebhookChannel(cfg.Webhook, client))
	m.RegisterChannel(NewChatChannel(client))

	if cfg.RulesFile != "" {
		if err := m.LoadRulesFile(cfg.RulesFile); err != nil {
			_ = m.limiter.Close()
			return nil, err
		}
	}
	return m, nil
}
