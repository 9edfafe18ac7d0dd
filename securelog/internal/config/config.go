package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Keys         KeysConfig         `mapstructure:"keys"`
	EncStore     EncStoreConfig     `mapstructure:"encstore"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Notification NotificationConfig `mapstructure:"notification"`
	SIEM         SIEMConfig         `mapstructure:"siem"`
	Service      ServiceConfig      `mapstructure:"service"`
	NATS         NATSConfig         `mapstructure:"nats"`
	DLQ          DLQConfig          `mapstructure:"dlq"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ChainConfig struct {
	// Difficulty is the number of leading hex zeros required in every entry hash.
	Difficulty     int    `mapstructure:"difficulty"`
	DBPath         string `mapstructure:"db_path"`
	SigningKeyPath string `mapstructure:"signing_key_path"`
}

type KeysConfig struct {
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	KeyringPath      string        `mapstructure:"keyring_path"`
	Passphrase       string        `mapstructure:"passphrase"`
}

type EncStoreConfig struct {
	// Backend is one of sqlite, postgres or memory.
	Backend     string `mapstructure:"backend"`
	DBPath      string `mapstructure:"db_path"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type StorageConfig struct {
	ReplicationFactor int             `mapstructure:"replication_factor"`
	HealthInterval    time.Duration   `mapstructure:"health_interval"`
	OperationTimeout  time.Duration   `mapstructure:"operation_timeout"`
	Backends          []BackendConfig `mapstructure:"backends"`
}

// BackendConfig describes one storage location. Kind selects which of the
// remaining fields apply.
type BackendConfig struct {
	ID       string `mapstructure:"id"`
	Kind     string `mapstructure:"kind"`
	Priority int    `mapstructure:"priority"`

	// filesystem
	Path string `mapstructure:"path"`

	// redis, postgres
	URL string `mapstructure:"url"`

	// s3
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// redis, s3
	Prefix string `mapstructure:"prefix"`
}

type NotificationConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	RulesFile        string        `mapstructure:"rules_file"`
	HistorySize      int           `mapstructure:"history_size"`
	RateLimitBackend string        `mapstructure:"rate_limit_backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	SMTP             SMTPConfig    `mapstructure:"smtp"`
	SMS              SMSConfig     `mapstructure:"sms"`
	Webhook          WebhookConfig `mapstructure:"webhook"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SMSConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	AccountID  string `mapstructure:"account_id"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type WebhookConfig struct {
	// SigningSecret enables HS256 bearer tokens on outgoing webhooks.
	SigningSecret string `mapstructure:"signing_secret"`
	Issuer        string `mapstructure:"issuer"`
}

type SIEMConfig struct {
	BatchSize     int                 `mapstructure:"batch_size"`
	FlushInterval time.Duration       `mapstructure:"flush_interval"`
	QueueSize     int                 `mapstructure:"queue_size"`
	SendTimeout   time.Duration       `mapstructure:"send_timeout"`
	Hostname      string              `mapstructure:"hostname"`
	SourceIP      string              `mapstructure:"source_ip"`
	Syslog        SyslogConfig        `mapstructure:"syslog"`
	Splunk        SplunkConfig        `mapstructure:"splunk"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	CEF           CEFConfig           `mapstructure:"cef"`
	NATS          SIEMNATSConfig      `mapstructure:"nats"`
}

type SyslogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Network  string `mapstructure:"network"`
	Facility string `mapstructure:"facility"`
}

type SplunkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Index         string `mapstructure:"index"`
	Source        string `mapstructure:"source"`
	SourceType    string `mapstructure:"sourcetype"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
}

type ElasticsearchConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Index         string `mapstructure:"index"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
}

type CEFConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Network  string `mapstructure:"network"`
	Facility string `mapstructure:"facility"`
	Vendor   string `mapstructure:"vendor"`
	Product  string `mapstructure:"product"`
	Version  string `mapstructure:"version"`
}

type SIEMNATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Subject string `mapstructure:"subject"`
	PerType bool   `mapstructure:"per_type"`
}

type ServiceConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ListenerQueueSize int           `mapstructure:"listener_queue_size"`
	StatusRetention   int           `mapstructure:"status_retention"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Intake bool   `mapstructure:"intake"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("chain.difficulty", 2)
	v.SetDefault("chain.db_path", "./data/chain.db")
	v.SetDefault("chain.signing_key_path", "./data/chain_signing_key.pem")

	v.SetDefault("keys.rotation_interval", "720h")
	v.SetDefault("keys.keyring_path", "./data/keyring.json")

	v.SetDefault("encstore.backend", "sqlite")
	v.SetDefault("encstore.db_path", "./data/records.db")
	v.SetDefault("encstore.max_conns", 10)

	v.SetDefault("storage.replication_factor", 3)
	v.SetDefault("storage.health_interval", "30s")
	v.SetDefault("storage.operation_timeout", "10s")
	v.SetDefault("storage.backends", []map[string]interface{}{
		{"id": "local-a", "kind": "filesystem", "priority": 1, "path": "./data/replicas/a"},
		{"id": "local-b", "kind": "filesystem", "priority": 2, "path": "./data/replicas/b"},
		{"id": "local-c", "kind": "filesystem", "priority": 3, "path": "./data/replicas/c"},
	})

	v.SetDefault("notification.workers", 2)
	v.SetDefault("notification.queue_size", 1000)
	v.SetDefault("notification.max_retries", 2)
	v.SetDefault("notification.send_timeout", "10s")
	v.SetDefault("notification.history_size", 10000)
	v.SetDefault("notification.rate_limit_backend", "memory")
	v.SetDefault("notification.smtp.port", 587)
	v.SetDefault("notification.webhook.issuer", "securelog")

	v.SetDefault("siem.batch_size", 100)
	v.SetDefault("siem.flush_interval", "5s")
	v.SetDefault("siem.queue_size", 10000)
	v.SetDefault("siem.send_timeout", "10s")
	v.SetDefault("siem.syslog.network", "udp")
	v.SetDefault("siem.syslog.facility", "local0")
	v.SetDefault("siem.splunk.source", "securelog")
	v.SetDefault("siem.splunk.sourcetype", "_json")
	v.SetDefault("siem.elasticsearch.index", "securelog-events")
	v.SetDefault("siem.elasticsearch.tls_skip_verify", true)
	v.SetDefault("siem.cef.network", "udp")
	v.SetDefault("siem.cef.facility", "local0")
	v.SetDefault("siem.cef.vendor", "RoverMissionControl")
	v.SetDefault("siem.cef.product", "SecureLogging")
	v.SetDefault("siem.cef.version", "1.0")
	v.SetDefault("siem.nats.subject", "securelog.siem.events")

	v.SetDefault("service.workers", 4)
	v.SetDefault("service.queue_size", 1000)
	v.SetDefault("service.shutdown_timeout", "30s")
	v.SetDefault("service.listener_queue_size", 100)
	v.SetDefault("service.status_retention", 10000)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.intake", false)

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.base_path", "./data/dlq")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9109")
}

// Load reads configuration from configPath (or config.yaml in the working
// directory and /etc/securelog), then applies SECURELOG_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/securelog")
	}

	// SECURELOG_CHAIN_DIFFICULTY overrides chain.difficulty
	v.SetEnvPrefix("SECURELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Chain.Difficulty < 0 || c.Chain.Difficulty > 64 {
		return fmt.Errorf("%w: chain.difficulty must be between 0 and 64, got %d", models.ErrConfiguration, c.Chain.Difficulty)
	}
	switch c.EncStore.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.EncStore.DatabaseURL == "" {
			return fmt.Errorf("%w: encstore.database_url is required for the postgres backend", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown encstore.backend %q", models.ErrConfiguration, c.EncStore.Backend)
	}
	if c.Storage.ReplicationFactor < 1 {
		return fmt.Errorf("%w: storage.replication_factor must be at least 1", models.ErrConfiguration)
	}
	seen := make(map[string]bool)
	for _, b := range c.Storage.Backends {
		if b.ID == "" {
			return fmt.Errorf("%w: storage backend without id", models.ErrConfiguration)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate storage backend id %q", models.ErrConfiguration, b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case "filesystem":
			if b.Path == "" {
				return fmt.Errorf("%w: storage backend %q requires path", models.ErrConfiguration, b.ID)
			}
		case "redis", "postgres":
			if b.URL == "" {
				return fmt.Errorf("%w: storage backend %q requires url", models.ErrConfiguration, b.ID)
			}
		case "s3":
			if b.Bucket == "" {
				return fmt.Errorf("%w: storage backend %q requires bucket", models.ErrConfiguration, b.ID)
			}
		case "memory":
		default:
			return fmt.Errorf("%w: storage backend %q has unknown kind %q", models.ErrConfiguration, b.ID, b.Kind)
		}
	}
	if c.Notification.RateLimitBackend == "redis" && c.Notification.RedisURL == "" {
		return fmt.Errorf("%w: notification.redis_url is required for the redis rate limiter", models.ErrConfiguration)
	}
	if c.SIEM.BatchSize < 1 {
		return fmt.Errorf("%w: siem.batch_size must be positive", models.ErrConfiguration)
	}
	if c.Service.Workers < 1 {
		return fmt.Errorf("%w: service.workers must be positive", models.ErrConfiguration)
	}
	return nil
}
