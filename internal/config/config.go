package config

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/banking/fraud-detection/internal/domain"
)

// Config holds all configuration for the fraud detection service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	FeatureStore FeatureStoreConfig `mapstructure:"feature_store"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Security     SecurityConfig     `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration for the alert sink
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration for idempotency keys and the
// score-result cache
type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ScoreCacheTTL  time.Duration `mapstructure:"score_cache_ttl"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	ConsumerGroup    string   `mapstructure:"consumer_group"`
	TransactionTopic string   `mapstructure:"transaction_topic"`
	AlertsTopic      string   `mapstructure:"alerts_topic"`
	DeadLetterTopic  string   `mapstructure:"dead_letter_topic"`
}

// FeatureStoreConfig holds rolling-aggregate configuration
type FeatureStoreConfig struct {
	LookbackDays    int           `mapstructure:"lookback_days"`
	VelocityWindow  time.Duration `mapstructure:"velocity_window"`
	MinTransactions int           `mapstructure:"min_transactions"`
	MemoryCap       int           `mapstructure:"memory_cap"`
	Shards          int           `mapstructure:"shards"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// Lookback returns the lookback window as a duration.
func (c *FeatureStoreConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// ScoringConfig holds model invocation configuration
type ScoringConfig struct {
	ArtifactPath    string        `mapstructure:"artifact_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerInterval time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// TierThreshold maps a fraud-probability lower bound (inclusive) to a
// risk tier.
type TierThreshold struct {
	Threshold float64         `mapstructure:"threshold"`
	Tier      domain.RiskTier `mapstructure:"tier"`
}

// AlertingConfig holds threshold policy configuration
type AlertingConfig struct {
	Thresholds []TierThreshold `mapstructure:"thresholds"`
}

// PipelineConfig holds stream coordinator configuration
type PipelineConfig struct {
	Workers         int           `mapstructure:"workers"`
	WorkerQueueSize int           `mapstructure:"worker_queue_size"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName   string  `mapstructure:"service_name"`
	Environment   string  `mapstructure:"environment"`
	OTLPEndpoint  string  `mapstructure:"otlp_endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FRAUD_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/fraud-detection")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults + env
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Hot reload: threshold changes take effect without a restart.
	// Other sections are startup-only.
	v.WatchConfig()
	v.OnConfigChange(func(fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			return
		}
		if err := next.Validate(); err != nil {
			return
		}
		notifyReload(&next)
	})

	return &cfg, nil
}

// reloadHooks receive a validated config after a file change. The
// watcher goroutine started by Load fires concurrently with hook
// registration in main, so access is serialized.
var (
	reloadMu    sync.Mutex
	reloadHooks []func(*Config)
)

// OnReload registers a hook invoked when the config file changes and
// revalidates cleanly. Invalid edits are ignored.
func OnReload(hook func(*Config)) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadHooks = append(reloadHooks, hook)
}

func notifyReload(cfg *Config) {
	reloadMu.Lock()
	hooks := append(([]func(*Config))(nil), reloadHooks...)
	reloadMu.Unlock()

	for _, hook := range hooks {
		hook(cfg)
	}
}

// Validate enforces invariants that are fatal at startup.
func (c *Config) Validate() error {
	if err := ValidateThresholds(c.Alerting.Thresholds); err != nil {
		return err
	}
	if c.FeatureStore.LookbackDays <= 0 {
		return domain.NewConfigurationError("feature_store.lookback_days must be positive, got %d", c.FeatureStore.LookbackDays)
	}
	if c.FeatureStore.MemoryCap <= 0 {
		return domain.NewConfigurationError("feature_store.memory_cap must be positive, got %d", c.FeatureStore.MemoryCap)
	}
	if c.FeatureStore.Shards <= 0 {
		return domain.NewConfigurationError("feature_store.shards must be positive, got %d", c.FeatureStore.Shards)
	}
	if c.Pipeline.Workers <= 0 {
		return domain.NewConfigurationError("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Scoring.Timeout <= 0 {
		return domain.NewConfigurationError("scoring.timeout must be positive")
	}
	return nil
}

// ValidateThresholds checks the {threshold: tier} table: non-empty,
// probabilities in [0,1], strictly decreasing so higher tiers always
// win at a boundary.
func ValidateThresholds(thresholds []TierThreshold) error {
	if len(thresholds) == 0 {
		return domain.NewConfigurationError("alerting.thresholds must not be empty")
	}
	for i, t := range thresholds {
		if t.Threshold < 0 || t.Threshold > 1 {
			return domain.NewConfigurationError("alerting.thresholds[%d]: threshold %v outside [0,1]", i, t.Threshold)
		}
		if t.Tier != domain.RiskTierHigh && t.Tier != domain.RiskTierMedium {
			return domain.NewConfigurationError("alerting.thresholds[%d]: unknown tier %q", i, t.Tier)
		}
	}
	if !sort.SliceIsSorted(thresholds, func(i, j int) bool {
		return thresholds[i].Threshold > thresholds[j].Threshold
	}) {
		return domain.NewConfigurationError("alerting.thresholds must be strictly decreasing")
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i].Threshold == thresholds[i-1].Threshold {
			return domain.NewConfigurationError("alerting.thresholds must be strictly decreasing")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.metrics_port", 9096)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "fraud_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")
	v.SetDefault("redis.score_cache_ttl", "1h")
	v.SetDefault("redis.idempotency_ttl", "720h") // lookback window

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "fraud-detection-group")
	v.SetDefault("kafka.transaction_topic", "banking.transactions.created")
	v.SetDefault("kafka.alerts_topic", "banking.fraud.alerts")
	v.SetDefault("kafka.dead_letter_topic", "banking.fraud.deadletter")

	// Feature store defaults
	v.SetDefault("feature_store.lookback_days", 30)
	v.SetDefault("feature_store.velocity_window", "1h")
	v.SetDefault("feature_store.min_transactions", 5)
	v.SetDefault("feature_store.memory_cap", 100000)
	v.SetDefault("feature_store.shards", 32)
	v.SetDefault("feature_store.sweep_interval", "10m")

	// Scoring defaults (timeout aligned with the 1s p95 latency alert)
	v.SetDefault("scoring.artifact_path", "./models/fraud-model-v1.json")
	v.SetDefault("scoring.timeout", "1s")
	v.SetDefault("scoring.max_retries", 3)
	v.SetDefault("scoring.retry_backoff", "100ms")
	v.SetDefault("scoring.breaker_failures", 5)
	v.SetDefault("scoring.breaker_interval", "60s")
	v.SetDefault("scoring.breaker_timeout", "30s")

	// Alerting defaults
	v.SetDefault("alerting.thresholds", []map[string]any{
		{"threshold": 0.8, "tier": "HIGH"},
		{"threshold": 0.6, "tier": "MEDIUM"},
	})

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.worker_queue_size", 256)
	v.SetDefault("pipeline.drain_timeout", "20s")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "fraud-detection")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 0.1)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
}
