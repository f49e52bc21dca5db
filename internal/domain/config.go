package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Risk engine settings
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventBus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writeTimeout"` // seconds
}

// EngineConfig tunes CheckFraud.
type EngineConfig struct {
	// CheckTimeout bounds a whole check; on expiry the degraded result is returned.
	CheckTimeout time.Duration `json:"checkTimeout" mapstructure:"checkTimeout"`

	// RuleCacheTTL bounds rule definition staleness.
	RuleCacheTTL time.Duration `json:"ruleCacheTTL" mapstructure:"ruleCacheTTL"`

	// ResultCacheTTL is how long check results stay readable by ID.
	ResultCacheTTL time.Duration `json:"resultCacheTTL" mapstructure:"resultCacheTTL"`

	// MaxWorkers bounds concurrent rule evaluations per check.
	MaxWorkers int `json:"maxWorkers" mapstructure:"maxWorkers"`

	// DefaultRegion is returned by the static resolver when no range matches.
	DefaultRegion string        `json:"defaultRegion" mapstructure:"defaultRegion"`
	Regions       []RegionRange `json:"regions" mapstructure:"regions"`

	// GeoIPPath enables the MaxMind resolver when set.
	GeoIPPath string `json:"geoIPPath" mapstructure:"geoIPPath"`

	ReputationCacheTTL time.Duration `json:"reputationCacheTTL" mapstructure:"reputationCacheTTL"`
}

// RegionRange maps a CIDR block to a region code.
type RegionRange struct {
	CIDR   string `json:"cidr" mapstructure:"cidr"`
	Region string `json:"region" mapstructure:"region"`
}

// WorkerConfig controls the async bus consumer.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TenantIDs limits consumption to these tenants; empty consumes all.
	TenantIDs []string `json:"tenantIds" mapstructure:"tenantIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName  string `json:"serviceName" mapstructure:"serviceName"`
	ExporterType string `json:"exporterType" mapstructure:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
}

// MetricsConfig holds Prometheus settings. Metrics are served at /metrics.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			CheckTimeout:       2 * time.Second,
			RuleCacheTTL:       30 * time.Second,
			ResultCacheTTL:     time.Hour,
			MaxWorkers:         8,
			DefaultRegion:      "US",
			ReputationCacheTTL: time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		KafkaGroupID:      "kestrel",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Engine.CheckTimeout <= 0 {
		errs = append(errs, errors.New("engine.checkTimeout must be positive"))
	}
	if c.Engine.MaxWorkers <= 0 {
		errs = append(errs, errors.New("engine.maxWorkers must be positive"))
	}
	if c.Engine.ResultCacheTTL <= 0 {
		errs = append(errs, errors.New("engine.resultCacheTTL must be positive"))
	}

	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver: %q", c.Repository.Driver))
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type: %q", c.Cache.Type))
	}

	switch c.EventBus.Type {
	case "channel", "nats":
	case "kafka":
		if len(c.EventBus.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("eventBus.kafkaBrokers is required for kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type: %q", c.EventBus.Type))
	}

	return errors.Join(errs...)
}
