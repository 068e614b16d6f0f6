package domain

import (
	"time"
)

// Config holds the complete Shrike configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Engine holds matching and tie-break settings
	Engine EngineConfig `json:"engine"`

	// Language holds code-switch detection settings
	Language LanguageConfig `json:"language"`

	// Telemetry holds emitter settings
	Telemetry TelemetryConfig `json:"telemetry"`

	// Rules holds rule source settings
	Rules RulesConfig `json:"rules"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds matching pipeline and ranking settings.
// The tie-break deltas are deliberately configuration, not constants: the
// defaults mirror the originally observed rule sets and may not generalize.
type EngineConfig struct {
	// MaxInputLen bounds normalized input, in runes. Excess is dropped.
	MaxInputLen int `json:"maxInputLen"`

	// MinLiteralLen is the minimum prefilter literal length.
	MinLiteralLen int `json:"minLiteralLen"`

	// MaxCandidates caps how many prefiltered rules are pattern-matched
	// per request. Excess candidates are dropped in priority order.
	MaxCandidates int `json:"maxCandidates"`

	// AttemptBudget is the per-candidate match deadline.
	AttemptBudget time.Duration `json:"attemptBudget"`

	// Tie-break windows.
	PriorityDelta    int     `json:"priorityDelta"`
	SpecificityDelta int     `json:"specificityDelta"`
	RiskCostDelta    float64 `json:"riskCostDelta"`

	// DefaultRiskCost applies to rules with no configured risk cost.
	DefaultRiskCost float64 `json:"defaultRiskCost"`

	// SpanBonusDivisor converts total matched-span length into the
	// request-time specificity bonus (length / divisor).
	SpanBonusDivisor int `json:"spanBonusDivisor"`
}

// LanguageConfig holds code-switch detector settings.
type LanguageConfig struct {
	// PrimaryThreshold is the majority share required to assign a
	// primary language.
	PrimaryThreshold float64 `json:"primaryThreshold"`

	// MixedThreshold is the minority share above which input is flagged
	// as code-switched.
	MixedThreshold float64 `json:"mixedThreshold"`

	// Default is reported when no language clears the threshold.
	Default string `json:"default"`
}

// TelemetryConfig holds emitter settings.
type TelemetryConfig struct {
	// EngineID identifies this engine build in emitted records.
	EngineID string `json:"engineId"`

	// Key is the HMAC key for text hashing. Loaded from environment in
	// main; a random key is generated when unset.
	Key []byte `json:"-"`

	// HashTruncateLen bounds how many runes of normalized text feed the
	// hash (and therefore how much plaintext could ever leak: none).
	HashTruncateLen int `json:"hashTruncateLen"`
}

// RulesConfig holds rule source settings.
type RulesConfig struct {
	// SourceFile, when set, loads rules from a JSON document instead of
	// the repository.
	SourceFile string `json:"sourceFile,omitempty"`

	// WatchFile enables fsnotify-driven auto reload of SourceFile.
	WatchFile bool `json:"watchFile"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
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
			MaxInputLen:      512,
			MinLiteralLen:    3,
			MaxCandidates:    24,
			AttemptBudget:    2 * time.Millisecond,
			PriorityDelta:    5,
			SpecificityDelta: 2,
			RiskCostDelta:    1.0,
			DefaultRiskCost:  1.0,
			SpanBonusDivisor: 8,
		},
		Language: LanguageConfig{
			PrimaryThreshold: 0.55,
			MixedThreshold:   0.25,
			Default:          "pt",
		},
		Telemetry: TelemetryConfig{
			EngineID:        "shrike-1.0",
			HashTruncateLen: 64,
		},
		Rules: RulesConfig{
			WatchFile: true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			DecisionTTL:  time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
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
		PostgresDB:   "shrike",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		DecisionTTL:    time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
