// Package config loads and validates research service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/company-research/internal/research"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Research  ResearchConfig  `mapstructure:"research"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	StreamInterval  time.Duration `mapstructure:"stream_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ResearchConfig tunes the resilience policy and session lifetime.
type ResearchConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	// RequestTimeout bounds one fan-out; zero disables it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	// ReferenceCompany and ReferenceDomain are used by source connectivity tests.
	ReferenceCompany string `mapstructure:"reference_company"`
	ReferenceDomain  string `mapstructure:"reference_domain"`
}

// PipelineConfig maps depth names to source kind lists. Empty means the
// built-in table.
type PipelineConfig struct {
	Depths map[string][]string `mapstructure:"depths"`
}

// ProviderConfig is shared by every provider; fields a provider does not use
// are ignored.
type ProviderConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
	Cost      float64       `mapstructure:"cost"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// SearchEngineID is the custom search engine id (web_search).
	SearchEngineID string `mapstructure:"search_engine_id"`
	// Model selects the chat model (ai_analysis).
	Model string `mapstructure:"model"`
	// PlacesAPIKey and PlacesURL enable the Places lookup (location_verification).
	PlacesAPIKey string `mapstructure:"places_api_key"`
	PlacesURL    string `mapstructure:"places_url"`
	// MaxPages caps pages scraped per company (portfolio_research).
	MaxPages int `mapstructure:"max_pages"`
	// RespectRobots honors robots.txt while scraping (portfolio_research).
	RespectRobots bool `mapstructure:"respect_robots"`
	// FailureThreshold marks the source unhealthy after this many consecutive
	// failed requests; zero never trips.
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// ProvidersConfig holds one block per research source.
type ProvidersConfig struct {
	UserAgent            string         `mapstructure:"user_agent"`
	DomainRegistry       ProviderConfig `mapstructure:"domain_registry"`
	WebSearch            ProviderConfig `mapstructure:"web_search"`
	KnowledgeGraph       ProviderConfig `mapstructure:"knowledge_graph"`
	AIAnalysis           ProviderConfig `mapstructure:"ai_analysis"`
	LocationVerification ProviderConfig `mapstructure:"location_verification"`
	PortfolioResearch    ProviderConfig `mapstructure:"portfolio_research"`
}

// For returns the block configuring kind.
func (p ProvidersConfig) For(kind research.SourceKind) ProviderConfig {
	switch kind {
	case research.SourceDomainRegistry:
		return p.DomainRegistry
	case research.SourceWebSearch:
		return p.WebSearch
	case research.SourceKnowledgeGraph:
		return p.KnowledgeGraph
	case research.SourceAIAnalysis:
		return p.AIAnalysis
	case research.SourceLocationVerification:
		return p.LocationVerification
	case research.SourcePortfolioResearch:
		return p.PortfolioResearch
	default:
		return ProviderConfig{}
	}
}

// CacheConfig selects the report cache. An empty RedisAddr uses an in-process
// cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// StorageConfig selects where reports and run history are persisted.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	DSN           string `mapstructure:"dsn"`
	ReportsTable  string `mapstructure:"reports_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
	Migrate       bool   `mapstructure:"migrate"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	ArchiveBucket string `mapstructure:"archive_bucket"`
}

// PubSubConfig holds metadata for completion notifications. An empty
// ProjectID keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// UsageConfig sets daily AI synthesis allowances per tier.
type UsageConfig struct {
	FreeDailyLimit    int `mapstructure:"free_daily_limit"`
	PremiumDailyLimit int `mapstructure:"premium_daily_limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// Exporter is "none" or "stdout".
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.stream_interval", "2s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("research.max_attempts", 3)
	v.SetDefault("research.retry_delay_base", "1s")
	v.SetDefault("research.call_timeout", "30s")
	v.SetDefault("research.request_timeout", "0s")
	v.SetDefault("research.grace_period", "300s")
	v.SetDefault("research.reference_company", "Google")
	v.SetDefault("research.reference_domain", "google.com")

	for _, kind := range research.AllSourceKinds() {
		prefix := "providers." + string(kind)
		v.SetDefault(prefix+".enabled", true)
		// Empty defaults make the keys visible to AutomaticEnv during Unmarshal.
		v.SetDefault(prefix+".api_key", "")
		v.SetDefault(prefix+".base_url", "")
	}
	v.SetDefault("providers.user_agent", "")
	v.SetDefault("providers.web_search.search_engine_id", "")
	v.SetDefault("providers.location_verification.places_api_key", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.archive_bucket", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("providers.web_search.cost", 0.01)
	v.SetDefault("providers.ai_analysis.cost", 0.02)
	v.SetDefault("providers.ai_analysis.model", "gpt-4o-mini")
	v.SetDefault("providers.ai_analysis.timeout", "60s")
	v.SetDefault("providers.portfolio_research.cost", 0.07)
	v.SetDefault("providers.portfolio_research.max_pages", 10)
	v.SetDefault("providers.portfolio_research.timeout", "15s")
	v.SetDefault("providers.portfolio_research.respect_robots", true)
	v.SetDefault("providers.portfolio_research.failure_threshold", 5)
	v.SetDefault("providers.portfolio_research.rate_limit", 2.0)
	v.SetDefault("providers.portfolio_research.rate_burst", 2)
	v.SetDefault("providers.location_verification.rate_limit", 1.0)
	v.SetDefault("providers.location_verification.rate_burst", 1)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "research:")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.reports_table", "research_reports")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("pubsub.topic_name", "research-completed")
	v.SetDefault("usage.free_daily_limit", 10)
	v.SetDefault("usage.premium_daily_limit", 100)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "company-research")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Research.MaxAttempts <= 0 {
		return fmt.Errorf("research.max_attempts must be > 0")
	}
	if c.Research.CallTimeout <= 0 {
		return fmt.Errorf("research.call_timeout must be > 0")
	}
	if c.Research.RetryDelayBase < 0 || c.Research.RequestTimeout < 0 {
		return fmt.Errorf("research durations must not be negative")
	}
	for depth, kinds := range c.Pipeline.Depths {
		for _, raw := range kinds {
			if _, err := research.ParseSourceKind(raw); err != nil {
				return fmt.Errorf("pipeline.depths.%s: %w", depth, err)
			}
		}
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Usage.FreeDailyLimit < 0 || c.Usage.PremiumDailyLimit < 0 {
		return fmt.Errorf("usage limits must not be negative")
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter %q is not supported", c.Telemetry.Exporter)
	}
	return nil
}
