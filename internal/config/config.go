package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	ProvidersFile string              `yaml:"providers_file" mapstructure:"providers_file"`
	Batch         BatchConfig         `yaml:"batch" mapstructure:"batch"`
	Scoring       ScoringConfig       `yaml:"scoring" mapstructure:"scoring"`
	Promotion     PromotionConfig     `yaml:"promotion" mapstructure:"promotion"`
	Signals       SignalsConfig       `yaml:"signals" mapstructure:"signals"`
	Strategy      StrategyConfig      `yaml:"strategy" mapstructure:"strategy"`
	Resilience    resilience.Settings `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// BatchConfig configures windowed batch processing.
type BatchConfig struct {
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
}

// ScoringConfig weighs the ICP dimensions and sets the list floor.
type ScoringConfig struct {
	IndustryWeight      float64 `yaml:"industry_weight" mapstructure:"industry_weight"`
	EmployeeCountWeight float64 `yaml:"employee_count_weight" mapstructure:"employee_count_weight"`
	GeographyWeight     float64 `yaml:"geography_weight" mapstructure:"geography_weight"`
	RevenueWeight       float64 `yaml:"revenue_weight" mapstructure:"revenue_weight"`
	TechStackWeight     float64 `yaml:"tech_stack_weight" mapstructure:"tech_stack_weight"`
	FundingStageWeight  float64 `yaml:"funding_stage_weight" mapstructure:"funding_stage_weight"`
	FoundedYearWeight   float64 `yaml:"founded_year_weight" mapstructure:"founded_year_weight"`

	// IntelligenceFloor is the composite score below which a company is
	// kept off lists.
	IntelligenceFloor float64 `yaml:"intelligence_floor" mapstructure:"intelligence_floor"`
	// DefaultSignalPriority weighs signal types a strategy does not list.
	DefaultSignalPriority float64 `yaml:"default_signal_priority" mapstructure:"default_signal_priority"`
	// DefaultWeights is the composite weighting used without a strategy.
	DefaultWeights model.ScoringWeights `yaml:"default_weights" mapstructure:"default_weights"`
}

// PromotionConfig holds the stage promotion thresholds.
type PromotionConfig struct {
	MarketRelevanceThreshold float64 `yaml:"market_relevance_threshold" mapstructure:"market_relevance_threshold"`
	ExposureConfidence       float64 `yaml:"exposure_confidence" mapstructure:"exposure_confidence"`
	EvaluationBatchSize      int     `yaml:"evaluation_batch_size" mapstructure:"evaluation_batch_size"`
	SingleSignalStrength     float64 `yaml:"single_signal_strength" mapstructure:"single_signal_strength"`
	PairSignalStrength       float64 `yaml:"pair_signal_strength" mapstructure:"pair_signal_strength"`
	PairSignalCount          int     `yaml:"pair_signal_count" mapstructure:"pair_signal_count"`
	AggregateSignalScore     float64 `yaml:"aggregate_signal_score" mapstructure:"aggregate_signal_score"`
}

// SignalsConfig tunes the rule-based detectors.
type SignalsConfig struct {
	FundingWindowDays   int      `yaml:"funding_window_days" mapstructure:"funding_window_days"`
	HeadcountGrowthPct  float64  `yaml:"headcount_growth_pct" mapstructure:"headcount_growth_pct"`
	HiringOpenJobs      int      `yaml:"hiring_open_jobs" mapstructure:"hiring_open_jobs"`
	TechKeywords        []string `yaml:"tech_keywords" mapstructure:"tech_keywords"`
	JobChangeWindowDays int      `yaml:"job_change_window_days" mapstructure:"job_change_window_days"`
	// TTLDays maps a signal type to how long its records stay active.
	TTLDays map[string]int `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// StrategyConfig configures strategy generation and caching.
type StrategyConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	// DefaultBudget is the per-company credit budget as a decimal string.
	DefaultBudget string `yaml:"default_budget" mapstructure:"default_budget"`
	Cache         string `yaml:"cache" mapstructure:"cache"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("providers_file", "providers.yaml")
	v.SetDefault("batch.window_size", 5)

	v.SetDefault("scoring.industry_weight", 25)
	v.SetDefault("scoring.employee_count_weight", 20)
	v.SetDefault("scoring.geography_weight", 15)
	v.SetDefault("scoring.revenue_weight", 15)
	v.SetDefault("scoring.tech_stack_weight", 10)
	v.SetDefault("scoring.funding_stage_weight", 10)
	v.SetDefault("scoring.founded_year_weight", 5)
	v.SetDefault("scoring.intelligence_floor", 0.3)
	v.SetDefault("scoring.default_signal_priority", 0.5)
	v.SetDefault("scoring.default_weights.icp_fit", 0.4)
	v.SetDefault("scoring.default_weights.signals", 0.3)
	v.SetDefault("scoring.default_weights.originality", 0.15)
	v.SetDefault("scoring.default_weights.cost_efficiency", 0.15)

	v.SetDefault("promotion.market_relevance_threshold", 0.7)
	v.SetDefault("promotion.exposure_confidence", 0.5)
	v.SetDefault("promotion.evaluation_batch_size", 12)
	v.SetDefault("promotion.single_signal_strength", 0.8)
	v.SetDefault("promotion.pair_signal_strength", 0.7)
	v.SetDefault("promotion.pair_signal_count", 2)
	v.SetDefault("promotion.aggregate_signal_score", 0.6)

	v.SetDefault("signals.funding_window_days", 180)
	v.SetDefault("signals.headcount_growth_pct", 10)
	v.SetDefault("signals.hiring_open_jobs", 5)
	v.SetDefault("signals.tech_keywords", []string{})
	v.SetDefault("signals.job_change_window_days", 90)
	v.SetDefault("signals.ttl_days", map[string]int{
		model.SignalRecentFunding:   30,
		model.SignalHeadcountGrowth: 30,
		model.SignalHiring:          14,
		model.SignalTechAdoption:    60,
		model.SignalMarketExposure:  14,
		model.SignalJobChange:       90,
		model.SignalPromotion:       90,
	})

	v.SetDefault("strategy.ttl_hours", 24)
	v.SetDefault("strategy.default_budget", "5.00")
	v.SetDefault("strategy.cache", "store")

	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.retry_base_ms", 500)
	v.SetDefault("resilience.retry_cap_ms", 20000)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "ledger"
// (store only), "enrich" (store and provider registry), "strategy" (store and
// model key).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ledger":
	case "enrich":
		if c.ProvidersFile == "" {
			errs = append(errs, "providers_file is required")
		}
	case "strategy":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Batch.WindowSize < 1 || c.Batch.WindowSize > 50 {
		errs = append(errs, "batch.window_size must be between 1 and 50")
	}

	unit := map[string]float64{
		"scoring.intelligence_floor":           c.Scoring.IntelligenceFloor,
		"promotion.market_relevance_threshold": c.Promotion.MarketRelevanceThreshold,
		"promotion.exposure_confidence":        c.Promotion.ExposureConfidence,
		"promotion.single_signal_strength":     c.Promotion.SingleSignalStrength,
		"promotion.pair_signal_strength":       c.Promotion.PairSignalStrength,
		"promotion.aggregate_signal_score":     c.Promotion.AggregateSignalScore,
	}
	for _, name := range sortedKeys(unit) {
		if v := unit[name]; v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}
	if c.Promotion.EvaluationBatchSize < 1 {
		errs = append(errs, "promotion.evaluation_batch_size must be >= 1")
	}
	if c.Scoring.DefaultSignalPriority < 0 {
		errs = append(errs, "scoring.default_signal_priority must be >= 0")
	}
	if c.Strategy.TTLHours <= 0 {
		errs = append(errs, "strategy.ttl_hours must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
