package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// inTempDir switches to an empty directory so no config.yaml is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "providers.yaml", cfg.ProvidersFile)
	assert.Equal(t, 5, cfg.Batch.WindowSize)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, int64(2048), cfg.Anthropic.MaxTokens)

	assert.InDelta(t, 0.3, cfg.Scoring.IntelligenceFloor, 0.001)
	assert.InDelta(t, 25, cfg.Scoring.IndustryWeight, 0.001)
	assert.InDelta(t, 1.0, cfg.Scoring.DefaultWeights.Sum(), 0.001)

	assert.InDelta(t, 0.7, cfg.Promotion.MarketRelevanceThreshold, 0.001)
	assert.InDelta(t, 0.5, cfg.Promotion.ExposureConfidence, 0.001)
	assert.Equal(t, 12, cfg.Promotion.EvaluationBatchSize)
	assert.InDelta(t, 0.8, cfg.Promotion.SingleSignalStrength, 0.001)
	assert.InDelta(t, 0.7, cfg.Promotion.PairSignalStrength, 0.001)
	assert.Equal(t, 2, cfg.Promotion.PairSignalCount)
	assert.InDelta(t, 0.6, cfg.Promotion.AggregateSignalScore, 0.001)

	assert.Equal(t, 30, cfg.Signals.TTLDays["recent_funding"])
	assert.Equal(t, 90, cfg.Signals.TTLDays["job_change"])
	assert.Equal(t, 24, cfg.Strategy.TTLHours)
	assert.Equal(t, "5.00", cfg.Strategy.DefaultBudget)
	assert.Equal(t, 3, cfg.Resilience.RetryAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: sqlite
  database_url: ./prospect.db
log:
  level: debug
  format: console
batch:
  window_size: 8
promotion:
  market_relevance_threshold: 0.75
signals:
  ttl_days:
    hiring: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./prospect.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.WindowSize)
	assert.InDelta(t, 0.75, cfg.Promotion.MarketRelevanceThreshold, 0.001)
	assert.Equal(t, 7, cfg.Signals.TTLDays["hiring"])
	// Defaults still apply for unset values
	assert.InDelta(t, 0.6, cfg.Promotion.AggregateSignalScore, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PROSPECT_STORE_DRIVER", "postgres")
	t.Setenv("PROSPECT_LOG_LEVEL", "warn")
	t.Setenv("PROSPECT_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("PROSPECT_BATCH_WINDOW_SIZE", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Batch.WindowSize)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "console", cfg: LogConfig{Level: "debug", Format: "console"}},
		{name: "json", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "invalid level", cfg: LogConfig{Level: "invalid", Format: "json"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}

// validDefaults returns a loaded default Config with a database configured.
func validDefaults(t *testing.T) *Config {
	t.Helper()
	inTempDir(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/prospect"
	return cfg
}

func TestValidate_Modes(t *testing.T) {
	cfg := validDefaults(t)

	assert.NoError(t, cfg.Validate("ledger"))
	assert.NoError(t, cfg.Validate("enrich"))

	err := cfg.Validate("strategy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant"
	assert.NoError(t, cfg.Validate("strategy"))

	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_MissingStore(t *testing.T) {
	cfg := validDefaults(t)
	cfg.Store.DatabaseURL = ""
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("ledger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "window zero", mutate: func(c *Config) { c.Batch.WindowSize = 0 }, want: "batch.window_size must be between 1 and 50"},
		{name: "window too large", mutate: func(c *Config) { c.Batch.WindowSize = 51 }, want: "batch.window_size"},
		{name: "floor above one", mutate: func(c *Config) { c.Scoring.IntelligenceFloor = 1.2 }, want: "scoring.intelligence_floor must be between 0 and 1"},
		{name: "negative relevance", mutate: func(c *Config) { c.Promotion.MarketRelevanceThreshold = -0.1 }, want: "promotion.market_relevance_threshold"},
		{name: "batch size", mutate: func(c *Config) { c.Promotion.EvaluationBatchSize = 0 }, want: "promotion.evaluation_batch_size must be >= 1"},
		{name: "ttl", mutate: func(c *Config) { c.Strategy.TTLHours = 0 }, want: "strategy.ttl_hours must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			tt.mutate(cfg)
			err := cfg.Validate("ledger")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
