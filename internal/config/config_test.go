package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "urban.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentCities)
	assert.Equal(t, 2000, cfg.Throttle.MinIntervalMs)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Circuit.Threshold)
	assert.Equal(t, 60, cfg.Backend.ScalarTimeoutSecs)
	assert.Equal(t, 120, cfg.Backend.HistogramTimeoutSecs)
	assert.Equal(t, 180, cfg.Backend.HeavyTimeoutSecs)
	assert.Equal(t, []int{2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023, 2024}, cfg.Analysis.Years)
	assert.InDelta(t, 1000, cfg.Analysis.LSTScale, 0.001)
	assert.InDelta(t, 25, cfg.Analysis.RuralBufferKM, 0.001)
	assert.InDelta(t, 0.5, cfg.Analysis.PrimaryWeight, 0.001)
	assert.InDelta(t, 0.95, cfg.Analysis.ConfidenceLevel, 0.001)
	assert.Equal(t, "esri_lulc", cfg.Analysis.PrimarySource)
	assert.Equal(t, "exact", cfg.Analysis.TDistribution)
	assert.Equal(t, int64(10), cfg.Analysis.MinUrbanPixels)
	assert.InDelta(t, 7500, cfg.Analysis.AirQualityScale, 0.001)
	assert.Equal(t, []string{"NO2", "O3", "SO2", "CO", "CH4", "AER_AI"}, cfg.Analysis.Pollutants)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/urban
log:
  level: debug
  format: console
analysis:
  years: [2016, 2024]
  t_distribution: approximate
batch:
  max_concurrent_cities: 2
cities_file: cities.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/urban", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []int{2016, 2024}, cfg.Analysis.Years)
	assert.Equal(t, "approximate", cfg.Analysis.TDistribution)
	assert.Equal(t, 2, cfg.Batch.MaxConcurrentCities)
	assert.Equal(t, "cities.yaml", cfg.CitiesFile)
	// Defaults still apply for unset values
	assert.InDelta(t, 500, cfg.Analysis.NightLightScale, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("URBAN_STORE_DRIVER", "postgres")
	t.Setenv("URBAN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("URBAN_SERVER_PORT", "3000")
	t.Setenv("URBAN_BACKEND_TOKEN", "secret")
	t.Setenv("URBAN_THROTTLE_MIN_INTERVAL_MS", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, 500, cfg.Throttle.MinIntervalMs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "urban.db"
	cfg.Backend.BaseURL = "http://localhost:8085"
	cfg.Analysis = AnalysisConfig{
		Years:           []int{2016, 2024},
		LSTScale:        1000,
		NightLightScale: 500,
		VegetationScale: 250,
		LandCoverScale:  100,
		RuralBufferKM:   25,
		ErosionM:        100,
		PrimaryWeight:   0.5,
		MaskThreshold:   0.5,
		ConfidenceLevel: 0.95,
		TDistribution:   "exact",
	}
	cfg.Batch.MaxConcurrentCities = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAnalyze_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("analyze"))
}

func TestValidateAnalyze_Invalid(t *testing.T) {
	cfg := validDefaults()
	cfg.Backend.BaseURL = ""
	cfg.Analysis.Years = nil
	cfg.Analysis.PrimaryWeight = 1.5
	cfg.Analysis.ConfidenceLevel = 1
	cfg.Analysis.TDistribution = "bootstrap"
	cfg.Analysis.RuralBufferKM = 0

	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url is required")
	assert.Contains(t, err.Error(), "analysis.years is required")
	assert.Contains(t, err.Error(), "primary_weight")
	assert.Contains(t, err.Error(), "confidence_level")
	assert.Contains(t, err.Error(), "t_distribution")
	assert.Contains(t, err.Error(), "rural_buffer_km")
}

func TestValidatePollutants(t *testing.T) {
	cfg := validDefaults()
	cfg.Analysis.Pollutants = []string{"NO2", "PM25"}
	err := cfg.Validate("analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pollutant PM25")
	assert.Contains(t, err.Error(), "air_quality_scale must be > 0")

	cfg.Analysis.Pollutants = []string{"NO2"}
	cfg.Analysis.AirQualityScale = 7500
	assert.NoError(t, cfg.Validate("analyze"))

	cfg.Analysis.Pollutants = nil
	cfg.Analysis.AirQualityScale = 0
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentCities = 0
	err := cfg.Validate("analyze")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_cities must be between 1 and 32")

	cfg.Batch.MaxConcurrentCities = 33
	assert.Error(t, cfg.Validate("analyze"))

	cfg.Batch.MaxConcurrentCities = 32
	assert.NoError(t, cfg.Validate("analyze"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/urban"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("store"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
