package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig    `yaml:"store" mapstructure:"store"`
	Log        LogConfig      `yaml:"log" mapstructure:"log"`
	Backend    BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Throttle   ThrottleConfig `yaml:"throttle" mapstructure:"throttle"`
	Retry      RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Analysis   AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Batch      BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig   `yaml:"server" mapstructure:"server"`
	CitiesFile string         `yaml:"cities_file" mapstructure:"cities_file"`
}

// StoreConfig selects the result store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BackendConfig configures the raster-analytics backend client.
type BackendConfig struct {
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	Token                string `yaml:"token" mapstructure:"token"`
	ScalarTimeoutSecs    int    `yaml:"scalar_timeout_secs" mapstructure:"scalar_timeout_secs"`
	HistogramTimeoutSecs int    `yaml:"histogram_timeout_secs" mapstructure:"histogram_timeout_secs"`
	HeavyTimeoutSecs     int    `yaml:"heavy_timeout_secs" mapstructure:"heavy_timeout_secs"`
}

// ThrottleConfig spaces calls to the backend.
type ThrottleConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// RetryConfig configures transient-error retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures the backend circuit breaker.
type CircuitConfig struct {
	Threshold    int `yaml:"threshold" mapstructure:"threshold"`
	CooldownSecs int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// AnalysisConfig holds the scientific parameters of a run.
type AnalysisConfig struct {
	Years           []int    `yaml:"years" mapstructure:"years"`
	LSTScale        float64  `yaml:"lst_scale" mapstructure:"lst_scale"`
	NightLightScale float64  `yaml:"night_light_scale" mapstructure:"night_light_scale"`
	VegetationScale float64  `yaml:"vegetation_scale" mapstructure:"vegetation_scale"`
	LandCoverScale  float64  `yaml:"land_cover_scale" mapstructure:"land_cover_scale"`
	AirQualityScale float64  `yaml:"air_quality_scale" mapstructure:"air_quality_scale"`
	Pollutants      []string `yaml:"pollutants" mapstructure:"pollutants"`
	RuralBufferKM   float64  `yaml:"rural_buffer_km" mapstructure:"rural_buffer_km"`
	ErosionM        float64  `yaml:"erosion_m" mapstructure:"erosion_m"`
	PrimarySource   string   `yaml:"primary_source" mapstructure:"primary_source"`
	PrimaryWeight   float64  `yaml:"primary_weight" mapstructure:"primary_weight"`
	MaskThreshold   float64  `yaml:"mask_threshold" mapstructure:"mask_threshold"`
	MinUrbanPixels  int64    `yaml:"min_urban_pixels" mapstructure:"min_urban_pixels"`
	ConfidenceLevel float64  `yaml:"confidence_level" mapstructure:"confidence_level"`
	TDistribution   string   `yaml:"t_distribution" mapstructure:"t_distribution"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCities int `yaml:"max_concurrent_cities" mapstructure:"max_concurrent_cities"`
}

// ServerConfig configures the results API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("URBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "urban.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("backend.base_url", "http://localhost:8085")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.scalar_timeout_secs", 60)
	v.SetDefault("backend.histogram_timeout_secs", 120)
	v.SetDefault("backend.heavy_timeout_secs", 180)
	v.SetDefault("throttle.min_interval_ms", 2000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.threshold", 5)
	v.SetDefault("circuit.cooldown_secs", 60)
	v.SetDefault("analysis.years", []int{2016, 2017, 2018, 2019, 2020, 2021, 2022, 2023, 2024})
	v.SetDefault("analysis.lst_scale", 1000.0)
	v.SetDefault("analysis.night_light_scale", 500.0)
	v.SetDefault("analysis.vegetation_scale", 250.0)
	v.SetDefault("analysis.land_cover_scale", 100.0)
	v.SetDefault("analysis.air_quality_scale", 7500.0)
	v.SetDefault("analysis.pollutants", slices.Clone(raster.Pollutants))
	v.SetDefault("analysis.rural_buffer_km", 25.0)
	v.SetDefault("analysis.erosion_m", 100.0)
	v.SetDefault("analysis.primary_source", "esri_lulc")
	v.SetDefault("analysis.primary_weight", 0.5)
	v.SetDefault("analysis.mask_threshold", 0.5)
	v.SetDefault("analysis.min_urban_pixels", 10)
	v.SetDefault("analysis.confidence_level", 0.95)
	v.SetDefault("analysis.t_distribution", "exact")
	v.SetDefault("batch.max_concurrent_cities", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("cities_file", "")

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

// Validate checks the settings a command mode depends on. Modes are
// "analyze", "serve" and "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			add("store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	default:
		add("store.driver must be sqlite or postgres")
	}

	switch mode {
	case "store":
	case "analyze":
		a := c.Analysis
		if c.Backend.BaseURL == "" {
			add("backend.base_url is required")
		}
		if len(a.Years) == 0 {
			add("analysis.years is required")
		}
		if a.LSTScale <= 0 || a.NightLightScale <= 0 || a.VegetationScale <= 0 || a.LandCoverScale <= 0 {
			add("analysis scales must be > 0")
		}
		if len(a.Pollutants) > 0 && a.AirQualityScale <= 0 {
			add("analysis.air_quality_scale must be > 0")
		}
		for _, p := range a.Pollutants {
			if !slices.Contains(raster.Pollutants, p) {
				add("analysis.pollutants: unknown pollutant " + p)
			}
		}
		if a.RuralBufferKM <= 0 {
			add("analysis.rural_buffer_km must be > 0")
		}
		if a.ErosionM < 0 {
			add("analysis.erosion_m must be >= 0")
		}
		if a.PrimaryWeight < 0 || a.PrimaryWeight > 1 {
			add("analysis.primary_weight must be between 0 and 1")
		}
		if a.MaskThreshold < 0 || a.MaskThreshold > 1 {
			add("analysis.mask_threshold must be between 0 and 1")
		}
		if a.ConfidenceLevel <= 0 || a.ConfidenceLevel >= 1 {
			add("analysis.confidence_level must be between 0 and 1")
		}
		switch a.TDistribution {
		case "", "exact", "approximate":
		default:
			add("analysis.t_distribution must be exact or approximate")
		}
		if c.Batch.MaxConcurrentCities < 1 || c.Batch.MaxConcurrentCities > 32 {
			add("batch.max_concurrent_cities must be between 1 and 32")
		}
		if c.Throttle.MinIntervalMs < 0 {
			add("throttle.min_interval_ms must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
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
