package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Amap    AmapConfig    `yaml:"amap" mapstructure:"amap"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Query   QueryConfig   `yaml:"query" mapstructure:"query"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the SQLite store holding generations and the
// geocode cache.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DataConfig locates the crawler's exported spreadsheets.
type DataConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	Glob string `yaml:"glob" mapstructure:"glob"`
}

// AmapConfig holds the online geocoding backend settings.
type AmapConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// GeocodeConfig configures resolution behavior shared by ingest and query.
type GeocodeConfig struct {
	Scheme       string `yaml:"scheme" mapstructure:"scheme"`
	OfflineTable string `yaml:"offline_table" mapstructure:"offline_table"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	Refresh      bool   `yaml:"refresh" mapstructure:"refresh"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	DefaultTop  int `yaml:"default_top" mapstructure:"default_top"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("WATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "output/water_data.db")
	v.SetDefault("data.dir", "output")
	v.SetDefault("data.glob", "water_info_*.xlsx")
	// Every key needs a default (even empty) so AutomaticEnv can bind it
	// during Unmarshal.
	v.SetDefault("amap.key", "")
	v.SetDefault("amap.base_url", "https://restapi.amap.com/v3/geocode/geo")
	v.SetDefault("amap.rps", 3.0)
	v.SetDefault("amap.timeout_secs", 8)
	v.SetDefault("amap.max_retries", 3)
	v.SetDefault("geocode.scheme", "online")
	v.SetDefault("geocode.offline_table", "output/geo_cache.csv")
	v.SetDefault("geocode.concurrency", 4)
	v.SetDefault("query.default_top", 10)
	v.SetDefault("query.timeout_secs", 15)
	v.SetDefault("server.port", 5001)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
