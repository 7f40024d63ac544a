package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

const envPrefix = "MIRADOR_ANOMALY_"

// Config captures the settings required to boot the anomaly engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detection DetectionConfig `yaml:"detection"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Backend   BackendConfig   `yaml:"backend"`
	Collector CollectorConfig `yaml:"collector"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectionConfig tunes history, detectors, dedup and alert retention.
type DetectionConfig struct {
	HistoryCapacity   int           `yaml:"historyCapacity"`
	HistoryShards     int           `yaml:"historyShards"`
	Workers           int           `yaml:"workers"`
	ZThreshold        float64       `yaml:"zThreshold"`
	ZMinSamples       int           `yaml:"zMinSamples"`
	IQRMultiplier     float64       `yaml:"iqrMultiplier"`
	IQRMinSamples     int           `yaml:"iqrMinSamples"`
	CompositeFraction float64       `yaml:"compositeFraction"`
	DedupWindow       time.Duration `yaml:"dedupWindow"`
	AlertRetention    time.Duration `yaml:"alertRetention"`
	AlertCapacity     int           `yaml:"alertCapacity"`
	PredictionHorizon time.Duration `yaml:"predictionHorizon"`
	RulesPath         string        `yaml:"rulesPath"`
	// Models override detector parameters per metric.
	Models []models.DetectionModel `yaml:"models"`
}

// PatternsConfig controls the pattern registry and learning mode.
type PatternsConfig struct {
	SeedPath          string        `yaml:"seedPath"`
	LearningMode      bool          `yaml:"learningMode"`
	SyncInterval      time.Duration `yaml:"syncInterval"`
	SyncTimeout       time.Duration `yaml:"syncTimeout"`
	LearnedRefresh    time.Duration `yaml:"learnedRefresh"`
	LearnedMinSamples int           `yaml:"learnedMinSamples"`
}

// BackendConfig configures the remote pattern backend.
type BackendConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	APIKey           string        `yaml:"apiKey"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failureThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

// CollectorConfig configures the metric source polled every tick.
type CollectorConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	SnapshotPath string        `yaml:"snapshotPath"`
	Timeout      time.Duration `yaml:"timeout"`
	TickInterval time.Duration `yaml:"tickInterval"`
}

// CacheConfig controls the Redis cache for published alerts and the learned feed.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	AlertTTL     time.Duration `yaml:"alertTTL"`
	LearnedTTL   time.Duration `yaml:"learnedTTL"`
}

// Load initialises Config from defaults, an optional YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detection: DetectionConfig{
			HistoryCapacity:   10000,
			HistoryShards:     32,
			Workers:           8,
			ZThreshold:        3,
			ZMinSamples:       30,
			IQRMultiplier:     1.5,
			IQRMinSamples:     50,
			DedupWindow:       10 * time.Minute,
			AlertRetention:    7 * 24 * time.Hour,
			AlertCapacity:     10000,
			PredictionHorizon: time.Hour,
			RulesPath:         "configs/rules/default.yaml",
		},
		Patterns: PatternsConfig{
			SeedPath:          "configs/patterns.yaml",
			LearningMode:      true,
			SyncInterval:      30 * time.Minute,
			SyncTimeout:       30 * time.Second,
			LearnedRefresh:    15 * time.Minute,
			LearnedMinSamples: 20,
		},
		Backend: BackendConfig{
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
			OpenTimeout:      time.Minute,
		},
		Collector: CollectorConfig{
			SnapshotPath: "/api/v1/servers/metrics",
			Timeout:      5 * time.Second,
			TickInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			AlertTTL:     15 * time.Minute,
			LearnedTTL:   10 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.HTTPAddress, "HTTP_ADDRESS")
	setString(&cfg.Server.GRPCAddress, "GRPC_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "METRICS_ADDRESS")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	setInt(&cfg.Detection.Workers, "WORKERS")
	setFloat(&cfg.Detection.ZThreshold, "Z_THRESHOLD")
	setFloat(&cfg.Detection.IQRMultiplier, "IQR_MULTIPLIER")
	setFloat(&cfg.Detection.CompositeFraction, "COMPOSITE_FRACTION")
	setDuration(&cfg.Detection.DedupWindow, "DEDUP_WINDOW")
	setDuration(&cfg.Detection.AlertRetention, "ALERT_RETENTION")
	setString(&cfg.Detection.RulesPath, "RULES_PATH")

	setString(&cfg.Patterns.SeedPath, "PATTERNS_PATH")
	setBool(&cfg.Patterns.LearningMode, "LEARNING_MODE")
	setDuration(&cfg.Patterns.SyncInterval, "SYNC_INTERVAL")
	setDuration(&cfg.Patterns.LearnedRefresh, "LEARNED_REFRESH")

	setString(&cfg.Backend.Endpoint, "BACKEND_URL")
	setString(&cfg.Backend.APIKey, "BACKEND_API_KEY")

	setString(&cfg.Collector.BaseURL, "COLLECTOR_URL")
	setString(&cfg.Collector.SnapshotPath, "COLLECTOR_PATH")
	setDuration(&cfg.Collector.TickInterval, "TICK_INTERVAL")

	setBool(&cfg.Cache.Enabled, "CACHE_ENABLED")
	setString(&cfg.Cache.Addr, "CACHE_ADDR")
	setString(&cfg.Cache.Username, "CACHE_USERNAME")
	setString(&cfg.Cache.Password, "CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "CACHE_DB")
	setBool(&cfg.Cache.TLS, "CACHE_TLS")
	setDuration(&cfg.Cache.DialTimeout, "CACHE_DIAL_TIMEOUT")
	setDuration(&cfg.Cache.ReadTimeout, "CACHE_READ_TIMEOUT")
	setDuration(&cfg.Cache.WriteTimeout, "CACHE_WRITE_TIMEOUT")
	setInt(&cfg.Cache.MaxRetries, "CACHE_MAX_RETRIES")
	setDuration(&cfg.Cache.AlertTTL, "CACHE_ALERT_TTL")
	setDuration(&cfg.Cache.LearnedTTL, "CACHE_LEARNED_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return
	}
	*dst = strings.EqualFold(v, "true") || v == "1"
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
