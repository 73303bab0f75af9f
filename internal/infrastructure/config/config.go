package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Consent   ConsentConfig   `koanf:"consent"`
	Quota     QuotaConfig     `koanf:"quota"`
	Anomaly   AnomalyConfig   `koanf:"anomaly"`
	Incident  IncidentConfig  `koanf:"incident"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Load-shed ceiling for graceful degradation under burst load.
	MaxRequestsPerSecond int `koanf:"max_requests_per_second"`
	BurstSize            int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type ConsentConfig struct {
	SessionTTL      time.Duration `koanf:"session_ttl"`
	TokenSigningKey string        `koanf:"token_signing_key"`
	TokenIssuer     string        `koanf:"token_issuer"`
	DecisionTimeout time.Duration `koanf:"decision_timeout"`
}

type QuotaConfig struct {
	RateWindow             time.Duration `koanf:"rate_window"`
	BaseRateCeiling        int           `koanf:"base_rate_ceiling"`
	VolumeWindow           time.Duration `koanf:"volume_window"`
	VolumeCeilingBytes     int64         `koanf:"volume_ceiling_bytes"`
	PatternWindow          time.Duration `koanf:"pattern_window"`
	EnumerationUserRatio   float64       `koanf:"enumeration_user_ratio"`
	EnumerationMinRequests int           `koanf:"enumeration_min_requests"`
	TimingRegularityCV     float64       `koanf:"timing_regularity_cv"`
	CleanInterval          time.Duration `koanf:"clean_interval"`
}

type AnomalyConfig struct {
	ShortHorizon          time.Duration `koanf:"short_horizon"`
	EnumerationPairRatio  float64       `koanf:"enumeration_pair_ratio"`
	CorrelationWindow     time.Duration `koanf:"correlation_window"`
	CorrelationMinClients int           `koanf:"correlation_min_clients"`
	EvasionIPThreshold    int           `koanf:"evasion_ip_threshold"`
	EvasionUAThreshold    int           `koanf:"evasion_ua_threshold"`
	ConfidenceFloor       float64       `koanf:"confidence_floor"`
	BaselineDecay         float64       `koanf:"baseline_decay"`
}

type IncidentConfig struct {
	IsolationRetries    int           `koanf:"isolation_retries"`
	IsolationRetryDelay time.Duration `koanf:"isolation_retry_delay"`
}

type AuditConfig struct {
	QueueDepth   int           `koanf:"queue_depth"`
	FlushTimeout time.Duration `koanf:"flush_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Load reads configuration from defaults, an optional YAML file, and
// EDS_-prefixed environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:                 8080,
			ReadTimeout:          10 * time.Second,
			WriteTimeout:         10 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			MaxRequestsPerSecond: 2000,
			BurstSize:            4000,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    150 * time.Millisecond,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     50,
			MinIdleConns: 10,
			MaxRetries:   2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
		},
		Consent: ConsentConfig{
			SessionTTL:      time.Hour,
			TokenIssuer:     "edushield-gateway",
			DecisionTimeout: 150 * time.Millisecond,
		},
		Quota: QuotaConfig{
			RateWindow:             time.Minute,
			BaseRateCeiling:        100,
			VolumeWindow:           24 * time.Hour,
			VolumeCeilingBytes:     512 << 20, // 512 MiB
			PatternWindow:          5 * time.Minute,
			EnumerationUserRatio:   0.8,
			EnumerationMinRequests: 20,
			TimingRegularityCV:     0.05,
			CleanInterval:          time.Hour,
		},
		Anomaly: AnomalyConfig{
			ShortHorizon:          10 * time.Minute,
			EnumerationPairRatio:  0.9,
			CorrelationWindow:     15 * time.Minute,
			CorrelationMinClients: 3,
			EvasionIPThreshold:    5,
			EvasionUAThreshold:    4,
			ConfidenceFloor:       0.3,
			BaselineDecay:         0.98,
		},
		Incident: IncidentConfig{
			IsolationRetries:    3,
			IsolationRetryDelay: 100 * time.Millisecond,
		},
		Audit: AuditConfig{
			QueueDepth:   4096,
			FlushTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			SamplingRate: 0.1,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	} else {
		// Default location is optional
		_ = k.Load(file.Provider("configs/config.yaml"), yaml.Parser())
	}

	if err := k.Load(env.Provider("EDS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "EDS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
