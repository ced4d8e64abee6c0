// Package config loads the feed server's startup configuration from an
// optional YAML file and FEED_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/observability"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps validation and parse failures.
var ErrInvalidConfig = errors.New("invalid config")

type ServerConfig struct {
	HTTPAddr string `yaml:"httpAddr" validate:"required,hostname_port"`
	GRPCAddr string `yaml:"grpcAddr" validate:"omitempty,hostname_port"`

	// WSKeepalive is how long a silent WebSocket peer is kept before it is dropped.
	WSKeepalive time.Duration `yaml:"wsKeepalive" validate:"gte=1s"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SimulationConfig struct {
	TickInterval time.Duration `yaml:"tickInterval" validate:"gte=1ms"`
	Accelerated  bool          `yaml:"accelerated"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=text json"`
	AddSource bool   `yaml:"addSource"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint" validate:"omitempty,hostname_port"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio" validate:"gte=0,lte=1"`
}

// Observability converts the loaded settings into the tracer setup options.
func (t TracingConfig) Observability() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
	}
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:    ":8001",
			GRPCAddr:    ":50051",
			WSKeepalive: 60 * time.Second,
		},
		Metrics:    MetricsConfig{Enabled: true},
		Simulation: SimulationConfig{TickInterval: 100 * time.Millisecond},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: observability.DefaultServiceName,
			SampleRatio: 1,
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parsing %q: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
		}
		*dst = b
		return nil
	}

	str("FEED_HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("FEED_GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("FEED_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("FEED_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	str("FEED_TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.Tracing.Exporter = strings.ToLower(cfg.Tracing.Exporter)

	for key, dst := range map[string]*time.Duration{
		"FEED_TICK_INTERVAL": &cfg.Simulation.TickInterval,
		"FEED_WS_KEEPALIVE":  &cfg.Server.WSKeepalive,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
		}
		*dst = d
	}
	if v, ok := lookup("FEED_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: FEED_TRACING_SAMPLE_RATIO=%q: %v", ErrInvalidConfig, v, err)
		}
		cfg.Tracing.SampleRatio = f
	}

	for key, dst := range map[string]*bool{
		"FEED_METRICS_ENABLED": &cfg.Metrics.Enabled,
		"FEED_SIM_ACCELERATED": &cfg.Simulation.Accelerated,
		"FEED_TRACING_ENABLED": &cfg.Tracing.Enabled,
		"LOG_ADD_SOURCE":       &cfg.Logging.AddSource,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return nil
}
