package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const envPrefix = "VITALSIGNAL_"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Risk      RiskConfig
	Pipeline  PipelineConfig
	Dispatch  DispatchConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RiskConfig struct {
	// KnowledgePath points at a YAML knowledge base; empty uses the
	// embedded default.
	KnowledgePath string
}

type PipelineConfig struct {
	BatchConcurrency int
	AssessTimeout    string
}

type DispatchConfig struct {
	WebhookURL   string
	WebhookToken string
	PollInterval string
}

type RetentionConfig struct {
	Days int
	Cron string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Pipeline: PipelineConfig{
			BatchConcurrency: 8,
			AssessTimeout:    "10s",
		},
		Dispatch: DispatchConfig{
			PollInterval: "500ms",
		},
		Retention: RetentionConfig{
			Days: 90,
			Cron: "0 3 * * *",
		},
	}
}

// Load reads configuration from the JSON config file, environment
// variables, and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/vitalsignal/config.json and
// secrets at $XDG_DATA_HOME/vitalsignal/secrets.json. Environment
// variables (VITALSIGNAL_*) override both.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Dispatch.WebhookToken == "" {
		if tok, err := kc.Get(SecretWebhookToken); err == nil {
			cfg.Dispatch.WebhookToken = tok
		} else if !errors.Is(err, ErrSecretNotFound) {
			return Config{}, fmt.Errorf("reading webhook token: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Pipeline.BatchConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.batch_concurrency must be positive, got %d", c.Pipeline.BatchConcurrency))
	}
	if _, err := time.ParseDuration(c.Pipeline.AssessTimeout); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.assess_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Dispatch.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.poll_interval: %w", err))
	}
	if c.Retention.Days <= 0 {
		errs = append(errs, fmt.Errorf("retention.days must be positive, got %d", c.Retention.Days))
	}
	if strings.TrimSpace(c.Retention.Cron) == "" {
		errs = append(errs, errors.New("retention.cron is required"))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AssessTimeoutDuration parses Pipeline.AssessTimeout. Call after Validate.
func (c Config) AssessTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.AssessTimeout)
	return d
}

// PollIntervalDuration parses Dispatch.PollInterval. Call after Validate.
func (c Config) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Dispatch.PollInterval)
	return d
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
	return l, nil
}
