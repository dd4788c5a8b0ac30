package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  string // secrets file entry; empty for plain keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: envPrefix + "SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: envPrefix + "SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: envPrefix + "STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: envPrefix + "LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "risk.knowledge_path", typ: kString, env: envPrefix + "RISK_KNOWLEDGE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Risk.KnowledgePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Risk.KnowledgePath },
	},
	{
		key: "pipeline.batch_concurrency", typ: kInt, env: envPrefix + "PIPELINE_BATCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchConcurrency },
	},
	{
		key: "pipeline.assess_timeout", typ: kString, env: envPrefix + "PIPELINE_ASSESS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.AssessTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.AssessTimeout },
	},
	{
		key: "dispatch.webhook_url", typ: kString, env: envPrefix + "DISPATCH_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Dispatch.WebhookURL },
	},
	{
		key: "dispatch.webhook_token", typ: kString, env: envPrefix + "DISPATCH_WEBHOOK_TOKEN",
		secret:  SecretWebhookToken,
		apply:   func(cfg *Config, v any) { cfg.Dispatch.WebhookToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Dispatch.WebhookToken },
	},
	{
		key: "dispatch.poll_interval", typ: kString, env: envPrefix + "DISPATCH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Dispatch.PollInterval },
	},
	{
		key: "retention.days", typ: kInt, env: envPrefix + "RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Retention.Days = v.(int) },
		extract: func(cfg Config) any { return cfg.Retention.Days },
	},
	{
		key: "retention.cron", typ: kString, env: envPrefix + "RETENTION_CRON",
		apply:   func(cfg *Config, v any) { cfg.Retention.Cron = v.(string) },
		extract: func(cfg Config) any { return cfg.Retention.Cron },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret != "" {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
