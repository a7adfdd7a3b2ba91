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
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	envOnly bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "CHATRELAY_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CHATRELAY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_permissive", typ: kBool, env: "CHATRELAY_SERVER_CORS_PERMISSIVE",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSPermissive = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.CORSPermissive },
	},
	{
		key: "server.metrics", typ: kBool, env: "CHATRELAY_SERVER_METRICS",
		apply:   func(cfg *Config, v any) { cfg.Server.Metrics = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.Metrics },
	},
	{
		key: "server.max_connections", typ: kInt, env: "CHATRELAY_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "upstream.provider", typ: kString, env: "CHATRELAY_UPSTREAM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Provider },
	},
	{
		key: "upstream.base_url", typ: kString, env: "CHATRELAY_UPSTREAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.BaseURL },
	},
	{
		key: "upstream.default_model", typ: kString, env: "CHATRELAY_UPSTREAM_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.DefaultModel },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "CHATRELAY_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.top_p", typ: kFloat, env: "CHATRELAY_GENERATION_TOP_P",
		apply:   func(cfg *Config, v any) { cfg.Generation.TopP = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.TopP },
	},
	{
		key: "generation.top_k", typ: kInt, env: "CHATRELAY_GENERATION_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Generation.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.TopK },
	},
	{
		key: "generation.max_output_tokens", typ: kInt, env: "CHATRELAY_GENERATION_MAX_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxOutputTokens },
	},
	{
		key: "instructions.text", typ: kString, env: "AI_INSTRUCTIONS",
		envOnly: true,
		apply:   func(cfg *Config, v any) { cfg.Instructions.Text = v.(string) },
		extract: func(cfg Config) any { return cfg.Instructions.Text },
	},
	{
		key: "instructions.file", typ: kString, env: "CHATRELAY_INSTRUCTIONS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Instructions.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Instructions.File },
	},
	{
		key: "models.file", typ: kString, env: "CHATRELAY_MODELS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Models.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.File },
	},
	{
		key: "log.level", typ: kString, env: "CHATRELAY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.envOnly {
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
