package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Upstream     UpstreamConfig
	Generation   GenerationConfig
	Instructions InstructionsConfig
	Models       ModelsConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CORSPermissive bool
	Metrics        bool
	MaxConnections int
}

type UpstreamConfig struct {
	Provider     string
	BaseURL      string
	DefaultModel string
}

type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// InstructionsConfig locates the system instruction prepended to every
// conversation. Text wins over File.
type InstructionsConfig struct {
	Text string
	File string
}

type ModelsConfig struct {
	File string
}

type LogConfig struct {
	Level string
}

// Supported upstream providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    5000,
			Metrics: true,
		},
		Upstream: UpstreamConfig{
			Provider: ProviderOpenAI,
		},
		Generation: GenerationConfig{
			Temperature:     1,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 8192,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Load reads configuration from a .env file in the working directory (if
// present), the JSON file backend at $XDG_CONFIG_HOME/chatrelay/config.json,
// and CHATRELAY_* environment variables, in increasing order of precedence.
// The system instruction comes from AI_INSTRUCTIONS or instructions.file and
// is required.
func Load() (Config, error) {
	loadDotEnv()
	return loadWith(newPlatformBackend())
}

// LoadSettings is Load without the system instruction requirement, for
// commands that only talk to a running server.
func LoadSettings() (Config, error) {
	loadDotEnv()
	cfg := defaults()
	if err := applyBackend(&cfg, newPlatformBackend()); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, validate(cfg)
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Older deployments set the mixed-case name.
	if cfg.Instructions.Text == "" {
		cfg.Instructions.Text = os.Getenv("AI_instructions")
	}

	if err := resolveInstructions(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveInstructions(cfg *Config) error {
	if strings.TrimSpace(cfg.Instructions.Text) != "" {
		return nil
	}
	if cfg.Instructions.File != "" {
		data, err := os.ReadFile(cfg.Instructions.File)
		if err != nil {
			return fmt.Errorf("reading instructions file: %w", err)
		}
		cfg.Instructions.Text = strings.TrimSpace(string(data))
	}
	if cfg.Instructions.Text == "" {
		return errors.New("missing required config: system instruction. " +
			"Set it via environment variable AI_INSTRUCTIONS or point instructions.file at a text file")
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.Upstream.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown upstream.provider %q (want %s or %s)", cfg.Upstream.Provider, ProviderOpenAI, ProviderGemini)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative")
	}
	return nil
}
