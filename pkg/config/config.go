// Package config loads and validates engine configuration from YAML files
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the playbook engine. Zero values are
// replaced by defaults at load time, so a partial YAML file is fine.
type Config struct {
	// Storage selects the persistence backend: file, sqlite or redis.
	Storage StorageConfig `yaml:"storage"`

	// Engine carries the curation/retrieval knobs.
	Engine EngineConfig `yaml:"engine"`

	// Reflector configures the optional LLM enrichment step.
	Reflector ReflectorConfig `yaml:"reflector"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=file sqlite redis"`
	PlaybookPath  string `yaml:"playbook_path" validate:"required_if=Backend file"`
	GuardrailPath string `yaml:"guardrail_path" validate:"required_if=Backend file"`
	SQLitePath    string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB       int    `yaml:"redis_db" validate:"min=0"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// EngineConfig carries curation, decay and retrieval parameters.
type EngineConfig struct {
	MaxActiveTips  int     `yaml:"max_active_tips" validate:"min=1"`
	MaxPreferences int     `yaml:"max_preferences" validate:"min=1"`
	// MaxEntries bounds the run history log; 0 keeps it unbounded.
	MaxEntries     int     `yaml:"max_entries" validate:"min=0"`
	DecayPerDay    float64 `yaml:"decay_per_day" validate:"gte=0,lte=1"`
	EvictBelow     float64 `yaml:"evict_below" validate:"gte=0,lte=1"`
	SelectLimit    int     `yaml:"select_limit" validate:"min=1"`
	FallbackLimit  int     `yaml:"fallback_limit" validate:"min=1"`
	ScoreThreshold float64 `yaml:"score_threshold" validate:"gte=0,lte=1"`
}

// ReflectorConfig configures the optional LLM reflection call.
type ReflectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Async   bool   `yaml:"async"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	MaxTips int    `yaml:"max_tips" validate:"min=1,max=10"`
}

// LoggingConfig configures severity and destinations.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR FATAL"`
	File  string `yaml:"file"`
}

// Default returns the configuration the engine runs with when no file is
// provided. The numeric values mirror the engine's documented semantics.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:       "file",
			PlaybookPath:  "playbook.json",
			GuardrailPath: "guardrails.json",
			KeyPrefix:     "playbook",
		},
		Engine: EngineConfig{
			MaxActiveTips:  20,
			MaxPreferences: 12,
			MaxEntries:     0,
			DecayPerDay:    0.02,
			EvictBelow:     0.2,
			SelectLimit:    8,
			FallbackLimit:  5,
			ScoreThreshold: 0.2,
		},
		Reflector: ReflectorConfig{
			Enabled: false,
			Async:   false,
			Model:   "claude-3-haiku-20240307",
			MaxTips: 3,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads a YAML config file, fills gaps with defaults, applies
// environment overrides and validates the result. An empty path returns
// the defaults (still env-overridden and validated).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps a small set of environment variables onto the
// config, matching the original deployment's env-driven switches.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLAYBOOK_PATH"); v != "" {
		cfg.Storage.PlaybookPath = v
	}
	if v := os.Getenv("PLAYBOOK_GUARDRAILS_PATH"); v != "" {
		cfg.Storage.GuardrailPath = v
	}
	if v := os.Getenv("PLAYBOOK_REDIS_ADDR"); v != "" {
		cfg.Storage.Backend = "redis"
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Reflector.APIKey == "" {
		cfg.Reflector.APIKey = v
	}
	if v := os.Getenv("PLAYBOOK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, ve := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", ve.Namespace(), ve.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}
