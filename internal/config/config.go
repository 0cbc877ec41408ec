// Package config handles studywithme configuration loading.
//
// Configuration is a single YAML file. Environment variables in the file
// are expanded before parsing, so secrets can live in the environment:
//
//	llm:
//	  api_key: ${GEMINI_API_KEY}
//
// Missing or out-of-range values are replaced by documented defaults
// rather than failing startup; see [Config.Normalize].
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Default] and [Config.Normalize].
const (
	DefaultPort            = 8000
	DefaultProvider        = "gemini"
	DefaultModel           = "gemini-pro"
	DefaultTemperature     = 0.3
	DefaultMaxOutputTokens = 1024
	DefaultTimeoutSec      = 120
	DefaultMaxTurns        = 2
	DefaultHistoryTTL      = 24 * time.Hour
	DefaultUserID          = "default_user"
	DefaultMaxCASAttempts  = 5
	DefaultStoreBackend    = "memory"
	DefaultSweepInterval   = 10 * time.Minute
	DefaultFetchMaxChars   = 4000
	DefaultTopicPrefix     = "studywithme"
	DefaultBreakerFailures = 5
	DefaultBreakerOpenSec  = 30
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/studywithme/config.yaml,
// /etc/studywithme/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "studywithme", "config.yaml"))
	}

	paths = append(paths, "/etc/studywithme/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all studywithme configuration.
type Config struct {
	Listen    ListenConfig  `yaml:"listen"`
	LLM       LLMConfig     `yaml:"llm"`
	History   HistoryConfig `yaml:"history"`
	Store     StoreConfig   `yaml:"store"`
	Tools     ToolsConfig   `yaml:"tools"`
	Prompt    PromptConfig  `yaml:"prompt"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects and tunes the generation backend.
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // gemini or ollama
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"` // overrides the provider endpoint
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	TimeoutSec      int           `yaml:"timeout_sec"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the backend.
// MaxFailures consecutive failures open the circuit for OpenSec seconds.
type BreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
	OpenSec     int `yaml:"open_sec"`
}

// HistoryConfig bounds per-user conversation history.
type HistoryConfig struct {
	// MaxTurns is the number of user/assistant exchanges kept; the
	// stored history never exceeds 2*MaxTurns entries.
	MaxTurns       int           `yaml:"max_turns"`
	TTL            time.Duration `yaml:"ttl"`
	DefaultUserID  string        `yaml:"default_user_id"`
	MaxCASAttempts int           `yaml:"max_cas_attempts"`
}

// StoreConfig selects the session backing store.
type StoreConfig struct {
	Backend       string        `yaml:"backend"` // memory, sqlite or redis
	SQLitePath    string        `yaml:"sqlite_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// SyllabusDir holds *.md syllabi. Empty uses the embedded default.
	SyllabusDir string      `yaml:"syllabus_dir"`
	Fetch       FetchConfig `yaml:"fetch"`
}

// FetchConfig gates the fetch_page tool.
type FetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// PromptConfig customizes prompt assembly.
type PromptConfig struct {
	// AnswerLanguage, when set, asks the model to answer in that language.
	AnswerLanguage string `yaml:"answer_language"`
}

// MQTTConfig enables the exchange event publisher. Publishing is off
// unless Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether an MQTT broker has been configured.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, and normalizes the result. The returned notes describe any
// values that were replaced by defaults.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	notes := cfg.Normalize()
	return cfg, notes, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: DefaultPort},
		LLM: LLMConfig{
			Provider:        DefaultProvider,
			Model:           DefaultModel,
			Temperature:     DefaultTemperature,
			MaxOutputTokens: DefaultMaxOutputTokens,
			TimeoutSec:      DefaultTimeoutSec,
			Breaker: BreakerConfig{
				MaxFailures: DefaultBreakerFailures,
				OpenSec:     DefaultBreakerOpenSec,
			},
		},
		History: HistoryConfig{
			MaxTurns:       DefaultMaxTurns,
			TTL:            DefaultHistoryTTL,
			DefaultUserID:  DefaultUserID,
			MaxCASAttempts: DefaultMaxCASAttempts,
		},
		Store: StoreConfig{
			Backend:       DefaultStoreBackend,
			SweepInterval: DefaultSweepInterval,
		},
		Tools: ToolsConfig{
			Fetch: FetchConfig{MaxChars: DefaultFetchMaxChars},
		},
		MQTT: MQTTConfig{TopicPrefix: DefaultTopicPrefix},
	}
}

// Normalize replaces invalid or missing values with defaults and returns
// a human-readable note for each replacement. It never fails: a bad
// value degrades to the documented default.
func (c *Config) Normalize() []string {
	var notes []string
	note := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		note("listen.port %d out of range, using %d", c.Listen.Port, DefaultPort)
		c.Listen.Port = DefaultPort
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case "gemini", "ollama":
	case "":
		c.LLM.Provider = DefaultProvider
	default:
		note("llm.provider %q unknown, using %q", c.LLM.Provider, DefaultProvider)
		c.LLM.Provider = DefaultProvider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		note("llm.temperature %v out of range, using %v", c.LLM.Temperature, DefaultTemperature)
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxOutputTokens <= 0 {
		note("llm.max_output_tokens %d invalid, using %d", c.LLM.MaxOutputTokens, DefaultMaxOutputTokens)
		c.LLM.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = DefaultTimeoutSec
	}
	if c.LLM.Breaker.MaxFailures <= 0 {
		c.LLM.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if c.LLM.Breaker.OpenSec <= 0 {
		c.LLM.Breaker.OpenSec = DefaultBreakerOpenSec
	}

	if c.History.MaxTurns <= 0 {
		note("history.max_turns %d invalid, using %d", c.History.MaxTurns, DefaultMaxTurns)
		c.History.MaxTurns = DefaultMaxTurns
	}
	if c.History.TTL < 0 {
		note("history.ttl %s negative, using %s", c.History.TTL, DefaultHistoryTTL)
		c.History.TTL = DefaultHistoryTTL
	}
	if strings.TrimSpace(c.History.DefaultUserID) == "" {
		c.History.DefaultUserID = DefaultUserID
	}
	if c.History.MaxCASAttempts <= 0 {
		c.History.MaxCASAttempts = DefaultMaxCASAttempts
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			note("store.sqlite_path empty, using memory backend")
			c.Store.Backend = "memory"
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			note("store.redis.addr empty, using memory backend")
			c.Store.Backend = "memory"
		}
	case "":
		c.Store.Backend = DefaultStoreBackend
	default:
		note("store.backend %q unknown, using %q", c.Store.Backend, DefaultStoreBackend)
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.SweepInterval <= 0 {
		c.Store.SweepInterval = DefaultSweepInterval
	}

	if c.Tools.Fetch.MaxChars <= 0 {
		c.Tools.Fetch.MaxChars = DefaultFetchMaxChars
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		note("%v, using info", err)
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		note("log_format %q unknown, using text", c.LogFormat)
		c.LogFormat = "text"
	}

	return notes
}
