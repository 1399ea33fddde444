package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	App     AppConfig     `yaml:"app"`
	Store   StoreConfig   `yaml:"store"`
	Market  MarketConfig  `yaml:"market"`
	LLM     LLMConfig     `yaml:"llm"`
	Prompt  PromptConfig  `yaml:"prompt"`
	Session SessionConfig `yaml:"session"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// AppConfig carries the identity used to partition stored conversations.
type AppConfig struct {
	ID        string `yaml:"id"`
	AuthToken string `yaml:"auth_token"`
}

type StoreConfig struct {
	Driver    string          `yaml:"driver"`
	Sqlite    SqliteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

type SqliteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type FirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
	// CredentialsJSON is a service-account key block.
	CredentialsJSON string `yaml:"credentials_json"`
}

type MarketConfig struct {
	Providers []string `yaml:"providers"`
	TimeoutMs int      `yaml:"timeout_ms"`
	YahooURL  string   `yaml:"yahoo_url"`
}

type LLMConfig struct {
	Provider  string       `yaml:"provider"`
	Grounding bool         `yaml:"grounding"`
	TimeoutMs int          `yaml:"timeout_ms"`
	Gemini    GeminiConfig `yaml:"gemini"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type OpenAIConfig struct {
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
}

type PromptConfig struct {
	HistoryWindow int `yaml:"history_window"`
}

type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	MaxAgeSec  int    `yaml:"max_age_sec"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
		App:    AppConfig{ID: "default-app-id"},
		Store: StoreConfig{
			Driver: "sqlite",
			Sqlite: SqliteConfig{Path: "data/stockbot.db"},
			Redis:  RedisConfig{Addr: "127.0.0.1:6379", Prefix: "stockbot"},
			Bolt:   BoltConfig{Path: "data/stockbot.bolt"},
		},
		Market: MarketConfig{
			Providers: []string{"yahoo", "finance-go"},
			TimeoutMs: 5000,
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			Grounding: true,
			TimeoutMs: 60000,
			Gemini: GeminiConfig{
				Model:   "gemini-2.5-flash-preview-09-2025",
				BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			},
			OpenAI: OpenAIConfig{Model: "gpt-4.1-mini"},
		},
		Prompt:  PromptConfig{HistoryWindow: 20},
		Session: SessionConfig{CookieName: "stockbot_session", MaxAgeSec: 30 * 24 * 3600},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.OpenAI.Model = v
	}
	if v := os.Getenv("__app_id"); v != "" {
		cfg.App.ID = v
	}
	if v := os.Getenv("__initial_auth_token"); v != "" {
		cfg.App.AuthToken = v
	}
	if v := os.Getenv("__firebase_config"); v != "" {
		cfg.Store.Firestore.CredentialsJSON = v
		if os.Getenv("STORE_DRIVER") == "" {
			cfg.Store.Driver = "firestore"
		}
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	return nil
}

func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "sqlite", "redis", "bolt", "firestore", "memory":
	default:
		return fmt.Errorf("invalid store.driver: %q", c.Store.Driver)
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("invalid llm.provider: %q", c.LLM.Provider)
	}
	if c.Prompt.HistoryWindow < 0 {
		return fmt.Errorf("invalid prompt.history_window: %d", c.Prompt.HistoryWindow)
	}
	return nil
}
