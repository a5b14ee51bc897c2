package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Catalog  CatalogConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Webhook  WebhookConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// ProviderConfig points at an OpenAI-compatible completion/embedding API.
type ProviderConfig struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
}

// CatalogConfig points at the storefront platform admin API.
type CatalogConfig struct {
	BaseURL     string
	AccessToken string
}

type StorageConfig struct {
	DataDir string
}

// CacheConfig selects the response cache backend. When RedisAddr is empty
// the SQLite backend is used.
type CacheConfig struct {
	RedisAddr string
	TTL       time.Duration
}

type WebhookConfig struct {
	Secret string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4",
			EmbedModel: "text-embedding-ada-002",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home + "/.local/share"
		} else {
			return "shopassist-data"
		}
	}
	return dir + "/shopassist"
}

// Load reads configuration from defaults overridden by SHOPASSIST_*
// environment variables. A missing provider API key is a configuration
// error: the server cannot answer a single question without it.
func Load() (Config, error) {
	return loadWith(os.Getenv)
}

func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("SHOPASSIST_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHOPASSIST_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	setString(&cfg.Provider.BaseURL, getenv("SHOPASSIST_OPENAI_BASE_URL"))
	setString(&cfg.Provider.APIKey, getenv("SHOPASSIST_OPENAI_API_KEY"))
	setString(&cfg.Provider.ChatModel, getenv("SHOPASSIST_CHAT_MODEL"))
	setString(&cfg.Provider.EmbedModel, getenv("SHOPASSIST_EMBED_MODEL"))
	setString(&cfg.Catalog.BaseURL, getenv("SHOPASSIST_CATALOG_BASE_URL"))
	setString(&cfg.Catalog.AccessToken, getenv("SHOPASSIST_CATALOG_TOKEN"))
	setString(&cfg.Storage.DataDir, getenv("SHOPASSIST_DATA_DIR"))
	setString(&cfg.Cache.RedisAddr, getenv("SHOPASSIST_REDIS_ADDR"))
	setString(&cfg.Webhook.Secret, getenv("SHOPASSIST_WEBHOOK_SECRET"))
	setString(&cfg.Log.Level, getenv("SHOPASSIST_LOG_LEVEL"))

	if v := getenv("SHOPASSIST_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHOPASSIST_CACHE_TTL %q: %w", v, err)
		}
		cfg.Cache.TTL = d
	}

	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return Config{}, fmt.Errorf("missing required config: provider API key. " +
			"Set it via environment variable SHOPASSIST_OPENAI_API_KEY")
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
