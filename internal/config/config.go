// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the llmrouter gateway. Per-LLM-provider
// credentials and wire-format knowledge don't live here: that's what the template
// store's on-disk provider_template_*/​*_config_*.json documents are for.
// This struct only carries the demo host's own server settings plus the Gateway
// settings-provider fields the core reads through internal/config/settings.go.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Gateway GatewayConfig `koanf:"gateway"`
}

// GatewayConfig holds the settings the core gateway facade and its
// supporting components (template store, cache) read through the Settings
// adapter (settings.go).
type GatewayConfig struct {
	TemplateRoot            string `koanf:"template_root"`
	ActiveChatProvider      string `koanf:"active_chat_provider"`
	ActiveEmbeddingProvider string `koanf:"active_embedding_provider"`
	EmbeddingEnabled        bool   `koanf:"embedding_enabled"`
	HttpTimeoutSeconds      int    `koanf:"http_timeout_seconds"`
	CacheEnabled            bool   `koanf:"cache_enabled"`
	CacheTtlSeconds         int    `koanf:"cache_ttl_seconds"`
	CacheMaxEntries         int    `koanf:"cache_max_entries"`
	CacheRedisAddr          string `koanf:"cache_redis_addr"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LLMROUTER_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   LLMROUTER_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
