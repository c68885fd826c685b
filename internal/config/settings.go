package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/howard-nolan/llmrouter/internal/core/template"
)

const (
	chatConfigPrefix      = "chat_config_"
	embeddingConfigPrefix = "embedding_config_"

	minHTTPTimeoutSeconds = 5
	maxHTTPTimeoutSeconds = 3600
	defaultHTTPTimeout    = 30
	defaultCacheTTL       = 300
)

// Settings adapts *Config into the two ports the core depends on:
// gateway.SettingsProvider on the read side and template.SettingsSink on
// the write side. Every accessor holds the read lock while reading cfg;
// nothing in this type writes cfg, and PersistUserConfig writes only the
// user-config file on disk.
type Settings struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSettings wraps cfg. cfg is read live on every call, so updating the
// fields behind a held Config pointer (e.g. after a hot-reload) is visible
// immediately.
func NewSettings(cfg *Config) *Settings {
	return &Settings{cfg: cfg}
}

// GetActiveChatProviderId implements gateway.SettingsProvider.
func (s *Settings) GetActiveChatProviderId() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.cfg.Gateway.ActiveChatProvider
	return id, id != ""
}

// GetActiveEmbeddingProviderId implements gateway.SettingsProvider.
func (s *Settings) GetActiveEmbeddingProviderId() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.cfg.Gateway.ActiveEmbeddingProvider
	return id, id != ""
}

// IsEmbeddingConfigEnabled implements gateway.SettingsProvider.
func (s *Settings) IsEmbeddingConfigEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Gateway.EmbeddingEnabled
}

// GetHttpTimeoutSeconds returns the configured HTTP executor timeout,
// clamped to [5, 3600], defaulting to 30 when unset.
func (s *Settings) GetHttpTimeoutSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secs := s.cfg.Gateway.HttpTimeoutSeconds
	if secs == 0 {
		secs = defaultHTTPTimeout
	}
	if secs < minHTTPTimeoutSeconds {
		secs = minHTTPTimeoutSeconds
	}
	if secs > maxHTTPTimeoutSeconds {
		secs = maxHTTPTimeoutSeconds
	}
	return secs
}

// IsCacheEnabled reports whether the host should wire the response cache in
// at all.
func (s *Settings) IsCacheEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Gateway.CacheEnabled
}

// GetCacheTtlSeconds returns the configured cache TTL, defaulting to 300.
func (s *Settings) GetCacheTtlSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ttl := s.cfg.Gateway.CacheTtlSeconds
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return ttl
}

// GetCacheRedisAddr returns the optional Redis tier address; empty means
// in-memory-only caching.
func (s *Settings) GetCacheRedisAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Gateway.CacheRedisAddr
}

// HTTPTimeout is a time.Duration convenience wrapper over
// GetHttpTimeoutSeconds, for callers wiring httpexec.Executor directly.
func (s *Settings) HTTPTimeout() time.Duration {
	return time.Duration(s.GetHttpTimeoutSeconds()) * time.Second
}

// CacheTTL is a time.Duration convenience wrapper over GetCacheTtlSeconds.
func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.GetCacheTtlSeconds()) * time.Second
}

// PersistUserConfig implements template.SettingsSink: it writes cfg to
// <template_root>/<kind>_config_<providerId>.json, the on-disk layout the
// template store reads back on Reload.
func (s *Settings) PersistUserConfig(kind string, providerID string, cfg template.UserConfig) error {
	s.mu.RLock()
	root := s.cfg.Gateway.TemplateRoot
	s.mu.RUnlock()

	prefix := chatConfigPrefix
	if kind == string(template.KindEmbedding) {
		prefix = embeddingConfigPrefix
	}

	data, err := template.MarshalUserConfig(cfg)
	if err != nil {
		return fmt.Errorf("marshaling %s user config for %q: %w", kind, providerID, err)
	}

	path := filepath.Join(root, prefix+providerID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
