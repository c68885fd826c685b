package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/howard-nolan/llmrouter/internal/core/logging"
	"github.com/howard-nolan/llmrouter/internal/core/model"
)

const (
	chatTemplatePrefix      = "provider_template_chat_"
	embeddingTemplatePrefix = "provider_template_embedding_"
	chatConfigPrefix        = "chat_config_"
	embeddingConfigPrefix   = "embedding_config_"
)

// snapshot is the Store's entire state at one point in time. Readers take an
// atomic pointer to one of these and never observe a partially-updated
// store; Reload and PutXUserConfig build a new snapshot and swap the
// pointer, so reads are lock-free.
type snapshot struct {
	chatTemplates      map[string]*ChatTemplate
	embeddingTemplates map[string]*EmbeddingTemplate
	chatUsers          map[string]UserConfig
	embeddingUsers     map[string]UserConfig
}

func emptySnapshot() *snapshot {
	return &snapshot{
		chatTemplates:      map[string]*ChatTemplate{},
		embeddingTemplates: map[string]*EmbeddingTemplate{},
		chatUsers:          map[string]UserConfig{},
		embeddingUsers:     map[string]UserConfig{},
	}
}

// Store holds every loaded provider template and user config, reading a
// directory of per-provider JSON documents with schema validation and a
// write path for user configs.
type Store struct {
	configRoot string
	sink       SettingsSink
	logger     logging.Logger

	ptr atomic.Pointer[snapshot]

	// writeMu serializes PutXUserConfig calls; reads never take it.
	writeMu sync.Mutex
}

// New constructs a Store and performs an initial load. configRoot is the
// directory holding the provider_template_*/*_config_* files.
func New(configRoot string, sink SettingsSink, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	s := &Store{configRoot: configRoot, sink: sink, logger: logger}
	s.ptr.Store(emptySnapshot())
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload atomically re-reads every template and user-config file under
// configRoot and swaps in a new snapshot. A template that fails schema
// validation is skipped (logged at Error) rather than failing the whole
// reload; one misconfigured provider shouldn't take every other provider
// down.
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.configRoot)
	if err != nil {
		return fmt.Errorf("template store: reading %s: %w", s.configRoot, err)
	}

	next := emptySnapshot()

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(s.configRoot, name)

		switch {
		case strings.HasPrefix(name, chatTemplatePrefix) && strings.HasSuffix(name, ".json"):
			id := strings.TrimSuffix(strings.TrimPrefix(name, chatTemplatePrefix), ".json")
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Error("template store: reading %s: %v", path, err)
				continue
			}
			t, err := compileChatTemplate(data)
			if err != nil {
				s.logger.Error("template store: invalid chat template %q: %v", id, err)
				continue
			}
			next.chatTemplates[id] = t

		case strings.HasPrefix(name, embeddingTemplatePrefix) && strings.HasSuffix(name, ".json"):
			id := strings.TrimSuffix(strings.TrimPrefix(name, embeddingTemplatePrefix), ".json")
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Error("template store: reading %s: %v", path, err)
				continue
			}
			t, err := compileEmbeddingTemplate(data)
			if err != nil {
				s.logger.Error("template store: invalid embedding template %q: %v", id, err)
				continue
			}
			next.embeddingTemplates[id] = t

		case strings.HasPrefix(name, chatConfigPrefix) && strings.HasSuffix(name, ".json"):
			id := strings.TrimSuffix(strings.TrimPrefix(name, chatConfigPrefix), ".json")
			u, err := readUserConfig(path)
			if err != nil {
				s.logger.Error("template store: invalid chat user config %q: %v", id, err)
				continue
			}
			next.chatUsers[id] = u

		case strings.HasPrefix(name, embeddingConfigPrefix) && strings.HasSuffix(name, ".json"):
			id := strings.TrimSuffix(strings.TrimPrefix(name, embeddingConfigPrefix), ".json")
			u, err := readUserConfig(path)
			if err != nil {
				s.logger.Error("template store: invalid embedding user config %q: %v", id, err)
				continue
			}
			next.embeddingUsers[id] = u
		}
	}

	s.ptr.Store(next)
	return nil
}

func readUserConfig(path string) (UserConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UserConfig{}, err
	}
	var raw rawUserConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return UserConfig{}, err
	}
	return raw.toUserConfig(), nil
}

func (s *Store) snap() *snapshot { return s.ptr.Load() }

// ListChatProviderIds returns every chat provider with a loaded template.
func (s *Store) ListChatProviderIds() []string {
	return keysOf(s.snap().chatTemplates)
}

// ListEmbeddingProviderIds returns every embedding provider with a loaded
// template.
func (s *Store) ListEmbeddingProviderIds() []string {
	return keysOf(s.snap().embeddingTemplates)
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// GetMergedChat merges providerId's chat template and user config. stickyKey
// selects among a CredentialPool, if any; pass the call's ConversationId, or
// any stable stand-in when that's empty.
func (s *Store) GetMergedChat(providerID, stickyKey string) model.Result[*MergedChatConfig] {
	snap := s.snap()
	t, ok := snap.chatTemplates[providerID]
	if !ok {
		return model.Fail[*MergedChatConfig](model.NewError(model.ErrTemplateNotFound, "no chat template for provider %q", providerID))
	}
	u := snap.chatUsers[providerID] // zero value if absent: no ApiKey configured yet
	return model.Ok(mergeChat(providerID, t, u, stickyKey))
}

// GetMergedEmbedding is the embedding analogue of GetMergedChat.
func (s *Store) GetMergedEmbedding(providerID, stickyKey string) model.Result[*MergedEmbeddingConfig] {
	snap := s.snap()
	t, ok := snap.embeddingTemplates[providerID]
	if !ok {
		return model.Fail[*MergedEmbeddingConfig](model.NewError(model.ErrTemplateNotFound, "no embedding template for provider %q", providerID))
	}
	u := snap.embeddingUsers[providerID]
	return model.Ok(mergeEmbedding(providerID, t, u, stickyKey))
}

// GetChatUserConfig returns the raw user config for providerID (zero value,
// ok=false if none is stored).
func (s *Store) GetChatUserConfig(providerID string) (UserConfig, bool) {
	u, ok := s.snap().chatUsers[providerID]
	return u, ok
}

// GetEmbeddingUserConfig is the embedding analogue of GetChatUserConfig.
func (s *Store) GetEmbeddingUserConfig(providerID string) (UserConfig, bool) {
	u, ok := s.snap().embeddingUsers[providerID]
	return u, ok
}

// PutChatUserConfig writes u for providerID: persists through the injected
// SettingsSink, then updates the in-memory snapshot so subsequent reads see
// it without requiring a full Reload.
func (s *Store) PutChatUserConfig(providerID string, u UserConfig) error {
	return s.putUserConfig(KindChat, providerID, u)
}

// PutEmbeddingUserConfig is the embedding analogue of PutChatUserConfig.
func (s *Store) PutEmbeddingUserConfig(providerID string, u UserConfig) error {
	return s.putUserConfig(KindEmbedding, providerID, u)
}

func (s *Store) putUserConfig(kind Kind, providerID string, u UserConfig) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sink != nil {
		if err := s.sink.PersistUserConfig(string(kind), providerID, u); err != nil {
			return fmt.Errorf("template store: persisting %s user config for %q: %w", kind, providerID, err)
		}
	}

	old := s.snap()
	next := &snapshot{
		chatTemplates:      old.chatTemplates,
		embeddingTemplates: old.embeddingTemplates,
		chatUsers:          cloneUsers(old.chatUsers),
		embeddingUsers:     cloneUsers(old.embeddingUsers),
	}
	switch kind {
	case KindChat:
		next.chatUsers[providerID] = u
	case KindEmbedding:
		next.embeddingUsers[providerID] = u
	}
	s.ptr.Store(next)
	return nil
}

func cloneUsers(m map[string]UserConfig) map[string]UserConfig {
	out := make(map[string]UserConfig, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsChatActive reports whether at least one chat provider has a non-empty
// ApiKey configured.
func (s *Store) IsChatActive() bool {
	for _, u := range s.snap().chatUsers {
		if u.ApiKey != "" {
			return true
		}
	}
	return false
}

// IsEmbeddingActive is the embedding analogue of IsChatActive.
func (s *Store) IsEmbeddingActive() bool {
	for _, u := range s.snap().embeddingUsers {
		if u.ApiKey != "" {
			return true
		}
	}
	return false
}
