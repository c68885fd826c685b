package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmrouter/internal/core/template"
)

func TestSettingsHttpTimeoutClamping(t *testing.T) {
	cases := []struct {
		name string
		secs int
		want int
	}{
		{"zero defaults to 30", 0, 30},
		{"below minimum clamps to 5", 1, 5},
		{"above maximum clamps to 3600", 999999, 3600},
		{"in range passes through", 45, 45},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := NewSettings(&Config{Gateway: GatewayConfig{HttpTimeoutSeconds: c.secs}})
			assert.Equal(t, c.want, s.GetHttpTimeoutSeconds())
		})
	}
}

func TestSettingsActiveProviderResolution(t *testing.T) {
	s := NewSettings(&Config{Gateway: GatewayConfig{ActiveChatProvider: "acme"}})
	id, ok := s.GetActiveChatProviderId()
	assert.True(t, ok)
	assert.Equal(t, "acme", id)

	_, ok = s.GetActiveEmbeddingProviderId()
	assert.False(t, ok, "no embedding provider configured")
}

func TestPersistUserConfigRoundTripsThroughTemplateStore(t *testing.T) {
	dir := t.TempDir()
	s := NewSettings(&Config{Gateway: GatewayConfig{TemplateRoot: dir}})

	tmpl := `{
	  "provider_name": "acme",
	  "auth_header": "Authorization",
	  "auth_scheme": "Bearer",
	  "chat_api": {
	    "endpoint": "https://api.acme.test/v1/chat?key={apiKey}",
	    "default_model": "acme-small",
	    "request_paths": {"model": "model", "messages": "messages"},
	    "response_paths": {"choices": "choices", "content": "choices[0].message.content"}
	  }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provider_template_chat_acme.json"), []byte(tmpl), 0644))

	store, err := template.New(dir, s, nil)
	require.NoError(t, err)

	err = store.PutChatUserConfig("acme", template.UserConfig{ApiKey: "sk-persisted", ConcurrencyLimit: intPtr(7)})
	require.NoError(t, err)

	reloaded, err := template.New(dir, s, nil)
	require.NoError(t, err)
	merged := reloaded.GetMergedChat("acme", "")
	require.True(t, merged.IsOk())
	assert.Equal(t, "sk-persisted", merged.Value().ApiKey)
	assert.Equal(t, 7, merged.Value().ConcurrencyLimit)
}

func intPtr(n int) *int { return &n }
