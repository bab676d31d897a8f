package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")
		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}

		key, err := GetAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env-key", key)
		assert.Equal(t, KeySourceEnv, GetAPIKeySource(cfg))
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}

		key, err := GetAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-config-key", key)
		assert.Equal(t, KeySourceConfig, GetAPIKeySource(cfg))
	})

	t.Run("unexpanded reference", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${FORGE_UNSET_KEY_VAR}"}}

		_, err := GetAPIKey(cfg)
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, err := GetAPIKey(nil)
		assert.ErrorIs(t, err, ErrNoAPIKey)
		assert.Equal(t, KeySourceNone, GetAPIKeySource(&Config{}))
	})
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "sk-ant-...wxyz", MaskAPIKey("sk-ant-REDACTED"))
	assert.Equal(t, "(not set)", MaskAPIKey(""))
	assert.Equal(t, "***", MaskAPIKey("short"))
}
