package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/types"
)

func TestNewAdapter_AllProviders(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		cfg        ProviderConfig
		wantName   string
		wantNative bool
	}{
		{"openai", "openai", ProviderConfig{APIKey: "sk-test", Model: "gpt-4o"}, "openai", true},
		{"claude", "claude", ProviderConfig{APIKey: "sk-test"}, "claude", true},
		{"anthropic alias", "Anthropic", ProviderConfig{APIKey: "sk-test"}, "claude", true},
		{"gemini", "gemini", ProviderConfig{APIKey: "g-test"}, "gemini", true},
		{"local", "local", ProviderConfig{Model: "llama3"}, "local", false},
		{"ollama alias", "ollama", ProviderConfig{}, "local", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(tt.provider, tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, a.Name())
			assert.Equal(t, tt.wantNative, a.SupportsNativeTools())
		})
	}
}

func TestNewAdapter_UnknownProvider(t *testing.T) {
	_, err := NewAdapter("cohere", ProviderConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "claude, gemini, local, openai")
}

func TestNewAdapter_MissingKeyFailsAtConstruction(t *testing.T) {
	for _, name := range []string{"openai", "claude", "gemini"} {
		_, err := NewAdapter(name, ProviderConfig{}, nil)
		assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err), name)
	}
}

func TestNewAdapter_WrongModelFamily(t *testing.T) {
	_, err := NewAdapter("claude", ProviderConfig{APIKey: "k", Model: "gpt-4o"}, nil)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}
