package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/types"
)

func TestResolveAuth_StaticKey(t *testing.T) {
	mappings := config.KeyMappings{
		PerProvider: map[string]map[string]string{
			"glm": {"key1": "sk-glm-1"},
		},
	}
	cred, err := ResolveAuth("glm", "key1", mappings, nil)
	require.NoError(t, err)
	assert.Equal(t, "apikey", cred.Type)
	assert.Equal(t, "sk-glm-1", cred.APIKey)
}

func TestResolveAuth_OAuthAlias(t *testing.T) {
	mappings := config.KeyMappings{
		OAuth: map[string]map[string]config.NormalizedOAuth{
			"qwen": {"default": {TokenFile: "/tmp/qwen.json", Family: "qwen"}},
		},
	}
	cred, err := ResolveAuth("qwen", "default", mappings, nil)
	require.NoError(t, err)
	assert.Equal(t, "oauth", cred.Type)
	require.NotNil(t, cred.OAuth)
	assert.Equal(t, "qwen", cred.OAuth.Family)
}

func TestResolveAuth_HostMatchFallback(t *testing.T) {
	mappings := config.KeyMappings{
		PerProvider: map[string]map[string]string{
			"glm-primary": {"key1": "sk-shared"},
		},
	}
	norm := &config.Normalized{
		Providers: map[string]config.NormalizedProvider{
			"glm-primary": {BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
			"glm-mirror":  {BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
		},
	}
	cred, err := ResolveAuth("glm-mirror", "key1", mappings, norm)
	require.NoError(t, err)
	assert.Equal(t, "apikey", cred.Type)
	assert.Equal(t, "sk-shared", cred.APIKey)
}

func TestResolveAuth_Unresolved(t *testing.T) {
	mappings := config.KeyMappings{}
	_, err := ResolveAuth("unknown", "key1", mappings, nil)
	require.Error(t, err)
	rerr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrAuthUnresolved, rerr.Code)
}
