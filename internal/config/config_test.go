package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "GEMINI_API_KEY", "LLM_PROVIDER", "OPENAI_API_KEY",
		"OPENAI_BASE_URL", "OPENAI_MODEL", "__app_id", "__initial_auth_token",
		"__firebase_config", "STORE_DRIVER", "REDIS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Prompt.HistoryWindow)
	assert.Equal(t, "stockbot_session", cfg.Session.CookieName)
}

func TestLoadFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: Redis
  redis:
    addr: redis:6379
llm:
  provider: openai
  grounding: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.False(t, cfg.LLM.Grounding)
	// untouched sections keep their defaults
	assert.Equal(t, "data/stockbot.db", cfg.Store.Sqlite.Path)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("__app_id", "my-app")
	t.Setenv("__initial_auth_token", "token-abcdefghijklmnop")
	t.Setenv("__firebase_config", `{"project_id":"demo"}`)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "g-key", cfg.LLM.Gemini.APIKey)
	assert.Equal(t, "my-app", cfg.App.ID)
	assert.Equal(t, "token-abcdefghijklmnop", cfg.App.AuthToken)
	assert.Equal(t, "firestore", cfg.Store.Driver)
	assert.JSONEq(t, `{"project_id":"demo"}`, cfg.Store.Firestore.CredentialsJSON)
}

func TestStoreDriverEnvWinsOverFirebase(t *testing.T) {
	clearEnv(t)
	t.Setenv("__firebase_config", `{}`)
	t.Setenv("STORE_DRIVER", "bolt")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
	}{
		"bad yaml":     {file: "server: [\n"},
		"bad driver":   {file: "store:\n  driver: mongo\n"},
		"bad provider": {file: "llm:\n  provider: claude\n"},
		"bad window":   {file: "prompt:\n  history_window: -1\n"},
		"bad port":     {env: map[string]string{"PORT": "http"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.file))
			assert.Error(t, err)
		})
	}
}
