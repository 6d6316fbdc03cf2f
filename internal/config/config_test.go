package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8787
	cfg.Webhook.Secret = "shared-secret"
	cfg.Admin.APIKey = "admin-key"
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.False(t, cfg.OpenAI.Enabled)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, 2.0, cfg.OpenAI.RequestsPerSecond)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convosync.toml")
	content := `
[server]
port = 9999
environment = "production"

[webhook]
secret = "file-secret"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Webhook.Secret)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convosync.toml")
	require.NoError(t, os.WriteFile(path, []byte("[webhook]\nsecret = \"file-secret\"\n"), 0644))

	t.Setenv("CONVOSYNC_WEBHOOK_SECRET", "env-secret")
	t.Setenv("CONVOSYNC_SERVER_PORT", "1234")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Webhook.Secret, "environment overrides the file")
	assert.Equal(t, 1234, cfg.Server.Port)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convosync.toml")

	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8787, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Webhook.Secret)

	assert.Error(t, InitConfig(path), "refuses to overwrite an existing file")
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("webhook secret required", func(t *testing.T) {
		cfg := validConfig()
		cfg.Webhook.Secret = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("admin key required", func(t *testing.T) {
		cfg := validConfig()
		cfg.Admin.APIKey = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("port range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 70000
		assert.Error(t, Validate(cfg))
	})

	t.Run("openai key required only when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.OpenAI.Enabled = true
		assert.Error(t, Validate(cfg))

		cfg.OpenAI.APIKey = "sk-test"
		assert.NoError(t, Validate(cfg))
	})
}
