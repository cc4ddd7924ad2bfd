package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "memory", cfg.KV.Type)
	assert.Equal(t, 6379, cfg.KV.Port)
	assert.Equal(t, "env", cfg.Credentials.Type)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FORAGER_STORAGE_TYPE", "s3")
	t.Setenv("FORAGER_STORAGE_BUCKET", "acq-bundles")
	t.Setenv("FORAGER_KV_TYPE", "redis")
	t.Setenv("FORAGER_KV_PORT", "6380")
	t.Setenv("FORAGER_KV_TTL", "48h")
	t.Setenv("FORAGER_CONCURRENCY", "16")
	t.Setenv("FORAGER_STORAGE_UNZIP", "true")

	cfg := FromEnv()
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "acq-bundles", cfg.Storage.Bucket)
	assert.Equal(t, "redis", cfg.KV.Type)
	assert.Equal(t, 6380, cfg.KV.Port)
	assert.Equal(t, 48*time.Hour, cfg.KV.TTL)
	assert.Equal(t, 16, cfg.Concurrency)
	assert.True(t, cfg.Storage.Unzip)
}

func TestFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("FORAGER_CONCURRENCY", "lots")
	t.Setenv("FORAGER_KV_TTL", "soon")

	cfg := FromEnv()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, time.Duration(0), cfg.KV.TTL)
}

const sampleRecipes = `
recipes:
  sirene:
    loader:
      type: http
      capture_body: true
      rate_limit_rps: 0.5
      auth:
        type: oauth2
        config_name: sirene
        token_url: https://api.example.com/token
    locators:
      - type: paginated
        base_url: https://api.example.com/siren
        date_start: "2024-01-01"
        date_end: "2024-01-31"
        max_records_per_page: 1000
        cursor_field: curseurSuivant
        count_field: nombre
        total_field: total
        max_records: 20000
  drops:
    loader:
      type: sftp
      config_name: partner_sftp
      filename_pattern: "*.csv"
    locators:
      - type: directory
        host: files.partner.example
        remote_dir: /outgoing
        pattern: "*.csv"
`

func writeRecipes(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRecipes(t *testing.T) {
	rf, err := LoadRecipes(writeRecipes(t, sampleRecipes))
	require.NoError(t, err)
	require.Len(t, rf.Recipes, 2)

	sirene := rf.Recipes["sirene"]
	assert.Equal(t, "http", sirene.Loader.Type)
	assert.True(t, sirene.Loader.CaptureBody)
	assert.Equal(t, "oauth2", sirene.Loader.Auth.Type)
	require.Len(t, sirene.Locators, 1)
	assert.Equal(t, "paginated", sirene.Locators[0].Type)
	assert.Equal(t, "curseurSuivant", sirene.Locators[0].CursorField)
	assert.Equal(t, 20000, sirene.Locators[0].MaxRecords)

	drops := rf.Recipes["drops"]
	assert.Equal(t, "sftp", drops.Loader.Type)
	assert.Equal(t, "/outgoing", drops.Locators[0].RemoteDir)
}

func TestLoadRecipesValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", "recipes: {}"},
		{"missing loader type", `
recipes:
  bad:
    locators:
      - type: filelist
        scope: s
        urls: [http://x]
`},
		{"unknown locator", `
recipes:
  bad:
    loader: {type: http}
    locators:
      - type: crawler
`},
		{"paginated missing dates", `
recipes:
  bad:
    loader: {type: http}
    locators:
      - type: paginated
        base_url: http://x
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRecipes(writeRecipes(t, tt.content))
			assert.Error(t, err)
		})
	}
}
