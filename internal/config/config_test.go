package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Nelson", cfg.Bootstrap.Username)
	assert.Equal(t, "troubleshooting.db", cfg.Database.Path)
	assert.Empty(t, cfg.Database.SharePath)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "sopdesk.yaml")
	content := `
listen: ":9100"
log_level: debug
database:
  path: /var/lib/sopdesk/work.db
  share_path: /mnt/share/troubleshooting.db
attachments:
  dip_sop: /mnt/share/DIP
search:
  case_sensitive: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/mnt/share/troubleshooting.db", cfg.Database.SharePath)
	assert.Equal(t, "/mnt/share/DIP", cfg.Attachments.DipSOP)
	assert.Equal(t, "documents/test_sop", cfg.Attachments.TestSOP, "unset keys keep defaults")
	assert.True(t, cfg.Search.CaseSensitive)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SOPDESK_LISTEN":                "127.0.0.1:7000",
		"SOPDESK_DB_SHARE_PATH":         "/share/db.sqlite",
		"SOPDESK_BOOTSTRAP_USERNAME":    "qa-admin",
		"SOPDESK_SEARCH_CASE_SENSITIVE": "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "/share/db.sqlite", cfg.Database.SharePath)
	assert.Equal(t, "qa-admin", cfg.Bootstrap.Username)
	assert.True(t, cfg.Search.CaseSensitive)

	env["SOPDESK_SEARCH_CASE_SENSITIVE"] = "maybe"
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"share equals local", func(c *Config) { c.Database.SharePath = c.Database.Path }},
		{"missing category dir", func(c *Config) { c.Attachments.OQCChecklist = "" }},
		{"blank bootstrap user", func(c *Config) { c.Bootstrap.Username = "  " }},
		{"empty bootstrap password", func(c *Config) { c.Bootstrap.Password = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
