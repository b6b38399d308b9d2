package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.MaxSessions)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser.LabelVerifyWait)
	assert.Equal(t, 2, cfg.Heuristics.CategoryThreshold)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.False(t, cfg.History.Enabled)
	assert.NoError(t, cfg.Validate())
	assert.Error(t, cfg.ValidateServer(), "an empty token must not be accepted for serving")
}

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
server:
  port: 8080
  allowlist: ["Example.com", "www.news.example.org"]
browser:
  settle_wait: 250ms
heuristics:
  category_threshold: 3
logger:
  level: debug
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"example.com", "news.example.org"}, cfg.Server.Allowlist)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.SettleWait)
	assert.Equal(t, 3, cfg.Heuristics.CategoryThreshold)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"port", "server.port", 0, "server.port"},
		{"sessions", "server.max_sessions", 0, "server.max_sessions"},
		{"threshold", "heuristics.category_threshold", 0, "heuristics.category_threshold"},
		{"min checkboxes", "heuristics.min_preference_checkboxes", -1, "heuristics.min_preference_checkboxes"},
		{"navigation timeout", "browser.navigation_timeout", "0s", "browser.navigation_timeout"},
		{"log format", "logger.format", "xml", "logger.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			cfg, err := NewConfigFromViper(v)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvironmentBinding(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INTERNAL_TOKEN", "s3cret")
	t.Setenv("ALLOWLIST_DOMAINS", "mail.example.com, www.Shop.example.com")
	t.Setenv("UNSUB_LOGGER_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.Token)
	assert.Equal(t, []string{"mail.example.com", "shop.example.com"}, cfg.Server.Allowlist)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.NoError(t, cfg.ValidateServer())
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n  token: from-file\n"), 0600))
	t.Setenv("INTERNAL_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := NewDefaultConfig()
	cfg.Server.Token = "tok"
	cfg.Heuristics.FillerPhrase = "Too many emails"
	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.Server.Token)
	assert.Equal(t, "Too many emails", loaded.Heuristics.FillerPhrase)
	assert.Equal(t, cfg.Browser.NavigationTimeout, loaded.Browser.NavigationTimeout)
}

func TestRunnerConfigMapping(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Browser.SelectorWait = 7 * time.Second
	cfg.Heuristics.CategoryThreshold = 4

	rc := cfg.RunnerConfig()
	assert.Equal(t, 7*time.Second, rc.SelectorWait)
	assert.Equal(t, 4, rc.Policy.CategoryThreshold)
	assert.Equal(t, "No longer needed", rc.FillerPhrase)

	lc := cfg.LaunchConfig()
	assert.True(t, lc.Headless)
	assert.Equal(t, 1920, lc.WindowWidth)
}
