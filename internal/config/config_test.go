package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The watch settings file lives in the same directory as config.yaml and
// must not shadow it.
func TestLoadConfigFindsYAMLNextToSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	dir := filepath.Join(home, ".config", "autosave")

	settings := DefaultSettingsPath()
	assert.Equal(t, filepath.Join(dir, "settings.json"), settings)
	require.NoError(t, NewStore(settings, nil).Save(DefaultWatchConfig()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("poll_interval_ms: 5000\nprovider: none\n"), 0o644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.PollIntervalMs)
	assert.Equal(t, "none", cfg.Provider)
	assert.Equal(t, settings, cfg.SettingsPath)
}

func TestLoadConfigClampsValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "daemon.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("poll_interval_ms: 5\ndebounce_ms: -1\nprovider: wayland\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.PollIntervalMs)
	assert.Equal(t, 0, cfg.DebounceMs)
	assert.Equal(t, "auto", cfg.Provider)
}
