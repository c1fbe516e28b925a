package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/siphon/internal/config"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	configDir := filepath.Join(dir, "siphon")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	path := filepath.Join(configDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "Phone/DCIM/Camera", cfg.Device.SourceDir)
	assert.Equal(t, []string{"gio", "copy"}, cfg.Transfer.Command)
	assert.Equal(t, "log", cfg.Ledger.Backend)
	assert.Equal(t, "path", cfg.Ledger.Identity)
	assert.Equal(t, filepath.Join(data, "siphon", "ledger.log"), cfg.Ledger.Path)
	assert.Equal(t, 5*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Watch.DisconnectInterval)
	assert.True(t, cfg.Filter.SkipHidden)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, `
[device]
name = "Galaxy"
id = "04e8:6860"
source_dir = "Internal storage/DCIM/Camera"
recursive = true

[transfer]
destination = "/srv/photos"
method = "fs"
timeout = "2m"
pace = "1s"
bwlimit = "20M"

[ledger]
path = "/var/lib/siphon/ledger.db"
backend = "sqlite"
identity = "content"

[watch]
poll_interval = "2s"
max_poll_interval = "30s"
disconnect_interval = "3s"

[filter]
include = ["*.jpg", "*.mp4"]
exclude = ["*"]
min_size = "1K"
`)

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Galaxy", cfg.Device.Name)
	assert.Equal(t, "04e8:6860", cfg.Device.ID)
	assert.True(t, cfg.Device.Recursive)
	assert.Equal(t, "fs", cfg.Transfer.Method)
	assert.Equal(t, 2*time.Minute, cfg.Transfer.Timeout)
	assert.Equal(t, time.Second, cfg.Transfer.Pace)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, 30*time.Second, cfg.Watch.MaxPollInterval)
	assert.Equal(t, []string{"*.jpg", "*.mp4"}, cfg.Filter.Include)

	bw, err := cfg.Transfer.BandwidthLimit()
	require.NoError(t, err)
	assert.Equal(t, int64(20<<20), bw)

	chain, err := cfg.Filter.Chain()
	require.NoError(t, err)
	assert.True(t, chain.Match("IMG_1.JPG", false, 4096))
	assert.False(t, chain.Match("notes.txt", false, 4096))
	assert.False(t, chain.Match("tiny.jpg", false, 10))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, `
[device]
name = "Galaxy"

[transfer]
destination = "/srv/photos"
`)
	t.Setenv("SIPHON_DEVICE_NAME", "Pixel")
	t.Setenv("SIPHON_TRANSFER_COMMAND", "gvfs-copy")
	t.Setenv("SIPHON_WATCH_POLL_INTERVAL", "750ms")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "Pixel", cfg.Device.Name)
	assert.Equal(t, []string{"gvfs-copy"}, cfg.Transfer.Command)
	assert.Equal(t, 750*time.Millisecond, cfg.Watch.PollInterval)
	assert.Equal(t, "/srv/photos", cfg.Transfer.Destination)
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	writeConfig(t, dir, "[device\nname = ")

	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoad_ExpandsHome(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SIPHON_TRANSFER_DESTINATION", "~/Pictures/Phone")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Pictures", "Phone"), cfg.Transfer.Destination)
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Device.Name = "Galaxy"
	cfg.Transfer.Destination = "/srv/photos"
	cfg.Ledger.Path = "/var/lib/siphon/ledger.log"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"id only", func(c *config.Config) { c.Device.Name = ""; c.Device.ID = "04E8:6860" }, ""},
		{"no device criterion", func(c *config.Config) { c.Device.Name = "" }, "device.name"},
		{"bad usb id", func(c *config.Config) { c.Device.ID = "samsung" }, "device.id: failed usbid"},
		{"no destination", func(c *config.Config) { c.Transfer.Destination = "" }, "transfer.destination"},
		{"bad method", func(c *config.Config) { c.Transfer.Method = "adb" }, "transfer.method"},
		{"command method needs command", func(c *config.Config) { c.Transfer.Command = nil }, "transfer.command"},
		{"fs method without command", func(c *config.Config) {
			c.Transfer.Method = "fs"
			c.Transfer.Command = nil
		}, ""},
		{"bad backend", func(c *config.Config) { c.Ledger.Backend = "json" }, "ledger.backend"},
		{"bad identity", func(c *config.Config) { c.Ledger.Identity = "hash" }, "ledger.identity"},
		{"poll too fast", func(c *config.Config) { c.Watch.PollInterval = time.Millisecond }, "watch.poll_interval"},
		{"max below poll", func(c *config.Config) { c.Watch.MaxPollInterval = time.Second }, "watch.max_poll_interval"},
		{"bad min size", func(c *config.Config) { c.Filter.MinSize = "lots" }, "filter.min_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFilterChain_LoadsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules")
	require.NoError(t, os.WriteFile(path, []byte("- *.dng\n"), 0o600))

	chain, err := config.FilterConfig{File: path, IgnoreCase: true}.Chain()
	require.NoError(t, err)
	assert.False(t, chain.Match("RAW_1.DNG", false, 1))
	assert.True(t, chain.Match("IMG_1.jpg", false, 1))

	_, err = config.FilterConfig{File: path + ".missing"}.Chain()
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := validConfig()
	cfg.Watch.PollInterval = 7 * time.Second

	require.NoError(t, config.Write(path, cfg))
	assert.Error(t, config.Write(path, cfg), "existing file is kept")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Galaxy", loaded.Device.Name)
	assert.Equal(t, 7*time.Second, loaded.Watch.PollInterval)
	assert.Equal(t, cfg.Transfer.Command, loaded.Transfer.Command)
}
