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
	"gopkg.in/yaml.v3"
)

func writeYAML(t *testing.T, path string, v any) {
	t.Helper()
	data, err := yaml.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)

	want := DefaultConfig()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Scan, cfg.Scan)
	assert.Equal(t, want.Camera, cfg.Camera)
	assert.Equal(t, want.Barcode, cfg.Barcode)
	assert.Equal(t, want.Host, cfg.Host)
}

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativescan.yaml")
	writeYAML(t, path, map[string]any{
		"log_level": "debug",
		"server":    map[string]any{"port": 9090},
		"camera": map[string]any{
			"source":   "replay",
			"back_dir": "/frames/back",
			"fps":      5,
		},
		"scan": map[string]any{
			"qr_min_elapsed": "2s",
			"confirm_delay":  "250ms",
			"stable_frames":  3,
		},
		"barcode": map[string]any{"formats": []string{"qr", "datamatrix"}},
		"host":    map[string]any{"camera_granted": false},
	})

	loader := NewLoaderWith(viper.New())
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, loader.GetConfigFileUsed())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, SourceReplay, cfg.Camera.Source)
	assert.Equal(t, "/frames/back", cfg.Camera.BackDir)
	assert.InDelta(t, 5, cfg.Camera.FPS, 0)
	assert.Equal(t, 2*time.Second, cfg.Scan.QRMinElapsed)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.ConfirmDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.FaceMinElapsed)
	assert.Equal(t, 3, cfg.Scan.StableFrames)
	assert.Equal(t, []string{"qr", "datamatrix"}, cfg.Barcode.Formats)
	assert.False(t, cfg.Host.CameraGranted)
	assert.True(t, cfg.Host.Active)
}

func TestLoadWithFile_Errors(t *testing.T) {
	_, err := NewLoaderWith(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeYAML(t, path, map[string]any{"camera": map[string]any{"source": "usb"}})
	_, err = NewLoaderWith(viper.New()).LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFileWithoutValidation(path)
	require.NoError(t, err)
	assert.Equal(t, "usb", cfg.Camera.Source)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NATIVESCAN_SERVER_PORT", "7070")
	t.Setenv("NATIVESCAN_CAMERA_SOURCE", "replay")
	t.Setenv("NATIVESCAN_SCAN_CONFIRM_DELAY", "1s")
	t.Setenv("NATIVESCAN_HOST_ACTIVE", "false")

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, SourceReplay, cfg.Camera.Source)
	assert.Equal(t, time.Second, cfg.Scan.ConfirmDelay)
	assert.False(t, cfg.Host.Active)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nativescan.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	for _, section := range []string{"server", "camera", "scan", "barcode", "face", "gpu", "host"} {
		assert.Contains(t, raw, section)
	}
	scanSection, ok := raw["scan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.2s", scanSection["qr_min_elapsed"])

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scan, cfg.Scan)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, "/xdg/nativescan")
	assert.Equal(t, "/etc/nativescan", paths[len(paths)-1])
}

func TestPrintConfigInfo(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	loader := NewLoaderWith(viper.New())
	_, err := loader.Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	loader.PrintConfigInfo(&buf)
	assert.Contains(t, buf.String(), "Configuration file used: (none")
	assert.Contains(t, buf.String(), "Environment prefix: NATIVESCAN_")

	path := filepath.Join(t.TempDir(), "nativescan.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))
	_, err = loader.LoadWithFile(path)
	require.NoError(t, err)

	buf.Reset()
	loader.PrintConfigInfo(&buf)
	assert.Contains(t, buf.String(), "Configuration file used: "+path)
}
