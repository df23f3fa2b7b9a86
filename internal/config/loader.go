package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "nativescan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "NATIVESCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader backed by v.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and sets defaults.
// It returns the loaded configuration and any error encountered.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation loads configuration like Load but skips validation.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.LoadWithFileWithoutValidation("")
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	config, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we'll use defaults and env vars
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// Replace dots and dashes with underscores in env var names
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	// Server defaults
	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.upload_rps", defaults.Server.UploadRPS)
	l.v.SetDefault("server.upload_burst", defaults.Server.UploadBurst)
	l.v.SetDefault("server.history_size", defaults.Server.HistorySize)

	// Camera defaults
	l.v.SetDefault("camera.source", defaults.Camera.Source)
	l.v.SetDefault("camera.back_dir", defaults.Camera.BackDir)
	l.v.SetDefault("camera.front_dir", defaults.Camera.FrontDir)
	l.v.SetDefault("camera.fps", defaults.Camera.FPS)
	l.v.SetDefault("camera.loop", defaults.Camera.Loop)
	l.v.SetDefault("camera.width", defaults.Camera.Width)
	l.v.SetDefault("camera.height", defaults.Camera.Height)

	// Scan defaults, written as duration strings so generated files stay readable
	l.v.SetDefault("scan.qr_min_elapsed", defaults.Scan.QRMinElapsed.String())
	l.v.SetDefault("scan.face_min_elapsed", defaults.Scan.FaceMinElapsed.String())
	l.v.SetDefault("scan.stable_frames", defaults.Scan.StableFrames)
	l.v.SetDefault("scan.confirm_delay", defaults.Scan.ConfirmDelay.String())
	l.v.SetDefault("scan.qr_progress_rate", defaults.Scan.QRProgressRate.String())
	l.v.SetDefault("scan.face_progress_rate", defaults.Scan.FaceProgressRate.String())

	// Detector defaults
	l.v.SetDefault("barcode.formats", defaults.Barcode.Formats)
	l.v.SetDefault("barcode.try_harder", defaults.Barcode.TryHarder)
	l.v.SetDefault("barcode.max_dimension", defaults.Barcode.MaxDimension)

	l.v.SetDefault("face.model_path", defaults.Face.ModelPath)
	l.v.SetDefault("face.library_path", defaults.Face.LibraryPath)
	l.v.SetDefault("face.score_threshold", defaults.Face.ScoreThreshold)
	l.v.SetDefault("face.iou_threshold", defaults.Face.IoUThreshold)
	l.v.SetDefault("face.top_k", defaults.Face.TopK)
	l.v.SetDefault("face.min_face_size", defaults.Face.MinFaceSize)
	l.v.SetDefault("face.num_threads", defaults.Face.NumThreads)

	// GPU defaults
	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)

	// Host defaults
	l.v.SetDefault("host.active", defaults.Host.Active)
	l.v.SetDefault("host.camera_granted", defaults.Host.CameraGranted)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	return paths
}

// PrintConfigInfo writes information about configuration loading to w.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	file := l.GetConfigFileUsed()
	if file == "" {
		file = "(none, defaults and environment only)"
	}
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", file)
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s_\n", EnvPrefix)
}
