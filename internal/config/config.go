//nolint:lll
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/nativescan/internal/barcode"
	"github.com/MeKo-Tech/nativescan/internal/camera"
	"github.com/MeKo-Tech/nativescan/internal/face"
	"github.com/MeKo-Tech/nativescan/internal/models"
	"github.com/MeKo-Tech/nativescan/internal/onnx"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// Camera sources.
const (
	SourceReplay = "replay"
	SourceFeed   = "feed"
)

// Config represents the complete configuration for the nativescan host.
// It supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Frame source
	Camera CameraConfig `mapstructure:"camera" yaml:"camera" json:"camera"`

	// Session debounce and progress pacing
	Scan ScanConfig `mapstructure:"scan" yaml:"scan" json:"scan"`

	// Detectors
	Barcode BarcodeConfig `mapstructure:"barcode" yaml:"barcode" json:"barcode"`
	Face    FaceConfig    `mapstructure:"face" yaml:"face" json:"face"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// Initial host state
	Host HostConfig `mapstructure:"host" yaml:"host" json:"host"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string  `mapstructure:"host" yaml:"host" json:"host"`
	Port            int     `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string  `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int     `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	UploadRPS       float64 `mapstructure:"upload_rps" yaml:"upload_rps" json:"upload_rps"`
	UploadBurst     int     `mapstructure:"upload_burst" yaml:"upload_burst" json:"upload_burst"`
	HistorySize     int     `mapstructure:"history_size" yaml:"history_size" json:"history_size"`
}

// CameraConfig selects and tunes the frame source.
type CameraConfig struct {
	Source   string  `mapstructure:"source" yaml:"source" json:"source"`
	BackDir  string  `mapstructure:"back_dir" yaml:"back_dir" json:"back_dir"`
	FrontDir string  `mapstructure:"front_dir" yaml:"front_dir" json:"front_dir"`
	FPS      float64 `mapstructure:"fps" yaml:"fps" json:"fps"`
	Loop     bool    `mapstructure:"loop" yaml:"loop" json:"loop"`
	Width    int     `mapstructure:"width" yaml:"width" json:"width"`
	Height   int     `mapstructure:"height" yaml:"height" json:"height"`
}

// ScanConfig mirrors scan.Policy.
type ScanConfig struct {
	QRMinElapsed     time.Duration `mapstructure:"qr_min_elapsed" yaml:"qr_min_elapsed" json:"qr_min_elapsed"`
	FaceMinElapsed   time.Duration `mapstructure:"face_min_elapsed" yaml:"face_min_elapsed" json:"face_min_elapsed"`
	StableFrames     int           `mapstructure:"stable_frames" yaml:"stable_frames" json:"stable_frames"`
	ConfirmDelay     time.Duration `mapstructure:"confirm_delay" yaml:"confirm_delay" json:"confirm_delay"`
	QRProgressRate   time.Duration `mapstructure:"qr_progress_rate" yaml:"qr_progress_rate" json:"qr_progress_rate"`
	FaceProgressRate time.Duration `mapstructure:"face_progress_rate" yaml:"face_progress_rate" json:"face_progress_rate"`
}

// BarcodeConfig contains barcode decoding settings.
type BarcodeConfig struct {
	Formats      []string `mapstructure:"formats" yaml:"formats" json:"formats"`
	TryHarder    bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	MaxDimension int      `mapstructure:"max_dimension" yaml:"max_dimension" json:"max_dimension"`
}

// FaceConfig contains face detection settings.
type FaceConfig struct {
	ModelPath      string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath    string  `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	IoUThreshold   float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	TopK           int     `mapstructure:"top_k" yaml:"top_k" json:"top_k"`
	MinFaceSize    float64 `mapstructure:"min_face_size" yaml:"min_face_size" json:"min_face_size"`
	NumThreads     int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// HostConfig seeds the host surface and permission state.
type HostConfig struct {
	Active        bool `mapstructure:"active" yaml:"active" json:"active"`
	CameraGranted bool `mapstructure:"camera_granted" yaml:"camera_granted" json:"camera_granted"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	policy := scan.DefaultPolicy()
	fc := face.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     10,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			UploadRPS:       30,
			UploadBurst:     10,
			HistorySize:     256,
		},
		Camera: CameraConfig{
			Source:   SourceFeed,
			BackDir:  "testdata/frames/back",
			FrontDir: "testdata/frames/front",
			FPS:      camera.DefaultFPS,
			Loop:     true,
			Width:    1280,
			Height:   720,
		},
		Scan: ScanConfig{
			QRMinElapsed:     policy.QRMinElapsed,
			FaceMinElapsed:   policy.FaceMinElapsed,
			StableFrames:     policy.StableFrames,
			ConfirmDelay:     policy.ConfirmDelay,
			QRProgressRate:   policy.QRProgressRate,
			FaceProgressRate: policy.FaceProgressRate,
		},
		Barcode: BarcodeConfig{
			Formats:      []string{"qr"},
			TryHarder:    true,
			MaxDimension: 1280,
		},
		Face: FaceConfig{
			ScoreThreshold: float64(fc.ScoreThreshold),
			IoUThreshold:   fc.IoUThreshold,
			TopK:           fc.TopK,
			MinFaceSize:    fc.MinFaceSize,
			NumThreads:     fc.NumThreads,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
		Host: HostConfig{
			Active:        true,
			CameraGranted: true,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.UploadRPS < 0 || c.Server.UploadBurst < 0 {
		return fmt.Errorf("invalid upload rate limit: %.1f/s burst %d", c.Server.UploadRPS, c.Server.UploadBurst)
	}

	validSources := []string{SourceReplay, SourceFeed}
	if !contains(validSources, c.Camera.Source) {
		return fmt.Errorf("invalid camera source: %s (must be one of: %s)", c.Camera.Source, strings.Join(validSources, ", "))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS < 0 {
		return fmt.Errorf("invalid camera fps: %.1f (must not be negative)", c.Camera.FPS)
	}

	if err := c.ToPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid scan settings: %w", err)
	}

	if _, err := barcode.ParseFormats(c.Barcode.Formats); err != nil {
		return fmt.Errorf("invalid barcode formats: %w", err)
	}

	if err := validateThreshold(c.Face.ScoreThreshold, "face.score_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Face.IoUThreshold, "face.iou_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Face.MinFaceSize, "face.min_face_size"); err != nil {
		return err
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if err := validateMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

// ToPolicy converts the scan section into a session policy.
func (c *Config) ToPolicy() scan.Policy {
	p := scan.DefaultPolicy()
	p.QRMinElapsed = c.Scan.QRMinElapsed
	p.FaceMinElapsed = c.Scan.FaceMinElapsed
	p.StableFrames = c.Scan.StableFrames
	p.ConfirmDelay = c.Scan.ConfirmDelay
	p.QRProgressRate = c.Scan.QRProgressRate
	p.FaceProgressRate = c.Scan.FaceProgressRate
	return p
}

// ToStreams returns the per-mode stream configs at the configured resolution.
func (c *Config) ToStreams() map[scan.Mode]scan.StreamConfig {
	streams := scan.DefaultStreams()
	for mode, sc := range streams {
		sc.Width = c.Camera.Width
		sc.Height = c.Camera.Height
		streams[mode] = sc
	}
	return streams
}

// ToReplayConfig converts the camera section for the replay source.
func (c *Config) ToReplayConfig() camera.ReplayConfig {
	return camera.ReplayConfig{
		BackDir:  c.Camera.BackDir,
		FrontDir: c.Camera.FrontDir,
		FPS:      c.Camera.FPS,
		Loop:     c.Camera.Loop,
	}
}

// ToBarcodeConfig converts the barcode section.
func (c *Config) ToBarcodeConfig() (barcode.Config, error) {
	formats, err := barcode.ParseFormats(c.Barcode.Formats)
	if err != nil {
		return barcode.Config{}, err
	}
	return barcode.Config{
		Formats:      formats,
		TryHarder:    c.Barcode.TryHarder,
		MaxDimension: c.Barcode.MaxDimension,
	}, nil
}

// ToFaceConfig converts the face and gpu sections.
func (c *Config) ToFaceConfig() face.Config {
	cfg := face.DefaultConfig()
	cfg.ModelPath = c.Face.ModelPath
	if cfg.ModelPath == "" {
		cfg.ModelPath = models.GetFaceModelPath(c.ModelsDir, "")
	}
	cfg.LibraryPath = c.Face.LibraryPath
	cfg.ScoreThreshold = float32(c.Face.ScoreThreshold)
	cfg.IoUThreshold = c.Face.IoUThreshold
	cfg.TopK = c.Face.TopK
	cfg.MinFaceSize = c.Face.MinFaceSize
	cfg.NumThreads = c.Face.NumThreads
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// toGPUConfig converts to onnx.GPUConfig.
func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

var memoryUnits = []struct {
	suffix string
	scale  float64
}{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"B", 1},
}

// parseMemoryLimit converts "512MB" style limits to bytes. "auto" and the
// empty string mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	upper := strings.ToUpper(limit)
	for _, unit := range memoryUnits {
		if !strings.HasSuffix(upper, unit.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, unit.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * unit.scale), nil
	}

	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
