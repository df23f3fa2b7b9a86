package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/nativescan/internal/config"
	"github.com/MeKo-Tech/nativescan/internal/models"
	"github.com/MeKo-Tech/nativescan/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nativescan",
	Short: "QR and face scan sessions for host applications",
	Long: `nativescan runs camera scan sessions for a host application: a QR scan
on the back lens or a face scan on the front lens, reported as status,
progress and detection events.

This tool provides:
- QR, Data Matrix and Aztec decoding
- Face detection with UltraFace models on ONNX Runtime
- An HTTP and WebSocket host for event delivery and control calls
- One-shot scans over recorded frames

Examples:
  nativescan serve --port 8080
  nativescan scan qr --back-dir ./frames/back
  nativescan config init`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			ver, commit, date := version.Info()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nativescan version %s\n", ver)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is search in ., $HOME, $HOME/.config/nativescan, /etc/nativescan)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via NATIVESCAN_MODELS_DIR environment variable)")

	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		slog.SetDefault(newLogger(globalConfig))
	}
}

// newLogger builds the JSON logger for cfg.
func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the global configuration including flag overrides.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		initConfig()
	}

	// Flag binding happens after the initial load, so unmarshal again
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling updated configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
