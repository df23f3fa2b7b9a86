package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
	"github.com/MeKo-Tech/nativescan/internal/onnx"
	"github.com/MeKo-Tech/nativescan/internal/server"
	"github.com/MeKo-Tech/nativescan/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan host",
	Long: `Start an HTTP server that owns one scan session and exposes it to host
applications.

Endpoints:
  POST /scan/{qr|face}/{start|stop}   control the session
  GET  /scan/state                    current phase and progress
  GET  /scan/events?since=N           recent events
  GET|PUT /permissions/camera         camera permission state
  POST /frames                        push a frame (feed source)
  GET  /ws                            event stream and calls
  GET  /health, /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()

		hub := bridge.NewHub(logger)
		history := bridge.NewHistory(cfg.Server.HistorySize)
		sink := bridge.Multi{hub, history, bridge.LogSink{Logger: logger}}

		a, err := newApp(cfg, sink, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize scan session: %w", err)
		}

		srvCfg := server.Config{
			Session:     a.session,
			Hub:         hub,
			History:     history,
			Permissions: a.perms,
			Logger:      logger,
			CORSOrigin:  cfg.Server.CORSOrigin,
			MaxUploadMB: int64(cfg.Server.MaxUploadMB),
			UploadRPS:   cfg.Server.UploadRPS,
			UploadBurst: cfg.Server.UploadBurst,
			Version:     version.String(),
		}
		if a.feed != nil {
			srvCfg.Feed = a.feed
		}
		scanServer, err := server.NewServer(srvCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		scanServer.SetupRoutes(mux)

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Starting scan server",
				"host", cfg.Server.Host, "port", cfg.Server.Port, "camera", cfg.Camera.Source)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
			logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "error", err)
			}
			// Stops any running scan and releases the camera and detector
			if err := a.session.Close(); err != nil {
				logger.Error("Session cleanup error", "error", err)
			}
			if err := scanServer.Close(); err != nil {
				logger.Error("Server cleanup error", "error", err)
			}
			if err := onnx.Shutdown(); err != nil {
				logger.Error("ONNX Runtime shutdown error", "error", err)
			}
			logger.Info("Graceful shutdown completed")
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 10, "maximum frame upload size in MB")
	serveCmd.Flags().String("camera", "feed", "frame source: feed (client pushed) or replay (directories)")
	serveCmd.Flags().String("back-dir", "", "replay frames for the back lens")
	serveCmd.Flags().String("front-dir", "", "replay frames for the front lens")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.cors_origin", serveCmd.Flags().Lookup("cors-origin"))
	_ = viper.BindPFlag("server.max_upload_mb", serveCmd.Flags().Lookup("max-upload-size"))
	_ = viper.BindPFlag("camera.source", serveCmd.Flags().Lookup("camera"))
	_ = viper.BindPFlag("camera.back_dir", serveCmd.Flags().Lookup("back-dir"))
	_ = viper.BindPFlag("camera.front_dir", serveCmd.Flags().Lookup("front-dir"))
}
