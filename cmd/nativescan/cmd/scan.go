package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
	"github.com/MeKo-Tech/nativescan/internal/config"
	"github.com/MeKo-Tech/nativescan/internal/onnx"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// ErrScanTimeout is returned when nothing was detected in time.
var ErrScanTimeout = errors.New("no detection before timeout")

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan qr|face",
	Short: "Run one scan over recorded frames",
	Long: `Run a single QR or face scan against frames replayed from a directory and
print every event as a JSON line. The command exits once the scan succeeds
or the timeout passes.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"qr", "face"},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, ok := scan.ParseMode(args[0])
		if !ok {
			return fmt.Errorf("unknown scan mode %q (must be qr or face)", args[0])
		}

		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		cfg.Camera.Source = config.SourceReplay
		if cmd.Flags().Changed("back-dir") {
			cfg.Camera.BackDir, _ = cmd.Flags().GetString("back-dir")
		}
		if cmd.Flags().Changed("front-dir") {
			cfg.Camera.FrontDir, _ = cmd.Flags().GetString("front-dir")
		}
		if cmd.Flags().Changed("fps") {
			cfg.Camera.FPS, _ = cmd.Flags().GetFloat64("fps")
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		defer func() { _ = onnx.Shutdown() }()
		return runScan(cmd.Context(), cfg, mode, timeout, cmd.OutOrStdout(), slog.Default())
	},
}

// jsonLineSink writes each event as one JSON line and closes done on the
// terminal success status.
type jsonLineSink struct {
	mu   sync.Mutex
	w    io.Writer
	err  error
	once sync.Once
	done chan struct{}
}

func newJSONLineSink(w io.Writer) *jsonLineSink {
	return &jsonLineSink{w: w, done: make(chan struct{})}
}

func (s *jsonLineSink) Emit(ev scan.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := bridge.Encode(ev)
	if err == nil {
		_, err = fmt.Fprintln(s.w, string(data))
	}
	if err != nil && s.err == nil {
		s.err = err
	}

	if st, ok := ev.Payload.(scan.StatusEvent); ok && st.Phase == scan.PhaseSuccess {
		s.once.Do(func() { close(s.done) })
	}
}

func (s *jsonLineSink) writeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// runScan starts one scan and waits for its success or the timeout.
func runScan(ctx context.Context, cfg *config.Config, mode scan.Mode, timeout time.Duration, out io.Writer, logger *slog.Logger) error {
	lines := newJSONLineSink(out)
	a, err := newApp(cfg, bridge.Multi{lines, bridge.LogSink{Logger: logger}}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.session.Close(); err != nil {
			logger.Error("Session cleanup error", "error", err)
		}
	}()

	if err := a.session.Start(ctx, mode); err != nil {
		return fmt.Errorf("failed to start %s scan: %w", mode, err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-lines.done:
		return lines.writeErr()
	case <-expired:
		a.session.Stop(mode)
		return fmt.Errorf("%s scan: %w (%s)", mode, ErrScanTimeout, timeout)
	case <-ctx.Done():
		a.session.Stop(mode)
		return ctx.Err()
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("back-dir", "", "frames replayed for QR scans (back lens)")
	scanCmd.Flags().String("front-dir", "", "frames replayed for face scans (front lens)")
	scanCmd.Flags().Float64("fps", 15, "replay frame rate")
	scanCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long, 0 waits forever")
}
