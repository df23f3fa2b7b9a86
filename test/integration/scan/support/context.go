package support

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
	"github.com/MeKo-Tech/nativescan/internal/host"
	"github.com/MeKo-Tech/nativescan/internal/scan"
	"github.com/MeKo-Tech/nativescan/internal/scan/scantest"
	"github.com/MeKo-Tech/nativescan/internal/server"
)

// settleTimeout bounds how long a step waits for the analyzer.
const settleTimeout = 2 * time.Second

// TestContext holds the state of one scenario.
type TestContext struct {
	// Session under test
	Clock     *scantest.Clock
	Camera    *scantest.Camera
	Detectors *scantest.Factory
	Recorder  *scantest.Recorder
	Surface   *host.Surface
	Perms     *host.Permissions
	History   *bridge.History
	Hub       *bridge.Hub
	Session   *scan.Session

	// Last control call
	LastError error

	// HTTP state
	HTTPServer         *httptest.Server
	ScanServer         *server.Server
	LastHTTPStatusCode int
	LastHTTPResponse   []byte

	// WebSocket state
	WSConn   *websocket.Conn
	WSEvents []string
	WSResult bridge.CallResult
	wsCalls  int

	logs bytes.Buffer
}

// NewTestContext creates an idle context. The session is built by the
// Background steps.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// setupSession wires a session over fake camera and detectors.
func (testCtx *TestContext) setupSession(active, granted bool) error {
	testCtx.Clock = scantest.NewClock()
	testCtx.Camera = &scantest.Camera{}
	testCtx.Detectors = &scantest.Factory{}
	testCtx.Recorder = &scantest.Recorder{}
	testCtx.History = bridge.NewHistory(128)

	logger := slog.New(slog.NewJSONHandler(&testCtx.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	testCtx.Surface = host.NewSurface(active)
	testCtx.Perms = host.NewPermissions(granted)
	testCtx.Hub = bridge.NewHub(logger)

	session, err := scan.New(scan.Options{
		Camera:      testCtx.Camera,
		Detectors:   testCtx.Detectors,
		Sink:        bridge.Multi{testCtx.Recorder, testCtx.History, testCtx.Hub},
		Host:        testCtx.Surface,
		Permissions: testCtx.Perms,
		Scheduler:   testCtx.Clock,
		Now:         testCtx.Clock.Now,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	testCtx.Session = session
	return nil
}

// startHTTPServer serves the session over httptest.
func (testCtx *TestContext) startHTTPServer() error {
	if testCtx.Session == nil {
		if err := testCtx.setupSession(true, true); err != nil {
			return err
		}
	}
	srv, err := server.NewServer(server.Config{
		Session:     testCtx.Session,
		Hub:         testCtx.Hub,
		History:     testCtx.History,
		Permissions: testCtx.Perms,
		Version:     "integration",
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.ScanServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

// Cleanup releases everything the scenario created.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.WSConn != nil {
		_ = testCtx.WSConn.Close()
		testCtx.WSConn = nil
	}
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	var err error
	if testCtx.Session != nil {
		err = testCtx.Session.Close()
	}
	if testCtx.ScanServer != nil {
		_ = testCtx.ScanServer.Close()
	} else if testCtx.Hub != nil {
		testCtx.Hub.Close()
	}
	return err
}

// waitFor polls cond until it holds or settleTimeout passes.
func waitFor(what string, cond func() bool) error {
	deadline := time.Now().Add(settleTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
