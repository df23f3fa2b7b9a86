package server

import (
	"errors"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
	"github.com/MeKo-Tech/nativescan/internal/host"
)

// FramePusher accepts client frames for the bound scan.
type FramePusher interface {
	Push(img image.Image, rotation int) (uint64, error)
}

const defaultLimiterIdle = 10 * time.Minute

// Server holds the HTTP server state and dependencies.
type Server struct {
	session     bridge.Controller
	hub         *bridge.Hub
	history     *bridge.History
	feed        FramePusher
	permissions *host.Permissions
	rateLimiter *RateLimiter
	stop        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	version     string
}

// Config holds server configuration.
type Config struct {
	Session     bridge.Controller
	Hub         *bridge.Hub
	History     *bridge.History
	Feed        FramePusher // nil unless clients supply the frames
	Permissions *host.Permissions
	Logger      *slog.Logger
	CORSOrigin  string
	MaxUploadMB int64
	UploadRPS   float64
	UploadBurst int
	LimiterIdle time.Duration // idle clients are forgotten after this long
	Version     string
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
	Clients int    `json:"clients"`
}

// ScanResponse answers the start and stop endpoints.
type ScanResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// PermissionResponse carries the camera permission state.
type PermissionResponse struct {
	Granted bool `json:"granted"`
}

// FrameResponse acknowledges a pushed frame.
type FrameResponse struct {
	Success bool   `json:"success"`
	Seq     uint64 `json:"seq"`
}

// NewServer creates a new scan server instance.
func NewServer(config Config) (*Server, error) {
	if config.Session == nil {
		return nil, errors.New("server needs a scan session")
	}
	if config.Hub == nil {
		config.Hub = bridge.NewHub(config.Logger)
	}
	if config.Permissions == nil {
		config.Permissions = host.NewPermissions(true)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 10
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.LimiterIdle <= 0 {
		config.LimiterIdle = defaultLimiterIdle
	}

	s := &Server{
		session:     config.Session,
		hub:         config.Hub,
		history:     config.History,
		feed:        config.Feed,
		permissions: config.Permissions,
		logger:      config.Logger,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		version:     config.Version,
		stop:        make(chan struct{}),
	}
	if config.UploadRPS > 0 {
		s.rateLimiter = NewRateLimiter(config.UploadRPS, config.UploadBurst)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rateLimiter.janitor(s.stop, config.LimiterIdle/2, config.LimiterIdle)
		}()
	}
	return s, nil
}

// Close stops the limiter cleanup and disconnects every websocket client.
// It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.hub.Close()
	})
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan/state", s.corsMiddleware(s.stateHandler))
	mux.HandleFunc("/scan/events", s.corsMiddleware(s.eventsHandler))
	mux.HandleFunc("/scan/{mode}/{action}", s.corsMiddleware(s.scanHandler))
	mux.HandleFunc("/permissions/camera", s.corsMiddleware(s.permissionHandler))
	mux.HandleFunc("/frames", s.corsMiddleware(s.rateLimitMiddleware(s.frameHandler)))
	mux.HandleFunc("/ws", s.scanWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
