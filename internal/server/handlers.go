package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/nativescan/internal/camera"
	"github.com/MeKo-Tech/nativescan/internal/scan"
	"github.com/MeKo-Tech/nativescan/internal/utils"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Clients: s.hub.Clients(),
	})
}

// scanHandler serves POST /scan/{qr|face}/{start|stop}.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode, ok := scan.ParseMode(r.PathValue("mode"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.PathValue("action") {
	case "start":
		if err := s.session.Start(r.Context(), mode); err != nil {
			s.writeScanError(w, err)
			return
		}
	case "stop":
		s.session.Stop(mode)
	default:
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, http.StatusOK, ScanResponse{Success: true})
}

// stateHandler returns the session snapshot.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// eventsHandler returns retained events newer than ?since=N.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeErrorResponse(w, "Event history disabled", http.StatusNotFound)
		return
	}

	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeErrorResponse(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		since = n
	}

	events := s.history.Since(since)
	if events == nil {
		events = []scan.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// permissionHandler reads or sets the camera permission.
func (s *Server) permissionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req PermissionResponse
		if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil {
			s.writeErrorResponse(w, "Invalid permission body", http.StatusBadRequest)
			return
		}
		s.permissions.SetCamera(req.Granted)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, PermissionResponse{Granted: s.permissions.CameraGranted()})
}

// frameHandler pushes an uploaded image into the feed camera.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.feed == nil {
		s.writeErrorResponse(w, "Frame uploads need the feed camera source", http.StatusConflict)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	rotation := 0
	if v := r.FormValue("rotation"); v != "" {
		if rotation, err = parseRotation(v); err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	seq, err := s.pushFrame(data, rotation, "http")
	if err != nil {
		s.writeFrameError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FrameResponse{Success: true, Seq: seq})
}

var errInvalidImage = errors.New("invalid image format")

// pushFrame decodes data and hands it to the feed.
func (s *Server) pushFrame(data []byte, rotation int, transport string) (uint64, error) {
	img, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		framesPushed.WithLabelValues(transport, "invalid").Inc()
		return 0, errInvalidImage
	}
	seq, err := s.feed.Push(img, rotation)
	if err != nil {
		framesPushed.WithLabelValues(transport, "rejected").Inc()
		return 0, err
	}
	framesPushed.WithLabelValues(transport, "ok").Inc()
	return seq, nil
}

func isNotBound(err error) bool {
	return errors.Is(err, camera.ErrNotBound)
}

func parseRotation(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n%90 != 0 || n < 0 || n >= 360 {
		return 0, errors.New("rotation must be 0, 90, 180 or 270")
	}
	return n, nil
}

// writeScanError maps session errors to status codes.
func (s *Server) writeScanError(w http.ResponseWriter, err error) {
	errType := scan.ErrorType(err)
	status := http.StatusInternalServerError
	switch errType {
	case "no_activity":
		status = http.StatusConflict
	case "permission_denied":
		status = http.StatusForbidden
	case "camera_init":
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("Scan request failed", "error", err, "error_type", errType)
	s.writeJSON(w, status, ScanResponse{Success: false, Error: err.Error(), ErrorType: errType})
}

func (s *Server) writeFrameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidImage):
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
	case isNotBound(err):
		s.writeErrorResponse(w, "No scan is running", http.StatusConflict)
	default:
		s.writeErrorResponse(w, "Failed to push frame: "+err.Error(), http.StatusInternalServerError)
	}
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]interface{}{"success": false, "error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
