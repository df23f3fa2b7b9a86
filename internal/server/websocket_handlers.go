package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
)

const readDeadline = 60 * time.Second

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The host app connects from a local webview
		return true
	},
}

// WebSocketMessage represents a non-call message sent over WebSocket.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// FrameError reports a binary frame that could not be delivered.
type FrameError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// scanWebSocketHandler upgrades the connection, subscribes it to scan events
// and serves calls and binary frames until the client goes away.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	client, err := s.hub.Register(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer s.hub.Unregister(client)

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn, client)
}

// messageReader is the read side of a websocket connection.
type messageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// handleWebSocketConnection processes messages until the read fails or the
// client's writer stops.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn messageReader, client *bridge.Client) {
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		bridge.CountReceived()

		select {
		case <-client.Done():
			return
		default:
		}

		switch messageType {
		case websocket.TextMessage:
			s.handleCall(ctx, client, data)
		case websocket.BinaryMessage:
			s.handleBinaryFrame(client, data)
		}
	}
}

// handleCall dispatches a call and queues its result on the caller only.
func (s *Server) handleCall(ctx context.Context, client *bridge.Client, data []byte) {
	var res bridge.CallResult
	call, err := bridge.ParseCall(data)
	if err != nil {
		res = bridge.ErrorResult(call.ID, err)
	} else {
		res = bridge.Dispatch(ctx, s.session, call)
	}
	s.reply(client, res)
}

// handleBinaryFrame treats a binary message as an encoded camera frame.
// Only failures are answered.
func (s *Server) handleBinaryFrame(client *bridge.Client, data []byte) {
	if s.feed == nil {
		s.reply(client, WebSocketMessage{Type: "frameError", Payload: FrameError{
			Error: "frame uploads need the feed camera source", ErrorType: "no_feed",
		}})
		return
	}
	if _, err := s.pushFrame(data, 0, "websocket"); err != nil {
		errType := "internal"
		switch {
		case errors.Is(err, errInvalidImage):
			errType = "invalid_image"
		case isNotBound(err):
			errType = "not_bound"
		}
		s.reply(client, WebSocketMessage{Type: "frameError", Payload: FrameError{Error: err.Error(), ErrorType: errType}})
	}
}

func (s *Server) reply(client *bridge.Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode WebSocket reply", "error", err)
		return
	}
	if !client.Send(data) {
		s.logger.Warn("WebSocket reply dropped, client queue full")
	}
}
