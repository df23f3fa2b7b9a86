package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/nativescan/internal/scan"
)

// Call methods understood by Dispatch.
const (
	MethodStartQRScan   = "startQrScan"
	MethodStopQRScan    = "stopQrScan"
	MethodStartFaceScan = "startFaceScan"
	MethodStopFaceScan  = "stopFaceScan"
	MethodGetState      = "getState"
)

// Call is an inbound request from the host.
type Call struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
}

// CallResult answers a Call.
type CallResult struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	State     *scan.Snapshot `json:"state,omitempty"`
}

// Controller is the part of a scan session reachable through calls.
type Controller interface {
	Start(ctx context.Context, mode scan.Mode) error
	Stop(mode scan.Mode)
	Snapshot() scan.Snapshot
}

// ParseCall decodes a text message into a call. A well-formed envelope that
// is not a valid call is returned alongside the error so its ID can be echoed.
func ParseCall(data []byte) (Call, error) {
	var c Call
	if err := json.Unmarshal(data, &c); err != nil {
		return Call{}, fmt.Errorf("invalid call: %w", err)
	}
	if c.Type != "call" {
		return c, fmt.Errorf("invalid call: unexpected type %q", c.Type)
	}
	if c.Method == "" {
		return c, fmt.Errorf("invalid call: missing method")
	}
	return c, nil
}

// Dispatch runs call against ctl and builds the reply.
func Dispatch(ctx context.Context, ctl Controller, call Call) CallResult {
	res := CallResult{Type: "result", ID: call.ID, Status: "ok"}

	var err error
	switch call.Method {
	case MethodStartQRScan:
		err = ctl.Start(ctx, scan.ModeQR)
	case MethodStartFaceScan:
		err = ctl.Start(ctx, scan.ModeFace)
	case MethodStopQRScan:
		ctl.Stop(scan.ModeQR)
	case MethodStopFaceScan:
		ctl.Stop(scan.ModeFace)
	case MethodGetState:
		snap := ctl.Snapshot()
		res.State = &snap
	default:
		res.Status = "error"
		res.Error = fmt.Sprintf("unknown method %q", call.Method)
		res.ErrorType = "unknown_method"
		callsTotal.WithLabelValues("unknown", res.Status).Inc()
		return res
	}

	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		res.ErrorType = scan.ErrorType(err)
	}
	callsTotal.WithLabelValues(call.Method, res.Status).Inc()
	return res
}

// ErrorResult answers a message that could not be parsed as a call.
func ErrorResult(id string, err error) CallResult {
	return CallResult{Type: "result", ID: id, Status: "error", Error: err.Error(), ErrorType: "invalid_call"}
}
