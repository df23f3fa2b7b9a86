package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/nativescan/internal/bridge"
	"github.com/MeKo-Tech/nativescan/internal/scan"
)

func (testCtx *TestContext) theScanServerIsRunning() error {
	return testCtx.startHTTPServer()
}

func (testCtx *TestContext) do(method, path string, body []byte) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	req, err := http.NewRequest(method, testCtx.HTTPServer.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse, err = io.ReadAll(resp.Body)
	return err
}

func (testCtx *TestContext) iPOST(path string) error {
	return testCtx.do(http.MethodPost, path, nil)
}

func (testCtx *TestContext) iGET(path string) error {
	return testCtx.do(http.MethodGet, path, nil)
}

func (testCtx *TestContext) iSetTheCameraPermission(state string) error {
	body := fmt.Sprintf(`{"granted":%t}`, state == "granted")
	return testCtx.do(http.MethodPut, "/permissions/camera", []byte(body))
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldBe(field, want string) error {
	var body map[string]interface{}
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	got, ok := body[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", field, testCtx.LastHTTPResponse)
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("expected %s=%s, got %v", field, want, got)
	}
	return nil
}

func (testCtx *TestContext) theEventHistoryShouldList(table *godog.Table) error {
	if err := testCtx.iGET("/scan/events"); err != nil {
		return err
	}
	var body struct {
		Events []struct {
			Type    string           `json:"type"`
			Payload scan.StatusEvent `json:"payload"`
		} `json:"events"`
	}
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &body); err != nil {
		return fmt.Errorf("invalid events response: %w", err)
	}

	rows := table.Rows[1:]
	if len(body.Events) != len(rows) {
		return fmt.Errorf("expected %d events, got %d: %s", len(rows), len(body.Events), testCtx.LastHTTPResponse)
	}
	for i, row := range rows {
		ev := body.Events[i]
		got := fmt.Sprintf("%s %s %d", ev.Type, ev.Payload.Phase, ev.Payload.Progress)
		want := fmt.Sprintf("%s %s %s", row.Cells[0].Value, row.Cells[1].Value, row.Cells[2].Value)
		if got != want {
			return fmt.Errorf("event %d: expected %q, got %q", i, want, got)
		}
	}
	return nil
}

func (testCtx *TestContext) aWebSocketClientIsConnected() error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	url := "ws" + strings.TrimPrefix(testCtx.HTTPServer.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	testCtx.WSConn = conn
	return waitFor("client registration", func() bool { return testCtx.Hub.Clients() == 1 })
}

// theClientCalls sends one call and reads until its result arrives, keeping
// the types of the events received before it.
func (testCtx *TestContext) theClientCalls(method string) error {
	if testCtx.WSConn == nil {
		return errors.New("no websocket client")
	}
	testCtx.wsCalls++
	id := fmt.Sprintf("call-%d", testCtx.wsCalls)
	call := bridge.Call{Type: "call", ID: id, Method: method}
	if err := testCtx.WSConn.WriteJSON(call); err != nil {
		return fmt.Errorf("failed to send call: %w", err)
	}

	testCtx.WSEvents = nil
	_ = testCtx.WSConn.SetReadDeadline(time.Now().Add(settleTimeout))
	for {
		_, data, err := testCtx.WSConn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read reply to %s: %w", method, err)
		}
		var msg struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid message %s: %w", data, err)
		}
		if msg.Type != "result" {
			testCtx.WSEvents = append(testCtx.WSEvents, msg.Type)
			continue
		}
		if msg.ID != id {
			return fmt.Errorf("expected result for %s, got %s", id, msg.ID)
		}
		return json.Unmarshal(data, &testCtx.WSResult)
	}
}

func (testCtx *TestContext) theCallResultShouldBe(status string) error {
	if testCtx.WSResult.Status != status {
		return fmt.Errorf("expected call status %s, got %s (%s)", status, testCtx.WSResult.Status, testCtx.WSResult.Error)
	}
	return nil
}

func (testCtx *TestContext) theCallErrorTypeShouldBe(errorType string) error {
	if testCtx.WSResult.ErrorType != errorType {
		return fmt.Errorf("expected error type %s, got %q", errorType, testCtx.WSResult.ErrorType)
	}
	return nil
}

func (testCtx *TestContext) theClientShouldHaveReceivedBeforeTheResult(event string) error {
	for _, t := range testCtx.WSEvents {
		if t == event {
			return nil
		}
	}
	return fmt.Errorf("expected a %s event before the result, got %v", event, testCtx.WSEvents)
}

func (testCtx *TestContext) theReportedStateShouldBe(mode, phase string) error {
	st := testCtx.WSResult.State
	if st == nil {
		return errors.New("result carries no state")
	}
	if st.Mode != mode || string(st.Phase) != phase {
		return fmt.Errorf("expected state %s/%s, got %s/%s", mode, phase, st.Mode, st.Phase)
	}
	return nil
}

// RegisterServerSteps registers the HTTP and WebSocket host steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the scan server is running$`, testCtx.theScanServerIsRunning)
	sc.Step(`^I POST "([^"]*)"$`, testCtx.iPOST)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I set the camera permission to (granted|denied)$`, testCtx.iSetTheCameraPermission)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the event history should list:$`, testCtx.theEventHistoryShouldList)

	sc.Step(`^a websocket client is connected$`, testCtx.aWebSocketClientIsConnected)
	sc.Step(`^the client calls "([^"]*)"$`, testCtx.theClientCalls)
	sc.Step(`^the call result should be "([^"]*)"$`, testCtx.theCallResultShouldBe)
	sc.Step(`^the call error type should be "([^"]*)"$`, testCtx.theCallErrorTypeShouldBe)
	sc.Step(`^the client should have received a "([^"]*)" event before the result$`, testCtx.theClientShouldHaveReceivedBeforeTheResult)
	sc.Step(`^the reported state should be mode "([^"]*)" and phase "([^"]*)"$`, testCtx.theReportedStateShouldBe)
}
