// Package testhelpers provides common utilities for testing the chat room
// server end to end.
//
// It starts fully wired servers on httptest listeners, dials room sockets
// with an allowed origin, and reads typed frames back so integration tests
// can assert on room behavior without repeating socket plumbing.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrooms/internal/chat"
	"github.com/Tyrowin/chatrooms/internal/config"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/server"
)

// TestOrigin is the Origin header sent by DialRoom. Servers started with
// StartServer allow it.
const TestOrigin = "http://localhost:8080"

// DefaultTimeout bounds every read performed by the helpers.
const DefaultTimeout = 2 * time.Second

// TestServer is a running chat server and the pieces tests poke at.
type TestServer struct {
	*httptest.Server
	App   *server.Server
	Store history.Store
}

// TestConfig returns a configuration suited to tests: history kept in
// memory, no hibernation and a rate limit generous enough that ordinary
// tests never trip it.
func TestConfig() config.Config {
	cfg := config.New()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.RoomIdleTimeout = 0
	cfg.RateLimit.Grace = time.Minute
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// StartServer starts a server for cfg with an in-memory history store. The
// server is shut down when the test ends.
func StartServer(t *testing.T, cfg config.Config) *TestServer {
	t.Helper()
	return StartServerWithStore(t, cfg, history.NewMemoryStore())
}

// StartServerWithStore starts a server for cfg backed by store.
func StartServerWithStore(t *testing.T, cfg config.Config, store history.Store) *TestServer {
	t.Helper()

	app := server.New(cfg, store, zerolog.Nop())
	ts := httptest.NewServer(app.Routes())

	t.Cleanup(func() {
		_ = app.Shutdown(cfg.ShutdownTimeout)
		ts.Close()
		_ = store.Close()
	})

	return &TestServer{Server: ts, App: app, Store: store}
}

// RoomURL returns the WebSocket URL of room on ts.
func (ts *TestServer) RoomURL(room string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/" + room + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// Dial opens a WebSocket connection to url with the given extra headers. The
// handshake response is returned so callers can inspect rejections.
func Dial(url string, headers http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Origin") == "" {
		headers.Set("Origin", TestOrigin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// DialRoom connects to room on ts and fails the test if the handshake is
// refused. The connection is closed when the test ends.
func DialRoom(t *testing.T, ts *TestServer, room string) *websocket.Conn {
	t.Helper()

	conn, _, err := Dial(ts.RoomURL(room), nil)
	if err != nil {
		t.Fatalf("Failed to connect to room %q: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendCommand writes cmd as one text frame.
func SendCommand(t *testing.T, conn *websocket.Conn, cmd chat.Command) {
	t.Helper()

	data, err := chat.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("Failed to encode %s command: %v", cmd.Kind(), err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send %s command: %v", cmd.Kind(), err)
	}
}

// Join sends a join command for name.
func Join(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	SendCommand(t, conn, chat.Join{Name: name})
}

// SendChat sends a chat message stamped with timestamp (Unix milliseconds).
func SendChat(t *testing.T, conn *websocket.Conn, message string, timestamp int64) {
	t.Helper()
	SendCommand(t, conn, chat.SendChat{Message: message, Timestamp: timestamp})
}

// ReadMessage reads the next frame and decodes it.
func ReadMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	msg, err := chat.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode frame %s: %v", data, err)
	}
	return msg
}

// ReadUntil reads frames until one has the wanted type and returns it.
// Frames of other types are discarded.
func ReadUntil(t *testing.T, conn *websocket.Conn, msgType string) chat.Message {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		msg := ReadMessage(t, conn)
		if msg.Type() == msgType {
			return msg
		}
	}
	t.Fatalf("No %q message before timeout", msgType)
	return nil
}

// ReadRoster reads frames until a users message arrives and returns it.
func ReadRoster(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	return ReadUntil(t, conn, chat.TypeUsers).(chat.Users).Users
}

// ExpectNoMessage fails the test if a frame arrives within timeout. A timed
// out read leaves the connection unusable, so call it last.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", data)
	}
}

// ExpectClose reads until the server closes conn and returns the close
// frame's code and reason.
func ExpectClose(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if closeErr, ok := err.(*websocket.CloseError); ok {
			return closeErr.Code, closeErr.Text
		}
		t.Fatalf("Expected close frame, got %v", err)
		return 0, ""
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MustJSON marshals v or fails the test.
func MustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal %T: %v", v, err)
	}
	return data
}

// WaitForConnections blocks until room on ts holds n live connections.
// Dial returns once the upgrade completes, which can be before the room has
// admitted the connection.
func WaitForConnections(t *testing.T, ts *TestServer, room string, n int) {
	t.Helper()

	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if rm, ok := ts.App.Hub().Rooms().Lookup(room); ok {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			got, err := rm.Len(ctx)
			cancel()
			if err == nil && got == n {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Room %q did not reach %d connections", room, n)
}
