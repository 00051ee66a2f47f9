// Package testhelpers provides common utilities for testing the relay server.
//
// It starts fully wired servers on httptest listeners, signs users up to
// obtain tokens, and speaks the event protocol over real WebSocket
// connections so tests can assert on what each client receives.
package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomrelay/internal/credential"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
)

// TestOrigin is the Origin header sent by ConnectWebSocket and allowed
// by StartServer.
const TestOrigin = "http://localhost:8080"

// DefaultTimeout bounds every blocking read in the helpers.
const DefaultTimeout = 2 * time.Second

// TestServer is a running relay behind an httptest listener.
type TestServer struct {
	*httptest.Server
	App  *server.Server
	Auth *credential.Service
}

// WSClient is a connected WebSocket client and the session id the
// server announced for it. A single goroutine owns every read from Conn;
// callers may still write to Conn directly.
type WSClient struct {
	Conn *websocket.Conn
	ID   string

	frames chan frame
}

// frame is one read result. The last frame on a closed connection
// carries its error.
type frame struct {
	raw []byte
	err error
}

// NewWSClient wraps conn and starts reading from it.
func NewWSClient(conn *websocket.Conn) *WSClient {
	c := &WSClient{Conn: conn, frames: make(chan frame, 256)}
	go c.readLoop()
	return c
}

func (c *WSClient) readLoop() {
	defer close(c.frames)
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			c.frames <- frame{err: err}
			return
		}
		c.frames <- frame{raw: raw}
	}
}

// receive waits up to timeout for the next read result. ok is false when
// nothing arrived in time.
func (c *WSClient) receive(timeout time.Duration) (f frame, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, open := <-c.frames:
		if !open {
			return frame{err: net.ErrClosed}, true
		}
		return f, true
	case <-timer.C:
		return frame{}, false
	}
}

// NewAuthService returns an in-memory credential service with a cheap
// bcrypt cost.
func NewAuthService() *credential.Service {
	return credential.NewService(
		credential.NewMemoryStore(),
		credential.NewPasswordHasher(bcrypt.MinCost),
		credential.NewTokenManager("test-secret", time.Hour),
	)
}

// StartServer builds, starts and registers cleanup for a full server.
// customize may adjust the configuration before the server is built.
func StartServer(t *testing.T, customize func(cfg *server.Config)) *TestServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(cfg)
	}

	auth := NewAuthService()
	app := server.NewServer(*cfg, auth)
	app.StartHub()

	ts := httptest.NewServer(app.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = app.Hub().Shutdown(DefaultTimeout)
	})

	return &TestServer{Server: ts, App: app, Auth: auth}
}

// Relay returns the relay behind the server's hub.
func (s *TestServer) Relay() *relay.Relay {
	return s.App.Hub().Relay()
}

// Token registers username and returns its token.
func (s *TestServer) Token(t *testing.T, username string) string {
	t.Helper()
	_, token, err := s.Auth.Register(context.Background(), username, username+"@example.com", "password")
	if err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
	return token
}

// WebSocketURL returns the ws:// URL of the server's /ws endpoint,
// carrying token when it is not empty.
func (s *TestServer) WebSocketURL(token string) string {
	u, err := url.Parse(s.URL)
	if err != nil {
		panic(fmt.Sprintf("invalid test server URL %q: %v", s.URL, err))
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String()
}

// Connect signs username up (unless it is empty), dials the server and
// consumes the connect event.
func (s *TestServer) Connect(t *testing.T, username string) *WSClient {
	t.Helper()

	token := ""
	if username != "" {
		token = s.Token(t, username)
	}

	conn, err := ConnectWebSocket(s.WebSocketURL(token))
	if err != nil {
		t.Fatalf("Failed to connect %q: %v", username, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client := NewWSClient(conn)
	env := client.Expect(t, relay.EventConnect)
	var hello relay.ConnectPayload
	if err := json.Unmarshal(env.Data, &hello); err != nil {
		t.Fatalf("Failed to decode connect payload: %v", err)
	}
	if hello.ID == "" {
		t.Fatal("Connect event carried an empty session id")
	}
	client.ID = hello.ID
	return client
}

// JoinAndWait joins room and waits until the relay has recorded it, so
// later events from other connections cannot overtake the join.
func (s *TestServer) JoinAndWait(t *testing.T, client *WSClient, room string) {
	t.Helper()
	client.Emit(t, relay.EventJoinConversation, room)
	WaitFor(t, func() bool { return s.Relay().Rooms().IsMember(client.ID, room) },
		"client %s to join %q", client.ID, room)
}

// WaitFor polls cond until it holds or DefaultTimeout passes.
func WaitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for "+format, args...)
}

// Emit sends one event frame.
func (c *WSClient) Emit(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := relay.EncodeEvent(event, data)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", event, err)
	}
	if err := c.Conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// Next reads the next event frame.
func (c *WSClient) Next(t *testing.T) relay.Envelope {
	t.Helper()
	f, ok := c.receive(DefaultTimeout)
	if !ok {
		t.Fatalf("Timed out waiting for an event")
	}
	if f.err != nil {
		t.Fatalf("Failed to read event: %v", f.err)
	}
	var env relay.Envelope
	if err := json.Unmarshal(f.raw, &env); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", f.raw, err)
	}
	return env
}

// Expect reads the next event and fails unless it is named event.
func (c *WSClient) Expect(t *testing.T, event string) relay.Envelope {
	t.Helper()
	env := c.Next(t)
	if env.Event != event {
		t.Fatalf("Expected %s event, got %s (%s)", event, env.Event, env.Data)
	}
	return env
}

// ExpectMessage reads the next event as a receive_message.
func (c *WSClient) ExpectMessage(t *testing.T) relay.MessagePayload {
	t.Helper()
	env := c.Expect(t, relay.EventReceiveMessage)
	var msg relay.MessagePayload
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("Failed to decode message payload: %v", err)
	}
	return msg
}

// ExpectTyping reads the next event, requires it to be event (typing or
// stop_typing), and returns its user id.
func (c *WSClient) ExpectTyping(t *testing.T, event string) string {
	t.Helper()
	env := c.Expect(t, event)
	var p relay.TypingPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("Failed to decode typing payload: %v", err)
	}
	return p.UserID
}

// ExpectNothing fails if any event arrives within timeout. A connection
// that closes in the meantime counts as silent.
func (c *WSClient) ExpectNothing(t *testing.T, timeout time.Duration) {
	t.Helper()
	f, ok := c.receive(timeout)
	if !ok || f.err != nil {
		return
	}
	t.Fatalf("Expected no event, but received %s", f.raw)
}

// ExpectClosed skips any events still queued and fails unless the
// connection closes within timeout.
func (c *WSClient) ExpectClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		f, ok := c.receive(time.Until(deadline))
		if !ok {
			t.Fatalf("Connection still open after %v", timeout)
		}
		if f.err != nil {
			return
		}
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
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

// ConnectWebSocket creates a WebSocket connection to the specified URL
// with TestOrigin as its Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	conn, resp, err := DialWebSocket(url, TestOrigin, "")
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// DialWebSocket dials url with the given Origin header and, when
// bearer is not empty, an Authorization header. The handshake response
// is returned so callers can inspect rejected upgrades.
func DialWebSocket(url, origin, bearer string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if bearer != "" {
		headers.Set("Authorization", "Bearer "+bearer)
	}

	return dialer.Dial(url, headers)
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
