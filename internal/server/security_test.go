package server_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/credential"
	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

// expectRejected dials and requires the handshake to fail with status.
func expectRejected(t *testing.T, url, origin, bearer string, status int) {
	t.Helper()
	conn, resp, err := testhelpers.DialWebSocket(url, origin, bearer)
	if err == nil {
		_ = conn.Close()
		if resp != nil {
			_ = resp.Body.Close()
		}
		t.Fatalf("Expected the handshake to fail")
	}
	if resp == nil {
		t.Fatalf("Expected an HTTP response for the rejected handshake: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != status {
		t.Fatalf("Expected status %d, got %d", status, resp.StatusCode)
	}
}

func TestWebSocketAuthentication(t *testing.T) {
	ts := testhelpers.StartServer(t, nil)
	token := ts.Token(t, "alice")

	t.Run("Missing token", func(t *testing.T) {
		expectRejected(t, ts.WebSocketURL(""), testhelpers.TestOrigin, "", http.StatusUnauthorized)
	})

	t.Run("Invalid token", func(t *testing.T) {
		expectRejected(t, ts.WebSocketURL("not-a-token"), testhelpers.TestOrigin, "", http.StatusUnauthorized)
	})

	t.Run("Token signed with another secret", func(t *testing.T) {
		foreign, err := credential.NewTokenManager("other-secret", time.Hour).
			Issue(&credential.User{ID: "u-1", Username: "alice"})
		if err != nil {
			t.Fatalf("Failed to issue token: %v", err)
		}
		expectRejected(t, ts.WebSocketURL(foreign), testhelpers.TestOrigin, "", http.StatusUnauthorized)
	})

	t.Run("Authorization header", func(t *testing.T) {
		conn, resp, err := testhelpers.DialWebSocket(ts.WebSocketURL(""), testhelpers.TestOrigin, token)
		if err != nil {
			t.Fatalf("Expected bearer header to be accepted: %v", err)
		}
		defer func() { _ = conn.Close() }()
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusSwitchingProtocols {
			t.Fatalf("Expected status %d, got %d", http.StatusSwitchingProtocols, resp.StatusCode)
		}
	})
}

func TestWebSocketOriginValidation(t *testing.T) {
	const allowedOrigin = "http://allowed.test"
	ts := testhelpers.StartServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{testhelpers.TestOrigin, allowedOrigin}
	})
	url := ts.WebSocketURL(ts.Token(t, "alice"))

	t.Run("Allowed origin", func(t *testing.T) {
		conn, resp, err := testhelpers.DialWebSocket(url, allowedOrigin, "")
		if err != nil {
			t.Fatalf("Expected allowed origin to succeed: %v", err)
		}
		_ = conn.Close()
		_ = resp.Body.Close()
	})

	t.Run("Disallowed origin", func(t *testing.T) {
		expectRejected(t, url, "http://blocked.test", "", http.StatusForbidden)
	})

	t.Run("Missing origin", func(t *testing.T) {
		expectRejected(t, url, "", "", http.StatusForbidden)
	})

	t.Run("Different scheme", func(t *testing.T) {
		expectRejected(t, url, "https://allowed.test", "", http.StatusForbidden)
	})
}

func TestWildcardOrigin(t *testing.T) {
	ts := testhelpers.StartServer(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})
	url := ts.WebSocketURL(ts.Token(t, "alice"))

	for _, origin := range []string{"http://example.com", "https://another.com", "http://localhost:3000"} {
		conn, resp, err := testhelpers.DialWebSocket(url, origin, "")
		if err != nil {
			t.Errorf("Expected origin %q to be allowed with wildcard: %v", origin, err)
			continue
		}
		_ = conn.Close()
		_ = resp.Body.Close()
	}
}

func TestWebSocketMessageSizeLimit(t *testing.T) {
	const limit int64 = 128
	ts := testhelpers.StartServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = limit
	})
	sender := ts.Connect(t, "alice")
	receiver := ts.Connect(t, "bob")
	ts.JoinAndWait(t, receiver, "general")

	sender.Emit(t, relay.EventSendMessage, map[string]string{
		"conversationId": "general",
		"text":           strings.Repeat("A", int(limit)+10),
	})

	receiver.ExpectNothing(t, 200*time.Millisecond)

	sender.ExpectClosed(t, time.Second)
	testhelpers.WaitFor(t, func() bool { return ts.App.Hub().ClientCount() == 1 }, "oversized sender to be dropped")
}

func TestWebSocketRateLimiting(t *testing.T) {
	rateCfg := server.RateLimitConfig{Burst: 2, RefillInterval: 500 * time.Millisecond}
	ts := testhelpers.StartServer(t, func(cfg *server.Config) {
		cfg.RateLimit = rateCfg
	})
	sender := ts.Connect(t, "alice")
	receiver := ts.Connect(t, "bob")
	ts.JoinAndWait(t, receiver, "general")

	for _, text := range []string{"msg-0", "msg-1", "over-limit"} {
		sender.Emit(t, relay.EventSendMessage, map[string]string{"conversationId": "general", "text": text})
	}

	for _, want := range []string{"msg-0", "msg-1"} {
		if msg := receiver.ExpectMessage(t); msg.Text != want {
			t.Fatalf("Expected %q, got %q", want, msg.Text)
		}
	}
	receiver.ExpectNothing(t, 100*time.Millisecond)

	time.Sleep(rateCfg.RefillInterval + 100*time.Millisecond)

	sender.Emit(t, relay.EventSendMessage, map[string]string{"conversationId": "general", "text": "after-refill"})
	if msg := receiver.ExpectMessage(t); msg.Text != "after-refill" {
		t.Fatalf("Expected 'after-refill' after tokens refilled, got %q", msg.Text)
	}
}
