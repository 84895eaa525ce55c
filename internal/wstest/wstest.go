// Package wstest provides helpers for tests that talk to the relay over a
// real WebSocket connection.
//
// A gorilla connection is unusable after a read times out, so ExpectNoMessage
// must be the last read made on a connection.
package wstest

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// URL converts an httptest server URL and a route into a ws:// URL.
func URL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// Dial opens a WebSocket connection to url with the given Origin header
// (none when origin is empty). The connection is closed on test cleanup.
func Dial(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()

	conn, err := DialErr(url, origin)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialErr is Dial without test assertions, for handshakes expected to fail.
func DialErr(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendText writes a text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// Read reads one data frame within DefaultTimeout.
func Read(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	return messageType, payload
}

// ReadText reads one frame, requires it to be text and returns its payload.
func ReadText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	messageType, payload := Read(t, conn)
	require.Equal(t, websocket.TextMessage, messageType, "expected a text frame")
	return string(payload)
}

// ExpectNoMessage fails the test if a data frame arrives within timeout.
// A timeout or a normal close both count as silence.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %q", payload)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// ExpectClosed requires the server to close conn within DefaultTimeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))

	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("Connection was not closed within %s", DefaultTimeout)
		}
		return
	}
}

// Close sends a normal close frame and closes the connection.
func Close(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
