package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relay/internal/wstest"
)

type fakeRouter struct {
	mu          sync.Mutex
	connects    []uuid.UUID
	disconnects []uuid.UUID
	messages    []string
}

func (r *fakeRouter) Connect(id uuid.UUID, _ DeliveryTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, id)
}

func (r *fakeRouter) Disconnect(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, id)
}

func (r *fakeRouter) Message(_ uuid.UUID, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(payload))
}

func (r *fakeRouter) counts() (connects, disconnects, messages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects), len(r.disconnects), len(r.messages)
}

// serveClient upgrades one connection on a test server and serves it with a
// Client bound to router. The served Client is returned once Serve starts.
func serveClient(t *testing.T, ctx context.Context, router Router) (*websocket.Conn, *Client) {
	t.Helper()

	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, router, r.RemoteAddr, ClientOptions{
			MaxMessageSize:  1024,
			SendBuffer:      8,
			RateLimitBurst:  100,
			RateLimitRefill: time.Second,
			Logger:          discardLogger(),
		})
		clients <- client
		client.Serve(ctx)
	}))
	t.Cleanup(srv.Close)

	conn := wstest.Dial(t, wstest.URL(srv, "/"), "")

	select {
	case client := <-clients:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("client was never served")
		return nil, nil
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(nil, &fakeRouter{}, "127.0.0.1:12345", ClientOptions{})

	require.NotNil(t, client)
	assert.NotEqual(t, uuid.Nil, client.ID())
	assert.Equal(t, 256, cap(client.send))
}

func TestNewClient_IdentitiesAreUnique(t *testing.T) {
	seen := make(map[uuid.UUID]struct{})
	for i := 0; i < 100; i++ {
		id := NewClient(nil, &fakeRouter{}, "", ClientOptions{}).ID()
		_, dup := seen[id]
		require.False(t, dup, "identity %s reused", id)
		seen[id] = struct{}{}
	}
}

func TestClient_DeliverQueuesUntilFull(t *testing.T) {
	client := NewClient(nil, &fakeRouter{}, "", ClientOptions{SendBuffer: 2})

	require.NoError(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("a")}))
	require.NoError(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("b")}))
	assert.ErrorIs(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("c")}), ErrSendBufferFull)

	assert.Equal(t, "a", string((<-client.send).Payload))
	assert.Equal(t, "b", string((<-client.send).Payload))
}

func TestClient_DeliverAfterCloseFails(t *testing.T) {
	client := NewClient(nil, &fakeRouter{}, "", ClientOptions{})
	client.Close()

	assert.ErrorIs(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("late")}), ErrClientClosed)
}

func TestClient_CloseEmitsOneDisconnect(t *testing.T) {
	router := &fakeRouter{}
	client := NewClient(nil, router, "", ClientOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Close()
		}()
	}
	wg.Wait()

	_, disconnects, _ := router.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, []uuid.UUID{client.ID()}, router.disconnects)

	select {
	case <-client.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestClient_HandleFrame(t *testing.T) {
	router := &fakeRouter{}
	client := NewClient(nil, router, "", ClientOptions{RateLimitBurst: 10, RateLimitRefill: time.Second})

	client.handleFrame(websocket.TextMessage, []byte("broadcast me"))
	client.handleFrame(websocket.BinaryMessage, []byte{0xca, 0xfe})
	client.handleFrame(99, []byte("ignored"))

	assert.Equal(t, []string{"broadcast me"}, router.messages)

	require.Len(t, client.send, 1, "binary frame should be queued for echo")
	echo := <-client.send
	assert.Equal(t, FrameBinary, echo.Kind)
	assert.Equal(t, []byte{0xca, 0xfe}, echo.Payload)
}

func TestClient_HandleFrameRespectsRateLimit(t *testing.T) {
	router := &fakeRouter{}
	client := NewClient(nil, router, "", ClientOptions{RateLimitBurst: 1, RateLimitRefill: time.Hour})

	client.handleFrame(websocket.TextMessage, []byte("first"))
	client.handleFrame(websocket.TextMessage, []byte("second"))
	client.handleFrame(websocket.BinaryMessage, []byte("third"))

	assert.Equal(t, []string{"first"}, router.messages)
	assert.Empty(t, client.send)
}

func TestClient_WriteFrameDropsUnknownKind(t *testing.T) {
	client := NewClient(nil, &fakeRouter{}, "", ClientOptions{})
	assert.True(t, client.writeFrame(Frame{Kind: FrameKind(42), Payload: []byte("x")}))
}

func TestClient_ServeLifecycle(t *testing.T) {
	router := &fakeRouter{}
	conn, client := serveClient(t, context.Background(), router)

	require.Eventually(t, func() bool {
		connects, _, _ := router.counts()
		return connects == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, client.ID(), router.connects[0])

	wstest.SendText(t, conn, "hello")
	require.Eventually(t, func() bool {
		_, _, messages := router.counts()
		return messages == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("routed")}))
	assert.Equal(t, "routed", wstest.ReadText(t, conn))

	require.NoError(t, wstest.Close(conn))
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not terminate after peer close")
	}

	client.Close()
	client.Close()

	_, disconnects, _ := router.counts()
	assert.Equal(t, 1, disconnects, "exactly one Disconnect per connection")
	assert.ErrorIs(t, client.Deliver(Frame{Kind: FrameText, Payload: []byte("late")}), ErrClientClosed)
}

func TestClient_ContextCancelTerminates(t *testing.T) {
	router := &fakeRouter{}
	ctx, cancel := context.WithCancel(context.Background())
	conn, client := serveClient(t, ctx, router)

	cancel()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not terminate on context cancel")
	}
	wstest.ExpectClosed(t, conn)

	_, disconnects, _ := router.counts()
	assert.Equal(t, 1, disconnects)
}

func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "text", FrameText.String())
	assert.Equal(t, "binary", FrameBinary.String())
	assert.Equal(t, "unknown", FrameKind(0).String())
}
