package server

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := CreateServer("127.0.0.1:0", handler)

	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, handler, srv.Handler)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}

func TestListen_AddressInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = taken.Close() }()

	_, err = Listen(CreateServer(taken.Addr().String(), http.NewServeMux()))
	assert.Error(t, err)
}

func TestStartAndShutdownServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	srv := CreateServer("127.0.0.1:0", mux)

	ln, err := Listen(srv)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- StartServer(srv, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ShutdownServer(srv, time.Second))

	select {
	case err := <-served:
		assert.NoError(t, err, "graceful shutdown is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after shutdown")
	}
}
