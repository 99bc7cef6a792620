package integration

import (
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

// TestHubShutdownWithoutClients verifies that an idle hub stops promptly.
func TestHubShutdownWithoutClients(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	go hub.Run()

	require.NoError(t, hub.Shutdown(5*time.Second))
	assert.Zero(t, hub.ClientCount())
}

// TestShutdownClosesClients verifies that active connections are closed and
// their sessions ended when the hub shuts down.
func TestShutdownClosesClients(t *testing.T) {
	srv, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	const numClients = 3
	readers := make([]*testhelpers.EventReader, 0, numClients)
	for i := 0; i < numClients; i++ {
		_, reader := testhelpers.Join(t, wsURL, "user", "general")
		readers = append(readers, reader)
	}
	require.Equal(t, numClients, srv.Hub().ClientCount())

	require.NoError(t, srv.Hub().Shutdown(5*time.Second))

	for i, reader := range readers {
		for {
			_, err := reader.Next(2 * time.Second)
			if err == nil {
				continue
			}
			assert.False(t, testhelpers.IsTimeout(err), "client %d still open", i)
			break
		}
	}
	assert.Zero(t, srv.Hub().ClientCount())
	assert.Zero(t, srv.Coordinator().Registry().Count())
}

// TestHTTPServerShutdown verifies that StartServer returns cleanly after
// ShutdownServer.
func TestHTTPServerShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	httpServer := server.CreateServer(addr, http.NotFoundHandler())
	errs := make(chan error, 1)
	go func() {
		errs <- server.StartServer(httpServer, zerolog.Nop())
	}()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, server.ShutdownServer(httpServer, 2*time.Second, zerolog.Nop()))
	select {
	case err := <-errs:
		assert.False(t, errors.Is(err, http.ErrServerClosed))
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after shutdown")
	}
}
