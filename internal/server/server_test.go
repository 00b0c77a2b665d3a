package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/waysn/internal/ipc"
	"codeberg.org/mutker/waysn/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waysn.sock")

	srv, err := Listen(path, logger.New("server-test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv
}

func send(t *testing.T, srv *Server, cmd ipc.Command) (ipc.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return ipc.Send(ctx, srv.Path(), cmd)
}

func TestServerExchange(t *testing.T) {
	srv := startServer(t)

	go func() {
		req := <-srv.Requests()
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, ipc.GetTemperature{Outputs: []string{"DP-1"}}, req.Command)
		req.Reply(ipc.Temperature{Temperatures: map[string]ipc.OutputState{"DP-1": {Kelvin: 4000, Gamma: 1}}})
	}()

	resp, err := send(t, srv, ipc.GetTemperature{Outputs: []string{"DP-1"}})
	require.NoError(t, err)
	assert.Equal(t, ipc.Temperature{Temperatures: map[string]ipc.OutputState{"DP-1": {Kelvin: 4000, Gamma: 1}}}, resp)
}

func TestServerSocketPermissions(t *testing.T) {
	srv := startServer(t)

	info, err := os.Stat(srv.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(socketMode), info.Mode().Perm())
}

func TestServerDropsUndecodableConnection(t *testing.T) {
	srv := startServer(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "garbage payload", payload: []byte{0, 0, 0, 3, 0xff, 0x00, 0x13}},
		{name: "oversized frame", payload: binary.BigEndian.AppendUint32(nil, ipc.MaxFrameSize+1)},
		{name: "short header", payload: []byte{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("unix", srv.Path())
			require.NoError(t, err)
			defer conn.Close()

			_, err = conn.Write(tt.payload)
			require.NoError(t, err)
			conn.(*net.UnixConn).CloseWrite()

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, err := conn.Read(make([]byte, 16))
			assert.Zero(t, n)
			assert.ErrorIs(t, err, io.EOF)
		})
	}

	// The listener is still healthy.
	go func() {
		req := <-srv.Requests()
		req.Reply(ipc.Ok{})
	}()
	resp, err := send(t, srv, ipc.Kill{})
	require.NoError(t, err)
	assert.Equal(t, ipc.Ok{}, resp)
}

func TestRequestReplyIsSingleUse(t *testing.T) {
	req := NewRequest("id", ipc.Kill{})
	req.Reply(ipc.Ok{})
	req.Reply(ipc.Err{Message: "second"})

	assert.Equal(t, ipc.Ok{}, <-req.Response())
	select {
	case resp := <-req.Response():
		t.Fatalf("unexpected second reply %v", resp)
	default:
	}
}

func TestServerDeliversReplyPendingAtClose(t *testing.T) {
	srv := startServer(t)

	go func() {
		req := <-srv.Requests()
		req.Reply(ipc.Ok{})
		srv.Close()
	}()

	resp, err := send(t, srv, ipc.Kill{})
	require.NoError(t, err)
	assert.Equal(t, ipc.Ok{}, resp)
}

func TestServerCloseWithoutReply(t *testing.T) {
	srv := startServer(t)

	go func() {
		<-srv.Requests()
		srv.Close()
	}()

	_, err := send(t, srv, ipc.GetTemperature{})
	assert.Error(t, err)
}

func TestServerCloseRemovesSocketOnce(t *testing.T) {
	srv := startServer(t)

	require.NoError(t, srv.Close())
	_, err := os.Stat(srv.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, srv.Close())
}

func TestServerCloseInterruptsIdleConnection(t *testing.T) {
	srv := startServer(t)

	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	defer conn.Close()
	// Half a header, then silence.
	_, err = conn.Write([]byte{0, 0})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, srv.Close())
	assert.Less(t, time.Since(start), time.Second)
}

func TestServeAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waysn.sock")
	srv, err := Listen(path, logger.New("server-test"))
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Serve(context.Background()))
}

func TestListenOnBusyPath(t *testing.T) {
	srv := startServer(t)

	_, err := Listen(srv.Path(), logger.New("server-test"))
	assert.Error(t, err)
}
