package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/0xRadioAc7iv/go-hierdb/hierdb"
	"github.com/0xRadioAc7iv/go-hierdb/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*core.DB, int) {
	t.Helper()

	db, err := core.Open(filepath.Join(t.TempDir(), "server.db"), 512, true)
	require.NoError(t, err)

	ln, err := server.Listen("127.0.0.1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := server.NewHandler(db, slog.Default())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, ln, slog.Default(), h.ServeConn)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		_ = db.Close()
	})

	return db, ln.Addr().(*net.TCPAddr).Port
}

func connect(t *testing.T, port int) *hierdb.Client {
	t.Helper()

	client, err := hierdb.Connect(hierdb.WithHost("127.0.0.1"), hierdb.WithPort(port))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestServerRoundTrip(t *testing.T) {
	db, port := startServer(t)
	client := connect(t, port)

	require.NoError(t, client.Ping())
	require.NoError(t, client.Mkdir("etc"))
	require.NoError(t, client.ChDir("etc"))
	require.NoError(t, client.Put("hosts", []byte("127.0.0.1 localhost")))

	data, err := client.Get("hosts")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost", string(data))

	_, err = client.Get("passwd")
	require.ErrorIs(t, err, hierdb.ErrNil)

	pwd, err := client.Pwd()
	require.NoError(t, err)
	assert.Equal(t, "/etc", pwd)

	err = client.ChDir("hosts")
	require.ErrorIs(t, err, hierdb.ErrServer)

	require.NoError(t, client.Check())
	require.NoError(t, db.AssertAllBlocksValid())
}

func TestSessionsHaveTheirOwnDirectory(t *testing.T) {
	_, port := startServer(t)
	first := connect(t, port)
	second := connect(t, port)

	require.NoError(t, first.Mkdir("a"))
	require.NoError(t, first.ChDir("a"))
	require.NoError(t, first.Touch("inside"))

	names, err := second.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/"}, names)

	require.NoError(t, second.ChDir("a"))
	names, err = second.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"inside"}, names)
}

func TestConcurrentClients(t *testing.T) {
	_, port := startServer(t)

	const workers = 4
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		i := i
		go func() {
			client, err := hierdb.Connect(hierdb.WithHost("127.0.0.1"), hierdb.WithPort(port))
			if err != nil {
				errs <- err
				return
			}
			defer client.Close()

			dir := string(rune('a' + i))
			if err := client.Mkdir(dir); err != nil {
				errs <- err
				return
			}
			if err := client.ChDir(dir); err != nil {
				errs <- err
				return
			}
			for j := 0; j < 20; j++ {
				if err := client.Put(string(rune('a'+j)), []byte("payload")); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}

	for n := 0; n < workers; n++ {
		require.NoError(t, <-errs)
	}

	client := connect(t, port)
	require.NoError(t, client.Check())

	names, err := client.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/", "b/", "c/", "d/"}, names)
}

func TestListenSkipsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	port := busy.Addr().(*net.TCPAddr).Port

	ln, err := server.Listen("127.0.0.1", port)
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEqual(t, port, ln.Addr().(*net.TCPAddr).Port)
}

func TestServeReturnsWhenListenerIsClosed(t *testing.T) {
	ln, err := server.Listen("127.0.0.1", 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), ln, slog.Default(), func(context.Context, net.Conn) {})
	}()

	require.NoError(t, ln.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the listener was closed")
	}
}

// failingListener fails every Accept with a non-closed error.
type failingListener struct {
	net.Listener
	accepts atomic.Int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.accepts.Add(1)
	return nil, errors.New("too many open files")
}

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inner.Close()

	ln := &failingListener{Listener: inner}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = server.Serve(ctx, ln, slog.Default(), func(context.Context, net.Conn) {})
	require.NoError(t, err)

	// 5+10+20+40+80 ms of backoff fit in the window; a busy loop would not stop there.
	assert.Less(t, ln.accepts.Load(), int32(20))
}
