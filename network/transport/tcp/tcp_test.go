package tcp

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writeResult struct {
	n   int
	err error
}

type chanHandler struct {
	connect    chan error
	data       chan []byte
	write      chan writeResult
	disconnect chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		connect:    make(chan error, 4),
		data:       make(chan []byte, 64),
		write:      make(chan writeResult, 64),
		disconnect: make(chan error, 4),
	}
}

func (h *chanHandler) OnConnect(err error)      { h.connect <- err }
func (h *chanHandler) OnData(data []byte)       { h.data <- data }
func (h *chanHandler) OnWrite(n int, err error) { h.write <- writeResult{n, err} }
func (h *chanHandler) OnDisconnect(err error)   { h.disconnect <- err }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func newSocket(t *testing.T, cfg Config, h transport.Handler, opts ...Option) *Socket {
	t.Helper()
	d, err := dispatch.New(dispatch.Config{IntervalMs: 1, ThreadSafe: true})
	require.NoError(t, err)
	s, err := New(cfg, d, h, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Dispose(context.Background())
		_ = d.Close()
	})
	return s
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8192, cfg.ReadBufferSize)
	assert.Equal(t, 256, cfg.SendQueueSize)

	bad := Config{MaxSendRate: -1}
	assert.Error(t, bad.Validate())
}

func TestConnectWriteReadClose(t *testing.T) {
	ln, port := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	h := newChanHandler()
	s := newSocket(t, Config{}, h)
	assert.Equal(t, "socket", s.Name())
	require.NoError(t, s.Connect("127.0.0.1", port, time.Second))
	require.NoError(t, recv(t, h.connect))
	assert.Equal(t, transport.Connected, s.State())

	srv := recv(t, accepted)
	defer srv.Close()

	require.NoError(t, s.Write([]byte("hello")))
	assert.Equal(t, writeResult{5, nil}, recv(t, h.write))
	buf := make([]byte, 5)
	_, err := io.ReadFull(srv, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = srv.Write([]byte("world"))
	require.NoError(t, err)
	var got []byte
	for len(got) < 5 {
		got = append(got, recv(t, h.data)...)
	}
	assert.Equal(t, "world", string(got))

	require.NoError(t, srv.Close())
	derr := recv(t, h.disconnect)
	require.Error(t, derr)
	assert.Equal(t, transport.KindIO, transport.KindOf(derr))
	assert.Equal(t, transport.CodeClosed, transport.CodeOf(derr))
	assert.Equal(t, transport.Disconnected, s.State())
}

func TestManualDisconnect(t *testing.T) {
	ln, port := listen(t)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			_, _ = io.Copy(io.Discard, c)
		}
	}()

	h := newChanHandler()
	s := newSocket(t, Config{}, h)
	require.NoError(t, s.Connect("127.0.0.1", port, time.Second))
	require.NoError(t, recv(t, h.connect))

	require.NoError(t, s.Disconnect())
	assert.NoError(t, recv(t, h.disconnect))
	assert.Equal(t, transport.Disconnected, s.State())

	err := s.Disconnect()
	assert.Equal(t, transport.KindValidation, transport.KindOf(err))
}

func TestConnectRefused(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())

	h := newChanHandler()
	s := newSocket(t, Config{}, h)
	require.NoError(t, s.Connect("127.0.0.1", port, time.Second))
	err := recv(t, h.connect)
	require.Error(t, err)
	assert.Equal(t, transport.KindConnection, transport.KindOf(err))
	assert.Equal(t, transport.CodeRefused, transport.CodeOf(err))
	assert.Equal(t, transport.Disconnected, s.State())
}

type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnectTimeout(t *testing.T) {
	h := newChanHandler()
	s := newSocket(t, Config{}, h, WithDialer(blockingDialer{}))
	require.NoError(t, s.Connect("127.0.0.1", 9, 30*time.Millisecond))

	err := recv(t, h.connect)
	assert.Equal(t, transport.KindConnection, transport.KindOf(err))
	assert.Equal(t, transport.CodeTimeout, transport.CodeOf(err))
}

func TestDisconnectWhileConnecting(t *testing.T) {
	h := newChanHandler()
	s := newSocket(t, Config{}, h, WithDialer(blockingDialer{}))
	require.NoError(t, s.Connect("127.0.0.1", 9, time.Minute))

	err := s.Connect("127.0.0.1", 9, time.Minute)
	assert.Equal(t, transport.KindValidation, transport.KindOf(err))

	require.NoError(t, s.Disconnect())
	assert.NoError(t, recv(t, h.disconnect))
	assert.Empty(t, h.connect)
}

func TestWriteRequiresConnection(t *testing.T) {
	s := newSocket(t, Config{}, newChanHandler())
	err := s.Write([]byte("x"))
	require.Error(t, err)
	assert.Equal(t, transport.KindValidation, transport.KindOf(err))
}

// shortConn accepts at most chunk bytes per Write.
type shortConn struct {
	net.Conn
	chunk  int
	mu     sync.Mutex
	buf    bytes.Buffer
	calls  int
	closed chan struct{}
	once   sync.Once
}

func newShortConn(chunk int) *shortConn {
	return &shortConn{chunk: chunk, closed: make(chan struct{})}
}

func (c *shortConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(p) > c.chunk {
		p = p[:c.chunk]
	}
	return c.buf.Write(p)
}

func (c *shortConn) Read([]byte) (int, error) {
	<-c.closed
	return 0, net.ErrClosed
}

func (c *shortConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *shortConn) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *shortConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2} }

type connDialer struct{ conn net.Conn }

func (d connDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return d.conn, nil
}

func TestPartialWritesCompleteOnce(t *testing.T) {
	conn := newShortConn(3)
	h := newChanHandler()
	s := newSocket(t, Config{}, h, WithDialer(connDialer{conn}))
	require.NoError(t, s.Connect("127.0.0.1", 1, time.Second))
	require.NoError(t, recv(t, h.connect))

	require.NoError(t, s.Write([]byte("0123456789")))
	require.NoError(t, s.Write([]byte("ab")))
	assert.Equal(t, writeResult{10, nil}, recv(t, h.write))
	assert.Equal(t, writeResult{2, nil}, recv(t, h.write))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.write)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, "0123456789ab", conn.buf.String())
	assert.Equal(t, 5, conn.calls)
}

func TestDisposeRefusesOperations(t *testing.T) {
	conn := newShortConn(64)
	h := newChanHandler()
	s := newSocket(t, Config{}, h, WithDialer(connDialer{conn}))
	require.NoError(t, s.Connect("127.0.0.1", 1, time.Second))
	require.NoError(t, recv(t, h.connect))

	require.NoError(t, s.Dispose(context.Background()))
	assert.True(t, s.IsDisposed())
	assert.Equal(t, transport.Disconnected, s.State())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not closed by Dispose")
	}

	assert.Equal(t, transport.KindValidation, transport.KindOf(s.Connect("127.0.0.1", 1, time.Second)))
	assert.Equal(t, transport.KindValidation, transport.KindOf(s.Write([]byte("x"))))
	assert.NoError(t, s.Dispose(context.Background()))
	assert.Empty(t, h.disconnect)
}

func TestTLSConnect(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	h := newChanHandler()
	s := newSocket(t, Config{UseTLS: true, TLSInsecure: true}, h)
	require.NoError(t, s.Connect("127.0.0.1", port, 2*time.Second))
	require.NoError(t, recv(t, h.connect))

	// self-signed certificate
	sh := newChanHandler()
	strict := newSocket(t, Config{UseTLS: true}, sh)
	require.NoError(t, strict.Connect("127.0.0.1", port, 2*time.Second))
	err = recv(t, sh.connect)
	assert.Equal(t, transport.KindConnection, transport.KindOf(err))
	assert.Equal(t, transport.Disconnected, strict.State())
}

func TestResolvePrefersFamily(t *testing.T) {
	addr, err := resolve(context.Background(), "127.0.0.1", 80, true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:80", addr)

	addr, err = resolve(context.Background(), "::1", 80, false)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:80", addr)
}
