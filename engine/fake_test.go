package engine

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linchenxuan/strixlink/network/codec"
	"github.com/linchenxuan/strixlink/network/crypto"
	"github.com/linchenxuan/strixlink/network/frame"
	"github.com/linchenxuan/strixlink/network/tunnel"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func none[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %+v", v)
	case <-time.After(wait):
	}
}

// events collects every engine event into channels.
type events struct {
	conn   chan ConnectionEvent
	lost   chan ConnectionLostEvent
	retry  chan ConnectionRetryEvent
	resume chan ConnectionResumeEvent
	http   chan ConnectionAttemptHTTPEvent
	crypto chan CryptoInitEvent
	data   chan DataEvent
	errs   chan ErrorEvent
}

func watch(c *Client) *events {
	ev := &events{
		conn:   make(chan ConnectionEvent, 8),
		lost:   make(chan ConnectionLostEvent, 8),
		retry:  make(chan ConnectionRetryEvent, 8),
		resume: make(chan ConnectionResumeEvent, 8),
		http:   make(chan ConnectionAttemptHTTPEvent, 8),
		crypto: make(chan CryptoInitEvent, 8),
		data:   make(chan DataEvent, 64),
		errs:   make(chan ErrorEvent, 64),
	}
	c.OnConnection(func(e ConnectionEvent) { ev.conn <- e })
	c.OnConnectionLost(func(e ConnectionLostEvent) { ev.lost <- e })
	c.OnConnectionRetry(func(e ConnectionRetryEvent) { ev.retry <- e })
	c.OnConnectionResume(func(e ConnectionResumeEvent) { ev.resume <- e })
	c.OnConnectionAttemptHTTP(func(e ConnectionAttemptHTTPEvent) { ev.http <- e })
	c.OnCryptoInit(func(e CryptoInitEvent) { ev.crypto <- e })
	c.OnData(func(e DataEvent) { ev.data <- e })
	c.OnError(func(e ErrorEvent) { ev.errs <- e })
	return ev
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// fakeServer speaks the framed protocol over TCP. It answers handshakes with
// reply and forwards every application frame to frames.
type fakeServer struct {
	t    *testing.T
	ln   net.Listener
	port int

	mu     sync.Mutex
	conns  []net.Conn
	reply  codec.HandshakeReply
	silent bool

	handshakes chan codec.HandshakeRequest
	frames     chan frame.Frame
}

func newFakeServer(t *testing.T, reply codec.HandshakeReply) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{
		t:          t,
		ln:         ln,
		port:       ln.Addr().(*net.TCPAddr).Port,
		reply:      reply,
		handshakes: make(chan codec.HandshakeRequest, 8),
		frames:     make(chan frame.Frame, 64),
	}
	go s.accept()
	t.Cleanup(func() {
		_ = ln.Close()
		s.dropAll()
	})
	return s
}

func (s *fakeServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeServer) serve(conn net.Conn) {
	r := frame.NewReassembler(1 << 20)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		frames, err := r.Feed(buf[:n])
		if err != nil {
			_ = conn.Close()
			return
		}
		for _, f := range frames {
			if !f.Flags.Has(frame.FlagControl) {
				s.frames <- f
				continue
			}
			ctl, err := codec.ParseControl(f.Body)
			if err != nil || ctl.Cmd != codec.CmdHandshake {
				continue
			}
			s.handshakes <- ctl.HandshakeRequest()

			s.mu.Lock()
			silent, reply := s.silent, s.reply
			s.mu.Unlock()
			if silent {
				continue
			}
			body, err := codec.EncodeHandshakeReply(reply)
			if err != nil {
				s.t.Errorf("encode reply: %v", err)
				return
			}
			s.write(conn, frame.Encode(frame.FlagControl, body))
		}
	}
}

func (s *fakeServer) write(conn net.Conn, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = conn.Write(b)
}

// push writes a frame on the newest connection.
func (s *fakeServer) push(flags frame.Flags, body []byte) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.write(conn, frame.Encode(flags, body))
}

func (s *fakeServer) pushDisconnect(reason string) {
	body, err := codec.EncodeDisconnect(reason)
	require.NoError(s.t, err)
	s.push(frame.FlagControl, body)
}

func (s *fakeServer) setSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

func (s *fakeServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// fakeHTTP serves BlueBox and the crypto servlet on one port.
type fakeHTTP struct {
	t     *testing.T
	srv   *httptest.Server
	reply codec.HandshakeReply
	key   []byte // 32 bytes returned by the crypto servlet

	mu       sync.Mutex
	reasm    *frame.Reassembler
	queue    []string
	connects int
	tokens   []string

	frames chan frame.Frame
}

func newFakeHTTP(t *testing.T, reply codec.HandshakeReply) *fakeHTTP {
	t.Helper()
	key := make([]byte, 2*crypto.KEY_SIZE)
	for i := range key {
		key[i] = byte(i + 1)
	}
	f := &fakeHTTP{
		t:      t,
		reply:  reply,
		key:    key,
		reasm:  frame.NewReassembler(1 << 20),
		frames: make(chan frame.Frame, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+tunnel.BB_SERVLET, f.serveBlueBox)
	mux.HandleFunc("/"+crypto.TARGET_SERVLET, f.serveCrypto)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHTTP) port() int {
	return urlPort(f.t, f.srv.URL)
}

func urlPort(t *testing.T, url string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(url, "http://"))
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func (f *fakeHTTP) serveCrypto(w http.ResponseWriter, r *http.Request) {
	tok := r.PostFormValue(crypto.KEY_SESSION_TOKEN)
	f.mu.Lock()
	f.tokens = append(f.tokens, tok)
	f.mu.Unlock()
	if tok == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	_, _ = fmt.Fprint(w, base64.StdEncoding.EncodeToString(f.key))
}

func (f *fakeHTTP) serveBlueBox(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.PostFormValue(tunnel.SFS_HTTP), tunnel.SEP)
	if len(parts) != 3 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	switch parts[1] {
	case tunnel.CMD_CONNECT:
		f.mu.Lock()
		f.connects++
		f.mu.Unlock()
		_, _ = fmt.Fprint(w, "connect|S1")
	case tunnel.CMD_POLL:
		next := tunnel.BB_NULL
		f.mu.Lock()
		if len(f.queue) > 0 {
			next, f.queue = f.queue[0], f.queue[1:]
		}
		f.mu.Unlock()
		_, _ = fmt.Fprint(w, "poll|"+next)
	case tunnel.CMD_DATA:
		raw, err := tunnel.DecodePayload(parts[2])
		if err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		f.onData(raw)
		_, _ = fmt.Fprint(w, "data|null")
	default:
		_, _ = fmt.Fprint(w, parts[1]+"|null")
	}
}

func (f *fakeHTTP) onData(raw []byte) {
	f.mu.Lock()
	frames, err := f.reasm.Feed(raw)
	f.mu.Unlock()
	if err != nil {
		f.t.Errorf("bluebox frame: %v", err)
		return
	}
	for _, fr := range frames {
		if !fr.Flags.Has(frame.FlagControl) {
			f.frames <- fr
			continue
		}
		body, err := codec.EncodeHandshakeReply(f.reply)
		if err != nil {
			f.t.Errorf("encode reply: %v", err)
			return
		}
		f.mu.Lock()
		f.queue = append(f.queue, tunnel.EncodePayload(frame.Encode(frame.FlagControl, body)))
		f.mu.Unlock()
	}
}

func (f *fakeHTTP) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeHTTP) sessionTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}
