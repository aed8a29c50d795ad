// Package tcp implements the direct socket transport: one client TCP connection,
// optionally wrapped in TLS, served by a reader goroutine and a single writer
// goroutine.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/linchenxuan/strixlink/utils/pool"
	"go.uber.org/ratelimit"
)

// Name is the transport name used in logs and metric dimensions.
const Name = "socket"

// ErrSendQueueFull is returned by Write when the writer goroutine is behind.
var ErrSendQueueFull = errors.New("send queue is full")

// Config holds the socket options.
type Config struct {
	UseTLS         bool   `mapstructure:"useTLS"`         // Perform a TLS handshake after the dial.
	TLSServerName  string `mapstructure:"tlsServerName"`  // Overrides the host for certificate verification.
	TLSInsecure    bool   `mapstructure:"tlsInsecure"`    // Skip certificate verification.
	ForceIPv6      bool   `mapstructure:"forceIPv6"`      // Prefer IPv6 addresses when resolving.
	ReadBufferSize int    `mapstructure:"readBufferSize"` // Size of one read.
	SendQueueSize  int    `mapstructure:"sendQueueSize"`  // Capacity of the writer channel.
	MaxSendRate    int    `mapstructure:"maxSendRate"`    // Frames per second, 0 for unlimited.
}

// GetName returns the configuration section name.
func (c *Config) GetName() string {
	return "socket"
}

// Validate checks the options and fills defaults.
func (c *Config) Validate() error {
	if c.ReadBufferSize < 0 || c.SendQueueSize < 0 || c.MaxSendRate < 0 {
		return errors.New("socket sizes and rates must not be negative")
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 8192
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 256
	}
	return nil
}

// Dialer opens the raw connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customizes a Socket.
type Option func(*Socket)

// WithDialer replaces the default *net.Dialer.
func WithDialer(d Dialer) Option {
	return func(s *Socket) { s.dialer = d }
}

// session is the state of one established connection.
type session struct {
	conn      net.Conn
	sendCh    chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Socket is a transport.Transport over TCP.
type Socket struct {
	cfg      Config
	fsm      *transport.FSM
	notify   *transport.Notifier
	dialer   Dialer
	limiter  ratelimit.Limiter
	bufPool  *pool.Pool[*[]byte]
	disposed atomic.Bool

	mu            sync.Mutex
	sess          *session
	attemptCancel context.CancelFunc
}

var _ transport.Transport = (*Socket)(nil)

// New creates a disconnected socket that reports to h through poster.
func New(cfg Config, poster dispatch.Poster, h transport.Handler, opts ...Option) (*Socket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid socket config: %w", err)
	}
	s := &Socket{
		cfg:     cfg,
		fsm:     transport.NewFSM(Name),
		notify:  transport.NewNotifier(Name, poster, h),
		dialer:  &net.Dialer{},
		limiter: transport.NewSendLimiter(cfg.MaxSendRate),
		bufPool: pool.NewBufferPool("socket_read", cfg.ReadBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns "socket".
func (s *Socket) Name() string {
	return Name
}

// State returns the connection state.
func (s *Socket) State() transport.State {
	return s.fsm.State()
}

// IsDisposed reports whether Dispose was called.
func (s *Socket) IsDisposed() bool {
	return s.disposed.Load()
}

// Connect dials host:port in the background. The attempt is abandoned with a
// timeout ConnectionError when timeout elapses first.
func (s *Socket) Connect(host string, port int, timeout time.Duration) error {
	if s.IsDisposed() {
		return transport.ValidationError("connect", "socket is disposed")
	}
	if _, err := s.fsm.Fire(transport.TriggerConnect); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.mu.Lock()
	s.attemptCancel = cancel
	s.mu.Unlock()

	go s.dial(ctx, cancel, host, port)
	return nil
}

func (s *Socket) dial(ctx context.Context, cancel context.CancelFunc, host string, port int) {
	defer cancel()
	start := time.Now()

	conn, err := s.open(ctx, host, port)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Disconnect was requested while connecting.
			s.notify.Disconnect(nil)
			return
		}
		code := transport.Classify(err)
		metrics.IncrCounterWithDimGroup(metrics.NameConnectFailTotal, metrics.GroupStrixLink, 1, metrics.Dimension{
			metrics.DimTransport: Name,
			metrics.DimReason:    code,
		})
		log.Warn().Str("host", host).Int("port", port).Str("reason", code).Err(err).Msg("Socket connect failed")
		_, _ = s.fsm.Fire(transport.TriggerConnectFailed)
		s.notify.Connect(transport.ConnectionError(code, "connect", err))
		return
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, s.cfg.SendQueueSize),
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	s.mu.Lock()
	if _, err := s.fsm.Fire(transport.TriggerConnected); err != nil {
		s.mu.Unlock()
		sessCancel()
		_ = conn.Close()
		s.notify.Disconnect(nil)
		return
	}
	s.sess = sess
	s.attemptCancel = nil
	s.mu.Unlock()

	metrics.RecordStopwatchWithDimGroup(metrics.NameConnectLatency, metrics.GroupStrixLink, start,
		metrics.Dimension{metrics.DimTransport: Name})
	log.Info().Str("local", conn.LocalAddr().String()).Str("remote", conn.RemoteAddr().String()).
		Bool("tls", s.cfg.UseTLS).Msg("Socket connected")

	s.notify.Connect(nil)
	go s.serveSend(sess)
	go s.serveRecv(sess)
}

// open resolves, dials and, when configured, performs the TLS handshake.
func (s *Socket) open(ctx context.Context, host string, port int) (net.Conn, error) {
	addr, err := resolve(ctx, host, port, s.cfg.ForceIPv6)
	if err != nil {
		return nil, err
	}
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !s.cfg.UseTLS {
		return conn, nil
	}

	serverName := s.cfg.TLSServerName
	if serverName == "" {
		serverName = host
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: s.cfg.TLSInsecure, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

// resolve picks an address for host, preferring IPv6 when forced and IPv4 otherwise.
func resolve(ctx context.Context, host string, port int, forceIPv6 bool) (string, error) {
	p := strconv.Itoa(port)
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(host, p), nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	for _, a := range addrs {
		if isV6 := a.IP.To4() == nil; isV6 == forceIPv6 {
			return net.JoinHostPort(a.IP.String(), p), nil
		}
	}
	return net.JoinHostPort(addrs[0].IP.String(), p), nil
}

// Write queues data for the writer goroutine.
func (s *Socket) Write(data []byte) error {
	if s.IsDisposed() {
		return transport.ValidationError("write", "socket is disposed")
	}
	if st := s.fsm.State(); st != transport.Connected {
		log.Warn().Stringer("state", st).Msg("Socket write while not connected")
		return transport.ValidationError("write", "socket is %s", st)
	}

	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return transport.ValidationError("write", "socket has no connection")
	}

	select {
	case sess.sendCh <- data:
		return nil
	case <-sess.ctx.Done():
		return transport.IOError(transport.CodeClosed, "write", net.ErrClosed)
	default:
		log.Warn().Int("queued", len(sess.sendCh)).Msg("Socket send queue is full")
		return transport.IOError(transport.CodeIO, "write", ErrSendQueueFull)
	}
}

// Disconnect closes the connection, or abandons a pending connect.
func (s *Socket) Disconnect() error {
	if s.IsDisposed() {
		return transport.ValidationError("disconnect", "socket is disposed")
	}
	s.mu.Lock()
	prev, err := s.fsm.Fire(transport.TriggerDisconnect)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sess, cancel := s.sess, s.attemptCancel
	s.sess, s.attemptCancel = nil, nil
	s.mu.Unlock()

	if prev == transport.Connecting {
		if cancel != nil {
			cancel()
		}
		return nil
	}
	if sess != nil {
		s.teardown(sess, nil)
	}
	return nil
}

// Dispose refuses further callbacks, waits for running ones and closes the connection.
func (s *Socket) Dispose(ctx context.Context) error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.notify.Close(ctx)

	s.mu.Lock()
	sess, cancel := s.sess, s.attemptCancel
	s.sess, s.attemptCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		s.teardown(sess, nil)
	}
	s.fsm.Reset()
	return err
}

// teardown closes sess once and reports cause. A nil cause is a requested disconnect.
func (s *Socket) teardown(sess *session, cause error) {
	sess.closeOnce.Do(func() {
		sess.cancel()
		_ = sess.conn.Close()
		if cause != nil {
			// Loses only against a concurrent Disconnect, which already left Connected.
			_, _ = s.fsm.Fire(transport.TriggerIOError)
			s.mu.Lock()
			if s.sess == sess {
				s.sess = nil
			}
			s.mu.Unlock()
		}
		s.notify.Disconnect(cause)
	})
}

func (s *Socket) serveRecv(sess *session) {
	for {
		bp := s.bufPool.Get()
		n, err := sess.conn.Read(*bp)
		if n > 0 {
			data := make([]byte, n)
			copy(data, (*bp)[:n])
			s.notify.Data(data)
		}
		s.bufPool.Put(bp)

		if err != nil {
			if sess.ctx.Err() == nil {
				log.Info().Err(err).Msg("Socket read failed")
				s.teardown(sess, transport.IOError(transport.Classify(err), "read", err))
			}
			return
		}
	}
}

// serveSend is the only goroutine writing to the connection.
func (s *Socket) serveSend(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case data := <-sess.sendCh:
			s.limiter.Take()
			n, err := writeFull(sess.conn, data)
			if err != nil {
				s.notify.Written(n, transport.IOError(transport.Classify(err), "write", err))
				if sess.ctx.Err() == nil {
					log.Info().Err(err).Int("written", n).Int("size", len(data)).Msg("Socket write failed")
					s.teardown(sess, transport.IOError(transport.Classify(err), "write", err))
				}
				return
			}
			s.notify.Written(n, nil)
		}
	}
}

// writeFull re-issues writes for the remainder until data is sent or an error occurs.
func writeFull(w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
