// Package tunnel implements BlueBox, the HTTP polling transport used when a
// direct socket cannot be opened. Outbound frames are POSTed one request each;
// inbound frames are collected by a poll loop.
package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/linchenxuan/strixlink/utils/pool"
)

// Name is the transport name used in logs and metric dimensions.
const Name = "bluebox"

// Poll interval bounds in milliseconds.
const (
	MIN_POLL_SPEED     = 50
	MAX_POLL_SPEED     = 5000
	DEFAULT_POLL_SPEED = 300
)

const _maxResponse = 16 << 20

// ErrInvalidSession is the cause reported when the server answers err01.
var ErrInvalidSession = errors.New("invalid http session")

// Config holds the BlueBox options.
type Config struct {
	Enabled          bool `mapstructure:"enabled"`          // Fall back to BlueBox when the socket fails.
	Force            bool `mapstructure:"force"`            // Skip the socket and connect over BlueBox.
	PollingRateMs    int  `mapstructure:"pollingRateMs"`    // Delay between polls.
	RequestTimeoutMs int  `mapstructure:"requestTimeoutMs"` // Timeout of one HTTP request.
	UseHTTPS         bool `mapstructure:"useHTTPS"`         // Tunnel over https.
	SendQueueSize    int  `mapstructure:"sendQueueSize"`    // Capacity of the data request queue.
}

// GetName returns the configuration section name.
func (c *Config) GetName() string {
	return "bluebox"
}

// Validate fills defaults. Out of range polling rates fall back to the default.
func (c *Config) Validate() error {
	if c.RequestTimeoutMs < 0 || c.SendQueueSize < 0 {
		return errors.New("bluebox timeouts and sizes must not be negative")
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = 10000
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 256
	}
	c.PollingRateMs = ClampPollSpeed(c.PollingRateMs)
	return nil
}

// ClampPollSpeed returns ms when it lies in [MIN_POLL_SPEED, MAX_POLL_SPEED]
// and DEFAULT_POLL_SPEED otherwise. Zero selects the default silently.
func ClampPollSpeed(ms int) int {
	if ms >= MIN_POLL_SPEED && ms <= MAX_POLL_SPEED {
		return ms
	}
	if ms != 0 {
		log.Warn().Int("requested", ms).Int("min", MIN_POLL_SPEED).Int("max", MAX_POLL_SPEED).
			Int("using", DEFAULT_POLL_SPEED).Msg("BlueBox polling rate out of range")
	}
	return DEFAULT_POLL_SPEED
}

// Option customizes a Tunnel.
type Option func(*Tunnel)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tunnel) { t.client = c }
}

// WithDebug logs every request and response body.
func WithDebug(debug bool) Option {
	return func(t *Tunnel) { t.debug = debug }
}

// session is one BlueBox session. id is empty until the connect reply.
type session struct {
	id        string
	url       string
	ctx       context.Context
	cancel    context.CancelFunc
	sendCh    chan []byte
	closeOnce sync.Once
}

// Tunnel is a transport.Transport over HTTP polling.
type Tunnel struct {
	cfg       Config
	client    *http.Client
	fsm       *transport.FSM
	notify    *transport.Notifier
	debug     bool
	pollSpeed atomic.Int64
	bodyPool  *pool.Pool[*bytes.Buffer]
	disposed  atomic.Bool

	mu   sync.Mutex
	sess *session
}

var _ transport.Transport = (*Tunnel)(nil)

// New creates a disconnected tunnel that reports to h through poster.
func New(cfg Config, poster dispatch.Poster, h transport.Handler, opts ...Option) (*Tunnel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bluebox config: %w", err)
	}
	t := &Tunnel{
		cfg:    cfg,
		fsm:    transport.NewFSM(Name),
		notify: transport.NewNotifier(Name, poster, h),
		bodyPool: pool.NewPool("bluebox_body", func() *bytes.Buffer {
			return &bytes.Buffer{}
		}),
	}
	t.pollSpeed.Store(int64(cfg.PollingRateMs))
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond}
	}
	return t, nil
}

// Name returns "bluebox".
func (t *Tunnel) Name() string {
	return Name
}

// State returns the connection state.
func (t *Tunnel) State() transport.State {
	return t.fsm.State()
}

// IsDisposed reports whether Dispose was called.
func (t *Tunnel) IsDisposed() bool {
	return t.disposed.Load()
}

// PollSpeed returns the current poll interval.
func (t *Tunnel) PollSpeed() time.Duration {
	return time.Duration(t.pollSpeed.Load()) * time.Millisecond
}

// SetPollSpeed changes the poll interval, clamping it like Config.PollingRateMs.
func (t *Tunnel) SetPollSpeed(ms int) {
	t.pollSpeed.Store(int64(ClampPollSpeed(ms)))
}

// SessionID returns the BlueBox session id, empty when not connected.
func (t *Tunnel) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return ""
	}
	return t.sess.id
}

// Connect opens a BlueBox session on host:port. timeout bounds the connect request.
func (t *Tunnel) Connect(host string, port int, timeout time.Duration) error {
	if t.IsDisposed() {
		return transport.ValidationError("connect", "bluebox is disposed")
	}
	if _, err := t.fsm.Fire(transport.TriggerConnect); err != nil {
		return err
	}

	scheme := "http"
	if t.cfg.UseHTTPS {
		scheme = "https"
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		url:    fmt.Sprintf("%s://%s/%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), BB_SERVLET),
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, t.cfg.SendQueueSize),
	}
	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	if t.debug {
		log.Debug().Str("url", sess.url).Msg("[ BB-Connect ]")
	}
	go t.connect(sess, timeout)
	return nil
}

func (t *Tunnel) connect(sess *session, timeout time.Duration) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(sess.ctx, timeout)
	body, err := t.request(ctx, sess, CMD_CONNECT, nil)
	cancel()

	var sessID string
	if err == nil {
		cmd, data, ok := ParseResponse(body)
		if !ok || cmd != CMD_CONNECT || data == "" || data == BB_NULL {
			err = transport.HandshakeError(transport.CodeMalformed, "connect", fmt.Errorf("unexpected reply %q", body))
		}
		sessID = data
	}
	if err != nil {
		if sess.ctx.Err() != nil {
			// Disconnect or Dispose abandoned the attempt.
			t.notify.Disconnect(nil)
			return
		}
		t.dropSession(sess)
		code := transport.CodeOf(err)
		if code == "" {
			code = transport.Classify(err)
		}
		metrics.IncrCounterWithDimGroup(metrics.NameConnectFailTotal, metrics.GroupStrixLink, 1, metrics.Dimension{
			metrics.DimTransport: Name,
			metrics.DimReason:    code,
		})
		log.Warn().Str("url", sess.url).Str("reason", code).Err(err).Msg("BlueBox connect failed")
		_, _ = t.fsm.Fire(transport.TriggerConnectFailed)
		if transport.KindOf(err) == transport.KindUnknown {
			err = transport.ConnectionError(code, "connect", err)
		}
		t.notify.Connect(err)
		return
	}

	t.mu.Lock()
	if _, ferr := t.fsm.Fire(transport.TriggerConnected); ferr != nil {
		t.mu.Unlock()
		sess.cancel()
		t.notify.Disconnect(nil)
		return
	}
	sess.id = sessID
	t.mu.Unlock()

	metrics.RecordStopwatchWithDimGroup(metrics.NameConnectLatency, metrics.GroupStrixLink, start,
		metrics.Dimension{metrics.DimTransport: Name})
	log.Info().Str("url", sess.url).Str("session", sess.id).Dur("pollSpeed", t.PollSpeed()).Msg("BlueBox connected")

	t.notify.Connect(nil)
	go t.serveSend(sess)
	go t.pollLoop(sess)
}

// pollLoop polls immediately, then again after each interval while connected.
func (t *Tunnel) pollLoop(sess *session) {
	for {
		body, err := t.request(sess.ctx, sess, CMD_POLL, nil)
		if err != nil {
			if sess.ctx.Err() == nil {
				t.teardown(sess, transport.IOError(transport.Classify(err), "poll", err))
			}
			return
		}
		if !t.handle(sess, body) {
			return
		}

		timer := time.NewTimer(t.PollSpeed())
		select {
		case <-sess.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serveSend issues data requests one at a time so frames arrive in order.
func (t *Tunnel) serveSend(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case data := <-sess.sendCh:
			body, err := t.request(sess.ctx, sess, CMD_DATA, data)
			if err != nil {
				if sess.ctx.Err() != nil {
					return
				}
				ioErr := transport.IOError(transport.Classify(err), "data", err)
				t.notify.Written(0, ioErr)
				t.teardown(sess, ioErr)
				return
			}
			t.notify.Written(len(data), nil)
			if !t.handle(sess, body) {
				return
			}
		}
	}
}

// handle processes a poll or data reply. It returns false when the session ended.
func (t *Tunnel) handle(sess *session, body string) bool {
	cmd, data, ok := ParseResponse(body)
	if !ok {
		return true
	}
	switch cmd {
	case CMD_POLL:
		if data == BB_NULL {
			return true
		}
		b, err := DecodePayload(data)
		if err != nil {
			t.teardown(sess, transport.IOError(transport.CodeMalformed, "poll", err))
			return false
		}
		t.notify.Data(b)
	case ERR_INVALID_SESSION:
		log.Warn().Str("session", sess.id).Msg("BlueBox session is no longer valid")
		t.teardown(sess, transport.HandshakeError(transport.CodeInvalidSession, "poll", ErrInvalidSession))
		return false
	}
	return true
}

// request POSTs one command and returns the response body.
func (t *Tunnel) request(ctx context.Context, sess *session, cmd string, payload []byte) (string, error) {
	metrics.IncrCounterWithDimGroup(metrics.NameTunnelRequestTotal, metrics.GroupStrixLink, 1,
		metrics.Dimension{metrics.DimCmd: cmd})

	encoded := EncodeRequest(sess.id, cmd, payload)
	if t.debug {
		log.Debug().Str("body", encoded).Msg("[ BB-Send ]")
	}

	buf := t.bodyPool.Get()
	buf.Reset()
	buf.WriteString(SFS_HTTP)
	buf.WriteByte('=')
	buf.WriteString(URLEncode(encoded))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.bodyPool.Put(buf)
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	t.bodyPool.Put(buf)
	if err != nil {
		metrics.IncrCounterWithGroup(metrics.NameTunnelErrorTotal, metrics.GroupStrixLink, 1)
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponse))
	if err != nil {
		metrics.IncrCounterWithGroup(metrics.NameTunnelErrorTotal, metrics.GroupStrixLink, 1)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncrCounterWithGroup(metrics.NameTunnelErrorTotal, metrics.GroupStrixLink, 1)
		return "", fmt.Errorf("bluebox %s: unexpected status %s", cmd, resp.Status)
	}

	body := strings.TrimSpace(string(raw))
	if t.debug {
		log.Debug().Str("body", body).Msg("[ BB-Receive ]")
	}
	return body, nil
}

// Write queues data for the next data request.
func (t *Tunnel) Write(data []byte) error {
	if t.IsDisposed() {
		return transport.ValidationError("write", "bluebox is disposed")
	}
	if st := t.fsm.State(); st != transport.Connected {
		log.Warn().Stringer("state", st).Msg("BlueBox write while not connected")
		return transport.ValidationError("write", "bluebox is %s", st)
	}
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return transport.ValidationError("write", "bluebox has no session")
	}

	select {
	case sess.sendCh <- data:
		return nil
	case <-sess.ctx.Done():
		return transport.IOError(transport.CodeClosed, "write", net.ErrClosed)
	default:
		return transport.IOError(transport.CodeIO, "write", errors.New("bluebox send queue is full"))
	}
}

// Disconnect ends the session, telling the server on a best effort basis.
func (t *Tunnel) Disconnect() error {
	if t.IsDisposed() {
		return transport.ValidationError("disconnect", "bluebox is disposed")
	}
	t.mu.Lock()
	prev, err := t.fsm.Fire(transport.TriggerDisconnect)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()

	if sess == nil {
		return nil
	}
	if prev == transport.Connecting {
		sess.cancel()
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(t.cfg.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
		if _, err := t.request(ctx, sess, CMD_DISCONNECT, nil); err != nil {
			log.Debug().Err(err).Msg("BlueBox disconnect request failed")
		}
	}()
	t.teardown(sess, nil)
	return nil
}

// Dispose refuses further callbacks, waits for running ones and stops the session.
func (t *Tunnel) Dispose(ctx context.Context) error {
	if !t.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.notify.Close(ctx)

	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()
	if sess != nil {
		t.teardown(sess, nil)
	}
	t.fsm.Reset()
	return err
}

// teardown ends sess once and reports cause. A nil cause is a requested disconnect.
func (t *Tunnel) teardown(sess *session, cause error) {
	sess.closeOnce.Do(func() {
		sess.cancel()
		if cause != nil {
			metrics.IncrCounterWithGroup(metrics.NameTunnelErrorTotal, metrics.GroupStrixLink, 1)
			log.Info().Str("session", sess.id).Err(cause).Msg("BlueBox session lost")
			_, _ = t.fsm.Fire(transport.TriggerIOError)
			t.dropSession(sess)
		}
		t.notify.Disconnect(cause)
	})
}

func (t *Tunnel) dropSession(sess *session) {
	t.mu.Lock()
	if t.sess == sess {
		t.sess = nil
	}
	t.mu.Unlock()
}
