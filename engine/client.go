// Package engine is the connection orchestrator. A Client owns the active
// transport and the logical Session: it connects over the socket, falls back
// to BlueBox, runs the handshake and the optional key exchange, resumes
// dropped sessions inside the reconnection window and publishes every
// lifecycle change as an event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/linchenxuan/strixlink/event"
	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/network/codec"
	"github.com/linchenxuan/strixlink/network/crypto"
	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/frame"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/linchenxuan/strixlink/network/transport/tcp"
	"github.com/linchenxuan/strixlink/network/tunnel"
)

const (
	_disposeTimeout    = 5 * time.Second
	_subscriberTimeout = 100 * time.Millisecond
)

type stage int

const (
	stageIdle stage = iota
	stageConnecting
	stageHandshaking
	stageCrypto
	stageReady
)

func (s stage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageConnecting:
		return "connecting"
	case stageHandshaking:
		return "handshaking"
	case stageCrypto:
		return "crypto"
	case stageReady:
		return "ready"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the client used by BlueBox and the key exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// notice is an event computed under the lock and published after it.
type notice struct {
	topic string
	value any
}

// Client is the connection engine.
type Client struct {
	id         string
	cfg        Config
	logger     log.Logger
	pub        *event.Publisher
	disp       *dispatch.Dispatcher
	httpClient *http.Client
	exchanger  *crypto.KeyExchanger
	pacer      *rate.Limiter
	ctx        context.Context // cancelled by Close
	cancel     context.CancelFunc

	mu             sync.Mutex
	closed         bool
	stage          stage
	link           *link
	mode           string // negotiated transport reused by Connect, cleared when it fails
	host           string
	port           int
	socketTries    int
	session        *Session
	resuming       bool
	resumeCtx      context.Context
	resumeCancel   context.CancelFunc
	resumeStop     func() bool
	handshakeStart time.Time
	handshakeTimer *time.Timer
	cryptoBusy     bool
	cryptoCancel   context.CancelFunc

	workers sync.WaitGroup // transport disposals and key exchanges
}

// New validates cfg and creates an idle client.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	disp, err := dispatch.New(cfg.Dispatch)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ctx:    ctx,
		cancel: cancel,
		id:     id,
		cfg:    *cfg,
		logger: log.Default().With("client", id),
		pub:    event.NewPublisher(_subscriberTimeout, event.EngineTopics...),
		disp:   disp,
		pacer:  rate.NewLimiter(rate.Limit(cfg.Reconnect.RatePerSecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.exchanger = crypto.NewKeyExchanger(c.httpClient, time.Duration(cfg.Crypto.TimeoutMs)*time.Millisecond)

	c.logger.Info().Bool("threadSafe", cfg.ThreadSafe).Bool("bluebox", cfg.BlueBox.Enabled).
		Bool("crypto", cfg.Crypto.Enabled).Msg("Engine created")
	return c, nil
}

// ID returns the client instance id used to correlate logs.
func (c *Client) ID() string {
	return c.id
}

// Config returns a copy of the validated configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Session returns the current session, nil before the handshake.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// ConnectDefault connects to the configured host and port.
func (c *Client) ConnectDefault() error {
	return c.Connect(c.cfg.Host, c.cfg.Port)
}

// Connect starts connecting to host:port. The outcome is published on the
// connection topic.
func (c *Client) Connect(host string, port int) error {
	if host == "" {
		return transport.ValidationError("connect", "host cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return transport.ValidationError("connect", "invalid port %d", port)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ValidationError("connect", "client is closed")
	}
	if c.stage != stageIdle {
		return transport.ValidationError("connect", "client is %s", c.stage)
	}

	c.host, c.port = host, port
	c.socketTries = 0
	c.session = nil
	c.resuming = false

	useTunnel := c.cfg.BlueBox.Force || c.mode == tunnel.Name
	if err := c.openLocked(useTunnel); err != nil {
		c.stage = stageIdle
		return err
	}
	c.logger.Info().Str("host", host).Int("port", port).Bool("bluebox", useTunnel).Msg("Connecting")
	return nil
}

// openLocked creates a transport bound to a fresh link and starts it.
func (c *Client) openLocked(useTunnel bool) error {
	l := &link{c: c, reasm: frame.NewReassembler(c.cfg.MaxFrameSize)}

	var (
		t       transport.Transport
		port    int
		timeout time.Duration
		err     error
	)
	if useTunnel {
		port = c.cfg.HTTPPort
		if c.cfg.BlueBox.UseHTTPS {
			port = c.cfg.HTTPSPort
		}
		timeout = time.Duration(c.cfg.BlueBox.RequestTimeoutMs) * time.Millisecond
		t, err = tunnel.New(c.cfg.BlueBox, c.disp, l,
			tunnel.WithHTTPClient(c.httpClient), tunnel.WithDebug(c.cfg.Debug))
	} else {
		port = c.port
		timeout = time.Duration(c.cfg.Socket.ConnectTimeoutMs) * time.Millisecond
		t, err = tcp.New(c.cfg.Socket.Config, c.disp, l)
	}
	if err != nil {
		return err
	}
	l.t = t

	if err := t.Connect(c.host, port, timeout); err != nil {
		c.dispose(t)
		return err
	}
	c.link = l
	c.stage = stageConnecting
	metrics.IncrCounterWithDimGroup(metrics.NameConnectAttemptTotal, metrics.GroupStrixLink, 1,
		metrics.Dimension{metrics.DimTransport: t.Name()})
	return nil
}

// Disconnect ends the session on request. The reconnection window is
// cleared, so the session is not resumed.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.stage == stageIdle {
		c.mu.Unlock()
		return transport.ValidationError("disconnect", "client is not connected")
	}
	if c.session != nil {
		c.session.setReconnectionSeconds(0)
	}
	l := c.link
	c.link = nil
	c.resetLocked()
	c.mu.Unlock()

	if l != nil {
		c.shutdown(l.t)
	}
	c.logger.Info().Msg("Disconnected on request")
	c.flush([]notice{{event.ConnectionLost, ConnectionLostEvent{Reason: ReasonManual}}})
	return nil
}

// Send frames data and writes it on the active transport. Data is encrypted
// once the session key is installed.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.stage != stageReady || c.link == nil {
		st := c.stage
		c.mu.Unlock()
		return transport.ValidationError("send", "client is %s", st)
	}
	sess, t := c.session, c.link.t
	c.mu.Unlock()

	if ms := sess.MaxMessageSize(); ms > 0 && len(data) > ms {
		metrics.IncrCounterWithGroup(metrics.NameSendRejectedTotal, metrics.GroupStrixLink, 1)
		return transport.ValidationError("send", "frame of %d bytes exceeds max message size %d", len(data), ms)
	}

	var flags frame.Flags
	body := data
	if cd := sess.Codec(); cd != nil {
		body = cd.Encrypt(data)
		flags |= frame.FlagEncrypted
	}
	wire := frame.Encode(flags, body)
	if err := t.Write(wire); err != nil {
		return err
	}

	metrics.IncrCounterWithGroup(metrics.NameFramesSentTotal, metrics.GroupStrixLink, 1)
	metrics.IncrCounterWithGroup(metrics.NameBytesSentTotal, metrics.GroupStrixLink, metrics.Value(len(wire)))
	if c.cfg.Debug {
		c.logger.Debug().Int("size", len(data)).Int("wire", len(wire)).Bool("encrypted", flags.Has(frame.FlagEncrypted)).
			Msg("Frame sent")
	}
	return nil
}

// InitCrypto runs the key exchange for a ready session and blocks until the
// key is installed. The outcome is also published on the cryptoInit topic.
func (c *Client) InitCrypto(ctx context.Context) error {
	c.mu.Lock()
	if c.stage != stageReady || c.session == nil {
		st := c.stage
		c.mu.Unlock()
		return transport.ValidationError("crypto", "client is %s", st)
	}
	if c.cryptoBusy || c.session.Codec() != nil {
		c.mu.Unlock()
		return transport.ValidationError("crypto", "session key already initialized")
	}
	c.cryptoBusy = true
	sess, host := c.session, c.host
	c.mu.Unlock()

	err := c.exchangeKey(ctx, sess, host)

	c.mu.Lock()
	c.cryptoBusy = false
	c.mu.Unlock()

	c.flush([]notice{{event.CryptoInit, CryptoInitEvent{Success: err == nil, Err: err}}})
	return err
}

func (c *Client) exchangeKey(ctx context.Context, sess *Session, host string) error {
	port := c.cfg.HTTPPort
	if c.cfg.Crypto.UseHTTPS {
		port = c.cfg.HTTPSPort
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.Crypto.TimeoutMs)*time.Millisecond)
	defer cancel()

	key, err := c.exchanger.Exchange(ctx, crypto.Endpoint(c.cfg.Crypto.UseHTTPS, host, port), sess.Token())
	if err != nil {
		c.logger.Warn().Err(err).Msg("Key exchange failed")
		return err
	}
	if err := sess.installKey(key); err != nil {
		return err
	}
	c.logger.Info().Msg("Session key installed")
	return nil
}

// Close ends any session, waits for transports to be released and for a
// running key exchange to return, then stops the dispatch workers. Pending
// events are discarded. Close must not be called from an event subscriber.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ValidationError("close", "client is already closed")
	}
	c.closed = true
	if c.session != nil {
		c.session.setReconnectionSeconds(0)
	}
	l := c.link
	c.link = nil
	c.resetLocked()
	c.cancel()
	c.mu.Unlock()

	if l != nil {
		c.shutdown(l.t)
	}
	c.workers.Wait()
	err := c.disp.Close()
	c.logger.Info().Msg("Engine closed")
	return err
}

// onConnect handles the outcome of a transport connect.
func (c *Client) onConnect(l *link, err error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	var ns []notice
	if err == nil {
		ns = c.startHandshakeLocked(l)
	} else {
		ns = c.connectFailedLocked(l, err)
	}
	c.mu.Unlock()
	c.flush(ns)
}

func (c *Client) startHandshakeLocked(l *link) []notice {
	c.mode = l.t.Name()
	c.stage = stageHandshaking

	req := codec.HandshakeRequest{APIVersion: c.cfg.APIVersion, ClientType: c.cfg.ClientType}
	if c.resuming && c.session != nil {
		req.ReconnectToken = c.session.Token()
	}
	body, err := codec.EncodeHandshakeRequest(req)
	if err == nil {
		err = l.t.Write(frame.Encode(frame.FlagControl, body))
	}
	if err != nil {
		err = transport.HandshakeError(transport.CodeIO, "handshake", err)
		if c.resuming {
			return c.retryResumeLocked(l, err)
		}
		return c.endLocked(l, err, ReasonUnknown)
	}

	c.handshakeStart = time.Now()
	timeout := time.Duration(c.cfg.HandshakeTimeoutMs) * time.Millisecond
	c.handshakeTimer = time.AfterFunc(timeout, func() {
		c.disp.Post(dispatch.Inbound, func(dispatch.Payload) { c.onHandshakeTimeout(l) }, dispatch.Payload{})
	})
	c.logger.Info().Str("transport", c.mode).Bool("resume", req.ReconnectToken != "").Msg("Transport connected, handshaking")
	return nil
}

func (c *Client) connectFailedLocked(l *link, err error) []notice {
	name := l.t.Name()
	c.detachLocked(l)
	c.logger.Warn().Str("transport", name).Err(err).Msg("Connect failed")

	if c.resuming {
		return c.retryResumeLocked(nil, err)
	}
	c.releaseTunnelLocked(name)

	if name == tcp.Name {
		c.socketTries++
		switch {
		case c.socketTries < c.cfg.Socket.Attempts:
			openErr := c.openLocked(false)
			if openErr == nil {
				return nil
			}
			err = openErr
		case c.cfg.BlueBox.Enabled:
			port := c.cfg.HTTPPort
			if c.cfg.BlueBox.UseHTTPS {
				port = c.cfg.HTTPSPort
			}
			openErr := c.openLocked(true)
			if openErr == nil {
				c.logger.Info().Str("host", c.host).Int("port", port).Msg("Falling back to BlueBox")
				return []notice{{event.ConnectionAttemptHTTP, ConnectionAttemptHTTPEvent{Host: c.host, Port: port, Err: err}}}
			}
			err = openErr
		}
	}

	c.resetLocked()
	return []notice{{event.Connection, ConnectionEvent{Transport: name, Err: err}}}
}

func (c *Client) onHandshakeTimeout(l *link) {
	c.mu.Lock()
	if c.link != l || c.stage != stageHandshaking {
		c.mu.Unlock()
		return
	}
	err := transport.HandshakeError(transport.CodeTimeout, "handshake",
		fmt.Errorf("no reply within %dms", c.cfg.HandshakeTimeoutMs))
	var ns []notice
	if c.resuming {
		ns = c.retryResumeLocked(l, err)
	} else {
		ns = c.endLocked(l, err, ReasonUnknown)
	}
	c.mu.Unlock()
	c.flush(ns)
}

func (c *Client) onHandshake(l *link, rep codec.HandshakeReply) {
	c.mu.Lock()
	if c.link != l || c.stage != stageHandshaking {
		c.mu.Unlock()
		return
	}
	c.stopHandshakeTimerLocked()
	metrics.RecordStopwatchWithGroup(metrics.NameHandshakeLatency, metrics.GroupStrixLink, c.handshakeStart)
	name := l.t.Name()

	if rep.Failed {
		err := transport.HandshakeError(transport.CodeServerError, "handshake",
			fmt.Errorf("server refused the handshake with code %d", rep.ErrorCode))
		resuming := c.resuming
		c.detachLocked(l)
		c.resetLocked()
		c.mu.Unlock()
		c.logger.Warn().Int("code", rep.ErrorCode).Strs("params", rep.ErrorParams).Msg("Handshake refused")
		if resuming {
			c.flush([]notice{{event.ConnectionLost, ConnectionLostEvent{Reason: ReasonUnknown, Err: err}}})
			return
		}
		c.flush([]notice{{event.Connection, ConnectionEvent{
			Transport: name, Err: err, ErrorCode: rep.ErrorCode, ErrorParams: rep.ErrorParams,
		}}})
		return
	}

	if rep.Token == "" {
		err := transport.HandshakeError(transport.CodeMalformed, "handshake", errors.New("reply carries no session token"))
		ns := c.endLocked(l, err, ReasonUnknown)
		c.mu.Unlock()
		c.logger.Warn().Str("transport", name).Msg("Handshake reply without token")
		c.flush(ns)
		return
	}

	if c.resuming && c.session != nil {
		if c.resumeCtx == nil || c.resumeCtx.Err() != nil {
			c.detachLocked(l)
			ns := c.giveUpLocked(transport.ConnectionError(transport.CodeTimeout, "reconnect",
				errors.New("reconnection window closed before the handshake reply")))
			c.mu.Unlock()
			c.flush(ns)
			return
		}
		c.resuming = false
		c.cancelResumeLocked()
		c.stage = stageReady
		c.mu.Unlock()
		c.logger.Info().Str("transport", name).Msg("Session resumed")
		c.flush([]notice{{event.ConnectionResume, ConnectionResumeEvent{Transport: name}}})
		return
	}

	sess := newSession(rep, c.cfg.ReconnectionSeconds)
	c.session = sess
	if c.cfg.Crypto.Enabled {
		c.stage = stageCrypto
		host := c.host
		ctx, cancel := context.WithCancel(c.ctx)
		c.cryptoCancel = cancel
		c.workers.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.workers.Done()
			c.autoCrypto(ctx, l, sess, host)
		}()
		return
	}
	c.stage = stageReady
	c.mu.Unlock()

	c.logger.Info().Str("transport", name).Int("maxMessageSize", rep.MaxMessageSize).Msg("Session established")
	c.flush([]notice{{event.Connection, ConnectionEvent{Success: true, Transport: name}}})
}

// autoCrypto runs the key exchange that completes Connect when crypto is enabled.
// Disconnect and Close cancel ctx.
func (c *Client) autoCrypto(ctx context.Context, l *link, sess *Session, host string) {
	err := c.exchangeKey(ctx, sess, host)

	c.mu.Lock()
	if c.link != l || c.stage != stageCrypto || c.session != sess {
		c.mu.Unlock()
		return
	}
	c.stopCryptoLocked()
	name := l.t.Name()
	if err != nil {
		c.detachLocked(l)
		c.resetLocked()
		c.mu.Unlock()
		c.flush([]notice{
			{event.CryptoInit, CryptoInitEvent{Err: err}},
			{event.Connection, ConnectionEvent{Transport: name, Err: err}},
		})
		return
	}
	c.stage = stageReady
	c.mu.Unlock()

	c.logger.Info().Str("transport", name).Msg("Session established")
	c.flush([]notice{
		{event.CryptoInit, CryptoInitEvent{Success: true}},
		{event.Connection, ConnectionEvent{Success: true, Transport: name}},
	})
}

// onData feeds transport bytes into the link's reassembler.
func (c *Client) onData(l *link, data []byte) {
	if !c.current(l) {
		return
	}
	metrics.IncrCounterWithGroup(metrics.NameBytesRecvTotal, metrics.GroupStrixLink, metrics.Value(len(data)))

	l.mu.Lock()
	frames, err := l.reasm.Feed(data)
	l.mu.Unlock()

	for _, f := range frames {
		if f.Flags.Has(frame.FlagControl) {
			c.onControl(l, f.Body)
		} else {
			c.onFrame(l, f)
		}
	}
	if err != nil {
		metrics.IncrCounterWithGroup(metrics.NameCodecErrorTotal, metrics.GroupStrixLink, 1)
		c.dropLink(l, transport.CodecError(transport.CodeCorrupt, "frame", err))
	}
}

func (c *Client) onControl(l *link, body []byte) {
	ctl, err := codec.ParseControl(body)
	if err != nil {
		metrics.IncrCounterWithGroup(metrics.NameCodecErrorTotal, metrics.GroupStrixLink, 1)
		c.flush([]notice{{event.Error, ErrorEvent{Err: transport.CodecError(transport.CodeMalformed, "control", err), Kind: transport.KindCodec}}})
		return
	}
	switch ctl.Cmd {
	case codec.CmdHandshake:
		c.onHandshake(l, ctl.HandshakeReply())
	case codec.CmdDisconnect:
		c.onServerDisconnect(l, ctl.DisconnectReason())
	default:
		c.logger.Warn().Str("cmd", ctl.Cmd).Msg("Unknown control command")
	}
}

func (c *Client) onFrame(l *link, f frame.Frame) {
	c.mu.Lock()
	if c.link != l || c.stage != stageReady {
		st := c.stage
		c.mu.Unlock()
		c.logger.Debug().Stringer("stage", st).Int("size", len(f.Body)).Msg("Frame dropped")
		return
	}
	sess := c.session
	c.mu.Unlock()

	metrics.IncrCounterWithGroup(metrics.NameFramesRecvTotal, metrics.GroupStrixLink, 1)
	body := f.Body
	if f.Flags.Has(frame.FlagEncrypted) {
		cd := sess.Codec()
		if cd == nil {
			c.codecFailure(transport.CodecError(transport.CodeBadKey, "decrypt",
				errors.New("encrypted frame before the key exchange")))
			return
		}
		plain, err := cd.Decrypt(body)
		if err != nil {
			c.codecFailure(err)
			return
		}
		body = plain
	}
	if c.cfg.Debug {
		c.logger.Debug().Int("size", len(body)).Msg("Frame received")
	}
	c.flush([]notice{{event.Data, DataEvent{Frame: body}}})
}

func (c *Client) codecFailure(err error) {
	metrics.IncrCounterWithGroup(metrics.NameCodecErrorTotal, metrics.GroupStrixLink, 1)
	c.logger.Warn().Err(err).Msg("Frame rejected")
	c.flush([]notice{{event.Error, ErrorEvent{Err: err, Kind: transport.KindCodec}}})
}

// onServerDisconnect ends the session for good with the server's reason.
func (c *Client) onServerDisconnect(l *link, reason string) {
	if reason == "" {
		reason = ReasonUnknown
	}
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	if c.session != nil {
		c.session.setReconnectionSeconds(0)
	}
	ns := c.endLocked(l, transport.ConnectionError(transport.CodeClosed, "server",
		fmt.Errorf("disconnected by server: %s", reason)), reason)
	c.mu.Unlock()
	c.logger.Info().Str("reason", reason).Msg("Disconnected by server")
	c.flush(ns)
}

func (c *Client) onWrite(l *link, n int, err error) {
	if err == nil || !c.current(l) {
		return
	}
	c.logger.Warn().Int("written", n).Err(err).Msg("Write failed")
	c.flush([]notice{{event.Error, ErrorEvent{Err: err, Kind: transport.KindOf(err)}}})
}

// onDisconnect handles a transport that went down without being asked to.
func (c *Client) onDisconnect(l *link, err error) {
	if err == nil {
		err = transport.IOError(transport.CodeClosed, "disconnect", io.EOF)
	}
	c.dropLink(l, err)
}

// dropLink resumes the session when allowed and ends it otherwise.
func (c *Client) dropLink(l *link, cause error) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	var ns []notice
	switch {
	case c.resuming:
		ns = c.retryResumeLocked(l, cause)
	case c.canResumeLocked(cause):
		ns = c.beginResumeLocked(l, cause)
	default:
		ns = c.endLocked(l, cause, ReasonUnknown)
	}
	c.mu.Unlock()
	c.logger.Warn().Err(cause).Msg("Connection dropped")
	c.flush(ns)
}

// endLocked detaches l and resets the client. An established session is
// reported as lost, an unfinished Connect as failed.
func (c *Client) endLocked(l *link, cause error, reason string) []notice {
	name := l.t.Name()
	established := c.stage == stageReady || c.resuming
	c.detachLocked(l)
	c.resetLocked()
	if !established {
		c.releaseTunnelLocked(name)
	}
	if established {
		return []notice{{event.ConnectionLost, ConnectionLostEvent{Reason: reason, Err: cause}}}
	}
	return []notice{{event.Connection, ConnectionEvent{Transport: name, Err: cause}}}
}

func (c *Client) resetLocked() {
	c.stage = stageIdle
	c.session = nil
	c.resuming = false
	c.socketTries = 0
	c.cancelResumeLocked()
	c.stopHandshakeTimerLocked()
	c.stopCryptoLocked()
}

func (c *Client) stopCryptoLocked() {
	if c.cryptoCancel != nil {
		c.cryptoCancel()
		c.cryptoCancel = nil
	}
}

// releaseTunnelLocked drops the BlueBox preference after the tunnel failed
// to establish a session, so the next Connect tries the socket again.
func (c *Client) releaseTunnelLocked(name string) {
	if name == tunnel.Name && c.mode == tunnel.Name {
		c.mode = ""
	}
}

func (c *Client) stopHandshakeTimerLocked() {
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
}

// detachLocked forgets l and releases its transport in the background.
func (c *Client) detachLocked(l *link) {
	if l == nil {
		return
	}
	if c.link == l {
		c.link = nil
	}
	c.stopHandshakeTimerLocked()
	c.dispose(l.t)
}

// shutdown disconnects t and releases it. It must run without c.mu held,
// since a direct dispatcher calls back into the client.
func (c *Client) shutdown(t transport.Transport) {
	if err := t.Disconnect(); err != nil {
		c.logger.Debug().Str("transport", t.Name()).Err(err).Msg("Disconnect skipped")
	}
	c.dispose(t)
}

func (c *Client) dispose(t transport.Transport) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		ctx, cancel := context.WithTimeout(context.Background(), _disposeTimeout)
		defer cancel()
		if err := t.Dispose(ctx); err != nil {
			c.logger.Warn().Str("transport", t.Name()).Err(err).Msg("Dispose incomplete")
		}
	}()
}

func (c *Client) current(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link == l
}

// flush publishes ns on the inbound worker, or inline in direct mode.
func (c *Client) flush(ns []notice) {
	for _, n := range ns {
		topic, value := n.topic, n.value
		if !c.disp.Post(dispatch.Inbound, func(dispatch.Payload) {
			if err := c.pub.Publish(topic, value); err != nil {
				c.logger.Error().Str("topic", topic).Err(err).Msg("Publish failed")
			}
		}, dispatch.Payload{}) {
			c.logger.Debug().Str("topic", topic).Msg("Event dropped")
		}
	}
}

// link binds one transport to the client. Callbacks of a link that is no
// longer current are ignored.
type link struct {
	c     *Client
	t     transport.Transport
	mu    sync.Mutex
	reasm *frame.Reassembler
}

var _ transport.Handler = (*link)(nil)

func (l *link) OnConnect(err error)      { l.c.onConnect(l, err) }
func (l *link) OnData(data []byte)       { l.c.onData(l, data) }
func (l *link) OnWrite(n int, err error) { l.c.onWrite(l, n, err) }
func (l *link) OnDisconnect(err error)   { l.c.onDisconnect(l, err) }
