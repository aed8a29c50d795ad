package engine

import (
	"github.com/linchenxuan/strixlink/event"
	"github.com/linchenxuan/strixlink/network/transport"
)

// Disconnection reasons carried by ConnectionLostEvent.
const (
	ReasonManual  = "manual"
	ReasonIdle    = "idle"
	ReasonKick    = "kick"
	ReasonBan     = "ban"
	ReasonUnknown = "unknown"
)

// ConnectionEvent is the outcome of Connect.
type ConnectionEvent struct {
	Success   bool
	Transport string
	Err       error
	// ErrorCode and ErrorParams are set when the server refused the handshake.
	ErrorCode   int
	ErrorParams []string
}

// ConnectionLostEvent reports the end of a session.
type ConnectionLostEvent struct {
	Reason string
	Err    error
}

// ConnectionRetryEvent reports the start of a reconnection.
type ConnectionRetryEvent struct {
	Transport string
	Err       error
}

// ConnectionResumeEvent reports a session re-established within the reconnection window.
type ConnectionResumeEvent struct {
	Transport string
}

// ConnectionAttemptHTTPEvent reports the fallback to BlueBox.
type ConnectionAttemptHTTPEvent struct {
	Host string
	Port int
	Err  error
}

// CryptoInitEvent is the outcome of the key exchange.
type CryptoInitEvent struct {
	Success bool
	Err     error
}

// DataEvent carries one inbound application frame, already decrypted.
type DataEvent struct {
	Frame []byte
}

// ErrorEvent carries a classified error that did not end the session.
type ErrorEvent struct {
	Err  error
	Kind transport.Kind
}

func subscribe[T any](c *Client, topic string, fn func(T)) {
	if err := c.pub.RegisterSubscriber(topic, func(param any) {
		if v, ok := param.(T); ok {
			fn(v)
		}
	}); err != nil {
		c.logger.Error().Str("topic", topic).Err(err).Msg("Subscribe failed")
	}
}

// OnConnection registers fn for Connect outcomes.
func (c *Client) OnConnection(fn func(ConnectionEvent)) { subscribe(c, event.Connection, fn) }

// OnConnectionLost registers fn for session terminations.
func (c *Client) OnConnectionLost(fn func(ConnectionLostEvent)) {
	subscribe(c, event.ConnectionLost, fn)
}

// OnConnectionRetry registers fn for reconnection starts.
func (c *Client) OnConnectionRetry(fn func(ConnectionRetryEvent)) {
	subscribe(c, event.ConnectionRetry, fn)
}

// OnConnectionResume registers fn for successful reconnections.
func (c *Client) OnConnectionResume(fn func(ConnectionResumeEvent)) {
	subscribe(c, event.ConnectionResume, fn)
}

// OnConnectionAttemptHTTP registers fn for BlueBox fallbacks.
func (c *Client) OnConnectionAttemptHTTP(fn func(ConnectionAttemptHTTPEvent)) {
	subscribe(c, event.ConnectionAttemptHTTP, fn)
}

// OnCryptoInit registers fn for key exchange outcomes.
func (c *Client) OnCryptoInit(fn func(CryptoInitEvent)) { subscribe(c, event.CryptoInit, fn) }

// OnData registers fn for inbound frames.
func (c *Client) OnData(fn func(DataEvent)) { subscribe(c, event.Data, fn) }

// OnError registers fn for non-fatal errors.
func (c *Client) OnError(fn func(ErrorEvent)) { subscribe(c, event.Error, fn) }
