// Package transport defines the channel abstraction the engine drives: the
// Transport and Handler contracts, the connection state machine, the error
// taxonomy and the plumbing that posts I/O completions to the dispatch queues.
package transport

import (
	"context"
	"time"

	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/network/dispatch"
)

// Handler receives transport events. Implementations are only ever called
// from dispatch workers (or inline in direct mode), never from I/O goroutines.
type Handler interface {
	// OnConnect reports the outcome of Connect. err is nil on success.
	OnConnect(err error)
	// OnData delivers bytes read from the channel.
	OnData(data []byte)
	// OnWrite reports the completion of exactly one Write call.
	OnWrite(n int, err error)
	// OnDisconnect reports that the channel went down. err is nil for a
	// requested disconnect.
	OnDisconnect(err error)
}

// Transport is one duplex channel to the server.
type Transport interface {
	// Name identifies the channel kind, "socket" or "bluebox".
	Name() string
	// Connect starts an asynchronous connect. The outcome arrives as OnConnect.
	Connect(host string, port int, timeout time.Duration) error
	// Write queues data. Completion arrives as one OnWrite.
	Write(data []byte) error
	// Disconnect closes the channel. OnDisconnect follows.
	Disconnect() error
	State() State
	IsDisposed() bool
	// Dispose refuses further callbacks, waits for running ones within ctx and
	// releases resources. It must not be called from a Handler method.
	Dispose(ctx context.Context) error
}

// Notifier posts Handler callbacks of one transport to the dispatch queues.
// Every callback runs inside the transport's Guard, so once Close returns no
// callback of that transport is executing or will execute.
type Notifier struct {
	name    string
	poster  dispatch.Poster
	handler Handler
	guard   *Guard
}

// NewNotifier binds handler to poster for the transport called name.
func NewNotifier(name string, poster dispatch.Poster, handler Handler) *Notifier {
	return &Notifier{
		name:    name,
		poster:  poster,
		handler: handler,
		guard:   NewGuard(),
	}
}

// Connect posts OnConnect.
func (n *Notifier) Connect(err error) {
	n.post(dispatch.Inbound, func(p dispatch.Payload) { n.handler.OnConnect(p.Err) }, dispatch.Payload{Err: err})
}

// Data posts OnData. data must not be reused by the caller.
func (n *Notifier) Data(data []byte) {
	n.post(dispatch.Inbound, func(p dispatch.Payload) { n.handler.OnData(p.Data) }, dispatch.Payload{Data: data})
}

// Written posts OnWrite on the outbound queue.
func (n *Notifier) Written(cnt int, err error) {
	n.post(dispatch.Outbound, func(p dispatch.Payload) { n.handler.OnWrite(p.Written, p.Err) },
		dispatch.Payload{Written: cnt, Err: err})
}

// Disconnect posts OnDisconnect.
func (n *Notifier) Disconnect(err error) {
	n.post(dispatch.Inbound, func(p dispatch.Payload) { n.handler.OnDisconnect(p.Err) }, dispatch.Payload{Err: err})
}

// Closed reports whether Close has begun.
func (n *Notifier) Closed() bool {
	return n.guard.Closed()
}

// Close stops callback delivery and waits for in-flight callbacks.
func (n *Notifier) Close(ctx context.Context) error {
	return n.guard.Close(ctx)
}

func (n *Notifier) post(q dispatch.QueueID, fn dispatch.Callback, p dispatch.Payload) {
	if n.guard.Closed() {
		return
	}
	ok := n.poster.Post(q, func(p dispatch.Payload) {
		if !n.guard.Enter() {
			return
		}
		defer n.guard.Exit()
		fn(p)
	}, p)
	if !ok {
		log.Debug().Str("transport", n.name).Stringer("queue", q).Msg("Dispatcher closed, callback dropped")
	}
}
