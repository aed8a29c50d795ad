package engine

import (
	"github.com/linchenxuan/strixlink/network/dispatch"
)

// Stats is a point-in-time view of the engine.
type Stats struct {
	ClientID            string
	Stage               string
	Transport           string // active transport, empty when none
	TransportState      string
	Mode                string // negotiated transport, empty until a handshake or after it failed
	Resuming            bool
	HasToken            bool
	CryptoReady         bool
	ReconnectionSeconds int
	ThreadSafe          bool
	InboundDepth        int
	OutboundDepth       int
}

// Stats returns a snapshot of the engine state.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		ClientID:   c.id,
		Stage:      c.stage.String(),
		Mode:       c.mode,
		Resuming:   c.resuming,
		ThreadSafe: c.disp.ThreadSafe(),
	}
	if c.link != nil {
		st.Transport = c.link.t.Name()
		st.TransportState = c.link.t.State().String()
	}
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		st.HasToken = sess.Token() != ""
		st.CryptoReady = sess.Codec() != nil
		st.ReconnectionSeconds = sess.ReconnectionSeconds()
	}
	st.InboundDepth = c.disp.Depth(dispatch.Inbound)
	st.OutboundDepth = c.disp.Depth(dispatch.Outbound)
	return st
}
