package engine

import (
	"context"
	"time"

	"github.com/linchenxuan/strixlink/event"
	"github.com/linchenxuan/strixlink/metrics"
	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/linchenxuan/strixlink/network/transport"
	"github.com/linchenxuan/strixlink/network/tunnel"
)

// canResumeLocked reports whether a dropped ready session may be resumed.
// A session the server declared invalid is never resumed.
func (c *Client) canResumeLocked(cause error) bool {
	if c.stage != stageReady || c.session == nil || c.closed {
		return false
	}
	if transport.CodeOf(cause) == transport.CodeInvalidSession {
		return false
	}
	return c.session.ReconnectionSeconds() > 0
}

// beginResumeLocked opens the reconnection window for the current session.
func (c *Client) beginResumeLocked(l *link, cause error) []notice {
	name := l.t.Name()
	c.detachLocked(l)
	c.resuming = true
	c.stage = stageConnecting

	window := time.Duration(c.session.ReconnectionSeconds()) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), window)
	c.resumeCtx, c.resumeCancel = ctx, cancel
	c.resumeStop = context.AfterFunc(ctx, func() {
		c.disp.Post(dispatch.Inbound, func(dispatch.Payload) { c.onResumeExpired(ctx) }, dispatch.Payload{})
	})
	go c.resume(ctx)

	c.logger.Info().Str("transport", name).Dur("window", window).Err(cause).Msg("Reconnecting")
	return []notice{{event.ConnectionRetry, ConnectionRetryEvent{Transport: name, Err: cause}}}
}

// retryResumeLocked schedules another attempt after l failed, or gives up
// once the window is over.
func (c *Client) retryResumeLocked(l *link, cause error) []notice {
	c.detachLocked(l)
	c.stage = stageConnecting
	ctx := c.resumeCtx
	if ctx == nil || ctx.Err() != nil {
		return c.giveUpLocked(cause)
	}
	go c.resume(ctx)
	return nil
}

// resume waits for the pacer and starts one attempt on the negotiated transport.
func (c *Client) resume(ctx context.Context) {
	err := c.pacer.Wait(ctx)

	c.mu.Lock()
	if !c.resuming || c.resumeCtx != ctx {
		c.mu.Unlock()
		return
	}
	var ns []notice
	if err != nil {
		ns = c.giveUpLocked(transport.ConnectionError(transport.CodeTimeout, "reconnect", err))
	} else {
		metrics.IncrCounterWithGroup(metrics.NameReconnectAttemptTotal, metrics.GroupStrixLink, 1)
		if openErr := c.openLocked(c.mode == tunnel.Name); openErr != nil {
			ns = c.giveUpLocked(openErr)
		}
	}
	c.mu.Unlock()
	c.flush(ns)
}

// onResumeExpired abandons the attempt in flight when the window closes.
func (c *Client) onResumeExpired(ctx context.Context) {
	c.mu.Lock()
	if !c.resuming || c.resumeCtx != ctx {
		c.mu.Unlock()
		return
	}
	l := c.link
	c.link = nil
	ns := c.giveUpLocked(transport.ConnectionError(transport.CodeTimeout, "reconnect", ctx.Err()))
	c.mu.Unlock()

	if l != nil {
		c.shutdown(l.t)
	}
	c.flush(ns)
}

// giveUpLocked ends a reconnection that ran out of time. The session's
// window is cleared and the next Connect starts over on the socket.
func (c *Client) giveUpLocked(cause error) []notice {
	if c.session != nil {
		c.session.setReconnectionSeconds(0)
	}
	c.mode = ""
	c.resetLocked()
	c.logger.Warn().Err(cause).Msg("Reconnection failed")
	return []notice{{event.ConnectionLost, ConnectionLostEvent{Reason: ReasonUnknown, Err: cause}}}
}

func (c *Client) cancelResumeLocked() {
	if c.resumeStop != nil {
		c.resumeStop()
	}
	if c.resumeCancel != nil {
		c.resumeCancel()
	}
	c.resumeCtx, c.resumeCancel, c.resumeStop = nil, nil, nil
}
