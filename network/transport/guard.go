package transport

import (
	"context"
	"sync"
)

// Guard counts in-flight callbacks of one transport so that disposal can wait
// for them to finish before releasing resources.
type Guard struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
	closed bool
}

// NewGuard returns an open guard.
func NewGuard() *Guard {
	g := &Guard{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Enter registers one in-flight callback. It returns false once Close was
// called, in which case the callback must be skipped and Exit not called.
func (g *Guard) Enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active++
	return true
}

// Exit ends a callback started with a successful Enter.
func (g *Guard) Exit() {
	g.mu.Lock()
	g.active--
	if g.active <= 0 {
		g.active = 0
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Closed reports whether Close was called.
func (g *Guard) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Close refuses new callbacks and waits for the running ones, bounded by ctx.
// It must not be called from inside a guarded callback.
func (g *Guard) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.mu.Lock()
		for g.active > 0 {
			g.cond.Wait()
		}
		g.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
