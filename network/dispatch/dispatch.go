// Package dispatch moves I/O completions off network goroutines. Transports post
// callbacks to one of two FIFO queues and a dedicated worker per queue runs them
// in enqueue order, so application code only ever observes engine events from
// those workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/linchenxuan/strixlink/log"
	"github.com/linchenxuan/strixlink/metrics"
	"golang.org/x/sync/errgroup"
)

// QueueID selects one of the two dispatch queues.
type QueueID int

const (
	// Inbound carries connect, data and disconnect callbacks.
	Inbound QueueID = iota
	// Outbound carries write-completion callbacks.
	Outbound
	_queueCount
)

func (q QueueID) String() string {
	switch q {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("queue(%d)", int(q))
	}
}

// Payload is what a callback receives: bytes read, a write count, or an error.
type Payload struct {
	Data    []byte
	Written int
	Err     error
}

// Callback consumes one Payload on a worker.
type Callback func(Payload)

// PendingCallback is one queued unit of work.
type PendingCallback struct {
	Fn         Callback
	Payload    Payload
	enqueuedAt time.Time
}

// Poster accepts callbacks for later execution.
type Poster interface {
	Post(q QueueID, fn Callback, p Payload) bool
}

// ErrClosed is returned by Close when the dispatcher was already closed.
var ErrClosed = errors.New("dispatcher closed")

// Config controls the dispatcher.
type Config struct {
	IntervalMs int  `mapstructure:"intervalMs"` // Worker sleep between drains.
	ThreadSafe bool `mapstructure:"threadSafe"` // false runs callbacks on the posting goroutine.
}

// GetName returns the configuration section name.
func (c *Config) GetName() string {
	return "dispatch"
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.IntervalMs < 0 {
		return fmt.Errorf("intervalMs must not be negative, got %d", c.IntervalMs)
	}
	if c.IntervalMs == 0 {
		c.IntervalMs = 5
	}
	return nil
}

// Dispatcher owns the two queues and their workers.
type Dispatcher struct {
	cfg      Config
	interval time.Duration

	mu     sync.Mutex
	queues [_queueCount]*queue.Queue

	closed atomic.Bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ Poster = (*Dispatcher)(nil)

// New creates a dispatcher and starts its workers when cfg.ThreadSafe is set.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch config: %w", err)
	}
	d := &Dispatcher{
		cfg:      cfg,
		interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
	}
	for i := range d.queues {
		d.queues[i] = queue.New()
	}
	if !cfg.ThreadSafe {
		return d, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.group, ctx = errgroup.WithContext(ctx)
	for q := QueueID(0); q < _queueCount; q++ {
		q := q
		d.group.Go(func() error { return d.work(ctx, q) })
	}
	return d, nil
}

// ThreadSafe reports whether callbacks run on workers.
func (d *Dispatcher) ThreadSafe() bool {
	return d.cfg.ThreadSafe
}

// Post enqueues fn with p on queue q. In direct mode fn runs before Post
// returns. It returns false once the dispatcher is closed.
func (d *Dispatcher) Post(q QueueID, fn Callback, p Payload) bool {
	if fn == nil || q < 0 || q >= _queueCount {
		return false
	}
	if d.closed.Load() {
		return false
	}
	cb := &PendingCallback{Fn: fn, Payload: p, enqueuedAt: time.Now()}
	if !d.cfg.ThreadSafe {
		d.invoke(q, cb)
		return true
	}

	d.mu.Lock()
	d.queues[q].Add(cb)
	d.mu.Unlock()
	return true
}

// Depth returns the number of callbacks waiting on q.
func (d *Dispatcher) Depth(q QueueID) int {
	if q < 0 || q >= _queueCount {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queues[q].Length()
}

// Close stops both workers, waits for them and discards whatever is still queued.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if d.cancel != nil {
		d.cancel()
		if err := d.group.Wait(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for q := range d.queues {
		if n := d.queues[q].Length(); n > 0 {
			log.Debug().Stringer("queue", QueueID(q)).Int("discarded", n).Msg("Dispatcher closed with pending callbacks")
		}
		d.queues[q] = queue.New()
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context, q QueueID) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		batch := d.drain(q)
		if len(batch) == 0 {
			continue
		}
		metrics.UpdateMaxGaugeWithDimGroup(metrics.NameDispatchQueueDepthMax, metrics.GroupStrixLink,
			metrics.Value(len(batch)), metrics.Dimension{metrics.DimQueue: q.String()})

		for _, cb := range batch {
			if ctx.Err() != nil {
				return nil
			}
			d.invoke(q, cb)
		}
	}
}

func (d *Dispatcher) drain(q QueueID) []*PendingCallback {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.queues[q].Length()
	if n == 0 {
		return nil
	}
	batch := make([]*PendingCallback, 0, n)
	for d.queues[q].Length() > 0 {
		batch = append(batch, d.queues[q].Remove().(*PendingCallback))
	}
	return batch
}

// invoke runs cb, recovering panics so that a faulty subscriber cannot stop the worker.
func (d *Dispatcher) invoke(q QueueID, cb *PendingCallback) {
	dim := metrics.Dimension{metrics.DimQueue: q.String()}
	defer func() {
		if r := recover(); r != nil {
			metrics.IncrCounterWithDimGroup(metrics.NameDispatchPanicTotal, metrics.GroupStrixLink, 1, dim)
			log.Error().Stringer("queue", q).Any("panic", r).Str("stack", string(debug.Stack())).
				Msg("Dispatch callback panicked")
		}
	}()

	delay := time.Since(cb.enqueuedAt)
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameDispatchDelayAvgMS, metrics.GroupStrixLink,
		metrics.Value(float64(delay.Microseconds())/1000), dim)
	cb.Fn(cb.Payload)
}
