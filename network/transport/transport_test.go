package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/linchenxuan/strixlink/network/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSMTransitions(t *testing.T) {
	states := []State{Disconnected, Connecting, Connected}
	triggers := []Trigger{TriggerConnect, TriggerConnected, TriggerConnectFailed, TriggerDisconnect, TriggerIOError}

	for _, from := range states {
		for _, on := range triggers {
			t.Run(fmt.Sprintf("%s_%s", from, on), func(t *testing.T) {
				f := NewFSM("test")
				f.state = from

				want, legal := _transitions[transition{from, on}]
				prev, err := f.Fire(on)
				assert.Equal(t, from, prev)
				if legal {
					require.NoError(t, err)
					assert.Equal(t, want, f.State())
					return
				}
				require.Error(t, err)
				assert.Equal(t, KindValidation, KindOf(err))
				assert.Equal(t, CodeState, CodeOf(err))
				assert.Equal(t, from, f.State())
			})
		}
	}
}

func TestFSMLifecycle(t *testing.T) {
	f := NewFSM("test")
	_, err := f.Fire(TriggerConnect)
	require.NoError(t, err)
	_, err = f.Fire(TriggerConnect)
	require.Error(t, err, "connect while connecting")
	_, err = f.Fire(TriggerConnected)
	require.NoError(t, err)
	_, err = f.Fire(TriggerIOError)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, f.State())

	f.state = Connected
	f.Reset()
	assert.Equal(t, Disconnected, f.State())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, CodeRefused},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), CodeReset},
		{context.DeadlineExceeded, CodeTimeout},
		{os.ErrDeadlineExceeded, CodeTimeout},
		{&net.OpError{Op: "read", Err: timeoutErr{}}, CodeTimeout},
		{net.ErrClosed, CodeClosed},
		{io.EOF, CodeClosed},
		{errors.New("weird"), CodeIO},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, Classify(c.err), "%v", c.err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("dial failed")
	err := fmt.Errorf("connect: %w", ConnectionError(CodeRefused, "dial", cause))

	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, CodeRefused, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &Error{Kind: KindConnection})
	assert.ErrorIs(t, err, &Error{Kind: KindConnection, Code: CodeRefused})
	assert.NotErrorIs(t, err, &Error{Kind: KindConnection, Code: CodeTimeout})
	assert.NotErrorIs(t, err, &Error{Kind: KindIO})
	assert.Equal(t, "ConnectionError dial [refused]: dial failed", errors.Unwrap(err).Error())

	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Equal(t, KindCodec, KindOf(CodecError(CodeBadKey, "init", nil)))
	assert.Equal(t, KindHandshake, KindOf(HandshakeError(CodeMalformed, "crypto", nil)))
	assert.Equal(t, KindIO, KindOf(IOError(CodeReset, "read", nil)))
	v := ValidationError("send", "frame of %d bytes", 10)
	assert.Equal(t, "ValidationError send [misuse]: frame of 10 bytes", v.Error())
}

func TestGuardWaitsForInFlight(t *testing.T) {
	g := NewGuard()
	require.True(t, g.Enter())

	closed := make(chan error, 1)
	go func() { closed <- g.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, g.Closed())
	assert.False(t, g.Enter())

	g.Exit()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return after Exit")
	}
}

func TestGuardCloseHonoursContext(t *testing.T) {
	g := NewGuard()
	require.True(t, g.Enter())
	defer g.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Close(ctx), context.DeadlineExceeded)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) add(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *recordingHandler) OnConnect(err error)      { h.add(fmt.Sprintf("connect:%v", err)) }
func (h *recordingHandler) OnData(data []byte)       { h.add("data:" + string(data)) }
func (h *recordingHandler) OnWrite(n int, err error) { h.add(fmt.Sprintf("write:%d:%v", n, err)) }
func (h *recordingHandler) OnDisconnect(err error)   { h.add(fmt.Sprintf("disconnect:%v", err)) }

func TestNotifierDeliversUntilClosed(t *testing.T) {
	d, err := dispatch.New(dispatch.Config{ThreadSafe: false})
	require.NoError(t, err)
	defer d.Close()

	h := &recordingHandler{}
	n := NewNotifier("test", d, h)
	n.Connect(nil)
	n.Data([]byte("abc"))
	n.Written(3, nil)
	n.Disconnect(io.EOF)

	require.NoError(t, n.Close(context.Background()))
	assert.True(t, n.Closed())
	n.Data([]byte("late"))

	assert.Equal(t, []string{"connect:<nil>", "data:abc", "write:3:<nil>", "disconnect:EOF"}, h.events)
}

func TestNotifierDropsQueuedAfterClose(t *testing.T) {
	d, err := dispatch.New(dispatch.Config{IntervalMs: 60_000, ThreadSafe: true})
	require.NoError(t, err)
	defer d.Close()

	h := &recordingHandler{}
	n := NewNotifier("test", d, h)
	n.Data([]byte("queued"))
	require.NoError(t, n.Close(context.Background()))
	assert.Equal(t, 1, d.Depth(dispatch.Inbound))
	assert.Empty(t, h.events)
}

func TestSendLimiter(t *testing.T) {
	unlimited := NewSendLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		unlimited.Take()
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	paced := NewSendLimiter(100)
	paced.Take()
	start = time.Now()
	paced.Take()
	paced.Take()
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
