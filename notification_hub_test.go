package mcp

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

type fakeStream struct {
	lines  chan string
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		lines:  make(chan string),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Next() (string, error) {
	select {
	case l := <-s.lines:
		return l, nil
	case err := <-s.fail:
		return "", err
	case <-s.closed:
		return "", io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) push(t *testing.T, line string) {
	t.Helper()
	select {
	case s.lines <- line:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream reader did not take %q", line)
	}
}

type streamOpener struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (o *streamOpener) open(context.Context) (transports.StreamResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := newFakeStream()
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *streamOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

func (o *streamOpener) last() *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams[len(o.streams)-1]
}

type recordingListener struct {
	events chan string
	errs   chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan string, 16), errs: make(chan error, 4)}
}

func (l *recordingListener) OnEvent(line string) { l.events <- line }
func (l *recordingListener) OnError(err error)   { l.errs <- err }

func (l *recordingListener) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-l.events:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no event, want %q", want)
	}
}

func TestHubReleaseOfOneListenerKeepsOthers(t *testing.T) {
	op := &streamOpener{}
	hub := NewNotificationHub(op.open, nil)

	a, b := newRecordingListener(), newRecordingListener()
	subA := hub.Register(a)
	subB := hub.Register(b)
	require.Equal(t, 1, op.count())
	assert.Equal(t, "subscribed", hub.State())

	stream := op.last()
	stream.push(t, "e1")
	a.expect(t, "e1")
	b.expect(t, "e1")

	subA.Release()
	subA.Release()
	assert.False(t, stream.isClosed())

	stream.push(t, "e2")
	b.expect(t, "e2")
	assert.Len(t, a.events, 0)

	subB.Release()
	assert.True(t, stream.isClosed(), "releasing the last listener closes the stream")
	assert.Equal(t, "unsubscribed", hub.State())
	assert.Equal(t, 0, hub.Listeners())

	c := newRecordingListener()
	subC := hub.Register(c)
	defer subC.Release()
	assert.Equal(t, 2, op.count())
}

func TestHubListenerPanicDoesNotStopDelivery(t *testing.T) {
	op := &streamOpener{}
	hub := NewNotificationHub(op.open, nil)

	sub1 := hub.Register(ListenerFuncs{Event: func(string) { panic("boom") }})
	defer sub1.Release()
	ok := newRecordingListener()
	sub2 := hub.Register(ok)
	defer sub2.Release()

	op.last().push(t, "e1")
	ok.expect(t, "e1")
	op.last().push(t, "e2")
	ok.expect(t, "e2")
}

func TestHubReleaseFromInsideCallback(t *testing.T) {
	op := &streamOpener{}
	hub := NewNotificationHub(op.open, nil)

	var (
		sub   *Subscription
		calls atomic.Int32
		ready = make(chan struct{})
		seen  = make(chan struct{})
	)
	sub = hub.Register(ListenerFuncs{Event: func(string) {
		<-ready
		calls.Add(1)
		sub.Release()
		close(seen)
	}})
	close(ready)

	stream := op.last()
	stream.push(t, "e1")
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}
	assert.True(t, stream.isClosed())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "unsubscribed", hub.State())
}

func TestHubBroadcastsStreamErrors(t *testing.T) {
	op := &streamOpener{}
	hub := NewNotificationHub(op.open, nil)

	a, b := newRecordingListener(), newRecordingListener()
	defer hub.Register(a).Release()
	defer hub.Register(b).Release()

	boom := errors.New("read failed")
	op.last().fail <- boom

	for _, l := range []*recordingListener{a, b} {
		select {
		case err := <-l.errs:
			assert.ErrorIs(t, err, boom)
		case <-time.After(2 * time.Second):
			t.Fatal("error not broadcast")
		}
	}
	assert.Equal(t, "unsubscribed", hub.State())
	assert.True(t, op.last().isClosed())

	// no reconnect until someone registers again
	assert.Equal(t, 1, op.count())
	defer hub.Register(newRecordingListener()).Release()
	assert.Equal(t, 2, op.count())
}

func TestHubOpenFailureReachesListener(t *testing.T) {
	op := &streamOpener{err: errors.New("dial refused")}
	hub := NewNotificationHub(op.open, nil)

	l := newRecordingListener()
	sub := hub.Register(l)
	defer sub.Release()

	select {
	case err := <-l.errs:
		assert.EqualError(t, err, "dial refused")
	default:
		t.Fatal("open failure should be reported synchronously")
	}
	assert.Equal(t, "unsubscribed", hub.State())
}

func TestHubRegisterWaitsForPendingSubscribe(t *testing.T) {
	opening, release := make(chan struct{}), make(chan struct{})
	var opens atomic.Int32
	stream := newFakeStream()
	hub := NewNotificationHub(func(context.Context) (transports.StreamResult, error) {
		opens.Add(1)
		close(opening)
		<-release
		return stream, nil
	}, nil)

	a, b := newRecordingListener(), newRecordingListener()
	subs := make(chan *Subscription, 2)
	go func() { subs <- hub.Register(a) }()
	select {
	case <-opening:
	case <-time.After(2 * time.Second):
		t.Fatal("stream open not started")
	}
	assert.Equal(t, "subscribing", hub.State())

	go func() { subs <- hub.Register(b) }()
	select {
	case <-subs:
		t.Fatal("Register returned before the pending open settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case sub := <-subs:
			defer sub.Release()
		case <-time.After(2 * time.Second):
			t.Fatal("Register did not return after the open settled")
		}
	}
	assert.Equal(t, "subscribed", hub.State())
	assert.Equal(t, int32(1), opens.Load())

	stream.push(t, "e1")
	a.expect(t, "e1")
	b.expect(t, "e1")
}

func TestFilterByRequestID(t *testing.T) {
	l := newRecordingListener()
	f := FilterByRequestID("r-1", l)

	f.OnEvent(`{"event":"progress","response":{"status":"success","data":{"requestId":"r-2"}}}`)
	f.OnEvent(`not json`)
	f.OnEvent(`{"event":"heartbeat","response":{"status":"success"}}`)
	match := `{"event":"progress","response":{"status":"success","data":{"requestId":"r-1"}}}`
	f.OnEvent(match)

	require.Len(t, l.events, 1)
	assert.Equal(t, match, <-l.events)

	all := FilterByRequestID("", l)
	all.OnEvent("anything")
	assert.Equal(t, "anything", <-l.events)
}
