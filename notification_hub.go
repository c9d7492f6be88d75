package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
	"github.com/universal-tool-calling-protocol/go-mcp/src/transports"
)

// ProgressListener receives raw stream lines. OnError is called once per
// stream failure, io.EOF included when the server ends the stream.
type ProgressListener interface {
	OnEvent(line string)
	OnError(err error)
}

// ListenerFuncs adapts functions to ProgressListener.
type ListenerFuncs struct {
	Event func(line string)
	Error func(err error)
}

func (f ListenerFuncs) OnEvent(line string) {
	if f.Event != nil {
		f.Event(line)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

type requestFilter struct {
	requestID string
	next      ProgressListener
}

// FilterByRequestID forwards only events whose response.data.requestId equals
// requestID. With an empty requestID every event passes.
func FilterByRequestID(requestID string, next ProgressListener) ProgressListener {
	if requestID == "" {
		return next
	}
	return requestFilter{requestID: requestID, next: next}
}

func (f requestFilter) OnEvent(line string) {
	ev, err := protocol.ParseStreamEvent(line)
	if err != nil || ev.RequestID() != f.requestID {
		return
	}
	f.next.OnEvent(line)
}

func (f requestFilter) OnError(err error) { f.next.OnError(err) }

type hubState int

const (
	hubUnsubscribed hubState = iota
	hubSubscribing
	hubSubscribed
)

func (s hubState) String() string {
	switch s {
	case hubSubscribing:
		return "subscribing"
	case hubSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

type hubListener struct {
	id uint64
	l  ProgressListener
}

// NotificationHub shares one transport stream among many listeners.
//
// The first registration opens the stream. Registrations made while that
// open is in flight wait for it to settle. Releasing the last listener closes
// the stream before Release returns. Each subscribe cycle has its own
// generation so a reader from a closed cycle never delivers.
type NotificationHub struct {
	open func(ctx context.Context) (transports.StreamResult, error)
	log  *slog.Logger

	mu        sync.Mutex
	state     hubState
	gen       uint64
	nextID    uint64
	listeners []hubListener
	stream    transports.StreamResult
	cancel    context.CancelFunc
	// ready is closed when the current subscribe attempt settles.
	ready chan struct{}
}

// NewNotificationHub builds a hub over open, which is called once per
// subscribe cycle.
func NewNotificationHub(open func(ctx context.Context) (transports.StreamResult, error), logger *slog.Logger) *NotificationHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHub{open: open, log: logger}
}

// Register adds l and subscribes when l is the first listener. When another
// registration is still opening the stream, Register returns once that open
// has settled.
func (h *NotificationHub) Register(l ProgressListener) *Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, hubListener{id: id, l: l})
	var (
		gen   uint64
		ready chan struct{}
	)
	switch h.state {
	case hubUnsubscribed:
		h.gen++
		gen = h.gen
		h.state = hubSubscribing
		h.ready = make(chan struct{})
		ready = h.ready
		h.mu.Unlock()
		h.subscribe(gen, ready)
	case hubSubscribing:
		ready = h.ready
		h.mu.Unlock()
		<-ready
	default:
		h.mu.Unlock()
	}
	return newSubscription(func() { h.remove(id) })
}

func (h *NotificationHub) subscribe(gen uint64, ready chan struct{}) {
	defer close(ready)
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := h.open(ctx)

	h.mu.Lock()
	if h.gen != gen {
		// torn down while the stream was opening
		h.mu.Unlock()
		cancel()
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if err != nil {
		h.state = hubUnsubscribed
		h.gen++
		ls := h.snapshotLocked()
		h.mu.Unlock()
		cancel()
		h.log.Warn("event stream subscribe failed", slog.Any("error", err))
		h.broadcastError(ls, err)
		return
	}
	h.state = hubSubscribed
	h.stream = stream
	h.cancel = cancel
	h.mu.Unlock()

	go h.read(gen, stream)
}

func (h *NotificationHub) read(gen uint64, stream transports.StreamResult) {
	for {
		line, err := stream.Next()
		if err != nil {
			h.fail(gen, err)
			return
		}
		ls, ok := h.snapshot(gen)
		if !ok {
			return
		}
		for _, hl := range ls {
			h.deliver(hl.l, line)
		}
	}
}

func (h *NotificationHub) deliver(l ProgressListener, line string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("progress listener panicked", slog.Any("panic", r))
		}
	}()
	l.OnEvent(line)
}

func (h *NotificationHub) broadcastError(ls []hubListener, err error) {
	for _, hl := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Warn("progress listener panicked", slog.Any("panic", r))
				}
			}()
			hl.l.OnError(err)
		}()
	}
}

func (h *NotificationHub) fail(gen uint64, err error) {
	h.mu.Lock()
	if h.gen != gen {
		h.mu.Unlock()
		return
	}
	stream, cancel := h.resetLocked()
	ls := h.snapshotLocked()
	h.mu.Unlock()

	closeStream(stream, cancel)
	h.broadcastError(ls, err)
}

func (h *NotificationHub) snapshot(gen uint64) ([]hubListener, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return nil, false
	}
	return h.snapshotLocked(), true
}

func (h *NotificationHub) snapshotLocked() []hubListener {
	out := make([]hubListener, len(h.listeners))
	copy(out, h.listeners)
	return out
}

// resetLocked moves the hub to unsubscribed and hands back the live stream
// for the caller to close outside the lock.
func (h *NotificationHub) resetLocked() (transports.StreamResult, context.CancelFunc) {
	stream, cancel := h.stream, h.cancel
	h.stream, h.cancel = nil, nil
	h.state = hubUnsubscribed
	h.gen++
	return stream, cancel
}

func closeStream(stream transports.StreamResult, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

func (h *NotificationHub) remove(id uint64) {
	h.mu.Lock()
	for i, hl := range h.listeners {
		if hl.id == id {
			next := make([]hubListener, 0, len(h.listeners)-1)
			next = append(next, h.listeners[:i]...)
			h.listeners = append(next, h.listeners[i+1:]...)
			break
		}
	}
	if len(h.listeners) > 0 || h.state == hubUnsubscribed {
		h.mu.Unlock()
		return
	}
	stream, cancel := h.resetLocked()
	h.mu.Unlock()
	closeStream(stream, cancel)
}

// Close drops every listener and tears the stream down.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	h.listeners = nil
	stream, cancel := h.resetLocked()
	h.mu.Unlock()
	closeStream(stream, cancel)
}

// Listeners reports the number of registered listeners.
func (h *NotificationHub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *NotificationHub) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.String()
}
