// Package eventbus is an in-process, synchronous publish/subscribe bus keyed
// by topic name.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener receives events on the publishing goroutine.
type Listener func(Event)

type entry struct {
	id uint64
	fn Listener
}

// Bus delivers every published event to the listeners registered on its
// topic, in registration order. There is no queueing.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
	nextID atomic.Uint64
	log    *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{topics: make(map[string][]entry), log: logger}
}

// Subscription is a release handle. Release may be called any number of
// times from any goroutine, including from inside a listener.
type Subscription struct {
	once    sync.Once
	release func()
}

func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Register adds fn to topic.
func (b *Bus) Register(topic string, fn Listener) *Subscription {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], entry{id: id, fn: fn})
	b.mu.Unlock()
	return &Subscription{release: func() { b.remove(topic, id) }}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.topics[topic]
	for i, e := range list {
		if e.id == id {
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.topics, topic)
			} else {
				b.topics[topic] = next
			}
			return
		}
	}
}

// Publish delivers ev to the listeners of ev.Name registered at the time of
// the call. A panicking listener is logged and skipped.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	list := b.topics[ev.Name]
	b.mu.RUnlock()
	for _, e := range list {
		b.deliver(e.fn, ev)
	}
}

func (b *Bus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked", slog.String("topic", ev.Name), slog.Any("panic", r))
		}
	}()
	fn(ev)
}

// Listeners reports how many listeners are registered on topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
