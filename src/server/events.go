package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 64

// Broker fans stream events out to connected subscribers. Delivery is best
// effort and never blocks the publisher.
type Broker struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{log: logger, subs: make(map[*subscriber]struct{})}
}

// Publish encodes ev and offers it to every subscriber.
func (b *Broker) Publish(ev protocol.StreamEventEnvelope) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("failed to encode stream event", slog.String("event", ev.Event), slog.String("err", err.Error()))
		return
	}
	line := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- line:
		case <-sub.ctx.Done():
		default:
			b.log.Warn("dropping stream event for slow subscriber", slog.String("event", ev.Event))
		}
	}
}

// Subscribe returns a channel of encoded events. It closes when ctx ends or
// cancel is called.
func (b *Broker) Subscribe(ctx context.Context) (<-chan string, context.CancelFunc) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{ch: make(chan string, subscriberBuffer), ctx: subCtx, cancel: cancel}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-subCtx.Done():
				return
			case line := <-sub.ch:
				select {
				case out <- line:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return out, cancel
}

// Subscribers reports the number of connected subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
