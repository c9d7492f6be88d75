package transports

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrReadTimeout is returned by Next when no event arrives within the
// configured read timeout.
var ErrReadTimeout = errors.New("stream read timeout")

// StreamResult yields stream events one line at a time. Next returns io.EOF
// once the stream has ended. Close is idempotent.
type StreamResult interface {
	Next() (string, error)
	Close() error
}

// SliceStreamResult replays a fixed list of events.
type SliceStreamResult struct {
	items   []string
	index   int
	closeFn func() error
}

func NewSliceStreamResult(items []string, closeFn func() error) *SliceStreamResult {
	return &SliceStreamResult{items: items, closeFn: closeFn}
}

func (sr *SliceStreamResult) Next() (string, error) {
	if sr.index >= len(sr.items) {
		return "", io.EOF
	}
	item := sr.items[sr.index]
	sr.index++
	return item, nil
}

func (sr *SliceStreamResult) Close() error {
	if sr.closeFn != nil {
		fn := sr.closeFn
		sr.closeFn = nil
		return fn()
	}
	return nil
}

// StreamItem is one element travelling through a ChannelStreamResult.
type StreamItem struct {
	Line string
	Err  error
}

// ChannelStreamResult adapts a channel of items into a StreamResult.
type ChannelStreamResult struct {
	ch          <-chan StreamItem
	closeFn     func() error
	readTimeout time.Duration

	once     sync.Once
	closeErr error
}

// NewChannelStreamResult constructs a StreamResult from a channel and a close
// function. A positive readTimeout bounds the wait for each event.
func NewChannelStreamResult(ch <-chan StreamItem, closeFn func() error, readTimeout time.Duration) *ChannelStreamResult {
	return &ChannelStreamResult{ch: ch, closeFn: closeFn, readTimeout: readTimeout}
}

// Next returns the next event, io.EOF when the channel is closed, or the
// error carried by the channel.
func (sr *ChannelStreamResult) Next() (string, error) {
	var (
		item StreamItem
		ok   bool
	)
	if sr.readTimeout > 0 {
		timer := time.NewTimer(sr.readTimeout)
		defer timer.Stop()
		select {
		case item, ok = <-sr.ch:
		case <-timer.C:
			return "", ErrReadTimeout
		}
	} else {
		item, ok = <-sr.ch
	}
	if !ok {
		return "", io.EOF
	}
	if item.Err != nil {
		return "", item.Err
	}
	return item.Line, nil
}

// Close invokes the close function once.
func (sr *ChannelStreamResult) Close() error {
	sr.once.Do(func() {
		if sr.closeFn != nil {
			sr.closeErr = sr.closeFn()
		}
	})
	return sr.closeErr
}

// ScanLines forwards every non-empty line of r to out and closes out when r
// is exhausted or ctx ends. A read error other than EOF is forwarded first.
func ScanLines(ctx context.Context, r io.Reader, out chan<- StreamItem) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case out <- StreamItem{Line: line}:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- StreamItem{Err: err}:
		case <-ctx.Done():
		}
	}
}
