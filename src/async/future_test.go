package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureFirstSettleWins(t *testing.T) {
	f := NewFuture[int]()
	assert.True(t, f.Complete(1))
	assert.False(t, f.Complete(2))
	assert.False(t, f.Fail(errors.New("late")))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureAwaitHonoursContext(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunWrapsErrorsAndPanics(t *testing.T) {
	cause := errors.New("boom")
	_, err := Run(nil, func() (int, error) { return 0, cause }).Await(context.Background())
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Same(t, cause, Cause(err))

	_, err = Run(Goroutines{}, func() (int, error) { panic("bad") }).Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, Cause(err).Error(), "panic: bad")
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		p.Go(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolGoDoesNotBlockWhenSaturated(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	var ran atomic.Int32
	task := func() {
		<-release
		ran.Add(1)
	}

	submitted := make(chan struct{})
	go func() {
		p.Go(task)
		p.Go(task)
		p.Go(task)
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Go blocked on a saturated pool")
	}

	close(release)
	p.Wait()
	assert.Equal(t, int32(3), ran.Load())
}

func TestOnSettle(t *testing.T) {
	f := NewFuture[string]()
	got := make(chan string, 1)
	f.OnSettle(func(v string, err error) {
		assert.NoError(t, err)
		got <- v
	})
	f.Complete("ok")
	select {
	case v := <-got:
		assert.Equal(t, "ok", v)
	case <-time.After(time.Second):
		t.Fatal("OnSettle callback not run")
	}
}
