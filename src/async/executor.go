package async

import "sync"

// Executor runs work off the caller's goroutine.
type Executor interface {
	Go(fn func())
}

// Goroutines starts one goroutine per task.
type Goroutines struct{}

func (Goroutines) Go(fn func()) { go fn() }

// Pool bounds the number of tasks running at once. Go never blocks; tasks
// submitted while the pool is saturated wait for a slot on their own
// goroutine.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		p.slots <- struct{}{}
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		fn()
	}()
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() { p.wg.Wait() }
