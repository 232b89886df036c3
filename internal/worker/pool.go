package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Pool runs tasks on their own goroutines, at most size at a time (0 means
// unbounded). Go never blocks the caller: the slot is acquired inside the
// spawned goroutine.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	onPanic func(recovered any, stack []byte)
}

func NewPool(size int, onPanic func(recovered any, stack []byte)) *Pool {
	p := &Pool{onPanic: onPanic}
	if size > 0 {
		p.sem = make(chan struct{}, size)
	}
	return p
}

func (p *Pool) Go(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		defer func() {
			if r := recover(); r != nil && p.onPanic != nil {
				p.onPanic(r, debug.Stack())
			}
		}()
		task()
	}()
}

// Wait blocks until every submitted task has returned or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight tasks: %w", ctx.Err())
	}
}
