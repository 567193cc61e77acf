// Package async provides the fixed-size worker pool and futures used by the
// asynchronous retriever and scoring variants.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrPoolClosed = errors.New("worker pool closed")

type Pool struct {
	size  int
	tasks chan func()
	group errgroup.Group

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPool starts size workers. A non-positive size uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		size:  size,
		tasks: make(chan func(), size*4),
	}
	for i := 0; i < size; i++ {
		p.group.Go(func() error {
			for task := range p.tasks {
				runTask(task)
			}
			return nil
		})
	}
	return p
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
	return p.group.Wait()
}

func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker_task_panic", "panic", fmt.Sprint(r))
		}
	}()
	task()
}
