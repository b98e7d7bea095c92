package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/cube2222/octoframe/octoframe"
)

// Pool is a fixed set of worker goroutines.
// Tasks are only handed to idle workers, a task with no idle worker runs on the calling goroutine,
// so nested parallel sections never wait on each other.
type Pool struct {
	tasks   chan func()
	workers sync.WaitGroup
	size    int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan func()),
		size:  size,
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.workers.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process-wide pool. It's sized by the first call.
func DefaultPool(size int) *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(size)
	})
	return defaultPool
}

func (p *Pool) Size() int {
	return p.size
}

// Close stops the workers. The pool mustn't be used afterwards.
func (p *Pool) Close() {
	close(p.tasks)
	p.workers.Wait()
}

// Run runs task for each index in [0, n) and waits for all of them.
// It returns the error of the lowest failed index. Tasks not started because ctx got cancelled are skipped.
func (p *Pool) Run(ctx context.Context, n int, task func(i int) error) error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		run := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = RecoveredError(r)
				}
			}()
			errs[i] = task(i)
		}
		select {
		case p.tasks <- run:
		default:
			run()
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RecoveredError turns a recovered panic into an error.
// Allocation budget overflows keep their CapacityError kind, anything else becomes an ExecutionError.
func RecoveredError(r interface{}) error {
	switch r := r.(type) {
	case *octoframe.CapacityError:
		return r
	case error:
		err := octoframe.NewExecutionError("task panicked: %s", debug.Stack())
		err.Cause = r
		return err
	}
	return octoframe.NewExecutionError("task panicked: %v\n%s", r, debug.Stack())
}

// ForEachChunk evaluates f over every chunk of a table in parallel and returns the results in chunk order.
func ForEachChunk[T any](ctx Context, numChunks int, f func(chunk int) (T, error)) ([]T, error) {
	out := make([]T, numChunks)
	if err := ctx.Pool.Run(ctx.Context, numChunks, func(i int) error {
		res, err := f(i)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		out[i] = res
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
