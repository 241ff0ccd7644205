// Package async runs independent read tasks concurrently with a bounded
// number of workers.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

// Pool is stateless between calls and may be shared.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs every task and returns results keyed by task name. Tasks that
// never started because ctx was cancelled report ctx.Err(). A panicking task
// reports an error instead of taking the process down.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	queue := make(chan Task)
	results := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount && i < len(tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				results <- run(ctx, task)
			}
		}()
	}

	for _, task := range tasks {
		select {
		case queue <- task:
		case <-ctx.Done():
			results <- Result{Name: task.Name, Err: ctx.Err()}
		}
	}
	close(queue)
	wg.Wait()
	close(results)

	out := make(map[string]Result, len(tasks))
	for r := range results {
		out[r.Name] = r
	}
	return out
}

func run(ctx context.Context, task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute(ctx)
	return result
}
