package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Status is the settled state of a task.
type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Errors
var (
	ErrTaskPanic = errors.New("refresh task panicked")
	ErrNilTask   = errors.New("refresh task has no run function")
)

// Task is one named unit of a refresh batch.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is the settled outcome of a Task.
type Result[T any] struct {
	Name   string
	Status Status
	Value  T
	Err    error
}

// OK reports whether the task fulfilled.
func (r Result[T]) OK() bool {
	return r.Status == StatusFulfilled
}

// ErrorHook is called once per rejected task after the batch settles.
type ErrorHook func(name string, err error)

// RunOption configures RunTasks.
type RunOption func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for hook panics.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// RunTasks starts every task concurrently, waits for all of them and returns
// one result per task in input order. A failing or panicking task never
// affects its siblings. onTaskError (may be nil) runs for each rejected task
// in input order once everything settled; a panic inside it is logged and
// swallowed.
func RunTasks[T any](ctx context.Context, tasks []Task[T], onTaskError ErrorHook, opts ...RunOption) []Result[T] {
	cfg := runConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	results := make([]Result[T], len(tasks))
	var wg sync.WaitGroup

	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runOne(ctx, tasks[i])
		}(i)
	}

	wg.Wait()

	if onTaskError != nil {
		for _, r := range results {
			if r.Status == StatusRejected {
				callHook(cfg.logger, onTaskError, r.Name, r.Err)
			}
		}
	}

	return results
}

func runOne[T any](ctx context.Context, task Task[T]) (res Result[T]) {
	res.Name = task.Name
	if task.Run == nil {
		res.Status = StatusRejected
		res.Err = ErrNilTask
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			var zero T
			res.Value = zero
			res.Status = StatusRejected
			res.Err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	v, err := task.Run(ctx)
	if err != nil {
		res.Status = StatusRejected
		res.Err = err
		return res
	}
	res.Status = StatusFulfilled
	res.Value = v
	return res
}

func callHook(logger *slog.Logger, hook ErrorHook, name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("refresh error hook panicked", "task", name, "panic", r)
		}
	}()
	hook(name, err)
}

// Failed returns the names of rejected results, in order.
func Failed[T any](results []Result[T]) []string {
	var names []string
	for _, r := range results {
		if r.Status == StatusRejected {
			names = append(names, r.Name)
		}
	}
	return names
}
