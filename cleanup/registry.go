package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/vinayprograms/tasktracker/errors"
)

// Registry collects cleanup tasks and drains them concurrently.
type Registry struct {
	config Config

	mu       sync.Mutex
	tasks    []registration
	draining bool

	drainOnce sync.Once
	done      chan struct{}
	result    *Result
	err       error
}

// NewRegistry creates a new cleanup registry. It fails with
// ErrInvalidConfig when config has a negative timeout or concurrency.
func NewRegistry(config Config) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		config: config,
		tasks:  make([]registration, 0),
		done:   make(chan struct{}),
	}, nil
}

// Register appends a task. Tasks can be registered until DrainAll starts.
func (r *Registry) Register(name string, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		return ErrDraining
	}
	r.tasks = append(r.tasks, registration{name: name, task: task})
	return nil
}

// RegisterFunc is a convenience method for registering a function as a task.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilTask
	}
	return r.Register(name, TaskFunc(fn))
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// DrainAll runs every registered task concurrently and waits until all of
// them have settled. A failing task does not cancel its siblings. The drain
// happens once; later calls return the first outcome.
//
// DrainAll stops waiting when ctx is done or the configured timeout passes;
// tasks still running at that point are reported in Result.Pending.
func (r *Registry) DrainAll(ctx context.Context) (*Result, error) {
	r.drainOnce.Do(func() {
		r.result = r.drain(ctx)
		r.err = r.result.Err
		close(r.done)
	})
	return r.result, r.err
}

// Done returns a channel that is closed when the drain is complete.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Result returns the drain outcome.
// Only valid after Done() is closed.
func (r *Registry) Result() *Result {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// drain performs the actual drain.
func (r *Registry) drain(ctx context.Context) *Result {
	start := time.Now()

	r.mu.Lock()
	r.draining = true
	tasks := make([]registration, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	var (
		resMu    sync.Mutex
		results  = make([]TaskResult, len(tasks))
		settled  = make([]bool, len(tasks))
		finished = make(chan struct{})
	)

	go func() {
		defer close(finished)

		var g errgroup.Group
		if r.config.MaxConcurrency > 0 {
			g.SetLimit(r.config.MaxConcurrency)
		}
		for i, reg := range tasks {
			g.Go(func() error {
				tr := r.runTask(ctx, reg)

				resMu.Lock()
				results[i] = tr
				settled[i] = true
				resMu.Unlock()

				if r.config.OnProgress != nil {
					r.config.OnProgress(tr)
				}
				// Failures are aggregated below so siblings keep running.
				return nil
			})
		}
		_ = g.Wait()
	}()

	result := &Result{}

	select {
	case <-finished:
	case <-ctx.Done():
	}

	resMu.Lock()
	var failures []error
	expired := false
	for i, reg := range tasks {
		if !settled[i] {
			result.Pending = append(result.Pending, reg.name)
			continue
		}
		result.Results = append(result.Results, results[i])
		if err := results[i].Err; err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", reg.name, err))
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				expired = true
			}
		}
	}
	resMu.Unlock()

	switch {
	case len(result.Pending) > 0 || expired:
		result.Err = fmt.Errorf("%w: %d task(s) still running", ErrTimeout, len(result.Pending))
		if len(failures) > 0 {
			result.Err = errors.Join(result.Err, fmt.Errorf("%w: %w", ErrTaskFailed, errors.Join(failures...)))
		}
	case len(failures) > 0:
		result.Err = fmt.Errorf("%w: %w", ErrTaskFailed, errors.Join(failures...))
	}

	result.TotalDuration = time.Since(start)
	return result
}

// runTask runs a single task, converting panics into errors.
func (r *Registry) runTask(ctx context.Context, reg registration) (tr TaskResult) {
	start := time.Now()
	tr.Name = reg.name

	defer func() {
		if rec := recover(); rec != nil {
			tr.Err = apperrors.RecoverPanic(rec)
		}
		tr.Duration = time.Since(start)
	}()

	tr.Err = reg.task.Run(ctx)
	return tr
}
