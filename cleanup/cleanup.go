package cleanup

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrDraining indicates the registry no longer accepts tasks.
	ErrDraining = errors.New("cleanup already draining")

	// ErrTimeout indicates the drain did not complete within the timeout.
	ErrTimeout = errors.New("cleanup timeout exceeded")

	// ErrTaskFailed indicates one or more tasks failed during the drain.
	ErrTaskFailed = errors.New("one or more cleanup tasks failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNilTask indicates a nil task was registered.
	ErrNilTask = errors.New("nil cleanup task")
)

// Task is a unit of shutdown work registered by a service.
type Task interface {
	// Run performs the cleanup. The context carries the drain deadline,
	// if one is configured. Implementations should:
	// - Stop accepting new work
	// - Finish in-progress work (if time permits)
	// - Release resources
	Run(ctx context.Context) error
}

// TaskFunc is a convenience type for simple cleanup functions.
type TaskFunc func(ctx context.Context) error

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TaskResult contains the outcome of a single task.
type TaskResult struct {
	// Name of the task.
	Name string

	// Duration how long the task took.
	Duration time.Duration

	// Err is any error returned by the task.
	Err error
}

// Result contains the complete drain outcome.
type Result struct {
	// TotalDuration of the entire drain.
	TotalDuration time.Duration

	// Results for each task that settled, in registration order.
	Results []TaskResult

	// Pending names the tasks still running when the drain timed out.
	Pending []string

	// Err is the overall error (nil if all tasks succeeded).
	Err error
}

// Failed returns true if the drain failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedTasks returns the names of tasks that failed.
func (r *Result) FailedTasks() []string {
	var failed []string
	for _, tr := range r.Results {
		if tr.Err != nil {
			failed = append(failed, tr.Name)
		}
	}
	return failed
}

// Config configures the registry.
type Config struct {
	// Timeout bounds the whole drain. Zero waits for every task to settle.
	Timeout time.Duration

	// MaxConcurrency caps how many tasks run at once. Zero runs all tasks
	// together.
	MaxConcurrency int

	// OnProgress is called when each task completes.
	// Can be used for logging.
	OnProgress func(result TaskResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 || c.MaxConcurrency < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns the default configuration: no timeout and unlimited
// concurrency.
func DefaultConfig() Config {
	return Config{}
}

// registration holds a registered task with its name.
type registration struct {
	name string
	task Task
}
