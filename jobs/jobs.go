// Package jobs holds the background job service started during boot. Its
// Shutdown hook is registered as a cleanup task so in-flight work finishes
// before the process exits.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/tasktracker/logging"
)

// DefaultSteps is the number of steps completed on shutdown.
const DefaultSteps = 5

// DefaultStepDelay is the pause taken before the pause step.
const DefaultStepDelay = 6 * time.Second

// pauseStep is the step index preceded by StepDelay.
const pauseStep = 3

// Config configures a Service.
type Config struct {
	// Steps to complete on shutdown. Default: 5
	Steps int

	// StepDelay is waited before step 3. Zero completes steps without pause.
	StepDelay time.Duration

	// Logger receives one line per completed step.
	Logger *logging.Logger
}

// Service is a background job that needs to finish its work before exit.
type Service struct {
	config Config

	mu        sync.Mutex
	completed []int
}

// New creates a job service.
func New(cfg Config) *Service {
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	cfg.Logger = cfg.Logger.WithComponent("jobs")
	return &Service{config: cfg}
}

// Shutdown completes the outstanding steps, logging "Completing task #i" for
// each. It returns ctx.Err() if ctx ends during the pause.
func (s *Service) Shutdown(ctx context.Context) error {
	for i := 0; i < s.config.Steps; i++ {
		if i == pauseStep && s.config.StepDelay > 0 {
			timer := time.NewTimer(s.config.StepDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("jobs shutdown interrupted before task #%d: %w", i, ctx.Err())
			case <-timer.C:
			}
		}
		s.config.Logger.Info(fmt.Sprintf("Completing task #%d", i))

		s.mu.Lock()
		s.completed = append(s.completed, i)
		s.mu.Unlock()
	}
	return nil
}

// Completed returns the step indexes completed so far.
func (s *Service) Completed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.completed))
	copy(out, s.completed)
	return out
}
