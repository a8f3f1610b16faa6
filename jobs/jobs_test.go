package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/tasktracker/logging"
)

func newLogger(buf *bytes.Buffer) *logging.Logger {
	l := logging.New()
	l.SetOutput(buf)
	return l
}

func TestShutdown_CompletesAllSteps(t *testing.T) {
	var buf bytes.Buffer
	svc := New(Config{Logger: newLogger(&buf)})

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := svc.Completed()
	if len(got) != DefaultSteps {
		t.Fatalf("expected %d steps, got %v", DefaultSteps, got)
	}
	for i, step := range got {
		if step != i {
			t.Errorf("step %d = %d, want in-order completion", i, step)
		}
	}

	output := buf.String()
	for i := 0; i < DefaultSteps; i++ {
		want := "Completing task #" + string(rune('0'+i))
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output", want)
		}
	}
	if !strings.Contains(output, "[jobs]") {
		t.Errorf("expected jobs component, got: %s", output)
	}
}

func TestShutdown_PausesBeforeStepThree(t *testing.T) {
	var buf bytes.Buffer
	svc := New(Config{StepDelay: 150 * time.Millisecond, Logger: newLogger(&buf)})

	start := time.Now()
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected the pause to be honoured, took %v", elapsed)
	}
}

func TestShutdown_ContextCancelledDuringPause(t *testing.T) {
	var buf bytes.Buffer
	svc := New(Config{StepDelay: 10 * time.Second, Logger: newLogger(&buf)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := svc.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if got := svc.Completed(); len(got) != pauseStep {
		t.Errorf("expected %d steps before the pause, got %v", pauseStep, got)
	}
}

func TestNew_Defaults(t *testing.T) {
	svc := New(Config{Steps: -1})
	if svc.config.Steps != DefaultSteps {
		t.Errorf("expected default steps, got %d", svc.config.Steps)
	}
	if svc.config.Logger == nil {
		t.Error("expected default logger")
	}
}
