package server

import (
	"os"
	"os/signal"
	"time"

	"github.com/vinayprograms/tasktracker/cleanup"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/logging"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// DefaultGraceDelay is the pause before the process exits, giving log output
// a chance to flush.
const DefaultGraceDelay = 100 * time.Millisecond

// DefaultMonitorInterval is how often test mode reports open connections.
const DefaultMonitorInterval = 5 * time.Second

// Config is the server snapshot the controller runs with.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	Env             string
	TestMode        bool
}

// SignalSource installs and removes OS signal handlers. Reset drops every
// handler for the given signals, including those installed by other code.
type SignalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
	Reset(sig ...os.Signal)
}

type osSignals struct{}

func (osSignals) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osSignals) Stop(c chan<- os.Signal) { signal.Stop(c) }
func (osSignals) Reset(sig ...os.Signal) { signal.Reset(sig...) }

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: logging.New().
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithCleanup sets the cleanup registry drained on Stop.
func WithCleanup(r *cleanup.Registry) Option {
	return func(c *Controller) { c.cleanup = r }
}

// WithPublisher sets where lifecycle events are published.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithTracer sets the tracer. Default: telemetry.GetTracer().
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(c *Controller) { c.exit = exit }
}

// WithGraceDelay sets the pause before exit. Default: 100ms.
func WithGraceDelay(d time.Duration) Option {
	return func(c *Controller) { c.graceDelay = d }
}

// WithSignals replaces the OS signal source.
func WithSignals(s SignalSource) Option {
	return func(c *Controller) { c.signals = s }
}

// WithMonitorInterval sets the test mode connection report interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *Controller) { c.monitorInterval = d }
}
