package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/tasktracker/cleanup"
	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/logging"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// processStart approximates process start for the uptime report.
var processStart = time.Now()

// Controller owns the HTTP listener and the shutdown sequence.
type Controller struct {
	config          Config
	logger          *logging.Logger
	cleanup         *cleanup.Registry
	publisher       events.Publisher
	tracer          *telemetry.Tracer
	exit            func(int)
	graceDelay      time.Duration
	signals         SignalSource
	monitorInterval time.Duration

	mu          sync.Mutex
	state       State
	listener    net.Listener
	httpServer  *http.Server
	serveDone   chan struct{}
	sigCh       chan os.Signal
	sigQuit     chan struct{}
	monitorQuit chan struct{}
	conns       atomic.Int64

	finalizers []finalizer
	stopOnce   sync.Once
	stopErr    error

	shuttingDown atomic.Bool
	done         chan struct{}
	exitCode     atomic.Int64
}

// finalizer is a named closer run after cleanup has drained.
type finalizer struct {
	name string
	fn   func(ctx context.Context) error
}

// New creates a Controller for cfg. The config is copied and never mutated.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		config:          cfg,
		graceDelay:      DefaultGraceDelay,
		monitorInterval: DefaultMonitorInterval,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.New()
	}
	c.logger = c.logger.WithComponent("server")
	if c.cleanup == nil {
		// The default config always validates.
		c.cleanup, _ = cleanup.NewRegistry(cleanup.DefaultConfig())
	}
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	if c.exit == nil {
		c.exit = os.Exit
	}
	if c.signals == nil {
		c.signals = osSignals{}
	}
	if c.monitorInterval <= 0 {
		c.monitorInterval = DefaultMonitorInterval
	}
	c.exitCode.Store(-1)
	return c
}

// Config returns the snapshot the controller was built with.
func (c *Controller) Config() Config { return c.config }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the configured host:port.
func (c *Controller) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// URL returns the configured API base URL.
func (c *Controller) URL() string {
	return fmt.Sprintf("http://%s/v1/api", c.Address())
}

// ListenAddr returns the bound address while running, or nil.
func (c *Controller) ListenAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// OpenConnections returns the number of connections currently open.
func (c *Controller) OpenConnections() int64 {
	return c.conns.Load()
}

// Stopping reports whether Stop has begun.
func (c *Controller) Stopping() bool {
	return c.State() >= StateStopping
}

// RegisterCleanupTask adds a task awaited during Stop. It fails with
// cleanup.ErrDraining once Stop has begun.
func (c *Controller) RegisterCleanupTask(name string, task cleanup.Task) error {
	if task == nil {
		return cleanup.ErrNilTask
	}
	return c.cleanup.Register(name, cleanup.TaskFunc(func(ctx context.Context) error {
		ctx, span := c.tracer.StartCleanupSpan(ctx, name)
		err := task.Run(ctx)
		telemetry.EndSpan(span, err)
		return err
	}))
}

// RegisterCleanupFunc is a convenience wrapper for RegisterCleanupTask.
func (c *Controller) RegisterCleanupFunc(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return cleanup.ErrNilTask
	}
	return c.RegisterCleanupTask(name, cleanup.TaskFunc(fn))
}

// RegisterFinalizer adds fn to run once Stop has drained cleanup and
// published the Stopped state. Finalizers run one at a time in reverse
// registration order; they suit resources cleanup tasks depend on, such as
// the event bus and the trace exporter.
func (c *Controller) RegisterFinalizer(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return cleanup.ErrNilTask
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= StateStopping {
		return cleanup.ErrDraining
	}
	c.finalizers = append(c.finalizers, finalizer{name: name, fn: fn})
	return nil
}

// Start binds the configured address and serves handler. It returns once the
// listener is bound or has failed. Bind failures are InternalServerErrors and
// leave the controller in Starting.
func (c *Controller) Start(ctx context.Context, handler http.Handler) error {
	_, span := c.tracer.StartLifecycleSpan(ctx, "start", telemetry.LifecycleSpanOptions{
		Env:  c.config.Env,
		Host: c.config.Host,
		Port: c.config.Port,
	})
	err := c.start(handler)
	if err == nil {
		telemetry.RecordStateChange(span, StateStarting.String(), StateRunning.String())
	}
	telemetry.EndSpan(span, err)
	return err
}

func (c *Controller) start(handler http.Handler) error {
	if handler == nil {
		return apperrors.IncorrectUsage(
			apperrors.WithMessage("Cannot start TaskTracker without a request handler."),
		)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return apperrors.IncorrectUsage(
			apperrors.WithMessagef("Cannot start TaskTracker while it is %s.", state),
			apperrors.WithContext("Start may only be called once per controller."),
		)
	}
	c.state = StateStarting
	c.mu.Unlock()
	c.announce(StateIdle, StateStarting)

	ln, err := net.Listen("tcp", c.Address())
	if err != nil {
		return c.bindError(err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         c.trackConn,
	}
	serveDone := make(chan struct{})

	c.mu.Lock()
	if c.state != StateStarting {
		state := c.state
		c.mu.Unlock()
		ln.Close()
		return apperrors.IncorrectUsage(
			apperrors.WithMessagef("TaskTracker was %s before it finished starting.", state),
			apperrors.WithContext("Stop was called while the listener was being bound."),
		)
	}
	c.listener = ln
	c.httpServer = srv
	c.serveDone = serveDone
	c.state = StateRunning
	c.mu.Unlock()

	go c.serve(srv, ln, serveDone)

	c.logStartMessages()
	if c.config.TestMode {
		c.startMonitor()
	}
	c.installSignals()
	c.announce(StateStarting, StateRunning)
	return nil
}

// serve runs the accept loop until the server is shut down.
func (c *Controller) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.logger.LogError(apperrors.InternalServer(
			apperrors.WithMessage("TaskTracker stopped accepting connections."),
			apperrors.WithCause(err),
		))
	}
}

// bindError converts a listen failure into the taxonomy error reported to
// the operator. The OS error stays reachable through errors.Is and
// errors.As, but only its code reaches the message and stack.
func (c *Controller) bindError(err error) *apperrors.Error {
	if errors.Is(err, syscall.EADDRINUSE) {
		return apperrors.InternalServer(
			apperrors.WithMessage("(EADDRINUSE) Cannot start TaskTracker."),
			apperrors.WithContext(fmt.Sprintf("Port %d is already in use by another program.", c.config.Port)),
			apperrors.WithHelp("Is another TaskTracker instance already running?"),
			apperrors.WithCause(listenError{code: "EADDRINUSE", err: err}),
		)
	}

	code := apperrors.CodeOf(err)
	if code == "" {
		code = "unknown"
	}
	return apperrors.InternalServer(
		apperrors.WithMessagef("(Code: %s)", code),
		apperrors.WithContext("There was an error starting your server."),
		apperrors.WithHelp("Please use the error code above to search for a solution."),
		apperrors.WithCode(code),
		apperrors.WithCause(listenError{code: code, err: err}),
	)
}

// listenError hides the text of a listen failure, which names the bound
// address, behind its code.
type listenError struct {
	code string
	err  error
}

func (e listenError) Error() string { return "listen failed: " + e.code }
func (e listenError) Stack() string { return e.Error() }
func (e listenError) Code() string { return e.code }
func (e listenError) Unwrap() error { return e.err }

// trackConn counts open connections for the test mode connection monitor.
func (c *Controller) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		c.conns.Add(1)
	case http.StateHijacked, http.StateClosed:
		c.conns.Add(-1)
	}
}

// startMonitor logs the open connection count every monitor interval.
func (c *Controller) startMonitor() {
	quit := make(chan struct{})
	c.mu.Lock()
	if c.state >= StateStopping {
		c.mu.Unlock()
		return
	}
	c.monitorQuit = quit
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				c.logger.Warn(fmt.Sprintf("%d connections currently open", c.conns.Load()))
			}
		}
	}()
}

func (c *Controller) stopMonitor() {
	c.mu.Lock()
	quit := c.monitorQuit
	c.monitorQuit = nil
	c.mu.Unlock()
	if quit != nil {
		close(quit)
	}
}

// Stop stops accepting connections, drains in-flight requests and awaits
// every cleanup task. Cleanup runs even when the socket phase fails; both
// errors are joined. Only the first call does the work; later calls return
// its result.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop(ctx)
	})
	return c.stopErr
}

func (c *Controller) stop(ctx context.Context) error {
	ctx, span := c.tracer.StartLifecycleSpan(ctx, "stop", telemetry.LifecycleSpanOptions{
		Env: c.config.Env,
	})

	c.mu.Lock()
	from := c.state
	srv, serveDone := c.httpServer, c.serveDone
	c.state = StateStopping
	c.mu.Unlock()
	c.announce(from, StateStopping)
	telemetry.RecordStateChange(span, from.String(), StateStopping.String())

	var socketErr error
	if srv != nil {
		socketErr = c.stopServer(ctx, srv, serveDone)
		if c.config.TestMode {
			c.logger.Warn("Server has fully closed")
		}
	}
	c.stopMonitor()

	cleanupErr := c.drainCleanup(ctx)

	c.mu.Lock()
	c.httpServer = nil
	c.listener = nil
	c.serveDone = nil
	c.state = StateStopped
	c.mu.Unlock()
	c.uninstallSignals()
	c.announce(StateStopping, StateStopped)
	telemetry.RecordStateChange(span, StateStopping.String(), StateStopped.String())

	c.logStopMessages()

	err := errors.Join(socketErr, cleanupErr)
	telemetry.EndSpan(span, err)

	return errors.Join(err, c.runFinalizers(ctx))
}

func (c *Controller) runFinalizers(ctx context.Context) error {
	c.mu.Lock()
	fins := c.finalizers
	c.finalizers = nil
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(fins) - 1; i >= 0; i-- {
		f := fins[i]
		if err := f.fn(ctx); err != nil {
			c.logger.Warn("finalizer_failed", map[string]interface{}{
				"name":  f.name,
				"error": err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
		}
	}
	return errors.Join(errs...)
}

// stopServer closes the listener and waits for in-flight requests, bounded
// by ShutdownTimeout. Connections still open at the deadline are closed.
func (c *Controller) stopServer(ctx context.Context, srv *http.Server, serveDone chan struct{}) error {
	shutdownCtx := ctx
	if c.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()
	}

	var err error
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		open := c.conns.Load()
		closeErr := srv.Close()
		if ctx.Err() != nil {
			err = errors.Join(fmt.Errorf("stop listener: %w", shutdownErr), closeErr)
		} else {
			c.logger.Warn("Shutdown timeout reached, closing open connections", map[string]interface{}{
				"open":    open,
				"timeout": c.config.ShutdownTimeout.String(),
			})
			err = closeErr
		}
	}

	if serveDone != nil {
		<-serveDone
	}
	return err
}

// drainCleanup awaits every registered task. Tasks are not cancelled when ctx
// ends; only the registry's own timeout can cut them short.
func (c *Controller) drainCleanup(ctx context.Context) error {
	result, err := c.cleanup.DrainAll(context.WithoutCancel(ctx))
	if result != nil {
		for _, r := range result.Results {
			c.logger.CleanupResult(r.Name, r.Duration, r.Err)
		}
		for _, name := range result.Pending {
			c.logger.Warn("cleanup_pending", map[string]interface{}{"task": name})
		}
	}
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// Shutdown stops the controller and exits the process with code, or with 1
// if Stop fails. Only the first call runs; later calls return at once and
// can wait on Done.
func (c *Controller) Shutdown(code int) {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)

	c.logger.Warn("TaskTracker is shutting down")
	if err := c.Stop(context.Background()); err != nil {
		c.logger.LogError(apperrors.Wrap(err, apperrors.KindInternalServer,
			apperrors.WithMessage("TaskTracker did not shut down cleanly."),
		))
		code = 1
	}

	c.exitCode.Store(int64(code))
	time.Sleep(c.graceDelay)
	c.exit(code)
}

// Done is closed once Shutdown has finished. It only closes if the exit
// function returns, as it does in tests and when embedding.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// ExitCode returns the code Shutdown exited with, or -1 before that.
func (c *Controller) ExitCode() int {
	return int(c.exitCode.Load())
}

// announce logs and publishes a state transition.
func (c *Controller) announce(from, to State) {
	c.logger.StateChange(from.String(), to.String())
	if c.publisher == nil {
		return
	}
	err := events.PublishEvent(c.publisher, events.Event{
		State:    to.String(),
		Previous: from.String(),
		At:       time.Now().UTC(),
		Env:      c.config.Env,
	})
	if err != nil {
		c.logger.Warn("lifecycle event not published", map[string]interface{}{
			"state": to.String(),
			"error": err.Error(),
		})
	}
}
