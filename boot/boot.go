// Package boot sequences tasktracker startup.
//
// Phase 0 loads configuration and logging; a failure there exits with 1
// straight away. Phase 1 builds and starts the lifecycle controller. Phase 2
// initialises the core services, which register their cleanup tasks with
// the controller. A failure in phase 1 or 2 is logged and exits with 2,
// through a full Shutdown when the server is already running.
package boot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/vinayprograms/tasktracker/app"
	"github.com/vinayprograms/tasktracker/cleanup"
	"github.com/vinayprograms/tasktracker/config"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/jobs"
	"github.com/vinayprograms/tasktracker/logging"
	"github.com/vinayprograms/tasktracker/server"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitStopFailure = 1
	ExitBootFailure = 2
)

// Env is what core services are initialised with.
type Env struct {
	Config     *config.Config
	Logger     *logging.Logger
	Controller *server.Controller
	Bus        events.Bus
}

// Service initialises one core service. Services register their shutdown
// hooks through env.Controller.
type Service func(ctx context.Context, env *Env) error

// Options configures Run.
type Options struct {
	// ConfigPath is the defaults file; empty uses the built-in defaults.
	ConfigPath string

	// Overrides are --set key=value pairs.
	Overrides []string

	// Environ replaces os.Environ().
	Environ []string

	// Stdout receives log output. Default: os.Stdout
	Stdout io.Writer

	// Stderr receives phase 0 failures. Default: os.Stderr
	Stderr io.Writer

	// Exit replaces os.Exit.
	Exit func(code int)

	// GraceDelay before exiting on failure. Default: 100ms
	GraceDelay time.Duration

	// Signals replaces the OS signal source.
	Signals server.SignalSource

	// Handler builds the request handler. Default: app.New.
	Handler func(env *Env) http.Handler

	// Services run in phase 2, in order. Default: the jobs service.
	Services []Service
}

func (o *Options) defaults() {
	if o.Environ == nil {
		o.Environ = os.Environ()
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = server.DefaultGraceDelay
	}
	if o.Handler == nil {
		o.Handler = DefaultHandler
	}
	if o.Services == nil {
		o.Services = []Service{JobsService}
	}
}

// Run boots tasktracker. On success it returns the running controller. On
// failure it has already called opts.Exit and returns the error; the
// controller is returned too if one was built.
func Run(ctx context.Context, opts Options) (*server.Controller, error) {
	opts.defaults()
	startTime := time.Now()

	// Phase 0: configuration and logging.
	cfg, err := config.Load(opts.ConfigPath,
		config.WithEnviron(opts.Environ),
		config.WithOverrides(opts.Overrides...),
	)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		opts.Exit(ExitStopFailure)
		return nil, err
	}
	logger, err := newLogger(cfg, opts.Stdout)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		opts.Exit(ExitStopFailure)
		return nil, err
	}
	bootLog := &bootLogger{logger: logger.WithComponent("boot"), start: startTime}

	env := &Env{Config: cfg, Logger: logger}
	res := &resources{}
	if err := res.open(ctx, cfg, logger); err != nil {
		return env.Controller, fail(env, res, opts, err)
	}

	ctx, span := res.tracer.StartSpan(ctx, "boot")
	err = start(ctx, env, res, opts, bootLog)
	telemetry.EndSpan(span, err)
	if err != nil {
		return env.Controller, fail(env, res, opts, err)
	}
	return env.Controller, nil
}

// start runs phases 1 and 2.
func start(ctx context.Context, env *Env, res *resources, opts Options, bootLog *bootLogger) error {
	cfg := env.Config
	settings := cfg.Settings()
	env.Bus = res.bus

	registry, err := cleanup.NewRegistry(cleanup.Config{
		Timeout:        config.Millis(settings.Cleanup.Timeout),
		MaxConcurrency: settings.Cleanup.MaxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("cleanup registry: %w", err)
	}
	serverOpts := []server.Option{
		server.WithLogger(env.Logger),
		server.WithCleanup(registry),
		server.WithPublisher(res.publisher()),
		server.WithTracer(res.tracer),
		server.WithExit(opts.Exit),
		server.WithGraceDelay(opts.GraceDelay),
	}
	if opts.Signals != nil {
		serverOpts = append(serverOpts, server.WithSignals(opts.Signals))
	}
	env.Controller = server.New(server.Config(cfg.Server()), serverOpts...)

	// Phase 1: server.
	if err := env.Controller.Start(ctx, opts.Handler(env)); err != nil {
		return err
	}
	bootLog.log("server started")

	// Phase 2: core services.
	if err := res.registerFinalizers(env.Controller); err != nil {
		return err
	}
	for _, svc := range opts.Services {
		if err := svc(ctx, env); err != nil {
			return err
		}
	}
	bootLog.log("core services loaded")
	return nil
}

// fail logs a phase 1 or 2 failure and exits with ExitBootFailure. A running
// server is shut down first; otherwise the opened resources are released
// directly.
func fail(env *Env, res *resources, opts Options, err error) error {
	env.Logger.LogError(err)
	if env.Controller != nil && env.Controller.State() == server.StateRunning {
		env.Controller.Shutdown(ExitBootFailure)
		return err
	}
	res.close(context.Background())
	time.Sleep(opts.GraceDelay)
	opts.Exit(ExitBootFailure)
	return err
}

func newLogger(cfg *config.Config, out io.Writer) (*logging.Logger, error) {
	logger := logging.New()
	logger.SetOutput(out)
	level, err := logging.ParseLevel(cfg.Settings().Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logger.SetLevel(level)
	logger.SetRedact(cfg.IsProduction())
	return logger, nil
}

// DefaultHandler builds the app router from env.
func DefaultHandler(env *Env) http.Handler {
	s := env.Config.Settings()
	return app.New(app.Deps{
		Env:       env.Config.Env(),
		Logger:    env.Logger,
		Lifecycle: env.Controller,
		Bus:       env.Bus,
		RateLimit: s.App.RateLimit,
		RateBurst: s.App.RateBurst,
	})
}

// JobsService starts the background job service and registers its shutdown
// hook as the "jobs" cleanup task.
func JobsService(ctx context.Context, env *Env) error {
	svc := jobs.New(jobs.Config{
		StepDelay: config.Millis(env.Config.Settings().Jobs.StepDelay),
		Logger:    env.Logger,
	})
	return env.Controller.RegisterCleanupTask("jobs", cleanup.TaskFunc(svc.Shutdown))
}

// bootLogger reports how long each boot milestone took.
type bootLogger struct {
	logger *logging.Logger
	start  time.Time
}

func (b *bootLogger) log(msg string) {
	b.logger.Info(fmt.Sprintf("Task Tracker %s in %ss", msg, seconds(time.Since(b.start))))
}

// seconds formats d as seconds with millisecond precision, e.g. "1.234".
func seconds(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Milliseconds())/1000, 'f', -1, 64)
}
