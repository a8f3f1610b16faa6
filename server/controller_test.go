package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/vinayprograms/tasktracker/cleanup"
	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/logging"
)

// ============================================================================
// Test helpers
// ============================================================================

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// exitRecorder captures exit codes instead of exiting.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

// fakeSignals records registrations and delivers signals on demand.
type fakeSignals struct {
	mu       sync.Mutex
	active   []chan<- os.Signal
	notifies int
	stops    int
	resets   int
}

func (f *fakeSignals) Notify(c chan<- os.Signal, sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = append(f.active, c)
	f.notifies++
}

func (f *fakeSignals) Stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.active {
		if a == c {
			f.active = append(f.active[:i], f.active[i+1:]...)
			break
		}
	}
	f.stops++
}

// Reset drops every channel; the controller only registers SIGINT and
// SIGTERM, which are the signals it resets.
func (f *fakeSignals) Reset(sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	f.resets++
}

func (f *fakeSignals) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *fakeSignals) Send(sig os.Signal) {
	f.mu.Lock()
	active := append([]chan<- os.Signal(nil), f.active...)
	f.mu.Unlock()
	for _, c := range active {
		select {
		case c <- sig:
		default:
		}
	}
}

type harness struct {
	ctrl    *Controller
	log     *syncBuffer
	exits   *exitRecorder
	signals *fakeSignals
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		log:     &syncBuffer{},
		exits:   &exitRecorder{},
		signals: &fakeSignals{},
	}
	logger := logging.New()
	logger.SetOutput(h.log)
	logger.SetLevel(logging.LevelDebug)

	base := []Option{
		WithLogger(logger),
		WithExit(h.exits.exit),
		WithGraceDelay(time.Millisecond),
		WithSignals(h.signals),
	}
	h.ctrl = New(cfg, append(base, opts...)...)
	t.Cleanup(func() { h.ctrl.Stop(context.Background()) })
	return h
}

func testConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: 2 * time.Second,
		Env:             "test",
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
}

func baseURL(c *Controller) string {
	return "http://" + c.ListenAddr().String()
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

// ============================================================================
// 1. Start
// ============================================================================

func TestStart_ServesHandler(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.ctrl.State() != StateRunning {
		t.Fatalf("state = %v, want Running", h.ctrl.State())
	}

	resp, err := http.Get(baseURL(h.ctrl))
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.ctrl.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", h.ctrl.State())
	}

	output := h.log.String()
	for _, want := range []string{
		"TaskTracker is running in test...",
		"Listening on: 127.0.0.1:0",
		"Url configured as: http://127.0.0.1:0/v1/api",
		"Ctrl+C to shut down",
		"TaskTracker has shut down",
		"TaskTracker was running for",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log output", want)
		}
	}
	if strings.Contains(output, "Your API is now offline") {
		t.Error("offline message is production only")
	}
}

func TestStart_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	cfg := testConfig()
	cfg.Port = port
	h := newHarness(t, cfg)

	err = h.ctrl.Start(context.Background(), okHandler())
	te := apperrors.As(err)
	if te == nil {
		t.Fatalf("expected a taxonomy error, got %v", err)
	}
	if te.Kind() != apperrors.KindInternalServer {
		t.Errorf("kind = %v, want InternalServerError", te.Kind())
	}
	if te.Message() != "(EADDRINUSE) Cannot start TaskTracker." {
		t.Errorf("message = %q", te.Message())
	}
	if te.Context() != "Port "+strconv.Itoa(port)+" is already in use by another program." {
		t.Errorf("context = %q", te.Context())
	}
	if te.Help() != "Is another TaskTracker instance already running?" {
		t.Errorf("help = %q", te.Help())
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Error("expected the OS error to stay reachable as the cause")
	}
	if h.ctrl.State() != StateStarting {
		t.Errorf("state = %v, want Starting", h.ctrl.State())
	}

	// Stop after a failed start is safe and still drains cleanup.
	var ran atomic.Bool
	h.ctrl.RegisterCleanupFunc("after-failed-start", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !ran.Load() {
		t.Error("expected cleanup to run after a failed start")
	}
}

func TestStart_PortInUseLogOmitsOSText(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig()
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	h := newHarness(t, cfg)

	err = h.ctrl.Start(context.Background(), okHandler())
	if err == nil {
		t.Fatal("expected Start to fail on a busy port")
	}

	var out syncBuffer
	logger := logging.New()
	logger.SetOutput(&out)
	logger.LogError(err)

	output := out.String()
	for _, leak := range []string{"bind:", "address already in use", "listen tcp"} {
		if strings.Contains(output, leak) {
			t.Errorf("log output contains OS error text %q:\n%s", leak, output)
		}
	}
	for _, want := range []string{"code=EADDRINUSE", "listen failed: EADDRINUSE"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log output:\n%s", want, output)
		}
	}
}

// stopOnStarting stops the controller from inside the Starting
// announcement, before the listener is bound.
type stopOnStarting struct {
	ctrl    *Controller
	stopErr error
}

func (p *stopOnStarting) Publish(subject string, data []byte) error {
	if subject == events.Subject(StateStarting.String()) {
		p.stopErr = p.ctrl.Stop(context.Background())
	}
	return nil
}

func TestStart_StoppedWhileStarting(t *testing.T) {
	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := free.Addr().(*net.TCPAddr).Port
	free.Close()

	cfg := testConfig()
	cfg.Port = port
	pub := &stopOnStarting{}
	h := newHarness(t, cfg, WithPublisher(pub))
	pub.ctrl = h.ctrl

	err = h.ctrl.Start(context.Background(), okHandler())
	if !apperrors.Is(err, apperrors.KindIncorrectUsage) {
		t.Fatalf("expected IncorrectUsageError, got %v", err)
	}
	if pub.stopErr != nil {
		t.Fatalf("Stop() during start error = %v", pub.stopErr)
	}
	if h.ctrl.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", h.ctrl.State())
	}
	if addr := h.ctrl.ListenAddr(); addr != nil {
		t.Errorf("ListenAddr() = %v, want nil", addr)
	}
	if n := h.signals.Active(); n != 0 {
		t.Errorf("expected no signal registration, got %d", n)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("port still bound after the aborted start: %v", err)
	}
	ln.Close()

	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestBindError_Other(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.ctrl.bindError(&net.OpError{
		Op:  "listen",
		Net: "tcp",
		Err: os.NewSyscallError("bind", syscall.EACCES),
	})
	if err.Message() != "(Code: EACCES)" {
		t.Errorf("message = %q", err.Message())
	}
	if err.Context() != "There was an error starting your server." {
		t.Errorf("context = %q", err.Context())
	}
	if err.Help() != "Please use the error code above to search for a solution." {
		t.Errorf("help = %q", err.Help())
	}
	if err.Code() != "EACCES" {
		t.Errorf("code = %q", err.Code())
	}

	if !errors.Is(err, syscall.EACCES) {
		t.Error("expected the OS error to stay reachable as the cause")
	}
	if strings.Contains(err.Stack(), "bind:") {
		t.Errorf("stack contains OS error text:\n%s", err.Stack())
	}

	unknown := h.ctrl.bindError(errors.New("no errno here"))
	if unknown.Message() != "(Code: unknown)" {
		t.Errorf("message = %q", unknown.Message())
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := h.ctrl.Start(context.Background(), okHandler())
	if !apperrors.Is(err, apperrors.KindIncorrectUsage) {
		t.Fatalf("expected IncorrectUsageError, got %v", err)
	}
}

func TestStart_NilHandler(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.ctrl.Start(context.Background(), nil)
	if !apperrors.Is(err, apperrors.KindIncorrectUsage) {
		t.Fatalf("expected IncorrectUsageError, got %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("state = %v, want Idle", h.ctrl.State())
	}
}

func TestStart_ProductionHidesAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	h := newHarness(t, cfg)

	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.ctrl.Stop(context.Background())

	output := h.log.String()
	if strings.Contains(output, "Listening on:") || strings.Contains(output, "127.0.0.1") {
		t.Errorf("production output must not include the address: %s", output)
	}
	if !strings.Contains(output, "Your task tracker api is now available") {
		t.Error("expected production availability message")
	}
	if !strings.Contains(output, "Your API is now offline") {
		t.Error("expected production offline message")
	}
}

func TestStart_TestModeConnectionMonitor(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true
	h := newHarness(t, cfg, WithMonitorInterval(20*time.Millisecond))

	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	h.ctrl.Stop(context.Background())

	output := h.log.String()
	if !strings.Contains(output, "connections currently open") {
		t.Error("expected connection monitor output")
	}
	if !strings.Contains(output, "Server has fully closed") {
		t.Error("expected close notice")
	}
}

// ============================================================================
// 2. Stop
// ============================================================================

func TestStop_WithoutStart(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.ctrl.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", h.ctrl.State())
	}
}

func TestStop_WaitsForSlowestCleanup(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var finished int32
	for i, d := range []time.Duration{0, 0, 300 * time.Millisecond} {
		h.ctrl.RegisterCleanupFunc("task"+strconv.Itoa(i), func(ctx context.Context) error {
			time.Sleep(d)
			atomic.AddInt32(&finished, 1)
			return nil
		})
	}

	start := time.Now()
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Stop returned after %v, before the slowest task", elapsed)
	}
	if atomic.LoadInt32(&finished) != 3 {
		t.Errorf("expected 3 tasks finished, got %d", finished)
	}
}

func TestStop_CleanupFailure(t *testing.T) {
	h := newHarness(t, testConfig())

	var completed int32
	h.ctrl.RegisterCleanupFunc("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})
	for i := 0; i < 2; i++ {
		h.ctrl.RegisterCleanupFunc("ok", func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&completed, 1)
			return nil
		})
	}

	err := h.ctrl.Stop(context.Background())
	if !errors.Is(err, cleanup.ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if atomic.LoadInt32(&completed) != 2 {
		t.Errorf("expected siblings to complete, got %d", completed)
	}
	if !strings.Contains(h.log.String(), "cleanup_failed") {
		t.Error("expected the failing task to be logged")
	}
}

func TestStop_DrainsInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, "finished")
	})

	h := newHarness(t, testConfig())
	if err := h.ctrl.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	url := baseURL(h.ctrl)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		got <- result{body: string(body), err: err}
	}()

	<-entered
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	r := <-got
	if r.err != nil || r.body != "finished" {
		t.Errorf("in-flight request = %q, %v; want finished", r.body, r.err)
	}
}

func TestStop_CancelledDuringInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		io.WriteString(w, "late")
	})

	h := newHarness(t, testConfig())
	t.Cleanup(func() { close(release) })

	taskErr := errors.New("flush failed")
	var ran atomic.Int32
	h.ctrl.RegisterCleanupFunc("flush", func(ctx context.Context) error {
		ran.Add(1)
		return taskErr
	})
	h.ctrl.RegisterCleanupFunc("close-store", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	if err := h.ctrl.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	url := baseURL(h.ctrl)
	go func() {
		if resp, err := http.Get(url); err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	err := h.ctrl.Stop(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the listener error to wrap context.Canceled, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "stop listener") {
		t.Errorf("expected a stop listener error, got %v", err)
	}
	if !errors.Is(err, cleanup.ErrTaskFailed) {
		t.Errorf("expected ErrTaskFailed, got %v", err)
	}
	if !errors.Is(err, taskErr) {
		t.Errorf("expected the task error to be wrapped, got %v", err)
	}
	if n := ran.Load(); n != 2 {
		t.Errorf("expected every cleanup task to run, got %d", n)
	}
	if h.ctrl.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", h.ctrl.State())
	}
}

func TestStop_TestModeCloseNoticeAfterDrain(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true
	h := newHarness(t, cfg)

	entered := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		time.Sleep(100 * time.Millisecond)
		h.log.Write([]byte("request finished\n"))
		io.WriteString(w, "finished")
	})
	if err := h.ctrl.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	url := baseURL(h.ctrl)

	got := make(chan error, 1)
	go func() {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
		}
		got <- err
	}()
	<-entered

	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-got; err != nil {
		t.Fatalf("in-flight request error = %v", err)
	}

	output := h.log.String()
	finished := strings.Index(output, "request finished")
	closed := strings.Index(output, "Server has fully closed")
	if finished < 0 || closed < 0 {
		t.Fatalf("missing request or close notice in output:\n%s", output)
	}
	if closed < finished {
		t.Errorf("close notice logged before the in-flight request finished:\n%s", output)
	}
}

func TestStop_ForceClosesAfterTimeout(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-r.Context().Done()
	})

	cfg := testConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	h := newHarness(t, cfg)
	if err := h.ctrl.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	url := baseURL(h.ctrl)

	go func() {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	start := time.Now()
	if err := h.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("forced close should not be an error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v, expected the timeout to bound it", elapsed)
	}
	if !strings.Contains(h.log.String(), "closing open connections") {
		t.Error("expected forced close to be logged")
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig())

	var calls int32
	h.ctrl.RegisterCleanupFunc("once", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("fail")
	})

	err1 := h.ctrl.Stop(context.Background())
	err2 := h.ctrl.Stop(context.Background())
	if err1 == nil || err1 != err2 {
		t.Fatalf("expected the same error twice, got %v / %v", err1, err2)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected cleanup to run once, got %d", calls)
	}
}

func TestRegisterCleanupTask_AfterStop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.Stop(context.Background())

	err := h.ctrl.RegisterCleanupFunc("late", func(ctx context.Context) error { return nil })
	if !errors.Is(err, cleanup.ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if err := h.ctrl.RegisterCleanupTask("nil", nil); !errors.Is(err, cleanup.ErrNilTask) {
		t.Fatalf("expected ErrNilTask, got %v", err)
	}
}

func TestStop_FinalizersRunAfterCleanupInReverse(t *testing.T) {
	h := newHarness(t, testConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	h.ctrl.RegisterFinalizer("first", func(ctx context.Context) error {
		record("first")
		return nil
	})
	h.ctrl.RegisterFinalizer("second", func(ctx context.Context) error {
		record("second")
		return errors.New("flush failed")
	})
	h.ctrl.RegisterCleanupFunc("task", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		record("task")
		return nil
	})

	err := h.ctrl.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "second: flush failed") {
		t.Fatalf("expected finalizer error, got %v", err)
	}

	want := []string{"task", "second", "first"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}

	if err := h.ctrl.RegisterFinalizer("late", func(ctx context.Context) error { return nil }); !errors.Is(err, cleanup.ErrDraining) {
		t.Errorf("expected ErrDraining after stop, got %v", err)
	}
}

// ============================================================================
// 3. Shutdown
// ============================================================================

func TestShutdown_ExitsWithCode(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.ctrl.Shutdown(3)
	waitDone(t, h.ctrl)

	if codes := h.exits.Codes(); len(codes) != 1 || codes[0] != 3 {
		t.Fatalf("exit codes = %v, want [3]", codes)
	}
	if h.ctrl.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d", h.ctrl.ExitCode())
	}
	if !strings.Contains(h.log.String(), "TaskTracker is shutting down") {
		t.Error("expected shutdown warning")
	}
}

func TestShutdown_FailureExitsOne(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.RegisterCleanupFunc("failing", func(ctx context.Context) error {
		return errors.New("cannot flush")
	})

	h.ctrl.Shutdown(0)
	waitDone(t, h.ctrl)

	if codes := h.exits.Codes(); len(codes) != 1 || codes[0] != 1 {
		t.Fatalf("exit codes = %v, want [1]", codes)
	}
	if !strings.Contains(h.log.String(), "TaskTracker did not shut down cleanly.") {
		t.Error("expected the stop failure to be logged")
	}
}

func TestShutdown_GraceDelay(t *testing.T) {
	h := newHarness(t, testConfig(), WithGraceDelay(150*time.Millisecond))

	start := time.Now()
	h.ctrl.Shutdown(0)
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("exit after %v, expected the grace delay", elapsed)
	}
}

func TestShutdown_Reentrant(t *testing.T) {
	h := newHarness(t, testConfig())

	release := make(chan struct{})
	h.ctrl.RegisterCleanupFunc("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	go h.ctrl.Shutdown(0)
	time.Sleep(20 * time.Millisecond)

	// A second call while the first is in flight must not start another.
	h.ctrl.Shutdown(5)
	close(release)
	waitDone(t, h.ctrl)

	if codes := h.exits.Codes(); len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("exit codes = %v, want [0]", codes)
	}
}

// ============================================================================
// 4. Signals
// ============================================================================

func TestSignals_ReinstallDoesNotDoubleRegister(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.ctrl.installSignals()
	h.ctrl.installSignals()
	if n := h.signals.Active(); n != 1 {
		t.Fatalf("expected 1 active registration, got %d", n)
	}

	h.signals.Send(syscall.SIGTERM)
	waitDone(t, h.ctrl)

	// Give a stray second handler a chance to run.
	time.Sleep(50 * time.Millisecond)
	if codes := h.exits.Codes(); len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("exit codes = %v, want [0]", codes)
	}
	if n := h.signals.Active(); n != 0 {
		t.Errorf("expected signals to be released after stop, got %d", n)
	}
}

func TestSignals_LatestControllerOwnsSignals(t *testing.T) {
	first := newHarness(t, testConfig())
	second := newHarness(t, testConfig(), WithSignals(first.signals))

	if err := first.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := second.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := first.signals.Active(); n != 1 {
		t.Fatalf("expected 1 active registration, got %d", n)
	}

	first.signals.Send(syscall.SIGTERM)
	waitDone(t, second.ctrl)

	time.Sleep(50 * time.Millisecond)
	if codes := second.exits.Codes(); len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("second exit codes = %v, want [0]", codes)
	}
	if codes := first.exits.Codes(); len(codes) != 0 {
		t.Errorf("first controller exited with %v, want no exit", codes)
	}
	if first.ctrl.State() != StateRunning {
		t.Errorf("first state = %v, want Running", first.ctrl.State())
	}
}

// ============================================================================
// 5. Events
// ============================================================================

func TestLifecycleEvents(t *testing.T) {
	bus := events.NewMemoryBus(events.DefaultConfig())
	defer bus.Close()
	sub, _ := bus.Subscribe(events.AllLifecycle)

	h := newHarness(t, testConfig(), WithPublisher(bus))
	if err := h.ctrl.Start(context.Background(), okHandler()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.ctrl.Stop(context.Background())

	want := []string{"Starting", "Running", "Stopping", "Stopped"}
	for i, state := range want {
		select {
		case msg := <-sub.Messages():
			ev, err := events.Decode(msg)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if ev.State != state {
				t.Errorf("event %d = %s, want %s", i, ev.State, state)
			}
			if ev.Env != "test" {
				t.Errorf("event env = %q", ev.Env)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", state)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "Idle"},
		{StateStarting, "Starting"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateStopped, "Stopped"},
		{State(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
