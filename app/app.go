// Package app is the default request handler served by the lifecycle
// controller: health and status endpoints, a websocket feed of lifecycle
// events, and JSON error responses built from the error taxonomy.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/logging"
	"github.com/vinayprograms/tasktracker/server"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// Lifecycle is the view of the controller the handler needs.
type Lifecycle interface {
	State() server.State
	OpenConnections() int64
}

// Deps holds what the handler is built from. Only Env is required.
type Deps struct {
	Env       string
	Logger    *logging.Logger
	Lifecycle Lifecycle
	Bus       events.Bus
	Tracer    *telemetry.Tracer

	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit float64
	RateBurst int

	// PingInterval for the lifecycle feed. Default: 30s
	PingInterval time.Duration
}

// App is the root http.Handler.
type App struct {
	deps     Deps
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	limiter  *rate.Limiter
	upgrader *websocket.Upgrader
	router   chi.Router
}

var _ http.Handler = (*App)(nil)

// New builds the router.
func New(deps Deps) *App {
	a := &App{deps: deps}

	a.logger = deps.Logger
	if a.logger == nil {
		a.logger = logging.New()
	}
	a.logger = a.logger.WithComponent("app")

	a.tracer = deps.Tracer
	if a.tracer == nil {
		a.tracer = telemetry.GetTracer()
	}
	if a.deps.PingInterval <= 0 {
		a.deps.PingInterval = 30 * time.Second
	}
	if deps.RateLimit > 0 {
		burst := deps.RateBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(deps.RateLimit), burst)
	}
	a.upgrader = newUpgrader(a.production())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.recoverer)
	r.Use(a.trace)
	r.Use(a.maintenance)
	r.Use(a.rateLimit)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperrors.NotFound())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperrors.MethodNotAllowed())
	})

	r.Get("/health", a.health)
	r.Route("/v1/api", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/lifecycle", a.lifecycleFeed)
	})

	a.router = r
	return a
}

// Router exposes the router so callers can mount their own routes. The
// middleware stack applies to them too.
func (a *App) Router() chi.Router {
	return a.router
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *App) production() bool {
	return a.deps.Env == "production"
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /v1/api/status.
type StatusResponse struct {
	State       string `json:"state"`
	Env         string `json:"env"`
	Uptime      string `json:"uptime"`
	Connections int64  `json:"connections"`
}

func (a *App) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:  server.StateRunning.String(),
		Env:    a.deps.Env,
		Uptime: server.Uptime(),
	}
	if a.deps.Lifecycle != nil {
		resp.State = a.deps.Lifecycle.State().String()
		resp.Connections = a.deps.Lifecycle.OpenConnections()
	}
	writeJSON(w, http.StatusOK, resp)
}
