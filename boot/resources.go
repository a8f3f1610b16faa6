package boot

import (
	"context"
	"errors"

	"github.com/vinayprograms/tasktracker/config"
	apperrors "github.com/vinayprograms/tasktracker/errors"
	"github.com/vinayprograms/tasktracker/events"
	"github.com/vinayprograms/tasktracker/logging"
	"github.com/vinayprograms/tasktracker/server"
	"github.com/vinayprograms/tasktracker/telemetry"
)

// resources are the shared connections opened before the controller: the
// in-process event bus, the optional NATS bus and the optional trace
// provider.
type resources struct {
	bus      *events.MemoryBus
	nats     *events.NATSBus
	provider *telemetry.Provider
	tracer   *telemetry.Tracer
}

func (r *resources) open(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	s := cfg.Settings()

	r.bus = events.NewMemoryBus(events.DefaultConfig())
	r.tracer = telemetry.GetTracer()

	if s.Telemetry.Endpoint != "" {
		p, err := telemetry.InitProvider(ctx, s.Telemetry, telemetry.WithEnvironment(s.Env))
		if err != nil {
			return apperrors.InternalServer(
				apperrors.WithMessage("Cannot start tracing."),
				apperrors.WithContext("The telemetry exporter could not be created."),
				apperrors.WithHelp("Check telemetry.endpoint and telemetry.protocol."),
				apperrors.WithCause(err),
			)
		}
		r.provider = p
		r.tracer = p.Tracer()
		logger.Info("tracing enabled", map[string]interface{}{"protocol": s.Telemetry.Protocol})
	}

	if s.Events.NATSURL != "" {
		ncfg := events.DefaultNATSConfig()
		ncfg.URL = s.Events.NATSURL
		nb, err := events.NewNATSBus(ncfg)
		if err != nil {
			return apperrors.InternalServer(
				apperrors.WithMessage("Cannot connect to the event bus."),
				apperrors.WithContext("Lifecycle events could not be forwarded to NATS."),
				apperrors.WithHelp("Check events.natsUrl or leave it empty to keep events in process."),
				apperrors.WithCause(err),
			)
		}
		r.nats = nb
		logger.Info("forwarding lifecycle events to NATS")
	}
	return nil
}

// publisher returns where lifecycle events go.
func (r *resources) publisher() events.Publisher {
	if r.nats == nil {
		return r.bus
	}
	return events.Fanout{r.bus, r.nats}
}

// registerFinalizers hands the resources to the controller. They close after
// every cleanup task, so the Stopped event and the stop span still go out.
func (r *resources) registerFinalizers(ctrl *server.Controller) error {
	var errs []error
	if r.provider != nil {
		errs = append(errs, ctrl.RegisterFinalizer("telemetry", r.provider.Shutdown))
	}
	if r.nats != nil {
		errs = append(errs, ctrl.RegisterFinalizer("nats", func(context.Context) error {
			return r.nats.Close()
		}))
	}
	errs = append(errs, ctrl.RegisterFinalizer("events", func(context.Context) error {
		return r.bus.Close()
	}))
	return errors.Join(errs...)
}

// close releases resources when boot fails before the controller can.
func (r *resources) close(ctx context.Context) {
	if r.provider != nil {
		r.provider.Shutdown(ctx)
	}
	if r.nats != nil {
		r.nats.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
}
