// Package server implements the tasktracker lifecycle controller.
//
// # Overview
//
// A Controller owns the HTTP listener and sequences startup and shutdown:
//
//	Idle ──Start──▶ Starting ──bind ok──▶ Running ──Stop──▶ Stopping ──▶ Stopped
//	                    │
//	                    └── bind failed: InternalServerError, stays Starting
//
// Stop closes the listener, waits for in-flight requests up to
// ShutdownTimeout (then force-closes what is left), drains every cleanup
// task concurrently, publishes Stopped and finally runs finalizers. Cleanup
// runs even when the socket phase fails.
//
// Shutdown wraps Stop for process exit: it logs, stops, waits a short grace
// delay so log output can flush and calls the exit function with the given
// code, or 1 if Stop failed. SIGINT and SIGTERM call Shutdown(0).
//
// # Usage
//
//	ctrl := server.New(cfg, server.WithLogger(logger))
//	if err := ctrl.Start(ctx, handler); err != nil {
//	    logger.LogError(err)
//	    os.Exit(2)
//	}
//	ctrl.RegisterCleanupTask("jobs", cleanup.TaskFunc(jobs.Shutdown))
//	<-ctrl.Done()
//
// # Limits
//
//   - A Controller starts at most once.
//   - Stop does not cancel cleanup tasks; use cleanup.Config.Timeout to
//     bound them.
//   - Hijacked connections (websockets) are not tracked by the drain; their
//     handlers should watch the lifecycle state and close themselves.
package server
