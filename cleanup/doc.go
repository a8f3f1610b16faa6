// Package cleanup collects the shutdown work of tasktracker services and runs
// it when the server stops.
//
// # Overview
//
// Services register cleanup tasks while they start. When the lifecycle
// controller stops, DrainAll starts every task together and waits until each
// one has settled. A failing task does not cancel or delay its siblings; the
// drain as a whole is reported as failed.
//
//	┌──────────────────────────────────────────────────────────┐
//	│                        Registry                          │
//	├──────────────────────────────────────────────────────────┤
//	│  ┌──────────┐  ┌──────────┐  ┌──────────┐               │
//	│  │  jobs    │  │ telemetry│  │  events  │  (concurrent) │
//	│  └──────────┘  └──────────┘  └──────────┘               │
//	└──────────────────────────────────────────────────────────┘
//	                         ↑
//	                 Controller.Stop()
//
// # Usage
//
//	reg, err := cleanup.NewRegistry(cleanup.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	reg.RegisterFunc("jobs", func(ctx context.Context) error {
//	    return jobs.Shutdown(ctx)
//	})
//
//	result, err := reg.DrainAll(context.Background())
//	if err != nil {
//	    log.Printf("cleanup failed: %v (tasks: %v)", err, result.FailedTasks())
//	}
//
// # Limits
//
// Config.MaxConcurrency caps how many tasks run at once. Config.Timeout bounds
// the drain; tasks still running when it expires are reported in
// Result.Pending and their context is cancelled, but they are not waited for.
// Both are off by default.
package cleanup
