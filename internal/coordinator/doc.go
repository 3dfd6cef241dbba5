// Package coordinator implements the testcloud node lifecycle: launching
// worker processes for a test suite, tracking their metadata, reacting to
// their unsolicited termination, and tearing them down.
//
// # Overview
//
// A Coordinator tracks the workers ("nodes") of one test run by a
// caller-supplied node id. Starting a node spawns a process and waits until
// it has joined the test cloud; from then on the node is tracked until it
// is stopped, the coordinator shuts down, or the node dies on its own.
//
// # Architecture
//
//	┌─────────────────────────────────────────────┐
//	│                Coordinator                  │
//	├─────────────────────────────────────────────┤
//	│  client calls ─┐                            │
//	│                ├──▶ Run loop ──▶ Registry   │
//	│  terminations ─┘        │                   │
//	│                         ├──▶ Launcher       │
//	│                         │     spawn + poll  │
//	│                         └──▶ Supervisor     │
//	│                               death policy  │
//	└─────────────────────────────────────────────┘
//
// Registry: node id → NodeRecord. Owned by the Run goroutine; no locks.
//
// Launcher: spawns through a Spawner and probes a JoinPredicate every
// poll interval until the worker joins (ErrTimeout otherwise). The
// defaults are 60 probes 500ms apart.
//
// Supervisor: applies a node's DeathPolicy to a Termination. Temporary
// nodes are evicted and the run carries on. Permanent nodes are evicted
// and Run returns *UnexpectedNodeFailureError; the other nodes are left
// running. ReasonChannelSevered is only logged.
//
// HealthMonitor: probes joined workers over HTTP and reports the ones that
// stop answering as severed channels.
//
// # Concurrency
//
// All client calls and all terminations are serialized through Run. A
// Start holds the loop for the whole launch, so a slow worker delays every
// other caller for up to the join timeout. Parallel provisioning needs
// several coordinators. Terminations that arrive meanwhile are queued and
// applied after the launch, against the registry as it then stands.
//
// # Errors
//
// Caller errors are sentinel values wrapped with the node id; test them
// with errors.Is. Only Run returns *UnexpectedNodeFailureError. Note that
// ErrStopFailed still means the node is no longer tracked.
//
// # Usage Example
//
//	coord, err := coordinator.New(settings, coordinator.Deps{...})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() {
//	    if err := coord.Run(ctx); err != nil {
//	        log.Fatalf("test cloud failed: %v", err)
//	    }
//	}()
//
//	id, err := coord.Start(ctx, "relA", "n1", nil, coordinator.Options{DeathPolicy: "temporary"})
//	policy, err := coord.Query(ctx, "n1", coordinator.FieldDeathPolicy)
//	err = coord.Stop(ctx, "n1")
//	err = coord.Shutdown(ctx)
package coordinator
