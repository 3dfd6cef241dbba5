// Package cluster holds the wire types and HTTP helpers shared by the
// testcloud coordinator daemon and the worker nodes it launches, together
// with the Membership table that records which workers have joined.
//
// # Overview
//
// A worker joins the test cloud by POSTing a RegisterRequest to its
// contact point. The contact point is either the coordinator daemon or
// another worker that forwards the request upstream. The coordinator keeps
// every joined worker in a Membership, which is what the coordinator's
// join predicate consults while a launch is polling:
//
//	┌──────────────┐   spawn    ┌──────────┐
//	│ Coordinator  │ ─────────▶ │  Worker  │
//	│              │            │          │
//	│  Membership ◀┼────────────┤ /register│
//	│  (joined?)   │  register  │          │
//	└──────────────┘            └──────────┘
//
// # Communication Protocol
//
// All traffic is JSON over HTTP:
//
// Join (POST /register):
//   - Sent by a worker once its listener is up
//   - Retried until the contact point accepts it
//
// Liveness (GET /health):
//   - Probed by the coordinator's health monitor
//   - Repeated failures are reported as a severed channel
//
// Control (POST /control):
//   - ControlRequest{Command: "stop"} asks a worker to exit cleanly
//   - ControlRequest{Command: "crash"} makes it exit with a failure status
//
// # Concurrency Model
//
// Membership is safe for concurrent use. Registration handlers write to it
// while the coordinator loop reads it from inside a blocking launch poll,
// so it is guarded by its own RWMutex and never by the coordinator's.
package cluster
