// Package api exposes a Coordinator over HTTP and provides the matching
// Go client.
//
// Routes:
//
//	POST   /nodes               start a worker, blocks until it joins
//	GET    /nodes               tracked node records
//	DELETE /nodes/{id}          stop a worker
//	GET    /nodes/{id}/{field}  query a record field, or a global one with id "global"
//	POST   /shutdown            stop every worker and end the run
//	POST   /register            worker join (cluster.RegisterRequest)
//	GET    /members             joined workers
//	GET    /health              liveness
//
// Failures carry {"error": message, "code": kind}. The Client turns them
// back into errors that match the coordinator sentinels:
//
//	_, err := client.Start(ctx, "relA", "n1", nil, coordinator.Options{})
//	if errors.Is(err, coordinator.ErrConflict) {
//		// n1 is already running
//	}
package api
