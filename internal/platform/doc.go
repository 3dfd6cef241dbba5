// Package platform provides the default collaborators the coordinator core
// drives on a Unix host: a directory Layout, a shell CommandBuilder for the
// cmd/node worker, a ProcessSpawner that supervises the spawned processes,
// and a Stopper that stops workers over HTTP with a kill fallback.
//
// Joining is observed through cluster.Membership: wrap Membership.Has with
// coordinator.JoinFunc to obtain the join predicate.
package platform
