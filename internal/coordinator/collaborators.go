package coordinator

// The coordinator core depends only on the interfaces below. Default
// implementations live in internal/platform; tests use fakes.

// Reason describes why a node terminated.
type Reason string

// ReasonChannelSevered means the coordinator lost its communication channel
// to the node. It cannot be told apart from an orderly stop racing the
// notification, so it is logged and never acted on.
const ReasonChannelSevered Reason = "channel severed"

// Termination is an asynchronous notification that a spawned node is gone.
type Termination struct {
	NodeID string
	Reason Reason
	// Generation is the value Spawn returned for the process that exited.
	// Zero means the notification is not tied to one spawn and applies to
	// whatever is tracked under NodeID.
	Generation uint64
}

// CommandBuilder turns a node record into a platform launch command.
type CommandBuilder interface {
	BuildCommand(rec NodeRecord) (string, error)
}

// Spawner creates an out-of-process worker running command and returns a
// non-zero generation unique to that spawn. Unsolicited exits of the worker
// are reported on the termination channel under nodeID and generation.
type Spawner interface {
	Spawn(nodeID, command string) (uint64, error)
}

// Abandoner is implemented by spawners that can discard a worker whose
// launch timed out, so it neither joins late nor reports a termination.
type Abandoner interface {
	Abandon(nodeID string)
}

// JoinPredicate reports whether identity is observably part of the test
// cloud. It must not block and is called repeatedly while a launch polls.
type JoinPredicate interface {
	Joined(identity string) bool
}

// Stopper stops the worker known as identity and reports success.
type Stopper interface {
	StopNode(identity string) bool
}

// Layout resolves the filesystem locations the core treats as opaque.
type Layout interface {
	LaunchDir(release string) string
	LogPaths(nodeID string) LogPaths
}

// JoinFunc adapts a plain function to JoinPredicate.
type JoinFunc func(identity string) bool

func (f JoinFunc) Joined(identity string) bool { return f(identity) }

// StopFunc adapts a plain function to Stopper.
type StopFunc func(identity string) bool

func (f StopFunc) StopNode(identity string) bool { return f(identity) }
