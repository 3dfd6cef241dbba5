package coordinator

import (
	"fmt"
	"log"
	"time"
)

// Default join budget: 60 probes, 500ms apart.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultJoinTimeout  = 30 * time.Second
)

// IdentityFor returns the identity a node started as nodeID on host is
// expected to join with.
func IdentityFor(nodeID, host string) string {
	return nodeID + "@" + host
}

// Launcher spawns a worker and waits until it joins the test cloud.
//
// Launch blocks its caller for up to the join timeout and has no
// cancellation: once started, a launch runs until the worker joins or the
// budget is spent.
type Launcher struct {
	spawner  Spawner
	join     JoinPredicate
	logger   *log.Logger
	sleep    func(time.Duration)
	host     string
	timeout  time.Duration
	interval time.Duration
}

// NewLauncher builds a launcher. Non-positive durations select the defaults.
func NewLauncher(spawner Spawner, join JoinPredicate, host string, timeout, interval time.Duration) *Launcher {
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Launcher{
		spawner:  spawner,
		join:     join,
		host:     host,
		timeout:  timeout,
		interval: interval,
		sleep:    time.Sleep,
		logger:   log.Default(),
	}
}

// Attempts is the number of join probes a launch makes before giving up.
func (l *Launcher) Attempts() int {
	n := int(l.timeout / l.interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Launch runs command for nodeID and returns the identity the worker joined
// with and the spawn generation. A spawn failure is reported at once as
// ErrSpawn; a worker that never joins yields ErrTimeout after Attempts
// probes.
func (l *Launcher) Launch(nodeID, command string) (string, uint64, error) {
	generation, err := l.spawner.Spawn(nodeID, command)
	if err != nil {
		return "", 0, fmt.Errorf("%w: node %q: %v", ErrSpawn, nodeID, err)
	}

	identity := IdentityFor(nodeID, l.host)
	attempts := l.Attempts()
	for i := 0; i < attempts; i++ {
		if l.join.Joined(identity) {
			l.logger.Printf("node %s joined as %s after %d probe(s)", nodeID, identity, i+1)
			return identity, generation, nil
		}
		if i < attempts-1 {
			l.sleep(l.interval)
		}
	}

	if a, ok := l.spawner.(Abandoner); ok {
		a.Abandon(nodeID)
	}
	return "", 0, fmt.Errorf("%w: node %q (%s) after %d attempts", ErrTimeout, nodeID, identity, attempts)
}
