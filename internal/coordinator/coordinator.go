package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Settings are the coordinator-wide values. DataDir, PrivDir and
// PlatformRoot are opaque to the core and only reported through Query.
type Settings struct {
	DataDir      string
	PrivDir      string
	PlatformRoot string
	// Host is the host part of every identity, including the coordinator's.
	Host string
	// Name is the coordinator's own node name. Default: "coordinator".
	Name string
	// JoinTimeout bounds one launch; PollInterval spaces its join probes.
	JoinTimeout  time.Duration
	PollInterval time.Duration
}

// Deps are the collaborators the core drives.
type Deps struct {
	Builder CommandBuilder
	Spawner Spawner
	Join    JoinPredicate
	Stopper Stopper
	Layout  Layout
	// Terminations delivers unsolicited exits of spawned workers. It may be
	// nil when the spawner never reports any.
	Terminations <-chan Termination
	Logger       *log.Logger
}

type result struct {
	value any
	err   error
}

type request struct {
	fn    func() (any, error)
	reply chan result
}

// Coordinator tracks the workers of one test run.
//
// Every client call and every termination notification is funnelled into
// the single goroutine running Run, which owns the Registry. A Start keeps
// that goroutine busy for the whole launch, including the join poll, so
// requests are served strictly one at a time.
//
// Thread-safe: All exported methods may be called from any goroutine.
type Coordinator struct {
	settings     Settings
	identity     string
	registry     *Registry
	launcher     *Launcher
	builder      CommandBuilder
	stopper      Stopper
	layout       Layout
	logger       *log.Logger
	now          func() time.Time
	requests     chan request
	notify       chan Termination
	terminations <-chan Termination
	done         chan struct{}
	running      atomic.Bool

	// stopping and exitErr are only touched by the Run goroutine; err is
	// published to other goroutines by closing done.
	stopping bool
	exitErr  error
	err      error
}

// New wires a coordinator. It does not start serving until Run is called.
func New(settings Settings, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("command builder required")
	case deps.Spawner == nil:
		return nil, errors.New("spawner required")
	case deps.Join == nil:
		return nil, errors.New("join predicate required")
	case deps.Stopper == nil:
		return nil, errors.New("stopper required")
	case deps.Layout == nil:
		return nil, errors.New("layout required")
	}
	if settings.Host == "" {
		settings.Host = "localhost"
	}
	if settings.Name == "" {
		settings.Name = "coordinator"
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	launcher := NewLauncher(deps.Spawner, deps.Join, settings.Host, settings.JoinTimeout, settings.PollInterval)
	launcher.logger = logger

	return &Coordinator{
		settings:     settings,
		identity:     IdentityFor(settings.Name, settings.Host),
		registry:     NewRegistry(),
		launcher:     launcher,
		builder:      deps.Builder,
		stopper:      deps.Stopper,
		layout:       deps.Layout,
		logger:       logger,
		now:          time.Now,
		requests:     make(chan request),
		notify:       make(chan Termination, 16),
		terminations: deps.Terminations,
		done:         make(chan struct{}),
	}, nil
}

// Identity is the coordinator's own identity, the default contact point.
func (c *Coordinator) Identity() string { return c.identity }

// Settings returns the settings the coordinator runs with.
func (c *Coordinator) Settings() Settings { return c.settings }

// Run serves requests until Shutdown is called, ctx is canceled, or a
// permanent node dies. It returns nil in the first two cases, after
// stopping every tracked node. In the last case it returns an
// *UnexpectedNodeFailureError and abandons the remaining nodes.
//
// Run must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	defer close(c.done)

	c.logger.Printf("coordinator %s serving", c.identity)
	for {
		select {
		case req := <-c.requests:
			// Exits already queued happened before this request was made.
			c.drainTerminations()
			if c.stopping {
				req.reply <- result{err: ErrCoordinatorStopped}
				break
			}
			v, err := req.fn()
			req.reply <- result{value: v, err: err}
		case t, ok := <-c.terminations:
			if !ok {
				c.terminations = nil
				continue
			}
			c.supervise(t)
		case t := <-c.notify:
			c.supervise(t)
		case <-ctx.Done():
			c.logger.Printf("coordinator stopping: %v", ctx.Err())
			c.shutdownAll()
			c.stopping = true
		}

		if c.stopping {
			c.err = c.exitErr
			return c.err
		}
	}
}

// drainTerminations supervises every termination that is ready without
// blocking, stopping early once a permanent node has died.
func (c *Coordinator) drainTerminations() {
	for !c.stopping {
		select {
		case t, ok := <-c.terminations:
			if !ok {
				c.terminations = nil
				continue
			}
			c.supervise(t)
		case t := <-c.notify:
			c.supervise(t)
		default:
			return
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err returns Run's result once Done is closed, and nil before that.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Notify injects a termination notification from a source other than the
// spawner, such as the health monitor. It blocks until the loop accepts it
// or has stopped.
func (c *Coordinator) Notify(t Termination) {
	select {
	case c.notify <- t:
	case <-c.done:
	}
}

// Start launches a worker of release under nodeID and tracks it once it has
// joined. It returns the identity the worker joined with.
func (c *Coordinator) Start(ctx context.Context, release, nodeID string, extraArgs []string, opts Options) (string, error) {
	v, err := c.call(ctx, func() (any, error) {
		return c.start(release, nodeID, extraArgs, opts)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stop stops nodeID and stops tracking it. Tracking ends even when the
// stop primitive fails, in which case ErrStopFailed is returned.
func (c *Coordinator) Stop(ctx context.Context, nodeID string) error {
	_, err := c.call(ctx, func() (any, error) {
		return nil, c.stop(nodeID)
	})
	return err
}

// Query reads one field of a node record, or of the coordinator itself
// when nodeID is Global.
func (c *Coordinator) Query(ctx context.Context, nodeID string, field Field) (any, error) {
	return c.call(ctx, func() (any, error) {
		return c.query(nodeID, field)
	})
}

// Nodes returns a snapshot of every tracked record, sorted by node id.
func (c *Coordinator) Nodes(ctx context.Context) ([]NodeRecord, error) {
	v, err := c.call(ctx, func() (any, error) {
		return c.registry.Snapshot(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]NodeRecord), nil
}

// Shutdown stops every tracked node, empties the registry and ends Run.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	_, err := c.call(ctx, func() (any, error) {
		c.shutdownAll()
		c.stopping = true
		return nil, nil
	})
	return err
}

// call hands fn to the Run goroutine and waits for its result. A caller
// that gives up through ctx does not cancel fn; the buffered reply is
// simply dropped.
func (c *Coordinator) call(ctx context.Context, fn func() (any, error)) (any, error) {
	req := request{fn: fn, reply: make(chan result, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return nil, ErrCoordinatorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) start(release, nodeID string, extraArgs []string, opts Options) (string, error) {
	if nodeID == "" || nodeID == Global || strings.ContainsAny(nodeID, "@/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidNodeID, nodeID)
	}
	if release == "" {
		return "", fmt.Errorf("%w: release name required", ErrInvalidOption)
	}
	if c.registry.Has(nodeID) {
		return "", fmt.Errorf("%w: %q", ErrConflict, nodeID)
	}

	rec, err := c.newRecord(release, nodeID, extraArgs, opts)
	if err != nil {
		return "", err
	}
	command, err := c.builder.BuildCommand(rec.clone())
	if err != nil {
		return "", fmt.Errorf("%w: node %q: build command: %v", ErrSpawn, nodeID, err)
	}

	c.logger.Printf("starting node %s (release %s, policy %s)", nodeID, release, rec.DeathPolicy)
	identity, generation, err := c.launcher.Launch(nodeID, command)
	if err != nil {
		c.logger.Printf("node %s failed to start: %v", nodeID, err)
		return "", err
	}

	rec.ResolvedIdentity = identity
	rec.Generation = generation
	rec.StartedAt = c.now()
	if err := c.registry.Insert(rec); err != nil {
		return "", err
	}
	return identity, nil
}

func (c *Coordinator) newRecord(release, nodeID string, extraArgs []string, opts Options) (*NodeRecord, error) {
	policy, err := ParseDeathPolicy(opts.DeathPolicy)
	if err != nil {
		return nil, err
	}
	rec := &NodeRecord{
		ReleaseName:  release,
		NodeID:       nodeID,
		ContactPoint: opts.ContactPoint,
		LaunchDir:    opts.LaunchDir,
		DeathPolicy:  policy,
		ConfigRef:    opts.ConfigRef,
		LogPaths:     c.layout.LogPaths(nodeID),
	}
	if len(extraArgs) > 0 {
		rec.ExtraArgs = append([]string(nil), extraArgs...)
	}
	if rec.ContactPoint == "" {
		rec.ContactPoint = c.identity
	}
	if rec.LaunchDir == "" {
		rec.LaunchDir = c.layout.LaunchDir(release)
	}
	if rec.ConfigRef == "" {
		rec.ConfigRef = release
	}
	return rec, nil
}

func (c *Coordinator) stop(nodeID string) error {
	rec, ok := c.registry.Get(nodeID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, nodeID)
	}
	stopped := c.stopper.StopNode(rec.ResolvedIdentity)
	c.registry.Remove(nodeID)
	if !stopped {
		c.logger.Printf("node %s (%s) evicted but stop failed", nodeID, rec.ResolvedIdentity)
		return fmt.Errorf("%w: node %q (%s)", ErrStopFailed, nodeID, rec.ResolvedIdentity)
	}
	c.logger.Printf("node %s (%s) stopped", nodeID, rec.ResolvedIdentity)
	return nil
}

// shutdownAll stops every tracked node and empties the registry. A node
// that fails to stop is logged and does not hold up the rest.
func (c *Coordinator) shutdownAll() {
	records := c.registry.Drain()
	failed := 0
	for _, rec := range records {
		if !c.stopper.StopNode(rec.ResolvedIdentity) {
			failed++
			c.logger.Printf("shutdown: failed to stop node %s (%s)", rec.NodeID, rec.ResolvedIdentity)
		}
	}
	c.logger.Printf("shutdown: stopped %d of %d node(s)", len(records)-failed, len(records))
}
