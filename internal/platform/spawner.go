package platform

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// Proc is one spawned worker process.
type Proc struct {
	cmd        *exec.Cmd
	exited     chan struct{}
	err        error // set before exited is closed
	generation uint64
}

// Pid returns the process id.
func (p *Proc) Pid() int { return p.cmd.Process.Pid }

// Generation is the value Spawn returned for this process.
func (p *Proc) Generation() uint64 { return p.generation }

// Exited is closed once the process has been reaped.
func (p *Proc) Exited() <-chan struct{} { return p.exited }

// Kill sends SIGKILL. Killing an already reaped process is not an error.
func (p *Proc) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ProcessSpawner runs launch commands through /bin/sh and reports workers
// that exit on their own as coordinator terminations.
//
// A process is "owned" from Spawn until it exits or is released. Only owned
// processes report their exit; Release and Abandon give up ownership first,
// so an orderly stop never looks like a crash.
//
// With a membership attached, a worker that exits on its own, is abandoned
// or is killed by KillAll also leaves the membership, so a later launch
// under the same node id cannot be mistaken for joined.
type ProcessSpawner struct {
	shell   string
	output  io.Writer
	logger  *log.Logger
	terms   chan coordinator.Termination
	done    chan struct{}
	procs   map[string]*Proc
	members *cluster.Membership
	host    string
	seq     uint64
	mu      sync.Mutex
	closed  bool
}

// NewProcessSpawner creates a spawner. Worker stdout and stderr go to
// output, or os.Stderr when nil.
func NewProcessSpawner(output io.Writer, logger *log.Logger) *ProcessSpawner {
	if output == nil {
		output = os.Stderr
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ProcessSpawner{
		shell:  "/bin/sh",
		output: output,
		logger: logger,
		terms:  make(chan coordinator.Termination, 16),
		done:   make(chan struct{}),
		procs:  make(map[string]*Proc),
	}
}

// SetMembership makes the spawner drop nodeID@host from members whenever it
// reaps, abandons or kills the process of nodeID.
func (s *ProcessSpawner) SetMembership(members *cluster.Membership, host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
	s.host = host
}

// Terminations delivers exits of owned processes.
func (s *ProcessSpawner) Terminations() <-chan coordinator.Termination {
	return s.terms
}

func (s *ProcessSpawner) Spawn(nodeID, command string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("spawner closed")
	}
	if _, exists := s.procs[nodeID]; exists {
		return 0, fmt.Errorf("a process for node %q is still running", nodeID)
	}

	cmd := exec.Command(s.shell, "-c", command)
	cmd.Stdout = s.output
	cmd.Stderr = s.output
	// Bound Wait when a grandchild keeps the output pipe open after a kill.
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	s.seq++
	p := &Proc{cmd: cmd, exited: make(chan struct{}), generation: s.seq}
	s.procs[nodeID] = p
	s.logger.Printf("spawned node %s (pid %d, generation %d)", nodeID, cmd.Process.Pid, p.generation)

	go s.wait(nodeID, p)
	return p.generation, nil
}

func (s *ProcessSpawner) wait(nodeID string, p *Proc) {
	p.err = p.cmd.Wait()
	close(p.exited)

	s.mu.Lock()
	owned := s.procs[nodeID] == p
	if owned {
		delete(s.procs, nodeID)
		s.forget(nodeID)
	}
	s.mu.Unlock()
	if !owned {
		return
	}

	t := coordinator.Termination{NodeID: nodeID, Reason: exitReason(p.err), Generation: p.generation}
	s.logger.Printf("node %s (pid %d) exited: %s", nodeID, p.Pid(), t.Reason)
	select {
	case s.terms <- t:
	case <-s.done:
	}
}

// forget drops nodeID from the attached membership. Callers hold s.mu.
func (s *ProcessSpawner) forget(nodeID string) {
	if s.members != nil {
		s.members.Leave(coordinator.IdentityFor(nodeID, s.host))
	}
}

// Release gives up ownership of nodeID's process without touching it. The
// returned process, if any, no longer reports its exit.
func (s *ProcessSpawner) Release(nodeID string) *Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[nodeID]
	delete(s.procs, nodeID)
	return p
}

// Abandon releases and kills the process of a launch that timed out.
func (s *ProcessSpawner) Abandon(nodeID string) {
	p := s.Release(nodeID)
	if p == nil {
		return
	}
	if err := p.Kill(); err != nil {
		s.logger.Printf("abandon node %s: kill pid %d: %v", nodeID, p.Pid(), err)
	} else {
		<-p.Exited()
		s.logger.Printf("abandoned node %s (pid %d)", nodeID, p.Pid())
	}
	// A late join from the dead process must not count for the next launch.
	s.mu.Lock()
	s.forget(nodeID)
	s.mu.Unlock()
}

// KillAll releases and kills every owned process and waits for them to be
// reaped. It is used when the coordinator dies without stopping its nodes.
func (s *ProcessSpawner) KillAll() {
	s.mu.Lock()
	procs := s.procs
	s.procs = make(map[string]*Proc)
	s.mu.Unlock()

	for nodeID, p := range procs {
		if err := p.Kill(); err != nil {
			s.logger.Printf("kill node %s (pid %d): %v", nodeID, p.Pid(), err)
		} else {
			<-p.Exited()
			s.logger.Printf("killed node %s (pid %d)", nodeID, p.Pid())
		}
		s.mu.Lock()
		s.forget(nodeID)
		s.mu.Unlock()
	}
}

// Running reports whether nodeID has an owned, live process.
func (s *ProcessSpawner) Running(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[nodeID]
	return ok
}

// Close stops delivering terminations and refuses further spawns. Processes
// still running are left alone; the coordinator decides their fate.
func (s *ProcessSpawner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// exitReason renders a Wait error the way an operator reads it.
func exitReason(err error) coordinator.Reason {
	if err == nil {
		return "normal"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return coordinator.Reason(fmt.Sprintf("killed by signal %s", status.Signal()))
			}
			return coordinator.Reason(fmt.Sprintf("exit status %d", status.ExitStatus()))
		}
		return coordinator.Reason(exitErr.Error())
	}
	return coordinator.Reason(err.Error())
}

var (
	_ coordinator.Spawner   = (*ProcessSpawner)(nil)
	_ coordinator.Abandoner = (*ProcessSpawner)(nil)
)
