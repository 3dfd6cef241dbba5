package platform

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// Stopper stops a worker by asking it to exit through its /control endpoint
// and, failing that, by killing its process.
//
// The process is released from the spawner before anything else so the
// exit that follows is not reported as a crash.
type Stopper struct {
	Members *cluster.Membership
	Procs   *ProcessSpawner
	// Grace is how long a worker gets to exit after a stop request before
	// it is killed. Default 5s.
	Grace  time.Duration
	Logger *log.Logger
}

func (s *Stopper) StopNode(identity string) bool {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	grace := s.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	nodeID, _, _ := strings.Cut(identity, "@")

	var proc *Proc
	if s.Procs != nil {
		proc = s.Procs.Release(nodeID)
	}

	asked := false
	if s.Members != nil {
		if member, ok := s.Members.Lookup(identity); ok {
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			err := cluster.PostJSON(ctx, strings.TrimRight(member.Addr, "/")+"/control",
				cluster.ControlRequest{Command: cluster.CommandStop}, nil)
			cancel()
			if err != nil {
				logger.Printf("stop %s: control request failed: %v", identity, err)
			} else {
				asked = true
			}
			s.Members.Leave(identity)
		}
	}

	if proc == nil {
		// Nothing local to wait for or kill; trust the worker's answer.
		return asked
	}

	if asked {
		select {
		case <-proc.Exited():
			return true
		case <-time.After(grace):
			logger.Printf("stop %s: pid %d still running after %v, killing", identity, proc.Pid(), grace)
		}
	}
	if err := proc.Kill(); err != nil {
		logger.Printf("stop %s: kill pid %d: %v", identity, proc.Pid(), err)
		return false
	}
	<-proc.Exited()
	return true
}

var _ coordinator.Stopper = (*Stopper)(nil)
