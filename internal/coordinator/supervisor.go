package coordinator

// supervise applies a node's death policy to a termination notification.
// It runs on the Run goroutine. For a permanent node it records the poison
// result and marks the loop for exit; siblings are left running.
//
//	Launching ──▶ Active ──┬──▶ Stopped            (Stop / Shutdown)
//	                       ├──▶ Crashed-Tolerated  (temporary)
//	                       └──▶ Crashed-Fatal      (permanent)
func (c *Coordinator) supervise(t Termination) {
	if t.Reason == ReasonChannelSevered {
		c.logger.Printf("node %s: channel severed, ignoring", t.NodeID)
		return
	}

	rec, ok := c.registry.Get(t.NodeID)
	if !ok {
		c.logger.Printf("termination of untracked node %s ignored: %s", t.NodeID, t.Reason)
		return
	}
	if t.Generation != 0 && t.Generation != rec.Generation {
		c.logger.Printf("termination of an earlier %s process ignored: %s", t.NodeID, t.Reason)
		return
	}

	// Evict first, whatever the policy.
	c.registry.Remove(t.NodeID)

	switch rec.DeathPolicy {
	case Temporary:
		c.logger.Printf("WARNING: temporary node %s (%s) terminated unexpectedly: %s; evicted",
			rec.NodeID, rec.ResolvedIdentity, t.Reason)
	default:
		c.logger.Printf("FATAL: permanent node %s (%s) terminated unexpectedly: %s; %d other node(s) abandoned",
			rec.NodeID, rec.ResolvedIdentity, t.Reason, c.registry.Len())
		c.exitErr = &UnexpectedNodeFailureError{
			NodeID:   rec.NodeID,
			Identity: rec.ResolvedIdentity,
			Reason:   t.Reason,
		}
		c.stopping = true
	}
}
