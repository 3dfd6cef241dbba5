package coordinator

import "fmt"

// query has no side effects. Against Global only the coordinator-wide
// fields are valid; against a node only the record fields are.
func (c *Coordinator) query(nodeID string, field Field) (any, error) {
	if nodeID == Global {
		return c.queryGlobal(field)
	}

	rec, ok := c.registry.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, nodeID)
	}
	return queryRecord(rec, field)
}

func (c *Coordinator) queryGlobal(field Field) (any, error) {
	switch field {
	case FieldDataDir:
		return c.settings.DataDir, nil
	case FieldPrivDir:
		return c.settings.PrivDir, nil
	case FieldPlatformRoot:
		return c.settings.PlatformRoot, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotGlobalState, field)
}

func queryRecord(rec *NodeRecord, field Field) (any, error) {
	switch field {
	case FieldReleaseName:
		return rec.ReleaseName, nil
	case FieldNodeID:
		return rec.NodeID, nil
	case FieldResolvedIdentity:
		if rec.ResolvedIdentity == "" {
			return nil, fmt.Errorf("%w: %q", ErrNotResolved, rec.NodeID)
		}
		return rec.ResolvedIdentity, nil
	case FieldLogPaths:
		return rec.LogPaths, nil
	case FieldContactPoint:
		return rec.ContactPoint, nil
	case FieldLaunchDir:
		return rec.LaunchDir, nil
	case FieldDeathPolicy:
		return rec.DeathPolicy, nil
	case FieldConfigRef:
		return rec.ConfigRef, nil
	case FieldExtraArgs:
		return append([]string(nil), rec.ExtraArgs...), nil
	case FieldStartedAt:
		return rec.StartedAt, nil
	}
	return nil, fmt.Errorf("%w: %q on node %q", ErrUnknownField, field, rec.NodeID)
}
