package coordinator

import (
	"fmt"
	"time"
)

// Global is the pseudo node id used to query coordinator-wide settings.
// It cannot be used as the id of a real node.
const Global = "global"

// DeathPolicy decides how the coordinator reacts when a node terminates
// without being asked to.
type DeathPolicy string

const (
	// Permanent nodes are required for the whole run; an unsolicited exit
	// terminates the coordinator with UnexpectedNodeFailureError.
	Permanent DeathPolicy = "permanent"
	// Temporary nodes may die; the coordinator evicts them and carries on.
	Temporary DeathPolicy = "temporary"
)

// ParseDeathPolicy maps the empty string to Permanent and rejects unknown values.
func ParseDeathPolicy(s string) (DeathPolicy, error) {
	switch DeathPolicy(s) {
	case "", Permanent:
		return Permanent, nil
	case Temporary:
		return Temporary, nil
	}
	return "", fmt.Errorf("%w: death policy %q", ErrInvalidOption, s)
}

// LogPaths names the two log files reserved for a node. The coordinator
// never writes them; they are handed to the worker and kept for diagnostics.
type LogPaths struct {
	Diagnostic string `json:"diagnostic"`
	Audit      string `json:"audit"`
}

// Options are the per-start overrides. Zero values select the defaults.
type Options struct {
	// ContactPoint is the identity the worker joins through.
	// Default: the coordinator's own identity.
	ContactPoint string `json:"contactPoint,omitempty"`
	// LaunchDir holds the artifacts used to start the worker.
	// Default: derived from the platform root and release name.
	LaunchDir string `json:"launchDir,omitempty"`
	// DeathPolicy is "permanent" (default) or "temporary".
	DeathPolicy string `json:"deathPolicy,omitempty"`
	// ConfigRef names the configuration to apply. Default: the release name.
	ConfigRef string `json:"configRef,omitempty"`
}

// NodeRecord is everything the coordinator knows about one tracked worker.
// Records are owned by the coordinator loop; callers only ever see copies.
type NodeRecord struct {
	StartedAt        time.Time   `json:"startedAt"`
	ReleaseName      string      `json:"releaseName"`
	NodeID           string      `json:"nodeId"`
	ResolvedIdentity string      `json:"resolvedIdentity,omitempty"`
	ContactPoint     string      `json:"contactPoint"`
	LaunchDir        string      `json:"launchDir"`
	DeathPolicy      DeathPolicy `json:"deathPolicy"`
	ConfigRef        string      `json:"configRef"`
	LogPaths         LogPaths    `json:"logPaths"`
	ExtraArgs        []string    `json:"extraArgs,omitempty"`
	Generation       uint64      `json:"-"` // spawn being tracked
}

// clone returns a copy that shares no mutable state with r.
func (r *NodeRecord) clone() NodeRecord {
	out := *r
	if r.ExtraArgs != nil {
		out.ExtraArgs = append([]string(nil), r.ExtraArgs...)
	}
	return out
}

// Field names a queryable attribute of a node record or of the coordinator.
type Field string

// Node record fields.
const (
	FieldReleaseName      Field = "releaseName"
	FieldNodeID           Field = "nodeId"
	FieldResolvedIdentity Field = "resolvedIdentity"
	FieldLogPaths         Field = "logPaths"
	FieldContactPoint     Field = "contactPoint"
	FieldLaunchDir        Field = "launchDir"
	FieldDeathPolicy      Field = "deathPolicy"
	FieldConfigRef        Field = "configRef"
	FieldExtraArgs        Field = "extraArgs"
	FieldStartedAt        Field = "startedAt"
)

// Coordinator-wide fields, valid only against Global.
const (
	FieldDataDir      Field = "dataDir"
	FieldPrivDir      Field = "privDir"
	FieldPlatformRoot Field = "platformRoot"
)
