package platform

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dreamware/testcloud/internal/coordinator"
)

// Layout derives launch directories and reserves log file names.
//
// Launch directories live under <PlatformRoot>/releases/<release>. Log
// files live in PrivDir and carry a per-run id so that repeated runs of a
// suite in the same directory do not clobber each other's logs.
type Layout struct {
	PlatformRoot string
	PrivDir      string
	RunID        string
}

// NewLayout returns a layout with a fresh run id.
func NewLayout(platformRoot, privDir string) *Layout {
	return &Layout{
		PlatformRoot: platformRoot,
		PrivDir:      privDir,
		RunID:        uuid.NewString()[:8],
	}
}

func (l *Layout) LaunchDir(release string) string {
	return filepath.Join(l.PlatformRoot, "releases", release)
}

func (l *Layout) LogPaths(nodeID string) coordinator.LogPaths {
	base := nodeID
	if l.RunID != "" {
		base += "." + l.RunID
	}
	return coordinator.LogPaths{
		Diagnostic: filepath.Join(l.PrivDir, base+".log"),
		Audit:      filepath.Join(l.PrivDir, base+".audit.log"),
	}
}

var _ coordinator.Layout = (*Layout)(nil)
