package platform

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dreamware/testcloud/internal/cluster"
	"github.com/dreamware/testcloud/internal/coordinator"
)

// Environment variables read by cmd/node.
const (
	EnvNodeID       = "NODE_ID"
	EnvNodeIdentity = "NODE_IDENTITY"
	EnvContactAddr  = "CONTACT_ADDR"
	EnvConfigRef    = "NODE_CONFIG"
	EnvLog          = "NODE_LOG"
	EnvAuditLog     = "NODE_AUDIT_LOG"
	EnvListen       = "NODE_LISTEN"
)

// CommandBuilder produces a /bin/sh command line that starts the worker
// binary found in a record's launch directory.
//
// The worker needs an HTTP address to join through, so the record's contact
// identity is resolved here: the coordinator's own identity maps to
// CoordinatorAddr, any other identity must already be a member.
type CommandBuilder struct {
	Host                string
	CoordinatorIdentity string
	CoordinatorAddr     string
	Members             *cluster.Membership
	// Binary is the worker executable name inside the launch dir. Default "node".
	Binary string
	// Listen is passed as NODE_LISTEN. Default "<Host>:0".
	Listen string
}

func (b *CommandBuilder) BuildCommand(rec coordinator.NodeRecord) (string, error) {
	contact, err := b.contactAddr(rec.ContactPoint)
	if err != nil {
		return "", err
	}
	binary := b.Binary
	if binary == "" {
		binary = "node"
	}
	listen := b.Listen
	if listen == "" {
		listen = b.Host + ":0"
	}

	env := []struct{ key, value string }{
		{EnvNodeID, rec.NodeID},
		{EnvNodeIdentity, coordinator.IdentityFor(rec.NodeID, b.Host)},
		{EnvContactAddr, contact},
		{EnvConfigRef, rec.ConfigRef},
		{EnvLog, rec.LogPaths.Diagnostic},
		{EnvAuditLog, rec.LogPaths.Audit},
		{EnvListen, listen},
	}

	var sb strings.Builder
	for _, kv := range env {
		sb.WriteString(kv.key)
		sb.WriteByte('=')
		sb.WriteString(shellQuote(kv.value))
		sb.WriteByte(' ')
	}
	sb.WriteString("exec ")
	sb.WriteString(shellQuote(filepath.Join(rec.LaunchDir, binary)))
	for _, arg := range rec.ExtraArgs {
		sb.WriteByte(' ')
		sb.WriteString(shellQuote(arg))
	}
	return sb.String(), nil
}

func (b *CommandBuilder) contactAddr(identity string) (string, error) {
	if identity == b.CoordinatorIdentity {
		return b.CoordinatorAddr, nil
	}
	if b.Members != nil {
		if node, ok := b.Members.Lookup(identity); ok {
			return node.Addr, nil
		}
	}
	return "", fmt.Errorf("contact point %q has not joined", identity)
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%_-+=:,./", r)
}

var _ coordinator.CommandBuilder = (*CommandBuilder)(nil)
