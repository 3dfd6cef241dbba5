package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// auditLog appends one line per lifecycle event:
//
//	2024-03-01T12:00:00Z joined identity=n1@host contact=http://127.0.0.1:8080
//
// A nil *auditLog discards everything.
type auditLog struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
	f   *os.File
}

// openAudit opens path for appending. An empty path yields a discarding log.
func openAudit(path string) (*auditLog, error) {
	if path == "" {
		return &auditLog{out: io.Discard, now: time.Now}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &auditLog{out: f, now: time.Now, f: f}, nil
}

// Record writes event followed by key=value pairs.
func (a *auditLog) Record(event string, kv ...string) {
	if a == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(a.now().UTC().Format(time.RFC3339))
	sb.WriteByte(' ')
	sb.WriteString(event)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, " %s=%s", kv[i], kv[i+1])
	}
	sb.WriteByte('\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = io.WriteString(a.out, sb.String())
}

func (a *auditLog) Close() error {
	if a == nil || a.f == nil {
		return nil
	}
	return a.f.Close()
}
