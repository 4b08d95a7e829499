package devserver

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultLogRingSize = 500

// logRing retains the most recent log entries for /admin/logs.
type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func newLogRing(size int) *logRing {
	return &logRing{entries: make([]LogEntry, size)}
}

func (lr *logRing) add(level slog.Level, component, msg string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.entries[lr.next] = LogEntry{
		Time:      time.Now().UTC(),
		Level:     strings.ToLower(level.String()),
		Component: component,
		Message:   msg,
	}
	lr.next = (lr.next + 1) % len(lr.entries)
	if lr.next == 0 {
		lr.full = true
	}
}

// query returns matching entries newest first. minLevel filters by
// severity; an empty component matches everything.
func (lr *logRing) query(minLevel slog.Level, component string, limit int) []LogEntry {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	n := lr.next
	if lr.full {
		n = len(lr.entries)
	}
	out := make([]LogEntry, 0, min(n, limit))
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (lr.next - 1 - i + len(lr.entries)) % len(lr.entries)
		e := lr.entries[idx]
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(e.Level)); err != nil || lvl < minLevel {
			continue
		}
		if component != "" && e.Component != component {
			continue
		}
		out = append(out, e)
	}
	return out
}
