package logger

import (
	"strings"
	"sync"
)

const ringCapacity = 200

// ringBuffer keeps the most recent rendered log lines in memory.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

var defaultRing = &ringBuffer{lines: make([]string, ringCapacity)}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.next] = line
		r.next = (r.next + 1) % ringCapacity
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

func (r *ringBuffer) Sync() error {
	return nil
}

func (r *ringBuffer) recent(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = ringCapacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]string, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += ringCapacity
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.lines[(start+i)%ringCapacity])
	}
	return out
}

// RecentLogLines returns up to limit of the most recent log lines, oldest first.
func RecentLogLines(limit int) []string {
	return defaultRing.recent(limit)
}
