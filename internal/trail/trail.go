// Package trail keeps the diagnostic lines of one chat request.
//
// A Trail is owned by a single request. Lines are forwarded to the
// structured logger as they are added and retained in a fixed-size ring
// so they can be replayed to the client at the end of the request.
package trail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultCapacity is the number of lines a Trail keeps.
const DefaultCapacity = 100

// Trail is a bounded ring of diagnostic lines. Once full, the oldest
// line is overwritten. Safe for concurrent use.
type Trail struct {
	mu      sync.Mutex
	lines   []string
	start   int
	size    int
	dropped int
	logger  *slog.Logger
}

// New creates a trail that keeps up to capacity lines and logs each one
// through logger at Debug level. A nil logger only buffers.
func New(capacity int, logger *slog.Logger) *Trail {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Trail{lines: make([]string, capacity), logger: logger}
}

// Add records a line. attrs are passed to the logger only.
func (t *Trail) Add(msg string, attrs ...any) {
	if t == nil {
		return
	}
	if t.logger != nil {
		t.logger.Debug(msg, attrs...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx := (t.start + t.size) % len(t.lines)
	if t.size == len(t.lines) {
		t.start = (t.start + 1) % len(t.lines)
		t.dropped++
	} else {
		t.size++
	}
	t.lines[idx] = msg
}

// Addf records a formatted line.
func (t *Trail) Addf(format string, args ...any) {
	t.Add(fmt.Sprintf(format, args...))
}

// Lines returns the retained lines, oldest first.
func (t *Trail) Lines() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, t.size)
	for i := range t.size {
		out[i] = t.lines[(t.start+i)%len(t.lines)]
	}
	return out
}

// Len returns the number of retained lines.
func (t *Trail) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Dropped returns how many lines were evicted.
func (t *Trail) Dropped() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

type ctxKey struct{}

// WithTrail returns a context carrying t.
func WithTrail(ctx context.Context, t *Trail) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the trail in ctx, or nil. A nil *Trail accepts
// and discards lines.
func FromContext(ctx context.Context) *Trail {
	t, _ := ctx.Value(ctxKey{}).(*Trail)
	return t
}
