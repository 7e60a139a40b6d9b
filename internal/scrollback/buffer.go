// Package scrollback holds the append-only history of styled lines shared by
// the transport, the scripting bridge and the renderer.
package scrollback

import (
	"iter"
	"sync"

	"github.com/cory-johannsen/mudforge/internal/ansi"
)

// Buffer is an ordered, append-only collection of styled lines.
//
// Any number of goroutines may read while one appends. Stored lines are
// never mutated, so readers iterate over a captured slice without holding
// the lock and never observe a line mid-construction.
type Buffer struct {
	mu    sync.RWMutex
	lines []ansi.Line
}

// New creates an empty Buffer with room for capacity lines.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{lines: make([]ansi.Line, 0, capacity)}
}

// Append stores a private copy of line at the end of the buffer.
func (b *Buffer) Append(line ansi.Line) {
	own := line.Clone()
	if own == nil {
		own = ansi.Line{}
	}
	b.mu.Lock()
	b.lines = append(b.lines, own)
	b.mu.Unlock()
}

// AppendAll stores copies of lines under a single lock acquisition so a
// reader sees either none or all of them.
func (b *Buffer) AppendAll(lines []ansi.Line) {
	if len(lines) == 0 {
		return
	}
	own := make([]ansi.Line, len(lines))
	for i, l := range lines {
		own[i] = l.Clone()
		if own[i] == nil {
			own[i] = ansi.Line{}
		}
	}
	b.mu.Lock()
	b.lines = append(b.lines, own...)
	b.mu.Unlock()
}

// AppendRun stores a single-run line.
func (b *Buffer) AppendRun(text string, fg ansi.Color) {
	b.Append(ansi.Line{{Text: text, Foreground: fg}})
}

// Len returns the number of stored lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// snapshot returns the lines in [from, to) clamped to the current length.
// The returned slice has its capacity capped so it cannot alias later appends.
func (b *Buffer) snapshot(from, to int) []ansi.Line {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.lines)
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from >= to {
		return nil
	}
	return b.lines[from:to:to]
}

// ReadRange yields copies of the lines with indices in [from, to). The
// range is clamped to the lines present when iteration starts; iterating
// again yields identical lines, whatever the caller did to earlier copies.
func (b *Buffer) ReadRange(from, to int) iter.Seq[ansi.Line] {
	return func(yield func(ansi.Line) bool) {
		for _, l := range b.snapshot(from, to) {
			if !yield(l.Clone()) {
				return
			}
		}
	}
}

// Tail yields the last n lines.
func (b *Buffer) Tail(n int) iter.Seq[ansi.Line] {
	return func(yield func(ansi.Line) bool) {
		total := b.Len()
		for l := range b.ReadRange(total-n, total) {
			if !yield(l) {
				return
			}
		}
	}
}

// Lines returns copies of the lines from index from onward.
// Callers polling for new output pass the previous Len().
func (b *Buffer) Lines(from int) []ansi.Line {
	snap := b.snapshot(from, int(^uint(0)>>1))
	if snap == nil {
		return nil
	}
	out := make([]ansi.Line, len(snap))
	for i, l := range snap {
		out[i] = l.Clone()
	}
	return out
}
