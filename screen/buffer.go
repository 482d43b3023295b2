// Package screen reconstructs a renderable "current screen" from a raw PTY
// output stream and fans it out to consumers at a bounded rate.
//
// Interactive CLIs repaint their whole visible state rather than emitting
// diffs, so everything since the last clear-screen sequence converges to the
// correct visible content without a terminal grid model.
package screen

import (
	"strings"
	"sync"
)

// DefaultMaxBuffer caps the raw accumulator. Output loss is acceptable here:
// this is display state, not request state.
const DefaultMaxBuffer = 256 * 1024

// clearMarkers are the sequences recognized as "discard prior visible
// content". Order matters only for readability; the scan finds the last
// occurrence of any of them.
var clearMarkers = []string{
	"\x1b[H\x1b[2J", // home + erase display, the common repaint prefix
	"\x1b[2J",
	"\x1b[3J", // erase display including scrollback
	"\x1bc",   // full terminal reset
}

// Buffer accumulates raw output and derives the current logical screen.
type Buffer struct {
	mu      sync.Mutex
	raw     strings.Builder
	current string
	max     int
}

// NewBuffer returns a Buffer capped at max bytes. max <= 0 selects
// DefaultMaxBuffer.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxBuffer
	}
	return &Buffer{max: max}
}

// Append adds a raw output fragment and recomputes the current screen.
func (b *Buffer) Append(fragment string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.raw.WriteString(fragment)
	if b.raw.Len() > b.max {
		// Keep the trailing 75% of capacity; the oldest output is dropped
		// silently.
		data := b.raw.String()
		keep := b.max * 3 / 4
		data = data[len(data)-keep:]
		b.raw.Reset()
		b.raw.WriteString(data)
	}
	b.current = deriveCurrent(b.raw.String())
}

// deriveCurrent returns the content after the last clear-screen marker, or
// the whole buffer when no marker is present. The result is always a suffix
// of raw.
func deriveCurrent(raw string) string {
	best := -1
	bestEnd := 0
	for _, marker := range clearMarkers {
		if idx := strings.LastIndex(raw, marker); idx > best {
			best = idx
			bestEnd = idx + len(marker)
		}
	}
	if best < 0 {
		return raw
	}
	return raw[bestEnd:]
}

// Current returns the current logical screen.
func (b *Buffer) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Raw returns the full retained output.
func (b *Buffer) Raw() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw.String()
}

// Len returns the retained output size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw.Len()
}

// Clear drops all retained output and the current screen.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw.Reset()
	b.current = ""
}
