package inspect

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot represents relay state at a point in time.
type Snapshot struct {
	// Timestamp when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// Version of the snapshot format.
	Version string `json:"version"`

	// Status is the session status (e.g. "ready", "busy").
	Status string `json:"status"`

	// Queue lists the request queue, pending items first.
	Queue []QueueItemInfo `json:"queue"`

	// TurnCount is the number of recorded transcript turns.
	TurnCount int `json:"turn_count"`

	// Screen is the current screen content with escape codes stripped.
	Screen string `json:"screen"`
}

// QueueItemInfo describes one queued request.
type QueueItemInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

// NewSnapshot creates a new snapshot with current timestamp.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Timestamp: time.Now(),
		Version:   "1.0.0",
	}
}

// WithStatus sets the session status and returns the snapshot for chaining.
func (s *Snapshot) WithStatus(status string) *Snapshot {
	s.Status = status
	return s
}

// WithQueue sets the queue items.
func (s *Snapshot) WithQueue(items []QueueItemInfo) *Snapshot {
	s.Queue = items
	return s
}

// WithTranscript sets the transcript turn count.
func (s *Snapshot) WithTranscript(turns int) *Snapshot {
	s.TurnCount = turns
	return s
}

// WithScreen sets the plain-text screen content.
func (s *Snapshot) WithScreen(screen string) *Snapshot {
	s.Screen = screen
	return s
}

// ToText returns a human-readable text representation.
func (s *Snapshot) ToText() string {
	var b strings.Builder

	b.WriteString("=== Relay Snapshot ===\n")
	b.WriteString(fmt.Sprintf("Time: %s\n", s.Timestamp.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Status: %s\n", s.Status))
	b.WriteString(fmt.Sprintf("Turns: %d\n", s.TurnCount))

	b.WriteString("\n--- Queue ---\n")
	for _, item := range s.Queue {
		b.WriteString(fmt.Sprintf("  [%s] %s: %s\n", item.Status, item.ID, item.Text))
	}

	if s.Screen != "" {
		b.WriteString("\n--- Screen ---\n")
		b.WriteString(s.Screen)
		if !strings.HasSuffix(s.Screen, "\n") {
			b.WriteString("\n")
		}
	}

	return b.String()
}
