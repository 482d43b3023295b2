// Package ui renders session screens to a local terminal. It is the in-process
// counterpart of the WebSocket clients: both consume the same flush stream.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"agent-relay/ansi"
)

const defaultWidth = 80

// Surface draws flushed screens to a terminal writer. Color and width are
// probed once at construction: piping output degrades to plain text instead of
// leaking escape sequences into files.
type Surface struct {
	mu      sync.Mutex
	out     io.Writer
	term    *termenv.Output
	isTTY   bool
	profile termenv.Profile
	width   int

	status   string
	queued   int
	lastDraw time.Time
}

// NewSurface probes the writer and returns a Surface for it.
func NewSurface(out io.Writer) *Surface {
	s := &Surface{
		out:     out,
		profile: termenv.Ascii,
		width:   defaultWidth,
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		s.isTTY = true
		s.term = termenv.NewOutput(f)
		s.profile = s.term.EnvColorProfile()
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			s.width = w
		}
	}
	return s
}

// Name implements the screen consumer contract.
func (s *Surface) Name() string { return "terminal" }

// Send draws a flushed screen. Implements the screen consumer contract.
func (s *Surface) Send(screen string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastDraw = time.Now()

	var b strings.Builder
	b.WriteString(s.header())
	b.WriteString("\n")

	body := ansi.Strip(screen)
	if s.profile != termenv.Ascii {
		body = ansi.Styled(ansi.Render(screen))
	}
	for _, line := range strings.Split(body, "\n") {
		b.WriteString(truncate.String(line, uint(s.width)))
		b.WriteString("\n")
	}

	if s.isTTY {
		s.term.ClearScreen()
	}
	_, err := io.WriteString(s.out, b.String())
	return err
}

// SetStatus updates the session state shown in the header.
func (s *Surface) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetQueueCount updates the queued-request count shown in the header.
func (s *Surface) SetQueueCount(n int) {
	s.mu.Lock()
	s.queued = n
	s.mu.Unlock()
}

// Resize overrides the probed width.
func (s *Surface) Resize(width int) {
	if width <= 0 {
		return
	}
	s.mu.Lock()
	s.width = width
	s.mu.Unlock()
}

// header lays out title on the left, status and queue depth on the right.
// Padding is computed from visible widths so styling never shifts the layout.
// Caller holds mu.
func (s *Surface) header() string {
	left := "agent-relay"
	status := s.statusLabel()
	tail := fmt.Sprintf(" · %d queued · %s", s.queued, FormatRelativeTime(s.lastDraw))
	plainRight := statusIcon(status) + " " + status + tail

	pad := s.width - runewidth.StringWidth(left) - runewidth.StringWidth(plainRight)
	if pad < 1 {
		pad = 1
	}
	spaces := strings.Repeat(" ", pad)

	if s.profile == termenv.Ascii {
		return left + spaces + plainRight
	}
	return titleStyle.Render(left) + spaces + statusBadge(status) + mutedStyle.Render(tail)
}

func (s *Surface) statusLabel() string {
	if s.status == "" {
		return "not-started"
	}
	return s.status
}
