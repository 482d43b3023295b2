package session

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"agent-relay/ansi"
)

const (
	// SummaryCooldown is the minimum time between summary regenerations
	SummaryCooldown = 60 * time.Second
	// SummaryMaxLength is the maximum length of a summary
	SummaryMaxLength = 80
	// SummaryTimeout is the timeout for generating a summary
	SummaryTimeout = 30 * time.Second

	summaryMaxContent = 4000
)

// summaryRunner produces a summary for a prompt. Injected in tests.
type summaryRunner func(ctx context.Context, prompt string) (string, error)

// Summarizer generates a one-line description of what the session is doing,
// using the agent CLI's own non-interactive mode. Results are cached and
// regenerated at most once per cooldown so the relay never hammers the CLI.
type Summarizer struct {
	mu        sync.Mutex
	run       summaryRunner
	summary   string
	updatedAt time.Time
}

// NewSummarizer creates a new Summarizer
func NewSummarizer() *Summarizer {
	return &Summarizer{run: runAgentPrint}
}

func newSummarizerWithRunner(run summaryRunner) *Summarizer {
	return &Summarizer{run: run}
}

// Summary returns the cached summary, which may be empty.
func (s *Summarizer) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Refresh regenerates the summary from the given screen content when the
// cooldown has expired; otherwise it returns the cached value.
func (s *Summarizer) Refresh(ctx context.Context, content string) (string, error) {
	s.mu.Lock()
	if !s.updatedAt.IsZero() && time.Since(s.updatedAt) < SummaryCooldown {
		cached := s.summary
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	stripped := strings.TrimSpace(ansi.Strip(content))
	if stripped == "" {
		return s.store("No output yet"), nil
	}

	// Keep the tail: the current action lives at the bottom of the screen.
	if len(stripped) > summaryMaxContent {
		stripped = stripped[len(stripped)-summaryMaxContent:]
	}

	prompt := fmt.Sprintf(`Summarize what's happening in this terminal session in 10 words or less. Focus on the current action or state. Be concise. Only output the summary, nothing else.

Terminal output:
%s`, stripped)

	ctx, cancel := context.WithTimeout(ctx, SummaryTimeout)
	defer cancel()

	out, err := s.run(ctx, prompt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return s.Summary(), fmt.Errorf("summary generation timed out")
		}
		return s.Summary(), err
	}

	summary := strings.TrimSpace(out)
	if len(summary) > SummaryMaxLength {
		summary = summary[:SummaryMaxLength-3] + "..."
	}
	summary = strings.Trim(summary, "\"'")

	return s.store(summary), nil
}

func (s *Summarizer) store(summary string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.updatedAt = time.Now()
	return summary
}

// runAgentPrint shells out to the agent CLI in non-interactive mode.
func runAgentPrint(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, "claude", "--print", prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("summary command failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.String(), nil
}
