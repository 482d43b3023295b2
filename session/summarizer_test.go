package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizerRefresh(t *testing.T) {
	calls := 0
	s := newSummarizerWithRunner(func(ctx context.Context, prompt string) (string, error) {
		calls++
		require.Contains(t, prompt, "running the test suite")
		return `"Running the project test suite"`, nil
	})

	got, err := s.Refresh(context.Background(), "\x1b[32m$ go test ./...\x1b[0m\nrunning the test suite")
	require.NoError(t, err)
	// Wrapping quotes are stripped, escape codes never reach the prompt.
	require.Equal(t, "Running the project test suite", got)
	require.Equal(t, 1, calls)

	// Within the cooldown the cached summary is served without a new call.
	got, err = s.Refresh(context.Background(), "completely different output")
	require.NoError(t, err)
	require.Equal(t, "Running the project test suite", got)
	require.Equal(t, 1, calls)
}

func TestSummarizerEmptyScreen(t *testing.T) {
	s := newSummarizerWithRunner(func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("runner should not be called for an empty screen")
		return "", nil
	})

	got, err := s.Refresh(context.Background(), "   \n  ")
	require.NoError(t, err)
	require.Equal(t, "No output yet", got)
}

func TestSummarizerTruncatesLongSummary(t *testing.T) {
	s := newSummarizerWithRunner(func(ctx context.Context, prompt string) (string, error) {
		return strings.Repeat("w", 200), nil
	})

	got, err := s.Refresh(context.Background(), "some output")
	require.NoError(t, err)
	require.Len(t, got, SummaryMaxLength)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestSummarizerKeepsCacheOnError(t *testing.T) {
	boom := errors.New("cli unavailable")
	fail := false
	s := newSummarizerWithRunner(func(ctx context.Context, prompt string) (string, error) {
		if fail {
			return "", boom
		}
		return "first summary", nil
	})

	_, err := s.Refresh(context.Background(), "output")
	require.NoError(t, err)

	// Force a regeneration attempt past the cooldown.
	s.mu.Lock()
	s.updatedAt = s.updatedAt.Add(-2 * SummaryCooldown)
	s.mu.Unlock()

	fail = true
	got, err := s.Refresh(context.Background(), "newer output")
	require.ErrorIs(t, err, boom)
	require.Equal(t, "first summary", got)
}

func TestSummarizerKeepsTailOfLongScreens(t *testing.T) {
	var seen string
	s := newSummarizerWithRunner(func(ctx context.Context, prompt string) (string, error) {
		seen = prompt
		return "ok", nil
	})

	content := strings.Repeat("old ", 2000) + "the current action"
	_, err := s.Refresh(context.Background(), content)
	require.NoError(t, err)
	require.Contains(t, seen, "the current action")
}
