package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agent-relay/config"
	"agent-relay/session"
)

func TestSessionOptionsMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ChunkSize = 128
	cfg.ChunkDelayMs = 5
	cfg.ThrottleIntervalMs = 100
	cfg.IdleClearSec = 60
	cfg.StartupTimeoutMs = 2000
	cfg.OptimisticReadyMs = 500
	cfg.MaxBufferBytes = 1024

	opts := sessionOptions(cfg)
	require.Equal(t, 128, opts.Controller.ChunkSize)
	require.Equal(t, 5*time.Millisecond, opts.Controller.ChunkDelay)
	require.Equal(t, 100*time.Millisecond, opts.ThrottleInterval)
	require.Equal(t, 60*time.Second, opts.IdleClear)
	require.Equal(t, 2*time.Second, opts.StartupTimeout)
	require.Equal(t, 500*time.Millisecond, opts.ReadyGrace)
	require.Equal(t, 1024, opts.MaxBuffer)
	// No configured patterns, so the defaults apply unchanged.
	require.Nil(t, opts.Matchers)
}

func TestSessionOptionsReadyPatterns(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReadyPatterns = []string{`(?m)^\$ $`, `(invalid`}

	opts := sessionOptions(cfg)
	// The defaults are kept and one configured matcher is appended; the
	// invalid pattern is skipped rather than fatal.
	require.Len(t, opts.Matchers, len(session.DefaultReadyMatchers())+1)
	require.Equal(t, "configured", opts.Matchers[len(opts.Matchers)-1].Name)
}

func TestUnfinishedCount(t *testing.T) {
	items := []session.QueueItem{
		{Status: session.StatusPending},
		{Status: session.StatusProcessing},
		{Status: session.StatusWaiting},
		{Status: session.StatusCompleted},
		{Status: session.StatusError},
	}
	require.Equal(t, 3, unfinishedCount(items))
}
