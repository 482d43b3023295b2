package screen

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingConsumer collects every screen it receives.
type recordingConsumer struct {
	name string

	mu      sync.Mutex
	screens []string
	sendErr error
	panics  bool
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Send(screen string) error {
	if c.panics {
		panic("consumer exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screens = append(c.screens, screen)
	return c.sendErr
}

func (c *recordingConsumer) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.screens))
	copy(out, c.screens)
	return out
}

func TestBroadcasterImmediateFlush(t *testing.T) {
	br := NewBroadcaster(50*time.Millisecond, 0)
	defer br.Stop()
	c := &recordingConsumer{name: "a"}
	br.Register(c)

	br.Notify("one")
	require.Equal(t, []string{"one"}, c.got())
}

func TestBroadcasterCoalescesBurst(t *testing.T) {
	br := NewBroadcaster(80*time.Millisecond, 0)
	defer br.Stop()
	c := &recordingConsumer{name: "a"}
	br.Register(c)

	br.Notify("first") // flushes immediately
	br.Notify("second")
	br.Notify("third")
	br.Notify("fourth")

	// Within the window nothing further is delivered.
	require.Equal(t, []string{"first"}, c.got())

	// After the window closes exactly one deferred flush carries the most
	// recent content, not an intermediate one.
	require.Eventually(t, func() bool {
		got := c.got()
		return len(got) == 2 && got[1] == "fourth"
	}, time.Second, 5*time.Millisecond)

	// And nothing else arrives.
	time.Sleep(120 * time.Millisecond)
	require.Len(t, c.got(), 2)
}

func TestBroadcasterImmediateFlushCancelsPending(t *testing.T) {
	br := NewBroadcaster(time.Hour, 0)
	defer br.Stop()
	c := &recordingConsumer{name: "a"}
	br.Register(c)

	br.Notify("base")
	br.Notify("old") // deferred behind the throttle window

	// Reopen the window while "old" is still pending: the next Notify takes
	// the immediate path and must cancel the deferred flush, or consumers
	// would see the older screen delivered after the newer one.
	br.mu.Lock()
	br.lastFlush = time.Now().Add(-2 * time.Hour)
	br.mu.Unlock()

	br.Notify("new")
	require.Equal(t, []string{"base", "new"}, c.got())

	br.mu.Lock()
	hasPend := br.hasPend
	br.mu.Unlock()
	require.False(t, hasPend)
}

func TestBroadcasterConsumerErrorIsolated(t *testing.T) {
	br := NewBroadcaster(10*time.Millisecond, 0)
	defer br.Stop()
	bad := &recordingConsumer{name: "bad", sendErr: errors.New("pipe closed")}
	good := &recordingConsumer{name: "good"}
	br.Register(bad)
	br.Register(good)

	br.Notify("screen")
	require.Equal(t, []string{"screen"}, good.got())
}

func TestBroadcasterConsumerPanicIsolated(t *testing.T) {
	br := NewBroadcaster(10*time.Millisecond, 0)
	defer br.Stop()
	angry := &recordingConsumer{name: "angry", panics: true}
	calm := &recordingConsumer{name: "calm"}
	br.Register(angry)
	br.Register(calm)

	require.NotPanics(t, func() { br.Notify("screen") })
	require.Equal(t, []string{"screen"}, calm.got())
}

func TestBroadcasterUnregisterDuringTraffic(t *testing.T) {
	br := NewBroadcaster(time.Millisecond, 0)
	defer br.Stop()
	c := &recordingConsumer{name: "a"}
	br.Register(c)
	br.Notify("one")
	br.Unregister("a")
	time.Sleep(5 * time.Millisecond)
	br.Notify("two")
	require.Equal(t, []string{"one"}, c.got())
	require.Zero(t, br.ConsumerCount())
}

func TestBroadcasterOnFlushObserver(t *testing.T) {
	br := NewBroadcaster(10*time.Millisecond, 0)
	defer br.Stop()

	var mu sync.Mutex
	var seen []string
	br.SetOnFlush(func(screen string) {
		mu.Lock()
		seen = append(seen, screen)
		mu.Unlock()
	})

	br.Notify("alpha")
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"alpha"}, seen)
}

func TestBroadcasterIdleCallback(t *testing.T) {
	br := NewBroadcaster(time.Millisecond, 30*time.Millisecond)
	defer br.Stop()

	fired := make(chan struct{}, 1)
	br.SetOnIdle(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	br.Notify("activity")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle callback never fired")
	}
}

func TestBroadcasterIdleTimerResetByActivity(t *testing.T) {
	br := NewBroadcaster(time.Millisecond, 60*time.Millisecond)
	defer br.Stop()

	fired := make(chan struct{}, 1)
	br.SetOnIdle(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Keep notifying faster than the idle window; the timer must keep
	// re-arming instead of firing.
	for i := 0; i < 5; i++ {
		br.Notify("tick")
		select {
		case <-fired:
			t.Fatal("idle fired despite activity")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestBroadcasterFlushBypassesThrottle(t *testing.T) {
	br := NewBroadcaster(time.Hour, 0)
	defer br.Stop()
	c := &recordingConsumer{name: "a"}
	br.Register(c)

	br.Notify("first")
	br.Notify("stale pending")
	br.Flush("reset")

	require.Equal(t, []string{"first", "reset"}, c.got())

	// The stale deferred flush was cancelled; nothing else arrives.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, c.got(), 2)
}

func TestBroadcasterStop(t *testing.T) {
	br := NewBroadcaster(time.Millisecond, 0)
	c := &recordingConsumer{name: "a"}
	br.Register(c)
	br.Stop()
	br.Notify("after stop")
	require.Empty(t, c.got())
}
