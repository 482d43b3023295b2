package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConsumer collects flushed screens.
type fakeConsumer struct {
	name string

	mu      sync.Mutex
	screens []string
}

func (f *fakeConsumer) Name() string { return f.name }

func (f *fakeConsumer) Send(screen string) error {
	f.mu.Lock()
	f.screens = append(f.screens, screen)
	f.mu.Unlock()
	return nil
}

func (f *fakeConsumer) last() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.screens) == 0 {
		return "", false
	}
	return f.screens[len(f.screens)-1], true
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeProc) {
	t.Helper()
	proc := newFakeProc()
	o := newOrchestrator("fake-cli", Options{
		Controller:       ControllerOptions{ChunkSize: 64, ChunkDelay: time.Millisecond},
		ThrottleInterval: 10 * time.Millisecond,
		IdleClear:        time.Hour,
		StartupTimeout:   time.Second,
		ReadyGrace:       20 * time.Millisecond,
	}, func(program string, cols, rows uint16) (procHandle, error) {
		return proc, nil
	})
	t.Cleanup(o.Close)
	return o, proc
}

func TestOrchestratorRequestRoundTrip(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	consumer := &fakeConsumer{name: "test"}
	o.Register(consumer)

	item := o.Enqueue("run the tests")
	require.Equal(t, StatusPending, item.Status)

	// Delivery happens on the worker: the session starts, the grace period
	// declares it usable, and the request goes down the wire.
	require.Eventually(t, func() bool {
		writes := proc.recordedWrites()
		return len(writes) > 0 && string(writes[len(writes)-1]) == "\r"
	}, 2*time.Second, 5*time.Millisecond)

	proc.emit("All 12 tests pass.\n> \n? for shortcuts")

	require.Eventually(t, func() bool {
		items := o.Items()
		return len(items) == 1 && items[0].Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	items := o.Items()
	require.Contains(t, items[0].Output, "All 12 tests pass.")

	turns := o.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, RoleUser, turns[0].Role)
	require.Equal(t, "run the tests", turns[0].Content)
	require.Equal(t, RoleAssistant, turns[1].Role)
	require.Contains(t, turns[1].Content, "All 12 tests pass.")

	// Consumers saw the same screen the transcript derived from.
	require.Eventually(t, func() bool {
		last, ok := consumer.last()
		return ok && strings.Contains(last, "All 12 tests pass.")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestratorSequentialRequests(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	o.Enqueue("first request")
	o.Enqueue("second request")

	require.Eventually(t, func() bool {
		writes := proc.recordedWrites()
		return len(writes) > 0 && string(writes[len(writes)-1]) == "\r"
	}, 2*time.Second, 5*time.Millisecond)

	// The second request must not go out while the first awaits a response.
	all := func() string {
		var b strings.Builder
		for _, w := range proc.recordedWrites() {
			b.Write(w)
		}
		return b.String()
	}
	require.NotContains(t, all(), "second request")

	proc.emit("first answer\n> \n? for shortcuts")

	require.Eventually(t, func() bool {
		return strings.Contains(all(), "second request")
	}, 2*time.Second, 5*time.Millisecond)

	proc.emit("second answer here\n> \n? for shortcuts")

	require.Eventually(t, func() bool {
		items := o.Items()
		return len(items) == 2 &&
			items[0].Status == StatusCompleted &&
			items[1].Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestratorReset(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	consumer := &fakeConsumer{name: "test"}
	o.Register(consumer)

	o.Enqueue("request")
	require.Eventually(t, func() bool {
		return len(proc.recordedWrites()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	o.Reset()

	require.Empty(t, o.Screen())
	require.Equal(t, Terminated, o.Status())

	// The unfinished request is gone and consumers saw the cleared screen.
	require.Empty(t, o.Items())
	last, ok := consumer.last()
	require.True(t, ok)
	require.Empty(t, last)

	// Reset twice lands in the same state as reset once.
	o.Reset()
	require.Empty(t, o.Screen())
	require.Empty(t, o.Items())
}

func TestOrchestratorProcessExitRecordsSystemTurn(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	o.Enqueue("request")
	require.Eventually(t, func() bool {
		writes := proc.recordedWrites()
		return len(writes) > 0 && string(writes[len(writes)-1]) == "\r"
	}, 2*time.Second, 5*time.Millisecond)

	proc.exit()

	require.Eventually(t, func() bool {
		for _, turn := range o.Turns() {
			if turn.Role == RoleSystem && strings.Contains(turn.Content, "exited") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, Failed, o.Status())

	// The in-flight item went back to waiting rather than being lost.
	items := o.Items()
	require.Len(t, items, 1)
	require.Equal(t, StatusWaiting, items[0].Status)
}

func TestOrchestratorHooks(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	var mu sync.Mutex
	queueChanges := 0
	sawReady := false
	o.SetHooks(Hooks{
		OnQueueChanged: func() {
			mu.Lock()
			queueChanges++
			mu.Unlock()
		},
		OnStatusChanged: func(status Status) {
			mu.Lock()
			if status == Ready {
				sawReady = true
			}
			mu.Unlock()
		},
		OnOutputChanged: func(string) {
			panic("misbehaving subscriber")
		},
	})

	o.Enqueue("request")
	require.Eventually(t, func() bool {
		return len(proc.recordedWrites()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// The panicking output hook must not break derivation or completion.
	proc.emit("answer text\n> \n? for shortcuts")
	require.Eventually(t, func() bool {
		items := o.Items()
		return len(items) == 1 && items[0].Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, queueChanges, 0)
	require.True(t, sawReady)
}

func TestOrchestratorReadyEventFiresOncePerTransition(t *testing.T) {
	o, proc := newTestOrchestrator(t)

	var mu sync.Mutex
	readyEvents := 0
	o.SetHooks(Hooks{
		OnStatusChanged: func(status Status) {
			mu.Lock()
			if status == Ready {
				readyEvents++
			}
			mu.Unlock()
		},
	})

	consumer := &fakeConsumer{name: "test"}
	o.Register(consumer)

	o.Enqueue("request")
	require.Eventually(t, func() bool {
		writes := proc.recordedWrites()
		return len(writes) > 0 && string(writes[len(writes)-1]) == "\r"
	}, 2*time.Second, 5*time.Millisecond)

	proc.emit("the answer\n> \n? for shortcuts")
	require.Eventually(t, func() bool {
		items := o.Items()
		return len(items) == 1 && items[0].Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	// More output while parked at the prompt: every flush still matches a
	// ready matcher, but the status no longer changes, so subscribers hear
	// about the transition exactly once.
	proc.emit("idle tick one\n> \n? for shortcuts")
	require.Eventually(t, func() bool {
		last, ok := consumer.last()
		return ok && strings.Contains(last, "idle tick one")
	}, 2*time.Second, 5*time.Millisecond)

	proc.emit("idle tick two\n> \n? for shortcuts")
	require.Eventually(t, func() bool {
		last, ok := consumer.last()
		return ok && strings.Contains(last, "idle tick two")
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, readyEvents)
}

func TestOrchestratorFailedItemIsFrozenHistory(t *testing.T) {
	o := newOrchestrator("missing-cli", Options{
		StartupTimeout: time.Second,
	}, func(program string, cols, rows uint16) (procHandle, error) {
		return nil, errors.New("exec: not found")
	})
	t.Cleanup(o.Close)

	item := o.Enqueue("draft")
	require.Eventually(t, func() bool {
		items := o.Items()
		return len(items) == 1 && items[0].Status == StatusError
	}, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, o.EditRequest(item.ID, "rewrite"), ErrItemNotPending)
	require.ErrorIs(t, o.RemoveRequest(item.ID), ErrItemNotPending)
	_, err := o.DuplicateRequest(item.ID)
	require.ErrorIs(t, err, ErrItemNotPending)

	// The failure is also visible in the transcript.
	var sawSystem bool
	for _, turn := range o.Turns() {
		if turn.Role == RoleSystem {
			sawSystem = true
		}
	}
	require.True(t, sawSystem)
}
