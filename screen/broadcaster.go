package screen

import (
	"sync"
	"time"

	"agent-relay/log"
)

const (
	// DefaultInterval bounds the flush rate to a few updates per second no
	// matter how bursty the producer is.
	DefaultInterval = 250 * time.Millisecond
	// DefaultIdleClear bounds memory retention from a stalled session.
	DefaultIdleClear = 30 * time.Second
)

// Consumer receives flushed screens. Send must not block indefinitely; a slow
// consumer should drop the frame and return (the remote client adapter does
// this with a non-blocking channel send).
type Consumer interface {
	Name() string
	Send(screen string) error
}

// Broadcaster coalesces high-frequency screen updates into at most one flush
// per interval and delivers each flush to every registered consumer.
type Broadcaster struct {
	interval  time.Duration
	idleAfter time.Duration

	mu        sync.Mutex
	consumers map[string]Consumer
	lastFlush time.Time
	pending   string
	hasPend   bool
	timer     *time.Timer
	idleTimer *time.Timer
	stopped   bool

	// onFlush observes every flushed screen (transcript derivation, hooks).
	onFlush func(screen string)
	// onIdle fires when no Notify arrives for idleAfter.
	onIdle func()
}

// NewBroadcaster returns a Broadcaster flushing at most once per interval.
// Non-positive durations select the defaults.
func NewBroadcaster(interval, idleAfter time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if idleAfter <= 0 {
		idleAfter = DefaultIdleClear
	}
	return &Broadcaster{
		interval:  interval,
		idleAfter: idleAfter,
		consumers: make(map[string]Consumer),
	}
}

// SetOnFlush registers the flush observer. Call before output starts flowing.
// The observer runs on the flush path: it must return promptly and must not
// call Notify or Flush reentrantly.
func (br *Broadcaster) SetOnFlush(fn func(screen string)) {
	br.mu.Lock()
	br.onFlush = fn
	br.mu.Unlock()
}

// SetOnIdle registers the idle callback. Call before output starts flowing.
func (br *Broadcaster) SetOnIdle(fn func()) {
	br.mu.Lock()
	br.onIdle = fn
	br.mu.Unlock()
}

// Register adds a consumer. Joining never blocks or delays the broadcast
// path; the consumer sees content on the next flush.
func (br *Broadcaster) Register(c Consumer) {
	br.mu.Lock()
	br.consumers[c.Name()] = c
	br.mu.Unlock()
}

// Unregister removes a consumer by name. Safe for unknown names.
func (br *Broadcaster) Unregister(name string) {
	br.mu.Lock()
	delete(br.consumers, name)
	br.mu.Unlock()
}

// ConsumerCount returns the number of registered consumers.
func (br *Broadcaster) ConsumerCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.consumers)
}

// Notify submits a new screen. If the interval has elapsed since the last
// flush it flushes immediately; otherwise exactly one deferred flush is
// scheduled for the remainder, and later calls only replace what it will
// carry.
func (br *Broadcaster) Notify(screen string) {
	br.mu.Lock()
	if br.stopped {
		br.mu.Unlock()
		return
	}
	br.resetIdleLocked()

	elapsed := time.Since(br.lastFlush)
	if elapsed >= br.interval {
		// A pending deferred flush would deliver older content after this one.
		br.cancelPendingLocked()
		br.flushLocked(screen)
		br.mu.Unlock()
		return
	}

	br.pending = screen
	if !br.hasPend {
		br.hasPend = true
		br.timer = time.AfterFunc(br.interval-elapsed, br.fireDeferred)
	}
	br.mu.Unlock()
}

// fireDeferred delivers the pending screen when the throttle window closes.
func (br *Broadcaster) fireDeferred() {
	br.mu.Lock()
	if br.stopped || !br.hasPend {
		br.mu.Unlock()
		return
	}
	screen := br.pending
	br.hasPend = false
	br.pending = ""
	br.timer = nil
	br.flushLocked(screen)
	br.mu.Unlock()
}

// Flush delivers a screen to all consumers immediately, bypassing the
// throttle window. Used for reset notifications that must not be coalesced
// away.
func (br *Broadcaster) Flush(screen string) {
	br.mu.Lock()
	if br.stopped {
		br.mu.Unlock()
		return
	}
	br.cancelPendingLocked()
	br.flushLocked(screen)
	br.mu.Unlock()
}

// cancelPendingLocked drops the deferred flush, if any, so it cannot deliver
// stale content after a newer screen already went out. Caller holds mu.
func (br *Broadcaster) cancelPendingLocked() {
	if !br.hasPend {
		return
	}
	br.hasPend = false
	br.pending = ""
	if br.timer != nil {
		br.timer.Stop()
		br.timer = nil
	}
}

// flushLocked delivers to every consumer. One consumer's failure or panic
// never prevents delivery to the rest. Caller holds mu.
func (br *Broadcaster) flushLocked(screen string) {
	br.lastFlush = time.Now()
	for _, c := range br.consumers {
		br.deliver(c, screen)
	}
	if br.onFlush != nil {
		br.onFlush(screen)
	}
}

// deliver sends to a single consumer, isolating errors and panics.
func (br *Broadcaster) deliver(c Consumer, screen string) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorLog.Printf("consumer %s panicked: %v", c.Name(), r)
		}
	}()
	if err := c.Send(screen); err != nil {
		log.WarningLog.Printf("consumer %s dropped flush: %v", c.Name(), err)
	}
}

// resetIdleLocked re-arms the idle auto-clear timer. Caller holds mu.
func (br *Broadcaster) resetIdleLocked() {
	if br.idleTimer != nil {
		br.idleTimer.Stop()
	}
	br.idleTimer = time.AfterFunc(br.idleAfter, func() {
		br.mu.Lock()
		fn := br.onIdle
		stopped := br.stopped
		br.mu.Unlock()
		if fn != nil && !stopped {
			fn()
		}
	})
}

// Stop cancels timers and drops all consumers. Further Notify calls are
// no-ops.
func (br *Broadcaster) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.stopped = true
	if br.timer != nil {
		br.timer.Stop()
		br.timer = nil
	}
	if br.idleTimer != nil {
		br.idleTimer.Stop()
		br.idleTimer = nil
	}
	br.hasPend = false
	br.pending = ""
	br.consumers = make(map[string]Consumer)
}
