package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-relay/log"
	"agent-relay/screen"
)

// Hooks are the notification points collaborators subscribe to. A nil or
// panicking hook never affects core state; panics are swallowed.
type Hooks struct {
	OnQueueChanged  func()
	OnStatusChanged func(status Status)
	OnOutputChanged func(current string)
}

// Options tune the orchestrator. Zero values select defaults.
type Options struct {
	// Controller tuning (chunk size, pacing, PTY size).
	Controller ControllerOptions
	// MaxBuffer caps the raw output accumulator.
	MaxBuffer int
	// ThrottleInterval bounds the broadcast rate.
	ThrottleInterval time.Duration
	// IdleClear clears the screen buffer after this much output silence.
	IdleClear time.Duration
	// StartupTimeout bounds WaitUntilReady.
	StartupTimeout time.Duration
	// ReadyGrace is the optimistic-ready grace period; zero means half the
	// startup timeout.
	ReadyGrace time.Duration
	// Matchers recognize ready prompts; nil selects the defaults.
	Matchers []Matcher
}

// Orchestrator owns the session aggregate: the process controller, the screen
// buffer, the broadcaster, the request queue and the transcript. All mutation
// flows through it, preserving the single-writer discipline the raw output
// stream and the timers would otherwise violate.
type Orchestrator struct {
	opts       Options
	controller *Controller
	buffer     *screen.Buffer
	caster     *screen.Broadcaster
	queue      *Queue

	// mu guards the transcript and hook set.
	mu         sync.Mutex
	transcript *Transcript
	hooks      Hooks

	ctx    context.Context
	cancel context.CancelFunc
	// kick wakes the advance worker; capacity one, extra kicks coalesce.
	kick chan struct{}
	wg   sync.WaitGroup
}

// NewOrchestrator assembles an orchestrator for the given program.
func NewOrchestrator(program string, opts Options) *Orchestrator {
	return newOrchestrator(program, opts, spawnPTY)
}

// newOrchestrator lets tests substitute the process spawner.
func newOrchestrator(program string, opts Options, spawn spawnFunc) *Orchestrator {
	if opts.Matchers == nil {
		opts.Matchers = DefaultReadyMatchers()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:       opts,
		controller: newController(program, opts.Controller, spawn),
		buffer:     screen.NewBuffer(opts.MaxBuffer),
		caster:     screen.NewBroadcaster(opts.ThrottleInterval, opts.IdleClear),
		queue:      NewQueue(),
		transcript: NewTranscript(opts.Matchers),
		ctx:        ctx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
	}

	o.controller.SetOnOutput(o.handleOutput)
	o.controller.SetOnExit(o.handleExit)
	o.caster.SetOnFlush(o.handleFlush)
	o.caster.SetOnIdle(o.handleIdle)
	o.queue.SetOnChanged(func() { o.fireQueueChanged() })
	o.queue.SetOnItemError(o.handleItemError)

	o.wg.Add(1)
	go o.advanceWorker()
	return o
}

// SetHooks installs the notification hooks. Call before traffic starts.
func (o *Orchestrator) SetHooks(h Hooks) {
	o.mu.Lock()
	o.hooks = h
	o.mu.Unlock()
}

// Register adds a screen consumer.
func (o *Orchestrator) Register(c screen.Consumer) {
	o.caster.Register(c)
}

// Unregister removes a screen consumer by name.
func (o *Orchestrator) Unregister(name string) {
	o.caster.Unregister(name)
}

// Enqueue appends a request and starts delivery if the queue was idle. The
// corresponding user turn is recorded immediately.
func (o *Orchestrator) Enqueue(text string) QueueItem {
	o.mu.Lock()
	o.transcript.AddUser(text)
	o.mu.Unlock()

	item := o.queue.Enqueue(text)
	o.kickAdvance()
	return item
}

// EditRequest rewrites a pending request.
func (o *Orchestrator) EditRequest(id, text string) error {
	return o.queue.Edit(id, text)
}

// RemoveRequest deletes a pending request.
func (o *Orchestrator) RemoveRequest(id string) error {
	return o.queue.Remove(id)
}

// DuplicateRequest re-enqueues a copy of a pending request.
func (o *Orchestrator) DuplicateRequest(id string) (QueueItem, error) {
	item, err := o.queue.Duplicate(id)
	if err != nil {
		return QueueItem{}, err
	}
	o.kickAdvance()
	return item, nil
}

// Items returns a queue snapshot.
func (o *Orchestrator) Items() []QueueItem {
	return o.queue.Items()
}

// RestoreHistory preloads persisted turns. Call before traffic starts.
func (o *Orchestrator) RestoreHistory(turns []ChatTurn) {
	o.mu.Lock()
	o.transcript.Restore(turns)
	o.mu.Unlock()
}

// RestoreFinishedItems preloads finished queue items persisted by a previous
// run. Call before traffic starts.
func (o *Orchestrator) RestoreFinishedItems(items []QueueItem) {
	o.queue.Restore(items)
}

// Turns returns a transcript snapshot.
func (o *Orchestrator) Turns() []ChatTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript.Turns()
}

// Screen returns the current logical screen.
func (o *Orchestrator) Screen() string {
	return o.buffer.Current()
}

// Status returns the session lifecycle state.
func (o *Orchestrator) Status() Status {
	return o.controller.Status()
}

// Start spawns the external process if none is live. Idempotent.
func (o *Orchestrator) Start() error {
	err := o.controller.Start()
	o.fireStatusChanged()
	return err
}

// Interrupt signals the live process. The in-flight request, if any, is
// demoted to waiting and retried by the next advance; queued items are
// untouched.
func (o *Orchestrator) Interrupt() error {
	err := o.controller.Interrupt()
	if o.queue.Suspend() {
		o.kickAdvance()
	}
	return err
}

// Stop terminates the process, leaving queue and transcript intact.
// Idempotent.
func (o *Orchestrator) Stop() {
	o.controller.Stop()
	o.fireStatusChanged()
}

// Reset atomically clears session, screen and unfinished queue state, then
// pushes the cleared screen to every consumer so no observer retains stale
// content. Calling it twice leaves the same empty state as calling it once.
func (o *Orchestrator) Reset() {
	o.controller.Stop()
	o.buffer.Clear()
	o.queue.ClearPending()

	o.mu.Lock()
	o.transcript.Reset()
	o.mu.Unlock()

	o.caster.Flush("")
	o.fireStatusChanged()
}

// Close shuts the orchestrator down: process killed, timers stopped, workers
// drained.
func (o *Orchestrator) Close() {
	o.cancel()
	o.controller.Stop()
	o.caster.Stop()
	o.wg.Wait()
}

// EnsureReady starts the session if needed and waits for readiness. Part of
// the sender contract the queue drives.
func (o *Orchestrator) EnsureReady(ctx context.Context) error {
	if err := o.controller.Start(); err != nil {
		o.fireStatusChanged()
		return err
	}
	o.fireStatusChanged()
	return o.controller.WaitUntilReady(ctx, o.opts.StartupTimeout, o.opts.ReadyGrace)
}

// Send delivers request text to the process. Part of the sender contract.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	err := o.controller.Send(ctx, text)
	o.fireStatusChanged()
	return err
}

// handleOutput receives raw PTY bytes from the controller's read loop.
func (o *Orchestrator) handleOutput(data []byte) {
	o.buffer.Append(string(data))
	o.caster.Notify(o.buffer.Current())
}

// handleFlush observes every broadcast flush: it drives ready detection and
// transcript derivation from the same throttled stream the consumers see.
func (o *Orchestrator) handleFlush(current string) {
	if AnyReady(o.opts.Matchers, current) && o.controller.MarkReady() {
		o.fireStatusChanged()
	}

	o.mu.Lock()
	turn, committed := o.transcript.Observe(current)
	o.mu.Unlock()

	if committed {
		if _, ok := o.queue.Complete(turn.Content); ok {
			o.kickAdvance()
		}
	}
	o.fireOutputChanged(current)
}

// handleIdle clears the screen buffer after prolonged output silence and
// tells consumers about it.
func (o *Orchestrator) handleIdle() {
	if o.buffer.Len() == 0 {
		return
	}
	log.Debug("clearing screen buffer after idle period")
	o.buffer.Clear()
	o.caster.Flush("")
	o.fireOutputChanged("")
}

// handleExit reacts to the process dying out from under us: the failure is
// recorded, the in-flight item becomes eligible for retry, but nothing
// restarts automatically. The next send attempt restarts the session.
func (o *Orchestrator) handleExit(err error) {
	o.mu.Lock()
	o.transcript.AddSystem(fmt.Sprintf("session process exited: %v", err))
	o.mu.Unlock()

	o.queue.Suspend()
	o.fireStatusChanged()
}

// handleItemError records a delivery failure in the transcript.
func (o *Orchestrator) handleItemError(item QueueItem, err error) {
	log.WarningLog.Printf("request %s failed: %v", item.ID, err)
	o.mu.Lock()
	o.transcript.AddSystem(fmt.Sprintf("request failed: %v", err))
	o.mu.Unlock()
}

// kickAdvance wakes the advance worker; extra kicks coalesce.
func (o *Orchestrator) kickAdvance() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// advanceWorker serializes queue advancement: one goroutine performs every
// EnsureReady/Send so delivery never races with itself.
func (o *Orchestrator) advanceWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.kick:
			o.queue.Advance(o.ctx, o)
		}
	}
}

func (o *Orchestrator) fireQueueChanged() {
	o.mu.Lock()
	fn := o.hooks.OnQueueChanged
	o.mu.Unlock()
	safeHook(func() {
		if fn != nil {
			fn()
		}
	})
}

func (o *Orchestrator) fireStatusChanged() {
	o.mu.Lock()
	fn := o.hooks.OnStatusChanged
	o.mu.Unlock()
	status := o.controller.Status()
	safeHook(func() {
		if fn != nil {
			fn(status)
		}
	})
}

func (o *Orchestrator) fireOutputChanged(current string) {
	o.mu.Lock()
	fn := o.hooks.OnOutputChanged
	o.mu.Unlock()
	safeHook(func() {
		if fn != nil {
			fn(current)
		}
	})
}

// safeHook runs a subscriber callback, swallowing panics so a broken
// subscriber can't take the pipeline down.
func safeHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorLog.Printf("subscriber hook panicked: %v", r)
		}
	}()
	fn()
}
