package session

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"agent-relay/log"
)

// Status is the lifecycle state of the controlled process.
type Status int

const (
	// NotStarted means no process has ever been spawned.
	NotStarted Status = iota
	// Starting means the process is live but has not shown a ready prompt.
	Starting
	// Ready means the process is idle and awaiting input.
	Ready
	// Busy means a request is in flight.
	Busy
	// Terminated means the process exited or was stopped.
	Terminated
	// Failed means the process could not be spawned or exited with an error.
	Failed
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultChunkSize  = 256
	defaultChunkDelay = 10 * time.Millisecond
	// submitSettleDelay separates the last chunk from the carriage return so
	// the CLI doesn't read them as one paste and swallow the submit.
	submitSettleDelay = 100 * time.Millisecond

	defaultCols = 80
	defaultRows = 24
)

// procHandle is the slice of a PTY-attached process the controller needs.
// Injected in tests the same way command execution is elsewhere.
type procHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Signal(sig os.Signal) error
	Close() error
	Done() <-chan struct{}
}

// spawnFunc creates a process attached to a PTY.
type spawnFunc func(program string, cols, rows uint16) (procHandle, error)

// ControllerOptions tune chunked delivery and sizing. Zero values select
// defaults.
type ControllerOptions struct {
	ChunkSize  int
	ChunkDelay time.Duration
	Cols       uint16
	Rows       uint16
}

// Controller owns the external process handle exclusively: no other component
// reads from or writes to the PTY.
type Controller struct {
	program string
	opts    ControllerOptions
	spawn   spawnFunc

	// onOutput receives raw PTY output. onExit fires when the process dies.
	onOutput func(data []byte)
	onExit   func(err error)

	mu        sync.Mutex
	proc      procHandle
	status    Status
	startedAt time.Time
	readyCh   chan struct{} // closed when status first reaches Ready
}

// NewController returns a Controller for the given program using a real PTY.
func NewController(program string, opts ControllerOptions) *Controller {
	return newController(program, opts, spawnPTY)
}

// newController allows tests to inject a fake process.
func newController(program string, opts ControllerOptions, spawn spawnFunc) *Controller {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = defaultChunkDelay
	}
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}
	return &Controller{
		program: program,
		opts:    opts,
		spawn:   spawn,
		status:  NotStarted,
	}
}

// SetOnOutput registers the raw output callback. Call before Start.
func (c *Controller) SetOnOutput(fn func(data []byte)) {
	c.mu.Lock()
	c.onOutput = fn
	c.mu.Unlock()
}

// SetOnExit registers the process exit callback. Call before Start.
func (c *Controller) SetOnExit(fn func(err error)) {
	c.mu.Lock()
	c.onExit = fn
	c.mu.Unlock()
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Alive reports whether a live process exists.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive()
}

func (c *Controller) alive() bool {
	return c.proc != nil && c.status != Terminated && c.status != Failed
}

// Start spawns the process if none is live. Idempotent when already running.
// A spawn failure transitions to Failed and is returned to the caller.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alive() {
		return nil
	}

	c.status = Starting
	proc, err := c.spawn(c.program, c.opts.Cols, c.opts.Rows)
	if err != nil {
		c.status = Failed
		return err
	}

	c.proc = proc
	c.startedAt = time.Now()
	c.readyCh = make(chan struct{})
	log.InfoLog.Printf("started %q", c.program)

	go c.readLoop(proc)
	go c.watchExit(proc)
	return nil
}

// readLoop pumps raw PTY output into the output callback until the handle
// closes.
func (c *Controller) readLoop(proc procHandle) {
	buf := make([]byte, 4096)
	for {
		n, err := proc.Read(buf)
		if n > 0 {
			c.mu.Lock()
			fn := c.onOutput
			c.mu.Unlock()
			if fn != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				fn(data)
			}
		}
		if err != nil {
			return
		}
	}
}

// watchExit transitions state when the process dies out from under us.
func (c *Controller) watchExit(proc procHandle) {
	<-proc.Done()

	c.mu.Lock()
	// A newer process may already have replaced this one (reset + start).
	if c.proc != proc {
		c.mu.Unlock()
		return
	}
	prev := c.status
	if prev == Terminated {
		// Stop already accounted for this process.
		c.mu.Unlock()
		return
	}
	c.status = Failed
	fn := c.onExit
	c.mu.Unlock()

	log.WarningLog.Printf("process %q exited while %s", c.program, prev)
	if fn != nil {
		fn(ErrProcessUnavailable)
	}
}

// Send writes text to the process input in fixed-size chunks with a pacing
// delay between them, then a single carriage-return submit. Chunking bounds
// memory pressure and gives cooperative CLIs time to consume input.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if !c.alive() {
		c.mu.Unlock()
		return ErrProcessUnavailable
	}
	proc := c.proc
	c.markBusyLocked()
	c.mu.Unlock()

	data := []byte(text)
	chunk := c.opts.ChunkSize
	for i := 0; len(data) > 0; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.ChunkDelay):
			}
		}
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		if _, err := proc.Write(data[:n]); err != nil {
			if isClosedWrite(err) {
				return ErrNotWritable
			}
			return &SendChunkError{Chunk: i, Err: err}
		}
		data = data[n:]
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(submitSettleDelay):
	}
	if _, err := proc.Write([]byte("\r")); err != nil {
		if isClosedWrite(err) {
			return ErrNotWritable
		}
		return &SendChunkError{Chunk: -1, Err: err}
	}
	return nil
}

// isClosedWrite reports whether a write failed because the input channel is
// gone rather than a transient fault.
func isClosedWrite(err error) bool {
	if err == nil {
		return false
	}
	if os.IsPermission(err) {
		return false
	}
	switch {
	case strings.Contains(err.Error(), os.ErrClosed.Error()),
		strings.Contains(err.Error(), syscall.EPIPE.Error()),
		strings.Contains(err.Error(), syscall.EBADF.Error()):
		return true
	}
	return false
}

// WaitUntilReady blocks until the process is Ready, the optimistic grace
// period elapses, the timeout expires, or ctx is cancelled.
//
// The grace period (default timeout/2) deliberately treats a quiet but
// long-lived process as usable: some interactive CLIs never print a
// recognizable prompt. That can produce a false "ready" under a slow-starting
// process, which is why it is tunable rather than fixed.
func (c *Controller) WaitUntilReady(ctx context.Context, timeout, grace time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if grace <= 0 {
		grace = timeout / 2
	}

	c.mu.Lock()
	if c.status == Ready {
		c.mu.Unlock()
		return nil
	}
	if !c.alive() {
		c.mu.Unlock()
		return ErrProcessUnavailable
	}
	alreadyAlive := time.Since(c.startedAt)
	readyCh := c.readyCh
	c.mu.Unlock()

	if alreadyAlive >= grace {
		c.markOptimisticReady()
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	graceTimer := time.NewTimer(grace - alreadyAlive)
	defer graceTimer.Stop()

	select {
	case <-readyCh:
		return nil
	case <-graceTimer.C:
		if c.Alive() {
			c.markOptimisticReady()
			return nil
		}
		return ErrProcessUnavailable
	case <-deadline.C:
		return ErrStartupTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) markOptimisticReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Starting {
		log.Debug("optimistic ready: no prompt signature after grace period")
		c.markReadyLocked()
	}
}

// MarkReady records that a ready prompt was observed on screen. Returns
// whether the call changed the status; a prompt sitting idle on screen keeps
// matching on every flush and must not look like a transition.
func (c *Controller) MarkReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Starting || c.status == Busy {
		c.markReadyLocked()
		return true
	}
	return false
}

func (c *Controller) markReadyLocked() {
	c.status = Ready
	if c.readyCh != nil {
		select {
		case <-c.readyCh:
		default:
			close(c.readyCh)
		}
	}
}

// MarkBusy records that a request went in flight.
func (c *Controller) MarkBusy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markBusyLocked()
}

func (c *Controller) markBusyLocked() {
	if c.status == Ready || c.status == Starting {
		c.status = Busy
	}
}

// Interrupt sends SIGINT to the live process. Queue state is untouched; that
// is the caller's decision.
func (c *Controller) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive() {
		return ErrProcessUnavailable
	}
	return c.proc.Signal(syscall.SIGINT)
}

// Stop kills the process and releases the handle. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	proc := c.proc
	c.proc = nil
	if c.status != NotStarted {
		c.status = Terminated
	}
	c.mu.Unlock()

	if proc != nil {
		_ = proc.Close()
	}
}

// ptyProcess is the production procHandle backed by creack/pty.
type ptyProcess struct {
	file *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// spawnPTY launches the program on a pseudo-terminal. The program string is
// run through the shell so configured programs can carry arguments.
func spawnPTY(program string, cols, rows uint16) (procHandle, error) {
	cmd := exec.Command("sh", "-c", program)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	p := &ptyProcess{file: ptmx, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *ptyProcess) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	f := p.file
	p.mu.Unlock()
	return f.Read(buf)
}

func (p *ptyProcess) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	f := p.file
	p.mu.Unlock()
	return f.Write(data)
}

func (p *ptyProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(sig)
}

func (p *ptyProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.file.Close()
}

func (p *ptyProcess) Done() <-chan struct{} {
	return p.done
}
