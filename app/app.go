// Package app assembles the relay: configuration, the session orchestrator,
// persistence, the local terminal surface and the network server.
package app

import (
	"context"
	"os"
	"regexp"
	"time"

	"agent-relay/ansi"
	"agent-relay/config"
	"agent-relay/inspect"
	"agent-relay/log"
	"agent-relay/server"
	"agent-relay/session"
	"agent-relay/ui"
)

// Options select what the relay runs with.
type Options struct {
	// Program overrides the configured session command.
	Program string
	// Addr overrides the configured listen address.
	Addr string
	// Headless suppresses the local terminal surface.
	Headless bool
	// InitialPrompt is enqueued immediately after startup when non-empty.
	InitialPrompt string
}

// App owns the assembled relay.
type App struct {
	cfg     *config.Config
	opts    Options
	orch    *session.Orchestrator
	storage *session.Storage
	surface *ui.Surface
	srv     *server.Server
}

// New assembles an App from the loaded configuration.
func New(cfg *config.Config, opts Options) (*App, error) {
	program := cfg.DefaultProgram
	if opts.Program != "" {
		program = opts.Program
	}

	orch := session.NewOrchestrator(program, sessionOptions(cfg))

	storage, err := session.NewStorage(config.LoadState())
	if err != nil {
		return nil, err
	}
	if turns, err := storage.LoadTranscript(); err != nil {
		log.WarningLog.Printf("could not restore history: %v", err)
	} else if len(turns) > 0 {
		orch.RestoreHistory(turns)
	}
	if items, err := storage.LoadFinishedItems(); err != nil {
		log.WarningLog.Printf("could not restore queue history: %v", err)
	} else if len(items) > 0 {
		orch.RestoreFinishedItems(items)
	}

	a := &App{
		cfg:     cfg,
		opts:    opts,
		orch:    orch,
		storage: storage,
		srv:     server.New(orch),
	}

	if !opts.Headless {
		a.surface = ui.NewSurface(os.Stdout)
		orch.Register(a.surface)
	}

	orch.SetHooks(session.Hooks{
		OnQueueChanged:  a.onQueueChanged,
		OnStatusChanged: a.onStatusChanged,
	})
	return a, nil
}

// sessionOptions maps the file configuration onto orchestrator tuning.
func sessionOptions(cfg *config.Config) session.Options {
	opts := session.Options{
		Controller: session.ControllerOptions{
			ChunkSize:  cfg.ChunkSize,
			ChunkDelay: time.Duration(cfg.ChunkDelayMs) * time.Millisecond,
			Cols:       cfg.Cols,
			Rows:       cfg.Rows,
		},
		MaxBuffer:        cfg.MaxBufferBytes,
		ThrottleInterval: time.Duration(cfg.ThrottleIntervalMs) * time.Millisecond,
		IdleClear:        time.Duration(cfg.IdleClearSec) * time.Second,
		StartupTimeout:   time.Duration(cfg.StartupTimeoutMs) * time.Millisecond,
		ReadyGrace:       time.Duration(cfg.OptimisticReadyMs) * time.Millisecond,
	}

	if len(cfg.ReadyPatterns) > 0 {
		matchers := session.DefaultReadyMatchers()
		for _, pattern := range cfg.ReadyPatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				log.WarningLog.Printf("ignoring invalid ready pattern %q: %v", pattern, err)
				continue
			}
			matchers = append(matchers, session.Matcher{Name: "configured", Pattern: re})
		}
		opts.Matchers = matchers
	}
	return opts
}

// Run serves until ctx is cancelled, then persists history and shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.opts.InitialPrompt != "" {
		a.orch.Enqueue(a.opts.InitialPrompt)
	}

	addr := a.cfg.ListenAddr
	if a.opts.Addr != "" {
		addr = a.opts.Addr
	}

	err := a.srv.ListenAndServe(ctx, addr)
	a.shutdown()
	return err
}

// shutdown persists history and releases the session.
func (a *App) shutdown() {
	if err := a.storage.SaveTranscript(a.orch.Turns()); err != nil {
		log.WarningLog.Printf("failed to persist transcript: %v", err)
	}
	if err := a.storage.SaveFinishedItems(a.orch.Items()); err != nil {
		log.WarningLog.Printf("failed to persist queue history: %v", err)
	}
	a.orch.Close()
}

func (a *App) onQueueChanged() {
	a.srv.BroadcastQueue()
	if a.surface != nil {
		a.surface.SetQueueCount(unfinishedCount(a.orch.Items()))
	}
	a.writeInspectSnapshot()
}

func (a *App) onStatusChanged(status session.Status) {
	a.srv.BroadcastStatus(status)
	if a.surface != nil {
		a.surface.SetStatus(status.String())
	}
	a.writeInspectSnapshot()
}

// writeInspectSnapshot dumps relay state for AGENT_RELAY_INSPECT=1 runs.
func (a *App) writeInspectSnapshot() {
	if !inspect.IsEnabled() {
		return
	}

	items := a.orch.Items()
	queue := make([]inspect.QueueItemInfo, 0, len(items))
	for _, item := range items {
		queue = append(queue, inspect.QueueItemInfo{
			ID:     item.ID,
			Status: string(item.Status),
			Text:   item.Text,
		})
	}

	snap := inspect.NewSnapshot().
		WithStatus(a.orch.Status().String()).
		WithQueue(queue).
		WithTranscript(len(a.orch.Turns())).
		WithScreen(ansi.Strip(a.orch.Screen()))
	if err := inspect.WriteSnapshot(snap); err != nil {
		log.WarningLog.Printf("failed to write inspect snapshot: %v", err)
	}
}

func unfinishedCount(items []session.QueueItem) int {
	n := 0
	for _, item := range items {
		switch item.Status {
		case session.StatusPending, session.StatusProcessing, session.StatusWaiting:
			n++
		}
	}
	return n
}
