package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hephaestus-ai/hephaestus/internal/adapters/git"
	"github.com/hephaestus-ai/hephaestus/internal/adapters/tmux"
	"github.com/hephaestus-ai/hephaestus/internal/api"
	"github.com/hephaestus-ai/hephaestus/internal/background"
	"github.com/hephaestus-ai/hephaestus/internal/config"
	"github.com/hephaestus-ai/hephaestus/internal/events"
	"github.com/hephaestus-ai/hephaestus/internal/llm"
	"github.com/hephaestus-ai/hephaestus/internal/logging"
	"github.com/hephaestus-ai/hephaestus/internal/service/agent"
	"github.com/hephaestus-ai/hephaestus/internal/service/phase"
	"github.com/hephaestus-ai/hephaestus/internal/service/queue"
	"github.com/hephaestus-ai/hephaestus/internal/service/task"
	"github.com/hephaestus-ai/hephaestus/internal/service/ticket"
	"github.com/hephaestus-ai/hephaestus/internal/service/validation"
	"github.com/hephaestus-ai/hephaestus/internal/store"
	"github.com/hephaestus-ai/hephaestus/internal/vector"
)

const eventBusBuffer = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long: `Starts the HTTP server, the event streams and the background loops.
The server runs until interrupted; on SIGINT/SIGTERM in-flight requests get
a grace period before the process exits.`,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	st, err := store.Open(cfg.State.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	idx, err := vector.NewIndex(cfg.Vector.Path)
	if err != nil {
		return err
	}

	bus := events.New(eventBusBuffer)
	defer bus.Close()

	provider := llm.NewProvider(cfg.LLM, log)
	worktrees, err := git.NewEngine(cfg.Worktree, st, log)
	if err != nil {
		return err
	}
	mux := tmux.NewRunner()

	phases := phase.NewEngine(st, cfg.Board, log)
	q := queue.NewService(st, bus, cfg.Orchestrator, log)
	agents := agent.NewManager(st, worktrees, provider, mux,
		cfg.Agents, cfg.Tmux, cfg.Orchestrator, bus, log)
	q.SetSpawner(agents)

	tasks := task.NewService(st, idx, provider, phases, q, agents, worktrees,
		cfg.Dedup, cfg.Orchestrator, cfg.Worktree.MainRepoPath, bus, log)
	valEngine := validation.NewEngine(st, agents, worktrees, q, phases, bus, log)
	tasks.SetValidator(valEngine)
	tickets := ticket.NewService(st, idx, provider, bus, log)
	tickets.SetTaskSyncer(tasks)

	server := api.NewServer(api.Deps{
		Store:      st,
		Tasks:      tasks,
		Tickets:    tickets,
		Agents:     agents,
		Queue:      q,
		Phases:     phases,
		Validation: valEngine,
		Bus:        bus,
		EnableCORS: cfg.Server.EnableCORS,
		Log:        log,
	})
	runner := background.NewRunner(st, q, tasks, agents, cfg.Orchestrator, bus, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if folder := cfg.Agents.PhasesFolder; folder != "" {
		if err := phases.LoadFolder(ctx, folder); err != nil {
			log.Warn("loading phases folder failed", "dir", folder, "error", err)
		} else {
			g.Go(func() error { return ignoreCancel(phases.WatchFolder(ctx, folder)) })
		}
	}
	g.Go(func() error { return server.ListenAndServe(ctx, cfg.Server.Addr) })
	g.Go(func() error { return ignoreCancel(runner.Run(ctx)) })

	log.Info("hephaestus started", "version", appVersion, "addr", cfg.Server.Addr)
	return ignoreCancel(g.Wait())
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	// CLI flags beat config file and environment.
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
