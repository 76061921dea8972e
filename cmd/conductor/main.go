package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/conductor/internal/completion"
	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/engine"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/gate"
	"github.com/aristath/conductor/internal/queue"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/store"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local .env overrides are optional
	_ = godotenv.Load()

	var (
		dbPath      = flag.String("db", "", "path to the SQLite database (overrides config)")
		planPath    = flag.String("plan", "", "YAML plan file to seed and execute as one orchestration")
		concurrency = flag.Int("concurrency", 0, "parallel executions per orchestration (overrides config)")
		interval    = flag.Duration("interval", 0, "queue poll interval in daemon mode (overrides config)")
	)
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *concurrency > 0 {
		cfg.Engine.Concurrency = *concurrency
	}
	pollInterval := time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second
	if *interval > 0 {
		pollInterval = *interval
	}

	st, err := store.NewSQLiteStore(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := events.NewBus(events.DefaultHistorySize)
	defer bus.Close()

	completer, err := buildCompleter(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building completer: %v\n", err)
		os.Exit(1)
	}

	eng := engine.NewEngine(st, bus, engine.NewRegistry(), completer)
	mgr := queue.NewManager(st, bus)
	mgr.SetExecutor(eng)
	eng.SetResolver(scheduler.NewResolver(st, mgr))

	gc := gate.NewController(st, bus, completer)
	eng.SetPhaseGate(gc)

	if *planPath != "" {
		err = runPlan(ctx, st, eng, *planPath, cfg.Engine.Concurrency)
	} else {
		err = runDaemon(ctx, mgr, pollInterval)
	}

	// Let in-flight phase reviews settle before closing the store.
	gc.Wait()

	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}

// buildCompleter wraps the configured CLI completion tool with retry and
// circuit breaking, and injects the per-role system prompts.
func buildCompleter(cfg *config.ConductorConfig) (completion.Completer, error) {
	execc, err := completion.NewExecCompleter(cfg.Completion.Command, cfg.Completion.Args)
	if err != nil {
		return nil, err
	}

	prompts := make(map[string]string, len(cfg.Roles))
	for role, rc := range cfg.Roles {
		prompts[role] = rc.SystemPrompt
	}

	resilient := completion.NewResilientCompleter(execc, completion.DefaultRetryConfig())
	return withRolePrompts(resilient, prompts), nil
}

// withRolePrompts fills in the role's configured system prompt when the
// request carries none.
func withRolePrompts(inner completion.Completer, prompts map[string]string) completion.Completer {
	return completion.Func(func(ctx context.Context, req completion.Request) (completion.Response, error) {
		if req.SystemPrompt == "" {
			req.SystemPrompt = prompts[string(req.Role)]
		}
		return inner.Complete(ctx, req)
	})
}

// runPlan seeds one orchestration from a plan file and drives it to a
// settled state.
func runPlan(ctx context.Context, st store.Store, eng *engine.Engine, path string, concurrency int) error {
	orch, err := seedPlan(ctx, st, path)
	if err != nil {
		return err
	}

	log.Printf("executing orchestration %s from %s", orch.ID, path)
	return eng.ExecuteOrchestration(ctx, orch.ID, concurrency)
}

// runDaemon polls the queue until the context is cancelled.
func runDaemon(ctx context.Context, mgr *queue.Manager, interval time.Duration) error {
	log.Printf("polling queue every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutdown signal received, cleaning up...")
			return nil
		case <-ticker.C:
			n, err := mgr.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("ERROR: draining queue: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("processed %d queue items", n)
			}
		}
	}
}
