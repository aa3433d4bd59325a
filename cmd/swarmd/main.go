package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"swarmd/internal/breaker"
	"swarmd/internal/config"
	"swarmd/internal/event"
	"swarmd/internal/llm"
	"swarmd/internal/monitor"
	"swarmd/internal/natsbus"
	"swarmd/internal/notify"
	"swarmd/internal/run"
	"swarmd/internal/sandbox"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
	"swarmd/internal/vault"
	"swarmd/internal/web"
	"swarmd/internal/worker"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("swarmd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "archive":
		if err := runArchive(os.Args[2:]); err != nil {
			slog.Error("archive failed", "error", err)
			os.Exit(1)
		}
	case "replay":
		if err := runReplay(os.Args[2:]); err != nil {
			slog.Error("replay failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: swarmd <command>\n\nCommands:\n  gateway    Start the swarmd gateway service\n  archive    Export the event stream to a compressed archive\n  replay     Replay an event archive onto the bus\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting swarmd gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	srv, err := natsbus.NewServer(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer srv.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// The one event bus for this process
	var bus event.Bus
	if cfg.Queue.Durable {
		bus, err = natsbus.NewDurableEventBus(srv)
	} else {
		bus, err = natsbus.NewEventBus(srv)
	}
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer bus.Close()
	slog.Info("event bus ready", "durable", cfg.Queue.Durable)

	v := vault.New(cfg.Vault.Passphrase)
	breakers := breaker.NewRegistry(bus)

	// Task queue over JetStream
	client, err := natsbus.NewClient(srv)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	queue, err := task.NewQueue(client, db)
	if err != nil {
		return fmt.Errorf("init task queue: %w", err)
	}

	// Metacognitive monitor
	mon := monitor.New(db, bus, cfg.Monitor)
	go mon.Run(ctx)

	// Swarm machine and run dispatch
	machine := swarm.NewMachine(db, bus,
		swarm.HeuristicStrategyEngine{},
		swarm.NewCeilingResourceManager(),
		swarm.RosterTeamManager{},
		mon)
	runSvc := run.NewService(db, queue, bus)

	// Notification channels
	notifier, err := notify.New(db, cfg.Notify)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	// Sandbox runner; the gateway still works without a Docker daemon,
	// sandbox tasks just fail
	runner, err := sandbox.NewRunner(cfg.Sandbox)
	if err != nil {
		slog.Warn("sandbox disabled", "error", err)
		runner = nil
	} else {
		defer runner.Close()
	}

	llmClient := llm.NewClient(cfg.LLM, db, v)

	// Worker pool
	exportDir := filepath.Join(filepath.Dir(cfg.Store.Path), "exports")
	handlers := worker.NewHandlers(db, machine, runner, notifier, llmClient, breakers, bus, exportDir)
	pool := worker.NewPool(queue, handlers, bus, cfg.Queue)
	go func() {
		if err := pool.Run(ctx); err != nil {
			slog.Error("worker pool error", "error", err)
		}
	}()
	slog.Info("worker pool started")

	// Web API
	if cfg.Web.Enabled {
		webSrv := web.NewServer(db, bus, machine, runSvc, queue, breakers, v, cfg.Web, version)
		go func() {
			if err := webSrv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
