package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/termhive/termhive/internal/backend"
	"github.com/termhive/termhive/internal/checkpoint"
	"github.com/termhive/termhive/internal/config"
	"github.com/termhive/termhive/internal/expect"
	"github.com/termhive/termhive/internal/guard"
	"github.com/termhive/termhive/internal/logging"
	"github.com/termhive/termhive/internal/memory"
	"github.com/termhive/termhive/internal/monitor"
	"github.com/termhive/termhive/internal/orchestrator"
	"github.com/termhive/termhive/internal/registry"
	"github.com/termhive/termhive/internal/router"
	"github.com/termhive/termhive/internal/session"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("termhive", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus listen address (empty disables)")
	restoreID := fs.String("restore", "", "checkpoint id to restore on startup (\"latest\" for the newest)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(lvl)
	} else {
		slog.Warn("unknown log level, keeping default", "log_level", cfg.LogLevel)
	}

	logging.PrintBanner(version, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Memory store.
	var memStore memory.Store
	switch cfg.MemoryBackend {
	case "sqlite":
		memStore, err = memory.NewSQLiteStore(cfg.MemoryDBPath())
	default:
		memStore, err = memory.NewFlatStore(cfg.MemoryFilePath())
	}
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	// Checkpoint store.
	var ckStore checkpoint.Checkpointer
	switch cfg.CheckpointBackend {
	case "sqlite":
		ckStore, err = checkpoint.NewSQLiteStore(cfg.CheckpointDBPath())
	default:
		ckStore, err = checkpoint.NewFileStore(cfg.CheckpointDirPath())
	}
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	ckMgr := checkpoint.NewManager(ckStore, checkpoint.ManagerOptions{
		AutoCheckpoint: cfg.AutoCheckpoint,
		AutoInterval:   cfg.AutoCheckpointInterval,
	})

	// Registry with its journals.
	journal := registry.NewJournal(cfg.AgentsJournalPath(), cfg.TeamsJournalPath(), cfg.MessagesJournalPath())
	reg, err := registry.New(registry.Options{
		Journal:        journal,
		MessageHistory: cfg.MessageHistory,
	})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	sessions, err := session.NewTracker(cfg.PersistentSessionsPath())
	if err != nil {
		return fmt.Errorf("open session tracker: %w", err)
	}

	guardMgr := guard.New(time.Duration(cfg.FocusCooldownSeconds) * time.Second)
	rt := router.New(router.Options{DedupHistory: cfg.RouterDedupHistory})
	term := backend.NewLocalBackend()
	defer term.CloseAll()

	mon := monitor.New(term, 0, func(paneID, screen string) {
		_ = sessions.Update(paneID, func(s *session.State) {
			s.LastOutput = screen
			s.LastScreenUpdate = time.Now().UTC()
		})
	})

	orch := orchestrator.New(orchestrator.Deps{
		Registry:    reg,
		Guard:       guardMgr,
		Router:      rt,
		Backend:     term,
		Sessions:    sessions,
		Checkpoints: ckMgr,
		Memory:      memStore,
		Monitor:     mon,
		ExpectOptions: expect.EngineOptions{
			DefaultTimeout: time.Duration(cfg.ExpectTimeoutSeconds) * time.Second,
			PollInterval:   time.Duration(cfg.ExpectPollMillis) * time.Millisecond,
		},
	})

	if *restoreID != "" {
		c, err := orch.RestoreCheckpoint(ctx, *restoreID)
		if err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		if c == nil {
			slog.Warn("no checkpoint to restore", "checkpoint_id", *restoreID)
		} else {
			slog.Info("checkpoint restored", "checkpoint_id", c.CheckpointID, "trigger", c.Trigger)
		}
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
		slog.Info("metrics listening", "addr", *metricsAddr)
	}

	slog.Info("termhive ready",
		"data_dir", cfg.DataDir,
		"memory_backend", cfg.MemoryBackend,
		"checkpoint_backend", cfg.CheckpointBackend,
	)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Shutdown(shutdownCtx)
	return nil
}
