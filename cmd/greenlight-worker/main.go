// cmd/greenlight-worker/main.go
//
// Headless worker binary for deployments that run the poll loop under a
// process supervisor, without the CLI surface. Same assembly as
// `greenlight worker`: claim from the Inbox, execute what policy allows,
// route the rest to approval, execute what the gate passes.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/vaultship/greenlight/internal/action"
	"github.com/vaultship/greenlight/internal/approval"
	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/config"
	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/logging"
	"github.com/vaultship/greenlight/internal/vault"
	"github.com/vaultship/greenlight/internal/worker"
	"github.com/vaultship/greenlight/plugins"
)

func main() {
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	actor := flag.String("actor", "", "worker identity in claims and audit records (defaults to config)")
	poll := flag.Duration("poll", 0, "poll interval override")
	once := flag.Bool("once", false, "run a single poll pass and exit")
	flag.Parse()

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitGreenlightDir(absoluteProject); err != nil {
		die("init .greenlight: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}

	store := vault.NewDir(cfg.VaultDir())
	if err := store.Init(); err != nil {
		die("init vault: %v", err)
	}
	logger, err := logging.New(absoluteProject)
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()

	identity := strings.TrimSpace(*actor)
	if identity == "" {
		identity = cfg.Actor()
	}
	auditLog, err := audit.Open(cfg.AuditLogPath(), identity)
	if err != nil {
		die("open audit log: %v", err)
	}
	eng := engine.New(store, auditLog, engine.WithLogger(logger))

	registry := action.NewRegistry()
	action.RegisterBuiltins(registry)
	if err := plugins.RegisterHandlerPlugins(registry, cfg.PluginsDir()); err != nil {
		die("load handler plugins: %v", err)
	}

	interval := cfg.PollInterval()
	if *poll > 0 {
		interval = *poll
	}
	w := worker.New(eng,
		approval.Gate{
			PaymentCeiling:  cfg.PaymentCeiling(),
			NewContactTypes: cfg.NewContactTypes(),
		},
		engine.TablePolicy{
			AutonomousTypes:           cfg.AutonomousTypes(),
			PaymentCeiling:            cfg.PaymentCeiling(),
			PreapprovedCounterparties: cfg.PreapprovedCounterparties(),
		},
		registry,
		identity,
		worker.WithLogger(logger),
		worker.WithInterval(interval),
		worker.WithHandlerConfig("archive", action.Config{"dir": cfg.ArchiveDir()}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		processed, err := w.RunOnce(ctx)
		if err != nil {
			die("poll pass: %v", err)
		}
		fmt.Printf("processed %d task(s)\n", processed)
		return
	}

	logger.Printf("worker %s starting (poll %s)", identity, interval)
	if err := w.Run(ctx); err != nil {
		die("worker: %v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
