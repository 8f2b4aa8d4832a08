package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/action"
	"github.com/vaultship/greenlight/internal/approval"
	"github.com/vaultship/greenlight/internal/bridge"
	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/vault"
	"github.com/vaultship/greenlight/internal/watch"
	"github.com/vaultship/greenlight/internal/worker"
	"github.com/vaultship/greenlight/plugins"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker loop",
	Long: `The worker claims tasks from the Inbox, executes what policy allows
autonomously, routes everything else to Pending_Approval, and executes
approved tasks after the gate re-checks them. Runs until interrupted.`,
	RunE: runWorker,
}

var workerOnce bool

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "run a single poll pass and exit")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if workerOnce {
		w, err := buildWorker(rt)
		if err != nil {
			return err
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d task(s)\n", processed)
		return nil
	}

	// Watch the vault so inbox and approved changes cut the poll wait
	// short instead of waiting out the interval.
	router := bridge.NewRouter(bridge.RouterWithLogger(rt.logger))
	watcher, err := watch.New(rt.store.Root(), router,
		watch.WithDebounce(rt.cfg.WatchDebounce()), watch.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	wake := make(chan struct{}, 1)
	forward := func(sub bridge.Subscription) {
		for range sub.Events {
			select {
			case wake <- struct{}{}:
			default: // a pass is already pending
			}
		}
	}
	inboxSub := router.Subscribe(string(vault.Inbox))
	defer inboxSub.Close()
	approvedSub := router.Subscribe(string(vault.Approved))
	defer approvedSub.Close()
	go forward(inboxSub)
	go forward(approvedSub)

	w, err := buildWorker(rt, worker.WithWakeup(wake))
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	rt.logger.Printf("worker %s starting (poll %s)", rt.cfg.Actor(), rt.cfg.PollInterval())
	return w.Run(ctx)
}

// buildWorker assembles the registry, policy, and gate from project config.
func buildWorker(rt *runtime, extra ...worker.Option) (*worker.Worker, error) {
	registry := action.NewRegistry()
	action.RegisterBuiltins(registry)
	if err := plugins.RegisterHandlerPlugins(registry, rt.cfg.PluginsDir()); err != nil {
		return nil, fmt.Errorf("load handler plugins: %w", err)
	}

	eng, _, err := rt.openEngine(rt.cfg.Actor())
	if err != nil {
		return nil, err
	}
	policy := engine.TablePolicy{
		AutonomousTypes:           rt.cfg.AutonomousTypes(),
		PaymentCeiling:            rt.cfg.PaymentCeiling(),
		PreapprovedCounterparties: rt.cfg.PreapprovedCounterparties(),
	}
	gate := approval.Gate{
		PaymentCeiling:  rt.cfg.PaymentCeiling(),
		NewContactTypes: rt.cfg.NewContactTypes(),
	}

	opts := []worker.Option{
		worker.WithLogger(rt.logger),
		worker.WithInterval(rt.cfg.PollInterval()),
		worker.WithHandlerConfig("archive", action.Config{"dir": rt.cfg.ArchiveDir()}),
	}
	opts = append(opts, extra...)
	return worker.New(eng, gate, policy, registry, rt.cfg.Actor(), opts...), nil
}
