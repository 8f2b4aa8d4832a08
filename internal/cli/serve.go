package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/bridge"
	"github.com/vaultship/greenlight/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge over the vault",
	Long: `Serve exposes task intake and read-only vault and audit views over
HTTP, and watches the compartment directories so subscribers see changes
as they happen. Enable it by setting bridge.addr in config.yaml or
GREENLIGHT_BRIDGE_ENABLED=true. Runs until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	settings := bridge.SettingsFromConfig(rt.cfg)
	if !settings.Enabled {
		return errors.New("bridge is disabled; set bridge.addr in config.yaml or GREENLIGHT_BRIDGE_ENABLED=true")
	}

	router := bridge.NewRouter(bridge.RouterWithLogger(rt.logger))
	watcher, err := watch.New(rt.store.Root(), router,
		watch.WithDebounce(rt.cfg.WatchDebounce()),
		watch.WithLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	server := bridge.NewServer(settings, rt.store, rt.cfg.AuditLogPath(),
		bridge.WithProcessor(router),
		bridge.WithLogger(rt.logger),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on %s\n", server.Addr())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
