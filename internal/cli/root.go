// Package cli wires the vault, engine, and runtime loops into the
// greenlight command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/config"
	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/logging"
	"github.com/vaultship/greenlight/internal/vault"
)

var rootCmd = &cobra.Command{
	Use:   "greenlight",
	Short: "Human-in-the-loop task runner over a plain-file vault",
	Long: `Greenlight moves task documents through a directory vault where every
compartment is a lifecycle state. Workers execute what policy allows,
everything sensitive waits in Pending_Approval for a human decision,
and every transition lands in an append-only audit log.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("project", "p", "", "project directory (defaults to cwd)")
}

// runtime bundles the pieces most subcommands need.
type runtime struct {
	cfg    *config.Config
	store  *vault.Dir
	logger *logging.Logger
}

func projectDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString("project")
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
	}
	return filepath.Abs(dir)
}

// newRuntime initializes the project layout and opens the store. Every
// subcommand goes through here so a bare directory works on first use.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	dir, err := projectDir(cmd)
	if err != nil {
		return nil, err
	}
	if err := config.InitGreenlightDir(dir); err != nil {
		return nil, fmt.Errorf("init project layout: %w", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store := vault.NewDir(cfg.VaultDir())
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	logger, err := logging.New(dir)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &runtime{cfg: cfg, store: store, logger: logger}, nil
}

func (r *runtime) Close() {
	if r.logger != nil {
		r.logger.Close()
	}
}

// openEngine builds a transition engine whose audit entries carry actor.
func (r *runtime) openEngine(actor string) (*engine.Engine, *audit.Log, error) {
	log, err := audit.Open(r.cfg.AuditLogPath(), actor)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	eng := engine.New(r.store, log, engine.WithLogger(r.logger))
	return eng, log, nil
}
