package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim stale tasks from the transient compartments",
	Long: `Sweep inspects In_Progress and Pending_Approval for documents that
have not been touched within the stale window. Reclaimed tasks return to
the Inbox with an incremented retry count; tasks past the retry limit
are parked in Needs_Action. One pass by default, a loop with --follow.`,
	RunE: runSweep,
}

var sweepFollow bool

func init() {
	sweepCmd.Flags().BoolVar(&sweepFollow, "follow", false, "keep sweeping on the configured interval")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	eng, _, err := rt.openEngine("sweeper")
	if err != nil {
		return err
	}
	s := sweeper.New(eng, rt.cfg.StaleAfter(), rt.cfg.MaxRetries(),
		sweeper.WithLogger(rt.logger),
		sweeper.WithInterval(rt.cfg.SweepInterval()),
	)

	if sweepFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		rt.logger.Printf("sweeper starting (interval %s, stale after %s)", rt.cfg.SweepInterval(), rt.cfg.StaleAfter())
		return s.Run(ctx)
	}

	reclaimed, err := s.Sweep()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d task(s)\n", reclaimed)
	return nil
}
