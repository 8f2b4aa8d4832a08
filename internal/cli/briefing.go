package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/report"
)

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Generate a briefing over recent vault and audit activity",
	Long: `Briefing summarizes the trailing period: completed work by source and
type, tasks waiting on a human, parked tasks, and audit activity. The
document lands at the vault root as ` + report.FileName + `.`,
	RunE: runBriefing,
}

var briefingFlags struct {
	period time.Duration
	stdout bool
}

func init() {
	briefingCmd.Flags().DurationVar(&briefingFlags.period, "period", 24*time.Hour, "how far back the briefing looks")
	briefingCmd.Flags().BoolVar(&briefingFlags.stdout, "stdout", false, "print the briefing instead of writing it to the vault")
	rootCmd.AddCommand(briefingCmd)
}

func runBriefing(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	gen := report.NewGenerator(rt.store, rt.cfg.AuditLogPath())
	briefing, err := gen.Generate(briefingFlags.period)
	if err != nil {
		return err
	}

	if briefingFlags.stdout {
		fmt.Fprint(cmd.OutOrStdout(), briefing.Render())
		return nil
	}
	path, err := briefing.WriteFile(rt.store.Root())
	if err != nil {
		return err
	}
	rt.logger.Printf("briefing written to %s", path)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", path)
	return nil
}
