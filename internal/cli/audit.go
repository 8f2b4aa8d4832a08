package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect or verify the audit log",
	RunE:  runAudit,
}

var auditFlags struct {
	taskID string
	actor  string
	since  string
	until  string
	verify bool
}

func init() {
	auditCmd.Flags().StringVar(&auditFlags.taskID, "task", "", "only entries for this task id")
	auditCmd.Flags().StringVar(&auditFlags.actor, "actor", "", "only entries recorded by this actor")
	auditCmd.Flags().StringVar(&auditFlags.since, "since", "", "only entries after this RFC3339 timestamp")
	auditCmd.Flags().StringVar(&auditFlags.until, "until", "", "only entries before this RFC3339 timestamp")
	auditCmd.Flags().BoolVar(&auditFlags.verify, "verify", false, "verify the per-actor hash chains instead of listing")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	path := rt.cfg.AuditLogPath()
	if auditFlags.verify {
		count, err := audit.VerifyChain(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chain intact across %d record(s)\n", count)
		return nil
	}

	filter := audit.Filter{TaskID: auditFlags.taskID, Actor: auditFlags.actor}
	if auditFlags.since != "" {
		since, err := time.Parse(time.RFC3339, auditFlags.since)
		if err != nil {
			return fmt.Errorf("--since must be RFC3339: %w", err)
		}
		filter.Since = since
	}
	if auditFlags.until != "" {
		until, err := time.Parse(time.RFC3339, auditFlags.until)
		if err != nil {
			return fmt.Errorf("--until must be RFC3339: %w", err)
		}
		filter.Until = until
	}
	entries, err := audit.Entries(path, filter)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %s  %s→%s  %s  %s",
			entry.Timestamp.Format(time.RFC3339), entry.TaskID,
			entry.From, entry.To, entry.Actor, entry.Outcome)
		if entry.Reason != "" {
			line += "  (" + entry.Reason + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(entries))
	return nil
}
