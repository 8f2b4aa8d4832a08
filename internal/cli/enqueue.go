package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Drop a new task document into the Inbox",
	Long: `Enqueue writes a fresh task document into the Inbox compartment using
the same exclusive-create primitive as every other producer. The body is
read from --body, or from stdin when --body is "-".`,
	RunE: runEnqueue,
}

var enqueueFlags struct {
	actionType   string
	source       string
	priority     string
	counterparty string
	amount       float64
	body         string
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFlags.actionType, "type", "", "action type (required)")
	enqueueCmd.Flags().StringVar(&enqueueFlags.source, "source", "cli", "where the task came from")
	enqueueCmd.Flags().StringVar(&enqueueFlags.priority, "priority", "", "task priority")
	enqueueCmd.Flags().StringVar(&enqueueFlags.counterparty, "counterparty", "", "payee or contact this task concerns")
	enqueueCmd.Flags().Float64Var(&enqueueFlags.amount, "amount", 0, "payment amount, when the task moves money")
	enqueueCmd.Flags().StringVar(&enqueueFlags.body, "body", "", `task body ("-" reads stdin)`)
	_ = enqueueCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(enqueueFlags.actionType) == "" {
		return errors.New("--type is required")
	}
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	body := enqueueFlags.body
	if body == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read body from stdin: %w", err)
		}
		body = string(raw)
	}

	doc := task.New(strings.TrimSpace(enqueueFlags.actionType), enqueueFlags.source, []byte(body), time.Now().UTC())
	doc.Meta.Priority = enqueueFlags.priority
	doc.Meta.Counterparty = enqueueFlags.counterparty
	if cmd.Flags().Changed("amount") {
		doc.Meta.Amount = enqueueFlags.amount
	}

	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if err := rt.store.CreateExclusive(vault.Inbox, doc.Name, data); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	rt.logger.Printf("enqueued %s (%s)", doc.Meta.ID, doc.Meta.ActionType)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", doc.Meta.ID)
	return nil
}
