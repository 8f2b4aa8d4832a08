package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Open the approval console",
	Long: `Review opens a terminal console over the Pending_Approval compartment.
Approving a task stamps the decision into its frontmatter and moves it to
Approved; rejecting moves it to Rejected with a typed reason. Both paths
go through the same transition engine the workers use.`,
	RunE: runReview,
}

var reviewActor string

func init() {
	reviewCmd.Flags().StringVar(&reviewActor, "as", "", "name decisions are attributed to (defaults to the configured actor)")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	actor := reviewActor
	if actor == "" {
		actor = rt.cfg.Actor()
	}
	eng, _, err := rt.openEngine(actor)
	if err != nil {
		return err
	}

	rt.logger.Printf("review console opened by %s", actor)
	p := tea.NewProgram(tui.NewApp(eng, actor), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run console: %w", err)
	}
	return nil
}
