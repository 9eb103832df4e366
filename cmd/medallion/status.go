package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var (
	statusProposal string
	statusMarkdown bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run and the proposal it is waiting on",
	Long: `Show the state of a run. When the run is paused, the change proposal it is
waiting on is checked as well.

Examples:
  medallion status 3f2a...
  medallion status --proposal 42
  medallion status --proposal medallion/3f2a.../silver`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProposal, "proposal", "", "Find the run by proposal number, URL or branch")
	statusCmd.Flags().BoolVar(&statusMarkdown, "markdown", false, "Print the full markdown report")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (statusProposal == "") {
		return fmt.Errorf("give either a run ID or --proposal")
	}
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := ""
	var layer models.Layer
	if len(args) == 1 {
		runID = args[0]
	} else {
		runID, layer, err = db.FindBySubmission(ctx, statusProposal)
		if err != nil {
			return err
		}
		fmt.Printf("Proposal %s belongs to the %s layer of run %s\n\n", statusProposal, layer, runID)
	}

	st, err := db.Get(ctx, runID)
	if err != nil {
		return err
	}

	if statusMarkdown {
		if err := report.Markdown(os.Stdout, st); err != nil {
			return err
		}
	} else {
		report.Terminal(os.Stdout, st)
	}

	if st.Status != models.RunStatusAwaitingApproval || st.ApprovalHandle.IsZero() {
		return nil
	}
	if layer != "" && layer != st.CurrentLayer {
		return nil
	}

	backend, err := newProposals(cfg)
	if err != nil {
		printStatus("⚠", fmt.Sprintf("Cannot check the proposal: %v", err), color.FgYellow)
		return nil
	}
	ps, err := backend.GetStatus(ctx, *st.ApprovalHandle)
	if err != nil {
		printStatus("⚠", fmt.Sprintf("Cannot check the proposal: %v", err), color.FgYellow)
		return nil
	}

	fmt.Println()
	if ps.Approved {
		printStatus("✓", fmt.Sprintf("Proposal %s is approved (%s)", report.HandleRef(st.ApprovalHandle), ps.State), color.FgGreen)
		fmt.Printf("\nResume the run with 'medallion resume %s'.\n", st.RunID)
	} else {
		printStatus("•", fmt.Sprintf("Proposal %s is %s, not approved yet", report.HandleRef(st.ApprovalHandle), orUnknown(ps.State)), color.FgYellow)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
