package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/proposal"
	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/internal/trigger"
)

var (
	approveMerge bool
	approveNote  string
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Signal that a paused run's proposal is approved",
	Long: `Signal that the change proposal a run is waiting on has been approved.

With --merge the proposal is merged first (a pull request through the GitHub
API, or a local branch into base). The signal lets 'medallion watch' resume
the run; the run still checks the proposal's status before executing.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().BoolVar(&approveMerge, "merge", false, "Merge the proposal before signalling")
	approveCmd.Flags().StringVar(&approveNote, "note", "", "Note recorded with the signal")
}

func runApprove(cmd *cobra.Command, args []string) error {
	runID := args[0]
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

	st, err := db.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !st.Status.Resumable() || st.ApprovalHandle.IsZero() {
		return fmt.Errorf("run %s is %s and is not waiting on a proposal", runID, st.Status)
	}
	ref := report.HandleRef(st.ApprovalHandle)

	if approveMerge {
		backend, err := newProposals(cfg)
		if err != nil {
			return fmt.Errorf("create proposal backend: %w", err)
		}
		merger, ok := backend.(proposal.Merger)
		if !ok {
			return fmt.Errorf("the %s backend cannot merge proposals", cfg.Proposal.Backend)
		}
		if err := merger.Merge(ctx, *st.ApprovalHandle); err != nil {
			printStatus("✗", "Merge failed: "+ref, color.FgRed)
			return err
		}
		printStatus("✓", "Merged "+ref, color.FgGreen)
	}

	if err := trigger.Signal(cfg.Pipeline.SignalsDir, runID, approveNote); err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Signalled approval of the %s layer of run %s", st.CurrentLayer, runID), color.FgGreen)
	fmt.Printf("\nResume it now with 'medallion resume %s', or leave it to 'medallion watch'.\n", runID)
	return nil
}
