package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/state"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var (
	resumeReportPath string
	resumeTUI        bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run paused for approval",
	Long: `Resume a run that paused waiting for a change proposal.

The proposal's status is checked again. If it has been approved the layer is
executed and the run continues with the next layer; otherwise the run pauses
again.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeReportPath, "report", "", "Write a markdown report to this file")
	resumeCmd.Flags().BoolVar(&resumeTUI, "tui", false, "Show live progress in a terminal UI")
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cfg, resumeTUI)
	if err != nil {
		return err
	}
	defer rt.Close()

	saved, err := rt.store.Get(ctx, runID)
	if errors.Is(err, state.ErrRunNotFound) {
		return fmt.Errorf("run %s not found; list runs with 'medallion runs'", runID)
	}
	if err != nil {
		return err
	}
	if !saved.Status.Resumable() {
		return fmt.Errorf("run %s is %s and cannot be resumed", runID, saved.Status)
	}

	resume := func(ctx context.Context) (*models.PipelineState, error) {
		return rt.pipeline.Resume(ctx, runID)
	}

	var st *models.PipelineState
	if resumeTUI {
		st, err = runWithTUI(ctx, rt, saved.Query, saved.SourceReference, resume)
	} else {
		fmt.Printf("Resuming run %s at the %s layer...\n\n", runID, saved.CurrentLayer)
		st, err = resume(ctx)
	}
	if err != nil {
		return err
	}
	printUsage(rt.tokens)
	return printResult(st, resumeReportPath)
}
