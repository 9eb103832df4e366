package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/internal/trigger"
)

var watchConcurrency int

var watchCmd = &cobra.Command{
	Use:   "watch [run-id]",
	Short: "Resume runs when their approval is signalled",
	Long: `Watch the signals directory and resume each run whose approval is
signalled with 'medallion approve' (or by CI writing <run-id>.approved).

With a run ID, wait for that run only, resume it once and exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchConcurrency, "concurrency", 2, "Maximum runs resumed at once")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchConcurrency < 1 {
		return fmt.Errorf("--concurrency must be >= 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := cfg.Pipeline.SignalsDir
	w, err := trigger.NewWatcher(dir, trigger.DefaultPollInterval)
	if err != nil {
		return err
	}
	defer w.Close()

	resume := func(runID string) {
		if err := trigger.Clear(dir, runID); err != nil {
			log.Printf("[watch] clear signal for %s: %v", runID, err)
		}
		st, err := rt.pipeline.Resume(ctx, runID)
		if err != nil {
			printStatus("✗", fmt.Sprintf("Resume %s: %v", runID, err), color.FgRed)
			return
		}
		report.Terminal(os.Stdout, st)
	}

	if len(args) == 1 {
		runID := args[0]
		fmt.Printf("Waiting for approval of run %s (signals in %s)...\n", runID, dir)
		if err := w.WaitFor(ctx, runID); err != nil {
			return err
		}
		resume(runID)
		return nil
	}

	fmt.Printf("Watching %s for approvals. Press Ctrl+C to stop.\n", dir)
	p := pool.New().WithMaxGoroutines(watchConcurrency)
	active := newInFlight()
	err = w.Run(ctx, func(runID string) {
		if !active.begin(runID) {
			log.Printf("[watch] run %s is already resuming, ignoring repeat signal", runID)
			return
		}
		printStatus("•", "Approval signalled for run "+runID, color.FgCyan)
		p.Go(func() {
			defer active.done(runID)
			resume(runID)
		})
	})
	p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// inFlight tracks the runs being resumed so one run never has two writers.
type inFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{ids: make(map[string]struct{})}
}

// begin marks runID as resuming. It reports false when it already is.
func (f *inFlight) begin(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[runID]; ok {
		return false
	}
	f.ids[runID] = struct{}{}
	return true
}

func (f *inFlight) done(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, runID)
}
