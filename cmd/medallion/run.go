package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/api"
	"github.com/ShayCichocki/medallion/internal/config"
	"github.com/ShayCichocki/medallion/internal/pipeline"
	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/internal/rules"
	"github.com/ShayCichocki/medallion/internal/tui"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var (
	runSource     string
	runRulesPath  string
	runReportPath string
	runTUI        bool
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Build the bronze, silver and gold layers for a source table",
	Long: `Run the pipeline for a source table.

Each layer is planned, generated and reviewed, then submitted as a change
proposal. The run pauses until the proposal is approved; resume it with
'medallion resume <run-id>' or let 'medallion watch' resume it for you.

Examples:
  medallion run --source raw.orders "clean customer orders and build daily revenue"
  medallion run --source raw.events --tui "sessionize click events"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runSource, "source", "s", "", "Fully qualified source table (required)")
	runCmd.Flags().StringVar(&runRulesPath, "rules", "", "Rules file (default: pipeline.rules_path)")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Write a markdown report to this file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	_ = runCmd.MarkFlagRequired("source")
}

func runRun(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ruleText, err := loadRulesText(cfg, runRulesPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(ctx, cfg, runTUI)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := pipeline.Request{Query: query, SourceReference: runSource, Rules: ruleText}
	start := func(ctx context.Context) (*models.PipelineState, error) {
		return rt.pipeline.Start(ctx, req)
	}

	var st *models.PipelineState
	if runTUI {
		st, err = runWithTUI(ctx, rt, query, runSource, start)
	} else {
		fmt.Printf("Running pipeline on %s...\n\n", runSource)
		st, err = start(ctx)
	}
	if err != nil {
		return err
	}
	printUsage(rt.tokens)
	return printResult(st, runReportPath)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping run...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadRulesText reads the rules file, falling back to the default rules when
// it does not exist.
func loadRulesText(cfg *config.Config, override string) (string, error) {
	path := override
	if path == "" {
		path = cfg.Pipeline.RulesPath
	}
	r, err := rules.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		if override != "" {
			return "", fmt.Errorf("rules file %s not found", override)
		}
		printStatus("⚠", fmt.Sprintf("No rules file at %s, using default rules", path), color.FgYellow)
		return r.Text(), nil
	}
	if err != nil {
		return "", fmt.Errorf("load rules: %w", err)
	}
	return r.Text(), nil
}

// printResult prints a summary of st and optionally writes the markdown
// report.
func printResult(st *models.PipelineState, reportPath string) error {
	report.Terminal(os.Stdout, st)

	if steps := report.NextSteps(st); len(steps) > 0 {
		fmt.Println()
		fmt.Println("Next steps:")
		for i, s := range steps {
			fmt.Printf("  %d. %s\n", i+1, s)
		}
	}

	if reportPath != "" {
		f, err := os.Create(reportPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := report.Markdown(f, st); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("\nReport written to %s\n", reportPath)
	}

	switch st.Status {
	case models.RunStatusFailed, models.RunStatusHalted:
		return fmt.Errorf("run %s %s", st.RunID, st.Status)
	}
	return nil
}

// printUsage prints the tokens the run spent on inference.
func printUsage(tr *api.TokenTracker) {
	if tr == nil || tr.Calls() == 0 {
		return
	}
	in, out := tr.Total()
	fmt.Printf("Inference: %d calls, %d input / %d output tokens (~$%.2f)\n\n", tr.Calls(), in, out, tr.Cost())
}

// runWithTUI runs fn while a progress view follows the run's events. The run
// keeps going if the view is closed early.
func runWithTUI(ctx context.Context, rt *runtime, query, source string, fn func(context.Context) (*models.PipelineState, error)) (*models.PipelineState, error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	program, view := tui.NewProgressProgram(query, source)
	go tui.ForwardEvents(program, rt.events.Events())

	type result struct {
		state *models.PipelineState
		err   error
	}
	runDone := make(chan result, 1)
	go func() {
		st, err := fn(ctx)
		program.Send(tui.RunDoneMsg{State: st, Err: err})
		runDone <- result{st, err}
	}()

	if _, err := program.Run(); err != nil {
		return nil, fmt.Errorf("run TUI: %w", err)
	}

	if final, err := view.Final(); final != nil || err != nil {
		return final, err
	}
	fmt.Println("Waiting for the run to pause or finish...")
	r := <-runDone
	return r.state, r.err
}
