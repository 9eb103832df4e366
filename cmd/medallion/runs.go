package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/report"
	"github.com/ShayCichocki/medallion/internal/state"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var (
	runsStatus string
	runsPurge  time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline runs",
	Long: `List stored pipeline runs, most recently updated first.

Examples:
  medallion runs
  medallion runs --status awaiting-approval
  medallion runs --purge 720h   # delete finished runs older than 30 days`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Only show runs with this status")
	runsCmd.Flags().DurationVar(&runsPurge, "purge", 0, "Delete finished runs that ended longer ago than this before listing")
}

func runRuns(cmd *cobra.Command, args []string) error {
	var filter *models.RunStatus
	if runsStatus != "" {
		st := models.RunStatus(runsStatus)
		if !st.Valid() {
			return fmt.Errorf("unknown status %q", runsStatus)
		}
		filter = &st
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if runsPurge > 0 {
		n, err := db.PurgeOldRuns(context.Background(), runsPurge)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Purged %d finished runs older than %s", n, runsPurge), color.FgGreen)
	}

	runs, err := db.List(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found. Start one with 'medallion run --source <table> <request>'.")
		return nil
	}

	fmt.Println(runsTable(runs, time.Now()))
	return nil
}

// runsTable renders runs as a table.
func runsTable(runs []state.RunSummary, now time.Time) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			report.StatusSymbol(r.Status) + " " + string(r.Status),
			r.SourceReference,
			fmt.Sprintf("%d/%d", r.LayersCompleted, r.LayersTotal),
			string(r.CurrentLayer),
			formatAge(now.Sub(r.UpdatedAt)),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("RUN", "STATUS", "SOURCE", "LAYERS", "CURRENT", "UPDATED").
		Rows(rows...).
		String()
}

// formatAge renders a duration as a coarse age.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
