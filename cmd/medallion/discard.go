package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var discardReason string

var discardCmd = &cobra.Command{
	Use:   "discard <run-id>",
	Short: "Abandon a paused run",
	Long: `Abandon a run so it can no longer be resumed.

Open change proposals are left as they are; close them in the proposal
backend if they should not be merged.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscard,
}

func init() {
	discardCmd.Flags().StringVar(&discardReason, "reason", "", "Why the run is abandoned")
}

func runDiscard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := db.Discard(context.Background(), args[0], discardReason)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Run %s discarded at the %s layer", st.RunID, st.CurrentLayer), color.FgGreen)
	return nil
}
