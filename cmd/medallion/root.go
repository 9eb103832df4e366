package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "medallion",
	Short: "Medallion pipeline orchestrator",
	Long: `Medallion turns a plain-language request into bronze, silver and gold
warehouse layers for a source table.

Each layer is planned, generated and reviewed by Claude, then submitted as a
change proposal. Nothing runs against the warehouse until the proposal is
approved; the run pauses and is resumed once it has been merged.

Core capabilities:
- Plans, generates and reviews SQL and Python transformations per layer
- Submits every layer as a pull request or local branch for approval
- Executes approved layers and profiles their output
- Exposes runs to MCP clients with 'medallion serve'`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: user and project config)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, c color.Attribute) {
	colored := color.New(c).SprintFunc()
	fmt.Printf("  %s %s\n", colored(symbol), message)
}
