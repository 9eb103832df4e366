package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/rules"
	"github.com/ShayCichocki/medallion/pkg/models"
)

var rulesLayer string

var rulesCmd = &cobra.Command{
	Use:   "rules [path]",
	Short: "Show the transformation rules applied to every run",
	Long: `Show the business transformation rules passed to every layer.

Rules are read from pipeline.rules_path (default rules.yaml), or from the
given path. A .yaml file holds general and per-layer rules; any other file is
used as plain text.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().StringVar(&rulesLayer, "layer", "", "Only show the rules for this layer")
}

func runRules(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Pipeline.RulesPath
	}

	r, err := rules.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		printStatus("⚠", fmt.Sprintf("No rules file at %s, the default rules apply", path), color.FgYellow)
		fmt.Println()
	case err != nil:
		printStatus("✗", "Invalid rules file", color.FgRed)
		return err
	}

	if rulesLayer != "" {
		layer := models.Layer(rulesLayer)
		if !layer.Valid() {
			return fmt.Errorf("unknown layer %q", rulesLayer)
		}
		for _, rule := range r.ForLayer(layer) {
			fmt.Printf("- %s\n", rule)
		}
		return nil
	}

	fmt.Println(r.Text())
	return nil
}
