package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/mcpserver"
	"github.com/ShayCichocki/medallion/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline to MCP clients over stdio",
	Long: `Run an MCP server on stdin/stdout exposing the tools run_pipeline,
resume_pipeline, check_transformation_status and view_transformation_rules.

Logs go to stderr so they never mix with the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	err = mcpserver.Run(ctx, mcpserver.Config{
		Runner:    rt.pipeline,
		Proposals: rt.proposals,
		RulesPath: cfg.Pipeline.RulesPath,
		Version:   version.Get(),
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
