package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/medallion/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of medallion",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medallion version %s\n", version.String())
	},
}
