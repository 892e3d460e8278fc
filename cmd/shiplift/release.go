package main

import (
	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Tag and publish releases for merged release pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		return orch.CreateReleases(cmd.Context())
	},
}
