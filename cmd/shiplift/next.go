package main

import (
	"github.com/spf13/cobra"
)

var nextCmd = &cobra.Command{
	Use:   "next [package...]",
	Short: "Start the next release cycle by bumping packages a patch ahead of their latest tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		names := args
		if len(names) == 0 {
			for _, p := range cfg.Packages {
				names = append(names, p.Name)
			}
		}
		return orch.StartNextRelease(cmd.Context(), names)
	},
}
