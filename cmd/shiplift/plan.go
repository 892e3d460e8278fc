package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what release-pr would do, without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := orch.Plan(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Package", "Current", "Next", "Commits", "Branch"})
		for _, e := range entries {
			next := e.NextTag
			if next == "" {
				next = "-"
			}
			current := e.CurrentTag
			if current == "" {
				current = "(none)"
			}
			t.AppendRow(table.Row{e.Package, current, next, e.Commits, e.Branch})
		}
		t.Render()
		return nil
	},
}
