package main

import (
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var openPRs bool

var releasePRCmd = &cobra.Command{
	Use:   "release-pr",
	Short: "Create or update release pull requests for packages with unreleased changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, cleanup, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		prs, err := orch.CreateReleasePRs(cmd.Context())
		if err != nil {
			return err
		}
		if len(prs) == 0 {
			cmd.Println("Nothing to release.")
			return nil
		}

		for _, pr := range prs {
			cmd.Printf("#%d %s\n", pr.Number, pr.URL)
			if openPRs && pr.URL != "" {
				if err := browser.OpenURL(pr.URL); err != nil {
					logger.WithError(err).Warn("could not open browser")
				}
			}
		}
		return nil
	},
}

func init() {
	releasePRCmd.Flags().BoolVar(&openPRs, "open", false, "open created pull requests in the browser")
}
