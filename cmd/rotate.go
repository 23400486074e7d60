// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/elastic/deepfreeze/pkg/lifecycle"
)

func init() {
	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "Promote a new repository and demote repositories beyond the keep window to Glacier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			keep, _ := cmd.Flags().GetInt("keep")
			year, _ := cmd.Flags().GetInt("year")
			month, _ := cmd.Flags().GetInt("month")
			report, err := lifecycle.NewRotate(rt, lifecycle.RotateParams{
				Keep:  keep,
				Year:  year,
				Month: month,
			}).Run(cmd.Context())
			printReport(report, false)
			if err != nil {
				return err
			}
			return report.Err()
		},
	}

	flags := rotateCmd.Flags()
	flags.Int("keep", lifecycle.DefaultKeep, "Number of previous repositories to keep mounted")
	flags.Int("year", 0, "Year for the new date style suffix, defaults to now")
	flags.Int("month", 0, "Month for the new date style suffix, defaults to now")

	rootCmd.AddCommand(rotateCmd)
}
