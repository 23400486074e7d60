// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/elastic/deepfreeze/pkg/lifecycle"
)

func init() {
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Detect expired thawed repositories and return them to frozen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			report, err := lifecycle.NewCleanup(rt, lifecycle.CleanupParams{}).Run(cmd.Context())
			printReport(report, false)
			return err
		},
	}
	rootCmd.AddCommand(cleanupCmd)

	refreezeCmd := &cobra.Command{
		Use:   "refreeze",
		Short: "Force thawed repositories back to frozen without waiting for their restore window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			requestID, _ := cmd.Flags().GetString("thaw-request-id")
			report, err := lifecycle.NewCleanup(rt, lifecycle.CleanupParams{
				ThawRequestID: requestID,
				Refreeze:      true,
			}).Run(cmd.Context())
			printReport(report, false)
			return err
		},
	}
	refreezeCmd.Flags().String("thaw-request-id", "", "Refreeze only the repositories of this thaw request")
	rootCmd.AddCommand(refreezeCmd)
}
