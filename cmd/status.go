// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/elastic/deepfreeze/pkg/lifecycle"
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the archival lifecycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			flags := cmd.Flags()
			limit, _ := flags.GetInt("limit")
			repos, _ := flags.GetBool("repos")
			thawed, _ := flags.GetBool("thawed")
			buckets, _ := flags.GetBool("buckets")
			ilmFlag, _ := flags.GetBool("ilm")
			config, _ := flags.GetBool("config")
			porcelain, _ := flags.GetBool("porcelain")

			return lifecycle.NewStatus(rt, lifecycle.StatusParams{
				Limit:     limit,
				Repos:     repos,
				Thawed:    thawed,
				Bucket:    buckets,
				ILM:       ilmFlag,
				Config:    config,
				Porcelain: porcelain,
			}, os.Stdout).Run(cmd.Context())
		},
	}

	flags := statusCmd.Flags()
	flags.Int("limit", 0, "Show only the most recent N repositories")
	flags.Bool("repos", false, "Show the repositories section only")
	flags.Bool("thawed", false, "Show the thawed repositories section only")
	flags.Bool("buckets", false, "Show the buckets section only")
	flags.Bool("ilm", false, "Show the ILM policies section only")
	flags.Bool("config", false, "Show the configuration section only")
	flags.Bool("porcelain", false, "Emit tab separated machine parseable records")

	rootCmd.AddCommand(statusCmd)

	repairCmd := &cobra.Command{
		Use:   "repair-metadata",
		Short: "Reconcile repository records against the object store and the cluster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			porcelain, _ := cmd.Flags().GetBool("porcelain")
			report, err := lifecycle.NewRepair(rt, lifecycle.RepairParams{Porcelain: porcelain}, os.Stdout).Run(cmd.Context())
			printReport(report, porcelain)
			return err
		},
	}
	repairCmd.Flags().Bool("porcelain", false, "Emit tab separated machine parseable records")
	rootCmd.AddCommand(repairCmd)
}
