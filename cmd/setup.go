// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elastic/deepfreeze/pkg/lifecycle"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
)

func init() {
	defaults := state.DefaultSettings()

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Initialize the status index, settings and the first repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			settings := state.DefaultSettings()
			settings.RepoNamePrefix, _ = flags.GetString("repo-name-prefix")
			settings.BucketNamePrefix, _ = flags.GetString("bucket-name-prefix")
			settings.BasePathPrefix, _ = flags.GetString("base-path-prefix")
			settings.CannedACL, _ = flags.GetString("canned-acl")
			settings.StorageClass, _ = flags.GetString("storage-class")
			settings.Provider, _ = flags.GetString("provider")
			settings.RotateBy, _ = flags.GetString("rotate-by")
			settings.Style, _ = flags.GetString("style")
			if err := settings.Validate(); err != nil {
				return err
			}

			es, err := newESClient()
			if err != nil {
				return err
			}
			objects, err := provider.ForConfig(cmd.Context(), providerConfig(settings.Provider))
			if err != nil {
				return err
			}
			rt := lifecycle.NewRuntime(es, objects)
			rt.DryRun = viper.GetBool(flagDryRun)
			rt.MaxInflight = viper.GetInt(flagMaxInflight)

			year, _ := flags.GetInt("year")
			month, _ := flags.GetInt("month")
			sample, _ := flags.GetBool("create-sample-ilm-policy")
			report, err := lifecycle.NewSetup(rt, lifecycle.SetupParams{
				Settings:              settings,
				Year:                  year,
				Month:                 month,
				CreateSampleILMPolicy: sample,
			}).Run(cmd.Context())
			printReport(report, false)
			return err
		},
	}

	flags := setupCmd.Flags()
	flags.String("repo-name-prefix", defaults.RepoNamePrefix, "Prefix of rotated repository names")
	flags.String("bucket-name-prefix", defaults.BucketNamePrefix, "Prefix of bucket names")
	flags.String("base-path-prefix", defaults.BasePathPrefix, "Prefix of the base path within the bucket")
	flags.String("canned-acl", defaults.CannedACL, "Canned ACL applied when registering repositories")
	flags.String("storage-class", defaults.StorageClass, "Storage class new snapshot objects are written with")
	flags.String("provider", defaults.Provider, "Object store provider (aws, gcp, azure)")
	flags.String("rotate-by", defaults.RotateBy, "Rotation scheme: path suffixes the base path, bucket creates a bucket per rotation")
	flags.String("style", defaults.Style, "Suffix style: oneup (000001) or date (YYYY.MM)")
	flags.Int("year", 0, "Year for the initial date style suffix, defaults to now")
	flags.Int("month", 0, "Month for the initial date style suffix, defaults to now")
	flags.Bool("create-sample-ilm-policy", false, "Seed a sample ILM policy referencing the initial repository")

	rootCmd.AddCommand(setupCmd)
}
