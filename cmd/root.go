// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package cmd wires the deepfreeze command group. Every subcommand is a one-shot
// controller invocation: connection settings come from persistent flags,
// DEEPFREEZE_* environment variables or an optional config file, in that order of
// precedence.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/lifecycle"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

const (
	// exit codes per the CLI contract
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2

	envPrefix = "DEEPFREEZE"

	flagESURL           = "es-url"
	flagESUsername      = "es-username"
	flagESPassword      = "es-password"
	flagESCACert        = "es-ca-cert"
	flagESInsecure      = "es-insecure-skip-tls-verify"
	flagRequestTimeout  = "request-timeout"
	flagConfigFile      = "config"
	flagDryRun          = "dry-run"
	flagMaxInflight     = "max-inflight"
	flagRegion          = "region"
	flagS3Endpoint      = "s3-endpoint"
	flagGCPProject      = "gcp-project"
	flagAzureAccount    = "azure-storage-account"
	flagAzureAccountKey = "azure-storage-key"
)

var rootCmd = &cobra.Command{
	Use:           "deepfreeze",
	Short:         "Cold tier archival lifecycle for Elasticsearch snapshot repositories",
	Long: "deepfreeze rotates time partitioned snapshot repositories so that the newest one\n" +
		"receives fresh snapshots while older ones are demoted to Glacier, and thaws them\n" +
		"back on demand for a bounded restore window.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
			return err
		}
		viper.SetEnvPrefix(envPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()
		if configFile := viper.GetString(flagConfigFile); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file %s: %w", configFile, err)
			}
		}
		ulog.InitLogger(viper.GetInt(ulog.FlagName), viper.GetBool(ulog.JSONFlagName))
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(flagESURL, "http://localhost:9200", "Elasticsearch endpoint URL")
	flags.String(flagESUsername, "", "Elasticsearch basic auth username")
	flags.String(flagESPassword, "", "Elasticsearch basic auth password")
	flags.String(flagESCACert, "", "Path to a PEM encoded CA certificate to trust")
	flags.Bool(flagESInsecure, false, "Skip verification of the Elasticsearch server certificate")
	flags.Duration(flagRequestTimeout, client.DefaultReqTimeout, "Timeout per Elasticsearch request")
	flags.String(flagConfigFile, "", "Optional YAML config file (default $HOME/.deepfreeze.yaml when present)")
	flags.Bool(flagDryRun, false, "Log the would-be effect of every mutation without performing it")
	flags.Int(flagMaxInflight, provider.DefaultMaxInflight, "Maximum concurrent per-object requests to the object store")
	flags.String(flagRegion, "", "AWS region for bucket creation and API calls")
	flags.String(flagS3Endpoint, "", "Override the S3 endpoint, for S3 compatible stores")
	flags.String(flagGCPProject, "", "GCP project new GCS buckets are created in")
	flags.String(flagAzureAccount, "", "Azure storage account name")
	flags.String(flagAzureAccountKey, "", "Azure storage account key")
	ulog.BindFlags(flags)
}

// Execute runs the command group and maps the outcome to an exit code: 0 for
// success, 1 for configuration or precondition failures, 2 for runtime failures.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	if isConfigError(err) {
		return exitConfig
	}
	return exitRuntime
}

func isConfigError(err error) bool {
	var (
		precondition  *lifecycle.PreconditionError
		invalidConfig *state.InvalidConfigError
		missingIndex  *state.MissingIndexError
		missingConf   *state.MissingSettingsError
		unknownProv   *provider.UnknownProviderError
		unknownTier   *provider.UnknownTierError
	)
	return errors.As(err, &precondition) ||
		errors.As(err, &invalidConfig) ||
		errors.As(err, &missingIndex) ||
		errors.As(err, &missingConf) ||
		errors.As(err, &unknownProv) ||
		errors.As(err, &unknownTier)
}

// newESClient builds the Elasticsearch client from the persistent flags.
func newESClient() (client.Client, error) {
	cfg := client.Config{
		Endpoint: viper.GetString(flagESURL),
		User: client.BasicAuth{
			Name:     viper.GetString(flagESUsername),
			Password: viper.GetString(flagESPassword),
		},
		InsecureSkipTLSVerify: viper.GetBool(flagESInsecure),
		Timeout:               viper.GetDuration(flagRequestTimeout),
	}
	if caPath := viper.GetString(flagESCACert); caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", caPath, err)
		}
		cfg.CACerts = pem
	}
	return client.New(cfg)
}

func providerConfig(providerName string) provider.Config {
	return provider.Config{
		Provider:     providerName,
		Region:       viper.GetString(flagRegion),
		Endpoint:     viper.GetString(flagS3Endpoint),
		GCPProject:   viper.GetString(flagGCPProject),
		AzureAccount: viper.GetString(flagAzureAccount),
		AzureKey:     viper.GetString(flagAzureAccountKey),
	}
}

// newRuntime wires a Runtime for commands running after setup: the provider comes
// from the persisted settings document.
func newRuntime(cmd *cobra.Command) (*lifecycle.Runtime, error) {
	es, err := newESClient()
	if err != nil {
		return nil, err
	}
	store := state.NewStore(es)
	if err := store.EnsureStatusIndex(cmd.Context(), false); err != nil {
		return nil, err
	}
	settings, err := store.GetSettings(cmd.Context())
	if err != nil {
		return nil, err
	}
	objects, err := provider.ForConfig(cmd.Context(), providerConfig(settings.Provider))
	if err != nil {
		return nil, err
	}
	rt := lifecycle.NewRuntime(es, objects)
	rt.DryRun = viper.GetBool(flagDryRun)
	rt.MaxInflight = viper.GetInt(flagMaxInflight)
	return rt, nil
}

// printReport renders the per-item outcomes of a controller run.
func printReport(report *lifecycle.RunReport, porcelain bool) {
	if report == nil {
		return
	}
	for _, item := range report.Items() {
		if porcelain {
			switch item.Outcome {
			case lifecycle.OutcomeOK:
				fmt.Printf("OK\t%s\t%s\n", item.Action, item.Subject)
			case lifecycle.OutcomeSkipped:
				fmt.Printf("SKIP\t%s\t%s\t%s\n", item.Action, item.Subject, item.Reason)
			case lifecycle.OutcomeFailed:
				fmt.Printf("FAIL\t%s\t%s\t%v\n", item.Action, item.Subject, item.Err)
			}
			continue
		}
		switch item.Outcome {
		case lifecycle.OutcomeOK:
			fmt.Println(color.GreenString("  ok   "), item.Action, item.Subject)
		case lifecycle.OutcomeSkipped:
			fmt.Println(color.YellowString("  skip "), item.Action, item.Subject, "("+item.Reason+")")
		case lifecycle.OutcomeFailed:
			fmt.Println(color.RedString("  fail "), item.Action, item.Subject, "("+item.Err.Error()+")")
		}
	}
}
