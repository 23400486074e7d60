// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/elastic/deepfreeze/pkg/lifecycle"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
)

func init() {
	thawCmd := &cobra.Command{
		Use:   "thaw",
		Short: "Restore Glacier objects for a time range and re-mount the covering repositories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.ES.Close()

			flags := cmd.Flags()
			list, _ := flags.GetBool("list")
			checkStatus, _ := flags.GetString("check-status")
			startDate, _ := flags.GetString("start-date")
			endDate, _ := flags.GetString("end-date")

			modes := 0
			if list {
				modes++
			}
			if checkStatus != "" {
				modes++
			}
			if startDate != "" || endDate != "" {
				modes++
			}
			if modes != 1 {
				return errors.New("exactly one of --start-date/--end-date, --check-status or --list is required")
			}

			switch {
			case list:
				return runThawList(cmd, rt)
			case checkStatus != "":
				return runThawCheckStatus(cmd, rt, checkStatus)
			default:
				return runThawCreate(cmd, rt, startDate, endDate)
			}
		},
	}

	flags := thawCmd.Flags()
	flags.String("start-date", "", "Start of the time range to thaw (ISO-8601, UTC assumed)")
	flags.String("end-date", "", "End of the time range to thaw (ISO-8601, UTC assumed)")
	flags.Bool("sync", false, "Poll restores to completion instead of returning a request id")
	flags.Int("duration", lifecycle.DefaultThawDuration, "Days restored objects remain instantly accessible")
	flags.String("retrieval-tier", string(provider.TierStandard), "Glacier retrieval tier (Standard, Expedited, Bulk)")
	flags.Duration("poll-interval", lifecycle.DefaultPollInterval, "Interval between restore status polls in sync mode")
	flags.Int("max-polls", lifecycle.DefaultMaxPolls, "Maximum number of restore status polls in sync mode")
	flags.String("check-status", "", "Check the progress of the thaw request with this id")
	flags.Bool("list", false, "List all thaw requests")

	rootCmd.AddCommand(thawCmd)
}

func runThawCreate(cmd *cobra.Command, rt *lifecycle.Runtime, startDate, endDate string) error {
	flags := cmd.Flags()
	if startDate == "" || endDate == "" {
		return errors.New("--start-date and --end-date are both required")
	}
	start, err := chrono.ParseUTC(startDate)
	if err != nil {
		return err
	}
	end, err := chrono.ParseUTC(endDate)
	if err != nil {
		return err
	}
	tierName, _ := flags.GetString("retrieval-tier")
	tier, err := provider.ParseRestoreTier(tierName)
	if err != nil {
		return err
	}
	sync, _ := flags.GetBool("sync")
	duration, _ := flags.GetInt("duration")
	pollInterval, _ := flags.GetDuration("poll-interval")
	maxPolls, _ := flags.GetInt("max-polls")

	request, report, err := lifecycle.NewThaw(rt, lifecycle.ThawParams{
		StartDate:    start,
		EndDate:      end,
		Duration:     duration,
		Tier:         tier,
		Sync:         sync,
		PollInterval: pollInterval,
		MaxPolls:     maxPolls,
	}).Create(cmd.Context())
	printReport(report, false)
	if err != nil {
		return err
	}
	if request == nil {
		fmt.Println("No repository covers the requested range, nothing to thaw")
		return nil
	}
	fmt.Printf("Thaw request %s is %s, covering %s\n", request.ID, request.Status, strings.Join(request.Repos, ", "))
	if !sync {
		fmt.Printf("Run 'deepfreeze thaw --check-status %s' to follow the restore\n", request.ID)
	}
	return nil
}

func runThawCheckStatus(cmd *cobra.Command, rt *lifecycle.Runtime, requestID string) error {
	status, report, err := lifecycle.NewThaw(rt, lifecycle.ThawParams{}).CheckStatus(cmd.Context(), requestID)
	printReport(report, false)
	if err != nil {
		return err
	}
	fmt.Printf("Thaw request %s is %s\n", requestID, status)
	return nil
}

func runThawList(cmd *cobra.Command, rt *lifecycle.Runtime) error {
	requests, err := lifecycle.NewThaw(rt, lifecycle.ThawParams{}).List(cmd.Context())
	if err != nil {
		return err
	}
	for _, request := range requests {
		fmt.Printf("%s\t%-11s\t%s\t%s\n",
			request.ID,
			request.Status,
			request.CreatedAt.UTC().Format(time.RFC3339),
			strings.Join(request.Repos, ","),
		)
	}
	return nil
}
