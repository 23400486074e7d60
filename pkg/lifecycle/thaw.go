// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
	"github.com/elastic/deepfreeze/pkg/utils/retry"
)

const (
	// DefaultThawDuration is how many days restored objects stay instantly
	// accessible when no duration is given.
	DefaultThawDuration = 7
	// DefaultPollInterval separates restore status polls in sync mode.
	DefaultPollInterval = 30 * time.Second
	// DefaultMaxPolls bounds sync mode polling, about ten hours at the default
	// interval. Glacier Standard restores take three to five.
	DefaultMaxPolls = 1200
)

// backingIndexPattern matches data stream backing index names, capturing the
// stream name: .ds-<stream>-<yyyy.MM.dd>-<generation>.
var backingIndexPattern = regexp.MustCompile(`^\.ds-(.+)-\d{4}\.\d{2}\.\d{2}-\d{6}$`)

// ThawParams configures a thaw.
type ThawParams struct {
	// StartDate and EndDate bound the @timestamp range to bring back.
	StartDate time.Time
	EndDate   time.Time
	// Duration is how many days objects remain restored.
	Duration int
	// Tier selects the Glacier retrieval speed.
	Tier provider.RestoreTier
	// Sync polls restores to completion instead of recording an in-progress request.
	Sync         bool
	PollInterval time.Duration
	MaxPolls     int
}

// Thaw restores Glacier objects of the repositories covering a time range,
// re-mounts the repositories once restored and re-attaches their backing indices
// to data streams.
type Thaw struct {
	rt     *Runtime
	params ThawParams
}

// NewThaw returns the thaw controller.
func NewThaw(rt *Runtime, params ThawParams) *Thaw {
	if params.Duration <= 0 {
		params.Duration = DefaultThawDuration
	}
	if params.Tier == "" {
		params.Tier = provider.TierStandard
	}
	if params.PollInterval <= 0 {
		params.PollInterval = DefaultPollInterval
	}
	if params.MaxPolls <= 0 {
		params.MaxPolls = DefaultMaxPolls
	}
	return &Thaw{rt: rt, params: params}
}

// Create initiates restores for every repository overlapping the requested range
// and records a thaw request. The returned request is nil when no repository
// covers the range. In sync mode the call blocks until every repository is
// mounted or the poll budget runs out.
func (t *Thaw) Create(ctx context.Context) (*state.ThawRequest, *RunReport, error) {
	if err := t.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return nil, nil, err
	}
	if t.params.EndDate.Before(t.params.StartDate) {
		return nil, nil, &state.InvalidConfigError{
			Setting:  "date range",
			Value:    fmt.Sprintf("%s..%s", chrono.FormatUTC(t.params.StartDate), chrono.FormatUTC(t.params.EndDate)),
			Expected: "start-date <= end-date",
		}
	}

	report := &RunReport{}
	repos, err := t.rt.Store.FindRepositoriesOverlapping(ctx, t.params.StartDate, t.params.EndDate)
	if err != nil {
		return nil, report, err
	}
	if len(repos) == 0 {
		log.Info("No repository covers the requested range, nothing to thaw",
			"start", chrono.FormatUTC(t.params.StartDate),
			"end", chrono.FormatUTC(t.params.EndDate),
		)
		return nil, report, nil
	}

	now := t.rt.now()
	expiresAt := now.Add(time.Duration(t.params.Duration) * 24 * time.Hour)
	var initiated []string
	for i := range repos {
		repo := &repos[i]
		if repo.ThawState == state.ThawStateThawed && repo.IsMounted {
			report.Skip("restore objects", repo.Name, "already thawed and mounted")
			continue
		}
		if t.rt.DryRun {
			report.Skip("restore objects", repo.Name, "dry run")
			continue
		}
		count, err := provider.RestorePrefix(ctx, t.rt.Objects, repo.Bucket, repo.BasePath, t.params.Duration, t.params.Tier, t.rt.MaxInflight)
		if err != nil {
			// skip mounting this repository but keep thawing the others
			log.Info("Failed to restore repository objects, skipping repository", "repository", repo.Name, "error", err.Error())
			report.Fail("restore objects", repo.Name, err)
			continue
		}
		repo.MarkThawing(expiresAt)
		if err := t.rt.Store.PersistRepository(ctx, repo); err != nil {
			report.Fail("persist repository record", repo.Name, err)
			continue
		}
		report.OK("restore objects", fmt.Sprintf("%s (%d objects)", repo.Name, count))
		initiated = append(initiated, repo.Name)
	}
	if len(initiated) == 0 || t.rt.DryRun {
		return nil, report, report.Err()
	}

	request := state.ThawRequest{
		ID:        uuid.NewString(),
		Status:    state.ThawStatusInProgress,
		CreatedAt: now,
		StartDate: &t.params.StartDate,
		EndDate:   &t.params.EndDate,
		Repos:     initiated,
	}
	if err := t.rt.Store.SaveThawRequest(ctx, request); err != nil {
		return nil, report, err
	}
	log.Info("Thaw request created", "request_id", request.ID, "repositories", initiated, "sync", t.params.Sync)

	if !t.params.Sync {
		return &request, report, nil
	}

	err = retry.UntilSuccess(ctx, t.params.MaxPolls, t.params.PollInterval, func(ctx context.Context) (bool, error) {
		status, _, err := t.CheckStatus(ctx, request.ID)
		if err != nil {
			return false, err
		}
		if status == state.ThawStatusFailed {
			return false, errors.Errorf("thaw request %s failed, restore windows lapsed", request.ID)
		}
		return status == state.ThawStatusCompleted, nil
	})
	if err != nil {
		return &request, report, &ActionError{Action: "sync thaw polling", Err: err}
	}
	request.Status = state.ThawStatusCompleted
	return &request, report, nil
}

// CheckStatus polls the restore progress of a thaw request, mounts every
// repository whose objects are fully restored and promotes the request to
// completed once all of its repositories are mounted. Re-running after completion
// is a no-op.
func (t *Thaw) CheckStatus(ctx context.Context, requestID string) (state.ThawRequestStatus, *RunReport, error) {
	if err := t.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return "", nil, err
	}
	request, found, err := t.rt.Store.GetThawRequest(ctx, requestID)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errors.Errorf("thaw request %s not found", requestID)
	}
	report := &RunReport{}
	if request.Status != state.ThawStatusInProgress {
		return request.Status, report, nil
	}
	settings, err := t.rt.Store.GetSettings(ctx)
	if err != nil {
		return request.Status, report, err
	}

	mounted := 0
	lapsed := 0
	for _, name := range request.Repos {
		repo, err := t.rt.Store.GetRepository(ctx, name)
		if err != nil {
			report.Fail("check restore status", name, err)
			continue
		}
		if repo.ThawState == state.ThawStateThawed && repo.IsMounted {
			mounted++
			report.Skip("mount repository", name, "already mounted")
			continue
		}
		check, err := provider.CheckRestoreStatus(ctx, t.rt.Objects, repo.Bucket, repo.BasePath, t.rt.MaxInflight)
		if err != nil {
			report.Fail("check restore status", name, err)
			continue
		}
		log.Info("Restore status",
			"repository", name,
			"total", check.Total,
			"restored", check.Restored,
			"in_progress", check.InProgress,
			"not_restored", check.NotRestored,
		)
		if !check.Complete() {
			if check.Expired() {
				// every object fell back to the archive tier before the
				// repository was mounted, this restore can never finish
				lapsed++
				report.Skip("mount repository", name, "restore window lapsed before completion")
				continue
			}
			report.Skip("mount repository", name, fmt.Sprintf("%d/%d objects restored", check.Restored, check.Total))
			continue
		}
		if err := t.mountRepository(ctx, settings, &repo, request); err != nil {
			report.Fail("mount repository", name, err)
			continue
		}
		mounted++
		report.OK("mount repository", name)
	}

	if mounted == len(request.Repos) {
		if err := t.rt.Store.UpdateThawRequestStatus(ctx, request.ID, state.ThawStatusCompleted); err != nil {
			return request.Status, report, err
		}
		log.Info("Thaw request completed", "request_id", request.ID)
		return state.ThawStatusCompleted, report, nil
	}
	if lapsed > 0 && mounted+lapsed == len(request.Repos) {
		if err := t.rt.Store.UpdateThawRequestStatus(ctx, request.ID, state.ThawStatusFailed); err != nil {
			return request.Status, report, err
		}
		log.Info("Thaw request failed, restore windows lapsed before every repository was mounted",
			"request_id", request.ID)
		return state.ThawStatusFailed, report, nil
	}
	return state.ThawStatusInProgress, report, nil
}

// List returns every recorded thaw request.
func (t *Thaw) List(ctx context.Context) ([]state.ThawRequest, error) {
	if err := t.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return nil, err
	}
	return t.rt.Store.ListThawRequests(ctx)
}

// mountRepository re-registers the repository, marks it thawed and brings its
// backing indices back: each snapshot index is mounted as a searchable snapshot
// under its original name and re-attached to its data stream when it was a
// backing index.
func (t *Thaw) mountRepository(ctx context.Context, settings state.Settings, repo *state.Repository, request state.ThawRequest) error {
	if err := t.rt.ES.UpsertSnapshotRepository(ctx, repo.Name, repositoryBody(settings, repo.Bucket, repo.BasePath)); err != nil {
		return &RepositoryError{Repository: repo.Name, Op: "register repository", Err: err}
	}
	repo.MarkThawed(t.rt.now())
	if err := t.rt.Store.PersistRepository(ctx, repo); err != nil {
		return err
	}
	t.mountIndices(ctx, repo.Name, request)
	return nil
}

// mountIndices mounts the indices of every snapshot in the repository. Failures
// are logged and skipped so one broken index does not block the rest.
func (t *Thaw) mountIndices(ctx context.Context, repoName string, request state.ThawRequest) {
	snapshots, err := t.rt.ES.GetSnapshots(ctx, repoName)
	if err != nil {
		log.Info("Failed to list snapshots of thawed repository", "repository", repoName, "error", err.Error())
		return
	}
	for _, snapshot := range snapshots {
		for _, index := range snapshot.Indices {
			if err := t.mountIndex(ctx, repoName, snapshot.Snapshot, index, request); err != nil {
				log.Info("Failed to mount snapshot index, continuing",
					"repository", repoName,
					"snapshot", snapshot.Snapshot,
					"index", index,
					"error", err.Error(),
				)
			}
		}
	}
}

func (t *Thaw) mountIndex(ctx context.Context, repoName, snapshotName, index string, request state.ThawRequest) error {
	exists, err := t.rt.ES.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = t.rt.ES.MountSearchableSnapshot(ctx, repoName, snapshotName, client.MountStorageSharedCache, client.MountRequest{
		Index: index,
	})
	if err != nil {
		return err
	}

	// drop the mount again when the index holds no data in the requested window
	if request.StartDate != nil && request.EndDate != nil {
		overlaps, err := t.indexOverlaps(ctx, index, *request.StartDate, *request.EndDate)
		if err != nil {
			return err
		}
		if !overlaps {
			log.Info("Mounted index does not overlap the requested range, unmounting",
				"index", index,
				"start", chrono.FormatUTC(*request.StartDate),
				"end", chrono.FormatUTC(*request.EndDate),
			)
			return t.rt.ES.DeleteIndex(ctx, index)
		}
	}

	if stream, ok := backingIndexStream(index); ok {
		err := t.rt.ES.ModifyDataStreams(ctx, []client.DataStreamAction{{
			AddBackingIndex: &client.DataStreamActionTarget{DataStream: stream, Index: index},
		}})
		if err != nil {
			return errors.Wrapf(err, "attaching %s to data stream %s", index, stream)
		}
		log.Info("Attached backing index to data stream", "index", index, "data_stream", stream)
	}
	return nil
}

// indexOverlaps checks whether the index holds any document with an @timestamp
// inside the given window.
func (t *Thaw) indexOverlaps(ctx context.Context, index string, start, end time.Time) (bool, error) {
	results, err := t.rt.ES.Search(ctx, index, map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte": chrono.FormatUTC(start),
					"lte": chrono.FormatUTC(end),
				},
			},
		},
	})
	if err != nil {
		return false, errors.Wrapf(err, "checking @timestamp overlap of %s", index)
	}
	return results.Hits.Total.Value > 0, nil
}

// backingIndexStream extracts the data stream name from a backing index name.
func backingIndexStream(index string) (string, bool) {
	match := backingIndexPattern.FindStringSubmatch(index)
	if match == nil {
		return "", false
	}
	return match[1], true
}
