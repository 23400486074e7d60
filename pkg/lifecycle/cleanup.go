// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
)

// CleanupParams configures the reaper.
type CleanupParams struct {
	// ThawRequestID restricts an explicit refreeze to the repositories of a single
	// request. Empty means reap everything that expired, or every thawed
	// repository when Refreeze is set.
	ThawRequestID string
	// Refreeze forces thawed repositories back to frozen instead of waiting for
	// their restore window to lapse.
	Refreeze bool
}

// Cleanup detects expired thawed repositories, unmounts them, deletes indices
// only they can restore, retires stale thaw requests and removes orphaned thawed
// policies. An explicit refreeze runs the same loop on a user chosen subset.
type Cleanup struct {
	rt     *Runtime
	params CleanupParams
}

// NewCleanup returns the cleanup controller.
func NewCleanup(rt *Runtime, params CleanupParams) *Cleanup {
	return &Cleanup{rt: rt, params: params}
}

// Run executes the reaper. Each step persists its transition before acting on the
// cluster, so an interrupted run resumes where it stopped.
func (c *Cleanup) Run(ctx context.Context) (*RunReport, error) {
	if err := c.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return nil, err
	}
	settings, err := c.rt.Store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	report := &RunReport{}

	targets, err := c.targetRepositories(ctx, settings)
	if err != nil {
		return report, err
	}

	expired := c.detectExpired(ctx, targets, report)
	c.processExpired(ctx, settings, expired, report)
	c.retireThawRequests(ctx, settings, report)
	c.deleteOrphanedThawedPolicies(ctx, settings, report)
	return report, report.Err()
}

// targetRepositories resolves the records the reaper looks at: all known
// repositories in auto mode, or the subset named by the refrozen request.
func (c *Cleanup) targetRepositories(ctx context.Context, settings state.Settings) ([]state.Repository, error) {
	if c.params.ThawRequestID == "" {
		return c.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	}
	request, found, err := c.rt.Store.GetThawRequest(ctx, c.params.ThawRequestID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Errorf("thaw request %s not found", c.params.ThawRequestID)
	}
	repos := make([]state.Repository, 0, len(request.Repos))
	for _, name := range request.Repos {
		repo, err := c.rt.Store.GetRepository(ctx, name)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// detectExpired transitions repositories whose restore window lapsed, or whose
// objects the store reports as fully archived again, to expired. In refreeze mode
// thawing and thawed repositories expire immediately.
func (c *Cleanup) detectExpired(ctx context.Context, repos []state.Repository, report *RunReport) []state.Repository {
	now := c.rt.now()
	var expired []state.Repository
	for i := range repos {
		repo := repos[i]
		switch {
		case repo.ThawState == state.ThawStateExpired:
			// a previous interrupted run already transitioned it
			expired = append(expired, repo)
			continue
		case c.params.Refreeze && (repo.ThawState == state.ThawStateThawed || repo.ThawState == state.ThawStateThawing):
			// user requested refreeze, expire regardless of the window
		case repo.ThawState == state.ThawStateThawed && repo.ExpiresAt == nil:
			// inherited behavior: warn and leave the repository alone
			log.Info("Warning: thawed repository has no expiry recorded, skipping", "repository", repo.Name)
			continue
		case repo.ThawState == state.ThawStateThawed && !now.Before(*repo.ExpiresAt):
			// window lapsed
		case repo.IsMounted && c.objectsFullyArchived(ctx, repo):
			// the object store already reverted every object to the archive tier
		default:
			continue
		}

		if c.rt.DryRun {
			report.Skip("expire repository", repo.Name, "dry run")
			continue
		}
		repo.MarkExpired()
		if err := c.rt.Store.PersistRepository(ctx, &repo); err != nil {
			report.Fail("expire repository", repo.Name, err)
			continue
		}
		report.OK("expire repository", repo.Name)
		expired = append(expired, repo)
	}
	return expired
}

// objectsFullyArchived re-checks the object store for a mounted repository and
// reports whether every object fell back to the archive tier.
func (c *Cleanup) objectsFullyArchived(ctx context.Context, repo state.Repository) bool {
	if repo.Bucket == "" || repo.BasePath == "" {
		return false
	}
	check, err := provider.CheckRestoreStatus(ctx, c.rt.Objects, repo.Bucket, repo.BasePath, c.rt.MaxInflight)
	if err != nil {
		log.Info("Failed to re-check restore status, continuing", "repository", repo.Name, "error", err.Error())
		return false
	}
	return check.Expired()
}

// processExpired unmounts every expired repository, returns it to frozen and
// deletes the live indices only the cleaned up repositories can restore.
func (c *Cleanup) processExpired(ctx context.Context, settings state.Settings, expired []state.Repository, report *RunReport) {
	if len(expired) == 0 {
		return
	}
	var cleaned []state.Repository
	for i := range expired {
		repo := &expired[i]
		if c.rt.DryRun {
			report.Skip("refreeze repository", repo.Name, "dry run")
			continue
		}

		registered, err := c.repositoryRegistered(ctx, repo.Name)
		if err != nil {
			report.Fail("refreeze repository", repo.Name, err)
			continue
		}
		if registered {
			if err := c.rt.ES.DeleteSnapshotRepository(ctx, repo.Name); err != nil {
				report.Fail("unmount repository", repo.Name, &RepositoryError{Repository: repo.Name, Op: "delete repository", Err: err})
				continue
			}
		} else if repo.IsMounted {
			log.Info("Repository record says mounted but the cluster disagrees, correcting the record", "repository", repo.Name)
		}

		repo.Reset()
		if err := c.rt.Store.PersistRepository(ctx, repo); err != nil {
			report.Fail("persist repository record", repo.Name, err)
			continue
		}
		report.OK("refreeze repository", repo.Name)

		if repo.Bucket != "" {
			demoted, err := provider.DemotePrefix(ctx, c.rt.Objects, repo.Bucket, repo.BasePath, provider.StorageClassGlacier, c.rt.MaxInflight)
			if err != nil {
				report.Fail("demote objects", repo.Name, err)
			} else if demoted > 0 {
				report.OK("demote objects", fmt.Sprintf("%s (%d objects)", repo.Name, demoted))
			}
		}
		cleaned = append(cleaned, *repo)
	}
	c.deleteUniqueIndices(ctx, cleaned, report)
}

func (c *Cleanup) repositoryRegistered(ctx context.Context, name string) (bool, error) {
	repos, err := c.rt.ES.ListSnapshotRepositories(ctx)
	if err != nil {
		return false, errors.Wrap(err, "listing snapshot repositories")
	}
	_, ok := repos[name]
	return ok, nil
}

// deleteUniqueIndices removes live indices whose snapshots exist only in the
// cleaned up repositories. An index restorable from any repository still
// registered survives.
func (c *Cleanup) deleteUniqueIndices(ctx context.Context, cleaned []state.Repository, report *RunReport) {
	if len(cleaned) == 0 {
		return
	}
	owned := map[string]string{}
	for _, repo := range cleaned {
		indices, err := c.snapshotIndices(ctx, repo.Name)
		if err != nil {
			// the repository was just unmounted, enumerate through the mounted
			// index settings instead
			mounted, merr := c.rt.ES.GetMountedIndices(ctx)
			if merr != nil {
				report.Fail("collect snapshot indices", repo.Name, err)
				continue
			}
			for index, mount := range mounted {
				if mount.Repository == repo.Name {
					owned[index] = repo.Name
				}
			}
			continue
		}
		for _, index := range indices {
			owned[index] = repo.Name
		}
	}
	if len(owned) == 0 {
		return
	}

	// every index restorable from a repository that is still registered is safe
	remaining, err := c.rt.ES.ListSnapshotRepositories(ctx)
	if err != nil {
		report.Fail("list repositories", "cluster", err)
		return
	}
	safe := map[string]struct{}{}
	for name := range remaining {
		indices, err := c.snapshotIndices(ctx, name)
		if err != nil {
			log.Info("Failed to list snapshots of repository, treating none of its indices as safe",
				"repository", name, "error", err.Error())
			continue
		}
		for _, index := range indices {
			safe[index] = struct{}{}
		}
	}

	names := make([]string, 0, len(owned))
	for index := range owned {
		names = append(names, index)
	}
	sort.Strings(names)
	for _, index := range names {
		if _, ok := safe[index]; ok {
			report.Skip("delete index", index, "snapshot exists in another repository")
			continue
		}
		exists, err := c.rt.ES.IndexExists(ctx, index)
		if err != nil {
			report.Fail("delete index", index, err)
			continue
		}
		if !exists {
			continue
		}
		health, err := c.rt.ES.GetIndexHealth(ctx, index)
		if err != nil {
			log.Info("Could not read index health before deletion", "index", index, "error", err.Error())
		}
		log.Info("Deleting index uniquely owned by cleaned up repository",
			"index", index,
			"repository", owned[index],
			"health", health.Status,
		)
		if err := c.rt.ES.DeleteIndex(ctx, index); err != nil {
			report.Fail("delete index", index, err)
			continue
		}
		report.OK("delete index", index)
	}
}

// snapshotIndices returns the union of indices across every snapshot of the
// repository.
func (c *Cleanup) snapshotIndices(ctx context.Context, repository string) ([]string, error) {
	snapshots, err := c.rt.ES.GetSnapshots(ctx, repository)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var indices []string
	for _, snapshot := range snapshots {
		for _, index := range snapshot.Indices {
			if _, ok := seen[index]; !ok {
				seen[index] = struct{}{}
				indices = append(indices, index)
			}
		}
	}
	return indices, nil
}

// retireThawRequests marks finished requests refrozen once none of their
// repositories is thawing or thawed anymore, deletes in-progress requests whose
// repositories all left the thaw cycle, and deletes requests older than the
// retention window of their status.
func (c *Cleanup) retireThawRequests(ctx context.Context, settings state.Settings, report *RunReport) {
	requests, err := c.rt.Store.ListThawRequests(ctx)
	if err != nil {
		report.Fail("list thaw requests", "status index", err)
		return
	}
	now := c.rt.now()
	for _, request := range requests {
		if c.rt.DryRun {
			report.Skip("retire thaw request", request.ID, "dry run")
			continue
		}
		allDone, err := c.allReposLeftThawCycle(ctx, request)
		if err != nil {
			report.Fail("retire thaw request", request.ID, err)
			continue
		}

		targeted := c.params.ThawRequestID == "" || c.params.ThawRequestID == request.ID
		switch request.Status {
		case state.ThawStatusCompleted:
			if allDone && targeted {
				if err := c.rt.Store.UpdateThawRequestStatus(ctx, request.ID, state.ThawStatusRefrozen); err != nil {
					report.Fail("refreeze thaw request", request.ID, err)
					continue
				}
				report.OK("refreeze thaw request", request.ID)
				continue
			}
		case state.ThawStatusInProgress:
			if allDone && targeted {
				if err := c.rt.Store.DeleteThawRequest(ctx, request.ID); err != nil {
					report.Fail("delete thaw request", request.ID, err)
					continue
				}
				report.OK("delete thaw request", request.ID)
				continue
			}
		}

		days := settings.Retention.RetentionDays(request.Status)
		if days <= 0 {
			continue
		}
		if now.Sub(request.CreatedAt) > time.Duration(days)*24*time.Hour {
			if err := c.rt.Store.DeleteThawRequest(ctx, request.ID); err != nil {
				report.Fail("delete thaw request", request.ID, err)
				continue
			}
			report.OK("delete thaw request", fmt.Sprintf("%s (older than %dd)", request.ID, days))
		}
	}
}

func (c *Cleanup) allReposLeftThawCycle(ctx context.Context, request state.ThawRequest) (bool, error) {
	for _, name := range request.Repos {
		repo, err := c.rt.Store.GetRepository(ctx, name)
		if err != nil {
			return false, err
		}
		if repo.ThawState == state.ThawStateThawing || repo.ThawState == state.ThawStateThawed {
			return false, nil
		}
	}
	return true, nil
}

// deleteOrphanedThawedPolicies removes policies following the <prefix>-*-thawed
// naming convention that nothing references anymore.
func (c *Cleanup) deleteOrphanedThawedPolicies(ctx context.Context, settings state.Settings, report *RunReport) {
	policies, err := c.rt.ES.GetLifecyclePolicies(ctx)
	if err != nil {
		report.Fail("list policies", "cluster", err)
		return
	}
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasPrefix(name, settings.RepoNamePrefix+"-") || !strings.HasSuffix(name, "-thawed") {
			continue
		}
		if !policies[name].InUseBy.Empty() {
			report.Skip("delete thawed policy", name, "still in use")
			continue
		}
		if c.rt.DryRun {
			report.Skip("delete thawed policy", name, "dry run")
			continue
		}
		if err := c.rt.ES.DeleteLifecyclePolicy(ctx, name); err != nil {
			report.Fail("delete thawed policy", name, err)
			continue
		}
		report.OK("delete thawed policy", name)
	}
}
