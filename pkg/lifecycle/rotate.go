// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/registry"
	"github.com/elastic/deepfreeze/pkg/state"
)

// DefaultKeep is how many previous repositories stay mounted after a rotation, on
// top of the newly promoted one.
const DefaultKeep = 6

// RotateParams configures a rotation.
type RotateParams struct {
	// Keep is the number of previous repositories left mounted. Defaults to DefaultKeep.
	Keep int
	// Year and Month pin the new suffix for the date style, zero values mean now.
	Year  int
	Month int
}

// Rotate promotes a new repository as the snapshot target, versions the lifecycle
// policies referencing the previous one, retargets templates, and demotes
// repositories beyond the keep window to Glacier.
type Rotate struct {
	rt     *Runtime
	params RotateParams
}

// NewRotate returns the rotate controller.
func NewRotate(rt *Runtime, params RotateParams) *Rotate {
	if params.Keep <= 0 {
		params.Keep = DefaultKeep
	}
	return &Rotate{rt: rt, params: params}
}

// Run performs a full rotation. The ordering is load bearing: policies are
// versioned before templates are retargeted, templates before any repository is
// demoted, and demotion before orphaned policies are cleaned up.
func (r *Rotate) Run(ctx context.Context) (*RunReport, error) {
	settings, latest, err := r.preflightSettings(ctx)
	if err != nil {
		return nil, err
	}

	suffix, err := registry.NextSuffix(settings.Style, settings.LastSuffix, r.params.Year, r.params.Month)
	if err != nil {
		return nil, err
	}
	newRepo := settings.RepoName(suffix)
	newBucket := settings.BucketName(suffix)
	newBasePath := settings.BasePath(suffix)

	if err := r.preflightTarget(ctx, latest, newRepo); err != nil {
		return nil, err
	}

	log.Info("Rotating repositories",
		"new_repository", newRepo,
		"latest_repository", latest,
		"keep", r.params.Keep,
		"dry_run", r.rt.DryRun,
	)
	report := &RunReport{}

	// promote the new repository
	if r.rt.DryRun {
		report.Skip("save settings", state.SettingsID, "dry run")
		report.Skip("create repository", newRepo, "dry run")
	} else {
		settings.LastSuffix = suffix
		if err := r.rt.Store.SaveSettings(ctx, settings); err != nil {
			return report, &ActionError{Action: "save settings", Err: err}
		}
		report.OK("save settings", state.SettingsID)

		if settings.RotateBy == state.RotateByBucket {
			exists, err := r.rt.Objects.BucketExists(ctx, newBucket)
			if err != nil {
				return report, &ActionError{Action: "check bucket", Err: err}
			}
			if exists {
				report.Skip("create bucket", newBucket, "already exists")
			} else {
				if err := r.rt.Objects.CreateBucket(ctx, newBucket); err != nil {
					return report, &ActionError{Action: "create bucket", Err: err}
				}
				report.OK("create bucket", newBucket)
			}
		}

		if err := r.rt.ES.UpsertSnapshotRepository(ctx, newRepo, repositoryBody(settings, newBucket, newBasePath)); err != nil {
			return report, &RepositoryError{Repository: newRepo, Op: "create repository", Err: err}
		}
		report.OK("create repository", newRepo)

		record := state.Repository{
			Name:      newRepo,
			Bucket:    newBucket,
			BasePath:  newBasePath,
			ThawState: state.ThawStateActive,
			IsMounted: true,
		}
		if err := r.rt.Store.PersistRepository(ctx, &record); err != nil {
			return report, &ActionError{Action: "persist repository record", Err: err}
		}
	}

	r.refreshDateRanges(ctx, settings, report)

	mapping := r.versionPolicies(ctx, latest, newRepo, suffix, report)
	r.retargetTemplates(ctx, mapping, report)
	r.demote(ctx, settings, newRepo, report)

	// reap expired thaws while we are here
	cleanupReport, err := NewCleanup(r.rt, CleanupParams{}).Run(ctx)
	report.Merge(cleanupReport)
	if err != nil && cleanupReport == nil {
		report.Fail("cleanup", "reaper", err)
	}

	return report, nil
}

// preflightSettings loads settings and resolves the latest repository, failing
// fast when the lifecycle was never set up.
func (r *Rotate) preflightSettings(ctx context.Context) (state.Settings, string, error) {
	if err := r.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return state.Settings{}, "", err
	}
	settings, err := r.rt.Store.GetSettings(ctx)
	if err != nil {
		return state.Settings{}, "", err
	}
	latest, found, err := r.rt.Registry.LatestRepository(ctx, settings.RepoNamePrefix)
	if err != nil {
		return state.Settings{}, "", err
	}
	if !found {
		return state.Settings{}, "", &PreconditionError{Controller: "rotate", Issues: []Issue{{
			Problem: fmt.Sprintf("no repository matches prefix %s", settings.RepoNamePrefix),
			Remedy:  "run setup before rotating",
		}}}
	}
	return settings, latest, nil
}

// preflightTarget verifies the new name is free and that rotating makes sense.
func (r *Rotate) preflightTarget(ctx context.Context, latest, newRepo string) error {
	var issues []Issue

	existing, err := r.rt.ES.ListSnapshotRepositories(ctx)
	if err != nil {
		return errors.Wrap(err, "listing snapshot repositories")
	}
	if _, taken := existing[newRepo]; taken {
		issues = append(issues, Issue{
			Problem: fmt.Sprintf("repository %s already exists", newRepo),
			Remedy:  "a rotation for this suffix already ran, check last_suffix in the settings document",
		})
	}

	referencing, err := r.rt.ILM.PoliciesReferencing(ctx, latest)
	if err != nil {
		return err
	}
	if len(referencing) == 0 {
		issues = append(issues, Issue{
			Problem: fmt.Sprintf("no lifecycle policy references the latest repository %s", latest),
			Remedy:  "create an ILM policy with a searchable_snapshot action targeting it, or re-run setup with --create-sample-ilm-policy",
		})
	}

	if len(issues) > 0 {
		return &PreconditionError{Controller: "rotate", Issues: issues}
	}
	return nil
}

// refreshDateRanges recomputes the coverage of every known repository record.
// Failures are logged and skipped, stale coverage only widens thaw candidacy.
func (r *Rotate) refreshDateRanges(ctx context.Context, settings state.Settings, report *RunReport) {
	records, err := r.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	if err != nil {
		report.Fail("refresh date ranges", settings.RepoNamePrefix, err)
		return
	}
	for i := range records {
		record := &records[i]
		if r.rt.DryRun {
			report.Skip("refresh date range", record.Name, "dry run")
			continue
		}
		changed, err := r.rt.Registry.UpdateRepositoryDateRange(ctx, record)
		switch {
		case err != nil:
			log.Info("Failed to refresh repository date range, continuing", "repository", record.Name, "error", err.Error())
			report.Fail("refresh date range", record.Name, err)
		case changed:
			report.OK("refresh date range", record.Name)
		default:
			report.Skip("refresh date range", record.Name, "unchanged")
		}
	}
}

// versionPolicies creates a versioned copy of every policy referencing the latest
// repository and returns the old name to new name mapping.
func (r *Rotate) versionPolicies(ctx context.Context, latest, newRepo, suffix string, report *RunReport) map[string]string {
	mapping := map[string]string{}
	referencing, err := r.rt.ILM.PoliciesReferencing(ctx, latest)
	if err != nil {
		report.Fail("version policies", latest, err)
		return mapping
	}
	// iterate in name order for deterministic logs
	names := make([]string, 0, len(referencing))
	for name := range referencing {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.rt.DryRun {
			report.Skip("version policy", name, "dry run")
			continue
		}
		newName, err := r.rt.ILM.VersionPolicy(ctx, name, referencing[name].Policy, newRepo, suffix)
		if err != nil {
			report.Fail("version policy", name, err)
			continue
		}
		mapping[name] = newName
		report.OK("version policy", fmt.Sprintf("%s -> %s", name, newName))
	}
	return mapping
}

func (r *Rotate) retargetTemplates(ctx context.Context, mapping map[string]string, report *RunReport) {
	if len(mapping) == 0 {
		return
	}
	if r.rt.DryRun {
		report.Skip("retarget templates", fmt.Sprintf("%d policies", len(mapping)), "dry run")
		return
	}
	updated, err := r.rt.ILM.RetargetTemplates(ctx, mapping)
	if err != nil {
		report.Fail("retarget templates", fmt.Sprintf("%d policies", len(mapping)), err)
		return
	}
	report.OK("retarget templates", fmt.Sprintf("%d templates", updated))
}

// demote unmounts every repository beyond the keep window, moves its objects to
// Glacier and deletes the lifecycle policies that shared its suffix and are no
// longer referenced. Thawing or thawed repositories are left alone.
func (r *Rotate) demote(ctx context.Context, settings state.Settings, newRepo string, report *RunReport) {
	names, err := r.rt.Registry.MatchingRepoNames(ctx, settings.RepoNamePrefix)
	if err != nil {
		report.Fail("demote repositories", settings.RepoNamePrefix, err)
		return
	}
	// newest first, excluding the repository just promoted
	var previous []string
	for _, name := range names {
		if name != newRepo {
			previous = append(previous, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(previous)))
	if len(previous) <= r.params.Keep {
		return
	}

	for _, name := range previous[r.params.Keep:] {
		record, err := r.rt.Store.GetRepository(ctx, name)
		if err != nil {
			report.Fail("demote repository", name, err)
			continue
		}
		if record.ThawState == state.ThawStateThawing || record.ThawState == state.ThawStateThawed {
			report.Skip("demote repository", name, "repository is "+string(record.ThawState))
			continue
		}
		if r.rt.DryRun {
			report.Skip("demote repository", name, "dry run")
			continue
		}
		if record.Bucket == "" {
			// record was created on the fly, recover the location from the cluster
			repo, err := r.rt.ES.GetSnapshotRepository(ctx, name)
			if err != nil {
				report.Fail("demote repository", name, err)
				continue
			}
			record.Bucket = repo.Settings.Bucket
			record.BasePath = repo.Settings.BasePath
		}

		if err := r.rt.ES.DeleteSnapshotRepository(ctx, name); err != nil {
			report.Fail("unmount repository", name, &RepositoryError{Repository: name, Op: "delete repository", Err: err})
			continue
		}
		record.Unmount()
		if err := r.rt.Store.PersistRepository(ctx, &record); err != nil {
			report.Fail("persist repository record", name, err)
			continue
		}
		report.OK("unmount repository", name)

		demoted, err := provider.DemotePrefix(ctx, r.rt.Objects, record.Bucket, record.BasePath, provider.StorageClassGlacier, r.rt.MaxInflight)
		if err != nil {
			report.Fail("demote objects", name, err)
			continue
		}
		report.OK("demote objects", fmt.Sprintf("%s (%d objects)", name, demoted))

		r.cleanupSuffixPolicies(ctx, registry.SuffixOf(name, settings.RepoNamePrefix), report)
	}
}

// cleanupSuffixPolicies deletes the versioned policies sharing a demoted
// repository's suffix, skipping any that something still references.
func (r *Rotate) cleanupSuffixPolicies(ctx context.Context, suffix string, report *RunReport) {
	policies, err := r.rt.ILM.PoliciesWithSuffix(ctx, suffix)
	if err != nil {
		report.Fail("cleanup policies", suffix, err)
		return
	}
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !policies[name].InUseBy.Empty() {
			report.Skip("delete policy", name, "still in use")
			continue
		}
		if err := r.rt.ES.DeleteLifecyclePolicy(ctx, name); err != nil {
			report.Fail("delete policy", name, err)
			continue
		}
		report.OK("delete policy", name)
	}
}
