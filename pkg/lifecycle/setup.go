// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"

	"github.com/blang/semver/v4"
	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/registry"
	"github.com/elastic/deepfreeze/pkg/state"
)

// s3PluginName is the repository plugin clusters before 8.0 need on every node.
const s3PluginName = "repository-s3"

// SampleILMPolicyName is the lifecycle policy optionally seeded during setup.
const SampleILMPolicyName = "deepfreeze-sample-policy"

// SetupParams configures one-time initialization.
type SetupParams struct {
	Settings state.Settings
	// Year and Month pin the initial suffix for the date style, zero values mean now.
	Year  int
	Month int
	// CreateSampleILMPolicy seeds a policy demonstrating the rollover, freeze and
	// delete phases against the initial repository.
	CreateSampleILMPolicy bool
}

// Setup performs the one-time initialization of the lifecycle: status index,
// settings document, initial bucket and repository. Preconditions are all checked
// before any side effect.
type Setup struct {
	rt     *Runtime
	params SetupParams
}

// NewSetup returns the setup controller.
func NewSetup(rt *Runtime, params SetupParams) *Setup {
	return &Setup{rt: rt, params: params}
}

// Run checks preconditions and performs the initialization steps in order.
func (s *Setup) Run(ctx context.Context) (*RunReport, error) {
	settings := s.params.Settings
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	suffix, err := registry.NextSuffix(settings.Style, "", s.params.Year, s.params.Month)
	if err != nil {
		return nil, err
	}
	settings.LastSuffix = suffix
	repoName := settings.RepoName(suffix)
	bucket := settings.BucketName(suffix)
	basePath := settings.BasePath(suffix)

	if err := s.preflight(ctx, settings, bucket); err != nil {
		return nil, err
	}

	report := &RunReport{}
	if s.rt.DryRun {
		report.Skip("create status index", s.rt.Store.Index(), "dry run")
		report.Skip("save settings", state.SettingsID, "dry run")
		report.Skip("create bucket", bucket, "dry run")
		report.Skip("create repository", repoName, "dry run")
		if s.params.CreateSampleILMPolicy {
			report.Skip("create sample policy", SampleILMPolicyName, "dry run")
		}
		return report, nil
	}

	if err := s.rt.Store.EnsureStatusIndex(ctx, true); err != nil {
		return report, &ActionError{Action: "create status index", Err: err}
	}
	report.OK("create status index", s.rt.Store.Index())

	if err := s.rt.Store.SaveSettings(ctx, settings); err != nil {
		return report, &ActionError{Action: "save settings", Err: err}
	}
	report.OK("save settings", state.SettingsID)

	exists, err := s.rt.Objects.BucketExists(ctx, bucket)
	if err != nil {
		return report, &ActionError{Action: "check bucket", Err: err}
	}
	if exists {
		report.Skip("create bucket", bucket, "already exists")
	} else {
		if err := s.rt.Objects.CreateBucket(ctx, bucket); err != nil {
			return report, &ActionError{Action: "create bucket", Err: err}
		}
		report.OK("create bucket", bucket)
	}

	if err := s.rt.ES.UpsertSnapshotRepository(ctx, repoName, repositoryBody(settings, bucket, basePath)); err != nil {
		return report, &RepositoryError{Repository: repoName, Op: "create repository", Err: err}
	}
	report.OK("create repository", repoName)

	record := state.Repository{
		Name:      repoName,
		Bucket:    bucket,
		BasePath:  basePath,
		ThawState: state.ThawStateActive,
		IsMounted: true,
	}
	if err := s.rt.Store.PersistRepository(ctx, &record); err != nil {
		return report, &ActionError{Action: "persist repository record", Err: err}
	}
	report.OK("persist repository record", repoName)

	if s.params.CreateSampleILMPolicy {
		if err := s.rt.ES.PutLifecyclePolicy(ctx, SampleILMPolicyName, sampleILMPolicy(repoName)); err != nil {
			return report, &ActionError{Action: "create sample policy", Err: err}
		}
		report.OK("create sample policy", SampleILMPolicyName)
	}

	log.Info("Setup complete", "repository", repoName, "bucket", bucket, "base_path", basePath)
	return report, nil
}

// preflight runs every precondition and aggregates the failures so the operator
// sees all of them at once.
func (s *Setup) preflight(ctx context.Context, settings state.Settings, bucket string) error {
	var issues []Issue

	indexExists, err := s.rt.Store.StatusIndexExists(ctx)
	if err != nil {
		return errors.Wrap(err, "checking status index")
	}
	if indexExists {
		issues = append(issues, Issue{
			Problem: fmt.Sprintf("status index %s already exists", s.rt.Store.Index()),
			Remedy:  "setup has already run, use rotate instead or delete the index to start over",
		})
	}

	matching, err := s.rt.Registry.MatchingRepoNames(ctx, settings.RepoNamePrefix)
	if err != nil {
		return err
	}
	if len(matching) > 0 {
		issues = append(issues, Issue{
			Problem: fmt.Sprintf("%d snapshot repositories already match prefix %s", len(matching), settings.RepoNamePrefix),
			Remedy:  "choose a different repo-name-prefix or remove the existing repositories",
		})
	}

	if settings.RotateBy == state.RotateByBucket {
		exists, err := s.rt.Objects.BucketExists(ctx, bucket)
		if err != nil {
			return errors.Wrap(err, "checking initial bucket")
		}
		if exists {
			issues = append(issues, Issue{
				Problem: fmt.Sprintf("bucket %s already exists", bucket),
				Remedy:  "choose a different bucket-name-prefix or delete the bucket",
			})
		}
	}

	pluginIssue, err := s.checkRepositoryPlugin(ctx)
	if err != nil {
		return err
	}
	if pluginIssue != nil {
		issues = append(issues, *pluginIssue)
	}

	if len(issues) > 0 {
		return &PreconditionError{Controller: "setup", Issues: issues}
	}
	return nil
}

// checkRepositoryPlugin verifies the S3 repository plugin is installed on every
// node of a pre-8.x cluster. 8.x ships S3 support built in.
func (s *Setup) checkRepositoryPlugin(ctx context.Context) (*Issue, error) {
	info, err := s.rt.ES.GetClusterInfo(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading cluster info")
	}
	version, err := semver.ParseTolerant(info.Version.Number)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing cluster version %q", info.Version.Number)
	}
	if version.Major >= 8 {
		return nil, nil
	}
	plugins, err := s.rt.ES.GetNodesPlugins(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing node plugins")
	}
	if missing := plugins.MissingOn(s3PluginName); len(missing) > 0 {
		return &Issue{
			Problem: fmt.Sprintf("plugin %s is missing on nodes %v (cluster version %s)", s3PluginName, missing, info.Version.Number),
			Remedy:  "install the repository-s3 plugin on every node and restart them",
		}, nil
	}
	return nil, nil
}

// sampleILMPolicy demonstrates the intended index flow: hot rollover, demotion to
// a searchable snapshot in the given repository, deletion after a year.
func sampleILMPolicy(repository string) map[string]interface{} {
	return map[string]interface{}{
		"phases": map[string]interface{}{
			"hot": map[string]interface{}{
				"actions": map[string]interface{}{
					"rollover": map[string]interface{}{
						"max_primary_shard_size": "45gb",
						"max_age":                "7d",
					},
				},
			},
			"frozen": map[string]interface{}{
				"min_age": "90d",
				"actions": map[string]interface{}{
					"searchable_snapshot": map[string]interface{}{
						"snapshot_repository": repository,
					},
				},
			},
			"delete": map[string]interface{}{
				"min_age": "365d",
				"actions": map[string]interface{}{
					"delete": map[string]interface{}{
						"delete_searchable_snapshot": false,
					},
				},
			},
		},
	}
}
