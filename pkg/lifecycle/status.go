// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ghodss/yaml"

	"github.com/elastic/deepfreeze/pkg/state"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
)

// StatusParams selects the sections of the status report. When no section flag is
// set every section is shown.
type StatusParams struct {
	// Limit caps the repositories section to the most recent N entries, 0 shows all.
	Limit  int
	Repos  bool
	Thawed bool
	Bucket bool
	ILM    bool
	Config bool
	// Porcelain switches to tab separated machine parseable records.
	Porcelain bool
}

// Status reports the state of the archival lifecycle without mutating anything.
type Status struct {
	rt     *Runtime
	params StatusParams
	out    io.Writer
}

// NewStatus returns the status reporter writing to out.
func NewStatus(rt *Runtime, params StatusParams, out io.Writer) *Status {
	return &Status{rt: rt, params: params, out: out}
}

// Run renders the selected sections.
func (s *Status) Run(ctx context.Context) error {
	if err := s.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return err
	}
	settings, err := s.rt.Store.GetSettings(ctx)
	if err != nil {
		return err
	}

	all := !s.params.Repos && !s.params.Thawed && !s.params.Bucket && !s.params.ILM && !s.params.Config
	if all || s.params.Config {
		if err := s.renderConfig(settings); err != nil {
			return err
		}
	}
	if all || s.params.Repos {
		if err := s.renderRepositories(ctx, settings); err != nil {
			return err
		}
	}
	if all || s.params.Thawed {
		if err := s.renderThawed(ctx, settings); err != nil {
			return err
		}
	}
	if all || s.params.Bucket {
		if err := s.renderBuckets(ctx, settings); err != nil {
			return err
		}
	}
	if all || s.params.ILM {
		if err := s.renderILM(ctx, settings); err != nil {
			return err
		}
	}
	return nil
}

func (s *Status) header(title string) {
	if s.params.Porcelain {
		return
	}
	heading := color.New(color.FgCyan, color.Bold)
	fmt.Fprintln(s.out)
	heading.Fprintln(s.out, strings.ToUpper(title))
}

func (s *Status) renderConfig(settings state.Settings) error {
	if s.params.Porcelain {
		fmt.Fprintf(s.out, "CONFIG\trepo_name_prefix\t%s\n", settings.RepoNamePrefix)
		fmt.Fprintf(s.out, "CONFIG\tbucket_name_prefix\t%s\n", settings.BucketNamePrefix)
		fmt.Fprintf(s.out, "CONFIG\tbase_path_prefix\t%s\n", settings.BasePathPrefix)
		fmt.Fprintf(s.out, "CONFIG\trotate_by\t%s\n", settings.RotateBy)
		fmt.Fprintf(s.out, "CONFIG\tstyle\t%s\n", settings.Style)
		fmt.Fprintf(s.out, "CONFIG\tlast_suffix\t%s\n", settings.LastSuffix)
		fmt.Fprintf(s.out, "CONFIG\tprovider\t%s\n", settings.Provider)
		return nil
	}
	s.header("configuration")
	rendered, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.out.Write(rendered)
	return err
}

func (s *Status) renderRepositories(ctx context.Context, settings state.Settings) error {
	repos, err := s.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	if err != nil {
		return err
	}
	if s.params.Limit > 0 && len(repos) > s.params.Limit {
		repos = repos[len(repos)-s.params.Limit:]
	}
	s.header("repositories")
	for _, repo := range repos {
		if s.params.Porcelain {
			fmt.Fprintf(s.out, "REPO\t%s\t%s\t%t\t%s\t%s\n",
				repo.Name, repo.ThawState, repo.IsMounted, formatOptional(repo.Start), formatOptional(repo.End))
			continue
		}
		fmt.Fprintf(s.out, "  %-28s %-8s mounted=%-5t %s .. %s\n",
			repo.Name, repo.ThawState, repo.IsMounted, formatOptional(repo.Start), formatOptional(repo.End))
	}
	return nil
}

func (s *Status) renderThawed(ctx context.Context, settings state.Settings) error {
	repos, err := s.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	if err != nil {
		return err
	}
	s.header("thawed repositories")
	for _, repo := range repos {
		if repo.ThawState != state.ThawStateThawed && repo.ThawState != state.ThawStateThawing {
			continue
		}
		if s.params.Porcelain {
			fmt.Fprintf(s.out, "THAWED\t%s\t%s\t%s\t%s\n",
				repo.Name, repo.ThawState, formatOptional(repo.ThawedAt), formatOptional(repo.ExpiresAt))
			continue
		}
		fmt.Fprintf(s.out, "  %-28s %-8s thawed_at=%s expires_at=%s\n",
			repo.Name, repo.ThawState, formatOptional(repo.ThawedAt), formatOptional(repo.ExpiresAt))
	}
	return nil
}

func (s *Status) renderBuckets(ctx context.Context, settings state.Settings) error {
	repos, err := s.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	if err != nil {
		return err
	}
	buckets := map[string]struct{}{}
	for _, repo := range repos {
		if repo.Bucket != "" {
			buckets[repo.Bucket] = struct{}{}
		}
	}
	if settings.RotateBy == state.RotateByPath {
		buckets[settings.BucketNamePrefix] = struct{}{}
	}
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	s.header("buckets")
	for _, name := range names {
		exists, err := s.rt.Objects.BucketExists(ctx, name)
		if err != nil {
			return err
		}
		if s.params.Porcelain {
			fmt.Fprintf(s.out, "BUCKET\t%s\t%t\n", name, exists)
			continue
		}
		fmt.Fprintf(s.out, "  %-40s exists=%t\n", name, exists)
	}
	return nil
}

func (s *Status) renderILM(ctx context.Context, settings state.Settings) error {
	policies, err := s.rt.ES.GetLifecyclePolicies(ctx)
	if err != nil {
		return err
	}
	repos, err := s.rt.Registry.MatchingRepoNames(ctx, settings.RepoNamePrefix)
	if err != nil {
		return err
	}
	referenced := map[string]string{}
	for _, repo := range repos {
		matching, err := s.rt.ILM.PoliciesReferencing(ctx, repo)
		if err != nil {
			return err
		}
		for name := range matching {
			referenced[name] = repo
		}
	}
	names := make([]string, 0, len(referenced))
	for name := range referenced {
		names = append(names, name)
	}
	sort.Strings(names)

	s.header("ilm policies")
	for _, name := range names {
		policy := policies[name]
		inUse := len(policy.InUseBy.Indices) + len(policy.InUseBy.DataStreams) + len(policy.InUseBy.ComposableTemplates)
		if s.params.Porcelain {
			fmt.Fprintf(s.out, "ILM\t%s\t%s\t%d\n", name, referenced[name], inUse)
			continue
		}
		fmt.Fprintf(s.out, "  %-40s repository=%s in_use_by=%d\n", name, referenced[name], inUse)
	}
	return nil
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return chrono.FormatUTC(*t)
}
