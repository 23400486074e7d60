// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
)

// PrefixClass is the observed storage state of a repository's object prefix.
type PrefixClass string

const (
	// PrefixEmpty means no object exists under the prefix.
	PrefixEmpty PrefixClass = "EMPTY"
	// PrefixGlacier means every object sits in an archive tier.
	PrefixGlacier PrefixClass = "GLACIER"
	// PrefixStandard means at least one object is instantly readable.
	PrefixStandard PrefixClass = "STANDARD"
)

// RepairParams configures metadata repair.
type RepairParams struct {
	// Porcelain emits tab separated machine parseable records.
	Porcelain bool
}

// Repair reconciles repository records against the object store and the cluster:
// records claiming thawed while every object is archived are returned to frozen,
// frozen records whose objects are readable and whose repository is registered
// are promoted to thawed, and the mounted flag is corrected against the cluster.
type Repair struct {
	rt     *Runtime
	params RepairParams
	out    io.Writer
}

// NewRepair returns the repair controller writing its findings to out.
func NewRepair(rt *Runtime, params RepairParams, out io.Writer) *Repair {
	return &Repair{rt: rt, params: params, out: out}
}

// Run probes every repository record and fixes drifted metadata.
func (r *Repair) Run(ctx context.Context) (*RunReport, error) {
	if err := r.rt.Store.EnsureStatusIndex(ctx, false); err != nil {
		return nil, err
	}
	settings, err := r.rt.Store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	registered, err := r.rt.ES.ListSnapshotRepositories(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := r.rt.Store.Repositories(ctx, state.RepositoryFilter{Prefix: settings.RepoNamePrefix})
	if err != nil {
		return nil, err
	}

	report := &RunReport{}
	fixed := 0
	for i := range repos {
		repo := &repos[i]
		class, err := r.classifyPrefix(ctx, repo)
		if err != nil {
			report.Fail("probe repository", repo.Name, err)
			r.emit(repo.Name, string(class), false, err.Error())
			continue
		}
		_, mounted := registered[repo.Name]
		changed := r.reconcile(repo, class, mounted)
		if !changed {
			report.Skip("repair repository", repo.Name, "no drift")
			r.emit(repo.Name, string(class), false, "")
			continue
		}
		if r.rt.DryRun {
			report.Skip("repair repository", repo.Name, "dry run")
			r.emit(repo.Name, string(class), false, "dry run")
			continue
		}
		if err := r.rt.Store.PersistRepository(ctx, repo); err != nil {
			report.Fail("repair repository", repo.Name, err)
			continue
		}
		fixed++
		report.OK("repair repository", repo.Name)
		r.emit(repo.Name, string(class), true, "")
	}

	if r.params.Porcelain {
		fmt.Fprintf(r.out, "SUMMARY\tchecked=%d\tfixed=%d\n", len(repos), fixed)
	} else {
		color.New(color.Bold).Fprintf(r.out, "\nChecked %d repositories, fixed %d\n", len(repos), fixed)
	}
	return report, report.Err()
}

// classifyPrefix reduces the objects under the repository prefix to one of EMPTY,
// GLACIER or STANDARD.
func (r *Repair) classifyPrefix(ctx context.Context, repo *state.Repository) (PrefixClass, error) {
	if repo.Bucket == "" {
		return PrefixEmpty, nil
	}
	total, instant := 0, 0
	err := r.rt.Objects.ListObjects(ctx, repo.Bucket, repo.BasePath, func(object provider.ObjectInfo) error {
		total++
		if provider.InstantAccess(object.StorageClass) {
			instant++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch {
	case total == 0:
		return PrefixEmpty, nil
	case instant == 0:
		return PrefixGlacier, nil
	default:
		return PrefixStandard, nil
	}
}

// reconcile applies the drift rules to the record and reports whether it changed.
func (r *Repair) reconcile(repo *state.Repository, class PrefixClass, mounted bool) bool {
	changed := false
	switch {
	case class == PrefixGlacier && (repo.ThawState == state.ThawStateThawed || repo.ThawState == state.ThawStateThawing):
		// the restore window is over, the record just never noticed
		repo.MarkExpired()
		repo.Reset()
		changed = true
	case class == PrefixStandard && repo.ThawState == state.ThawStateFrozen && mounted:
		// objects are readable and the cluster still serves the repository
		repo.MarkThawed(r.rt.now())
		changed = true
	}
	if repo.IsMounted != mounted {
		repo.IsMounted = mounted
		changed = true
	}
	return changed
}

func (r *Repair) emit(name, class string, fixed bool, note string) {
	if r.params.Porcelain {
		fixedFlag := 0
		if fixed {
			fixedFlag = 1
		}
		fmt.Fprintf(r.out, "REPAIR\t%s\t%s\tFIXED=%d\t%s\n", name, class, fixedFlag, note)
		return
	}
	marker := " "
	if fixed {
		marker = color.GreenString("*")
	}
	if note != "" {
		note = " (" + note + ")"
	}
	fmt.Fprintf(r.out, "%s %-28s %s%s\n", marker, name, class, note)
}
