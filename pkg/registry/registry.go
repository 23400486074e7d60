// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package registry reconciles the snapshot repositories registered in the cluster
// with the lifecycle records in the status index, computes rotation suffixes and
// refreshes the time coverage of repository records.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/state"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("registry")

// minSuffixDigits is the zero padded width of oneup suffixes. The width grows once
// the counter outruns it.
const minSuffixDigits = 6

// Registry inspects registered snapshot repositories and keeps the matching state
// records current.
type Registry struct {
	es    client.Client
	store *state.Store
}

// New returns a Registry over the given cluster and state store.
func New(es client.Client, store *state.Store) *Registry {
	return &Registry{es: es, store: store}
}

// MatchingRepoNames lists the registered snapshot repositories whose name starts
// with the given prefix, sorted ascending.
func (r *Registry) MatchingRepoNames(ctx context.Context, prefix string) ([]string, error) {
	repos, err := r.es.ListSnapshotRepositories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshot repositories")
	}
	var names []string
	for name := range repos {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LatestRepository returns the lexicographically greatest registered repository
// matching the prefix. Both suffix styles sort correctly as strings within a
// style. Found is false when no repository matches.
func (r *Registry) LatestRepository(ctx context.Context, prefix string) (string, bool, error) {
	names, err := r.MatchingRepoNames(ctx, prefix)
	if err != nil || len(names) == 0 {
		return "", false, err
	}
	return names[len(names)-1], true, nil
}

// NextSuffix computes the suffix following last for the given style. Year and
// month override the current UTC date for the date style, zero values mean now.
func NextSuffix(style, last string, year, month int) (string, error) {
	switch style {
	case state.StyleOneup:
		current := 0
		if last != "" {
			parsed, err := strconv.Atoi(last)
			if err != nil {
				return "", &state.InvalidConfigError{Setting: "last_suffix", Value: last, Expected: "a decimal integer"}
			}
			current = parsed
		}
		return fmt.Sprintf("%0*d", minSuffixDigits, current+1), nil
	case state.StyleDate:
		now := time.Now().UTC()
		if year == 0 {
			year = now.Year()
		}
		if month == 0 {
			month = int(now.Month())
		}
		if month < 1 || month > 12 {
			return "", &state.InvalidConfigError{Setting: "month", Value: strconv.Itoa(month), Expected: "1 through 12"}
		}
		return fmt.Sprintf("%04d.%02d", year, month), nil
	default:
		return "", &state.InvalidConfigError{Setting: "style", Value: style, Expected: "oneup, date"}
	}
}

// SuffixOf strips the prefix from a repository name, returning the suffix part.
func SuffixOf(name, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, prefix), "-")
}

// UpdateRepositoryDateRange recomputes the @timestamp coverage of the repository
// from its currently mounted snapshot indices and persists the record when the
// range changed. Snapshot indices may be mounted under their bare name or with the
// partial- or restored- prefix, the first variant found wins. The range replaces
// the stored one rather than widening it, so unmounting narrows coverage again.
func (r *Registry) UpdateRepositoryDateRange(ctx context.Context, repo *state.Repository) (bool, error) {
	snapshots, err := r.es.GetSnapshots(ctx, repo.Name)
	if err != nil {
		return false, errors.Wrapf(err, "listing snapshots of %s", repo.Name)
	}
	seen := map[string]struct{}{}
	var mounted []string
	for _, snapshot := range snapshots {
		for _, index := range snapshot.Indices {
			if _, ok := seen[index]; ok {
				continue
			}
			seen[index] = struct{}{}
			for _, variant := range []string{index, "partial-" + index, "restored-" + index} {
				exists, err := r.es.IndexExists(ctx, variant)
				if err != nil {
					return false, errors.Wrapf(err, "checking index %s", variant)
				}
				if exists {
					mounted = append(mounted, variant)
					break
				}
			}
		}
	}
	if len(mounted) == 0 {
		// nothing mounted, keep the stored coverage untouched
		return false, nil
	}

	start, end, err := r.timestampRange(ctx, mounted)
	if err != nil {
		return false, err
	}
	if start == nil || end == nil {
		return false, nil
	}
	if equalTime(repo.Start, start) && equalTime(repo.End, end) {
		return false, nil
	}
	log.Info("Updating repository date range",
		"repository", repo.Name,
		"start", chrono.FormatUTC(*start),
		"end", chrono.FormatUTC(*end),
	)
	repo.Start = start
	repo.End = end
	return true, r.store.PersistRepository(ctx, repo)
}

// timestampRange runs a min/max aggregation on @timestamp across the given indices.
func (r *Registry) timestampRange(ctx context.Context, indices []string) (*time.Time, *time.Time, error) {
	results, err := r.es.Search(ctx, strings.Join(indices, ","), map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"oldest": map[string]interface{}{"min": map[string]interface{}{"field": "@timestamp"}},
			"newest": map[string]interface{}{"max": map[string]interface{}{"field": "@timestamp"}},
		},
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "aggregating @timestamp range")
	}
	oldest, err := singleValue(results, "oldest")
	if err != nil {
		return nil, nil, err
	}
	newest, err := singleValue(results, "newest")
	if err != nil {
		return nil, nil, err
	}
	return oldest, newest, nil
}

func singleValue(results client.SearchResults, name string) (*time.Time, error) {
	raw, ok := results.Aggs[name]
	if !ok {
		return nil, nil
	}
	var agg client.SingleValueAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, errors.Wrapf(err, "decoding %s aggregation", name)
	}
	if agg.Value == nil {
		return nil, nil
	}
	// records persist second precision timestamps, truncate so an unchanged
	// range compares equal against the stored one
	t := chrono.FromMillis(int64(*agg.Value)).Truncate(time.Second)
	return &t, nil
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
