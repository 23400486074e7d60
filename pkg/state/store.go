// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package state persists the archival lifecycle in a single status index: the
// settings singleton, one record per repository ever created and one record per
// thaw request. The status index is the source of truth for lifecycle state, the
// cluster remains the source of truth for what is actually registered.
package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("state")

// searchSize bounds listing queries. Rotation retires repositories and the reaper
// retires thaw requests, keeping both document counts far below this.
const searchSize = 1000

// statusIndexMappings types the fields the store queries or sorts on. Remaining
// fields map dynamically.
var statusIndexMappings = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"doctype":    map[string]interface{}{"type": "keyword"},
			"name":       map[string]interface{}{"type": "keyword"},
			"bucket":     map[string]interface{}{"type": "keyword"},
			"base_path":  map[string]interface{}{"type": "keyword"},
			"thaw_state": map[string]interface{}{"type": "keyword"},
			"is_thawed":  map[string]interface{}{"type": "boolean"},
			"is_mounted": map[string]interface{}{"type": "boolean"},
			"start":      map[string]interface{}{"type": "date"},
			"end":        map[string]interface{}{"type": "date"},
			"thawed_at":  map[string]interface{}{"type": "date"},
			"expires_at": map[string]interface{}{"type": "date"},
			"request_id": map[string]interface{}{"type": "keyword"},
			"status":     map[string]interface{}{"type": "keyword"},
			"created_at": map[string]interface{}{"type": "date"},
			"start_date": map[string]interface{}{"type": "date"},
			"end_date":   map[string]interface{}{"type": "date"},
			"repos":      map[string]interface{}{"type": "keyword"},
		},
	},
}

// Store reads and writes lifecycle state documents. All writes are per document
// upserts, concurrent runs converge through guarded state transitions rather than
// locking.
type Store struct {
	es    client.Client
	index string
}

// NewStore returns a Store over the canonical status index.
func NewStore(es client.Client) *Store {
	return &Store{es: es, index: StatusIndex}
}

// Index returns the name of the status index.
func (s *Store) Index() string {
	return s.index
}

// StatusIndexExists reports whether the status index is present.
func (s *Store) StatusIndexExists(ctx context.Context) (bool, error) {
	return s.es.IndexExists(ctx, s.index)
}

// EnsureStatusIndex checks for the status index, creating it when allowed and
// failing with MissingIndexError when required but absent.
func (s *Store) EnsureStatusIndex(ctx context.Context, createIfMissing bool) error {
	exists, err := s.es.IndexExists(ctx, s.index)
	if err != nil {
		return errors.Wrap(err, "checking status index")
	}
	if exists {
		return nil
	}
	if !createIfMissing {
		return &MissingIndexError{Index: s.index}
	}
	log.Info("Creating status index", "index", s.index)
	if err := s.es.CreateIndex(ctx, s.index, statusIndexMappings); err != nil {
		return errors.Wrap(err, "creating status index")
	}
	return nil
}

// GetSettings loads the settings singleton.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	result, err := s.es.GetDocument(ctx, s.index, SettingsID)
	if err != nil {
		return Settings{}, errors.Wrap(err, "reading settings")
	}
	if !result.Found {
		return Settings{}, &MissingSettingsError{Index: s.index}
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(result.Source, &settings); err != nil {
		return Settings{}, errors.Wrap(err, "decoding settings")
	}
	return settings, nil
}

// SaveSettings upserts the settings singleton.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	settings.Doctype = DoctypeSettings
	if _, err := s.es.IndexDocument(ctx, s.index, SettingsID, settings); err != nil {
		return errors.Wrap(err, "saving settings")
	}
	return nil
}

// GetRepository returns the record for the named repository. A bare in-memory
// record is returned when none exists yet, nothing is written.
func (s *Store) GetRepository(ctx context.Context, name string) (Repository, error) {
	results, err := s.es.Search(ctx, s.index, map[string]interface{}{
		"size": 1,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"doctype": DoctypeRepository}},
					map[string]interface{}{"term": map[string]interface{}{"name": name}},
				},
			},
		},
	})
	if err != nil {
		return Repository{}, errors.Wrapf(err, "looking up repository %s", name)
	}
	if len(results.Hits.Hits) == 0 {
		return Repository{Name: name, ThawState: ThawStateActive, IsMounted: true}, nil
	}
	hit := results.Hits.Hits[0]
	return LoadRepository(hit.ID, hit.Source)
}

// RepositoryFilter narrows a repository listing.
type RepositoryFilter struct {
	// Prefix keeps only repositories whose name starts with it. Empty matches all.
	Prefix string
	// Mounted filters on the mounted flag when non-nil.
	Mounted *bool
}

// Repositories lists repository records matching the filter, sorted by name.
func (s *Store) Repositories(ctx context.Context, filter RepositoryFilter) ([]Repository, error) {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"doctype": DoctypeRepository}},
	}
	if filter.Prefix != "" {
		filters = append(filters, map[string]interface{}{"prefix": map[string]interface{}{"name": filter.Prefix}})
	}
	if filter.Mounted != nil {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"is_mounted": *filter.Mounted}})
	}
	results, err := s.es.Search(ctx, s.index, map[string]interface{}{
		"size":  searchSize,
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		"sort":  []interface{}{map[string]interface{}{"name": map[string]interface{}{"order": "asc"}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing repositories")
	}
	repos := make([]Repository, 0, len(results.Hits.Hits))
	for _, hit := range results.Hits.Hits {
		repo, err := LoadRepository(hit.ID, hit.Source)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// FindRepositoriesOverlapping returns the repositories whose [start, end] coverage
// intersects the given range.
func (s *Store) FindRepositoriesOverlapping(ctx context.Context, start, end time.Time) ([]Repository, error) {
	results, err := s.es.Search(ctx, s.index, map[string]interface{}{
		"size": searchSize,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"doctype": DoctypeRepository}},
					map[string]interface{}{"range": map[string]interface{}{"start": map[string]interface{}{"lte": chrono.FormatUTC(end)}}},
					map[string]interface{}{"range": map[string]interface{}{"end": map[string]interface{}{"gte": chrono.FormatUTC(start)}}},
				},
			},
		},
		"sort": []interface{}{map[string]interface{}{"name": map[string]interface{}{"order": "asc"}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "searching repositories by date range")
	}
	repos := make([]Repository, 0, len(results.Hits.Hits))
	for _, hit := range results.Hits.Hits {
		repo, err := LoadRepository(hit.ID, hit.Source)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// PersistRepository upserts the repository record, creating the backing document
// on first persist and remembering its id on the record.
func (s *Store) PersistRepository(ctx context.Context, repo *Repository) error {
	if repo.docID == "" {
		result, err := s.es.CreateDocument(ctx, s.index, repo)
		if err != nil {
			return errors.Wrapf(err, "creating repository record %s", repo.Name)
		}
		repo.docID = result.ID
		return nil
	}
	if _, err := s.es.IndexDocument(ctx, s.index, repo.docID, repo); err != nil {
		return errors.Wrapf(err, "updating repository record %s", repo.Name)
	}
	return nil
}

// SaveThawRequest upserts a thaw request under its request id.
func (s *Store) SaveThawRequest(ctx context.Context, request ThawRequest) error {
	if _, err := s.es.IndexDocument(ctx, s.index, request.ID, request); err != nil {
		return errors.Wrapf(err, "saving thaw request %s", request.ID)
	}
	return nil
}

// GetThawRequest loads a thaw request by id. Found is false when it does not exist.
func (s *Store) GetThawRequest(ctx context.Context, id string) (ThawRequest, bool, error) {
	result, err := s.es.GetDocument(ctx, s.index, id)
	if err != nil {
		return ThawRequest{}, false, errors.Wrapf(err, "reading thaw request %s", id)
	}
	if !result.Found {
		return ThawRequest{}, false, nil
	}
	request, err := LoadThawRequest(result.Source)
	return request, err == nil, err
}

// ListThawRequests returns every thaw request, most recent first.
func (s *Store) ListThawRequests(ctx context.Context) ([]ThawRequest, error) {
	results, err := s.es.Search(ctx, s.index, map[string]interface{}{
		"size": searchSize,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"doctype": DoctypeThawRequest}},
				},
			},
		},
		"sort": []interface{}{map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing thaw requests")
	}
	requests := make([]ThawRequest, 0, len(results.Hits.Hits))
	for _, hit := range results.Hits.Hits {
		request, err := LoadThawRequest(hit.Source)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// UpdateThawRequestStatus rewrites the status of an existing request.
func (s *Store) UpdateThawRequestStatus(ctx context.Context, id string, status ThawRequestStatus) error {
	request, found, err := s.GetThawRequest(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("thaw request %s not found", id)
	}
	if request.Status == status {
		return nil
	}
	request.Status = status
	return s.SaveThawRequest(ctx, request)
}

// DeleteThawRequest removes a thaw request document.
func (s *Store) DeleteThawRequest(ctx context.Context, id string) error {
	if err := s.es.DeleteDocument(ctx, s.index, id); err != nil {
		return errors.Wrapf(err, "deleting thaw request %s", id)
	}
	return nil
}
