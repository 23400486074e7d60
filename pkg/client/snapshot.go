// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

const (
	// RepositoryTypeS3 is the repository type backed by AWS S3 or an S3 compatible store.
	RepositoryTypeS3 = "s3"
	// RepositoryTypeGCS is the repository type backed by Google Cloud Storage.
	RepositoryTypeGCS = "gcs"
	// RepositoryTypeAzure is the repository type backed by Azure Blob Storage.
	RepositoryTypeAzure = "azure"

	// MountStorageFullCopy mounts a searchable snapshot index with a full local copy.
	MountStorageFullCopy = "full_copy"
	// MountStorageSharedCache mounts a searchable snapshot index backed by the shared cache,
	// producing a partially mounted index.
	MountStorageSharedCache = "shared_cache"
)

// SnapshotRepository is the definition of a snapshot repository.
type SnapshotRepository struct {
	Type     string                     `json:"type"`
	Settings SnapshotRepositorySettings `json:"settings"`
}

// SnapshotRepositorySettings are the object store settings of a snapshot repository.
// Only the settings relevant to bucket based repositories are modelled.
type SnapshotRepositorySettings struct {
	Bucket       string `json:"bucket,omitempty"`
	BasePath     string `json:"base_path,omitempty"`
	CannedACL    string `json:"canned_acl,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
	Client       string `json:"client,omitempty"`
	Compress     *bool  `json:"compress,omitempty"`
	ReadOnly     *bool  `json:"readonly,omitempty"`
}

// Snapshot is a partial representation of a snapshot held by a repository.
type Snapshot struct {
	Snapshot    string   `json:"snapshot"`
	UUID        string   `json:"uuid"`
	State       string   `json:"state"`
	Indices     []string `json:"indices"`
	DataStreams []string `json:"data_streams"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
}

// SnapshotsList models the response to a snapshot list request.
type SnapshotsList struct {
	Snapshots []Snapshot `json:"snapshots"`
}

// MountRequest is the body of a searchable snapshot mount call.
type MountRequest struct {
	Index               string                 `json:"index"`
	RenamedIndex        string                 `json:"renamed_index,omitempty"`
	IndexSettings       map[string]interface{} `json:"index_settings,omitempty"`
	IgnoreIndexSettings []string               `json:"ignore_index_settings,omitempty"`
}

func (c *defaultClient) GetSnapshotRepository(ctx context.Context, name string) (SnapshotRepository, error) {
	// the response is keyed by repository name even when requesting a single one
	var response map[string]SnapshotRepository
	if err := c.get(ctx, fmt.Sprintf("/_snapshot/%s", name), &response); err != nil {
		return SnapshotRepository{}, err
	}
	return response[name], nil
}

func (c *defaultClient) ListSnapshotRepositories(ctx context.Context) (map[string]SnapshotRepository, error) {
	var response map[string]SnapshotRepository
	return response, c.get(ctx, "/_snapshot/_all", &response)
}

func (c *defaultClient) UpsertSnapshotRepository(ctx context.Context, name string, repository SnapshotRepository) error {
	return c.put(ctx, fmt.Sprintf("/_snapshot/%s", name), repository, nil)
}

func (c *defaultClient) DeleteSnapshotRepository(ctx context.Context, name string) error {
	return c.delete(ctx, fmt.Sprintf("/_snapshot/%s", name))
}

func (c *defaultClient) GetSnapshots(ctx context.Context, repository string) ([]Snapshot, error) {
	var list SnapshotsList
	err := c.get(ctx, fmt.Sprintf("/_snapshot/%s/_all?ignore_unavailable=true", repository), &list)
	return list.Snapshots, err
}

func (c *defaultClient) MountSearchableSnapshot(ctx context.Context, repository, snapshot, storage string, request MountRequest) error {
	path := fmt.Sprintf("/_snapshot/%s/%s/_mount?wait_for_completion=true&storage=%s", repository, snapshot, storage)
	return c.post(ctx, path, request, nil)
}
