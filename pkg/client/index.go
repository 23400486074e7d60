// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

// MountedIndex describes where a searchable snapshot index is mounted from.
type MountedIndex struct {
	Repository  string
	Snapshot    string
	SourceIndex string
}

// snapshotStoreSettings mirrors the index.store.snapshot settings block of a
// searchable snapshot index.
type snapshotStoreSettings struct {
	Settings struct {
		Index struct {
			Store struct {
				Snapshot struct {
					RepositoryName string `json:"repository_name"`
					SnapshotName   string `json:"snapshot_name"`
					IndexName      string `json:"index_name"`
				} `json:"snapshot"`
			} `json:"store"`
		} `json:"index"`
	} `json:"settings"`
}

func (c *defaultClient) IndexExists(ctx context.Context, index string) (bool, error) {
	return c.exists(ctx, fmt.Sprintf("/%s", index))
}

func (c *defaultClient) CreateIndex(ctx context.Context, index string, body map[string]interface{}) error {
	return c.put(ctx, fmt.Sprintf("/%s", index), body, nil)
}

func (c *defaultClient) DeleteIndex(ctx context.Context, index string) error {
	return c.delete(ctx, fmt.Sprintf("/%s", index))
}

func (c *defaultClient) RefreshIndex(ctx context.Context, index string) error {
	return c.post(ctx, fmt.Sprintf("/%s/_refresh", index), nil, nil)
}

func (c *defaultClient) GetMountedIndices(ctx context.Context) (map[string]MountedIndex, error) {
	// restrict the settings response to the snapshot store section, including hidden
	// indices since data stream backing indices are hidden
	var response map[string]snapshotStoreSettings
	if err := c.get(ctx, "/_all/_settings/index.store.snapshot.*?expand_wildcards=all", &response); err != nil {
		return nil, err
	}
	mounted := make(map[string]MountedIndex)
	for index, settings := range response {
		snapshot := settings.Settings.Index.Store.Snapshot
		if snapshot.RepositoryName == "" {
			continue
		}
		mounted[index] = MountedIndex{
			Repository:  snapshot.RepositoryName,
			Snapshot:    snapshot.SnapshotName,
			SourceIndex: snapshot.IndexName,
		}
	}
	return mounted, nil
}
