// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"errors"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// gcsStore covers bucket management and listing on Google Cloud Storage. GCS archive
// reads do not use a restore cycle, so the Glacier style tiering operations report
// not implemented until repository rotation supports GCS natively.
type gcsStore struct {
	client  *storage.Client
	project string
}

var _ ObjectStore = &gcsStore{}

func newGCSStore(ctx context.Context, cfg Config) (*gcsStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, &ObjectStoreError{Op: "create gcs client", Err: err}
	}
	return &gcsStore{client: client, project: cfg.GCPProject}, nil
}

func (g *gcsStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrBucketNotExist):
		return false, nil
	case err != nil:
		return false, &ObjectStoreError{Op: "bucket attrs", Bucket: bucket, Err: err}
	default:
		return true, nil
	}
}

func (g *gcsStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := g.client.Bucket(bucket).Create(ctx, g.project, nil); err != nil {
		return &BucketUnavailableError{Bucket: bucket, Err: err}
	}
	return nil
}

func (g *gcsStore) ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: NormalizePrefix(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return &ObjectStoreError{Op: "list objects", Bucket: bucket, Key: prefix, Err: err}
		}
		if err := fn(ObjectInfo{
			Key:          attrs.Name,
			StorageClass: attrs.StorageClass,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		}); err != nil {
			return err
		}
	}
}

func (g *gcsStore) CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error {
	return &NotImplementedError{Provider: ProviderGCP, Operation: "copy object in place"}
}

func (g *gcsStore) RestoreObject(ctx context.Context, bucket, key string, days int, tier RestoreTier) error {
	return &NotImplementedError{Provider: ProviderGCP, Operation: "restore object"}
}

func (g *gcsStore) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	return ObjectInfo{}, &NotImplementedError{Provider: ProviderGCP, Operation: "head object"}
}
