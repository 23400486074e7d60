// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// azureStore covers container management and listing on Azure Blob Storage. Tier
// changes and archive rehydration follow a different model than Glacier restores,
// they report not implemented until repository rotation supports Azure natively.
type azureStore struct {
	client *azblob.Client
}

var _ ObjectStore = &azureStore{}

func newAzureStore(cfg Config) (*azureStore, error) {
	if cfg.AzureAccount == "" || cfg.AzureKey == "" {
		return nil, &ObjectStoreError{Op: "create azure client", Err: fmt.Errorf("azure account and key are required")}
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.AzureAccount, cfg.AzureKey)
	if err != nil {
		return nil, &ObjectStoreError{Op: "create azure client", Err: err}
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AzureAccount)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, &ObjectStoreError{Op: "create azure client", Err: err}
	}
	return &azureStore{client: client}, nil
}

func (a *azureStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := a.client.ServiceClient().NewContainerClient(bucket).GetProperties(ctx, nil)
	switch {
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return false, nil
	case err != nil:
		return false, &ObjectStoreError{Op: "container properties", Bucket: bucket, Err: err}
	default:
		return true, nil
	}
}

func (a *azureStore) CreateBucket(ctx context.Context, bucket string) error {
	if _, err := a.client.CreateContainer(ctx, bucket, nil); err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists, bloberror.AuthorizationFailure) {
			return &BucketUnavailableError{Bucket: bucket, Err: err}
		}
		return &ObjectStoreError{Op: "create container", Bucket: bucket, Err: err}
	}
	return nil
}

func (a *azureStore) ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	normalized := NormalizePrefix(prefix)
	pager := a.client.NewListBlobsFlatPager(bucket, &azblob.ListBlobsFlatOptions{Prefix: &normalized})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return &ObjectStoreError{Op: "list blobs", Bucket: bucket, Key: prefix, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			info := ObjectInfo{}
			if item.Name != nil {
				info.Key = *item.Name
			}
			if props := item.Properties; props != nil {
				if props.AccessTier != nil {
					info.StorageClass = string(*props.AccessTier)
				}
				if props.ContentLength != nil {
					info.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					info.LastModified = *props.LastModified
				}
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *azureStore) CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error {
	return &NotImplementedError{Provider: ProviderAzure, Operation: "copy object in place"}
}

func (a *azureStore) RestoreObject(ctx context.Context, bucket, key string, days int, tier RestoreTier) error {
	return &NotImplementedError{Provider: ProviderAzure, Operation: "restore object"}
}

func (a *azureStore) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	return ObjectInfo{}, &NotImplementedError{Provider: ProviderAzure, Operation: "head object"}
}
