// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"errors"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3Store talks to AWS S3 or an S3 compatible endpoint.
type s3Store struct {
	api    *s3.Client
	region string
}

var _ ObjectStore = &s3Store{}

func newS3Store(ctx context.Context, cfg Config) (*s3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, &ObjectStoreError{Op: "load aws configuration", Err: err}
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// S3 compatible stores are usually addressed by path rather than virtual host
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Store{api: api, region: awsCfg.Region}, nil
}

func (s *s3Store) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, &ObjectStoreError{Op: "head bucket", Bucket: bucket, Err: err}
	}
	return true, nil
}

func (s *s3Store) CreateBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.api.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var taken *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &taken) || isAccessDenied(err) {
			return &BucketUnavailableError{Bucket: bucket, Err: err}
		}
		return &ObjectStoreError{Op: "create bucket", Bucket: bucket, Err: err}
	}
	return nil
}

func (s *s3Store) ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(NormalizePrefix(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &ObjectStoreError{Op: "list objects", Bucket: bucket, Key: prefix, Err: err}
		}
		for _, object := range page.Contents {
			info := ObjectInfo{
				Key:          aws.ToString(object.Key),
				StorageClass: string(object.StorageClass),
				Size:         aws.ToInt64(object.Size),
				LastModified: aws.ToTime(object.LastModified),
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *s3Store) CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error {
	// the copy source must be URL encoded while keeping path separators intact
	source := (&url.URL{Path: bucket + "/" + key}).EscapedPath()
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		CopySource:        aws.String(source),
		Key:               aws.String(key),
		StorageClass:      types.StorageClass(storageClass),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return &ObjectStoreError{Op: "copy object in place", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func (s *s3Store) RestoreObject(ctx context.Context, bucket, key string, days int, tier RestoreTier) error {
	_, err := s.api.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(days)), //nolint:gosec
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.Tier(tier),
			},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "RestoreAlreadyInProgress" {
			// the earlier request wins, its restore window applies
			log.V(1).Info("Restore already in progress", "bucket", bucket, "key", key)
			return nil
		}
		return &ObjectStoreError{Op: "restore object", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func (s *s3Store) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, &ObjectStoreError{Op: "head object", Bucket: bucket, Key: key, Err: err}
	}
	info := ObjectInfo{
		Key:          key,
		StorageClass: string(out.StorageClass),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}
	restore, err := ParseRestoreStatus(aws.ToString(out.Restore))
	if err != nil {
		return ObjectInfo{}, &ObjectStoreError{Op: "head object", Bucket: bucket, Key: key, Err: err}
	}
	info.Restore = restore
	return info, nil
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied"
}
