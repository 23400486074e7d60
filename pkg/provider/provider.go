// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package provider abstracts the object stores that hold repository data. The AWS
// adapter is complete, the GCP and Azure adapters cover bucket management only and
// report tiering operations as not implemented.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("object-store")

const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"

	// StorageClassGlacier is the storage class archived objects are demoted to.
	StorageClassGlacier = "GLACIER"
	// StorageClassDeepArchive is the deepest archival class, treated like Glacier.
	StorageClassDeepArchive = "DEEP_ARCHIVE"
	// StorageClassStandard is the default instant access class.
	StorageClassStandard = "STANDARD"
	// StorageClassIntelligentTiering is the class rotated repositories are created with.
	StorageClassIntelligentTiering = "INTELLIGENT_TIERING"

	// DefaultMaxInflight bounds concurrent per-object calls during bulk operations.
	DefaultMaxInflight = 64
)

// RestoreTier selects how fast an archive restore should complete.
type RestoreTier string

const (
	TierStandard  RestoreTier = "Standard"
	TierExpedited RestoreTier = "Expedited"
	TierBulk      RestoreTier = "Bulk"
)

// ParseRestoreTier validates a user supplied retrieval tier.
func ParseRestoreTier(s string) (RestoreTier, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return TierStandard, nil
	case "expedited":
		return TierExpedited, nil
	case "bulk":
		return TierBulk, nil
	default:
		return "", &UnknownTierError{Tier: s}
	}
}

// ObjectInfo describes a single stored object. Restore is only populated by
// HeadObject, and only when the object has a restore marker.
type ObjectInfo struct {
	Key          string
	StorageClass string
	Size         int64
	LastModified time.Time
	Restore      *RestoreStatus
}

// RestoreStatus is the decoded restore marker of an archived object. Ongoing is true
// while the restore runs, afterwards Expiry carries the end of the instant access window.
type RestoreStatus struct {
	Ongoing bool
	Expiry  time.Time
}

// ObjectStore is the capability interface over a cloud object store.
type ObjectStore interface {
	// BucketExists returns true if the given bucket exists.
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// CreateBucket creates the bucket, failing with BucketUnavailableError when the
	// name is taken or access is denied.
	CreateBucket(ctx context.Context, bucket string) error
	// ListObjects walks every object under prefix, invoking fn for each. Returning an
	// error from fn stops the walk.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error
	// CopyObjectInPlace server-side copies an object onto itself with a new storage class.
	CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error
	// RestoreObject initiates an archive restore making the object readable for the
	// given number of days. Re-requesting an ongoing restore is not an error.
	RestoreObject(ctx context.Context, bucket, key string, days int, tier RestoreTier) error
	// HeadObject fetches storage class and restore status for a single object.
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// Config selects and configures an object store adapter.
type Config struct {
	// Provider is one of aws, gcp or azure. Defaults to aws.
	Provider string
	// Region is the AWS region used for bucket creation and API calls.
	Region string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores. Path style
	// addressing is enabled when set.
	Endpoint string
	// AccessKeyID and SecretAccessKey are optional static AWS credentials. The default
	// credential chain applies when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// GCPProject is the project new GCS buckets are created in.
	GCPProject string
	// AzureAccount and AzureKey are the storage account credentials for the azure provider.
	AzureAccount string
	AzureKey     string
}

// ForConfig returns the adapter for the configured provider.
func ForConfig(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAWS:
		return newS3Store(ctx, cfg)
	case ProviderGCP:
		return newGCSStore(ctx, cfg)
	case ProviderAzure:
		return newAzureStore(cfg)
	default:
		return nil, &UnknownProviderError{Provider: cfg.Provider}
	}
}

// InstantAccess reports whether objects of the given storage class can be read
// without restoring them first. Unknown classes are treated as archived so that
// reads are never assumed cheap.
func InstantAccess(storageClass string) bool {
	switch strings.ToUpper(storageClass) {
	case "", StorageClassStandard, "REDUCED_REDUNDANCY", "STANDARD_IA", "ONEZONE_IA",
		StorageClassIntelligentTiering, "GLACIER_IR":
		return true
	default:
		return false
	}
}

// NormalizePrefix trims leading slashes and ensures a non-empty prefix ends with a
// single trailing slash, so that listing never matches sibling paths.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// ParseRestoreStatus decodes the x-amz-restore header of an archived object, e.g.
//
//	ongoing-request="true"
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
//
// The header is split on the first comma only since the expiry date itself contains
// one. Unquoted booleans are accepted, some stores emit them. A nil status is
// returned for an empty header, meaning no restore was ever requested.
func ParseRestoreStatus(header string) (*RestoreStatus, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	tokens := strings.SplitN(header, ",", 2)
	progressTokens := strings.SplitN(tokens[0], "=", 2)
	if len(progressTokens) != 2 || strings.TrimSpace(progressTokens[0]) != "ongoing-request" {
		return nil, &MalformedRestoreHeaderError{Header: header}
	}
	switch strings.TrimSpace(progressTokens[1]) {
	case "true", `"true"`:
		if len(tokens) == 1 {
			return &RestoreStatus{Ongoing: true}, nil
		}
	case "false", `"false"`:
		if len(tokens) != 2 {
			return nil, &MalformedRestoreHeaderError{Header: header}
		}
		expiryTokens := strings.SplitN(tokens[1], "=", 2)
		if len(expiryTokens) != 2 || strings.TrimSpace(expiryTokens[0]) != "expiry-date" {
			return nil, &MalformedRestoreHeaderError{Header: header}
		}
		expiry, err := time.Parse(http.TimeFormat, strings.Trim(strings.TrimSpace(expiryTokens[1]), `"`))
		if err != nil {
			return nil, &MalformedRestoreHeaderError{Header: header}
		}
		return &RestoreStatus{Ongoing: false, Expiry: expiry.UTC()}, nil
	}
	return nil, &MalformedRestoreHeaderError{Header: header}
}
