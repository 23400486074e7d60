// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import "fmt"

// UnknownProviderError is returned when the configured provider name is not recognized.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown object store provider %q, expected one of aws, gcp, azure", e.Provider)
}

// UnknownTierError is returned for an unrecognized retrieval tier.
type UnknownTierError struct {
	Tier string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown retrieval tier %q, expected one of Standard, Expedited, Bulk", e.Tier)
}

// NotImplementedError is returned by providers that do not support an operation.
type NotImplementedError struct {
	Provider  string
	Operation string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s does not implement %s", e.Provider, e.Operation)
}

// BucketUnavailableError is returned when a bucket cannot be created because the name
// is already taken or access is denied.
type BucketUnavailableError struct {
	Bucket string
	Err    error
}

func (e *BucketUnavailableError) Error() string {
	return fmt.Sprintf("bucket %q is unavailable: %v", e.Bucket, e.Err)
}

func (e *BucketUnavailableError) Unwrap() error { return e.Err }

// ObjectStoreError wraps a failed object store API call.
type ObjectStoreError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *ObjectStoreError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s failed for %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *ObjectStoreError) Unwrap() error { return e.Err }

// MalformedRestoreHeaderError is returned when an x-amz-restore header cannot be parsed.
type MalformedRestoreHeaderError struct {
	Header string
}

func (e *MalformedRestoreHeaderError) Error() string {
	return fmt.Sprintf("malformed restore header %q", e.Header)
}
