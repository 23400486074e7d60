// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package state

import "fmt"

const (
	// StatusIndex is the cluster side index holding all lifecycle state documents.
	StatusIndex = "deepfreeze-status"
	// SettingsID is the fixed id of the singleton settings document.
	SettingsID = "1"

	DoctypeSettings    = "settings"
	DoctypeRepository  = "repository"
	DoctypeThawRequest = "thaw_request"

	// RotateByPath suffixes the base path within a single bucket on every rotation.
	RotateByPath = "path"
	// RotateByBucket creates a new bucket per rotation.
	RotateByBucket = "bucket"

	// StyleOneup issues zero padded monotonic integer suffixes, e.g. 000001.
	StyleOneup = "oneup"
	// StyleDate issues YYYY.MM suffixes.
	StyleDate = "date"
)

// ThawRequestRetention holds how many days thaw requests are kept per final status
// before the reaper removes them.
type ThawRequestRetention struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Refrozen  int `json:"refrozen"`
}

// Settings is the singleton configuration document driving repository naming and
// rotation. It is persisted under the fixed id "1" in the status index.
type Settings struct {
	Doctype          string               `json:"doctype"`
	RepoNamePrefix   string               `json:"repo_name_prefix"`
	BucketNamePrefix string               `json:"bucket_name_prefix"`
	BasePathPrefix   string               `json:"base_path_prefix"`
	CannedACL        string               `json:"canned_acl"`
	StorageClass     string               `json:"storage_class"`
	Provider         string               `json:"provider"`
	RotateBy         string               `json:"rotate_by"`
	Style            string               `json:"style"`
	LastSuffix       string               `json:"last_suffix"`
	Retention        ThawRequestRetention `json:"thaw_request_retention"`
}

// DefaultSettings returns a Settings value with every optional field at its default.
func DefaultSettings() Settings {
	return Settings{
		Doctype:          DoctypeSettings,
		RepoNamePrefix:   "deepfreeze",
		BucketNamePrefix: "deepfreeze",
		BasePathPrefix:   "snapshots",
		CannedACL:        "private",
		StorageClass:     "intelligent_tiering",
		Provider:         "aws",
		RotateBy:         RotateByPath,
		Style:            StyleOneup,
		Retention: ThawRequestRetention{
			Completed: 7,
			Failed:    14,
			Refrozen:  7,
		},
	}
}

// Validate checks the enumerated settings.
func (s Settings) Validate() error {
	switch s.RotateBy {
	case RotateByPath, RotateByBucket:
	default:
		return &InvalidConfigError{Setting: "rotate_by", Value: s.RotateBy, Expected: "path, bucket"}
	}
	switch s.Style {
	case StyleOneup, StyleDate:
	default:
		return &InvalidConfigError{Setting: "style", Value: s.Style, Expected: "oneup, date"}
	}
	switch s.Provider {
	case "aws", "gcp", "azure":
	default:
		return &InvalidConfigError{Setting: "provider", Value: s.Provider, Expected: "aws, gcp, azure"}
	}
	return nil
}

// RepoName returns the repository name for the given suffix.
func (s Settings) RepoName(suffix string) string {
	return fmt.Sprintf("%s-%s", s.RepoNamePrefix, suffix)
}

// BucketName returns the bucket holding the repository with the given suffix. A
// single bucket is shared by every repository when rotating by path.
func (s Settings) BucketName(suffix string) string {
	if s.RotateBy == RotateByBucket {
		return fmt.Sprintf("%s-%s", s.BucketNamePrefix, suffix)
	}
	return s.BucketNamePrefix
}

// BasePath returns the path prefix within the bucket for the repository with the
// given suffix. The path carries the suffix when rotating by path, otherwise the
// bucket does.
func (s Settings) BasePath(suffix string) string {
	if s.RotateBy == RotateByBucket {
		return s.BasePathPrefix
	}
	return fmt.Sprintf("%s-%s", s.BasePathPrefix, suffix)
}
