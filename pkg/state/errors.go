// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package state

import "fmt"

// MissingIndexError is returned when the status index is required but does not exist.
type MissingIndexError struct {
	Index string
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("status index %q does not exist, run setup first", e.Index)
}

// MissingSettingsError is returned when the status index exists but holds no
// settings document.
type MissingSettingsError struct {
	Index string
}

func (e *MissingSettingsError) Error() string {
	return fmt.Sprintf("no settings document found in status index %q, run setup first", e.Index)
}

// InvalidConfigError is returned for an unsupported value of an enumerated setting.
type InvalidConfigError struct {
	Setting  string
	Value    string
	Expected string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q, expected one of %s", e.Setting, e.Value, e.Expected)
}
