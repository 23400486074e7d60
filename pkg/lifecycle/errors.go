// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"fmt"
	"strings"
)

// Issue is a single failed precondition, paired with how to fix it.
type Issue struct {
	Problem string
	Remedy  string
}

// PreconditionError aggregates the startup checks that failed before a controller
// performed any mutation.
type PreconditionError struct {
	Controller string
	Issues     []Issue
}

func (e *PreconditionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s preconditions failed:", e.Controller)
	for _, issue := range e.Issues {
		fmt.Fprintf(&b, "\n  - %s (%s)", issue.Problem, issue.Remedy)
	}
	return b.String()
}

// RepositoryError wraps a failed repository operation against the cluster.
type RepositoryError struct {
	Repository string
	Op         string
	Err        error
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed for repository %s", e.Op, e.Repository)
	}
	return fmt.Sprintf("%s failed for repository %s: %v", e.Op, e.Repository, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// ActionError wraps an unexpected runtime failure from an external system.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
