// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ItemOutcome classifies how a single step of a controller run ended.
type ItemOutcome string

const (
	OutcomeOK      ItemOutcome = "ok"
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomeFailed  ItemOutcome = "failed"
)

// Item is one recorded step of a controller run.
type Item struct {
	Action  string
	Subject string
	Outcome ItemOutcome
	// Reason explains a skip.
	Reason string
	// Err holds the failure of a failed item.
	Err error
}

func (i Item) String() string {
	switch i.Outcome {
	case OutcomeSkipped:
		return fmt.Sprintf("%s %s: skipped (%s)", i.Action, i.Subject, i.Reason)
	case OutcomeFailed:
		return fmt.Sprintf("%s %s: failed (%v)", i.Action, i.Subject, i.Err)
	default:
		return fmt.Sprintf("%s %s: ok", i.Action, i.Subject)
	}
}

// RunReport aggregates per-item outcomes of a controller run. Inner loop failures
// are recorded and skipped so the run continues, the caller decides at the end
// whether accumulated failures make the whole run fail.
type RunReport struct {
	items []Item
}

// OK records a completed step.
func (r *RunReport) OK(action, subject string) {
	r.items = append(r.items, Item{Action: action, Subject: subject, Outcome: OutcomeOK})
}

// Skip records a step that was deliberately not performed.
func (r *RunReport) Skip(action, subject, reason string) {
	r.items = append(r.items, Item{Action: action, Subject: subject, Outcome: OutcomeSkipped, Reason: reason})
}

// Fail records a failed step.
func (r *RunReport) Fail(action, subject string, err error) {
	r.items = append(r.items, Item{Action: action, Subject: subject, Outcome: OutcomeFailed, Err: err})
}

// Merge appends every item of the other report.
func (r *RunReport) Merge(other *RunReport) {
	if other != nil {
		r.items = append(r.items, other.items...)
	}
}

// Items returns the recorded steps in order.
func (r *RunReport) Items() []Item {
	return r.items
}

// HasFailures reports whether any step failed.
func (r *RunReport) HasFailures() bool {
	for _, item := range r.items {
		if item.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Err aggregates the failures of the run, nil when everything succeeded.
func (r *RunReport) Err() error {
	var err *multierror.Error
	for _, item := range r.items {
		if item.Outcome == OutcomeFailed {
			err = multierror.Append(err, fmt.Errorf("%s %s: %w", item.Action, item.Subject, item.Err))
		}
	}
	return err.ErrorOrNil()
}
