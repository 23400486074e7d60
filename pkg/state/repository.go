// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package state

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/utils/chrono"
)

// ThawState is the lifecycle state of a repository.
type ThawState string

const (
	// ThawStateActive marks the repository currently receiving new snapshots.
	ThawStateActive ThawState = "active"
	// ThawStateFrozen marks a rotated out repository whose objects live in Glacier.
	ThawStateFrozen ThawState = "frozen"
	// ThawStateThawing marks a repository with an object restore in flight.
	ThawStateThawing ThawState = "thawing"
	// ThawStateThawed marks a restored and re-mounted repository.
	ThawStateThawed ThawState = "thawed"
	// ThawStateExpired marks a thawed repository whose restore window has ended.
	ThawStateExpired ThawState = "expired"
)

// Repository tracks the lifecycle of a single snapshot repository. One document
// exists per repository ever created, surviving unmounts.
type Repository struct {
	// docID is the id of the backing document in the status index, empty until
	// the record is first persisted.
	docID string

	Name     string
	Bucket   string
	BasePath string

	// Start and End span the @timestamp range of the currently mounted backing
	// indices. Nil when never computed.
	Start *time.Time
	End   *time.Time

	ThawState ThawState
	IsMounted bool

	ThawedAt  *time.Time
	ExpiresAt *time.Time
}

// DocID returns the id of the backing status index document, empty for records
// that were never persisted.
func (r *Repository) DocID() string {
	return r.docID
}

// repositoryDoc is the serialized form of a Repository. Dates travel as ISO-8601
// strings with a UTC offset, is_thawed is kept for older readers and derived from
// thaw_state on write.
type repositoryDoc struct {
	Doctype   string `json:"doctype"`
	Name      string `json:"name"`
	Bucket    string `json:"bucket,omitempty"`
	BasePath  string `json:"base_path,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	ThawState string `json:"thaw_state,omitempty"`
	IsThawed  bool   `json:"is_thawed"`
	IsMounted bool   `json:"is_mounted"`
	ThawedAt  string `json:"thawed_at,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// MarshalJSON serializes the repository for the status index.
func (r Repository) MarshalJSON() ([]byte, error) {
	doc := repositoryDoc{
		Doctype:   DoctypeRepository,
		Name:      r.Name,
		Bucket:    r.Bucket,
		BasePath:  r.BasePath,
		ThawState: string(r.ThawState),
		IsThawed:  r.ThawState == ThawStateThawed || r.ThawState == ThawStateThawing,
		IsMounted: r.IsMounted,
	}
	if r.Start != nil {
		doc.Start = chrono.FormatUTC(*r.Start)
	}
	if r.End != nil {
		doc.End = chrono.FormatUTC(*r.End)
	}
	if r.ThawedAt != nil {
		doc.ThawedAt = chrono.FormatUTC(*r.ThawedAt)
	}
	if r.ExpiresAt != nil {
		doc.ExpiresAt = chrono.FormatUTC(*r.ExpiresAt)
	}
	return json.Marshal(doc)
}

// LoadRepository decodes a status index document into a Repository, normalizing
// legacy records on the way:
//   - a missing thaw_state becomes active for mounted records, frozen otherwise
//   - the legacy is_thawed boolean promotes a frozen record to thawed, or thawing
//     when the repository is not mounted yet
func LoadRepository(docID string, source []byte) (Repository, error) {
	var doc repositoryDoc
	if err := json.Unmarshal(source, &doc); err != nil {
		return Repository{}, errors.Wrap(err, "decoding repository document")
	}
	repo := Repository{
		docID:     docID,
		Name:      doc.Name,
		Bucket:    doc.Bucket,
		BasePath:  doc.BasePath,
		ThawState: ThawState(doc.ThawState),
		IsMounted: doc.IsMounted,
	}
	var err error
	if repo.Start, err = parseOptionalTime(doc.Start); err != nil {
		return Repository{}, errors.Wrapf(err, "repository %s: invalid start", doc.Name)
	}
	if repo.End, err = parseOptionalTime(doc.End); err != nil {
		return Repository{}, errors.Wrapf(err, "repository %s: invalid end", doc.Name)
	}
	if repo.ThawedAt, err = parseOptionalTime(doc.ThawedAt); err != nil {
		return Repository{}, errors.Wrapf(err, "repository %s: invalid thawed_at", doc.Name)
	}
	if repo.ExpiresAt, err = parseOptionalTime(doc.ExpiresAt); err != nil {
		return Repository{}, errors.Wrapf(err, "repository %s: invalid expires_at", doc.Name)
	}

	if repo.ThawState == "" {
		if repo.IsMounted {
			repo.ThawState = ThawStateActive
		} else {
			repo.ThawState = ThawStateFrozen
		}
	}
	if doc.IsThawed && repo.ThawState == ThawStateFrozen {
		if repo.IsMounted {
			repo.ThawState = ThawStateThawed
		} else {
			repo.ThawState = ThawStateThawing
		}
	}
	return repo, nil
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := chrono.ParseUTC(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// The transition methods below guard on the current state and report whether they
// changed anything, so that re-running a controller never moves a repository
// backwards along the frozen -> thawing -> thawed -> expired -> frozen cycle.

// Unmount records the repository leaving the cluster during rotation, demoting an
// active repository to frozen.
func (r *Repository) Unmount() bool {
	changed := r.IsMounted
	r.IsMounted = false
	if r.ThawState == ThawStateActive {
		r.ThawState = ThawStateFrozen
		changed = true
	}
	return changed
}

// MarkThawing records an initiated object restore. Only frozen repositories start
// thawing.
func (r *Repository) MarkThawing(expiresAt time.Time) bool {
	if r.ThawState != ThawStateFrozen {
		return false
	}
	r.ThawState = ThawStateThawing
	expiresAt = expiresAt.UTC()
	r.ExpiresAt = &expiresAt
	return true
}

// MarkThawed records a completed restore and re-mount.
func (r *Repository) MarkThawed(now time.Time) bool {
	if r.ThawState != ThawStateThawing && r.ThawState != ThawStateFrozen {
		return false
	}
	r.ThawState = ThawStateThawed
	now = now.UTC()
	r.ThawedAt = &now
	r.IsMounted = true
	return true
}

// MarkExpired records that the restore window of a thawed repository has ended.
// Repositories that are already expired or were never thawed are left alone.
func (r *Repository) MarkExpired() bool {
	switch r.ThawState {
	case ThawStateThawed, ThawStateThawing:
		r.ThawState = ThawStateExpired
		return true
	default:
		return false
	}
}

// Reset completes the cycle, returning an expired repository to frozen and
// clearing the thaw bookkeeping.
func (r *Repository) Reset() bool {
	if r.ThawState != ThawStateExpired {
		return false
	}
	r.ThawState = ThawStateFrozen
	r.ThawedAt = nil
	r.ExpiresAt = nil
	r.IsMounted = false
	return true
}
