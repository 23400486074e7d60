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

// ThawRequestStatus is the processing state of a thaw request.
type ThawRequestStatus string

const (
	ThawStatusInProgress ThawRequestStatus = "in_progress"
	ThawStatusCompleted  ThawRequestStatus = "completed"
	ThawStatusFailed     ThawRequestStatus = "failed"
	ThawStatusRefrozen   ThawRequestStatus = "refrozen"
)

// ThawRequest records a single thaw invocation and the repositories it restores.
// The request id doubles as the document id in the status index.
type ThawRequest struct {
	ID        string
	Status    ThawRequestStatus
	CreatedAt time.Time
	StartDate *time.Time
	EndDate   *time.Time
	Repos     []string
}

type thawRequestDoc struct {
	Doctype   string   `json:"doctype"`
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Repos     []string `json:"repos"`
}

// MarshalJSON serializes the thaw request for the status index.
func (t ThawRequest) MarshalJSON() ([]byte, error) {
	doc := thawRequestDoc{
		Doctype:   DoctypeThawRequest,
		RequestID: t.ID,
		Status:    string(t.Status),
		CreatedAt: chrono.FormatUTC(t.CreatedAt),
		Repos:     t.Repos,
	}
	if t.StartDate != nil {
		doc.StartDate = chrono.FormatUTC(*t.StartDate)
	}
	if t.EndDate != nil {
		doc.EndDate = chrono.FormatUTC(*t.EndDate)
	}
	return json.Marshal(doc)
}

// LoadThawRequest decodes a status index document into a ThawRequest.
func LoadThawRequest(source []byte) (ThawRequest, error) {
	var doc thawRequestDoc
	if err := json.Unmarshal(source, &doc); err != nil {
		return ThawRequest{}, errors.Wrap(err, "decoding thaw request document")
	}
	request := ThawRequest{
		ID:     doc.RequestID,
		Status: ThawRequestStatus(doc.Status),
		Repos:  doc.Repos,
	}
	if doc.CreatedAt != "" {
		createdAt, err := chrono.ParseUTC(doc.CreatedAt)
		if err != nil {
			return ThawRequest{}, errors.Wrapf(err, "thaw request %s: invalid created_at", doc.RequestID)
		}
		request.CreatedAt = createdAt
	}
	var err error
	if request.StartDate, err = parseOptionalTime(doc.StartDate); err != nil {
		return ThawRequest{}, errors.Wrapf(err, "thaw request %s: invalid start_date", doc.RequestID)
	}
	if request.EndDate, err = parseOptionalTime(doc.EndDate); err != nil {
		return ThawRequest{}, errors.Wrapf(err, "thaw request %s: invalid end_date", doc.RequestID)
	}
	return request, nil
}

// RetentionDays returns how long a request in this status is kept, in days. A zero
// return means the status has no retention window and is never reaped by age.
func (r ThawRequestRetention) RetentionDays(status ThawRequestStatus) int {
	switch status {
	case ThawStatusCompleted:
		return r.Completed
	case ThawStatusFailed:
		return r.Failed
	case ThawStatusRefrozen:
		return r.Refrozen
	default:
		return 0
	}
}
