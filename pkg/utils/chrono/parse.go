// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package chrono

import (
	"fmt"
	"time"
)

// acceptedLayouts are tried in order when parsing user or document supplied
// timestamps. Layouts without a zone are interpreted as UTC.
var acceptedLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", true},
}

// ParseUTC parses an ISO-8601 timestamp. Timestamps without an explicit zone
// are assumed to be UTC. The result is always normalized to UTC.
func ParseUTC(s string) (time.Time, error) {
	for _, l := range acceptedLayouts {
		if l.naive {
			if t, err := time.ParseInLocation(l.layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
			continue
		}
		if t, err := time.Parse(l.layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as an ISO-8601 timestamp", s)
}

// FormatUTC renders the given time as ISO-8601 with an explicit UTC offset,
// the canonical serialization for all persisted dates.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
