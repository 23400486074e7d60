// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package chrono

import "time"

// ToMillis returns the given time as Unix epoch milliseconds, the format
// Elasticsearch uses for date fields in aggregations and range queries.
func ToMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// FromMillis converts Unix epoch milliseconds back into a UTC time.
func FromMillis(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond)).UTC()
}
