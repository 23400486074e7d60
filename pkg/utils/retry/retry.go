// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package retry

import (
	"context"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when the attempt budget is spent before
// the condition is met.
type ErrAttemptsExhausted struct {
	Attempts int
}

func (e *ErrAttemptsExhausted) Error() string {
	return fmt.Sprintf("condition not met after %d attempts", e.Attempts)
}

// UntilSuccess retries the given function f until it reports done, up to
// maxAttempts attempts separated by the given interval.
//
// f returning an error aborts the loop immediately: errors are expected to be
// terminal, a false done with a nil error means "not yet, poll again".
// Context cancellation is honored both between attempts and while waiting.
func UntilSuccess(ctx context.Context, maxAttempts int, interval time.Duration, f func(ctx context.Context) (done bool, err error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		done, err := f(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return &ErrAttemptsExhausted{Attempts: maxAttempts}
}
