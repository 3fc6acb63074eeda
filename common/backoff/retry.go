package backoff

import (
	"context"
	"time"
)

// Retriable is a function returning an error which can be retried.
type Retriable func() error

// Retry retries f against the Cassandra session until it succeeds,
// the policy's attempt budget is exhausted, or ctx is done, whichever
// comes first. A table.Table's Put/Get/Delete pass their own
// request ctx through here so a caller that gives up waiting isn't
// kept blocked through a full backoff sleep for a query result nobody
// will read.
func Retry(ctx context.Context, f Retriable, p RetryPolicy) error {
	var err error
	var wait time.Duration

	r := NewRetrier(p)
	for {
		// function executed successfully. no need to retry.
		if err = f(); err == nil {
			return nil
		}

		if wait = r.NextBackOff(); wait == done {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}
