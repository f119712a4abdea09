package provision

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const retryAttempts = 3

// retryBackoff is a variable so tests can shrink it.
var retryBackoff = 2 * time.Second

// retry runs fn up to retryAttempts times with linear backoff. Only
// read-style operations go through here; qm mutations are never retried
// because they are not idempotent. permanent, when non-nil, marks
// errors that must not be retried (e.g. a name collision).
func retry(ctx context.Context, log *zap.Logger, label string, fn func() error, permanent func(error) bool) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < retryAttempts {
			log.Warn("step failed, retrying",
				zap.String("step", label),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}
