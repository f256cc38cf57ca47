package relay

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryPolicy bounds a supervised task's retry attempts: connect, log, sleep, retry, with
// configurable bounds instead of a hardcoded sleep.
type RetryPolicy struct {
	MaxRetries         int           // [1, 20)
	WaitBetweenFailure time.Duration // (0, 10s)
}

// DefaultRetryPolicy is used at the Supervisor's boot call site; the wrapper itself does not
// hardcode a default.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, WaitBetweenFailure: 2 * time.Second}

// Retry runs task repeatedly until it returns nil, ctx is canceled, or MaxRetries consecutive
// failures have been observed. Cancellation is not treated as a failure: Retry returns nil
// immediately, without consuming a retry attempt or logging at warn level.
func (p RetryPolicy) Retry(ctx context.Context, taskName string, task func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := task(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		log.WithFields(log.Fields{"task": taskName, "attempt": attempt, "err": err}).Warn("relay: supervised task failed")
		if attempt >= p.MaxRetries {
			log.WithField("task", taskName).Infof("tried %d times and gave up", attempt)
			return fmt.Errorf("%s: gave up after %d attempts: %w", taskName, attempt, err)
		}
		select {
		case <-time.After(p.WaitBetweenFailure):
		case <-ctx.Done():
			return nil
		}
	}
}
