package services

import (
	"context"
	"errors"
	"time"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

const (
	retryBaseDelay = 20 * time.Millisecond
	retryMaxDelay  = time.Second
)

// Retry runs fn and, while it fails with core.ErrConflict, runs it again up to
// retries more times with exponential backoff. Any other error is returned
// immediately.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, core.ErrConflict) || attempt >= retries {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(retryDelay(attempt)):
		}
	}
}

func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay << uint(attempt)
	if d <= 0 || d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}
