package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/desertthunder/mlsync/internal/shared"
	"github.com/mattn/go-sqlite3"
)

const busyRetries = 5

// isBusy reports whether err is transient lock contention.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func newBusyBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// retryBusy runs op, retrying only on lock contention.
func retryBusy(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !isBusy(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(newBusyBackOff()), backoff.WithMaxTries(busyRetries))

	if isBusy(err) {
		return fmt.Errorf("%w: %w", shared.ErrWriteConflict, err)
	}
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
