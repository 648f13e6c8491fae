// Package lock provides named leases that at most one holder owns at a
// time. A lease expires on its own if the holder disappears.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

var errBusy = errors.New("lock busy")

type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named leases. TryAcquire waits up to wait for the name to
// become free and reports false, without error, when it did not.
type Locker interface {
	TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (Lease, bool, error)
}

// acquire polls try every poll interval until it succeeds or wait elapses.
func acquire(ctx context.Context, wait, poll time.Duration, try func(ctx context.Context) (bool, error)) (bool, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	backoff := retry.WithMaxDuration(wait, retry.NewConstant(poll))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errBusy)
		}
		return nil
	})
	if errors.Is(err, errBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
