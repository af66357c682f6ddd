package kvfs

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// MaxCASRetries bounds the number of root-CAS retry attempts an engine will
// make before giving up and surfacing kvfs.ErrConflict to the caller. Spec
// §5 leaves this unbounded ("no bound on retries is specified... an
// implementation MAY add a retry cap"); kvfs adds one to avoid livelock.
const MaxCASRetries = 20

// RetryOnConflict runs task with Fibonacci backoff, retrying only when task
// returns an error matching kvfs.ErrConflict. Any other error — including
// CodeBadState or CodeInconsistentVersions — aborts immediately, per the
// "conflict detection gap" fix called out in spec §9.
func RetryOnConflict(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(uint64(MaxCASRetries), retry.NewFibonacci(1*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := task(ctx)
		if err == nil {
			return nil
		}
		if ErrIsConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ErrIsConflict(err) {
		log.Warn("root CAS retries exhausted", "retries", MaxCASRetries)
	}
	return err
}

// ErrIsConflict reports whether err is (or wraps) a kvfs.ErrConflict.
func ErrIsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
