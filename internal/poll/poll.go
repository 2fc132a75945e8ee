// Package poll runs a check repeatedly until it reports a terminal state.
package poll

import (
	"context"
	"errors"
	"time"
)

var ErrExhausted = errors.New("poll: attempts exhausted")

// Options bound a polling loop. Zero MaxAttempts and zero Deadline mean unbounded.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Time
}

// Until calls check immediately and then every Interval until it returns done, returns an
// error, ctx is cancelled, the deadline passes, or MaxAttempts checks have run.
func Until(ctx context.Context, opts Options, check func(ctx context.Context) (bool, error)) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return ErrExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
