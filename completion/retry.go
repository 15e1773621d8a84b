package completion

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sethvargo/go-retry"
)

type RetryConfig struct {
	MaxRetries uint64
	Base       time.Duration
	Cap        time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Base:       500 * time.Millisecond,
		Cap:        10 * time.Second,
	}
}

// Retrying adds bounded exponential backoff in front of another Completer.
type Retrying struct {
	next   Completer
	cfg    RetryConfig
	logger hclog.Logger
}

var _ Completer = (*Retrying)(nil)

func NewRetrying(next Completer, cfg RetryConfig, logger hclog.Logger) *Retrying {
	if cfg.Base <= 0 {
		cfg.Base = DefaultRetryConfig().Base
	}

	if cfg.Cap <= 0 {
		cfg.Cap = DefaultRetryConfig().Cap
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Retrying{next: next, cfg: cfg, logger: logger.Named("retry")}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (*Result, error) {
	backoff := retry.NewExponential(r.cfg.Base)
	backoff = retry.WithCappedDuration(r.cfg.Cap, backoff)
	backoff = retry.WithMaxRetries(r.cfg.MaxRetries, backoff)

	var (
		res     *Result
		attempt int
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		out, err := r.next.Complete(ctx, req)
		if err == nil {
			res = out

			return nil
		}

		if ctx.Err() != nil || !Retryable(err) {
			return err
		}

		r.logger.Warn("completion attempt failed", "request", req.RequestID.Short(), "attempt", attempt, "err", err)

		// server asked for a longer pause than our backoff would take
		var up *UpstreamError
		if errors.As(err, &up) && up.RetryAfter > 0 && uint64(attempt) <= r.cfg.MaxRetries {
			wait := up.RetryAfter
			if wait > r.cfg.Cap {
				wait = r.cfg.Cap
			}

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()

				return ctx.Err()
			case <-t.C:
			}
		}

		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}
