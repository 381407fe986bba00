package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrMaxRetries indicates that all attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

type Options struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = def.Multiplier
	}
	return o
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs operation until it succeeds, returns a Permanent error, the context
// is done, or MaxAttempts is reached. Delays grow by Multiplier up to MaxDelay.
func Do(ctx context.Context, opts Options, operation func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	logger := zerolog.Ctx(ctx)
	delay := opts.InitialDelay

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempt, err)
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", opts.MaxAttempts).
			Dur("delay", delay).
			Msg("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}
