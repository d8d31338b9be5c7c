// Package retryer runs operations repeatedly until they succeed or fail with
// an error that is not retryable.
package retryer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/trainerr"
)

// DefRetryTimeout is the maximum duration an operation is retried when the
// passed context has no deadline.
const DefRetryTimeout = 20 * time.Minute

const defBackoffInitialInterval = 5 * time.Second

// ErrStopped is returned by Run when the Retryer was stopped before the
// operation succeeded.
var ErrStopped = errors.New("retryer stopped")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

func New() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		shutdownChan:               make(chan struct{}),
		defTimeout:                 DefRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

func logFieldActionResult(val string) zap.Field {
	return zap.String("action_result", val)
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that
// does not wrap trainerr.RetryableError, the Retryer was stopped or the
// execution was aborted via the context.
// If ctx has no deadline, fn is retried for at most DefRetryTimeout.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint
	var lastErr error

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, r.defTimeout)
		defer cancelFn()
	}

	bo := r.newBackoff()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	for {
		logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

		select {
		case <-ctx.Done():
			logger.Info(
				"action execution cancelled",
				logfields.Event("action_execution_cancelled"),
				logFieldActionResult("cancelled"),
				zap.NamedError("last_error", lastErr),
			)

			if lastErr != nil {
				return fmt.Errorf("%w, last error: %s", ctx.Err(), lastErr)
			}

			return ctx.Err()

		case <-r.shutdownChan:
			logger.Info(
				"retryer terminating, action not executed",
				logfields.Event("action_execution_cancelled_retryer_stopped"),
				logFieldActionResult("cancelled"),
			)

			return ErrStopped

		case <-retryTimer.C:
			tryCnt++
			logger = logger.With(zap.Uint("try_count", tryCnt))

			err := fn(ctx)
			if err == nil {
				logger.Debug(
					"action executed successfully",
					logfields.Event("action_executed_successfully"),
					logFieldActionResult("success"),
				)

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info(
					"action cancelled",
					logfields.Event("action_cancelled"),
					logFieldActionResult("cancelled"),
				)

				return err
			}

			var retryError *trainerr.RetryableError
			if !errors.As(err, &retryError) {
				logger.Info(
					"action failed, not retryable",
					logfields.Event("action_failed"),
					logFieldActionResult("failure"),
				)

				return err
			}

			lastErr = err

			if deadline, ok := ctx.Deadline(); ok && retryError.After.After(deadline) {
				logger.Warn(
					"action failed, next possible retry time is after timeout expiration",
					logfields.Event("action_failed"),
					logFieldActionResult("failure"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			var retryIn time.Duration
			if retryError.After.IsZero() || retryError.After.Before(time.Now()) {
				retryIn = bo.NextBackOff()
			} else {
				retryIn = time.Until(retryError.After)
			}

			retryTimer.Reset(retryIn)

			logger.Info(
				"action failed, retry scheduled",
				logfields.Event("action_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
				zap.Duration("age", bo.GetElapsedTime()),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
