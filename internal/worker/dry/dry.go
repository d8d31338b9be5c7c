// Package dry provides a worker that simulates a CI server.
// It does not build anything, the configured build outcome is reported for
// every merge request after a delay.
package dry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/maputils"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

const loggerName = "worker.dry"

const DefaultDelay = 5 * time.Second

var ErrStopped = errors.New("worker is stopped")

// Publisher receives the simulated build results.
type Publisher interface {
	Publish(*event.Event) error
}

type Config struct {
	Outcome event.BuildOutcome
	Delay   time.Duration
}

func parseOutcome(s string) (event.BuildOutcome, error) {
	switch strings.ToLower(s) {
	case "", "passed":
		return event.BuildPassed, nil
	case "failed":
		return event.BuildFailed, nil
	case "error":
		return event.BuildError, nil
	default:
		return event.BuildOutcomeUndefined, fmt.Errorf("unsupported outcome %q, expecting passed, failed or error", s)
	}
}

// NewConfigFromMap instantiates a config from a configuration map.
func NewConfigFromMap(m map[string]any) (*Config, error) {
	outcomeStr, err := maputils.StrVal(m, "outcome")
	if err != nil {
		return nil, err
	}

	outcome, err := parseOutcome(outcomeStr)
	if err != nil {
		return nil, err
	}

	delay, err := maputils.DurationVal(m, "delay", DefaultDelay)
	if err != nil {
		return nil, err
	}

	return &Config{Outcome: outcome, Delay: delay}, nil
}

type Worker struct {
	cfg    Config
	pub    Publisher
	logger *zap.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func New(cfg *Config, pub Publisher) *Worker {
	return &Worker{
		cfg:    *cfg,
		pub:    pub,
		logger: zap.L().Named(loggerName),
		timers: map[*time.Timer]struct{}{},
	}
}

// Stop cancels all pending simulated builds and waits until results that
// are currently being published were delivered.
// TriggerBuild returns ErrStopped afterwards.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	for t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.timers = nil
	w.mu.Unlock()

	w.wg.Wait()
}

// TriggerBuild publishes a build result with the configured outcome for fp
// after the configured delay.
func (w *Worker) TriggerBuild(_ context.Context, repo event.RepositoryID, fp mergereq.Fingerprint) error {
	logger := w.logger.With(repo.LogFields()...).With(
		logfields.MergeRequest(fp.ID),
		logfields.Commit(fp.SHA),
		zap.Stringer("build_outcome", w.cfg.Outcome),
		zap.Duration("delay", w.cfg.Delay),
	)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrStopped
	}

	var timer *time.Timer

	w.wg.Add(1)
	timer = time.AfterFunc(w.cfg.Delay, func() {
		defer w.wg.Done()

		w.mu.Lock()
		delete(w.timers, timer)
		stopped := w.stopped
		w.mu.Unlock()

		if stopped {
			return
		}

		logger.Debug("publishing simulated build result", logfields.Event("dry_build_result_publishing"))

		err := w.pub.Publish(event.New(repo, &event.BuildResult{
			ID:          fp.ID,
			SHA:         fp.SHA,
			Outcome:     w.cfg.Outcome,
			Description: "dry-run build",
		}))
		if err != nil {
			logger.Warn(
				"publishing simulated build result failed",
				logfields.Event("dry_build_result_publishing_failed"),
				zap.Error(err),
			)
		}
	})
	w.timers[timer] = struct{}{}

	logger.Info("simulating build", logfields.Event("dry_build_triggered"))

	return nil
}
