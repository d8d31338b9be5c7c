// Package supervisor runs the pipelines of all configured repositories and
// restarts them when they terminate unexpectedly.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/distributor"
	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/pipeline"
)

const loggerName = "supervisor"

const (
	defRestartInitialInterval = time.Second
	defRestartMaxInterval     = 5 * time.Minute
	// defStableRunDuration is the duration after that a pipeline run is
	// considered as stable and the restart backoff is reset.
	defStableRunDuration = 10 * time.Minute
)

var (
	ErrAlreadyExists = errors.New("pipeline for repository already exists")
	ErrStopped       = errors.New("supervisor is stopped")
)

// Spec describes a pipeline that is run by the supervisor.
type Spec struct {
	Config   pipeline.Config
	Provider pipeline.Provider
	Worker   pipeline.Worker
}

type supervised struct {
	spec Spec
	sub  *distributor.Subscription

	mu      sync.Mutex
	current *pipeline.Pipeline
	lastErr error

	restarts atomic.Uint64
}

func (s *supervised) setCurrent(p *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = p
}

func (s *supervised) getCurrent() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

func (s *supervised) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
}

func (s *supervised) getLastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

// Supervisor owns the pipelines.
// Each pipeline is subscribed at the distributor for the events of its
// repository. When a pipeline terminates while the supervisor is running a
// new pipeline instance is started on the same subscription. It rehydrates
// its state from the provider.
type Supervisor struct {
	logger  *zap.Logger
	dist    *distributor.Distributor
	retryer pipeline.Retryer

	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	mu        sync.Mutex
	pipelines map[event.RepositoryID]*supervised
	stopped   bool

	restartInitialInterval time.Duration
	restartMaxInterval     time.Duration
	stableRunDuration      time.Duration
}

func New(dist *distributor.Distributor, retryer pipeline.Retryer) *Supervisor {
	ctx, cancelFn := context.WithCancel(context.Background())

	return &Supervisor{
		logger:                 zap.L().Named(loggerName),
		dist:                   dist,
		retryer:                retryer,
		ctx:                    ctx,
		cancelFn:               cancelFn,
		pipelines:              map[event.RepositoryID]*supervised{},
		restartInitialInterval: defRestartInitialInterval,
		restartMaxInterval:     defRestartMaxInterval,
		stableRunDuration:      defStableRunDuration,
	}
}

// StartPipeline subscribes the repository of spec at the distributor and
// runs a pipeline for it.
func (s *Supervisor) StartPipeline(spec Spec) error {
	repo := spec.Config.Repository

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if _, exists := s.pipelines[repo]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, repo)
	}

	inboxSize := spec.Config.InboxSize
	if inboxSize <= 0 {
		inboxSize = pipeline.DefInboxSize
		spec.Config.InboxSize = inboxSize
	}

	sp := supervised{
		spec: spec,
		sub:  s.dist.Subscribe(repo, inboxSize),
	}
	sp.setCurrent(s.newPipeline(&sp))

	s.pipelines[repo] = &sp

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(&sp)
	}()

	s.logger.Info(
		"pipeline started",
		logfields.Event("pipeline_started"),
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
		logfields.Branch(spec.Config.Branch),
	)

	return nil
}

func (s *Supervisor) newPipeline(sp *supervised) *pipeline.Pipeline {
	return pipeline.New(sp.spec.Config, sp.spec.Provider, sp.spec.Worker, s.retryer, sp.sub)
}

func (s *Supervisor) newRestartBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.restartInitialInterval
	bo.MaxInterval = s.restartMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

func (s *Supervisor) supervise(sp *supervised) {
	repo := sp.spec.Config.Repository
	logger := s.logger.With(
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
	)

	bo := s.newRestartBackoff()

	for {
		p := sp.getCurrent()

		startedAt := time.Now()
		err := p.Run(s.ctx)
		sp.setLastErr(err)

		if s.ctx.Err() != nil {
			return
		}

		if errors.Is(err, pipeline.ErrSubscriptionClosed) {
			logger.Info(
				"pipeline terminated, subscription was closed",
				logfields.Event("pipeline_subscription_closed"),
			)
			return
		}

		if time.Since(startedAt) >= s.stableRunDuration {
			bo.Reset()
		}

		restartIn := bo.NextBackOff()
		sp.restarts.Add(1)
		metrics.RestartsInc(repo)

		logger.Warn(
			"pipeline terminated unexpectedly, restart scheduled",
			logfields.Event("pipeline_restart_scheduled"),
			zap.Error(err),
			zap.Duration("restart_in", restartIn),
			zap.Uint64("restarts", sp.restarts.Load()),
		)

		timer := time.NewTimer(restartIn)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		sp.setCurrent(s.newPipeline(sp))
	}
}

// Pipeline returns the currently running pipeline instance of repo.
func (s *Supervisor) Pipeline(repo event.RepositoryID) (*pipeline.Pipeline, bool) {
	s.mu.Lock()
	sp, exists := s.pipelines[repo]
	s.mu.Unlock()

	if !exists {
		return nil, false
	}

	return sp.getCurrent(), true
}

// Restarts returns how often the pipeline of repo was restarted.
func (s *Supervisor) Restarts(repo event.RepositoryID) uint64 {
	s.mu.Lock()
	sp, exists := s.pipelines[repo]
	s.mu.Unlock()

	if !exists {
		return 0
	}

	return sp.restarts.Load()
}

// Repositories returns the repositories with a pipeline, sorted by name.
func (s *Supervisor) Repositories() []event.RepositoryID {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]event.RepositoryID, 0, len(s.pipelines))
	for repo := range s.pipelines {
		result = append(result, repo)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})

	return result
}

// Stop terminates all pipelines and waits until they terminated.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Debug("terminating pipelines", logfields.Event("supervisor_terminating"))

	s.cancelFn()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sp := range s.pipelines {
		s.dist.Unsubscribe(sp.sub)
	}

	s.logger.Debug("pipelines terminated", logfields.Event("supervisor_terminated"))
}
