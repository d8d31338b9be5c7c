// Package pipeline implements the merge train of a repository.
//
// A Pipeline receives the events of its repository, keeps track of all open
// merge requests and serializes approved merge requests in a priority
// queue. The first merge request in the queue is built and, if the build
// passes, its base branch is fast-forwarded to the built commit. Only one
// merge request is built or merged at a time.
//
// All state is owned by the goroutine executing Run. Calls to the Provider
// and Worker are run asynchronously, their results are fed back into the
// event loop as events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/routines"
)

const loggerName = "pipeline"

// DefInboxSize is the default number of events a pipeline requests from
// its subscription.
const DefInboxSize = 64

const actionPoolSize = 4

var (
	ErrSubscriptionClosed = errors.New("event subscription closed")
	ErrAlreadyStarted     = errors.New("pipeline was already started")
	ErrNotRunning         = errors.New("pipeline is not running")
	ErrCrashed            = errors.New("pipeline crashed")
)

//go:generate mockgen -package mocks -destination mocks/provider.go . Provider
//go:generate mockgen -package mocks -destination mocks/worker.go . Worker

// Provider is the code hosting service the merge requests are managed
// with.
type Provider interface {
	// DownloadOpenRequests returns all open merge requests of repo that
	// target branch.
	DownloadOpenRequests(ctx context.Context, repo event.RepositoryID, branch string) ([]*mergereq.Snapshot, error)
	// Whoami returns the login of the user the provider acts as.
	Whoami(ctx context.Context) (string, error)
	PostComment(ctx context.Context, repo event.RepositoryID, id int, body string) error
	// FastForward updates branch to sha. If it is not a fast-forward
	// operation, trainerr.ErrNotFastForward is returned.
	FastForward(ctx context.Context, repo event.RepositoryID, branch, sha string) error
}

// Worker triggers CI builds.
// The build result is not returned, it is reported later as
// event.BuildResult.
type Worker interface {
	TriggerBuild(ctx context.Context, repo event.RepositoryID, fp mergereq.Fingerprint) error
}

// Subscription delivers the events of the repository on demand.
type Subscription interface {
	C() <-chan *event.Event
	Ask(n int)
}

// Retryer is used to run Provider and Worker operations repeatedly when
// they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

type Config struct {
	Repository event.RepositoryID
	// Branch is the base branch merge requests are merged into.
	Branch string
	// Reviewers are the logins that are allowed to approve merge requests.
	// If it is empty, everybody is allowed to.
	Reviewers []string
	// Commands defaults to a CommandParser with the default tokens and
	// without prefix.
	Commands    *CommandParser
	Prioritizer Prioritizer
	// BuildTimeout is the maximum duration to wait for a build result.
	// When it expires the build is considered as errored.
	// 0 disables the timeout.
	BuildTimeout time.Duration
	// InboxSize is the number of events that are requested initially from
	// the subscription, it must not exceed its capacity.
	InboxSize int
}

type statusQuery struct {
	resp chan *Status
}

// Pipeline is the merge train of a single repository and base branch.
type Pipeline struct {
	cfg       Config
	reviewers map[string]struct{}
	logger    *zap.Logger

	provider Provider
	worker   Worker
	retryer  Retryer
	sub      Subscription

	// results receives events that are generated by asynchronous
	// actions and timers of the pipeline.
	results chan *event.Event
	queries chan *statusQuery
	// terminating is closed when the event loop terminated.
	terminating chan struct{}
	// done is closed when Run returned.
	done    chan struct{}
	started atomic.Bool

	// actionPool runs provider and worker operations.
	actionPool *routines.Pool

	// the following fields are only accessed from the Run go-routine
	st          *state
	botIdentity string
}

func New(cfg Config, provider Provider, worker Worker, retryer Retryer, sub Subscription) *Pipeline {
	if cfg.Commands == nil {
		cfg.Commands = NewCommandParser("", "", "")
	}

	if cfg.Prioritizer == nil {
		cfg.Prioritizer = &DefaultPrioritizer{}
	}

	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefInboxSize
	}

	reviewers := make(map[string]struct{}, len(cfg.Reviewers))
	for _, r := range cfg.Reviewers {
		reviewers[r] = struct{}{}
	}

	return &Pipeline{
		cfg:       cfg,
		reviewers: reviewers,
		logger: zap.L().Named(loggerName).With(
			logfields.RepositoryOwner(cfg.Repository.Owner),
			logfields.Repository(cfg.Repository.Name),
			logfields.Branch(cfg.Branch),
		),
		provider:    provider,
		worker:      worker,
		retryer:     retryer,
		sub:         sub,
		results:     make(chan *event.Event, 16),
		queries:     make(chan *statusQuery),
		terminating: make(chan struct{}),
		done:        make(chan struct{}),
		actionPool:  routines.NewPool(actionPoolSize),
		st:          newState(),
	}
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline %s %s", p.cfg.Repository, p.cfg.Branch)
}

func (p *Pipeline) Repository() event.RepositoryID {
	return p.cfg.Repository
}

func (p *Pipeline) Branch() string {
	return p.cfg.Branch
}

// Run rehydrates the state of the pipeline from the provider and then
// processes events until ctx is cancelled or the subscription is closed.
// All asynchronous operations have terminated when Run returns.
// Run can only be called once, a panic during event processing is
// recovered and returned as ErrCrashed.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer func() {
		cancelFn()
		p.stopInflightTimer()
		close(p.terminating)
		p.actionPool.Wait()

		p.logger.Info(
			"pipeline terminated",
			logfields.Event("pipeline_terminated"),
			zap.Error(err),
		)

		close(p.done)
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(
				"pipeline crashed",
				logfields.Event("pipeline_crashed"),
				zap.Any("panic", r),
				zap.StackSkip("stacktrace", 2),
			)

			err = fmt.Errorf("%w: %v", ErrCrashed, r)
		}
	}()

	if err := p.rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrating state failed: %w", err)
	}

	p.logger.Info(
		"pipeline started",
		logfields.Event("pipeline_started"),
		zap.Int("merge_requests", len(p.st.mrs)),
		zap.Int("queued", p.st.queue.Len()),
	)

	p.sub.Ask(p.cfg.InboxSize)

	if err := p.afterEvent(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, open := <-p.sub.C():
			if !open {
				return ErrSubscriptionClosed
			}

			p.process(ctx, ev)
			p.sub.Ask(1)

			if err := p.afterEvent(ctx); err != nil {
				return err
			}

		case ev := <-p.results:
			p.process(ctx, ev)

			if err := p.afterEvent(ctx); err != nil {
				return err
			}

		case q := <-p.queries:
			q.resp <- p.status()
		}
	}
}

func (p *Pipeline) rehydrate(ctx context.Context) error {
	logF := []zap.Field{
		logfields.RepositoryOwner(p.cfg.Repository.Owner),
		logfields.Repository(p.cfg.Repository.Name),
	}

	err := p.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		p.botIdentity, err = p.provider.Whoami(ctx)
		return err
	}, append(logF, logfields.Event("provider_whoami")))
	if err != nil {
		return fmt.Errorf("retrieving provider identity failed: %w", err)
	}

	var snapshots []*mergereq.Snapshot
	err = p.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		snapshots, err = p.provider.DownloadOpenRequests(ctx, p.cfg.Repository, p.cfg.Branch)
		return err
	}, append(logF, logfields.Event("provider_download_open_requests")))
	if err != nil {
		return fmt.Errorf("downloading open merge requests failed: %w", err)
	}

	restorer := approvalRestorer{
		commands:    p.cfg.Commands,
		prioritizer: p.cfg.Prioritizer,
		authorized:  p.isAuthorized,
		botIdentity: p.botIdentity,
	}
	for i, s := range snapshots {
		snapshots[i] = restorer.restore(s)
	}

	st, errs := newStateFromSnapshots(snapshots)
	for _, err := range errs {
		p.logger.Warn(
			"ignoring invalid merge request snapshot",
			logfields.Event("snapshot_ignored"),
			zap.Error(err),
		)
	}

	p.st = st

	return nil
}

// afterEvent starts the next build if possible and ensures the state is
// consistent.
func (p *Pipeline) afterEvent(ctx context.Context) error {
	p.advance(ctx)

	metrics.QueueSizeSet(p.cfg.Repository, p.cfg.Branch, p.st.queue.Len())

	if err := p.st.verify(); err != nil {
		p.logger.Error(
			"pipeline state is inconsistent",
			logfields.Event("pipeline_state_inconsistent"),
			zap.Error(err),
		)

		return fmt.Errorf("inconsistent state: %w", err)
	}

	return nil
}

// feedback sends an event to the event loop.
// It returns when the event was received or the pipeline terminated.
func (p *Pipeline) feedback(ev *event.Event) {
	select {
	case p.results <- ev:
	case <-p.terminating:
		p.logger.Debug(
			"discarding event, pipeline terminated",
			append(ev.LogFields(), logfields.Event("event_discarded"))...,
		)
	}
}

// Status returns a snapshot of the pipeline state.
// It blocks until the pipeline finished rehydrating its state.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	q := statusQuery{resp: make(chan *Status, 1)}

	select {
	case p.queries <- &q:
	case <-p.terminating:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case st := <-q.resp:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel that is closed when Run returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) isAuthorized(login string) bool {
	if len(p.reviewers) == 0 {
		return true
	}

	_, exists := p.reviewers[login]
	return exists
}
