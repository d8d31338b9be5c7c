package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/trainerr"
)

const commentPrefix = "mergetrain: "

// advance starts building the first merge request in the queue if no other
// merge request is in-flight.
func (p *Pipeline) advance(ctx context.Context) {
	if p.st.inflight != nil {
		return
	}

	item, ok := p.st.queue.Pop()
	if !ok {
		return
	}

	metrics.QueueOpsInc(p.cfg.Repository, p.cfg.Branch, operationLabelDequeueVal)

	fp := item.Value
	inf := inflight{
		fp:    fp,
		phase: phaseBuild,
		since: time.Now(),
	}

	if p.cfg.BuildTimeout > 0 {
		timeout := p.cfg.BuildTimeout
		inf.timer = time.AfterFunc(timeout, func() {
			p.feedback(event.New(p.cfg.Repository, &event.BuildResult{
				ID:          fp.ID,
				SHA:         fp.SHA,
				Outcome:     event.BuildError,
				Description: fmt.Sprintf("no build result received within %s", timeout),
			}))
		})
	}

	p.st.inflight = &inf

	p.logger.Info(
		"triggering build",
		logfields.Event("build_triggering"),
		logfields.MergeRequest(fp.ID),
		logfields.Commit(fp.SHA),
		logfields.Priority(item.Priority),
	)

	p.scheduleBuild(ctx, fp)
	p.postComment(ctx, fp.ID, fmt.Sprintf("building %s", fp.SHA))
}

func (p *Pipeline) scheduleBuild(ctx context.Context, fp mergereq.Fingerprint) {
	logF := []zap.Field{
		logfields.MergeRequest(fp.ID),
		logfields.Commit(fp.SHA),
		logfields.Event("worker_trigger_build"),
	}

	p.actionPool.Queue(func() {
		err := p.retryer.Run(ctx, func(ctx context.Context) error {
			return p.worker.TriggerBuild(ctx, p.cfg.Repository, fp)
		}, logF)
		if err == nil {
			return
		}

		p.logger.Warn(
			"triggering build failed",
			append(logF, logfields.Event("build_trigger_failed"), zap.Error(err))...,
		)

		p.feedback(event.New(p.cfg.Repository, &event.BuildResult{
			ID:          fp.ID,
			SHA:         fp.SHA,
			Outcome:     event.BuildError,
			Description: fmt.Sprintf("triggering build failed: %s", err),
		}))
	})
}

func (p *Pipeline) scheduleMerge(ctx context.Context, fp mergereq.Fingerprint) {
	logF := []zap.Field{
		logfields.MergeRequest(fp.ID),
		logfields.Commit(fp.SHA),
		logfields.Branch(p.cfg.Branch),
		logfields.Event("provider_fast_forward"),
	}

	p.actionPool.Queue(func() {
		err := p.retryer.Run(ctx, func(ctx context.Context) error {
			return p.provider.FastForward(ctx, p.cfg.Repository, p.cfg.Branch, fp.SHA)
		}, logF)

		res := event.MergeResult{ID: fp.ID, SHA: fp.SHA, Err: err}

		switch {
		case err == nil:
			res.Outcome = event.MergePassed
		case errors.Is(err, trainerr.ErrNotFastForward):
			res.Outcome = event.MergeFfwdFailed
		default:
			res.Outcome = event.MergeFailed
		}

		p.feedback(event.New(p.cfg.Repository, &res))
	})
}

func (p *Pipeline) postComment(ctx context.Context, id int, body string) {
	logF := []zap.Field{
		logfields.MergeRequest(id),
		logfields.Event("provider_post_comment"),
	}

	p.actionPool.Queue(func() {
		err := p.retryer.Run(ctx, func(ctx context.Context) error {
			return p.provider.PostComment(ctx, p.cfg.Repository, id, commentPrefix+body)
		}, logF)
		if err != nil {
			p.logger.Warn(
				"posting comment failed",
				append(logF, logfields.Event("posting_comment_failed"), zap.Error(err))...,
			)
		}
	})
}

// supersede detaches the in-flight slot from its merge request.
// A build is abandoned and the slot released. A running fast-forward can not
// be aborted, the slot stays occupied until its result arrives.
func (p *Pipeline) supersede(logger *zap.Logger, reason string) {
	inf := p.st.inflight
	if inf == nil {
		return
	}

	if inf.phase != phaseMerge {
		p.release(logger, reason)
		return
	}

	inf.superseded = true

	logger.Info(
		"in-flight merge superseded, waiting for fast-forward result",
		logfields.Event("inflight_superseded"),
		logfields.MergeRequest(inf.fp.ID),
		logfields.Commit(inf.fp.SHA),
		zap.String("reason", reason),
	)
}

// release frees the in-flight slot, results for it are ignored afterwards.
func (p *Pipeline) release(logger *zap.Logger, reason string) {
	inf := p.st.inflight
	if inf == nil {
		return
	}

	p.stopInflightTimer()
	p.st.inflight = nil

	logger.Debug(
		"in-flight slot released",
		logfields.Event("inflight_released"),
		logfields.MergeRequest(inf.fp.ID),
		logfields.Commit(inf.fp.SHA),
		zap.String("reason", reason),
		zap.Duration("inflight_duration", time.Since(inf.since)),
	)
}

func (p *Pipeline) stopInflightTimer() {
	if p.st.inflight != nil && p.st.inflight.timer != nil {
		p.st.inflight.timer.Stop()
		p.st.inflight.timer = nil
	}
}
