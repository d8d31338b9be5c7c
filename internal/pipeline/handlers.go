package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

var logFieldEventIgnored = logfields.Event("event_ignored")

func (p *Pipeline) process(ctx context.Context, ev *event.Event) {
	logger := p.logger.With(ev.LogFields()...)

	if ev.Repository != p.cfg.Repository {
		logger.Warn("event is for another repository", logFieldEventIgnored)
		return
	}

	logger.Debug("processing event", logfields.Event("event_processing"))

	metrics.ProcessedEventsInc(p.cfg.Repository, ev.Payload.Kind())

	switch pl := ev.Payload.(type) {
	case *event.RequestOpened:
		p.onRequestOpened(ctx, logger, pl)
	case *event.RequestClosed:
		p.onRequestClosed(logger, pl)
	case *event.CommentCreated:
		p.onComment(ctx, logger, &pl.Comment)
	case *event.Push:
		p.onPush(logger, pl.ID, pl.SHA)
	case *event.BuildResult:
		p.onBuildResult(ctx, logger, pl)
	case *event.MergeResult:
		p.onMergeResult(ctx, logger, pl)
	default:
		logger.Warn("event has unsupported payload type", logFieldEventIgnored)
	}
}

func (p *Pipeline) onRequestOpened(ctx context.Context, logger *zap.Logger, ev *event.RequestOpened) {
	mr, exists := p.st.mrs[ev.ID]

	if ev.BaseBranch != p.cfg.Branch {
		if exists {
			p.remove(logger, ev.ID)
			logger.Info(
				"merge request removed, base branch changed",
				logfields.Event("merge_request_base_branch_changed"),
				zap.String("new_base_branch", ev.BaseBranch),
			)
			return
		}

		logger.Debug("merge request is for another base branch", logFieldEventIgnored)
		return
	}

	if exists {
		mr.Title = ev.Title
		p.st.mrs[mr.ID] = mr

		if mr.SHA != ev.SHA {
			p.onPush(logger, ev.ID, ev.SHA)
		}

		return
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	mr, err := mergereq.New(ev.ID, ev.SHA, createdAt)
	if err != nil {
		logger.Warn("ignoring invalid merge request", logFieldEventIgnored, zap.Error(err))
		return
	}

	mr.Title = ev.Title
	mr.Author = ev.Author
	p.st.mrs[mr.ID] = mr

	logger.Info(
		"merge request added",
		append(mr.LogFields(), logfields.Event("merge_request_added"))...,
	)
}

func (p *Pipeline) onRequestClosed(logger *zap.Logger, ev *event.RequestClosed) {
	if _, exists := p.st.mrs[ev.ID]; !exists {
		logger.Debug("merge request is unknown", logFieldEventIgnored)
		return
	}

	p.remove(logger, ev.ID)

	logger.Info(
		"merge request removed, it was closed",
		logfields.Event("merge_request_closed"),
		zap.Bool("merged", ev.Merged),
	)
}

// remove deletes a merge request from the pipeline, if it is in-flight the
// slot is released and its results will be ignored.
func (p *Pipeline) remove(logger *zap.Logger, id int) {
	delete(p.st.mrs, id)

	if p.st.queue.Delete(id) {
		metrics.QueueOpsInc(p.cfg.Repository, p.cfg.Branch, operationLabelDequeueVal)
	}

	if p.st.isInflight(id) {
		p.supersede(logger, "merge request removed")
	}
}

func (p *Pipeline) onPush(logger *zap.Logger, id int, sha string) {
	mr, exists := p.st.mrs[id]
	if !exists {
		logger.Debug("merge request is unknown", logFieldEventIgnored)
		return
	}

	if mr.SHA == sha {
		logger.Debug("merge request already has the commit", logFieldEventIgnored)
		return
	}

	updated, err := mr.UpdateSHA(sha)
	if err != nil {
		logger.Info("ignoring push", logFieldEventIgnored, zap.Error(err))
		return
	}

	p.st.mrs[id] = updated

	if p.st.queue.Delete(id) {
		metrics.QueueOpsInc(p.cfg.Repository, p.cfg.Branch, operationLabelDequeueVal)
	}

	if p.st.isInflight(id) {
		p.supersede(logger, "new commit pushed")
	}

	logger.Info(
		"merge request updated, approval reset",
		append(updated.LogFields(),
			logfields.Event("merge_request_commit_changed"),
			zap.String("previous_commit", mr.SHA),
		)...,
	)
}

func (p *Pipeline) onComment(ctx context.Context, logger *zap.Logger, c *mergereq.Comment) {
	logger = logger.With(logfields.Author(c.Author))

	if c.Author == p.botIdentity {
		logger.Debug("comment is from ourself", logFieldEventIgnored)
		return
	}

	mr, exists := p.st.mrs[c.RequestID]
	if !exists {
		logger.Debug("comment is for unknown merge request", logFieldEventIgnored)
		return
	}

	cmd, ok := p.cfg.Commands.Parse(c.Body)
	if !ok {
		logger.Debug("comment contains no command", logFieldEventIgnored)
		return
	}

	logger = logger.With(zap.Stringer("command", cmd.Intent))

	if !p.isAuthorized(c.Author) {
		logger.Info("command rejected, author is not a reviewer", logfields.Event("command_unauthorized"))
		p.postComment(ctx, mr.ID, fmt.Sprintf("@%s is not allowed to %s merge requests", c.Author, cmd.Intent))
		return
	}

	at := c.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}

	switch cmd.Intent {
	case IntentApprove:
		p.approve(ctx, logger, mr, cmd, c.Author, at)
	case IntentUnapprove:
		p.unapprove(ctx, logger, mr)
	case IntentPriority:
		p.reprioritize(ctx, logger, mr, cmd.Priority)
	}
}

func (p *Pipeline) approve(ctx context.Context, logger *zap.Logger, mr mergereq.MergeRequest, cmd *Command, by string, at time.Time) {
	if mr.State == mergereq.StateApproved && cmd.HasPriority {
		p.reprioritize(ctx, logger, mr, cmd.Priority)
		return
	}

	prio := p.cfg.Prioritizer.Priority(&mr, cmd)

	approved, err := mr.Approve(by, prio, at)
	if err != nil {
		logger.Info("approval rejected", logfields.Event("approval_rejected"), zap.Error(err))
		p.postComment(ctx, mr.ID, fmt.Sprintf("can not approve %s, merge request is in state %s", mr.SHA, mr.State))
		return
	}

	p.st.mrs[mr.ID] = approved
	p.st.enqueue(&approved)
	metrics.QueueOpsInc(p.cfg.Repository, p.cfg.Branch, operationLabelEnqueueVal)

	logger.Info(
		"merge request approved and enqueued",
		append(approved.LogFields(),
			logfields.Event("merge_request_approved"),
			logfields.Priority(prio),
		)...,
	)
}

func (p *Pipeline) unapprove(ctx context.Context, logger *zap.Logger, mr mergereq.MergeRequest) {
	unapproved, err := mr.Unapprove()
	if err != nil {
		logger.Info("unapproval rejected", logfields.Event("unapproval_rejected"), zap.Error(err))
		p.postComment(ctx, mr.ID, fmt.Sprintf("can not withdraw approval, merge request is in state %s", mr.State))
		return
	}

	p.st.mrs[mr.ID] = unapproved

	if p.st.queue.Delete(mr.ID) {
		metrics.QueueOpsInc(p.cfg.Repository, p.cfg.Branch, operationLabelDequeueVal)
	}

	if p.st.isInflight(mr.ID) {
		p.supersede(logger, "approval withdrawn")
	}

	logger.Info(
		"merge request approval withdrawn",
		append(unapproved.LogFields(), logfields.Event("merge_request_unapproved"))...,
	)
}

func (p *Pipeline) reprioritize(ctx context.Context, logger *zap.Logger, mr mergereq.MergeRequest, prio int) {
	if mr.State != mergereq.StateApproved {
		logger.Info("priority change rejected, merge request is not approved", logfields.Event("priority_change_rejected"))
		p.postComment(ctx, mr.ID, fmt.Sprintf("can not change priority, merge request is in state %s", mr.State))
		return
	}

	p.st.mrs[mr.ID] = mr.WithPriority(prio)
	p.st.queue.Move(mr.ID, prio)

	logger.Info(
		"merge request priority changed",
		logfields.Event("merge_request_priority_changed"),
		logfields.Priority(prio),
		zap.Int("previous_priority", mr.Priority),
	)
}

// matchesInflight returns true if id and sha refer to the in-flight merge
// request in phase ph. id 0 matches every merge request.
func (p *Pipeline) matchesInflight(ph phase, id int, sha string) bool {
	inf := p.st.inflight
	if inf == nil || inf.phase != ph {
		return false
	}

	if id != 0 && id != inf.fp.ID {
		return false
	}

	return sha == inf.fp.SHA
}

func (p *Pipeline) onBuildResult(ctx context.Context, logger *zap.Logger, res *event.BuildResult) {
	if !p.matchesInflight(phaseBuild, res.ID, res.SHA) {
		logger.Debug(
			"build result is not for the in-flight merge request",
			logFieldEventIgnored,
			logfields.Commit(res.SHA),
		)
		return
	}

	fp := p.st.inflight.fp
	mr := p.st.mrs[fp.ID]
	logger = logger.With(logfields.MergeRequest(fp.ID), logfields.Commit(fp.SHA))

	metrics.BuildResultInc(p.cfg.Repository, p.cfg.Branch, res.Outcome.String())

	var err error
	var updated mergereq.MergeRequest

	switch res.Outcome {
	case event.BuildPassed:
		updated, err = mr.BuildPassed()
		if err != nil {
			panic(fmt.Sprintf("in-flight merge request can not transition to build passed: %s", err))
		}

		p.st.mrs[fp.ID] = updated
		p.stopInflightTimer()
		p.st.inflight.phase = phaseMerge
		p.st.inflight.since = time.Now()

		logger.Info("build passed, merging", logfields.Event("build_passed"))
		p.scheduleMerge(ctx, fp)

		return

	case event.BuildFailed:
		updated, err = mr.BuildFailed(time.Now())
	case event.BuildError:
		updated, err = mr.BuildError(time.Now())
	default:
		logger.Warn("build result has undefined outcome", logFieldEventIgnored)
		return
	}

	if err != nil {
		panic(fmt.Sprintf("in-flight merge request can not transition to %s: %s", res.Outcome, err))
	}

	p.st.mrs[fp.ID] = updated
	p.release(logger, "build finished")

	logger.Info(
		"build was not successful",
		logfields.Event("build_unsuccessful"),
		zap.Stringer("outcome", res.Outcome),
		zap.String("description", res.Description),
	)

	msg := fmt.Sprintf("build of %s %s", fp.SHA, buildOutcomeMsg(res.Outcome))
	if res.Description != "" {
		msg += ": " + res.Description
	}

	p.postComment(ctx, fp.ID, msg)
}

func buildOutcomeMsg(o event.BuildOutcome) string {
	if o == event.BuildFailed {
		return "failed"
	}

	return "errored"
}

func (p *Pipeline) onMergeResult(ctx context.Context, logger *zap.Logger, res *event.MergeResult) {
	if !p.matchesInflight(phaseMerge, res.ID, res.SHA) {
		logger.Debug("merge result is not for the in-flight merge request", logFieldEventIgnored)
		return
	}

	fp := p.st.inflight.fp
	logger = logger.With(logfields.MergeRequest(fp.ID), logfields.Commit(fp.SHA))

	metrics.MergeResultInc(p.cfg.Repository, p.cfg.Branch, res.Outcome.String())

	if p.st.inflight.superseded {
		p.onSupersededMergeResult(ctx, logger, res)
		return
	}

	mr := p.st.mrs[fp.ID]

	var err error
	var updated mergereq.MergeRequest

	switch res.Outcome {
	case event.MergePassed:
		_, err = mr.MergePassed(time.Now())
		if err != nil {
			panic(fmt.Sprintf("in-flight merge request can not transition to merge passed: %s", err))
		}

		p.remove(logger, fp.ID)
		logger.Info("merge request merged", logfields.Event("merge_request_merged"))

		return

	case event.MergeFfwdFailed:
		updated, err = mr.FfwdFailed(time.Now())
	case event.MergeFailed:
		updated, err = mr.MergeFailed(time.Now())
	default:
		logger.Warn("merge result has undefined outcome", logFieldEventIgnored)
		return
	}

	if err != nil {
		panic(fmt.Sprintf("in-flight merge request can not transition to %s: %s", res.Outcome, err))
	}

	p.st.mrs[fp.ID] = updated
	p.release(logger, "merge failed")

	logger.Info(
		"merging failed",
		logfields.Event("merge_failed"),
		zap.Stringer("outcome", res.Outcome),
		zap.NamedError("merge_error", res.Err),
	)

	if res.Outcome == event.MergeFfwdFailed {
		p.postComment(ctx, fp.ID, fmt.Sprintf(
			"%s can not be fast-forwarded to %s, rebase the merge request and approve it again",
			p.cfg.Branch, fp.SHA,
		))
		return
	}

	p.postComment(ctx, fp.ID, fmt.Sprintf("merging %s into %s failed: %s", fp.SHA, p.cfg.Branch, res.Err))
}

// onSupersededMergeResult frees the slot of a merge attempt whose merge
// request was changed or closed in the meantime. The merge request itself
// is not modified.
func (p *Pipeline) onSupersededMergeResult(ctx context.Context, logger *zap.Logger, res *event.MergeResult) {
	fp := p.st.inflight.fp
	p.release(logger, "superseded merge finished")

	if res.Outcome != event.MergePassed {
		logger.Info(
			"superseded merge attempt failed",
			logfields.Event("superseded_merge_failed"),
			zap.Stringer("outcome", res.Outcome),
			zap.NamedError("merge_error", res.Err),
		)
		return
	}

	logger.Warn(
		"superseded merge attempt succeeded, commit was merged",
		logfields.Event("superseded_merge_passed"),
	)

	p.postComment(ctx, fp.ID, fmt.Sprintf(
		"%s was fast-forwarded to %s before the merge request changed, the commit is part of %s",
		p.cfg.Branch, fp.SHA, p.cfg.Branch,
	))
}
