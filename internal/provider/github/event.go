package github

import (
	"strings"

	"github.com/google/go-github/v43/github"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

func repositoryID(repo *github.Repository) event.RepositoryID {
	return event.RepositoryID{
		Owner: repo.GetOwner().GetLogin(),
		Name:  repo.GetName(),
	}
}

// toPayload converts a parsed github webhook event to an event payload.
// When the webhook event is not relevant for merge requests, nil is
// returned.
// isBuildResult is true if the payload was created from a commit status or
// check run event.
func toPayload(ghEvent any) (repo event.RepositoryID, payload event.Payload, isBuildResult bool) {
	switch ev := ghEvent.(type) {
	case *github.PullRequestEvent:
		return repositoryID(ev.GetRepo()), pullRequestPayload(ev), false

	case *github.IssueCommentEvent:
		issue := ev.GetIssue()
		if ev.GetAction() != "created" || issue == nil || !issue.IsPullRequest() {
			return event.RepositoryID{}, nil, false
		}

		return repositoryID(ev.GetRepo()), &event.CommentCreated{
			Comment: mergereq.Comment{
				RequestID: issue.GetNumber(),
				Author:    ev.GetComment().GetUser().GetLogin(),
				Body:      ev.GetComment().GetBody(),
				CreatedAt: ev.GetComment().GetCreatedAt(),
			},
		}, false

	case *github.StatusEvent:
		outcome := statusOutcome(ev.GetState())
		if outcome == event.BuildOutcomeUndefined {
			return event.RepositoryID{}, nil, false
		}

		return repositoryID(ev.GetRepo()), &event.BuildResult{
			SHA:         ev.GetSHA(),
			Outcome:     outcome,
			Description: ev.GetContext() + ": " + ev.GetDescription(),
		}, true

	case *github.CheckRunEvent:
		if ev.GetAction() != "completed" {
			return event.RepositoryID{}, nil, false
		}

		cr := ev.GetCheckRun()
		outcome := checkRunOutcome(cr.GetConclusion())
		if outcome == event.BuildOutcomeUndefined {
			return event.RepositoryID{}, nil, false
		}

		return repositoryID(ev.GetRepo()), &event.BuildResult{
			SHA:         cr.GetHeadSHA(),
			Outcome:     outcome,
			Description: cr.GetName() + ": " + cr.GetConclusion(),
		}, true

	default:
		return event.RepositoryID{}, nil, false
	}
}

func pullRequestPayload(ev *github.PullRequestEvent) event.Payload {
	pr := ev.GetPullRequest()
	if pr == nil {
		return nil
	}

	switch ev.GetAction() {
	case "opened", "reopened", "edited":
		return &event.RequestOpened{
			ID:         pr.GetNumber(),
			SHA:        pr.GetHead().GetSHA(),
			Title:      pr.GetTitle(),
			Author:     pr.GetUser().GetLogin(),
			BaseBranch: pr.GetBase().GetRef(),
			CreatedAt:  pr.GetCreatedAt(),
		}

	case "closed":
		return &event.RequestClosed{
			ID:     pr.GetNumber(),
			Merged: pr.GetMerged(),
		}

	case "synchronize":
		return &event.Push{
			ID:  pr.GetNumber(),
			SHA: pr.GetHead().GetSHA(),
		}

	default:
		return nil
	}
}

func statusOutcome(state string) event.BuildOutcome {
	switch strings.ToLower(state) {
	case "success":
		return event.BuildPassed
	case "failure":
		return event.BuildFailed
	case "error":
		return event.BuildError
	default:
		return event.BuildOutcomeUndefined
	}
}

func checkRunOutcome(conclusion string) event.BuildOutcome {
	switch strings.ToLower(conclusion) {
	case "success":
		return event.BuildPassed
	case "failure", "timed_out":
		return event.BuildFailed
	case "cancelled", "action_required", "stale", "startup_failure":
		return event.BuildError
	default:
		return event.BuildOutcomeUndefined
	}
}
