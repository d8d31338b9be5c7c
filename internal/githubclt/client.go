// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/trainerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

const (
	pageSize           = 100
	commentsPerRequest = 100
)

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a trainerr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// Whoami returns the login of the user the API token belongs to.
func (clt *Client) Whoami(ctx context.Context) (string, error) {
	user, _, err := clt.restClt.Users.Get(ctx, "")
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	if user.GetLogin() == "" {
		return "", errors.New("github returned a user with an empty login")
	}

	return user.GetLogin(), nil
}

// PostComment creates a comment in a pull request.
func (clt *Client) PostComment(ctx context.Context, repo event.RepositoryID, prNumber int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, repo.Owner, repo.Name, prNumber, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// FastForward sets branch to the commit sha.
// If sha is not a descendant of the current branch HEAD,
// trainerr.ErrNotFastForward is returned.
func (clt *Client) FastForward(ctx context.Context, repo event.RepositoryID, branch, sha string) error {
	ref := "refs/heads/" + branch

	_, _, err := clt.restClt.Git.UpdateRef(ctx, repo.Owner, repo.Name, &github.Reference{
		Ref:    &ref,
		Object: &github.GitObject{SHA: &sha},
	}, false)
	if err == nil {
		clt.logger.Debug(
			"branch fast-forwarded",
			logfields.Event("github_branch_fast_forwarded"),
			logfields.RepositoryOwner(repo.Owner),
			logfields.Repository(repo.Name),
			logfields.Branch(branch),
			logfields.Commit(sha),
		)

		return nil
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) &&
		respErr.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(respErr.Message), "not a fast forward") {
		return fmt.Errorf("%w: %s", trainerr.ErrNotFastForward, respErr.Message)
	}

	return clt.wrapRetryableErrors(err)
}

type queryPullRequest struct {
	Number     int
	Title      string
	HeadRefOid string
	CreatedAt  githubv4.DateTime
	Author     struct {
		Login string
	}
	Commits struct {
		Nodes []struct {
			Commit struct {
				PushedDate    *githubv4.DateTime
				CommittedDate githubv4.DateTime
			}
		}
	} `graphql:"commits(last: 1)"`
	Comments struct {
		Nodes []struct {
			Author struct {
				Login string
			}
			Body      string
			CreatedAt githubv4.DateTime
		}
	} `graphql:"comments(last: $commentCount)"`
}

func (pr *queryPullRequest) snapshot() *mergereq.Snapshot {
	s := mergereq.Snapshot{
		ID:        pr.Number,
		SHA:       pr.HeadRefOid,
		Title:     pr.Title,
		Author:    pr.Author.Login,
		CreatedAt: pr.CreatedAt.Time,
	}

	if len(pr.Commits.Nodes) > 0 {
		c := pr.Commits.Nodes[0].Commit
		if c.PushedDate != nil {
			s.HeadUpdatedAt = c.PushedDate.Time
		} else {
			s.HeadUpdatedAt = c.CommittedDate.Time
		}
	}

	s.Comments = make([]mergereq.Comment, 0, len(pr.Comments.Nodes))
	for _, c := range pr.Comments.Nodes {
		s.Comments = append(s.Comments, mergereq.Comment{
			RequestID: pr.Number,
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt.Time,
		})
	}

	return &s
}

// DownloadOpenRequests returns all open pull requests that have branch as
// base branch.
// The snapshots contain the last commentsPerRequest comments of each pull
// request and the push time of its head commit, approvals are not set.
func (clt *Client) DownloadOpenRequests(ctx context.Context, repo event.RepositoryID, branch string) ([]*mergereq.Snapshot, error) {
	type graphQLQueryOpenPRs struct {
		Repository struct {
			PullRequests struct {
				PageInfo struct {
					EndCursor   string
					HasNextPage bool
				}
				Nodes []queryPullRequest
			} `graphql:"pullRequests(states: OPEN, baseRefName: $base, first: $first, after: $after)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	var result []*mergereq.Snapshot

	vars := map[string]any{
		"owner": githubv4.String(repo.Owner),
		"name":  githubv4.String(repo.Name),
		"base":  githubv4.String(branch),
		"first": githubv4.Int(pageSize),
		"after": (*githubv4.String)(nil),

		"commentCount": githubv4.Int(commentsPerRequest),
	}

	for {
		var q graphQLQueryOpenPRs

		err := clt.graphQLClt.Query(ctx, &q, vars)
		if err != nil {
			return nil, clt.wrapGraphQLRetryableErrors(err)
		}

		for _, pr := range q.Repository.PullRequests.Nodes {
			result = append(result, pr.snapshot())
		}

		pageInfo := q.Repository.PullRequests.PageInfo
		if !pageInfo.HasNextPage {
			return result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, errors.New("retrieving all pull requests failed, HasNextPage is true, expected non-empty EndCursor")
		}

		vars["after"] = githubv4.NewString(githubv4.String(pageInfo.EndCursor))
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return trainerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		if v.RetryAfter != nil {
			return trainerr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return trainerr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return trainerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return trainerr.NewRetryableAnytimeError(err)
	}

	return err
}
