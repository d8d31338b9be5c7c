package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergetrain/internal/distributor"
	"github.com/simplesurance/mergetrain/internal/event"
)

const testSecret = "s3cr3t"

var testRepo = event.RepositoryID{Owner: "simplesurance", Name: "mergetrain"}

const repoJSON = `"repository": {"name": "mergetrain", "owner": {"login": "simplesurance"}}`

type publisherMock struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (p *publisherMock) Publish(ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.events = append(p.events, ev)
	return nil
}

func signature(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookReq(t *testing.T, hookType, payload string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/listener/github", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", hookType)
	req.Header.Set("X-GitHub-Delivery", "3355fab0-b22c-11eb-9936-51d9540c0cdc")
	req.Header.Set("X-Hub-Signature-256", signature([]byte(payload)))

	return req
}

func pullRequestJSON(action string, merged bool) string {
	return fmt.Sprintf(`{
		"action": %q,
		"number": 7,
		"pull_request": {
			"number": 7,
			"title": "add feature",
			"merged": %t,
			"created_at": "2024-01-02T03:04:05Z",
			"user": {"login": "alice"},
			"head": {"ref": "feature", "sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06"},
			"base": {"ref": "main", "sha": "0000000000000000000000000000000000000000"}
		},
		%s
	}`, action, merged, repoJSON)
}

func serve(t *testing.T, p *Provider, req *http.Request) int {
	t.Helper()

	respRecorder := httptest.NewRecorder()
	p.HTTPHandler(respRecorder, req)

	return respRecorder.Code
}

func setupProvider(t *testing.T, opts ...Option) (*Provider, *publisherMock) {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	pub := publisherMock{}
	opts = append([]Option{WithPayloadSecret(testSecret)}, opts...)

	return New(&pub, opts...), &pub
}

func TestPullRequestEventNormalization(t *testing.T) {
	type testcase struct {
		action   string
		merged   bool
		expected event.Payload
	}

	testcases := []testcase{
		{
			action: "opened",
			expected: &event.RequestOpened{
				ID:         7,
				SHA:        "8ad9dec4298f6b8f020997373cf4fe22005f2c06",
				Title:      "add feature",
				Author:     "alice",
				BaseBranch: "main",
				CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			action:   "synchronize",
			expected: &event.Push{ID: 7, SHA: "8ad9dec4298f6b8f020997373cf4fe22005f2c06"},
		},
		{
			action:   "closed",
			merged:   true,
			expected: &event.RequestClosed{ID: 7, Merged: true},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.action, func(t *testing.T) {
			p, pub := setupProvider(t)

			code := serve(t, p, newWebhookReq(t, "pull_request", pullRequestJSON(tc.action, tc.merged)))
			require.Equal(t, http.StatusOK, code)

			require.Len(t, pub.events, 1)
			ev := pub.events[0]

			assert.Equal(t, "3355fab0-b22c-11eb-9936-51d9540c0cdc", ev.ID)
			assert.Equal(t, testRepo, ev.Repository)

			if opened, ok := ev.Payload.(*event.RequestOpened); ok {
				opened.CreatedAt = opened.CreatedAt.UTC()
			}
			assert.Equal(t, tc.expected, ev.Payload)
		})
	}
}

func TestUnsupportedPullRequestActionIsIgnored(t *testing.T) {
	p, pub := setupProvider(t)

	code := serve(t, p, newWebhookReq(t, "pull_request", pullRequestJSON("labeled", false)))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, pub.events)
}

func TestIssueCommentOnPullRequest(t *testing.T) {
	p, pub := setupProvider(t)

	payload := fmt.Sprintf(`{
		"action": "created",
		"issue": {"number": 7, "pull_request": {"url": "https://api.github.com/repos/simplesurance/mergetrain/pulls/7"}},
		"comment": {"body": "r+", "user": {"login": "bob"}, "created_at": "2024-01-02T03:04:05Z"},
		%s
	}`, repoJSON)

	code := serve(t, p, newWebhookReq(t, "issue_comment", payload))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pub.events, 1)

	pl, ok := pub.events[0].Payload.(*event.CommentCreated)
	require.True(t, ok, "unexpected payload type: %T", pub.events[0].Payload)
	assert.Equal(t, 7, pl.Comment.RequestID)
	assert.Equal(t, "bob", pl.Comment.Author)
	assert.Equal(t, "r+", pl.Comment.Body)
}

func TestIssueCommentOnIssueIsIgnored(t *testing.T) {
	p, pub := setupProvider(t)

	payload := fmt.Sprintf(`{
		"action": "created",
		"issue": {"number": 8},
		"comment": {"body": "r+", "user": {"login": "bob"}},
		%s
	}`, repoJSON)

	code := serve(t, p, newWebhookReq(t, "issue_comment", payload))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, pub.events)
}

func statusPayload(statusCtx, state string) string {
	return fmt.Sprintf(`{
		"sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06",
		"state": %q,
		"context": %q,
		"description": "build finished",
		%s
	}`, state, statusCtx, repoJSON)
}

func TestStatusEventWithBuildStatusFilter(t *testing.T) {
	filter, err := NewBuildStatusFilter(`.context == "ci/build"`)
	require.NoError(t, err)

	p, pub := setupProvider(t, WithBuildStatusFilter(testRepo, filter))

	code := serve(t, p, newWebhookReq(t, "status", statusPayload("ci/lint", "failure")))
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, pub.events)

	code = serve(t, p, newWebhookReq(t, "status", statusPayload("ci/build", "success")))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pub.events, 1)

	pl, ok := pub.events[0].Payload.(*event.BuildResult)
	require.True(t, ok, "unexpected payload type: %T", pub.events[0].Payload)
	assert.Equal(t, 0, pl.ID)
	assert.Equal(t, "8ad9dec4298f6b8f020997373cf4fe22005f2c06", pl.SHA)
	assert.Equal(t, event.BuildPassed, pl.Outcome)
}

func TestPendingStatusIsIgnored(t *testing.T) {
	p, pub := setupProvider(t)

	code := serve(t, p, newWebhookReq(t, "status", statusPayload("ci/build", "pending")))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, pub.events)
}

func TestCompletedCheckRun(t *testing.T) {
	p, pub := setupProvider(t)

	payload := fmt.Sprintf(`{
		"action": "completed",
		"check_run": {"name": "build", "head_sha": "abc", "status": "completed", "conclusion": "timed_out"},
		%s
	}`, repoJSON)

	code := serve(t, p, newWebhookReq(t, "check_run", payload))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, pub.events, 1)

	pl, ok := pub.events[0].Payload.(*event.BuildResult)
	require.True(t, ok, "unexpected payload type: %T", pub.events[0].Payload)
	assert.Equal(t, "abc", pl.SHA)
	assert.Equal(t, event.BuildFailed, pl.Outcome)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	p, pub := setupProvider(t)

	req := newWebhookReq(t, "pull_request", pullRequestJSON("opened", false))
	req.Header.Set("X-Hub-Signature-256", signature([]byte("other")))

	assert.Equal(t, http.StatusBadRequest, serve(t, p, req))
	assert.Empty(t, pub.events)
}

func TestPublishErrors(t *testing.T) {
	p, pub := setupProvider(t)

	pub.err = fmt.Errorf("%w: %s", distributor.ErrBufferFull, testRepo)
	code := serve(t, p, newWebhookReq(t, "pull_request", pullRequestJSON("opened", false)))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	pub.err = fmt.Errorf("%w: %s", distributor.ErrUnknownRepository, testRepo)
	code = serve(t, p, newWebhookReq(t, "pull_request", pullRequestJSON("opened", false)))
	assert.Equal(t, http.StatusOK, code)
}

func TestBuildStatusFilterErrors(t *testing.T) {
	_, err := NewBuildStatusFilter(`.context ==`)
	require.Error(t, err)

	filter, err := NewBuildStatusFilter(`.context`)
	require.NoError(t, err)

	_, err = filter.Match(context.Background(), []byte(`{"context": "ci/build"}`))
	assert.Error(t, err)

	filter, err = NewBuildStatusFilter(`.[]`)
	require.NoError(t, err)

	_, err = filter.Match(context.Background(), []byte(`[true, false]`))
	assert.Error(t, err)
}
