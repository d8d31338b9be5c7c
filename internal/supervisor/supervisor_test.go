package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergetrain/internal/distributor"
	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/pipeline"
	"github.com/simplesurance/mergetrain/internal/pipeline/mocks"
	"github.com/simplesurance/mergetrain/internal/retryer"
)

var testRepo = event.RepositoryID{Owner: "simplesurance", Name: "mergetrain"}

const testBranch = "main"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	dist     *distributor.Distributor
	sv       *Supervisor
	provider *mocks.MockProvider
	worker   *mocks.MockWorker
	builds   chan mergereq.Fingerprint
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctrl := gomock.NewController(t)

	r := retryer.New()
	t.Cleanup(r.Stop)

	e := testEnv{
		dist:     distributor.New(100),
		provider: mocks.NewMockProvider(ctrl),
		worker:   mocks.NewMockWorker(ctrl),
		builds:   make(chan mergereq.Fingerprint, 100),
	}

	e.sv = New(e.dist, r)
	e.sv.restartInitialInterval = 10 * time.Millisecond
	t.Cleanup(e.sv.Stop)

	e.provider.EXPECT().Whoami(gomock.Any()).Return("mergetrain-bot", nil).AnyTimes()
	e.provider.EXPECT().PostComment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	e.worker.EXPECT().
		TriggerBuild(gomock.Any(), testRepo, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ event.RepositoryID, fp mergereq.Fingerprint) error {
			e.builds <- fp
			return nil
		}).
		AnyTimes()

	return &e
}

func (e *testEnv) spec() Spec {
	return Spec{
		Config: pipeline.Config{
			Repository: testRepo,
			Branch:     testBranch,
		},
		Provider: e.provider,
		Worker:   e.worker,
	}
}

func requireBuild(t *testing.T, builds <-chan mergereq.Fingerprint, want mergereq.Fingerprint) {
	t.Helper()

	select {
	case got := <-builds:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("build of %s was not triggered", want)
	}
}

func TestEventsAreDispatchedToPipeline(t *testing.T) {
	e := newTestEnv(t)
	e.provider.EXPECT().DownloadOpenRequests(gomock.Any(), testRepo, testBranch).Return(nil, nil).AnyTimes()

	require.NoError(t, e.sv.StartPipeline(e.spec()))

	require.NoError(t, e.dist.Publish(event.New(testRepo, &event.RequestOpened{
		ID: 1, SHA: "aaa", BaseBranch: testBranch,
	})))
	require.NoError(t, e.dist.Publish(event.New(testRepo, &event.CommentCreated{
		Comment: mergereq.Comment{RequestID: 1, Author: "alice", Body: "r+"},
	})))

	requireBuild(t, e.builds, mergereq.Fingerprint{ID: 1, SHA: "aaa"})

	p, exists := e.sv.Pipeline(testRepo)
	require.True(t, exists)
	assert.Equal(t, testBranch, p.Branch())
	assert.Equal(t, []event.RepositoryID{testRepo}, e.sv.Repositories())
}

func TestStartingDuplicatePipelineFails(t *testing.T) {
	e := newTestEnv(t)
	e.provider.EXPECT().DownloadOpenRequests(gomock.Any(), testRepo, testBranch).Return(nil, nil).AnyTimes()

	require.NoError(t, e.sv.StartPipeline(e.spec()))
	assert.ErrorIs(t, e.sv.StartPipeline(e.spec()), ErrAlreadyExists)
}

func TestTerminatedPipelineIsRestartedAndRehydrated(t *testing.T) {
	e := newTestEnv(t)

	gomock.InOrder(
		e.provider.EXPECT().
			DownloadOpenRequests(gomock.Any(), testRepo, testBranch).
			Return(nil, errors.New("bad gateway")).
			Times(2),
		e.provider.EXPECT().
			DownloadOpenRequests(gomock.Any(), testRepo, testBranch).
			Return([]*mergereq.Snapshot{{ID: 7, SHA: "fff", ApprovedBy: "alice"}}, nil).
			AnyTimes(),
	)

	require.NoError(t, e.sv.StartPipeline(e.spec()))

	requireBuild(t, e.builds, mergereq.Fingerprint{ID: 7, SHA: "fff"})
	assert.Equal(t, uint64(2), e.sv.Restarts(testRepo))
}

func TestStopTerminatesPipelines(t *testing.T) {
	e := newTestEnv(t)
	e.provider.EXPECT().DownloadOpenRequests(gomock.Any(), testRepo, testBranch).Return(nil, nil).AnyTimes()

	require.NoError(t, e.sv.StartPipeline(e.spec()))
	p, _ := e.sv.Pipeline(testRepo)

	e.sv.Stop()

	select {
	case <-p.Done():
	default:
		t.Fatal("pipeline still running after Stop returned")
	}

	assert.ErrorIs(t, e.sv.StartPipeline(e.spec()), ErrStopped)
	assert.ErrorIs(t,
		e.dist.Publish(event.New(testRepo, &event.Push{ID: 1, SHA: "aaa"})),
		distributor.ErrUnknownRepository,
	)
}

func TestHTTPHandlerList(t *testing.T) {
	e := newTestEnv(t)
	e.provider.EXPECT().
		DownloadOpenRequests(gomock.Any(), testRepo, testBranch).
		Return([]*mergereq.Snapshot{
			{ID: 1, SHA: "aaa", Title: "first", ApprovedBy: "alice"},
			{ID: 2, SHA: "bbb", Title: "second"},
		}, nil).
		AnyTimes()

	rec := httptest.NewRecorder()
	e.sv.HTTPHandlerList(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "no pipelines running")

	require.NoError(t, e.sv.StartPipeline(e.spec()))
	requireBuild(t, e.builds, mergereq.Fingerprint{ID: 1, SHA: "aaa"})

	rec = httptest.NewRecorder()
	e.sv.HTTPHandlerList(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "Repository: simplesurance/mergetrain, Branch: main")
	assert.Contains(t, body, "In-Flight: #1 aaa, phase: build")
	assert.Contains(t, body, "second")
}
