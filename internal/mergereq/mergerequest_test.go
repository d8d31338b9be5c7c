package mergereq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(t *testing.T) MergeRequest {
	t.Helper()

	mr, err := New(1, "aaa", time.Unix(1000, 0))
	require.NoError(t, err)
	require.Equal(t, StatePending, mr.State)

	return mr
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(0, "aaa", time.Now())
	assert.Error(t, err)

	_, err = New(1, "", time.Now())
	assert.Error(t, err)
}

func TestApproveRecordsApprover(t *testing.T) {
	mr := newPending(t)
	approvedAt := time.Unix(2000, 0)

	approved, err := mr.Approve("alice", 3, approvedAt)
	require.NoError(t, err)

	assert.Equal(t, StateApproved, approved.State)
	assert.Equal(t, "alice", approved.ApprovedBy)
	assert.Equal(t, 3, approved.Priority)
	assert.Equal(t, approvedAt, approved.ApprovedAt)

	// receiver is unchanged
	assert.Equal(t, StatePending, mr.State)
	assert.Empty(t, mr.ApprovedBy)
}

func TestApproveTwiceFails(t *testing.T) {
	mr := newPending(t)

	approved, err := mr.Approve("alice", 0, time.Now())
	require.NoError(t, err)

	_, err = approved.Approve("bob", 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveWithoutApproverFails(t *testing.T) {
	_, err := newPending(t).Approve("", 0, time.Now())
	assert.Error(t, err)
}

func TestUnapproveClearsApproval(t *testing.T) {
	approved, err := newPending(t).Approve("alice", 2, time.Now())
	require.NoError(t, err)

	mr, err := approved.Unapprove()
	require.NoError(t, err)

	assert.Equal(t, StatePending, mr.State)
	assert.Empty(t, mr.ApprovedBy)
	assert.Zero(t, mr.ApprovedAt)
	assert.Zero(t, mr.Priority)
}

func TestUpdateSHAResetsApproval(t *testing.T) {
	states := map[string]func(MergeRequest) (MergeRequest, error){
		"approved": func(m MergeRequest) (MergeRequest, error) {
			return m, nil
		},
		"build_failed": func(m MergeRequest) (MergeRequest, error) {
			return m.BuildFailed(time.Now())
		},
		"ffwd_failed": func(m MergeRequest) (MergeRequest, error) {
			m, err := m.BuildPassed()
			if err != nil {
				return m, err
			}
			return m.FfwdFailed(time.Now())
		},
	}

	for name, toState := range states {
		t.Run(name, func(t *testing.T) {
			approved, err := newPending(t).Approve("alice", 1, time.Now())
			require.NoError(t, err)

			mr, err := toState(approved)
			require.NoError(t, err)

			mr, err = mr.UpdateSHA("bbb")
			require.NoError(t, err)

			assert.Equal(t, StatePending, mr.State)
			assert.Equal(t, "bbb", mr.SHA)
			assert.Empty(t, mr.ApprovedBy)
			assert.Zero(t, mr.FinishedAt)
			assert.Equal(t, Fingerprint{ID: 1, SHA: "bbb"}, mr.Fingerprint())
		})
	}
}

func TestUpdateSHAAfterMergeFails(t *testing.T) {
	mr, err := newPending(t).Approve("alice", 0, time.Now())
	require.NoError(t, err)
	mr, err = mr.BuildPassed()
	require.NoError(t, err)
	mr, err = mr.MergePassed(time.Now())
	require.NoError(t, err)

	_, err = mr.UpdateSHA("bbb")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBuildAndMergeLifecycle(t *testing.T) {
	finished := time.Unix(5000, 0)

	mr, err := newPending(t).Approve("alice", 0, time.Now())
	require.NoError(t, err)

	_, err = mr.MergePassed(finished)
	require.ErrorIs(t, err, ErrInvalidTransition)

	mr, err = mr.BuildPassed()
	require.NoError(t, err)
	assert.Equal(t, StateBuildPassed, mr.State)
	assert.Zero(t, mr.FinishedAt)

	mr, err = mr.MergePassed(finished)
	require.NoError(t, err)
	assert.Equal(t, StateMergePassed, mr.State)
	assert.Equal(t, finished, mr.FinishedAt)
}

func TestReapproveAfterBuildFailure(t *testing.T) {
	mr, err := newPending(t).Approve("alice", 0, time.Now())
	require.NoError(t, err)

	mr, err = mr.BuildError(time.Now())
	require.NoError(t, err)

	mr, err = mr.Approve("bob", 4, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StateApproved, mr.State)
	assert.Equal(t, "bob", mr.ApprovedBy)
	assert.Zero(t, mr.FinishedAt)
}

func TestReset(t *testing.T) {
	mr, err := newPending(t).Approve("alice", 3, time.Now())
	require.NoError(t, err)

	mr = mr.Reset()
	assert.Equal(t, StatePending, mr.State)
	assert.Equal(t, "aaa", mr.SHA)
	assert.Empty(t, mr.ApprovedBy)
	assert.Zero(t, mr.Priority)
}

func TestFromSnapshot(t *testing.T) {
	mr, err := FromSnapshot(&Snapshot{ID: 3, SHA: "ccc", Title: "t", Author: "carol"})
	require.NoError(t, err)
	assert.Equal(t, StatePending, mr.State)
	assert.Equal(t, "carol", mr.Author)

	approvedAt := time.Unix(100, 0)
	mr, err = FromSnapshot(&Snapshot{ID: 3, SHA: "ccc", ApprovedBy: "alice", ApprovedAt: approvedAt, Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, StateApproved, mr.State)
	assert.Equal(t, approvedAt, mr.ApprovedAt)
	assert.Equal(t, 2, mr.Priority)

	_, err = FromSnapshot(&Snapshot{ID: 3})
	assert.Error(t, err)
}

func TestNewComment(t *testing.T) {
	c, err := NewComment(1, "alice", "r+", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "r+", c.Body)

	_, err = NewComment(0, "alice", "r+", time.Now())
	assert.Error(t, err)

	_, err = NewComment(1, "", "r+", time.Now())
	assert.Error(t, err)
}
