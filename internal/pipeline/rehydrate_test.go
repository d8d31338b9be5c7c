package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/simplesurance/mergetrain/internal/mergereq"
)

func TestRestoreApprovalFromComments(t *testing.T) {
	base := time.Unix(1_600_000_000, 0)
	at := func(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

	restorer := approvalRestorer{
		commands:    NewCommandParser("", "", ""),
		prioritizer: &DefaultPrioritizer{Default: 1},
		authorized:  func(login string) bool { return login != "mallory" },
		botIdentity: botLogin,
	}

	tcs := []struct {
		name       string
		pushedAt   time.Time
		comments   []mergereq.Comment
		approvedBy string
		approvedAt time.Time
		prio       int
	}{
		{
			name:       "approved",
			comments:   []mergereq.Comment{{Author: "alice", Body: "r+ p=4", CreatedAt: at(2)}},
			approvedBy: "alice",
			approvedAt: at(2),
			prio:       4,
		},
		{
			name:       "default_priority",
			comments:   []mergereq.Comment{{Author: "alice", Body: "r+", CreatedAt: at(2)}},
			approvedBy: "alice",
			approvedAt: at(2),
			prio:       1,
		},
		{
			name:     "approval_before_push",
			pushedAt: at(5),
			comments: []mergereq.Comment{{Author: "alice", Body: "r+", CreatedAt: at(2)}},
		},
		{
			name: "withdrawn",
			comments: []mergereq.Comment{
				{Author: "alice", Body: "r+", CreatedAt: at(2)},
				{Author: "bob", Body: "r-", CreatedAt: at(3)},
			},
		},
		{
			name: "approved_again_after_withdrawal",
			comments: []mergereq.Comment{
				{Author: "bob", Body: "r+", CreatedAt: at(4)},
				{Author: "alice", Body: "r+", CreatedAt: at(2)},
				{Author: "alice", Body: "r-", CreatedAt: at(3)},
			},
			approvedBy: "bob",
			approvedAt: at(4),
			prio:       1,
		},
		{
			name: "priority_changed_after_approval",
			comments: []mergereq.Comment{
				{Author: "alice", Body: "r+", CreatedAt: at(2)},
				{Author: "bob", Body: "r+ p=9", CreatedAt: at(3)},
			},
			approvedBy: "alice",
			approvedAt: at(2),
			prio:       9,
		},
		{
			name:     "unauthorized",
			comments: []mergereq.Comment{{Author: "mallory", Body: "r+", CreatedAt: at(2)}},
		},
		{
			name:     "own_comment",
			comments: []mergereq.Comment{{Author: botLogin, Body: "r+", CreatedAt: at(2)}},
		},
		{
			name:     "no_command",
			comments: []mergereq.Comment{{Author: "alice", Body: "looks good", CreatedAt: at(2)}},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			s := mergereq.Snapshot{
				ID:            1,
				SHA:           "aaa",
				CreatedAt:     base,
				HeadUpdatedAt: tc.pushedAt,
				Comments:      tc.comments,
			}

			res := restorer.restore(&s)

			assert.Equal(t, tc.approvedBy, res.ApprovedBy)
			assert.Equal(t, tc.approvedAt, res.ApprovedAt)
			assert.Equal(t, tc.prio, res.Priority)
			assert.Empty(t, s.ApprovedBy, "input snapshot was modified")
		})
	}
}

func TestRestoreApprovalKeepsProviderApproval(t *testing.T) {
	restorer := approvalRestorer{
		commands:    NewCommandParser("", "", ""),
		prioritizer: &DefaultPrioritizer{},
		authorized:  func(string) bool { return true },
	}

	s := mergereq.Snapshot{
		ID:         1,
		SHA:        "aaa",
		ApprovedBy: "carol",
		Priority:   3,
		Comments:   []mergereq.Comment{{Author: "alice", Body: "r-"}},
	}

	res := restorer.restore(&s)
	assert.Equal(t, "carol", res.ApprovedBy)
	assert.Equal(t, 3, res.Priority)
}
