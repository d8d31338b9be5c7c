package pipeline

import (
	"sort"
	"time"

	"github.com/simplesurance/mergetrain/internal/mergereq"
)

// approvalRestorer derives the approval of a merge request from the
// commands in its comments.
type approvalRestorer struct {
	commands    *CommandParser
	prioritizer Prioritizer
	authorized  func(login string) bool
	botIdentity string
}

// restore returns a copy of s with the approval fields set according to
// the last approve or unapprove command of an authorized reviewer that was
// posted after the current commit became the head of the merge request.
// Snapshots that already carry an approval are returned unchanged.
func (r *approvalRestorer) restore(s *mergereq.Snapshot) *mergereq.Snapshot {
	if s.ApprovedBy != "" || len(s.Comments) == 0 {
		return s
	}

	mr, err := mergereq.New(s.ID, s.SHA, s.CreatedAt)
	if err != nil {
		return s
	}

	comments := make([]mergereq.Comment, len(s.Comments))
	copy(comments, s.Comments)
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})

	result := *s

	for _, c := range comments {
		if c.Author == r.botIdentity {
			continue
		}

		if !s.HeadUpdatedAt.IsZero() && c.CreatedAt.Before(s.HeadUpdatedAt) {
			continue
		}

		cmd, ok := r.commands.Parse(c.Body)
		if !ok || !r.authorized(c.Author) {
			continue
		}

		switch cmd.Intent {
		case IntentApprove:
			if result.ApprovedBy != "" && cmd.HasPriority {
				result.Priority = cmd.Priority
				continue
			}

			result.ApprovedBy = c.Author
			result.ApprovedAt = c.CreatedAt
			result.Priority = r.prioritizer.Priority(&mr, cmd)

		case IntentUnapprove:
			result.ApprovedBy = ""
			result.ApprovedAt = time.Time{}
			result.Priority = 0

		case IntentPriority:
			if result.ApprovedBy != "" {
				result.Priority = cmd.Priority
			}
		}
	}

	return &result
}
