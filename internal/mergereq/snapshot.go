package mergereq

import (
	"errors"
	"fmt"
	"time"
)

// Snapshot is the state of an open merge request as reported by the
// provider.
// ApprovedBy is empty when the provider does not know about an approval of
// the current SHA. The approval can then be restored from Comments.
type Snapshot struct {
	ID        int
	SHA       string
	Title     string
	Author    string
	CreatedAt time.Time
	// HeadUpdatedAt is the time SHA became the head of the merge request,
	// zero if unknown.
	HeadUpdatedAt time.Time
	// Comments are the most recent comments of the merge request, ordered
	// by creation time.
	Comments []Comment

	ApprovedBy string
	ApprovedAt time.Time
	Priority   int
}

// FromSnapshot creates a merge request from a provider snapshot.
// Approved snapshots result in an approved merge request.
func FromSnapshot(s *Snapshot) (MergeRequest, error) {
	mr, err := New(s.ID, s.SHA, s.CreatedAt)
	if err != nil {
		return MergeRequest{}, err
	}

	mr.Title = s.Title
	mr.Author = s.Author

	if s.ApprovedBy == "" {
		return mr, nil
	}

	return mr.Approve(s.ApprovedBy, s.Priority, s.ApprovedAt)
}

// Comment is a comment on a merge request.
type Comment struct {
	RequestID int
	Author    string
	Body      string
	CreatedAt time.Time
}

func NewComment(requestID int, author, body string, createdAt time.Time) (*Comment, error) {
	if requestID <= 0 {
		return nil, fmt.Errorf("request id is %d, must be >0", requestID)
	}

	if author == "" {
		return nil, errors.New("author is empty")
	}

	return &Comment{
		RequestID: requestID,
		Author:    author,
		Body:      body,
		CreatedAt: createdAt,
	}, nil
}
