// Package event defines the provider independent events that drive merge
// request pipelines.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/logfields"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

// RepositoryID identifies a repository at the provider.
type RepositoryID struct {
	Owner string
	Name  string
}

func (r RepositoryID) String() string {
	return r.Owner + "/" + r.Name
}

func (r RepositoryID) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(r.Owner),
		logfields.Repository(r.Name),
	}
}

// Event is a normalized event that happened in a repository.
type Event struct {
	// ID is the provider delivery ID, or a generated UUID for events that
	// are created internally.
	ID         string
	Repository RepositoryID
	ReceivedAt time.Time
	Payload    Payload
}

// New creates an event with a generated ID.
func New(repo RepositoryID, payload Payload) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Repository: repo,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("%s %s (id: %s)", e.Repository, e.Payload.Kind(), e.ID)
}

func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, logfields.EventID(e.ID))
	fields = append(fields, e.Repository.LogFields()...)
	fields = append(fields, logfields.EventKind(e.Payload.Kind().String()))

	if id := e.Payload.RequestID(); id != 0 {
		fields = append(fields, logfields.MergeRequest(id))
	}

	return fields
}

// Kind is the type of an event payload.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindRequestOpened
	KindRequestClosed
	KindComment
	KindPush
	KindBuildResult
	KindMergeResult
)

var kindStr = [...]string{
	KindUndefined:     "undefined",
	KindRequestOpened: "request_opened",
	KindRequestClosed: "request_closed",
	KindComment:       "comment",
	KindPush:          "push",
	KindBuildResult:   "build_result",
	KindMergeResult:   "merge_result",
}

func (k Kind) String() string {
	if int(k) > len(kindStr)-1 {
		return fmt.Sprintf("unsupported Kind value: %d", k)
	}

	return kindStr[k]
}

// Payload is the kind specific data of an event.
type Payload interface {
	Kind() Kind
	// RequestID returns the ID of the merge request the event refers to,
	// 0 if it is unknown.
	RequestID() int
}

type RequestOpened struct {
	ID         int
	SHA        string
	Title      string
	Author     string
	BaseBranch string
	CreatedAt  time.Time
}

func (*RequestOpened) Kind() Kind       { return KindRequestOpened }
func (p *RequestOpened) RequestID() int { return p.ID }

type RequestClosed struct {
	ID     int
	Merged bool
}

func (*RequestClosed) Kind() Kind       { return KindRequestClosed }
func (p *RequestClosed) RequestID() int { return p.ID }

type CommentCreated struct {
	Comment mergereq.Comment
}

func (*CommentCreated) Kind() Kind       { return KindComment }
func (p *CommentCreated) RequestID() int { return p.Comment.RequestID }

// Push is sent when new commits were pushed to the source branch of a
// merge request.
type Push struct {
	ID  int
	SHA string
}

func (*Push) Kind() Kind       { return KindPush }
func (p *Push) RequestID() int { return p.ID }

type BuildOutcome uint8

const (
	BuildOutcomeUndefined BuildOutcome = iota
	BuildPassed
	BuildFailed
	BuildError
)

var buildOutcomeStr = [...]string{
	BuildOutcomeUndefined: "undefined",
	BuildPassed:           "passed",
	BuildFailed:           "failed",
	BuildError:            "error",
}

func (o BuildOutcome) String() string {
	if int(o) > len(buildOutcomeStr)-1 {
		return fmt.Sprintf("unsupported BuildOutcome value: %d", o)
	}

	return buildOutcomeStr[o]
}

// BuildResult reports the final outcome of a CI build.
type BuildResult struct {
	// ID is 0 when the CI only reported the commit.
	ID          int
	SHA         string
	Outcome     BuildOutcome
	Description string
}

func (*BuildResult) Kind() Kind       { return KindBuildResult }
func (p *BuildResult) RequestID() int { return p.ID }

type MergeOutcome uint8

const (
	MergeOutcomeUndefined MergeOutcome = iota
	MergePassed
	MergeFailed
	MergeFfwdFailed
)

var mergeOutcomeStr = [...]string{
	MergeOutcomeUndefined: "undefined",
	MergePassed:           "passed",
	MergeFailed:           "failed",
	MergeFfwdFailed:       "ffwd_failed",
}

func (o MergeOutcome) String() string {
	if int(o) > len(mergeOutcomeStr)-1 {
		return fmt.Sprintf("unsupported MergeOutcome value: %d", o)
	}

	return mergeOutcomeStr[o]
}

// MergeResult reports the outcome of merging a merge request into its
// base branch.
type MergeResult struct {
	ID      int
	SHA     string
	Outcome MergeOutcome
	// Err is the error that caused a failed merge, nil otherwise.
	Err error
}

func (*MergeResult) Kind() Kind       { return KindMergeResult }
func (p *MergeResult) RequestID() int { return p.ID }
