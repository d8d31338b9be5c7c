// Package mergereq models the lifecycle of a merge request.
// All operations are pure, they return a modified copy and never change the
// receiver.
package mergereq

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/logfields"
)

// Fingerprint identifies the exact commit of a merge request that is
// built or merged.
type Fingerprint struct {
	ID  int
	SHA string
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("#%d@%s", f.ID, f.SHA)
}

// MergeRequest is a proposed change that is reviewed, built and merged.
type MergeRequest struct {
	ID     int
	SHA    string
	Title  string
	Author string
	State  State

	// ApprovedBy is the login of the reviewer that approved the current
	// SHA, it is empty when the request is not approved.
	ApprovedBy string
	Priority   int

	CreatedAt  time.Time
	ApprovedAt time.Time
	// FinishedAt is the time when the last terminal state was entered.
	FinishedAt time.Time
}

// New returns a merge request in pending state.
func New(id int, sha string, createdAt time.Time) (MergeRequest, error) {
	if id <= 0 {
		return MergeRequest{}, fmt.Errorf("id is %d, must be >0", id)
	}

	if sha == "" {
		return MergeRequest{}, errors.New("sha is empty")
	}

	return MergeRequest{
		ID:        id,
		SHA:       sha,
		State:     StatePending,
		CreatedAt: createdAt,
	}, nil
}

func (m MergeRequest) Fingerprint() Fingerprint {
	return Fingerprint{ID: m.ID, SHA: m.SHA}
}

func (m MergeRequest) LogFields() []zap.Field {
	return []zap.Field{
		logfields.MergeRequest(m.ID),
		logfields.Commit(m.SHA),
		logfields.State(m.State.String()),
	}
}

func (m MergeRequest) apply(trigger Trigger) (MergeRequest, error) {
	newState, err := Transition(m.State, trigger)
	if err != nil {
		return m, fmt.Errorf("merge request #%d: %w", m.ID, err)
	}

	m.State = newState

	return m, nil
}

func (m MergeRequest) finish(trigger Trigger, at time.Time) (MergeRequest, error) {
	result, err := m.apply(trigger)
	if err != nil {
		return m, err
	}

	result.FinishedAt = at

	return result, nil
}

// Approve marks the request as approved by the reviewer with the given
// priority.
func (m MergeRequest) Approve(by string, prio int, at time.Time) (MergeRequest, error) {
	if by == "" {
		return m, errors.New("approver is empty")
	}

	result, err := m.apply(TriggerApprove)
	if err != nil {
		return m, err
	}

	result.ApprovedBy = by
	result.ApprovedAt = at
	result.Priority = prio
	result.FinishedAt = time.Time{}

	return result, nil
}

// Unapprove withdraws the approval.
func (m MergeRequest) Unapprove() (MergeRequest, error) {
	result, err := m.apply(TriggerUnapprove)
	if err != nil {
		return m, err
	}

	return result.clearApproval(), nil
}

func (m MergeRequest) clearApproval() MergeRequest {
	m.ApprovedBy = ""
	m.ApprovedAt = time.Time{}
	m.Priority = 0

	return m
}

// UpdateSHA sets a new commit, the request is reset to pending and its
// approval is cleared.
func (m MergeRequest) UpdateSHA(sha string) (MergeRequest, error) {
	if sha == "" {
		return m, errors.New("sha is empty")
	}

	result, err := m.apply(TriggerPush)
	if err != nil {
		return m, err
	}

	result.SHA = sha
	result.FinishedAt = time.Time{}

	return result.clearApproval(), nil
}

// Reset returns the request to pending state and clears the approval.
// The SHA is kept.
func (m MergeRequest) Reset() MergeRequest {
	m.State = StatePending
	m.FinishedAt = time.Time{}

	return m.clearApproval()
}

// WithPriority returns a copy with the priority changed.
func (m MergeRequest) WithPriority(prio int) MergeRequest {
	m.Priority = prio
	return m
}

func (m MergeRequest) BuildPassed() (MergeRequest, error) {
	return m.apply(TriggerBuildPassed)
}

func (m MergeRequest) BuildFailed(at time.Time) (MergeRequest, error) {
	return m.finish(TriggerBuildFailed, at)
}

func (m MergeRequest) BuildError(at time.Time) (MergeRequest, error) {
	return m.finish(TriggerBuildError, at)
}

func (m MergeRequest) MergePassed(at time.Time) (MergeRequest, error) {
	return m.finish(TriggerMergePassed, at)
}

func (m MergeRequest) MergeFailed(at time.Time) (MergeRequest, error) {
	return m.finish(TriggerMergeFailed, at)
}

func (m MergeRequest) FfwdFailed(at time.Time) (MergeRequest, error) {
	return m.finish(TriggerFfwdFailed, at)
}
