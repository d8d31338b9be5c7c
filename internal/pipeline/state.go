package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/pqueue"
)

type phase uint8

const (
	phaseBuild phase = iota + 1
	phaseMerge
)

func (p phase) String() string {
	switch p {
	case phaseBuild:
		return "build"
	case phaseMerge:
		return "merge"
	default:
		return "undefined"
	}
}

// inflight is the merge request that is currently built or merged.
type inflight struct {
	fp    mergereq.Fingerprint
	phase phase
	since time.Time
	// timer fires when the build timeout expires, nil if no timeout is
	// configured or the request is in merge phase.
	timer *time.Timer
	// superseded is set when the merge request was closed or changed
	// while its fast-forward was running. The slot stays occupied until
	// the merge result arrives.
	superseded bool
}

// state is the mutable state of a pipeline, it is only accessed from the
// pipeline event loop.
type state struct {
	mrs      map[int]mergereq.MergeRequest
	queue    *pqueue.Queue[int, mergereq.Fingerprint]
	inflight *inflight
}

func newState() *state {
	return &state{
		mrs:   map[int]mergereq.MergeRequest{},
		queue: pqueue.New[int, mergereq.Fingerprint](),
	}
}

// newStateFromSnapshots creates the pipeline state from the open merge
// requests reported by the provider.
// The result only depends on the content of snapshots, not on their order.
// Snapshots that can not be converted are skipped, the errors are returned.
func newStateFromSnapshots(snapshots []*mergereq.Snapshot) (*state, []error) {
	var errs []error

	st := newState()

	sorted := make([]*mergereq.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID == sorted[j].ID {
			return sorted[i].SHA < sorted[j].SHA
		}

		return sorted[i].ID < sorted[j].ID
	})

	var approved []mergereq.MergeRequest

	for _, s := range sorted {
		if _, exists := st.mrs[s.ID]; exists {
			errs = append(errs, fmt.Errorf("merge request #%d: duplicate snapshot", s.ID))
			continue
		}

		mr, err := mergereq.FromSnapshot(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("merge request #%d: %w", s.ID, err))
			continue
		}

		st.mrs[mr.ID] = mr

		if mr.State == mergereq.StateApproved {
			approved = append(approved, mr)
		}
	}

	sort.Slice(approved, func(i, j int) bool {
		if approved[i].ApprovedAt.Equal(approved[j].ApprovedAt) {
			return approved[i].ID < approved[j].ID
		}

		return approved[i].ApprovedAt.Before(approved[j].ApprovedAt)
	})

	for _, mr := range approved {
		st.queue.Insert(mr.ID, mr.Fingerprint(), mr.Priority)
	}

	return st, errs
}

// isInflight returns true if the merge request id is built or merged.
// A superseded merge attempt does not belong to the merge request anymore.
func (s *state) isInflight(id int) bool {
	return s.inflight != nil && !s.inflight.superseded && s.inflight.fp.ID == id
}

// enqueue adds the approved merge request to the queue.
func (s *state) enqueue(mr *mergereq.MergeRequest) {
	s.queue.Insert(mr.ID, mr.Fingerprint(), mr.Priority)
}

// verify returns an error if the state is inconsistent.
func (s *state) verify() error {
	if s.inflight != nil && s.inflight.superseded && s.inflight.phase != phaseMerge {
		return fmt.Errorf("in-flight merge request %s is superseded in phase %s", s.inflight.fp, s.inflight.phase)
	}

	if s.inflight != nil && !s.inflight.superseded {
		fp := s.inflight.fp

		mr, exists := s.mrs[fp.ID]
		if !exists {
			return fmt.Errorf("in-flight merge request %s does not exist", fp)
		}

		if mr.SHA != fp.SHA {
			return fmt.Errorf("in-flight merge request %s has sha %s", fp, mr.SHA)
		}

		if s.queue.Contains(fp.ID) {
			return fmt.Errorf("in-flight merge request %s is queued", fp)
		}

		switch s.inflight.phase {
		case phaseBuild:
			if mr.State != mergereq.StateApproved {
				return fmt.Errorf("in-flight merge request %s is in build phase and in state %s", fp, mr.State)
			}

		case phaseMerge:
			if mr.State != mergereq.StateBuildPassed {
				return fmt.Errorf("in-flight merge request %s is in merge phase and in state %s", fp, mr.State)
			}

		default:
			return fmt.Errorf("in-flight merge request %s has invalid phase %d", fp, s.inflight.phase)
		}
	}

	var err error
	s.queue.Foreach(func(it pqueue.Item[int, mergereq.Fingerprint]) bool {
		mr, exists := s.mrs[it.Key]
		if !exists {
			err = fmt.Errorf("queued merge request %s does not exist", it.Value)
			return false
		}

		if mr.State != mergereq.StateApproved {
			err = fmt.Errorf("queued merge request %s is in state %s", it.Value, mr.State)
			return false
		}

		if mr.SHA != it.Value.SHA {
			err = fmt.Errorf("queued merge request %s has sha %s", it.Value, mr.SHA)
			return false
		}

		return true
	})
	if err != nil {
		return err
	}

	for id, mr := range s.mrs {
		if mr.State == mergereq.StateApproved && !s.isInflight(id) && !s.queue.Contains(id) {
			return fmt.Errorf("approved merge request #%d is not queued", id)
		}
	}

	return nil
}
