package pipeline

import (
	"sort"
	"time"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/mergereq"
	"github.com/simplesurance/mergetrain/internal/pqueue"
)

type InFlightStatus struct {
	mergereq.Fingerprint
	// Phase is "build" or "merge".
	Phase string
	Since time.Time
	// Superseded is true when the merge request changed or was closed
	// while it was merged.
	Superseded bool
}

type QueueEntry struct {
	mergereq.Fingerprint
	Priority int
}

// Status is a point in time copy of the state of a pipeline.
type Status struct {
	Repository event.RepositoryID
	Branch     string
	// InFlight is nil when no merge request is built or merged.
	InFlight *InFlightStatus
	// Queue is ordered by the processing order.
	Queue []QueueEntry
	// MergeRequests contains all known merge requests sorted by ID.
	MergeRequests []mergereq.MergeRequest
	CreatedAt     time.Time
}

// MergeRequest returns the merge request with id.
func (s *Status) MergeRequest(id int) (mergereq.MergeRequest, bool) {
	idx := sort.Search(len(s.MergeRequests), func(i int) bool {
		return s.MergeRequests[i].ID >= id
	})
	if idx < len(s.MergeRequests) && s.MergeRequests[idx].ID == id {
		return s.MergeRequests[idx], true
	}

	return mergereq.MergeRequest{}, false
}

// QueuedIDs returns the IDs of the queued merge requests in processing
// order.
func (s *Status) QueuedIDs() []int {
	result := make([]int, 0, len(s.Queue))
	for _, e := range s.Queue {
		result = append(result, e.ID)
	}

	return result
}

func (p *Pipeline) status() *Status {
	st := Status{
		Repository:    p.cfg.Repository,
		Branch:        p.cfg.Branch,
		Queue:         make([]QueueEntry, 0, p.st.queue.Len()),
		MergeRequests: make([]mergereq.MergeRequest, 0, len(p.st.mrs)),
		CreatedAt:     time.Now(),
	}

	if inf := p.st.inflight; inf != nil {
		st.InFlight = &InFlightStatus{
			Fingerprint: inf.fp,
			Phase:       inf.phase.String(),
			Since:       inf.since,
			Superseded:  inf.superseded,
		}
	}

	p.st.queue.Foreach(func(it pqueue.Item[int, mergereq.Fingerprint]) bool {
		st.Queue = append(st.Queue, QueueEntry{Fingerprint: it.Value, Priority: it.Priority})
		return true
	})

	for _, mr := range p.st.mrs {
		st.MergeRequests = append(st.MergeRequests, mr)
	}

	sort.Slice(st.MergeRequests, func(i, j int) bool {
		return st.MergeRequests[i].ID < st.MergeRequests[j].ID
	})

	return &st
}
