package pipeline

import "github.com/simplesurance/mergetrain/internal/mergereq"

// Prioritizer decides the queue priority of a merge request when it is
// approved.
type Prioritizer interface {
	Priority(mr *mergereq.MergeRequest, cmd *Command) int
}

// DefaultPrioritizer uses the priority passed with the approve command,
// or Default if none was passed.
type DefaultPrioritizer struct {
	Default int
}

func (p *DefaultPrioritizer) Priority(_ *mergereq.MergeRequest, cmd *Command) int {
	if cmd != nil && cmd.HasPriority {
		return cmd.Priority
	}

	return p.Default
}
