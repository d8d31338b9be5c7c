package pipeline

import (
	"strconv"
	"strings"
)

// Intent is the action a command comment requests.
type Intent uint8

const (
	IntentUndefined Intent = iota
	IntentApprove
	IntentUnapprove
	IntentPriority
)

func (i Intent) String() string {
	switch i {
	case IntentApprove:
		return "approve"
	case IntentUnapprove:
		return "unapprove"
	case IntentPriority:
		return "priority"
	default:
		return "undefined"
	}
}

// Command is a command that was parsed from a comment.
type Command struct {
	Intent Intent
	// Priority is only valid when HasPriority is true.
	Priority    int
	HasPriority bool
}

const (
	DefApproveToken   = "r+"
	DefUnapproveToken = "r-"
)

// CommandParser recognizes commands in comment bodies.
//
// A command is a line in the comment. If Prefix is set, the line must start
// with it, followed by an approve or unapprove token and/or a priority
// argument ("p=<n>" or "priority=<n>"), e.g. "@mergetrain r+ p=5".
// Without a prefix the line must start with an approve or unapprove token.
type CommandParser struct {
	Prefix         string
	ApproveToken   string
	UnapproveToken string
}

// NewCommandParser returns a parser, empty tokens are set to their
// defaults.
func NewCommandParser(prefix, approveToken, unapproveToken string) *CommandParser {
	if approveToken == "" {
		approveToken = DefApproveToken
	}

	if unapproveToken == "" {
		unapproveToken = DefUnapproveToken
	}

	return &CommandParser{
		Prefix:         prefix,
		ApproveToken:   approveToken,
		UnapproveToken: unapproveToken,
	}
}

// Parse returns the first command found in body.
func (c *CommandParser) Parse(body string) (*Command, bool) {
	for _, line := range strings.Split(body, "\n") {
		if cmd, ok := c.parseLine(line); ok {
			return cmd, true
		}
	}

	return nil, false
}

func (c *CommandParser) parseLine(line string) (*Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}

	if c.Prefix != "" {
		if !strings.EqualFold(fields[0], c.Prefix) {
			return nil, false
		}

		fields = fields[1:]
	} else if fields[0] != c.ApproveToken && fields[0] != c.UnapproveToken {
		return nil, false
	}

	var cmd Command

	for _, f := range fields {
		switch {
		case f == c.ApproveToken:
			if cmd.Intent == IntentUnapprove {
				return nil, false
			}
			cmd.Intent = IntentApprove

		case f == c.UnapproveToken:
			if cmd.Intent == IntentApprove {
				return nil, false
			}
			cmd.Intent = IntentUnapprove

		default:
			prio, ok := parsePriorityArg(f)
			if !ok {
				// unknown words after a command are ignored
				continue
			}

			cmd.Priority = prio
			cmd.HasPriority = true
		}
	}

	if cmd.Intent == IntentUndefined {
		if !cmd.HasPriority {
			return nil, false
		}

		cmd.Intent = IntentPriority
	}

	return &cmd, true
}

func parsePriorityArg(s string) (int, bool) {
	k, v, found := strings.Cut(s, "=")
	if !found {
		return 0, false
	}

	if k != "p" && k != "priority" {
		return 0, false
	}

	prio, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	return prio, true
}
