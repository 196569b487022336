package agent

import "strings"

type Mode string

const (
	// ModeAuto runs every tool call without asking.
	ModeAuto Mode = "auto"
	// ModePrompt asks before every call that is not auto-approved.
	ModePrompt Mode = "prompt"
)

// ParseMode accepts "auto" or "prompt".
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModePrompt:
		return m, true
	}
	return "", false
}

// Decision is the operator's answer to a confirmation request.
type Decision int

const (
	Approve Decision = iota
	Decline
	Abort
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Decline:
		return "decline"
	default:
		return "abort"
	}
}

// ParseDecision maps a typed answer to a Decision. y, yes and an empty line
// approve, q aborts, anything else declines.
func ParseDecision(answer string) Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return Approve
	case "q":
		return Abort
	default:
		return Decline
	}
}

// readOnlyTools inspect the filesystem without changing it.
var readOnlyTools = map[string]bool{
	"read_file":      true,
	"list_directory": true,
	"search_files":   true,
}

// Gate decides which tool calls run without asking the operator.
type Gate struct {
	mode             Mode
	autoApproveReads bool
}

func NewGate(mode Mode, autoApproveReads bool) *Gate {
	return &Gate{mode: mode, autoApproveReads: autoApproveReads}
}

func (g *Gate) Mode() Mode { return g.mode }

// ShouldAutoApprove reports whether the named tool may run without an
// interactive confirmation.
func (g *Gate) ShouldAutoApprove(name string) bool {
	if g.mode == ModeAuto {
		return true
	}
	return g.autoApproveReads && readOnlyTools[name]
}
