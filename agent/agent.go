package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/llm"
	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
)

// DefaultMaxIterations bounds the model round-trips for one user request when
// no limit is configured.
const DefaultMaxIterations = 20

// ErrAborted is returned when the operator aborts at a confirmation prompt.
var ErrAborted = errors.Sentinel("aborted by user")

const skippedMessage = "Tool execution was skipped by user. Please continue or try a different approach."

func toolResultMessage(text string) string {
	return fmt.Sprintf("Tool result:\n%s\n\nContinue with the task or call task_complete if done.", text)
}

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseToolVerbosity accepts "none", "info" or "all".
func ParseToolVerbosity(s string) (ToolVerbosity, bool) {
	switch v := ToolVerbosity(strings.ToLower(strings.TrimSpace(s))); v {
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
		return v, true
	}
	return "", false
}

// State is how a user request ended.
type State string

const (
	// StateDone means the model answered without a tool call or called a
	// terminal tool.
	StateDone State = "done"
	// StateIterationCeilingReached means the loop ran out of iterations.
	StateIterationCeilingReached State = "iteration_ceiling_reached"
)

// Outcome summarizes one processed user request.
type Outcome struct {
	State      State
	Iterations int
	// Answer is the plain response when the model made no tool call.
	Answer string
	// Summary is the text of the terminal tool result.
	Summary string
}

// ProcessCallbacks lets the caller present loop events. Every field is
// optional. A nil Confirm declines every call that is not auto-approved.
type ProcessCallbacks struct {
	OnIteration   func(n int)
	OnDelta       func(fragment string)
	OnExplanation func(text string)
	OnToolCall    func(call tools.Call, autoApproved bool)
	Confirm       func(call tools.Call) Decision
	OnToolResult  func(call tools.Call, result tools.Result)
	OnSkipped     func(call tools.Call)
	OnAnswer      func(text string)
	OnComplete    func(summary string)
	OnWarning     func(warning string)
}

type Agent struct {
	Session       *session.Session
	LLMClient     llm.LLMClient
	Registry      *tools.ToolRegistry
	Gate          *Gate
	MaxIterations int
	ContextWindow int
	Verbosity     ToolVerbosity
}

func New(cfg *config.Config, sess *session.Session, registry *tools.ToolRegistry, mode Mode, client llm.LLMClient, verbosity ToolVerbosity) *Agent {
	return &Agent{
		Session:       sess,
		LLMClient:     client,
		Registry:      registry,
		Gate:          NewGate(mode, cfg.AutoApproveReads),
		MaxIterations: cfg.MaxIterations,
		ContextWindow: cfg.ContextWindow,
		Verbosity:     verbosity,
	}
}

// ProcessUserInput drives one user request to completion. The input is
// appended to the transcript, then the model is queried until it answers
// without a tool call, calls a terminal tool, or the iteration ceiling is hit.
//
// A transport failure ends the request with an error and leaves the
// transcript without an assistant Turn for that iteration. An abort at the
// confirmation prompt returns ErrAborted without touching the transcript.
//
// Model queries are not cancelled by ctx; a query that has been sent runs to
// completion, but nothing in its reply is executed once ctx is done. ctx is
// passed to tools so an interrupt stops a running command.
func (a *Agent) ProcessUserInput(ctx context.Context, input string, cb ProcessCallbacks) (*Outcome, error) {
	a.Session.Append(session.RoleUser, input)

	limit := a.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	for i := 1; i <= limit; i++ {
		if cb.OnIteration != nil {
			cb.OnIteration(i)
		}

		response, err := llm.Collect(context.WithoutCancel(ctx), a.LLMClient, llm.Request{
			Model:         a.Session.Model(),
			Turns:         a.Session.Turns(),
			ContextWindow: a.ContextWindow,
		}, cb.OnDelta)
		if err != nil {
			return nil, errors.Wrapf(err, "model query failed")
		}
		// An interrupt that arrived while the reply streamed stops the request
		// before any call in it is acted on.
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "request interrupted")
		}

		ex := ExtractToolCall(response)
		slog.Debug("model responded", "iteration", i, "bytes", len(response), "tier", ex.Tier.String())

		if !ex.Found {
			a.Session.Append(session.RoleAssistant, response)
			if cb.OnAnswer != nil {
				cb.OnAnswer(ex.Explanation)
			}
			return &Outcome{State: StateDone, Iterations: i, Answer: ex.Explanation}, nil
		}

		if ex.Explanation != "" && cb.OnExplanation != nil {
			cb.OnExplanation(ex.Explanation)
		}

		decision := a.decide(ex.Call, cb)
		slog.Debug("tool call", "tool", ex.Call.Name, "decision", decision.String())
		switch decision {
		case Abort:
			return nil, ErrAborted
		case Decline:
			a.Session.Append(session.RoleAssistant, response)
			a.Session.Append(session.RoleUser, skippedMessage)
			if cb.OnSkipped != nil {
				cb.OnSkipped(ex.Call)
			}
			continue
		}

		result, err := a.Registry.Dispatch(ctx, tools.Env{WorkDir: a.Session.WorkDir()}, ex.Call)
		if err != nil {
			return nil, err
		}
		if cb.OnToolResult != nil {
			cb.OnToolResult(ex.Call, result)
		}

		a.Session.Append(session.RoleAssistant, response)
		if result.Terminal {
			if cb.OnComplete != nil {
				cb.OnComplete(result.Text)
			}
			return &Outcome{State: StateDone, Iterations: i, Summary: result.Text}, nil
		}
		a.Session.Append(session.RoleUser, toolResultMessage(result.Text))
	}

	slog.Info("iteration ceiling reached", "limit", limit)
	if cb.OnWarning != nil {
		cb.OnWarning(fmt.Sprintf("Max iterations reached (%d)", limit))
	}
	return &Outcome{State: StateIterationCeilingReached, Iterations: limit}, nil
}

func (a *Agent) decide(call tools.Call, cb ProcessCallbacks) Decision {
	auto := a.Gate.ShouldAutoApprove(call.Name)
	if cb.OnToolCall != nil {
		cb.OnToolCall(call, auto)
	}
	if auto {
		return Approve
	}
	if cb.Confirm == nil {
		return Decline
	}
	return cb.Confirm(call)
}
