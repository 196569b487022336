// Package agent provides the control loop that turns a user request into a
// sequence of model queries and tool executions.
//
// The model never uses a provider-native tool calling API. It is instructed by
// the system prompt to embed a single action in its free-text reply:
//
//	```tool
//	{"tool": "read_file", "args": {"path": "main.go"}}
//	```
//
// # Components
//
//   - ExtractToolCall: finds the action in a complete response. A fenced
//     block is preferred; an unfenced flat object is accepted as a fallback.
//     Malformed or missing actions are not errors, the reply is then treated
//     as a plain answer.
//   - Gate: decides which calls run without asking. In ModePrompt read-only
//     tools are auto-approved and everything else needs an Approve, Decline
//     or Abort decision from the operator. ModeAuto approves everything.
//   - SystemPrompt: builds the system Turn from the working directory and the
//     registered tools.
//   - Agent.ProcessUserInput: the loop itself.
//
// # Loop
//
// Each iteration sends the whole transcript to the model, streams the reply
// through ProcessCallbacks.OnDelta, and extracts an action from the collected
// text. Then:
//
//   - no action: the reply is recorded and the request is Done
//   - declined: the reply and a "skipped" user Turn are recorded, next iteration
//   - aborted: nothing is recorded, ErrAborted is returned
//   - terminal result: the reply is recorded and the request is Done
//   - other result: the reply and a "Tool result" user Turn are recorded,
//     next iteration
//
// After MaxIterations passes the request ends as IterationCeilingReached,
// which callers report as a warning.
//
// # Usage
//
//	a := agent.New(cfg, sess, registry, agent.ModePrompt, client, agent.ToolVerbosityInfo)
//	outcome, err := a.ProcessUserInput(ctx, "list the files here", agent.ProcessCallbacks{
//	    OnDelta: func(s string) { fmt.Print(s) },
//	    Confirm: func(call tools.Call) agent.Decision { return agent.Approve },
//	})
//
// # Subpackages
//
// agent/terminal: the interactive command-line front end.
package agent
