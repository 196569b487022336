// Package acp serves the agent over the Agent Client Protocol, so editors can
// drive it instead of the terminal front end.
//
// Messages are newline-delimited JSON-RPC 2.0 on stdin and stdout. The server
// answers initialize, session/new, session/prompt and session/cancel. Each
// ACP session has its own transcript and working directory. Model output is
// streamed as agent_message_chunk updates and tool calls are reported as
// tool_call and tool_call_update updates.
//
// Calls that are not auto-approved are sent to the client as
// session/request_permission requests. Rejecting skips the call and lets the
// model continue; "Reject and stop" or a cancelled request ends the turn with
// stopReason "cancelled". The session stays usable afterwards: the unanswered
// request is closed with whatever part of the reply had arrived.
package acp
