package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pmnowak/ollama-code/agent"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Permission options offered for calls that need confirmation. They map onto
// agent decisions: allow runs the call, reject skips it, abort ends the turn.
const (
	optionAllow  = "allow"
	optionReject = "reject"
	optionAbort  = "abort"
)

// cancelledReply stands in for a reply that never arrived.
const cancelledReply = "(turn cancelled before a reply was received)"

// message is any JSON-RPC 2.0 message: a request (Method and ID), a
// notification (Method only) or a response (ID with Result or Error).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// contentBlock is a prompt content block. Only text and resource_link
// blocks are understood.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ResourceLink fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type acpSession struct {
	agent *agent.Agent
	// cancel stops the running prompt turn, nil when idle.
	cancel context.CancelFunc
}

// Server speaks the Agent Client Protocol over newline-delimited JSON-RPC.
// Every ACP session gets its own transcript; the model client, tool registry
// and gate are shared with the template agent.
type Server struct {
	template *agent.Agent
	in       io.Reader
	out      io.Writer

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*acpSession
	pending  map[int64]chan message
	nextID   int64
	seq      int64

	turns sync.WaitGroup
}

func NewServer(template *agent.Agent, in io.Reader, out io.Writer) *Server {
	return &Server{
		template: template,
		in:       in,
		out:      out,
		sessions: make(map[string]*acpSession),
		pending:  make(map[int64]chan message),
	}
}

// Run serves ACP on in and out until in is exhausted or ctx is cancelled.
// Nothing but JSON-RPC messages is written to out.
func Run(ctx context.Context, template *agent.Agent, in io.Reader, out io.Writer) error {
	return NewServer(template, in, out).Serve(ctx)
}

// Serve reads messages until EOF. Prompt turns run concurrently with the read
// loop so that permission responses and cancellations can be received while a
// turn is waiting on them.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.turns.Wait()
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return errors.Wrapf(err, "ACP read error")
				}
				slog.Info("acp: input closed")
				return nil
			}
			line = l
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("acp: malformed message", "error", err)
			_ = s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}
		s.dispatch(ctx, &msg)
	}
}

func (s *Server) dispatch(ctx context.Context, msg *message) {
	if msg.Method == "" {
		s.deliverResponse(msg)
		return
	}
	slog.Debug("acp: request", "method", msg.Method)

	switch msg.Method {
	case "initialize":
		s.handleInitialize(msg)
	case "session/new":
		s.handleSessionNew(msg)
	case "session/prompt":
		s.turns.Add(1)
		go func() {
			defer s.turns.Done()
			s.handleSessionPrompt(ctx, msg)
		}()
	case "session/cancel":
		s.handleSessionCancel(msg)
	default:
		if msg.ID != nil {
			_ = s.writeError(msg.ID, codeMethodNotFound, "Method not found", msg.Method)
		}
	}
}

// ---- Handlers ----

func (s *Server) handleInitialize(msg *message) {
	_ = s.writeResult(msg.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(msg *message) {
	var p struct {
		Cwd string `json:"cwd"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		_ = s.writeError(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	cwd := p.Cwd
	if cwd == "" {
		cwd = s.template.Session.WorkDir()
	}
	if !filepath.IsAbs(cwd) {
		_ = s.writeError(msg.ID, codeInvalidParams, "Invalid params", "cwd must be an absolute path")
		return
	}

	a := *s.template
	a.Session = session.New(s.template.Session.Model(), cwd, agent.SystemPrompt(s.template.Registry.List()))

	s.mu.Lock()
	s.seq++
	sid := fmt.Sprintf("sess_%d_%d", time.Now().UnixNano(), s.seq)
	s.sessions[sid] = &acpSession{agent: &a}
	s.mu.Unlock()

	slog.Info("acp: session created", "session", sid, "cwd", cwd)
	_ = s.writeResult(msg.ID, map[string]any{"sessionId": sid})
}

func (s *Server) handleSessionCancel(msg *message) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[p.SessionID]; ok && sess.cancel != nil {
		slog.Info("acp: turn cancelled", "session", p.SessionID)
		sess.cancel()
	}
}

func (s *Server) handleSessionPrompt(ctx context.Context, msg *message) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		_ = s.writeError(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	busy := ok && sess.cancel != nil
	if ok && !busy {
		sess.cancel = cancel
	}
	s.mu.Unlock()
	switch {
	case !ok:
		_ = s.writeError(msg.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	case busy:
		_ = s.writeError(msg.ID, codeInvalidParams, "Invalid params", "a prompt is already running for this session")
		return
	}
	defer func() {
		s.mu.Lock()
		sess.cancel = nil
		s.mu.Unlock()
	}()

	sid := p.SessionID
	var toolCallSeq int
	var toolCallID string
	var reply strings.Builder
	callbacks := agent.ProcessCallbacks{
		OnIteration: func(int) { reply.Reset() },
		OnDelta: func(fragment string) {
			reply.WriteString(fragment)
			_ = s.sendUpdate(sid, map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": fragment},
			})
		},
		OnToolCall: func(call tools.Call, autoApproved bool) {
			toolCallSeq++
			toolCallID = fmt.Sprintf("call_%d", toolCallSeq)
			update := toolCallFields(toolCallID, call)
			update["sessionUpdate"] = "tool_call"
			_ = s.sendUpdate(sid, update)
		},
		Confirm: func(call tools.Call) agent.Decision {
			return s.requestPermission(turnCtx, sid, toolCallID, call)
		},
		OnToolResult: func(call tools.Call, result tools.Result) {
			_ = s.sendUpdate(sid, map[string]any{
				"sessionUpdate": "tool_call_update",
				"toolCallId":    toolCallID,
				"status":        "completed",
				"content":       []any{textContent(result.Text)},
			})
		},
		OnSkipped: func(call tools.Call) {
			_ = s.sendUpdate(sid, map[string]any{
				"sessionUpdate": "tool_call_update",
				"toolCallId":    toolCallID,
				"status":        "failed",
				"content":       []any{textContent("Skipped by user")},
			})
		},
		OnWarning: func(warning string) {
			slog.Warn("acp: turn warning", "session", sid, "warning", warning)
		},
	}

	outcome, err := sess.agent.ProcessUserInput(turnCtx, extractUserText(p.Prompt), callbacks)
	if err != nil {
		closeTurn(sess.agent.Session, reply.String())
	}
	switch {
	case errors.Is(err, agent.ErrAborted) || (err != nil && turnCtx.Err() != nil):
		_ = s.writeResult(msg.ID, map[string]any{"stopReason": "cancelled"})
	case err != nil:
		slog.Error("acp: turn failed", "session", sid, "error", err)
		_ = s.writeError(msg.ID, codeInternalError, "Internal error", err.Error())
	case outcome.State == agent.StateIterationCeilingReached:
		_ = s.writeResult(msg.ID, map[string]any{"stopReason": "max_turn_requests"})
	default:
		_ = s.writeResult(msg.ID, map[string]any{"stopReason": "end_turn"})
	}
}

// requestPermission asks the client whether call may run. A cancelled turn or
// a failed request aborts.
func (s *Server) requestPermission(ctx context.Context, sessionID, toolCallID string, call tools.Call) agent.Decision {
	toolCall := toolCallFields(toolCallID, call)
	toolCall["status"] = "pending"
	result, err := s.call(ctx, "session/request_permission", map[string]any{
		"sessionId": sessionID,
		"toolCall":  toolCall,
		"options": []map[string]string{
			{"optionId": optionAllow, "name": "Allow", "kind": "allow_once"},
			{"optionId": optionReject, "name": "Reject", "kind": "reject_once"},
			{"optionId": optionAbort, "name": "Reject and stop", "kind": "reject_always"},
		},
	})
	if err != nil {
		slog.Warn("acp: permission request failed", "session", sessionID, "error", err)
		return agent.Abort
	}

	var r struct {
		Outcome struct {
			Outcome  string `json:"outcome"`
			OptionID string `json:"optionId"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(result, &r); err != nil || r.Outcome.Outcome != "selected" {
		return agent.Abort
	}
	switch r.Outcome.OptionID {
	case optionAllow:
		return agent.Approve
	case optionReject:
		return agent.Decline
	default:
		return agent.Abort
	}
}

// ---- Outgoing requests ----

// call sends a request to the client and waits for its response.
func (s *Server) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s params", method)
	}

	ch := make(chan message, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.writeMessage(message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (s *Server) deliverResponse(msg *message) {
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		slog.Warn("acp: response with unknown id", "id", string(msg.ID))
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	// Only the first response for an id is kept; the read loop never waits.
	select {
	case ch <- *msg:
	default:
		slog.Warn("acp: duplicate response dropped", "id", id)
	}
}

// ---- Writing ----

func (s *Server) writeMessage(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// Messages are newline-delimited.
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return errors.Wrapf(err, "failed to write JSON-RPC message")
	}
	return nil
}

func (s *Server) writeResult(id json.RawMessage, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, "failed to encode result")
	}
	return s.writeMessage(message{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) writeError(id json.RawMessage, code int, msg string, data any) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	return s.writeMessage(message{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: msg, Data: data}})
}

func (s *Server) sendUpdate(sessionID string, update map[string]any) error {
	raw, err := json.Marshal(map[string]any{"sessionId": sessionID, "update": update})
	if err != nil {
		return errors.Wrapf(err, "failed to encode session update")
	}
	return s.writeMessage(message{JSONRPC: "2.0", Method: "session/update", Params: raw})
}

// ---- Helpers ----

// closeTurn keeps the transcript alternating after a turn that ended early.
// Unlike the terminal, an ACP session goes on after an abort, interrupt or
// transport failure, so the unanswered user Turn gets the partial reply (or
// a placeholder) as its assistant Turn.
func closeTurn(sess *session.Session, partial string) {
	if sess.Last().Role != session.RoleUser {
		return
	}
	if strings.TrimSpace(partial) == "" {
		partial = cancelledReply
	}
	sess.Append(session.RoleAssistant, partial)
}

func toolCallFields(id string, call tools.Call) map[string]any {
	return map[string]any{
		"toolCallId": id,
		"title":      toolTitle(call),
		"kind":       toolKind(call.Name),
		"rawInput":   call.Args,
	}
}

func textContent(text string) map[string]any {
	return map[string]any{
		"type":    "content",
		"content": map[string]any{"type": "text", "text": text},
	}
}

// toolKind maps built-in tools to ACP tool kinds.
func toolKind(name string) string {
	switch name {
	case "read_file":
		return "read"
	case "write_file", "edit_file":
		return "edit"
	case "list_directory", "search_files":
		return "search"
	case "run_command":
		return "execute"
	default:
		return "other"
	}
}

// toolTitle is a one-line description of the call for the client UI.
func toolTitle(call tools.Call) string {
	for _, key := range []string{"command", "path", "pattern"} {
		if v := call.Args.String(key, ""); v != "" {
			return call.Name + ": " + v
		}
	}
	return call.Name
}

// extractUserText joins the prompt blocks into one user message. Resource
// links become references the model can open with its file tools.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		default:
			slog.Debug("acp: unsupported content block", "type", b.Type)
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	name := b.Name
	if name == "" {
		name = b.URI
	}
	fmt.Fprintf(&sb, "[Referenced resource: %s]", name)
	if u, err := url.Parse(b.URI); err == nil && u.Scheme == "file" {
		fmt.Fprintf(&sb, "\nPath: %s", u.Path)
	} else {
		fmt.Fprintf(&sb, "\nURI: %s (external, not readable with file tools)", b.URI)
	}
	if b.Title != "" {
		fmt.Fprintf(&sb, "\nTitle: %s", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "\nDescription: %s", b.Description)
	}
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "\nType: %s", b.MimeType)
	}
	return sb.String()
}
