package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/llm"
	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
)

func toolBlock(name, args string) string {
	return "```tool\n{\"tool\": \"" + name + "\", \"args\": " + args + "}\n```"
}

func newTestAgent(t *testing.T, mode Mode, responses ...string) (*Agent, *llm.MockLLMClient) {
	t.Helper()
	cfg := config.Default()
	registry := tools.NewToolRegistry(cfg)
	sess := session.New("test-model", t.TempDir(), SystemPrompt(registry.List()))
	mock := &llm.MockLLMClient{Responses: responses}
	return New(cfg, sess, registry, mode, mock, ToolVerbosityNone), mock
}

func roles(turns []session.Turn) string {
	var parts []string
	for _, t := range turns {
		parts = append(parts, string(t.Role))
	}
	return strings.Join(parts, ",")
}

func failOnConfirm(t *testing.T) func(tools.Call) Decision {
	return func(call tools.Call) Decision {
		t.Errorf("unexpected confirmation request for %s", call.Name)
		return Abort
	}
}

func TestPlainAnswerEndsAfterOneIteration(t *testing.T) {
	a, mock := newTestAgent(t, ModePrompt, "Hello there, nothing to do.")

	var answer, streamed string
	outcome, err := a.ProcessUserInput(context.Background(), "hi", ProcessCallbacks{
		OnDelta:  func(s string) { streamed += s },
		OnAnswer: func(s string) { answer = s },
		Confirm:  failOnConfirm(t),
	})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}

	if outcome.State != StateDone || outcome.Iterations != 1 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if answer != "Hello there, nothing to do." || streamed != answer {
		t.Errorf("answer %q, streamed %q", answer, streamed)
	}
	if got := roles(a.Session.Turns()); got != "system,user,assistant" {
		t.Errorf("transcript roles = %s", got)
	}

	req := mock.Requests[0]
	if req.Model != "test-model" || req.ContextWindow != 8192 {
		t.Errorf("unexpected request %+v", req)
	}
	if got := roles(req.Turns); got != "system,user" {
		t.Errorf("request roles = %s", got)
	}
}

func TestIterationCeiling(t *testing.T) {
	for _, limit := range []int{1, 3, 20} {
		a, mock := newTestAgent(t, ModeAuto, toolBlock("list_directory", `{"path": "."}`))
		a.MaxIterations = limit

		var iterations, warnings int
		outcome, err := a.ProcessUserInput(context.Background(), "loop forever", ProcessCallbacks{
			OnIteration: func(int) { iterations++ },
			OnWarning:   func(string) { warnings++ },
		})
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}

		if outcome.State != StateIterationCeilingReached || outcome.Iterations != limit {
			t.Errorf("limit %d: unexpected outcome %+v", limit, outcome)
		}
		if iterations != limit || len(mock.Requests) != limit || warnings != 1 {
			t.Errorf("limit %d: iterations %d, requests %d, warnings %d", limit, iterations, len(mock.Requests), warnings)
		}
		if got := a.Session.Len(); got != 2+2*limit {
			t.Errorf("limit %d: transcript has %d turns", limit, got)
		}
	}
}

func TestDefaultIterationCeiling(t *testing.T) {
	a, _ := newTestAgent(t, ModeAuto, toolBlock("list_directory", `{}`))
	a.MaxIterations = 0

	outcome, err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Iterations != DefaultMaxIterations {
		t.Errorf("iterations = %d, want %d", outcome.Iterations, DefaultMaxIterations)
	}
}

func TestListFilesThenComplete(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt,
		"I'll list the files.\n"+toolBlock("list_directory", `{"path": "."}`),
		toolBlock("task_complete", `{"summary": "Found a.txt and b.txt."}`),
	)
	dir := a.Session.WorkDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var explanation, completed string
	var results []tools.Result
	var asked []string
	outcome, err := a.ProcessUserInput(context.Background(), "list files", ProcessCallbacks{
		OnExplanation: func(s string) { explanation = s },
		OnToolResult:  func(_ tools.Call, r tools.Result) { results = append(results, r) },
		OnComplete:    func(s string) { completed = s },
		Confirm: func(c tools.Call) Decision {
			asked = append(asked, c.Name)
			return Approve
		},
	})
	if err != nil {
		t.Fatalf("ProcessUserInput failed: %v", err)
	}

	if outcome.State != StateDone || outcome.Iterations != 2 || outcome.Summary != "Found a.txt and b.txt." {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if completed != outcome.Summary {
		t.Errorf("OnComplete got %q", completed)
	}
	// Reads run unasked; completing the task still needs approval.
	if len(asked) != 1 || asked[0] != "task_complete" {
		t.Errorf("confirmations = %v", asked)
	}
	if explanation != "I'll list the files." {
		t.Errorf("explanation = %q", explanation)
	}
	if len(results) != 2 || !results[1].Terminal {
		t.Fatalf("unexpected results %+v", results)
	}

	turns := a.Session.Turns()
	if got := roles(turns); got != "system,user,assistant,user,assistant" {
		t.Fatalf("transcript roles = %s", got)
	}
	feedback := turns[3].Content
	if !strings.HasPrefix(feedback, "Tool result:\n") || !strings.HasSuffix(feedback, "Continue with the task or call task_complete if done.") {
		t.Errorf("unexpected feedback turn %q", feedback)
	}
	if ia, ib := strings.Index(feedback, "a.txt"), strings.Index(feedback, "b.txt"); ia < 0 || ib < 0 || ia > ib {
		t.Errorf("listing is not sorted: %q", feedback)
	}
}

func TestDeclineRecordsSkipAndContinues(t *testing.T) {
	a, mock := newTestAgent(t, ModePrompt,
		toolBlock("write_file", `{"path": "out.txt", "content": "data"}`),
		"Understood, I will leave the file alone.",
	)

	var skipped []string
	outcome, err := a.ProcessUserInput(context.Background(), "write a file", ProcessCallbacks{
		Confirm:   func(tools.Call) Decision { return Decline },
		OnSkipped: func(c tools.Call) { skipped = append(skipped, c.Name) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if outcome.State != StateDone || outcome.Iterations != 2 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if len(skipped) != 1 || skipped[0] != "write_file" {
		t.Errorf("skipped = %v", skipped)
	}
	if _, err := os.Stat(filepath.Join(a.Session.WorkDir(), "out.txt")); !os.IsNotExist(err) {
		t.Error("declined write_file was executed")
	}

	turns := a.Session.Turns()
	if got := roles(turns); got != "system,user,assistant,user,assistant" {
		t.Fatalf("transcript roles = %s", got)
	}
	if !strings.Contains(turns[2].Content, `"write_file"`) {
		t.Error("declined attempt was not kept in the transcript")
	}
	if turns[3].Content != skippedMessage {
		t.Errorf("skip turn = %q", turns[3].Content)
	}
	// The second query sees the skip notice.
	if got := roles(mock.Requests[1].Turns); got != "system,user,assistant,user" {
		t.Errorf("second request roles = %s", got)
	}
}

func TestNilConfirmDeclines(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt, toolBlock("run_command", `{"command": "echo hi"}`), "fine")

	if _, err := a.ProcessUserInput(context.Background(), "run", ProcessCallbacks{}); err != nil {
		t.Fatal(err)
	}
	if got := a.Session.Turns()[3].Content; got != skippedMessage {
		t.Errorf("expected skip turn, got %q", got)
	}
}

func TestAbortStopsWithoutWrites(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt, toolBlock("run_command", `{"command": "touch marker"}`))

	outcome, err := a.ProcessUserInput(context.Background(), "make a marker", ProcessCallbacks{
		Confirm: func(tools.Call) Decision { return Abort },
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no outcome, got %+v", outcome)
	}
	if got := roles(a.Session.Turns()); got != "system,user" {
		t.Errorf("transcript roles = %s", got)
	}
	if _, err := os.Stat(filepath.Join(a.Session.WorkDir(), "marker")); !os.IsNotExist(err) {
		t.Error("aborted command was executed")
	}
}

func TestApprovedWrite(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt,
		toolBlock("write_file", `{"path": "dir/out.txt", "content": "data"}`),
		toolBlock("task_complete", `{"summary": "written"}`),
	)

	var asked []string
	outcome, err := a.ProcessUserInput(context.Background(), "write", ProcessCallbacks{
		Confirm: func(c tools.Call) Decision {
			asked = append(asked, c.Name)
			return Approve
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Summary != "written" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if strings.Join(asked, ",") != "write_file,task_complete" {
		t.Errorf("confirmations = %v", asked)
	}
	data, err := os.ReadFile(filepath.Join(a.Session.WorkDir(), "dir", "out.txt"))
	if err != nil || string(data) != "data" {
		t.Errorf("file content %q, err %v", data, err)
	}
}

func TestInterruptedRequestRunsNoTools(t *testing.T) {
	for _, mode := range []Mode{ModeAuto, ModePrompt} {
		t.Run(string(mode), func(t *testing.T) {
			a, mock := newTestAgent(t, mode, toolBlock("write_file", `{"path": "x.txt", "content": "late"}`))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			var streamed string
			outcome, err := a.ProcessUserInput(ctx, "write x.txt", ProcessCallbacks{
				OnDelta:    func(s string) { streamed += s },
				OnToolCall: func(c tools.Call, _ bool) { t.Errorf("interrupted reply reached the gate with %s", c.Name) },
				Confirm:    func(tools.Call) Decision { return Approve },
			})
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if outcome != nil {
				t.Errorf("expected no outcome, got %+v", outcome)
			}
			// The query already sent still streams to completion.
			if len(mock.Requests) != 1 || !strings.Contains(streamed, "write_file") {
				t.Errorf("requests = %d, streamed %q", len(mock.Requests), streamed)
			}
			if _, err := os.Stat(filepath.Join(a.Session.WorkDir(), "x.txt")); !os.IsNotExist(err) {
				t.Error("write_file ran after the interrupt")
			}
			if got := roles(a.Session.Turns()); got != "system,user" {
				t.Errorf("transcript roles = %s", got)
			}
		})
	}
}

func TestTransportErrorEndsRequest(t *testing.T) {
	a, mock := newTestAgent(t, ModeAuto)
	mock.Err = io.ErrUnexpectedEOF

	outcome, err := a.ProcessUserInput(context.Background(), "hello", ProcessCallbacks{})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no outcome, got %+v", outcome)
	}
	if got := roles(a.Session.Turns()); got != "system,user" {
		t.Errorf("transcript roles = %s", got)
	}
}

func TestEditMissingFileIsReportedToModel(t *testing.T) {
	a, _ := newTestAgent(t, ModeAuto,
		toolBlock("edit_file", `{"path": "missing.txt", "old_content": "a", "new_content": "b"}`),
		"The file does not exist.",
	)

	outcome, err := a.ProcessUserInput(context.Background(), "rewrite missing.txt", ProcessCallbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.State != StateDone || outcome.Answer != "The file does not exist." {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	feedback := a.Session.Turns()[3].Content
	if !strings.Contains(feedback, "Error: File not found: missing.txt") {
		t.Errorf("feedback = %q", feedback)
	}
	entries, err := os.ReadDir(a.Session.WorkDir())
	if err != nil || len(entries) != 0 {
		t.Errorf("working directory changed: %v, %v", entries, err)
	}
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	a, _ := newTestAgent(t, ModeAuto, toolBlock("launch_rocket", `{}`), "Sorry.")

	if _, err := a.ProcessUserInput(context.Background(), "launch", ProcessCallbacks{}); err != nil {
		t.Fatal(err)
	}
	if got := a.Session.Turns()[3].Content; !strings.Contains(got, "Unknown tool: launch_rocket") {
		t.Errorf("feedback = %q", got)
	}
}

func TestBareFallbackCallIsDispatched(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt,
		`Checking. {"tool": "read_file", "args": {"path": "notes.md"}}`,
		"It says hello.",
	)
	if err := os.WriteFile(filepath.Join(a.Session.WorkDir(), "notes.md"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.ProcessUserInput(context.Background(), "read notes", ProcessCallbacks{Confirm: failOnConfirm(t)}); err != nil {
		t.Fatal(err)
	}
	if got := a.Session.Turns()[3].Content; !strings.Contains(got, "Tool result:\nhello\n") {
		t.Errorf("feedback = %q", got)
	}
}

func TestToolCallCallbackReportsAutoApproval(t *testing.T) {
	a, _ := newTestAgent(t, ModePrompt,
		toolBlock("read_file", `{"path": "x"}`),
		toolBlock("run_command", `{"command": "true"}`),
		"done",
	)

	var seen []string
	_, err := a.ProcessUserInput(context.Background(), "go", ProcessCallbacks{
		OnToolCall: func(c tools.Call, auto bool) {
			if auto {
				seen = append(seen, c.Name+":auto")
			} else {
				seen = append(seen, c.Name+":ask")
			}
		},
		Confirm: func(tools.Call) Decision { return Decline },
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(seen, " ") != "read_file:auto run_command:ask" {
		t.Errorf("seen = %v", seen)
	}
}

func TestSessionResetBetweenRequests(t *testing.T) {
	a, _ := newTestAgent(t, ModeAuto, "first", "second")

	if _, err := a.ProcessUserInput(context.Background(), "one", ProcessCallbacks{}); err != nil {
		t.Fatal(err)
	}
	a.Session.SetModel("other-model")
	if got := roles(a.Session.Turns()); got != "system" {
		t.Fatalf("transcript after model change = %s", got)
	}

	if _, err := a.ProcessUserInput(context.Background(), "two", ProcessCallbacks{}); err != nil {
		t.Fatal(err)
	}
	turns := a.Session.Turns()
	if got := roles(turns); got != "system,user,assistant" || turns[2].Content != "second" {
		t.Errorf("transcript = %+v", turns)
	}
}
