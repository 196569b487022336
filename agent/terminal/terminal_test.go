package terminal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pmnowak/ollama-code/agent"
	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/llm"
	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
)

func toolBlock(name, args string) string {
	return "```tool\n{\"tool\": \"" + name + "\", \"args\": " + args + "}\n```"
}

// newTestTerminal wires a terminal around a mock model, reading input from
// script and writing to the returned buffer.
func newTestTerminal(t *testing.T, mode agent.Mode, verbosity agent.ToolVerbosity, script string, responses ...string) (*Terminal, *agent.Agent, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	registry := tools.NewToolRegistry(cfg)
	sess := session.New("test-model", t.TempDir(), agent.SystemPrompt(registry.List()))
	a := agent.New(cfg, sess, registry, mode, &llm.MockLLMClient{Responses: responses}, verbosity)

	out := &bytes.Buffer{}
	term := New(a, WithIO(strings.NewReader(script), out), WithMarkdown(true), WithEndpoint("http://localhost:11434"))
	return term, a, out
}

func TestTerminalNew(t *testing.T) {
	term, a, _ := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, "")
	if term.agent != a {
		t.Fatal("Terminal agent doesn't match the provided agent")
	}
	if term.render != nil {
		t.Error("markdown renderer enabled for non-terminal output")
	}
	if term.width != defaultSeparator {
		t.Errorf("width = %d, want %d", term.width, defaultSeparator)
	}
}

func TestBanner(t *testing.T) {
	term, a, out := newTestTerminal(t, agent.ModePrompt, agent.ToolVerbosityNone, "")
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/clear", "/model", "/cd", "/exit", "Model: test-model", "Endpoint: http://localhost:11434", a.Session.WorkDir(), "Mode: prompt"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("banner is missing %q", want)
		}
	}
}

func TestCommands(t *testing.T) {
	script := strings.Join([]string{
		"/model",
		"/model llama3.1:8b",
		"/cd",
		"/cd sub",
		"/cd does-not-exist",
		"/tools",
		"/help",
		"/frobnicate",
		"/clear",
		"/exit",
		"this line is never read",
	}, "\n") + "\n"
	term, a, out := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, script)
	start := a.Session.WorkDir()
	if err := os.Mkdir(filepath.Join(start, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Current model: test-model",
		"Model changed to: llama3.1:8b",
		"Current directory: " + start,
		"Changed to: " + filepath.Join(start, "sub"),
		"Error: Directory not found: does-not-exist",
		"search_files",
		"Show this help",
		"Unknown command: /frobnicate",
		"Conversation cleared",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output is missing %q", want)
		}
	}

	if a.Session.Model() != "llama3.1:8b" {
		t.Errorf("model = %q", a.Session.Model())
	}
	if a.Session.WorkDir() != filepath.Join(start, "sub") {
		t.Errorf("workdir = %q", a.Session.WorkDir())
	}
	if a.Session.Len() != 1 {
		t.Errorf("transcript has %d turns after commands", a.Session.Len())
	}
}

func TestConversationWithTools(t *testing.T) {
	term, a, out := newTestTerminal(t, agent.ModePrompt, agent.ToolVerbosityAll, "list files\ny\n",
		"Looking around.\n"+toolBlock("list_directory", `{"path": "."}`),
		toolBlock("task_complete", `{"summary": "One file here."}`),
	)
	if err := os.WriteFile(filepath.Join(a.Session.WorkDir(), "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Thinking... (iteration 1)",
		"Thinking... (iteration 2)",
		"💭 Looking around.",
		"🔧 Tool: list_directory",
		"   path: .",
		"📤 Result:",
		"main.go (13 bytes)",
		"✅ Task Complete: One file here.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output is missing %q", want)
		}
	}
	// Only task_complete asks; the read-only listing runs unasked.
	if n := strings.Count(got, "Approve this action?"); n != 1 {
		t.Errorf("asked for confirmation %d times", n)
	}
	if i, j := strings.Index(got, "🔧 Tool: task_complete"), strings.Index(got, "Approve this action?"); i < 0 || j < i {
		t.Error("confirmation was not for task_complete")
	}
}

func TestInitialPromptAndPlainAnswer(t *testing.T) {
	term, a, out := newTestTerminal(t, agent.ModePrompt, agent.ToolVerbosityNone, "", "**Hello** from the model.")

	if err := term.Run(context.Background(), "say hello"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "💬 **Hello** from the model.") {
		t.Errorf("answer not printed: %q", out.String())
	}
	turns := a.Session.Turns()
	if len(turns) != 3 || turns[1].Content != "say hello" {
		t.Errorf("unexpected transcript %+v", turns)
	}
}

func TestConfirmationDecline(t *testing.T) {
	term, a, out := newTestTerminal(t, agent.ModePrompt, agent.ToolVerbosityInfo, "write it\nn\n",
		toolBlock("write_file", `{"path": "out.txt", "content": "`+strings.Repeat("x", 150)+`"}`),
		"Okay, leaving it.",
	)

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{
		"🔧 Tool: write_file",
		"   content: " + strings.Repeat("x", 100) + "...",
		"Approve this action? [y/n/q]:",
		"Skipped",
		"Okay, leaving it.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output is missing %q", want)
		}
	}
	if _, err := os.Stat(filepath.Join(a.Session.WorkDir(), "out.txt")); !os.IsNotExist(err) {
		t.Error("declined write was executed")
	}
}

func TestConfirmationAbort(t *testing.T) {
	for name, script := range map[string]string{
		"Quit":       "run it\nq\nnext request\n",
		"EndOfInput": "run it\n",
	} {
		t.Run(name, func(t *testing.T) {
			term, a, out := newTestTerminal(t, agent.ModePrompt, agent.ToolVerbosityNone, script,
				toolBlock("run_command", `{"command": "touch marker"}`),
			)

			if err := term.Run(context.Background(), ""); err != nil {
				t.Fatalf("abort should end the session cleanly, got %v", err)
			}
			if !strings.Contains(out.String(), "Exiting...") {
				t.Error("abort was not reported")
			}
			if a.Session.Len() != 2 {
				t.Errorf("transcript has %d turns", a.Session.Len())
			}
			if _, err := os.Stat(filepath.Join(a.Session.WorkDir(), "marker")); !os.IsNotExist(err) {
				t.Error("aborted command was executed")
			}
		})
	}
}

func TestTransportErrorEndsSession(t *testing.T) {
	term, a, out := newTestTerminal(t, agent.ModeAuto, agent.ToolVerbosityNone, "hello\nsecond\n")
	a.LLMClient = &llm.MockLLMClient{Err: io.ErrUnexpectedEOF}

	err := term.Run(context.Background(), "")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(out.String(), "Error: ") {
		t.Error("transport error was not reported")
	}
}

func TestInterruptAtPrompt(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	cfg := config.Default()
	registry := tools.NewToolRegistry(cfg)
	sess := session.New("m", t.TempDir(), agent.SystemPrompt(registry.List()))
	a := agent.New(cfg, sess, registry, agent.ModeAuto, &llm.MockLLMClient{}, agent.ToolVerbosityNone)
	out := &bytes.Buffer{}
	term := New(a, WithIO(pr, out))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := term.Run(ctx, ""); err != nil {
		t.Fatalf("interrupt should end the session cleanly, got %v", err)
	}
	if !strings.Contains(out.String(), "Interrupted") {
		t.Error("interrupt was not reported")
	}
}

func TestTruncateLines(t *testing.T) {
	var lines []string
	for i := 1; i <= 25; i++ {
		lines = append(lines, fmt.Sprintf("row %d", i))
	}
	long := strings.Join(lines, "\n")

	got := truncateLines(long, maxResultLines)
	kept, note, ok := strings.Cut(got, "\n... ")
	if !ok || note != "(5 more lines)" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if want := strings.Join(lines[:20], "\n"); kept != want {
		t.Errorf("kept %q, want the first 20 rows", kept)
	}

	short := "a\nb"
	if got := truncateLines(short, maxResultLines); got != short {
		t.Errorf("short text changed: %q", got)
	}
}

func TestFormatArgValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"short", "short"},
		{strings.Repeat("é", 99), strings.Repeat("é", 99)},
		{strings.Repeat("é", 100), strings.Repeat("é", 100) + "..."},
		{float64(3), "3"},
		{true, "true"},
	}
	for _, tc := range tests {
		if got := formatArgValue(tc.in); got != tc.want {
			t.Errorf("formatArgValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
