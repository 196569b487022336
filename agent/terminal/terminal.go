package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pmnowak/ollama-code/agent"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/tools"
	"golang.org/x/term"
)

const (
	maxArgDisplay    = 100
	maxResultLines   = 20
	maxSeparator     = 60
	defaultSeparator = 50
)

type inputLine struct {
	text string
	err  error
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent *agent.Agent

	in       io.Reader
	out      io.Writer
	lines    chan inputLine
	width    int
	markdown bool
	endpoint string
	render   *glamour.TermRenderer
}

type Option func(*Terminal)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = in
		t.out = out
	}
}

// WithMarkdown enables markdown rendering of final answers. It only takes
// effect when output goes to a terminal.
func WithMarkdown(enabled bool) Option {
	return func(t *Terminal) { t.markdown = enabled }
}

// WithEndpoint sets the model endpoint shown in the banner.
func WithEndpoint(endpoint string) Option {
	return func(t *Terminal) { t.endpoint = endpoint }
}

// New creates a new Terminal instance
func New(a *agent.Agent, opts ...Option) *Terminal {
	t := &Terminal{
		agent: a,
		in:    os.Stdin,
		out:   os.Stdout,
		width: defaultSeparator,
	}
	for _, opt := range opts {
		opt(t)
	}

	if f, ok := t.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			t.width = min(w, maxSeparator)
		}
		if t.markdown {
			if r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(0),
			); err == nil {
				t.render = r
			}
		}
	}
	return t
}

// Run starts the interactive session. It returns nil when the operator exits,
// aborts at a confirmation prompt, interrupts, or input ends. A model
// transport failure is returned as an error.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	t.startReader()
	t.printBanner()

	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if done, err := t.handleTurn(ctx, initialPrompt); done {
			return err
		}
	}

	for {
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, separatorStyle.Render(strings.Repeat("═", t.width)))
		fmt.Fprint(t.out, promptStyle.Render("You:")+" ")

		line, err := t.readLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(t.out, "\n"+infoStyle.Render("Interrupted. Goodbye!"))
			}
			// EOF ends the session normally.
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if t.handleCommand(input) {
				return nil
			}
			continue
		}

		if done, err := t.handleTurn(ctx, input); done {
			return err
		}
	}
}

// handleTurn processes one request and reports whether the session is over.
func (t *Terminal) handleTurn(ctx context.Context, input string) (bool, error) {
	err := t.processTurn(ctx, input)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, agent.ErrAborted):
		fmt.Fprintln(t.out, errorStyle.Render("Exiting..."))
		return true, nil
	case ctx.Err() != nil:
		fmt.Fprintln(t.out, "\n"+infoStyle.Render("Interrupted. Goodbye!"))
		return true, nil
	default:
		fmt.Fprintln(t.out, "\n"+errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		return true, err
	}
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	verbosity := t.agent.Verbosity
	callbacks := agent.ProcessCallbacks{
		OnIteration: func(n int) {
			fmt.Fprintln(t.out, "\n"+separatorStyle.Render(strings.Repeat("─", t.width)))
			fmt.Fprintln(t.out, thinkingStyle.Render(fmt.Sprintf("Thinking... (iteration %d)", n)))
		},
		OnDelta: func(fragment string) {
			fmt.Fprint(t.out, fragment)
		},
		OnExplanation: func(text string) {
			fmt.Fprintln(t.out)
			fmt.Fprintln(t.out, "\n"+styleLines(explanationStyle, "💭 "+text))
		},
		OnToolCall: func(call tools.Call, autoApproved bool) {
			fmt.Fprintln(t.out)
			if verbosity == agent.ToolVerbosityNone && autoApproved {
				return
			}
			// The operator has to see the arguments of a call they approve.
			t.printToolCall(call, verbosity != agent.ToolVerbosityInfo || !autoApproved)
		},
		Confirm: func(call tools.Call) agent.Decision {
			fmt.Fprint(t.out, "\n"+warningStyle.Render("⚠️  Approve this action? [y/n/q]:")+" ")
			answer, err := t.readLine(ctx)
			if err != nil {
				return agent.Abort
			}
			return agent.ParseDecision(answer)
		},
		OnToolResult: func(call tools.Call, result tools.Result) {
			if verbosity != agent.ToolVerbosityAll || result.Terminal {
				return
			}
			fmt.Fprintln(t.out, resultStyle.Render("📤 Result:"))
			fmt.Fprintln(t.out, styleLines(dimStyle, truncateLines(result.Text, maxResultLines)))
		},
		OnSkipped: func(call tools.Call) {
			fmt.Fprintln(t.out, warningStyle.Render("⏭️  Skipped"))
		},
		OnAnswer: func(text string) {
			fmt.Fprintln(t.out)
			if t.render != nil {
				if rendered, err := t.render.Render(text); err == nil {
					fmt.Fprint(t.out, "\n"+rendered)
					return
				}
			}
			fmt.Fprintln(t.out, "\n💬 "+text)
		},
		OnComplete: func(summary string) {
			fmt.Fprintln(t.out, "\n"+styleLines(successStyle, "✅ Task Complete: "+summary))
		},
		OnWarning: func(warning string) {
			fmt.Fprintln(t.out, "\n"+warningStyle.Render("⚠️  "+warning))
		},
	}

	outcome, err := t.agent.ProcessUserInput(ctx, userInput, callbacks)
	if err != nil {
		return err
	}
	slog.Info("request finished", "state", string(outcome.State), "iterations", outcome.Iterations)
	return nil
}

// handleCommand runs a slash command and reports whether the session should
// end.
func (t *Terminal) handleCommand(input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	sess := t.agent.Session

	switch strings.ToLower(name) {
	case "/exit", "/quit":
		fmt.Fprintln(t.out, infoStyle.Render("👋 Goodbye!"))
		return true
	case "/clear":
		sess.Clear()
		fmt.Fprintln(t.out, infoStyle.Render("🗑️  Conversation cleared"))
	case "/model":
		if arg == "" {
			fmt.Fprintln(t.out, infoStyle.Render("Current model: "+sess.Model()))
			fmt.Fprintln(t.out, warningStyle.Render("Usage: /model <model_name>"))
			return false
		}
		sess.SetModel(arg)
		fmt.Fprintln(t.out, infoStyle.Render("🧠 Model changed to: "+arg))
	case "/cd":
		if arg == "" {
			fmt.Fprintln(t.out, infoStyle.Render("Current directory: "+sess.WorkDir()))
			return false
		}
		dir := tools.Resolve(sess.WorkDir(), arg)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			fmt.Fprintln(t.out, errorStyle.Render("Error: Directory not found: "+arg))
			return false
		}
		sess.SetWorkDir(dir)
		fmt.Fprintln(t.out, infoStyle.Render("📂 Changed to: "+dir))
	case "/tools":
		for _, spec := range t.agent.Registry.List() {
			fmt.Fprintln(t.out, toolNameStyle.Render(spec.Name)+" "+dimStyle.Render(spec.Description))
		}
	case "/help":
		fmt.Fprintln(t.out, commandHelp)
	default:
		fmt.Fprintln(t.out, errorStyle.Render("Unknown command: "+name))
	}
	return false
}

const commandHelp = `Commands:
  /clear          Clear conversation history
  /model [name]   Show or change the model
  /cd [dir]       Show or change the working directory
  /tools          List available tools
  /help           Show this help
  /exit, /quit    Exit the agent`

func (t *Terminal) printBanner() {
	fmt.Fprintln(t.out, bannerStyle.Render("🤖 Local Code Agent\n\n"+commandHelp))
	fmt.Fprintln(t.out, infoStyle.Render("📂 Working directory: "+t.agent.Session.WorkDir()))
	fmt.Fprintln(t.out, infoStyle.Render("🧠 Model: "+t.agent.Session.Model()))
	if t.endpoint != "" {
		fmt.Fprintln(t.out, infoStyle.Render("🔗 Endpoint: "+t.endpoint))
	}
	fmt.Fprintln(t.out, infoStyle.Render(fmt.Sprintf("⚙️  Mode: %s", t.agent.Gate.Mode())))
}

func (t *Terminal) printToolCall(call tools.Call, withArgs bool) {
	fmt.Fprintln(t.out, toolNameStyle.Render("🔧 Tool: "+call.Name))
	if !withArgs {
		return
	}
	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(t.out, styleLines(toolArgStyle, fmt.Sprintf("   %s: %s", k, formatArgValue(call.Args[k]))))
	}
}

// startReader feeds stdin lines to a channel so reads can be abandoned when
// ctx is cancelled.
func (t *Terminal) startReader() {
	t.lines = make(chan inputLine)
	go func() {
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			t.lines <- inputLine{text: scanner.Text()}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		t.lines <- inputLine{err: err}
		close(t.lines)
	}()
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return line.text, line.err
	}
}

// formatArgValue renders one argument value, cut to maxArgDisplay runes.
func formatArgValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if r := []rune(s); len(r) >= maxArgDisplay {
		return string(r[:maxArgDisplay]) + "..."
	}
	return s
}

// truncateLines keeps the first n lines of text and notes how many were cut.
func truncateLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

// styleLines renders each line on its own so lipgloss does not pad short
// lines to the width of the longest.
func styleLines(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = style.Render(l)
	}
	return strings.Join(lines, "\n")
}
