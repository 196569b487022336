package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
)

// Param describes one argument a tool accepts.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Spec is the static description of a tool. Params keep their declaration
// order so the system prompt lists them the same way every time.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// Args is the loosely typed argument mapping parsed from model output.
type Args map[string]interface{}

// String returns the string value for key, or def when the key is missing or
// null. Non-string values are formatted rather than rejected.
func (a Args) String(key, def string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Call is a tool invocation extracted from a model response.
type Call struct {
	Name string
	Args Args
}

// Result is the outcome of a tool invocation. Terminal marks the user's
// request as fully satisfied.
type Result struct {
	Text     string
	Terminal bool
}

// Env carries the per-call context a handler needs from the session.
type Env struct {
	WorkDir string
}

// Tool defines the interface for any action the agent can take. Execute never
// fails with a Go error: problems are described in Result.Text so the model
// can correct itself.
type Tool interface {
	Name() string
	Spec() Spec
	Execute(ctx context.Context, env Env, args Args) Result
}

// ToolRegistry holds the fixed set of tools available for one run. Tools are
// registered while the process starts and the set is not changed afterwards.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry registers the built-in tools configured by cfg.
func NewToolRegistry(cfg *config.Config) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	access := NewAccess(cfg.FilesystemAccess)

	for _, t := range []Tool{
		&ReadFileTool{access: access},
		&WriteFileTool{access: access},
		&EditFileTool{access: access},
		&ListDirectoryTool{access: access},
		&RunCommandTool{timeout: cfg.CommandTimeout},
		&SearchFilesTool{access: access, maxResults: cfg.SearchMaxResults, timeout: cfg.SearchTimeout},
		&TaskCompleteTool{},
	} {
		// Built-in names are distinct, Register cannot fail here.
		_ = r.Register(t)
	}
	return r
}

// Register adds a tool. It is meant for startup only.
func (r *ToolRegistry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New("tool name is empty")
	}
	if _, exists := r.tools[name]; exists {
		return errors.New("tool '%s' already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns the specs of every registered tool in registration order.
func (r *ToolRegistry) List() []Spec {
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Dispatch runs the named tool. An unknown name is reported back as text, not
// as an error, so the model gets a chance to pick a valid tool. The error
// return is only used when ctx was cancelled before or while the tool ran; a
// cancelled ctx never starts a tool.
func (r *ToolRegistry) Dispatch(ctx context.Context, env Env, call Call) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrapf(err, "tool '%s' not started", call.Name)
	}
	t, ok := r.tools[call.Name]
	if !ok {
		slog.Warn("unknown tool requested", "tool", call.Name)
		return Result{Text: fmt.Sprintf("Unknown tool: %s", call.Name)}, nil
	}

	args := call.Args
	if args == nil {
		args = Args{}
	}
	result := t.Execute(ctx, env, args)
	if err := ctx.Err(); err != nil {
		return result, errors.Wrapf(err, "tool '%s' interrupted", call.Name)
	}
	slog.Debug("tool dispatched", "tool", call.Name, "terminal", result.Terminal, "bytes", len(result.Text))
	return result, nil
}
