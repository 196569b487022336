package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pmnowak/ollama-code/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	access *Access
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Read the contents of a file at the given path. Use this to examine existing code or files.",
		Params: []Param{
			{Name: "path", Type: "string", Description: "The path to the file to read (relative or absolute)", Required: true},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, env Env, args Args) Result {
	path := args.String("path", "")
	if path == "" {
		return missingArg("path")
	}
	shown, abs := resolvePath(env.WorkDir, path)
	if t.access.Hidden(env.WorkDir, abs) {
		return Result{Text: fmt.Sprintf("Error: File not found: %s", shown)}
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fileError("reading file", shown, err)
	}
	if len(content) == 0 {
		return Result{Text: "(empty file)"}
	}
	return Result{Text: string(content)}
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	access *Access
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Write content to a file. Creates the file if it doesn't exist, overwrites if it does.",
		Params: []Param{
			{Name: "path", Type: "string", Description: "The path to the file to write", Required: true},
			{Name: "content", Type: "string", Description: "The content to write to the file", Required: true},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, env Env, args Args) Result {
	path := args.String("path", "")
	content := args.String("content", "")
	if path == "" {
		return missingArg("path")
	}
	shown, abs := resolvePath(env.WorkDir, path)
	if !t.access.Writable(env.WorkDir, abs) {
		return accessDenied(shown, "read-only")
	}

	if err := writeFile(abs, content); err != nil {
		return fileError("writing file", shown, err)
	}
	return Result{Text: fmt.Sprintf("Successfully wrote %d characters to %s", utf8.RuneCountInString(content), shown)}
}

// EditFileTool replaces one exact, unique block of text in a file.
type EditFileTool struct {
	access *Access
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Replace a specific block of text in a file with new content. This is preferred over write_file for large files.",
		Params: []Param{
			{Name: "path", Type: "string", Description: "The path to the file to edit", Required: true},
			{Name: "old_content", Type: "string", Description: "The exact block of text to be replaced", Required: true},
			{Name: "new_content", Type: "string", Description: "The new text to insert instead", Required: true},
		},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, env Env, args Args) Result {
	path := args.String("path", "")
	oldContent := args.String("old_content", "")
	newContent := args.String("new_content", "")
	if path == "" {
		return missingArg("path")
	}
	shown, abs := resolvePath(env.WorkDir, path)
	if t.access.Hidden(env.WorkDir, abs) {
		return Result{Text: fmt.Sprintf("Error: File not found: %s", shown)}
	}
	if !t.access.Writable(env.WorkDir, abs) {
		return accessDenied(shown, "read-only")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fileError("editing file", shown, err)
	}
	content := string(data)

	switch n := strings.Count(content, oldContent); {
	case n == 0:
		return Result{Text: "Error: Could not find the exact 'old_content' in the file. Please make sure the search block matches exactly (including indentation and spaces)."}
	case n > 1:
		return Result{Text: fmt.Sprintf("Error: The 'old_content' block was found %d times. Please provide a more specific unique block to replace.", n)}
	}

	edited := strings.Replace(content, oldContent, newContent, 1)
	if err := writeFile(abs, edited); err != nil {
		return fileError("editing file", shown, err)
	}
	return Result{Text: fmt.Sprintf("Successfully edited %s. Replaced unique occurrence of the specified block.", shown)}
}

// ListDirectoryTool lists the visible entries of a directory.
type ListDirectoryTool struct {
	access *Access
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "List files and directories at the given path. Use this to explore the project structure.",
		Params: []Param{
			{Name: "path", Type: "string", Description: "The directory path to list (default: current directory)"},
		},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, env Env, args Args) Result {
	path := args.String("path", ".")
	if path == "" {
		path = "."
	}
	shown, abs := resolvePath(env.WorkDir, path)
	if t.access.Hidden(env.WorkDir, abs) {
		return Result{Text: fmt.Sprintf("Error: Directory not found: %s", shown)}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Text: fmt.Sprintf("Error: Directory not found: %s", shown)}
		}
		return Result{Text: fmt.Sprintf("Error listing directory: %v", err)}
	}

	// os.ReadDir returns entries sorted by name.
	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || t.access.Hidden(env.WorkDir, filepath.Join(abs, name)) {
			continue
		}
		if entry.IsDir() {
			lines = append(lines, name+"/")
			continue
		}
		info, err := entry.Info()
		if err != nil {
			lines = append(lines, name)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d bytes)", name, info.Size()))
	}
	if len(lines) == 0 {
		return Result{Text: "(empty directory)"}
	}
	return Result{Text: strings.Join(lines, "\n")}
}

// writeFile truncates and rewrites path, creating missing parent directories.
func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func fileError(action, shown string, err error) Result {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Result{Text: fmt.Sprintf("Error: File not found: %s", shown)}
	case errors.Is(err, fs.ErrPermission):
		return Result{Text: fmt.Sprintf("Error: Permission denied: %s", shown)}
	default:
		return Result{Text: fmt.Sprintf("Error %s: %v", action, err)}
	}
}
