package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pmnowak/ollama-code/config"
)

// Access applies the configured hidden and read-only glob rules. Patterns are
// matched against the slash-separated path relative to the working directory
// and against the absolute path, so both "secrets/**" and "/etc/**" work.
type Access struct {
	hidden   []string
	readOnly []string
}

func NewAccess(fs config.FilesystemAccess) *Access {
	return &Access{hidden: fs.Hidden, readOnly: fs.ReadOnly}
}

// Hidden reports whether abs must be invisible to every tool.
func (a *Access) Hidden(workDir, abs string) bool {
	if a == nil {
		return false
	}
	return matchesAny(a.hidden, workDir, abs)
}

// Writable reports whether abs may be created or modified.
func (a *Access) Writable(workDir, abs string) bool {
	if a == nil {
		return true
	}
	return !matchesAny(a.hidden, workDir, abs) && !matchesAny(a.readOnly, workDir, abs)
}

func matchesAny(patterns []string, workDir, abs string) bool {
	candidates := []string{filepath.ToSlash(abs)}
	if rel, err := filepath.Rel(workDir, abs); err == nil && !strings.HasPrefix(rel, "..") {
		candidates = append(candidates, filepath.ToSlash(rel))
	}
	for _, pattern := range patterns {
		for _, c := range candidates {
			match, err := doublestar.Match(pattern, c)
			if err != nil {
				slog.Warn("invalid filesystem access pattern", "pattern", pattern, "error", err)
				break
			}
			if match {
				return true
			}
		}
	}
	return false
}

// expandPath replaces a leading "~" with the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// resolvePath returns the expanded form of path (used in messages back to the
// model) and the absolute path the tool should touch.
func resolvePath(workDir, path string) (shown, abs string) {
	shown = expandPath(path)
	abs = shown
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workDir, abs)
	}
	return shown, filepath.Clean(abs)
}

// Resolve returns the absolute path tools would use for path, expanding "~"
// and resolving relative paths against workDir.
func Resolve(workDir, path string) string {
	_, abs := resolvePath(workDir, path)
	return abs
}

func accessDenied(path, why string) Result {
	return Result{Text: fmt.Sprintf("Error: Access denied: %s is %s", path, why)}
}

func missingArg(name string) Result {
	return Result{Text: fmt.Sprintf("Error: missing required argument '%s'", name)}
}
