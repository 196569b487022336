package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pmnowak/ollama-code/errors"
)

// binarySniffLen is how much of a file is inspected for NUL bytes before it
// is treated as binary and skipped.
const binarySniffLen = 8000

// maxLineLen is the longest line scanned. Files with a longer line are
// skipped from that line on and named in the result.
const maxLineLen = 1024 * 1024

// SearchFilesTool greps files below a directory for a regular expression.
type SearchFilesTool struct {
	access     *Access
	maxResults int
	timeout    time.Duration
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Search for a pattern in files. Useful for finding where something is defined or used.",
		Params: []Param{
			{Name: "pattern", Type: "string", Description: "The search pattern (supports regex)", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search in (default: current directory)"},
			{Name: "file_pattern", Type: "string", Description: "File pattern to filter, e.g., '*.py' (optional)"},
		},
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, env Env, args Args) Result {
	pattern := args.String("pattern", "")
	path := args.String("path", ".")
	filePattern := args.String("file_pattern", "")
	if pattern == "" {
		return missingArg("pattern")
	}
	if path == "" {
		path = "."
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Result{Text: fmt.Sprintf("Error searching: invalid pattern: %v", err)}
	}
	if filePattern != "" && !doublestar.ValidatePattern(filePattern) {
		return Result{Text: fmt.Sprintf("Error searching: invalid file pattern: %s", filePattern)}
	}

	maxResults := t.maxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	timeout := t.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, root := resolvePath(env.WorkDir, path)
	s := &searcher{
		re:          re,
		filePattern: filePattern,
		access:      t.access,
		workDir:     env.WorkDir,
		limit:       maxResults,
	}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.visit(p, d, err, p == root)
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Result{Text: "Error: Search timed out"}
	case errors.Is(err, fs.ErrNotExist) && len(s.matches) == 0:
		return Result{Text: fmt.Sprintf("No matches found for pattern: %s", pattern)}
	case err != nil && !errors.Is(err, filepath.SkipAll):
		return Result{Text: fmt.Sprintf("Error searching: %v", err)}
	}

	text := strings.Join(s.matches, "\n")
	if len(s.matches) == 0 {
		text = fmt.Sprintf("No matches found for pattern: %s", pattern)
	}
	if len(s.skipped) > 0 {
		text += fmt.Sprintf("\n(not fully searched: %s)", strings.Join(s.skipped, ", "))
	}
	return Result{Text: text}
}

type searcher struct {
	re          *regexp.Regexp
	filePattern string
	access      *Access
	workDir     string
	limit       int
	matches     []string
	// skipped lists files whose scan stopped early.
	skipped []string
}

func (s *searcher) visit(p string, d fs.DirEntry, walkErr error, isRoot bool) error {
	if walkErr != nil {
		if isRoot {
			return walkErr
		}
		// Unreadable entries below the root are skipped, like grep -s.
		return nil
	}
	if !isRoot && strings.HasPrefix(d.Name(), ".") {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if s.access.Hidden(s.workDir, p) {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if d.IsDir() || !d.Type().IsRegular() {
		return nil
	}
	if s.filePattern != "" {
		if ok, _ := doublestar.Match(s.filePattern, d.Name()); !ok {
			return nil
		}
	}
	return s.scanFile(p)
}

func (s *searcher) scanFile(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return nil
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	head, _ := reader.Peek(binarySniffLen)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil
	}

	shown := p
	if rel, err := filepath.Rel(s.workDir, p); err == nil && !strings.HasPrefix(rel, "..") {
		shown = rel
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineLen)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !s.re.MatchString(line) {
			continue
		}
		s.matches = append(s.matches, fmt.Sprintf("%s:%d:%s", filepath.ToSlash(shown), lineNo, line))
		if len(s.matches) >= s.limit {
			return filepath.SkipAll
		}
	}
	if err := scanner.Err(); err != nil {
		s.skipped = append(s.skipped, fmt.Sprintf("%s (after line %d: %v)", filepath.ToSlash(shown), lineNo, err))
	}
	return nil
}
