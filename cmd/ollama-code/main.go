package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pmnowak/ollama-code/agent"
	"github.com/pmnowak/ollama-code/agent/acp"
	"github.com/pmnowak/ollama-code/agent/terminal"
	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/llm"
	"github.com/pmnowak/ollama-code/session"
	"github.com/pmnowak/ollama-code/tools"
	"github.com/pmnowak/ollama-code/tools/mcp"
)

type options struct {
	llm           string
	model         string
	url           string
	mode          string
	dir           string
	maxIterations int
	verbosity     string
	logFile       string
	acp           bool
	prompt        string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("ollama-code", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &options{}
	fs.StringVar(&opts.llm, "llm", "", "LLM client: ollama, openai, anthropic, gemini, bedrock or mock")
	fs.StringVar(&opts.model, "model", "", "Model to use")
	fs.StringVar(&opts.url, "url", "", "Ollama server URL")
	fs.StringVar(&opts.mode, "m", "prompt", "Execution mode: 'auto' or 'prompt'")
	fs.StringVar(&opts.dir, "C", "", "Working directory (defaults to the current directory)")
	fs.IntVar(&opts.maxIterations, "max-iterations", 0, "Maximum model round-trips per request")
	fs.StringVar(&opts.verbosity, "tool-verbosity", "all", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.StringVar(&opts.logFile, "log-file", "", "Write diagnostic logs to this file")
	fs.BoolVar(&opts.acp, "acp", false, "Serve the Agent Client Protocol on stdin/stdout instead of the terminal UI")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Get initial prompt from remaining arguments
	opts.prompt = strings.Join(fs.Args(), " ")
	return opts, nil
}

// applyFlags lets explicitly set flags override the loaded configuration.
func applyFlags(cfg *config.Config, opts *options) error {
	if opts.llm != "" {
		cfg.LLMClient = opts.llm
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.url != "" {
		cfg.OllamaURL = opts.url
	}
	if opts.maxIterations != 0 {
		cfg.MaxIterations = opts.maxIterations
	}
	return cfg.Validate()
}

func setupLogging(path string) (func(), error) {
	if path == "" {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", path)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return func() { f.Close() }, nil
}

func workDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", errors.New("%s is not a directory", abs)
	}
	return abs, nil
}

func run(ctx context.Context, opts *options) error {
	closeLog, err := setupLogging(opts.logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "failed to load configuration")
	}
	if err := applyFlags(cfg, opts); err != nil {
		return err
	}

	mode, ok := agent.ParseMode(opts.mode)
	if !ok {
		return errors.New("invalid mode '%s', must be 'auto' or 'prompt'", opts.mode)
	}
	verbosity, ok := agent.ParseToolVerbosity(opts.verbosity)
	if !ok {
		return errors.New("invalid tool verbosity '%s', must be 'none', 'info', or 'all'", opts.verbosity)
	}
	dir, err := workDir(opts.dir)
	if err != nil {
		return errors.Wrapf(err, "invalid working directory")
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize %s client", cfg.LLMClient)
	}

	registry := tools.NewToolRegistry(cfg)
	servers := mcp.RegisterServers(ctx, cfg.MCPServers, registry)
	defer func() {
		for _, s := range servers {
			s.Stop()
		}
	}()

	sess := session.New(cfg.Model, dir, agent.SystemPrompt(registry.List()))
	a := agent.New(cfg, sess, registry, mode, client, verbosity)
	slog.Info("starting", "llm", cfg.LLMClient, "model", cfg.Model, "dir", dir, "mode", string(mode), "acp", opts.acp)

	if opts.acp {
		return acp.Run(ctx, a, os.Stdin, os.Stdout)
	}

	endpoint := cfg.OllamaURL
	if cfg.LLMClient != "" && cfg.LLMClient != "ollama" {
		endpoint = cfg.LLMClient
	}
	term := terminal.New(a, terminal.WithMarkdown(cfg.RenderMarkdown), terminal.WithEndpoint(endpoint))
	return term.Run(ctx, opts.prompt)
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		stop()
		os.Exit(1)
	}
}
