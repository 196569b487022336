package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmnowak/ollama-code/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the directory, under the user's home and under the project,
// that holds config.yaml.
const DirName = ".ollama-code"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Config struct {
	LLMClient        string           `yaml:"llm"`
	Model            string           `yaml:"model"`
	OllamaURL        string           `yaml:"ollama_url"`
	ContextWindow    int              `yaml:"context_window"`
	MaxIterations    int              `yaml:"max_iterations"`
	RequestTimeout   time.Duration    `yaml:"request_timeout"`
	CommandTimeout   time.Duration    `yaml:"command_timeout"`
	SearchTimeout    time.Duration    `yaml:"search_timeout"`
	SearchMaxResults int              `yaml:"search_max_results"`
	AutoApproveReads bool             `yaml:"auto_approve_reads"`
	RenderMarkdown   bool             `yaml:"render_markdown"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	MCPServers       []MCPServer      `yaml:"mcp_servers"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		LLMClient:        "ollama",
		Model:            "qwen2.5-coder:7b",
		OllamaURL:        "http://localhost:11434",
		ContextWindow:    8192,
		MaxIterations:    20,
		RequestTimeout:   120 * time.Second,
		CommandTimeout:   60 * time.Second,
		SearchTimeout:    30 * time.Second,
		SearchMaxResults: 50,
		AutoApproveReads: true,
		RenderMarkdown:   true,
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{DirName, DirName + "/**"},
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	return Load(home, wd)
}

// Load layers <homeDir>/.ollama-code/config.yaml and then
// <workDir>/.ollama-code/config.yaml over Default. Either directory may be
// empty to skip that layer. OLLAMA_HOST, when set, overrides ollama_url.
func Load(homeDir, workDir string) (*Config, error) {
	cfg := Default()

	if homeDir != "" {
		userConfigPath := filepath.Join(homeDir, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	if workDir != "" {
		projectConfigPath := filepath.Join(workDir, DirName, "config.yaml")
		if _, err := os.Stat(projectConfigPath); err == nil {
			if err := loadFromFile(projectConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading project config")
			}
		}
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.OllamaURL = normalizeHost(host)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal only overwrites keys present in the file, so a project file
	// that sets just "model" keeps everything else from the user layer.
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects values the agent cannot run with.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if c.MaxIterations < 1 {
		return errors.New("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ContextWindow < 0 {
		return errors.New("context_window must not be negative, got %d", c.ContextWindow)
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command_timeout must be positive")
	}
	if c.SearchTimeout <= 0 {
		return errors.New("search_timeout must be positive")
	}
	if c.SearchMaxResults < 1 {
		return errors.New("search_max_results must be at least 1, got %d", c.SearchMaxResults)
	}
	for _, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("mcp server entries need both name and command")
		}
	}
	return nil
}

// normalizeHost accepts the forms OLLAMA_HOST is commonly set to
// ("0.0.0.0:11434", "host", "http://host:port") and returns a base URL.
func normalizeHost(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, "11434")
}
