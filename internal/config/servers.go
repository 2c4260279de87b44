package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/telnet2/mcpchat/internal/mcp"
)

// serverEntry mirrors mcp.ServerConfig with a tri-state Enabled so that an
// entry without the field defaults to enabled.
type serverEntry struct {
	Name        string            `json:"name" yaml:"name"`
	Command     string            `json:"command" yaml:"command"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir         string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// DefaultServers is written to the configuration path on first run.
var DefaultServers = []mcp.ServerConfig{
	{
		Name:        "filesystem",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
		Description: "File system operations server",
		Enabled:     true,
	},
	{
		Name:        "brave-search",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-brave-search"},
		Description: "Web search using Brave Search API",
		Env:         map[string]string{"BRAVE_API_KEY": "{env:BRAVE_API_KEY}"},
		Enabled:     false,
	},
	{
		Name:        "git",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-git", "--repository", "."},
		Description: "Git repository operations",
		Enabled:     true,
	},
}

// LoadServers reads server definitions from path. The format follows the
// extension: .yaml/.yml is parsed as YAML, anything else as JSON with
// comments allowed. {env:VAR} placeholders are interpolated before parsing.
// If the file does not exist it is created with DefaultServers.
func LoadServers(path string) ([]mcp.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := SaveServers(path, DefaultServers); werr != nil {
			return nil, fmt.Errorf("write default server config: %w", werr)
		}
		return DefaultServers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}

	data = interpolateEnv(data)

	var entries []serverEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	configs := make([]mcp.ServerConfig, 0, len(entries))
	for _, e := range entries {
		cfg := mcp.ServerConfig{
			Name:        e.Name,
			Command:     e.Command,
			Args:        e.Args,
			Env:         e.Env,
			Dir:         e.Dir,
			Description: e.Description,
			Enabled:     e.Enabled == nil || *e.Enabled,
		}
		configs = append(configs, cfg)
	}

	if err := ValidateServers(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// SaveServers writes server definitions as indented JSON, creating parent
// directories as needed.
func SaveServers(path string, servers []mcp.ServerConfig) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ValidateServers rejects definitions the supervisor cannot work with:
// empty names, names containing '.', empty commands and duplicate names.
// Qualified tool names use '.' as the separator, so it cannot appear in a
// server name.
func ValidateServers(servers []mcp.ServerConfig) error {
	seen := make(map[string]bool, len(servers))
	for i, cfg := range servers {
		switch {
		case cfg.Name == "":
			return fmt.Errorf("server #%d: name is required", i+1)
		case strings.Contains(cfg.Name, "."):
			return fmt.Errorf("server %q: name must not contain '.'", cfg.Name)
		case cfg.Command == "":
			return fmt.Errorf("server %q: command is required", cfg.Name)
		case seen[cfg.Name]:
			return fmt.Errorf("server %q: duplicate name", cfg.Name)
		}
		seen[cfg.Name] = true
	}
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolateEnv replaces {env:VAR} placeholders with the variable's value.
// Unset variables become empty strings.
func interpolateEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
