// Package config loads CLI configuration the way the teacher loads
// its own: flags take precedence over a .codecrawler.env file (parsed
// with joho/godotenv), which takes precedence over an optional
// codecrawler.toml project file (parsed with pelletier/go-toml/v2) for
// settings better expressed as structured data.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// CLIConfig holds the settings every crawl/status/watch invocation
// needs, generalized from the teacher's own CLIConfig.
type CLIConfig struct {
	Root            string   `toml:"root"`
	AutoFix         bool     `toml:"auto_fix"`
	Concurrency     int      `toml:"concurrency"`
	Extensions      []string `toml:"extensions"`
	SkipUnchanged   bool     `toml:"skip_unchanged"`
	NoOptimize      bool     `toml:"no_optimize"`
	DataDir         string   `toml:"data_dir"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`

	// Project carries the structured settings read from
	// codecrawler.toml that aren't simple CLI scalars: extension size
	// ceilings, excluded directory names, health-source threshold and limit.
	Project ProjectConfig `toml:"project"`

	// MCPServerCommand, when non-empty, names an external MCP server
	// process (argv form) to back the Review Client, Generator cascade,
	// and Search adapters. Left empty, codecrawler falls back to the
	// in-process fakes.
	MCPServerCommand []string `toml:"mcp_server_command"`
}

// ProjectConfig is the structured data codecrawler.toml supplies:
// extension size ceilings, excluded directory names, and the
// health-score source's threshold and limit. Gate thresholds are not
// configurable here, and SizeCeilings is parsed but not applied: the
// analyzer always uses its built-in analyzer.SizeCeilings table.
type ProjectConfig struct {
	SizeCeilings    map[string]int64 `toml:"size_ceilings"`
	ExcludedDirs    []string         `toml:"excluded_dirs"`
	HealthThreshold int              `toml:"health_threshold"`
	HealthLimit     int              `toml:"health_limit"`
}

// DefaultEnvFile and DefaultTOMLFile are the teacher's own config-file
// naming convention, generalized to this project.
const (
	DefaultEnvFile  = ".codecrawler.env"
	DefaultTOMLFile = "codecrawler.toml"
)

// Defaults returns the baseline CLIConfig before any file or flag
// overrides are applied.
func Defaults() CLIConfig {
	return CLIConfig{
		Root:          ".",
		Concurrency:   0, // 0 means "use scheduler.DefaultConcurrency()"
		Extensions:    []string{".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb"},
		DataDir:       ".codecrawler",
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds a CLIConfig from, in ascending precedence: built-in
// defaults, codecrawler.toml (if present), .codecrawler.env (if
// present), then the explicit overrides passed in flags (already
// parsed by the caller's cobra command).
func Load(envPath, tomlPath string, flags map[string]string) (CLIConfig, error) {
	cfg := Defaults()

	if tomlPath != "" {
		if data, err := os.ReadFile(tomlPath); err == nil {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return CLIConfig{}, fmt.Errorf("config: parsing %s: %w", tomlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return CLIConfig{}, fmt.Errorf("config: reading %s: %w", tomlPath, err)
		}
	}

	if envPath != "" {
		if env, err := godotenv.Read(envPath); err == nil {
			applyEnv(&cfg, env)
		} else if !os.IsNotExist(err) {
			return CLIConfig{}, fmt.Errorf("config: reading %s: %w", envPath, err)
		}
	}

	applyFlags(&cfg, flags)
	return cfg, nil
}

func applyEnv(cfg *CLIConfig, env map[string]string) {
	if v, ok := env["CODECRAWLER_ROOT"]; ok {
		cfg.Root = v
	}
	if v, ok := env["CODECRAWLER_AUTO_FIX"]; ok {
		cfg.AutoFix = v == "true" || v == "1"
	}
	if v, ok := env["CODECRAWLER_CONCURRENCY"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v, ok := env["CODECRAWLER_EXTENSIONS"]; ok {
		cfg.Extensions = splitCSV(v)
	}
	if v, ok := env["CODECRAWLER_DATA_DIR"]; ok {
		cfg.DataDir = v
	}
	if v, ok := env["CODECRAWLER_LOG_LEVEL"]; ok {
		cfg.LogLevel = v
	}
	if v, ok := env["CODECRAWLER_LOG_FORMAT"]; ok {
		cfg.LogFormat = v
	}
	if v, ok := env["CODECRAWLER_MCP_COMMAND"]; ok && v != "" {
		cfg.MCPServerCommand = strings.Fields(v)
	}
}

func applyFlags(cfg *CLIConfig, flags map[string]string) {
	if v, ok := flags["root"]; ok && v != "" {
		cfg.Root = v
	}
	if v, ok := flags["auto-fix"]; ok {
		cfg.AutoFix = v == "true"
	}
	if v, ok := flags["concurrency"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v, ok := flags["extensions"]; ok && v != "" {
		cfg.Extensions = splitCSV(v)
	}
	if v, ok := flags["skip-unchanged"]; ok {
		cfg.SkipUnchanged = v == "true"
	}
	if v, ok := flags["no-optimize"]; ok {
		cfg.NoOptimize = v == "true"
	}
	if v, ok := flags["log-level"]; ok && v != "" {
		cfg.LogLevel = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
