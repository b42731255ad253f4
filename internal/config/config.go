// Package config provides roadwatch configuration management with support for
// command-line flags, environment variables, .env files and a yaml root list.
package config

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domainerrors "github.com/listenupapp/roadwatch/internal/errors"
	"github.com/listenupapp/roadwatch/internal/event"
	"github.com/listenupapp/roadwatch/internal/sink"
	"github.com/listenupapp/roadwatch/internal/snapshot"
	"github.com/listenupapp/roadwatch/internal/validation"
	"github.com/listenupapp/roadwatch/internal/watcher"
)

// Config holds the CLI configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Output OutputConfig
	Watch  WatchConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `yaml:"env" validate:"required,oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// OutputConfig controls how events are printed.
type OutputConfig struct {
	Format string `yaml:"format" validate:"oneof=text json"`
	// Events limits printed events to these types. Empty prints all.
	Events []event.Type `yaml:"events"`
}

// WatchConfig lists the roots to watch.
type WatchConfig struct {
	Roots []RootConfig `yaml:"roots" validate:"required,min=1,dive"`
	// DetectMoves pairs deletes with creates of the same file into moved events.
	DetectMoves bool `yaml:"detect_moves"`
}

// RootConfig is one watched root and its options.
type RootConfig struct {
	Path            string `yaml:"path" validate:"required"`
	watcher.Options `yaml:",inline"`
}

// fileConfig is the yaml file layout. Defaults apply to every root; a root's
// own non-zero settings win over them.
type fileConfig struct {
	Env         string          `yaml:"env"`
	LogLevel    string          `yaml:"log_level"`
	Format      string          `yaml:"format"`
	Events      []event.Type    `yaml:"events"`
	DetectMoves bool            `yaml:"detect_moves"`
	Defaults    watcher.Options `yaml:"defaults"`
	Roots       []RootConfig    `yaml:"roots"`
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. The yaml file named by --config or ROADWATCH_CONFIG.
// 5. Default values (lowest priority).
//
// Positional arguments and ROADWATCH_ROOTS name roots that replace the yaml
// root list. LoadConfig returns flag.ErrHelp when -h is given.
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("roadwatch", flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to yaml config file")
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	interval := fs.String("interval", "", "Poll interval (default: 1s)")
	hashAlgorithm := fs.String("hash-algorithm", "", "Digest for --hash: sha256, xxhash or md5 (default: sha256)")
	include := fs.String("include", "", "Comma-separated include globs (default: everything)")
	exclude := fs.String("exclude", "", "Comma-separated exclude globs")
	format := fs.String("format", "", "Output format: text or json (default: text)")
	events := fs.String("events", "", "Comma-separated event types to print, or any (default: any)")

	hash := fs.Bool("hash", false, "Compare file contents instead of size and mtime")
	noRecursive := fs.Bool("no-recursive", false, "Watch only the roots' immediate children")
	includeDirs := fs.Bool("include-dirs", false, "Report directories as well as files")
	ignoreHidden := fs.Bool("ignore-hidden", false, "Skip dot-prefixed files and directories")
	detectMoves := fs.Bool("detect-moves", false, "Report renames as moved events")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Bool flags only count when given explicitly, so env and file values
	// are not masked by their false defaults.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	boolFlag := func(name string, v bool) string {
		if !set[name] {
			return ""
		}
		return strconv.FormatBool(v)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	file, err := loadFile(getConfigValue(*configPath, "ROADWATCH_CONFIG", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", orDefault(file.Env, "development")),
		},
		Logger: LoggerConfig{
			Level: strings.ToLower(getConfigValue(*logLevel, "LOG_LEVEL", orDefault(file.LogLevel, "info"))),
		},
		Output: OutputConfig{
			Format: getConfigValue(*format, "OUTPUT_FORMAT", orDefault(file.Format, sink.FormatText)),
			Events: file.Events,
		},
		Watch: WatchConfig{
			DetectMoves: getBoolConfigValue(boolFlag("detect-moves", *detectMoves), "DETECT_MOVES", file.DetectMoves),
		},
	}

	if selector := getConfigValue(*events, "EVENTS", ""); selector != "" {
		types, err := event.ParseSelector(selector)
		if err != nil {
			return nil, fmt.Errorf("invalid events %q: %w", selector, err)
		}
		cfg.Output.Events = types
	}

	defaults := file.Defaults
	if v := getConfigValue(*interval, "POLL_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid poll interval %q: %w", v, err)
		}
		defaults.Interval = d
	}
	if v := getConfigValue(*hashAlgorithm, "HASH_ALGORITHM", ""); v != "" {
		defaults.HashAlgorithm = snapshot.Algorithm(strings.ToLower(v))
	}
	if v := getConfigValue(*include, "ROADWATCH_INCLUDE", ""); v != "" {
		defaults.Include = splitList(v)
	}
	if v := getConfigValue(*exclude, "ROADWATCH_EXCLUDE", ""); v != "" {
		defaults.Exclude = splitList(v)
	}
	defaults.UseHash = getBoolConfigValue(boolFlag("hash", *hash), "USE_HASH", defaults.UseHash)
	defaults.NonRecursive = getBoolConfigValue(boolFlag("no-recursive", *noRecursive), "NON_RECURSIVE", defaults.NonRecursive)
	defaults.IncludeDirs = getBoolConfigValue(boolFlag("include-dirs", *includeDirs), "INCLUDE_DIRS", defaults.IncludeDirs)
	defaults.IgnoreHidden = getBoolConfigValue(boolFlag("ignore-hidden", *ignoreHidden), "IGNORE_HIDDEN", defaults.IgnoreHidden)

	roots := fs.Args()
	if len(roots) == 0 {
		roots = splitList(os.Getenv("ROADWATCH_ROOTS"))
	}
	if len(roots) > 0 {
		for _, root := range roots {
			cfg.Watch.Roots = append(cfg.Watch.Roots, RootConfig{Path: root, Options: defaults})
		}
	} else {
		for _, root := range file.Roots {
			root.Options = mergeOptions(defaults, root.Options)
			cfg.Watch.Roots = append(cfg.Watch.Roots, root)
		}
	}

	for i := range cfg.Watch.Roots {
		if cfg.Watch.Roots[i].Path == "" {
			continue
		}
		expanded, err := expandPath(cfg.Watch.Roots[i].Path)
		if err != nil {
			return nil, fmt.Errorf("invalid root %q: %w", cfg.Watch.Roots[i].Path, err)
		}
		cfg.Watch.Roots[i].Path = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if len(c.Watch.Roots) == 0 {
		return domainerrors.Validation("at least one root is required (arguments, ROADWATCH_ROOTS or --config)")
	}
	return validation.New().Validate(c)
}

// mergeOptions overlays a root's non-zero settings on the shared defaults.
// Boolean settings can only be switched on per root.
func mergeOptions(defaults, root watcher.Options) watcher.Options {
	out := defaults
	if root.Interval != 0 {
		out.Interval = root.Interval
	}
	if root.StopTimeout != 0 {
		out.StopTimeout = root.StopTimeout
	}
	if root.HashAlgorithm != "" {
		out.HashAlgorithm = root.HashAlgorithm
	}
	if root.Include != nil {
		out.Include = root.Include
	}
	if root.Exclude != nil {
		out.Exclude = root.Exclude
	}
	out.NonRecursive = out.NonRecursive || root.NonRecursive
	out.UseHash = out.UseHash || root.UseHash
	out.IncludeDirs = out.IncludeDirs || root.IncludeDirs
	out.IgnoreHidden = out.IgnoreHidden || root.IgnoreHidden
	return out
}

// loadFile reads the yaml config. An empty path yields an empty config.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// expandPath expands ~ and makes the path absolute.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orDefault(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
