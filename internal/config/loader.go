package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file, or from config.yaml inside a directory.
//
// Values are layered: built-in defaults, then included files in order, then the
// root file, then RELAY_* environment variables. Tokens accumulate across files.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	root, err := readConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	cfg := Defaults()
	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, root.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}
	if err := mergeConfigFile(cfg, absPath); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Include = root.Include
	cfg.Path = absPath

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(sortedKeys(visited)); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDefaults returns the built-in defaults with RELAY_* environment
// overrides applied, for tools running without a config file.
func LoadDefaults() (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ConfigFiles returns the absolute paths of the root file and every file it includes.
func ConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}
	root, err := readConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	visited := map[string]bool{absPath: true}
	if err := loadIncludes(nil, root.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}
	return sortedKeys(visited), nil
}

func resolveRoot(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes merges each include into cfg, nested includes first. A nil cfg
// only walks the tree. visited tracks the files on the tree to reject cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		resolvedPath := includePath
		if !filepath.IsAbs(resolvedPath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		partial, err := readConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		if err := loadIncludes(cfg, partial.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
		if cfg != nil {
			if err := mergeConfigFile(cfg, absPath); err != nil {
				return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
			}
		}
	}
	return nil
}

// readConfigFile parses a single file on its own, without defaults.
func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfigFile decodes path over cfg. Keys absent from the file keep their
// current values; auth tokens are appended rather than replaced.
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	tokens := cfg.Auth.Tokens
	cfg.Auth.Tokens = nil
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		cfg.Auth.Tokens = tokens
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.Auth.Tokens = append(tokens, cfg.Auth.Tokens...)
	return nil
}

// applyConfigDefaults restores defaults for values a file explicitly blanked.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.MaxFrameSize == 0 {
		cfg.Server.MaxFrameSize = defaults.Server.MaxFrameSize
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaults.HTTP.Listen
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = defaults.Auth.Mode
	}
	if cfg.Client.Host == "" {
		cfg.Client.Host = defaults.Client.Host
	}
	if cfg.Client.Port == 0 {
		cfg.Client.Port = defaults.Client.Port
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if cfg.Client.Port <= 0 || cfg.Client.Port > 65535 {
		return fmt.Errorf("client.port must be between 1 and 65535 (got %d)", cfg.Client.Port)
	}

	switch cfg.Auth.Mode {
	case AuthModeNone:
	case AuthModeToken:
		if len(cfg.Auth.Tokens) == 0 {
			return fmt.Errorf("auth.tokens must be non-empty when auth.mode is %q", AuthModeToken)
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q (got %q)", AuthModeNone, AuthModeToken, cfg.Auth.Mode)
	}

	seen := make(map[string]bool, len(cfg.Auth.Tokens))
	for i, tok := range cfg.Auth.Tokens {
		if tok.Name == "" {
			return fmt.Errorf("auth.tokens[%d].name is required", i)
		}
		if seen[tok.Name] {
			return fmt.Errorf("auth.tokens[%d]: duplicate name %q", i, tok.Name)
		}
		seen[tok.Name] = true
		if tok.Token == "" {
			return fmt.Errorf("auth.tokens[%d].token is required", i)
		}
		if err := checkUnresolved(fmt.Sprintf("auth.tokens[%d].token", i), tok.Token); err != nil {
			return err
		}
	}
	return checkUnresolved("client.token", cfg.Client.Token)
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
