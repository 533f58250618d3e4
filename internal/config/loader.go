package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KNOWME_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// apiKeyFallbacks are read when the matching setting is still empty after
// file and KNOWME_ overrides.
var apiKeyFallbacks = map[string]string{
	"llm":      "GEMINI_API_KEY",
	"reranker": "COHERE_API_KEY",
}

// Load loads configuration from a YAML file, then overrides it with
// environment variables and applies defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (KNOWME_SERVER_PORT, KNOWME_LLM_API_KEY, etc.)
//  2. YAML config file
//  3. Hardcoded defaults
//
// An empty path means DefaultPath, which may be absent. An explicit path
// must exist.
//
// # Security Considerations
//
// Configuration files hold API keys, so they must have 0600 or 0400
// permissions, be at most 1MB, and live under ~/.config/knowme/,
// /etc/knowme/ or the working directory.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates the section
// from the field name:
//
//	KNOWME_SERVER_PORT        -> server.port
//	KNOWME_LLM_API_KEY        -> llm.api_key
//	KNOWME_RETRIEVAL_TOP_K    -> retrieval.top_k
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	content, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No file: env and defaults only.
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyKeyFallbacks(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns ~/.config/knowme/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "knowme", "config.yaml"), nil
}

// envKey maps KNOWME_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func applyKeyFallbacks(cfg *Config) {
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv(apiKeyFallbacks["llm"]))
	}
	if !cfg.Reranker.APIKey.IsSet() {
		cfg.Reranker.APIKey = Secret(os.Getenv(apiKeyFallbacks["reranker"]))
	}
}

// readConfigFile validates and reads the file through one descriptor so
// the checked file is the one that gets read.
func readConfigFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks that path resolves into an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	// Symlinks must not escape the allowed directories. Paths that do not
	// exist yet are checked as written.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	for _, dir := range allowedConfigDirs() {
		if within(resolved, dir) {
			return nil
		}
	}
	return errors.New("config file must be in ~/.config/knowme/, /etc/knowme/ or the working directory")
}

func allowedConfigDirs() []string {
	dirs := []string{"/etc/knowme"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "knowme"))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	for i, d := range dirs {
		if r, err := filepath.EvalSymlinks(d); err == nil {
			dirs[i] = r
		}
	}
	return dirs
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config file is not a regular file")
	}
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// EnsureConfigDir creates ~/.config/knowme with 0700 permissions.
func EnsureConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "knowme")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}
