package config

import (
	"fmt"
	"io"
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
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces docsearchd environment variables.
	envPrefix = "DOCSEARCHD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DOCSEARCHD_STORAGE_PATH, DOCSEARCHD_SEARCH_TOP_K, ...)
//  2. YAML config file (~/.config/docsearchd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path is used.
//
// # Security Considerations
//
// The config file may carry the embedding API key, so the loader enforces
// 0600/0400 permissions, rejects paths outside ~/.config/docsearchd/ and
// /etc/docsearchd/, and caps the file size at 1MB.
//
// # Environment Variable Mapping
//
// After the DOCSEARCHD_ prefix, the first underscore separates the section
// from the field name:
//
//	DOCSEARCHD_STORAGE_PATH        -> storage.path
//	DOCSEARCHD_CHUNKING_CHUNK_SIZE -> chunking.chunk_size
//	DOCSEARCHD_EMBEDDINGS_API_KEY  -> embeddings.api_key
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "docsearchd", "config.yaml")
	}

	// Validate config path (even if the file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the file descriptor to avoid a TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
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

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use the rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables. The first underscore after the
	// prefix separates the section from the field name; further underscores
	// stay in the field name (chunk_size, top_k, api_key).
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal on top of defaults so unset fields keep their default values
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// EnsureConfigDir creates the docsearchd config directory if it doesn't exist.
// The directory is created with 0700 permissions (owner only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "docsearchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Symlink evaluation fails for paths that don't exist yet;
		// validate the absolute path instead.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "docsearchd"),
		"/etc/docsearchd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/docsearchd/ or /etc/docsearchd/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid a TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip the permission check on Windows (different permission model)
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
