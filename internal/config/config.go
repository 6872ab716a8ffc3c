// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the language server configuration
// file and maps file paths to language ids.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/kodiak/internal/lsp"
)

// validate is the shared validator instance for config structs.
var validate = validator.New()

// Duration decodes Go duration strings ("30s", "2m") from YAML.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML emits the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the top-level configuration file shape.
type Config struct {
	// Servers lists the configured language servers.
	Servers []lsp.ServerConfig `yaml:"servers" validate:"required,min=1,dive"`

	// RequestTimeout bounds each LSP request. Zero uses the default.
	RequestTimeout Duration `yaml:"requestTimeout,omitempty"`

	// Logging configures the log output.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// Bridge configures the editor diagnostics bridge.
	Bridge BridgeConfig `yaml:"bridge,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// JSON switches the output format to JSON lines.
	JSON bool `yaml:"json,omitempty"`

	// Dir is the log directory; empty logs to stderr only.
	Dir string `yaml:"dir,omitempty"`
}

// BridgeConfig controls the WebSocket diagnostics bridge.
type BridgeConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the built-in server registry. It covers the
// servers most editors ship integrations for; a config file replaces it
// entirely.
func DefaultConfig() Config {
	return Config{
		Servers: []lsp.ServerConfig{
			{
				Name:      "gopls",
				Command:   "gopls",
				Args:      []string{"serve"},
				Languages: []string{"go"},
			},
			{
				Name:      "typescript-language-server",
				Command:   "typescript-language-server",
				Args:      []string{"--stdio"},
				Languages: []string{"typescript", "typescriptreact", "javascript", "javascriptreact"},
			},
			{
				Name:      "pyright",
				Command:   "pyright-langserver",
				Args:      []string{"--stdio"},
				Languages: []string{"python"},
			},
			{
				Name:      "rust-analyzer",
				Command:   "rust-analyzer",
				Languages: []string{"rust"},
			},
		},
		Logging: LoggingConfig{Level: "info"},
		Bridge:  BridgeConfig{Addr: "127.0.0.1:7463"},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".kodiak", "kodiak.yaml"), nil
}

// Load reads a config file, creating it with defaults on first run.
//
// Inputs:
//
//	path - Config file path; empty uses DefaultPath
//
// Outputs:
//
//	Config - The validated configuration
//	error - Non-nil on read, parse, or validation failure
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML config bytes.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// writeDefault creates the config file with the built-in registry.
func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// =============================================================================
// LANGUAGE DETECTION
// =============================================================================

// extensionLanguages maps file extensions to language ids.
var extensionLanguages = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".py":   "python",
	".pyi":  "python",
	".rs":   "rust",
	".rb":   "ruby",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".md":   "markdown",
	".sh":   "shellscript",
}

// DetectLanguage maps a file path to its language id. Returns "" for
// unknown extensions.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return extensionLanguages[ext]
}

// FileURI converts a filesystem path to a file:// URI, absolutizing
// relative paths against the working directory.
func FileURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return "file://" + filepath.ToSlash(path)
}
