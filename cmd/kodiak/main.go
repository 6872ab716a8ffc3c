// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kodiak talks to language servers from the terminal.
//
// It spawns the configured server for a file's language over stdio,
// performs the LSP handshake, and exposes diagnostics, formatting, and
// completions as CLI subcommands. The bridge subcommand runs a local
// WebSocket endpoint that streams diagnostics to editor extensions.
//
// # Usage
//
//	kodiak diagnose main.go
//	kodiak format --write main.go
//	kodiak complete main.go 10 4
//	kodiak servers
//	kodiak bridge
package main

import (
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/internal/config"
	"github.com/AleutianAI/kodiak/internal/lsp"
	"github.com/AleutianAI/kodiak/pkg/logging"
)

var (
	cfg    config.Config
	logger *logging.Logger

	configPath     string
	verbose        bool
	jsonOutput     bool
	requestTimeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.kodiak/kodiak.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 0, "per-request timeout (default from config)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := logging.ParseLevel(cfg.Logging.Level)
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.Setup(logging.Config{
			Level:   level,
			LogDir:  cfg.Logging.Dir,
			Service: "cli",
			JSON:    cfg.Logging.JSON,
		})
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}
}

// newPool builds the server pool from the loaded configuration.
func newPool() *lsp.Pool {
	timeout := cfg.RequestTimeout.Std()
	if requestTimeout > 0 {
		timeout = requestTimeout
	}
	var opts []lsp.ClientOption
	if timeout > 0 {
		opts = append(opts, lsp.WithRequestTimeout(timeout))
	}
	return lsp.NewPool(cfg.Servers, opts...)
}
