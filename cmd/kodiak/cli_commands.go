// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/internal/config"
	"github.com/AleutianAI/kodiak/internal/extension"
	"github.com/AleutianAI/kodiak/internal/lsp"
	"github.com/AleutianAI/kodiak/internal/telemetry"
)

var (
	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A CLI for talking to language servers",
		Long: `Kodiak spawns and manages language servers over stdio and exposes
diagnostics, formatting, and completions on the command line.`,
		SilenceUsage: true,
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose [files...]",
		Short: "Pull diagnostics for one or more files",
		Long:  `Opens each file with the server for its language and pulls diagnostics. Files in unsupported languages are skipped with a warning.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDiagnose,
	}

	formatWrite bool
	formatCmd   = &cobra.Command{
		Use:   "format [file]",
		Short: "Format a file with its language server",
		Long:  `Requests whole-document formatting edits and prints the result to stdout, or rewrites the file in place with --write.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat,
	}

	completeLimit int
	completeCmd   = &cobra.Command{
		Use:   "complete [file] [line] [col]",
		Short: "List completions at a position (1-indexed)",
		Args:  cobra.ExactArgs(3),
		RunE:  runComplete,
	}

	serversCmd = &cobra.Command{
		Use:   "servers",
		Short: "List configured language servers and their install state",
		RunE:  runServers,
	}

	bridgeAddr string
	bridgeCmd  = &cobra.Command{
		Use:   "bridge",
		Short: "Run the editor extension diagnostics bridge",
		Long:  `Serves a local WebSocket endpoint that editor extensions connect to for live diagnostics, plus /healthz and Prometheus /metrics.`,
		RunE:  runBridge,
	}
)

func init() {
	formatCmd.Flags().BoolVarP(&formatWrite, "write", "w", false, "rewrite the file instead of printing")
	completeCmd.Flags().IntVar(&completeLimit, "limit", 20, "maximum completions to print")
	bridgeCmd.Flags().StringVar(&bridgeAddr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(diagnoseCmd, formatCmd, completeCmd, serversCmd, bridgeCmd)
}

// =============================================================================
// DIAGNOSE
// =============================================================================

func runDiagnose(cmd *cobra.Command, args []string) error {
	pool := newPool()
	ctx := cmd.Context()
	defer pool.ShutdownAll(context.Background())

	total := 0
	for _, path := range args {
		language := config.DetectLanguage(path)
		if language == "" || !pool.IsAvailable(language) {
			fmt.Fprintf(os.Stderr, "skipping %s: no language server configured\n", path)
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		client, err := pool.GetOrSpawn(ctx, language)
		if err != nil {
			return err
		}

		uri := config.FileURI(path)
		if err := client.OpenDocument(uri, language, string(content)); err != nil {
			return err
		}

		diags := client.Diagnostics(ctx, uri)
		total += len(diags)

		if jsonOutput {
			out, _ := json.Marshal(map[string]interface{}{
				"path":        path,
				"diagnostics": diags,
			})
			fmt.Println(string(out))
			continue
		}
		for _, d := range diags {
			renderDiagnostic(path, d)
		}
	}

	if !jsonOutput && total == 0 {
		fmt.Println("no diagnostics")
	}
	return nil
}

// =============================================================================
// FORMAT
// =============================================================================

func runFormat(cmd *cobra.Command, args []string) error {
	path := args[0]
	language := config.DetectLanguage(path)
	if language == "" {
		return fmt.Errorf("cannot determine language for %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	pool := newPool()
	ctx := cmd.Context()
	defer pool.ShutdownAll(context.Background())

	client, err := pool.GetOrSpawn(ctx, language)
	if err != nil {
		return err
	}

	uri := config.FileURI(path)
	if err := client.OpenDocument(uri, language, string(content)); err != nil {
		return err
	}

	edits, err := client.FormatDocument(ctx, uri, nil)
	if err != nil {
		return err
	}
	if len(edits) == 0 {
		fmt.Fprintln(os.Stderr, "already formatted")
		if !formatWrite {
			fmt.Print(string(content))
		}
		return nil
	}

	formatted := applyEdits(string(content), edits)
	if formatWrite {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		return os.WriteFile(path, []byte(formatted), info.Mode().Perm())
	}
	fmt.Print(formatted)
	return nil
}

// applyEdits applies non-overlapping text edits to content. Edits are
// applied last-to-first so earlier offsets stay valid.
func applyEdits(content string, edits []lsp.TextEdit) string {
	sorted := make([]lsp.TextEdit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Range.Start, sorted[j].Range.Start
		if a.Line != b.Line {
			return a.Line > b.Line
		}
		return a.Character > b.Character
	})

	for _, edit := range sorted {
		start := positionOffset(content, edit.Range.Start)
		end := positionOffset(content, edit.Range.End)
		if start < 0 || end < start || end > len(content) {
			continue
		}
		content = content[:start] + edit.NewText + content[end:]
	}
	return content
}

// positionOffset converts a line/character position to a byte offset.
// Character counts UTF-16 code units, the protocol's native unit, so a
// rune outside the Basic Multilingual Plane advances it by two.
// Positions past the end of a line clamp to the line end.
func positionOffset(content string, pos lsp.Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		next := strings.IndexByte(content[offset:], '\n')
		if next < 0 {
			return len(content)
		}
		offset += next + 1
	}
	lineEnd := strings.IndexByte(content[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(content) - offset
	}

	units := 0
	for i, r := range content[offset : offset+lineEnd] {
		if units >= pos.Character {
			return offset + i
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
	}
	return offset + lineEnd
}

// =============================================================================
// COMPLETE
// =============================================================================

func runComplete(cmd *cobra.Command, args []string) error {
	path := args[0]
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q", args[1])
	}
	col, err := strconv.Atoi(args[2])
	if err != nil || col < 1 {
		return fmt.Errorf("invalid column %q", args[2])
	}

	language := config.DetectLanguage(path)
	if language == "" {
		return fmt.Errorf("cannot determine language for %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	pool := newPool()
	ctx := cmd.Context()
	defer pool.ShutdownAll(context.Background())

	client, err := pool.GetOrSpawn(ctx, language)
	if err != nil {
		return err
	}

	uri := config.FileURI(path)
	if err := client.OpenDocument(uri, language, string(content)); err != nil {
		return err
	}

	items, err := client.Completions(ctx, uri, lsp.Position{Line: line - 1, Character: col - 1})
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.Marshal(items)
		fmt.Println(string(out))
		return nil
	}

	if len(items) == 0 {
		fmt.Println("no completions")
		return nil
	}
	for i, item := range items {
		if i >= completeLimit {
			fmt.Printf("... and %d more\n", len(items)-completeLimit)
			break
		}
		if item.Detail != "" {
			fmt.Printf("%s\t%s\n", item.Label, styles.Muted.Render(item.Detail))
		} else {
			fmt.Println(item.Label)
		}
	}
	return nil
}

// =============================================================================
// SERVERS
// =============================================================================

func runServers(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		type serverStatus struct {
			Name      string   `json:"name"`
			Command   string   `json:"command"`
			Languages []string `json:"languages"`
			Installed bool     `json:"installed"`
		}
		statuses := make([]serverStatus, 0, len(cfg.Servers))
		for _, srv := range cfg.Servers {
			_, err := exec.LookPath(srv.Command)
			statuses = append(statuses, serverStatus{
				Name:      srv.Name,
				Command:   srv.Command,
				Languages: srv.Languages,
				Installed: err == nil,
			})
		}
		out, _ := json.Marshal(statuses)
		fmt.Println(string(out))
		return nil
	}

	renderHeading("Configured language servers")
	for _, srv := range cfg.Servers {
		_, err := exec.LookPath(srv.Command)
		renderStatus(srv.Name, err == nil, srv.Languages)
	}
	return nil
}

// =============================================================================
// BRIDGE
// =============================================================================

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.ServiceName = "kodiak-bridge"
	telemetryCfg.MetricExporter = "prometheus"
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())

	pool := newPool()
	defer pool.ShutdownAll(context.Background())

	configFile := configPath
	if configFile == "" {
		configFile, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	watcher, err := config.NewWatcher(configFile, func(next config.Config) {
		pool.UpdateConfigs(next.Servers)
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Stop()

	addr := bridgeAddr
	if addr == "" {
		addr = cfg.Bridge.Addr
	}
	if addr == "" {
		addr = "127.0.0.1:7463"
	}

	bridge := extension.NewBridge(addr, pool)
	return bridge.Run(ctx)
}
