// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Version is the client version reported in the initialize handshake.
const Version = "0.3.0"

// shutdownGrace bounds the graceful shutdown request and the wait for
// process exit before the process is killed.
const shutdownGrace = 5 * time.Second

// =============================================================================
// CONFIGURATION
// =============================================================================

// ServerConfig identifies a language server executable and the languages
// it serves. Immutable after construction.
type ServerConfig struct {
	// Name is the human-readable server name ("gopls").
	Name string `yaml:"name" validate:"required"`

	// Command is the executable to spawn.
	Command string `yaml:"command" validate:"required"`

	// Args are the command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env contains additional environment variables for the process.
	Env map[string]string `yaml:"env,omitempty"`

	// Languages are the language ids this server handles.
	Languages []string `yaml:"languages" validate:"required,min=1"`

	// RootURI is the workspace root (file:// scheme). Defaults to the
	// current working directory.
	RootURI string `yaml:"rootUri,omitempty"`
}

// rootPath returns the filesystem path behind RootURI, or the working
// directory when unset.
func (c ServerConfig) rootPath() string {
	if strings.HasPrefix(c.RootURI, "file://") {
		return strings.TrimPrefix(c.RootURI, "file://")
	}
	if c.RootURI != "" {
		return c.RootURI
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// rootURI returns RootURI, deriving a file:// URI from the working
// directory when unset.
func (c ServerConfig) rootURI() string {
	if c.RootURI != "" {
		return c.RootURI
	}
	return "file://" + c.rootPath()
}

// =============================================================================
// CLIENT STATE
// =============================================================================

// ClientState represents the client lifecycle state.
type ClientState int

const (
	// StateDisconnected is the initial state before Start.
	StateDisconnected ClientState = iota

	// StateStarting means the process is spawning and handshaking.
	StateStarting

	// StateReady is the only state in which requests may be sent.
	StateReady

	// StateStopped means Stop completed; Start may be called again.
	StateStopped

	// StateErrored is the absorbing failure state; an explicit Start is
	// required to recover.
	StateErrored
)

// String returns a human-readable state name.
func (s ClientState) String() string {
	names := []string{"disconnected", "starting", "ready", "stopped", "errored"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Client owns one language server process and exposes the typed request
// API on top of it.
//
// Description:
//
//	Start spawns the configured executable, pumps its stdout through the
//	frame codec, performs the initialize handshake, and records the
//	server's capabilities. The high-level operations are capability
//	gated: an absent capability yields an empty result with zero wire
//	traffic. The process's stdin and stdout are exclusively owned by
//	this instance; clients never share a process.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	config  ServerConfig
	timeout time.Duration

	correlator *Correlator
	events     *Emitter
	caps       *CapabilityStore
	docs       *DocumentTracker

	mu       sync.Mutex
	state    ClientState
	stopping bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	cancel   context.CancelFunc
	readDone chan struct{}
	exited   chan struct{}

	writeMu sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for the given server configuration. The
// client is not started; call Start to spawn the process.
func NewClient(config ServerConfig, opts ...ClientOption) *Client {
	c := &Client{
		config:  config,
		timeout: DefaultRequestTimeout,
		events:  NewEmitter(),
		caps:    NewCapabilityStore(),
		docs:    NewDocumentTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.correlator = NewCorrelator(c.timeout)
	return c
}

// Config returns the server configuration.
func (c *Client) Config() ServerConfig {
	return c.config
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady returns true if the client can send requests.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

// Capabilities returns the server's advertised capabilities, or nil
// before Start completes and after Stop.
func (c *Client) Capabilities() *ServerCapabilities {
	return c.caps.Get()
}

// On registers an event handler. See Event for payload types.
func (c *Client) On(event Event, fn Handler) Subscription {
	return c.events.On(event, fn)
}

// Once registers a handler removed after its first invocation.
func (c *Client) Once(event Event, fn Handler) Subscription {
	return c.events.Once(event, fn)
}

// Off removes an event handler registration.
func (c *Client) Off(sub Subscription) {
	c.events.Off(sub)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start spawns the server process and performs the initialize handshake.
//
// Description:
//
//	Transitions Disconnected (or Stopped/Errored) to Starting, spawns the
//	process with piped stdio, wires stdout into the frame codec, sends
//	initialize, records capabilities, sends the initialized notification,
//	and transitions to Ready. Spawn or handshake failure transitions to
//	Errored and emits an error event with the cause.
//
// Inputs:
//
//	ctx - Context bounding the spawn and handshake
//
// Outputs:
//
//	error - ErrAlreadyStarted, ErrNotInstalled, or a wrapped
//	        ErrInitializeFailed
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.mu.Lock()
	if c.state == StateStarting || c.state == StateReady {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateStarting
	c.stopping = false
	c.mu.Unlock()

	path, err := exec.LookPath(c.config.Command)
	if err != nil {
		spawnErr := fmt.Errorf("%w: %s", ErrNotInstalled, c.config.Command)
		c.failStartup(spawnErr)
		recordServerSpawn(ctx, c.config.Name, false)
		slog.Warn("LSP server not installed",
			slog.String("server", c.config.Name),
			slog.String("command", c.config.Command),
		)
		return spawnErr
	}

	slog.Info("Starting LSP server",
		slog.String("server", c.config.Name),
		slog.String("command", path),
		slog.String("root", c.config.rootPath()),
	)

	// The process context outlives the caller's context; the server runs
	// until Stop or its own exit.
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, path, c.config.Args...)
	cmd.Dir = c.config.rootPath()
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		c.failStartup(fmt.Errorf("stdin pipe: %w", err))
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		c.failStartup(fmt.Errorf("stdout pipe: %w", err))
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		c.failStartup(fmt.Errorf("stderr pipe: %w", err))
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		recordServerSpawn(ctx, c.config.Name, false)
		spawnErr := fmt.Errorf("start process: %w", err)
		c.failStartup(spawnErr)
		return spawnErr
	}
	recordServerSpawn(ctx, c.config.Name, true)

	exited := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.cancel = cancel
	c.exited = exited
	c.mu.Unlock()

	c.attach(stdin, stdout)
	go c.drainStderr(stderr)
	go func() {
		// Sole waiter on the process; Stop observes exit through the
		// exited channel rather than waiting a second time.
		err := cmd.Wait()
		c.handleExit(cmd, err)
		close(exited)
	}()

	if err := c.handshake(ctx); err != nil {
		handshakeErr := fmt.Errorf("%w: %v", ErrInitializeFailed, err)
		c.teardownProcess()
		c.failStartup(handshakeErr)
		return handshakeErr
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	caps := c.caps.Get()
	slog.Info("LSP server ready",
		slog.String("server", c.config.Name),
		slog.Bool("completion", caps.HasCompletionProvider()),
		slog.Bool("code_actions", caps.HasCodeActionProvider()),
		slog.Bool("formatting", caps.HasDocumentFormattingProvider()),
		slog.Bool("diagnostics", caps.HasDiagnosticProvider()),
	)

	return nil
}

// Stop shuts the client down from any state.
//
// Description:
//
//	Attempts a graceful shutdown (best-effort shutdown request plus exit
//	notification), terminates the process, rejects every pending request
//	with ErrClientShutdown, clears the capability store and document
//	tracker, and transitions to Stopped. Calling Stop on a client that
//	never started still clears state. Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	wasRunning := c.state == StateReady || c.state == StateStarting
	c.stopping = true
	c.state = StateStopped
	stdin := c.stdin
	cmd := c.cmd
	cancel := c.cancel
	readDone := c.readDone
	exited := c.exited
	c.mu.Unlock()

	if wasRunning {
		slog.Info("Shutting down LSP server", slog.String("server", c.config.Name))

		// Best-effort graceful sequence; failures fall through to kill.
		gracefulCtx, gracefulCancel := context.WithTimeout(ctx, shutdownGrace)
		_, _ = c.correlator.Send(gracefulCtx, MethodShutdown, nil)
		gracefulCancel()
		_ = c.writeNotification(MethodExit, nil)
	}

	c.correlator.FailAll(ErrClientShutdown)

	if stdin != nil {
		_ = stdin.Close()
	}

	if exited != nil {
		select {
		case <-exited:
		case <-time.After(shutdownGrace):
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	if cancel != nil {
		cancel()
	}
	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(time.Second):
		}
	}

	c.caps.Clear()
	c.docs.Clear()

	c.mu.Lock()
	c.cmd = nil
	c.stdin = nil
	c.cancel = nil
	c.exited = nil
	c.mu.Unlock()

	return nil
}

// attach wires a transport into the correlator and starts the read pump.
// Split out from Start so protocol tests can run against in-memory pipes.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	readDone := make(chan struct{})

	c.mu.Lock()
	c.stdin = stdin
	c.readDone = readDone
	c.mu.Unlock()

	c.correlator.Open(c.writeFrame)

	go func() {
		defer close(readDone)
		c.readLoop(stdout)
	}()
}

// handshake performs initialize, records capabilities, and confirms with
// the initialized notification.
func (c *Client) handshake(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   c.config.rootURI(),
		ClientInfo: &ClientInfo{
			Name:    "kodiak",
			Version: Version,
		},
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
				PublishDiagnostics: &PublishDiagnosticsClientCapabilities{
					VersionSupport: true,
				},
				Completion: &CompletionClientCapabilities{},
				CodeAction: &CodeActionClientCapabilities{},
				Formatting: &DocumentFormattingClientCapabilities{},
			},
		},
	}

	raw, err := c.correlator.Send(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if err := c.caps.Set(result.Capabilities); err != nil {
		return err
	}

	if err := c.writeNotification(MethodInitialized, struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// readLoop pumps stdout chunks into the codec and routes every decoded
// message. Runs until the stream ends.
func (c *Client) readLoop(r io.Reader) {
	codec := NewCodec()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range codec.Feed(buf[:n]) {
				switch m := msg.(type) {
				case Response:
					c.correlator.Resolve(m)
				case Notification:
					c.events.DispatchNotification(m)
				case Request:
					// Server-to-client requests (workspace/configuration
					// etc.) are not supported; dropped.
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// drainStderr logs server stderr lines.
func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("LSP server stderr",
			slog.String("server", c.config.Name),
			slog.String("line", scanner.Text()),
		)
	}
}

// handleExit reacts to the process terminating. A solicited exit (Stop in
// progress) is silent; an unsolicited one transitions to Errored, rejects
// every pending request, and emits the exit event.
func (c *Client) handleExit(cmd *exec.Cmd, waitErr error) {
	c.mu.Lock()
	if c.stopping || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = StateErrored
	c.mu.Unlock()

	c.correlator.FailAll(ErrServerExited)

	var code *int
	if state := cmd.ProcessState; state != nil {
		if n := state.ExitCode(); n >= 0 {
			code = &n
		}
	}

	slog.Warn("LSP server exited unexpectedly",
		slog.String("server", c.config.Name),
		slog.Any("exit_code", code),
		slog.Any("error", waitErr),
	)

	c.events.Emit(EventExit, code)
}

// failStartup moves the client into Errored and emits the error event.
func (c *Client) failStartup(err error) {
	c.correlator.FailAll(err)

	c.mu.Lock()
	c.state = StateErrored
	c.mu.Unlock()

	c.events.Emit(EventError, err)
}

// teardownProcess force-stops the process after a failed handshake.
func (c *Client) teardownProcess() {
	c.mu.Lock()
	c.stopping = true
	stdin := c.stdin
	cancel := c.cancel
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// WIRE HELPERS
// =============================================================================

// writeFrame writes one complete frame to the process's stdin.
func (c *Client) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()

	if stdin == nil {
		return ErrNotRunning
	}
	if _, err := stdin.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// writeNotification frames and writes a notification regardless of
// lifecycle state. Used by the handshake and shutdown sequences.
func (c *Client) writeNotification(method string, params interface{}) error {
	frame, err := encodeMessage(wireNotification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// request sends a correlated request when the client is Ready.
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.IsReady() {
		return nil, ErrNotRunning
	}

	ctx, span := startRequestSpan(ctx, method, c.config.Name)
	defer span.End()

	start := time.Now()
	raw, err := c.correlator.Send(ctx, method, params)
	recordRequestMetrics(ctx, method, c.config.Name, time.Since(start), err == nil)
	return raw, err
}

// notifyIfReady sends a notification when Ready and is a silent no-op
// otherwise, so document tracking can proceed while disconnected.
func (c *Client) notifyIfReady(method string, params interface{}) error {
	if !c.IsReady() {
		return nil
	}
	return c.writeNotification(method, params)
}

// =============================================================================
// DOCUMENT SYNC
// =============================================================================

// OpenDocument tracks a document at version 1 and sends didOpen.
// Tracking is updated even when the client is not Ready.
func (c *Client) OpenDocument(uri, languageID, text string) error {
	version := c.docs.Open(uri)
	return c.notifyIfReady(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    version,
			Text:       text,
		},
	})
}

// UpdateDocument advances the document version and sends didChange with
// the full new content. An unopened document starts at version 1.
func (c *Client) UpdateDocument(uri, text string) error {
	version := c.docs.Advance(uri)
	return c.notifyIfReady(MethodDidChange, DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
}

// CloseDocument removes tracking and sends didClose.
func (c *Client) CloseDocument(uri string) error {
	c.docs.Close(uri)
	return c.notifyIfReady(MethodDidClose, DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// DocumentVersion returns the tracked version of a document.
func (c *Client) DocumentVersion(uri string) (int, bool) {
	return c.docs.Version(uri)
}

// OpenDocuments returns the tracked document URIs.
func (c *Client) OpenDocuments() []string {
	return c.docs.URIs()
}

// =============================================================================
// CAPABILITY-GATED OPERATIONS
// =============================================================================

// Completions returns completion items at a position.
//
// Description:
//
//	Requires the completionProvider capability; when absent (or before
//	the handshake) returns an empty slice without any wire traffic. A
//	null result maps to empty; a list result is returned as-is; an
//	object-shaped result {isIncomplete, items} is unwrapped to items.
func (c *Client) Completions(ctx context.Context, uri string, pos Position) ([]CompletionItem, error) {
	caps := c.caps.Get()
	if caps == nil || !caps.HasCompletionProvider() {
		return []CompletionItem{}, nil
	}

	raw, err := c.request(ctx, MethodCompletion, CompletionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	})
	if err != nil {
		return nil, err
	}
	return decodeCompletionResult(raw), nil
}

// CodeActions returns the actions available for a range and its
// diagnostics. Requires the codeActionProvider capability; absent maps to
// an empty slice with zero wire traffic.
func (c *Client) CodeActions(ctx context.Context, uri string, diagnostics []Diagnostic, startLine, startChar, endLine, endChar int) ([]CodeAction, error) {
	caps := c.caps.Get()
	if caps == nil || !caps.HasCodeActionProvider() {
		return []CodeAction{}, nil
	}

	if diagnostics == nil {
		diagnostics = []Diagnostic{}
	}
	raw, err := c.request(ctx, MethodCodeAction, CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range: Range{
			Start: Position{Line: startLine, Character: startChar},
			End:   Position{Line: endLine, Character: endChar},
		},
		Context: CodeActionContext{Diagnostics: diagnostics},
	})
	if err != nil {
		return nil, err
	}
	return decodeCodeActionResult(raw), nil
}

// FormatDocument returns whole-document formatting edits. Requires the
// documentFormattingProvider capability. A nil opts uses
// DefaultFormattingOptions; partial options are completed with defaults.
func (c *Client) FormatDocument(ctx context.Context, uri string, opts *FormattingOptions) ([]TextEdit, error) {
	caps := c.caps.Get()
	if caps == nil || !caps.HasDocumentFormattingProvider() {
		return []TextEdit{}, nil
	}

	options := DefaultFormattingOptions()
	if opts != nil {
		options = *opts
		if options.TabSize <= 0 {
			options.TabSize = DefaultFormattingOptions().TabSize
		}
	}

	raw, err := c.request(ctx, MethodFormatting, DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Options:      options,
	})
	if err != nil {
		return nil, err
	}
	return decodeTextEditResult(raw), nil
}

// Diagnostics pulls diagnostics for a document. Requires the
// diagnosticProvider capability. Never returns an error: capability
// absence, null results, and request failures all map to an empty slice.
func (c *Client) Diagnostics(ctx context.Context, uri string) []Diagnostic {
	caps := c.caps.Get()
	if caps == nil || !caps.HasDiagnosticProvider() {
		return []Diagnostic{}
	}

	raw, err := c.request(ctx, MethodDiagnostic, DocumentDiagnosticParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		slog.Debug("diagnostics pull failed",
			slog.String("server", c.config.Name),
			slog.String("uri", uri),
			slog.Any("error", err),
		)
		return []Diagnostic{}
	}

	if isJSONNull(raw) {
		return []Diagnostic{}
	}
	var report DocumentDiagnosticReport
	if err := json.Unmarshal(raw, &report); err != nil || report.Items == nil {
		return []Diagnostic{}
	}
	return report.Items
}

// =============================================================================
// RESULT DECODING
// =============================================================================

// isJSONNull reports whether a raw result is absent or JSON null.
func isJSONNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// decodeCompletionResult normalizes the three result shapes the protocol
// allows: null, a bare item list, and a CompletionList object.
func decodeCompletionResult(raw json.RawMessage) []CompletionItem {
	if isJSONNull(raw) {
		return []CompletionItem{}
	}

	var items []CompletionItem
	if err := json.Unmarshal(raw, &items); err == nil {
		if items == nil {
			return []CompletionItem{}
		}
		return items
	}

	var list CompletionList
	if err := json.Unmarshal(raw, &list); err == nil {
		if list.Items == nil {
			return []CompletionItem{}
		}
		return list.Items
	}

	return []CompletionItem{}
}

// decodeCodeActionResult normalizes null and list-shaped results.
func decodeCodeActionResult(raw json.RawMessage) []CodeAction {
	if isJSONNull(raw) {
		return []CodeAction{}
	}
	var actions []CodeAction
	if err := json.Unmarshal(raw, &actions); err != nil || actions == nil {
		return []CodeAction{}
	}
	return actions
}

// decodeTextEditResult normalizes null and list-shaped results.
func decodeTextEditResult(raw json.RawMessage) []TextEdit {
	if isJSONNull(raw) {
		return []TextEdit{}
	}
	var edits []TextEdit
	if err := json.Unmarshal(raw, &edits); err != nil || edits == nil {
		return []TextEdit{}
	}
	return edits
}
