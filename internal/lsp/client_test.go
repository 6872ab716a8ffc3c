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
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeReply is a fake server's answer to one request. A nil *fakeReply
// means no response is sent, leaving the request pending.
type fakeReply struct {
	Result interface{}
	Err    *ResponseError
}

// fakeServer speaks the wire protocol over in-memory pipes so the client
// request path can be exercised without a process.
type fakeServer struct {
	handler func(method string, params json.RawMessage) *fakeReply

	mu            sync.Mutex
	requests      []string
	notifications []Notification
}

type fakeWireResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Result  interface{}    `json:"result"`
	Error   *ResponseError `json:"error,omitempty"`
}

func (s *fakeServer) serve(r io.Reader, w io.WriteCloser) {
	defer w.Close()
	codec := NewCodec()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, msg := range codec.Feed(buf[:n]) {
				switch m := msg.(type) {
				case Request:
					s.mu.Lock()
					s.requests = append(s.requests, m.Method)
					s.mu.Unlock()
					reply := s.handler(m.Method, m.Params)
					if reply == nil {
						continue
					}
					frame, encErr := encodeMessage(fakeWireResponse{
						JSONRPC: JSONRPCVersion,
						ID:      m.ID,
						Result:  reply.Result,
						Error:   reply.Err,
					})
					if encErr != nil {
						return
					}
					if _, wErr := w.Write(frame); wErr != nil {
						return
					}
				case Notification:
					s.mu.Lock()
					s.notifications = append(s.notifications, m)
					s.mu.Unlock()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *fakeServer) requestCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.requests {
		if m == method {
			count++
		}
	}
	return count
}

func (s *fakeServer) notificationMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	methods := make([]string, len(s.notifications))
	for i, n := range s.notifications {
		methods[i] = n.Method
	}
	return methods
}

// initHandler answers initialize with the given capabilities and shutdown
// with null, delegating everything else.
func initHandler(caps ServerCapabilities, rest func(method string, params json.RawMessage) *fakeReply) func(string, json.RawMessage) *fakeReply {
	return func(method string, params json.RawMessage) *fakeReply {
		switch method {
		case MethodInitialize:
			return &fakeReply{Result: InitializeResult{Capabilities: caps}}
		case MethodShutdown:
			return &fakeReply{Result: nil}
		default:
			if rest != nil {
				return rest(method, params)
			}
			return &fakeReply{Result: nil}
		}
	}
}

// startPipedClient wires a client to a fake server over in-memory pipes
// and runs the handshake.
func startPipedClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()

	c := NewClient(ServerConfig{
		Name:      "fake",
		Command:   "fake-lsp",
		Languages: []string{"go"},
	}, WithRequestTimeout(2*time.Second))

	toServerR, toServerW := io.Pipe()
	toClientR, toClientW := io.Pipe()
	go srv.serve(toServerR, toClientW)

	c.mu.Lock()
	c.state = StateStarting
	c.mu.Unlock()
	c.attach(toServerW, toClientR)

	if err := c.handshake(context.Background()); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestClient_Handshake_Completion(t *testing.T) {
	srv := &fakeServer{handler: initHandler(
		ServerCapabilities{CompletionProvider: map[string]interface{}{}},
		func(method string, params json.RawMessage) *fakeReply {
			if method == MethodCompletion {
				return &fakeReply{Result: []CompletionItem{{Label: "test"}}}
			}
			return &fakeReply{Result: nil}
		},
	)}
	c := startPipedClient(t, srv)

	if !c.IsReady() {
		t.Fatal("IsReady() = false after handshake")
	}
	caps := c.Capabilities()
	if caps == nil || !caps.HasCompletionProvider() {
		t.Fatal("capabilities missing completionProvider")
	}

	items, err := c.Completions(context.Background(), "file:///main.go", Position{Line: 1, Character: 2})
	if err != nil {
		t.Fatalf("Completions() error = %v", err)
	}
	if len(items) != 1 || items[0].Label != "test" {
		t.Errorf("Completions() = %v, want [{test}]", items)
	}
}

func TestClient_CapabilityGated_NoWireTraffic(t *testing.T) {
	srv := &fakeServer{handler: initHandler(ServerCapabilities{}, nil)}
	c := startPipedClient(t, srv)

	items, err := c.Completions(context.Background(), "file:///main.go", Position{})
	if err != nil {
		t.Fatalf("Completions() error = %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("Completions() = %v, want empty non-nil slice", items)
	}

	actions, err := c.CodeActions(context.Background(), "file:///main.go", nil, 0, 0, 0, 0)
	if err != nil || len(actions) != 0 {
		t.Errorf("CodeActions() = (%v, %v), want empty", actions, err)
	}

	edits, err := c.FormatDocument(context.Background(), "file:///main.go", nil)
	if err != nil || len(edits) != 0 {
		t.Errorf("FormatDocument() = (%v, %v), want empty", edits, err)
	}

	if diags := c.Diagnostics(context.Background(), "file:///main.go"); len(diags) != 0 {
		t.Errorf("Diagnostics() = %v, want empty", diags)
	}

	for _, method := range []string{MethodCompletion, MethodCodeAction, MethodFormatting, MethodDiagnostic} {
		if n := srv.requestCount(method); n != 0 {
			t.Errorf("%s reached the server %d times despite missing capability", method, n)
		}
	}
}

func TestClient_CompletionResultShapes(t *testing.T) {
	tests := []struct {
		name   string
		result interface{}
		want   int
	}{
		{"null result", nil, 0},
		{"bare list", []CompletionItem{{Label: "a"}, {Label: "b"}}, 2},
		{"completion list object", CompletionList{IsIncomplete: true, Items: []CompletionItem{{Label: "a"}}}, 1},
		{"empty list object", CompletionList{Items: []CompletionItem{}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &fakeServer{handler: initHandler(
				ServerCapabilities{CompletionProvider: true},
				func(method string, params json.RawMessage) *fakeReply {
					return &fakeReply{Result: tt.result}
				},
			)}
			c := startPipedClient(t, srv)

			items, err := c.Completions(context.Background(), "file:///main.go", Position{})
			if err != nil {
				t.Fatalf("Completions() error = %v", err)
			}
			if items == nil {
				t.Fatal("Completions() returned nil slice")
			}
			if len(items) != tt.want {
				t.Errorf("got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestClient_Diagnostics_NeverErrors(t *testing.T) {
	srv := &fakeServer{handler: initHandler(
		ServerCapabilities{DiagnosticProvider: map[string]interface{}{}},
		func(method string, params json.RawMessage) *fakeReply {
			return &fakeReply{Err: &ResponseError{Code: -32603, Message: "internal error"}}
		},
	)}
	c := startPipedClient(t, srv)

	diags := c.Diagnostics(context.Background(), "file:///main.go")
	if diags == nil || len(diags) != 0 {
		t.Errorf("Diagnostics() = %v, want empty non-nil slice", diags)
	}
}

func TestClient_Diagnostics_FullReport(t *testing.T) {
	srv := &fakeServer{handler: initHandler(
		ServerCapabilities{DiagnosticProvider: true},
		func(method string, params json.RawMessage) *fakeReply {
			return &fakeReply{Result: DocumentDiagnosticReport{
				Kind: "full",
				Items: []Diagnostic{{
					Message:  "unused variable",
					Severity: SeverityWarning,
				}},
			}}
		},
	)}
	c := startPipedClient(t, srv)

	diags := c.Diagnostics(context.Background(), "file:///main.go")
	if len(diags) != 1 || diags[0].Message != "unused variable" {
		t.Errorf("Diagnostics() = %v, want one warning", diags)
	}
}

func TestClient_DocumentSync_Versions(t *testing.T) {
	srv := &fakeServer{handler: initHandler(ServerCapabilities{}, nil)}
	c := startPipedClient(t, srv)

	if err := c.OpenDocument("file:///main.go", "go", "package main"); err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}
	if err := c.UpdateDocument("file:///main.go", "package main\n"); err != nil {
		t.Fatalf("UpdateDocument() error = %v", err)
	}

	if v, ok := c.DocumentVersion("file:///main.go"); !ok || v != 2 {
		t.Errorf("DocumentVersion() = (%d, %v), want (2, true)", v, ok)
	}

	if err := c.CloseDocument("file:///main.go"); err != nil {
		t.Fatalf("CloseDocument() error = %v", err)
	}
	if _, ok := c.DocumentVersion("file:///main.go"); ok {
		t.Error("document still tracked after CloseDocument")
	}

	waitFor(t, func() bool {
		methods := srv.notificationMethods()
		open, change, closed := false, false, false
		for _, m := range methods {
			switch m {
			case MethodDidOpen:
				open = true
			case MethodDidChange:
				change = true
			case MethodDidClose:
				closed = true
			}
		}
		return open && change && closed
	})
}

func TestClient_Stop_RejectsPending(t *testing.T) {
	// Respond to initialize and shutdown; leave completions pending.
	srv := &fakeServer{handler: initHandler(
		ServerCapabilities{CompletionProvider: true},
		func(method string, params json.RawMessage) *fakeReply {
			return nil
		},
	)}
	c := startPipedClient(t, srv)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Completions(context.Background(), "file:///main.go", Position{})
			errs <- err
		}()
	}

	waitFor(t, func() bool { return c.correlator.PendingCount() >= 2 })

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrClientShutdown) {
			t.Errorf("pending request error = %v, want ErrClientShutdown", err)
		}
	}

	if c.IsReady() {
		t.Error("IsReady() = true after Stop")
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
	if c.Capabilities() != nil {
		t.Error("Capabilities() non-nil after Stop")
	}
	if len(c.OpenDocuments()) != 0 {
		t.Error("documents still tracked after Stop")
	}
}

func TestClient_Stop_Idempotent(t *testing.T) {
	srv := &fakeServer{handler: initHandler(ServerCapabilities{}, nil)}
	c := startPipedClient(t, srv)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestClient_RequestBeforeStart(t *testing.T) {
	c := NewClient(ServerConfig{Name: "fake", Command: "fake-lsp", Languages: []string{"go"}})

	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	if c.Capabilities() != nil {
		t.Error("Capabilities() non-nil before Start")
	}

	// Document tracking works while disconnected; nothing goes anywhere.
	if err := c.OpenDocument("file:///a.go", "go", ""); err != nil {
		t.Errorf("OpenDocument() error = %v", err)
	}
	if v, ok := c.DocumentVersion("file:///a.go"); !ok || v != 1 {
		t.Errorf("DocumentVersion() = (%d, %v), want (1, true)", v, ok)
	}
}

func TestClient_Start_NotInstalled(t *testing.T) {
	c := NewClient(ServerConfig{
		Name:      "missing",
		Command:   "definitely-not-a-real-lsp-server-xyz",
		Languages: []string{"go"},
	})

	var emitted error
	c.On(EventError, func(payload interface{}) {
		emitted, _ = payload.(error)
	})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Start() error = %v, want ErrNotInstalled", err)
	}
	if c.State() != StateErrored {
		t.Errorf("State() = %v, want errored", c.State())
	}
	if !errors.Is(emitted, ErrNotInstalled) {
		t.Errorf("error event payload = %v, want ErrNotInstalled", emitted)
	}
}

func TestClient_Stop_AfterFailedHandshake(t *testing.T) {
	// cat never answers the initialize request, so Start fails and the
	// process is torn down. Stop must then observe the exit promptly
	// instead of waiting on an already-reaped process.
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	c := NewClient(ServerConfig{
		Name:      "cat",
		Command:   "cat",
		Languages: []string{"plaintext"},
	}, WithRequestTimeout(200*time.Millisecond))

	if err := c.Start(context.Background()); !errors.Is(err, ErrInitializeFailed) {
		t.Fatalf("Start() error = %v, want ErrInitializeFailed", err)
	}

	start := time.Now()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, want prompt return once the process exited", elapsed)
	}
	if c.State() != StateStopped {
		t.Errorf("State() = %v, want StateStopped", c.State())
	}
}

func TestClient_DiagnosticsEvent(t *testing.T) {
	srv := &fakeServer{handler: initHandler(ServerCapabilities{}, nil)}
	c := startPipedClient(t, srv)

	got := make(chan PublishDiagnosticsParams, 1)
	c.On(EventDiagnostics, func(payload interface{}) {
		got <- payload.(PublishDiagnosticsParams)
	})

	// Push a publishDiagnostics notification through the read pump.
	c.events.DispatchNotification(Notification{
		Method: MethodPublishDiagnostics,
		Params: json.RawMessage(`{"uri":"file:///main.go","diagnostics":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"message":"boom","severity":1}],"version":2}`),
	})

	select {
	case params := <-got:
		if params.URI != "file:///main.go" {
			t.Errorf("URI = %q", params.URI)
		}
		if params.Version == nil || *params.Version != 2 {
			t.Error("version not propagated")
		}
	case <-time.After(time.Second):
		t.Fatal("diagnostics event never delivered")
	}
}

// TestClient_Integration_Gopls exercises the full process lifecycle
// against a real gopls. Skipped when gopls is not on PATH.
func TestClient_Integration_Gopls(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := exec.LookPath("gopls"); err != nil {
		t.Skip("gopls not installed")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	content := "package main\n\nfunc main() {}\n"
	if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module tmp\n\ngo 1.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewClient(ServerConfig{
		Name:      "gopls",
		Command:   "gopls",
		Args:      []string{"serve"},
		Languages: []string{"go"},
		RootURI:   "file://" + dir,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop(context.Background())

	if !c.IsReady() {
		t.Fatal("IsReady() = false")
	}
	if err := c.OpenDocument("file://"+src, "go", content); err != nil {
		t.Fatalf("OpenDocument() error = %v", err)
	}

	items, err := c.Completions(ctx, "file://"+src, Position{Line: 2, Character: 12})
	if err != nil {
		t.Fatalf("Completions() error = %v", err)
	}
	t.Logf("gopls returned %d completions", len(items))
}

// waitFor polls a condition with a deadline.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
