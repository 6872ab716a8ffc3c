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

import "sync"

// ServerCapabilities describes what the server supports.
//
// Capability values are loosely typed on the wire: a provider may be
// advertised as true, as an options object, or omitted/false when
// unsupported. The Has* accessors apply the truthiness rule uniformly.
type ServerCapabilities struct {
	// TextDocumentSync describes how documents are synced.
	TextDocumentSync interface{} `json:"textDocumentSync,omitempty"`

	// CompletionProvider indicates textDocument/completion is supported.
	CompletionProvider interface{} `json:"completionProvider,omitempty"`

	// CodeActionProvider indicates textDocument/codeAction is supported.
	CodeActionProvider interface{} `json:"codeActionProvider,omitempty"`

	// DocumentFormattingProvider indicates textDocument/formatting is supported.
	DocumentFormattingProvider interface{} `json:"documentFormattingProvider,omitempty"`

	// DiagnosticProvider indicates textDocument/diagnostic (pull) is supported.
	DiagnosticProvider interface{} `json:"diagnosticProvider,omitempty"`
}

// HasCompletionProvider returns true if completion is supported.
func (c *ServerCapabilities) HasCompletionProvider() bool {
	return c.CompletionProvider != nil && c.CompletionProvider != false
}

// HasCodeActionProvider returns true if code actions are supported.
func (c *ServerCapabilities) HasCodeActionProvider() bool {
	return c.CodeActionProvider != nil && c.CodeActionProvider != false
}

// HasDocumentFormattingProvider returns true if formatting is supported.
func (c *ServerCapabilities) HasDocumentFormattingProvider() bool {
	return c.DocumentFormattingProvider != nil && c.DocumentFormattingProvider != false
}

// HasDiagnosticProvider returns true if pull diagnostics are supported.
func (c *ServerCapabilities) HasDiagnosticProvider() bool {
	return c.DiagnosticProvider != nil && c.DiagnosticProvider != false
}

// =============================================================================
// CAPABILITY STORE
// =============================================================================

// CapabilityStore holds the server's advertised capabilities for one run.
//
// Description:
//
//	Populated exactly once per run, on a successful initialize response.
//	Get returns nil before Start completes and after Stop, which is what
//	gates the high-level operations into their empty-result path.
//
// Thread Safety:
//
//	Safe for concurrent use.
type CapabilityStore struct {
	mu   sync.RWMutex
	caps *ServerCapabilities
}

// NewCapabilityStore creates an empty store.
func NewCapabilityStore() *CapabilityStore {
	return &CapabilityStore{}
}

// Set stores the capabilities from the initialize response.
//
// Outputs:
//
//	error - ErrCapabilitiesAlreadySet if called twice within one run
func (s *CapabilityStore) Set(caps ServerCapabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caps != nil {
		return ErrCapabilitiesAlreadySet
	}
	c := caps
	s.caps = &c
	return nil
}

// Get returns the stored capabilities, or nil when unset.
func (s *CapabilityStore) Get() *ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// Clear resets the store so a later Start can populate it again.
func (s *CapabilityStore) Clear() {
	s.mu.Lock()
	s.caps = nil
	s.mu.Unlock()
}
