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
	"errors"
	"fmt"
)

// Sentinel errors for LSP operations.
var (
	// ErrNotRunning indicates the server process is not in a ready state.
	// Requests fail with this error without allocating a request id.
	ErrNotRunning = errors.New("LSP process not running")

	// ErrRequestTimeout indicates a request exceeded its timeout. The
	// wrapped message carries the method name, e.g.
	// "LSP request timeout: textDocument/completion".
	ErrRequestTimeout = errors.New("LSP request timeout")

	// ErrNotInstalled indicates the server binary was not found on PATH.
	ErrNotInstalled = errors.New("lsp server not installed")

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.New("lsp client already started")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrClientShutdown is the rejection delivered to pending requests
	// when Stop is called.
	ErrClientShutdown = errors.New("lsp client shut down")

	// ErrServerExited is the rejection delivered to pending requests when
	// the server process terminates unexpectedly.
	ErrServerExited = errors.New("lsp server exited")

	// ErrUnsupportedLanguage indicates no server configuration exists for
	// the requested language.
	ErrUnsupportedLanguage = errors.New("no lsp configuration for language")

	// ErrCapabilitiesAlreadySet indicates a second capability set within
	// one server run.
	ErrCapabilitiesAlreadySet = errors.New("server capabilities already set")
)

// ServerError represents an error returned by the language server via a
// JSON-RPC error response.
//
// Error codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32600: Invalid request
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32099 to -32000: Server error (reserved)
//   - -32802: Server not initialized
//   - -32800: Request cancelled
type ServerError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *ServerError) IsParseError() bool {
	return e.Code == -32700
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *ServerError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ServerError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *ServerError) IsServerNotInitialized() bool {
	return e.Code == -32802
}
