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

// LSP method names used by the client.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidClose           = "textDocument/didClose"
	MethodCompletion         = "textDocument/completion"
	MethodCodeAction         = "textDocument/codeAction"
	MethodFormatting         = "textDocument/formatting"
	MethodDiagnostic         = "textDocument/diagnostic"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position represents a position in a text document.
// Line and character are 0-indexed per LSP specification.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line"`

	// Character is the 0-indexed character offset within the line.
	Character int `json:"character"`
}

// Range represents a range in a text document.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// Location represents a location in a document.
type Location struct {
	// URI is the document URI (file:// scheme).
	URI string `json:"uri"`

	// Range is the range within the document.
	Range Range `json:"range"`
}

// =============================================================================
// DOCUMENT IDENTIFIERS
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	// URI is the document's URI.
	URI string `json:"uri"`
}

// TextDocumentItem represents a text document with its content.
type TextDocumentItem struct {
	// URI is the document's URI.
	URI string `json:"uri"`

	// LanguageID is the language identifier (e.g., "go", "python").
	LanguageID string `json:"languageId"`

	// Version is the version number of this document.
	Version int `json:"version"`

	// Text is the content of the document.
	Text string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a document.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier

	// Version is the version number after the change.
	Version int `json:"version"`
}

// =============================================================================
// DOCUMENT SYNC PARAMS
// =============================================================================

// DidOpenTextDocumentParams is the payload for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	// TextDocument is the document that was opened.
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams is the payload for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	// TextDocument identifies the changed document and its new version.
	TextDocument VersionedTextDocumentIdentifier `json:"textDocument"`

	// ContentChanges carries the new content (full sync).
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent describes a change to a document. With no
// range the text is the full new content of the document.
type TextDocumentContentChangeEvent struct {
	// Range is the changed range; nil for full-document sync.
	Range *Range `json:"range,omitempty"`

	// Text is the new text.
	Text string `json:"text"`
}

// DidCloseTextDocumentParams is the payload for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	// TextDocument is the document that was closed.
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity indicates the severity of a diagnostic.
type DiagnosticSeverity int

const (
	// SeverityError reports an error.
	SeverityError DiagnosticSeverity = 1

	// SeverityWarning reports a warning.
	SeverityWarning DiagnosticSeverity = 2

	// SeverityInformation reports an informational message.
	SeverityInformation DiagnosticSeverity = 3

	// SeverityHint reports a hint.
	SeverityHint DiagnosticSeverity = 4
)

// String returns a human-readable severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic represents a server-reported issue at a file position.
type Diagnostic struct {
	// Range is the range at which the diagnostic applies.
	Range Range `json:"range"`

	// Severity is the diagnostic severity (error, warning, info, hint).
	Severity DiagnosticSeverity `json:"severity,omitempty"`

	// Code is an optional diagnostic code.
	Code interface{} `json:"code,omitempty"`

	// Source identifies the tool that produced the diagnostic.
	Source string `json:"source,omitempty"`

	// Message is the diagnostic text.
	Message string `json:"message"`
}

// PublishDiagnosticsParams is the payload of textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	// URI is the document the diagnostics belong to.
	URI string `json:"uri"`

	// Diagnostics is the full set of diagnostics for the document.
	Diagnostics []Diagnostic `json:"diagnostics"`

	// Version is the document version the diagnostics were computed for.
	Version *int `json:"version,omitempty"`
}

// DocumentDiagnosticParams is the payload for textDocument/diagnostic (pull).
type DocumentDiagnosticParams struct {
	// TextDocument identifies the document to pull diagnostics for.
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DocumentDiagnosticReport is the result of a textDocument/diagnostic pull.
type DocumentDiagnosticReport struct {
	// Kind is "full" or "unchanged".
	Kind string `json:"kind,omitempty"`

	// Items contains the diagnostics for a full report.
	Items []Diagnostic `json:"items"`
}

// =============================================================================
// COMPLETION
// =============================================================================

// CompletionParams is the payload for textDocument/completion.
type CompletionParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Position is the position within the document.
	Position Position `json:"position"`
}

// CompletionItem represents a single completion suggestion.
type CompletionItem struct {
	// Label is the text shown in the completion list.
	Label string `json:"label"`

	// Kind is the completion item kind (function, variable, etc.).
	Kind int `json:"kind,omitempty"`

	// Detail is additional human-readable detail.
	Detail string `json:"detail,omitempty"`

	// Documentation carries the item's documentation.
	Documentation interface{} `json:"documentation,omitempty"`

	// InsertText is the text to insert; defaults to Label when empty.
	InsertText string `json:"insertText,omitempty"`

	// SortText is used to sort the item against its siblings.
	SortText string `json:"sortText,omitempty"`

	// FilterText is used when filtering the item against the typed prefix.
	FilterText string `json:"filterText,omitempty"`

	// TextEdit is the edit applied when the item is accepted.
	TextEdit *TextEdit `json:"textEdit,omitempty"`
}

// CompletionList is the object-shaped completion result.
type CompletionList struct {
	// IsIncomplete indicates further typing should re-request completions.
	IsIncomplete bool `json:"isIncomplete"`

	// Items are the completion suggestions.
	Items []CompletionItem `json:"items"`
}

// =============================================================================
// CODE ACTIONS
// =============================================================================

// CodeActionParams is the payload for textDocument/codeAction.
type CodeActionParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Range is the range the actions apply to.
	Range Range `json:"range"`

	// Context carries the diagnostics relevant to the range.
	Context CodeActionContext `json:"context"`
}

// CodeActionContext contains the diagnostics known for the requested range.
type CodeActionContext struct {
	// Diagnostics are the diagnostics overlapping the range.
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// CodeAction represents a server-proposed action (quick fix, refactoring).
type CodeAction struct {
	// Title is the human-readable action title.
	Title string `json:"title"`

	// Kind classifies the action ("quickfix", "refactor", ...).
	Kind string `json:"kind,omitempty"`

	// Diagnostics are the diagnostics this action resolves.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	// IsPreferred marks the action the server considers most relevant.
	IsPreferred bool `json:"isPreferred,omitempty"`

	// Edit is the workspace edit the action performs.
	Edit *WorkspaceEdit `json:"edit,omitempty"`

	// Command is an alternative command-based action.
	Command interface{} `json:"command,omitempty"`
}

// WorkspaceEdit describes document changes keyed by URI.
type WorkspaceEdit struct {
	// Changes maps document URIs to their edits.
	Changes map[string][]TextEdit `json:"changes,omitempty"`
}

// =============================================================================
// FORMATTING
// =============================================================================

// TextEdit represents a single text change.
type TextEdit struct {
	// Range is the range to replace.
	Range Range `json:"range"`

	// NewText is the replacement text.
	NewText string `json:"newText"`
}

// FormattingOptions configures document formatting. TabSize and
// InsertSpaces always go on the wire; the remaining knobs are sent only
// when set, so a partial configuration is valid.
type FormattingOptions struct {
	// TabSize is the rendered width of a tab.
	TabSize int `json:"tabSize"`

	// InsertSpaces requests spaces instead of tabs.
	InsertSpaces bool `json:"insertSpaces"`

	// TrimTrailingWhitespace trims trailing whitespace on each line.
	TrimTrailingWhitespace *bool `json:"trimTrailingWhitespace,omitempty"`

	// InsertFinalNewline ensures the file ends with a newline.
	InsertFinalNewline *bool `json:"insertFinalNewline,omitempty"`

	// TrimFinalNewlines trims extra newlines at the end of the file.
	TrimFinalNewlines *bool `json:"trimFinalNewlines,omitempty"`
}

// DefaultFormattingOptions returns the options used when the caller
// supplies none.
func DefaultFormattingOptions() FormattingOptions {
	return FormattingOptions{
		TabSize:      2,
		InsertSpaces: true,
	}
}

// DocumentFormattingParams is the payload for textDocument/formatting.
type DocumentFormattingParams struct {
	// TextDocument is the document identifier.
	TextDocument TextDocumentIdentifier `json:"textDocument"`

	// Options configures the formatter.
	Options FormattingOptions `json:"options"`
}

// =============================================================================
// INITIALIZE
// =============================================================================

// InitializeParams is the payload for the initialize request.
type InitializeParams struct {
	// ProcessID is the client's process id, for server-side liveness checks.
	ProcessID int `json:"processId"`

	// RootURI is the workspace root.
	RootURI string `json:"rootUri,omitempty"`

	// ClientInfo identifies this client to the server.
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`

	// Capabilities describes what this client supports.
	Capabilities ClientCapabilities `json:"capabilities"`

	// InitializationOptions carries server-specific options.
	InitializationOptions interface{} `json:"initializationOptions,omitempty"`
}

// ClientInfo identifies the client program.
type ClientInfo struct {
	// Name is the client's name.
	Name string `json:"name"`

	// Version is the client's version.
	Version string `json:"version,omitempty"`
}

// ClientCapabilities describes client-side protocol support.
type ClientCapabilities struct {
	// TextDocument describes text document capabilities.
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
}

// TextDocumentClientCapabilities describes per-document capabilities.
type TextDocumentClientCapabilities struct {
	// Synchronization describes document sync support.
	Synchronization *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`

	// PublishDiagnostics describes push-diagnostics support.
	PublishDiagnostics *PublishDiagnosticsClientCapabilities `json:"publishDiagnostics,omitempty"`

	// Completion describes completion support.
	Completion *CompletionClientCapabilities `json:"completion,omitempty"`

	// CodeAction describes code action support.
	CodeAction *CodeActionClientCapabilities `json:"codeAction,omitempty"`

	// Formatting describes document formatting support.
	Formatting *DocumentFormattingClientCapabilities `json:"formatting,omitempty"`
}

// TextDocumentSyncClientCapabilities describes document sync support.
type TextDocumentSyncClientCapabilities struct {
	// DidSave indicates didSave notifications are sent.
	DidSave bool `json:"didSave,omitempty"`
}

// PublishDiagnosticsClientCapabilities describes diagnostics support.
type PublishDiagnosticsClientCapabilities struct {
	// VersionSupport indicates the client reads the version field.
	VersionSupport bool `json:"versionSupport,omitempty"`
}

// CompletionClientCapabilities describes completion support.
type CompletionClientCapabilities struct {
	// ContextSupport indicates completion context is sent.
	ContextSupport bool `json:"contextSupport,omitempty"`
}

// CodeActionClientCapabilities describes code action support.
type CodeActionClientCapabilities struct {
	// DynamicRegistration indicates dynamic registration is supported.
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// DocumentFormattingClientCapabilities describes formatting support.
type DocumentFormattingClientCapabilities struct {
	// DynamicRegistration indicates dynamic registration is supported.
	DynamicRegistration bool `json:"dynamicRegistration,omitempty"`
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	// Capabilities describes what the server supports.
	Capabilities ServerCapabilities `json:"capabilities"`

	// ServerInfo contains optional server information.
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	// Name is the server's name.
	Name string `json:"name"`

	// Version is the server's version.
	Version string `json:"version,omitempty"`
}
