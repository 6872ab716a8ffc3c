// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements the Language Server Protocol client used by Kodiak.
//
// The client spawns an external language server (gopls, pyright,
// typescript-language-server, etc.) and speaks JSON-RPC 2.0 over the server's
// standard input/output, using Content-Length framed messages. It provides
// completions, code actions, formatting edits, and diagnostics for the files
// the assistant is editing.
//
// # Components
//
//   - Codec: encodes outgoing messages into Content-Length frames and decodes
//     an incoming byte stream (which may arrive split or batched) back into
//     whole messages
//   - Correlator: assigns request ids, tracks in-flight requests with
//     per-request timeouts, and resolves callers when the matching response
//     frame arrives
//   - Emitter: routes server-initiated notifications (publishDiagnostics) to
//     registered subscribers
//   - CapabilityStore: holds the server's advertised capabilities and gates
//     the high-level operations
//   - DocumentTracker: tracks open-document URIs and per-document versions
//     for didOpen/didChange/didClose
//   - Client: owns the child process and wires the above together behind a
//     typed request API
//   - Pool: a language-to-server registry that spawns clients lazily
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	client := lsp.NewClient(lsp.ServerConfig{
//	    Name:      "gopls",
//	    Command:   "gopls",
//	    Languages: []string{"go"},
//	})
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(context.Background())
//
//	client.OpenDocument("file:///work/main.go", "go", src)
//	items, err := client.Completions(ctx, "file:///work/main.go", lsp.Position{Line: 10, Character: 5})
package lsp
