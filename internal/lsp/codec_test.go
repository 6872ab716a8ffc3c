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
	"fmt"
	"strings"
	"testing"
)

// frame builds a wire frame around a JSON body.
func frame(body string) []byte {
	return []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body))
}

func TestCodec_Encode(t *testing.T) {
	codec := NewCodec()

	data, err := codec.Encode(wireNotification{
		JSONRPC: JSONRPCVersion,
		Method:  "initialized",
		Params:  struct{}{},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	s := string(data)
	if !strings.HasPrefix(s, "Content-Length: ") {
		t.Errorf("frame missing Content-Length header: %q", s)
	}
	idx := strings.Index(s, "\r\n\r\n")
	if idx < 0 {
		t.Fatalf("frame missing header terminator: %q", s)
	}
	body := s[idx+4:]
	var declared int
	if _, err := fmt.Sscanf(s, "Content-Length: %d", &declared); err != nil {
		t.Fatalf("cannot parse declared length: %v", err)
	}
	if declared != len(body) {
		t.Errorf("declared length = %d, body length = %d", declared, len(body))
	}
}

func TestCodec_Feed_SingleResponse(t *testing.T) {
	codec := NewCodec()

	msgs := codec.Feed(frame(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	if len(msgs) != 1 {
		t.Fatalf("Feed() returned %d messages, want 1", len(msgs))
	}
	resp, ok := msgs[0].(Response)
	if !ok {
		t.Fatalf("message type = %T, want Response", msgs[0])
	}
	if resp.ID != 1 {
		t.Errorf("ID = %d, want 1", resp.ID)
	}
	if codec.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", codec.Buffered())
	}
}

func TestCodec_Feed_ByteAtATime(t *testing.T) {
	codec := NewCodec()
	data := frame(`{"jsonrpc":"2.0","id":7,"result":null}`)

	var msgs []Message
	for i := range data {
		msgs = append(msgs, codec.Feed(data[i:i+1])...)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	resp, ok := msgs[0].(Response)
	if !ok {
		t.Fatalf("message type = %T, want Response", msgs[0])
	}
	if resp.ID != 7 {
		t.Errorf("ID = %d, want 7", resp.ID)
	}
}

func TestCodec_Feed_ConcatenatedFrames(t *testing.T) {
	codec := NewCodec()
	data := append(frame(`{"jsonrpc":"2.0","id":1,"result":1}`),
		frame(`{"jsonrpc":"2.0","id":2,"result":2}`)...)

	msgs := codec.Feed(data)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for i, want := range []int64{1, 2} {
		resp, ok := msgs[i].(Response)
		if !ok {
			t.Fatalf("message %d type = %T, want Response", i, msgs[i])
		}
		if resp.ID != want {
			t.Errorf("message %d ID = %d, want %d", i, resp.ID, want)
		}
	}
}

func TestCodec_Feed_SplitAcrossHeaderBoundary(t *testing.T) {
	codec := NewCodec()
	data := frame(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///a.go","diagnostics":[]}}`)

	// Split in the middle of the header block.
	if msgs := codec.Feed(data[:10]); len(msgs) != 0 {
		t.Fatalf("partial header produced %d messages", len(msgs))
	}
	msgs := codec.Feed(data[10:])
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	n, ok := msgs[0].(Notification)
	if !ok {
		t.Fatalf("message type = %T, want Notification", msgs[0])
	}
	if n.Method != MethodPublishDiagnostics {
		t.Errorf("Method = %q, want %q", n.Method, MethodPublishDiagnostics)
	}
}

func TestCodec_Feed_ClassifiesRequest(t *testing.T) {
	codec := NewCodec()

	msgs := codec.Feed(frame(`{"jsonrpc":"2.0","id":9,"method":"workspace/configuration","params":{}}`))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	req, ok := msgs[0].(Request)
	if !ok {
		t.Fatalf("message type = %T, want Request", msgs[0])
	}
	if req.ID != 9 || req.Method != "workspace/configuration" {
		t.Errorf("Request = {%d %q}, want {9 workspace/configuration}", req.ID, req.Method)
	}
}

func TestCodec_Feed_ExtraHeadersIgnored(t *testing.T) {
	codec := NewCodec()
	body := `{"jsonrpc":"2.0","id":3,"result":null}`
	data := []byte(fmt.Sprintf(
		"Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body))

	msgs := codec.Feed(data)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestCodec_Feed_InvalidBodySkipped(t *testing.T) {
	codec := NewCodec()

	// Malformed JSON body; the codec must drop the frame and stay in
	// sync for the next one.
	msgs := codec.Feed(frame(`{not json`))
	if len(msgs) != 0 {
		t.Fatalf("invalid body produced %d messages", len(msgs))
	}

	msgs = codec.Feed(frame(`{"jsonrpc":"2.0","id":4,"result":null}`))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after recovery, want 1", len(msgs))
	}
}

func TestCodec_Feed_MissingContentLength(t *testing.T) {
	codec := NewCodec()

	// A header block without Content-Length cannot be framed; the codec
	// drops it and resumes on the next block.
	msgs := codec.Feed([]byte("Content-Type: application/json\r\n\r\n"))
	if len(msgs) != 0 {
		t.Fatalf("headerless frame produced %d messages", len(msgs))
	}

	msgs = codec.Feed(frame(`{"jsonrpc":"2.0","id":5,"result":null}`))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after recovery, want 1", len(msgs))
	}
	if resp := msgs[0].(Response); resp.ID != 5 {
		t.Errorf("ID = %d, want 5", resp.ID)
	}
}

func TestCodec_Reset(t *testing.T) {
	codec := NewCodec()

	codec.Feed([]byte("Content-Length: 100\r\n\r\npartial"))
	if codec.Buffered() == 0 {
		t.Fatal("expected buffered partial frame")
	}
	codec.Reset()
	if codec.Buffered() != 0 {
		t.Errorf("Buffered() = %d after Reset, want 0", codec.Buffered())
	}

	msgs := codec.Feed(frame(`{"jsonrpc":"2.0","id":6,"result":null}`))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after Reset, want 1", len(msgs))
	}
}
