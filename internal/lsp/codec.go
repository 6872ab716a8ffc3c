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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// headerTerminator separates the header block from the body.
var headerTerminator = []byte("\r\n\r\n")

// =============================================================================
// CODEC
// =============================================================================

// Codec frames outgoing JSON-RPC messages and incrementally decodes the
// incoming byte stream.
//
// Description:
//
//	Encode produces a Content-Length delimited frame. Feed appends bytes to
//	an internal buffer and extracts every complete frame, so input may
//	arrive split across many writes or with several frames batched into
//	one. Malformed header blocks and unparsable JSON bodies are skipped
//	without failing the stream.
//
// Thread Safety:
//
//	NOT safe for concurrent use. A Codec is owned by a single reader
//	goroutine; the Client feeds it exclusively from its stdout pump.
type Codec struct {
	buf []byte
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes v and prepends the Content-Length header.
//
// Description:
//
//	The header declares the UTF-8 byte length of the JSON body:
//
//	    Content-Length: <N>\r\n\r\n<body>
//
// Inputs:
//
//	v - The message to serialize (request, response, or notification shape)
//
// Outputs:
//
//	[]byte - The complete frame, ready for a single write
//	error - Non-nil if JSON marshaling failed
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	return encodeMessage(v)
}

// encodeMessage is the stateless framing used by Encode and by the write
// path, which frames without touching the incoming buffer.
func encodeMessage(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var frame bytes.Buffer
	frame.Grow(len(body) + 32)
	fmt.Fprintf(&frame, "Content-Length: %d\r\n\r\n", len(body))
	frame.Write(body)
	return frame.Bytes(), nil
}

// Feed appends bytes to the incoming buffer and returns every message that
// became complete.
//
// Description:
//
//	Repeatedly locates the header/body boundary, parses Content-Length
//	(ignoring unrecognized header lines), and extracts exactly that many
//	body bytes. Stops when the buffer holds at most one partial frame.
//	A header block without a usable Content-Length is dropped and decoding
//	resumes after its terminator. A body that fails JSON parsing, or that
//	is neither a request, response, nor notification, yields no message.
//
// Inputs:
//
//	p - The next chunk of stdout bytes (may be empty)
//
// Outputs:
//
//	[]Message - Zero or more decoded messages, in stream order
func (c *Codec) Feed(p []byte) []Message {
	c.buf = append(c.buf, p...)

	var msgs []Message
	for {
		boundary := bytes.Index(c.buf, headerTerminator)
		if boundary < 0 {
			break
		}

		length, ok := parseContentLength(c.buf[:boundary])
		if !ok {
			// Unrecoverable header block; skip past it and resync on
			// the next frame.
			c.buf = c.buf[boundary+len(headerTerminator):]
			recordFrameDropped()
			continue
		}

		bodyStart := boundary + len(headerTerminator)
		if len(c.buf) < bodyStart+length {
			break
		}

		body := c.buf[bodyStart : bodyStart+length]
		msg, ok := classifyMessage(body)

		// Advance past the frame before anything else so a bad body
		// cannot stall the stream.
		c.buf = c.buf[bodyStart+length:]

		if ok {
			msgs = append(msgs, msg)
			recordFrameDecoded()
		} else {
			recordFrameDropped()
		}
	}

	// Release the backing array once fully drained.
	if len(c.buf) == 0 {
		c.buf = nil
	}

	return msgs
}

// Buffered returns the number of bytes held for an incomplete frame.
func (c *Codec) Buffered() int {
	return len(c.buf)
}

// Reset discards any partially buffered frame.
func (c *Codec) Reset() {
	c.buf = nil
}

// parseContentLength extracts the Content-Length value from a header block.
//
// Header lines other than Content-Length (Content-Type, anything unknown)
// are ignored without error. Returns ok=false when no valid non-negative
// Content-Length is present.
func parseContentLength(header []byte) (int, bool) {
	length := -1
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		length = n
	}
	if length < 0 {
		return 0, false
	}
	return length, true
}
