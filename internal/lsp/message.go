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
	"encoding/json"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// MESSAGE VARIANT
// =============================================================================

// Message is the tagged variant for decoded JSON-RPC traffic. A message is
// exactly one of Request, Response, or Notification, distinguished by the
// presence of "id" and "method" per JSON-RPC 2.0. Messages are never mutated
// after construction.
type Message interface {
	isMessage()
}

// Request is a server-to-client request (carries both id and method).
type Request struct {
	// ID is the request identifier.
	ID int64

	// Method is the method to invoke.
	Method string

	// Params contains the raw method parameters.
	Params json.RawMessage
}

func (Request) isMessage() {}

// Response correlates to a previously sent request by id. Exactly one of
// Result and Error is meaningful.
type Response struct {
	// ID is the identifier of the request this responds to.
	ID int64

	// Result contains the raw result (nil when Error is set).
	Result json.RawMessage

	// Error contains the server's error, if any.
	Error *ResponseError
}

func (Response) isMessage() {}

// Notification is an id-less server message routed by method name.
type Notification struct {
	// Method is the notification method.
	Method string

	// Params contains the raw notification parameters.
	Params json.RawMessage
}

func (Notification) isMessage() {}

// ResponseError represents a JSON-RPC error object.
type ResponseError struct {
	// Code is the error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data contains additional error information.
	Data interface{} `json:"data,omitempty"`
}

// =============================================================================
// WIRE SHAPES
// =============================================================================

// wireRequest is the outgoing request encoding.
type wireRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// wireNotification is the outgoing notification encoding (no id).
type wireNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// wireMessage is the superset used to classify incoming traffic.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// classifyMessage parses a raw JSON-RPC body into the Message variant.
//
// Classification follows JSON-RPC 2.0: a body with both id and method is a
// Request, with an id but no method a Response, and with a method but no id
// a Notification. Returns (nil, false) for unparsable bodies and for bodies
// that carry neither an id nor a method.
func classifyMessage(body []byte) (Message, bool) {
	var w wireMessage
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, false
	}

	switch {
	case w.ID != nil && w.Method != "":
		return Request{ID: *w.ID, Method: w.Method, Params: w.Params}, true
	case w.ID != nil:
		return Response{ID: *w.ID, Result: w.Result, Error: w.Error}, true
	case w.Method != "":
		return Notification{Method: w.Method, Params: w.Params}, true
	default:
		return nil, false
	}
}
