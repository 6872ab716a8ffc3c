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
	"testing"
)

func TestEmitter_On_RegistrationOrder(t *testing.T) {
	e := NewEmitter()

	var order []int
	e.On(EventDiagnostics, func(interface{}) { order = append(order, 1) })
	e.On(EventDiagnostics, func(interface{}) { order = append(order, 2) })
	e.On(EventDiagnostics, func(interface{}) { order = append(order, 3) })

	e.Emit(EventDiagnostics, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("invocation order = %v, want [1 2 3]", order)
	}
}

func TestEmitter_Off(t *testing.T) {
	e := NewEmitter()

	calls := 0
	sub := e.On(EventError, func(interface{}) { calls++ })
	e.Off(sub)
	e.Emit(EventError, nil)

	if calls != 0 {
		t.Errorf("removed handler called %d times, want 0", calls)
	}

	// Double-removal is a no-op.
	e.Off(sub)
}

func TestEmitter_Once(t *testing.T) {
	e := NewEmitter()

	calls := 0
	e.Once(EventExit, func(interface{}) { calls++ })

	e.Emit(EventExit, nil)
	e.Emit(EventExit, nil)

	if calls != 1 {
		t.Errorf("once handler called %d times, want 1", calls)
	}
}

func TestEmitter_Emit_NoHandlers(t *testing.T) {
	e := NewEmitter()
	// Must not panic with nobody registered.
	e.Emit(EventDiagnostics, PublishDiagnosticsParams{URI: "file:///a.go"})
}

func TestEmitter_DispatchNotification_Diagnostics(t *testing.T) {
	e := NewEmitter()

	var got PublishDiagnosticsParams
	e.On(EventDiagnostics, func(payload interface{}) {
		got = payload.(PublishDiagnosticsParams)
	})

	e.DispatchNotification(Notification{
		Method: MethodPublishDiagnostics,
		Params: json.RawMessage(`{"uri":"file:///a.go","diagnostics":[{"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":5}},"severity":1,"message":"undefined: x"}]}`),
	})

	if got.URI != "file:///a.go" {
		t.Errorf("URI = %q, want file:///a.go", got.URI)
	}
	if len(got.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(got.Diagnostics))
	}
	d := got.Diagnostics[0]
	if d.Severity != SeverityError {
		t.Errorf("Severity = %v, want error", d.Severity)
	}
	if d.Message != "undefined: x" {
		t.Errorf("Message = %q", d.Message)
	}
}

func TestEmitter_DispatchNotification_UnknownMethodDropped(t *testing.T) {
	e := NewEmitter()

	calls := 0
	e.On(EventDiagnostics, func(interface{}) { calls++ })

	e.DispatchNotification(Notification{Method: "window/logMessage", Params: json.RawMessage(`{"type":3,"message":"hi"}`)})
	e.DispatchNotification(Notification{Method: "$/progress", Params: json.RawMessage(`{}`)})

	if calls != 0 {
		t.Errorf("unknown notifications invoked handlers %d times, want 0", calls)
	}
}

func TestEmitter_DispatchNotification_BadParamsDropped(t *testing.T) {
	e := NewEmitter()

	calls := 0
	e.On(EventDiagnostics, func(interface{}) { calls++ })

	e.DispatchNotification(Notification{Method: MethodPublishDiagnostics, Params: json.RawMessage(`[not json`)})

	if calls != 0 {
		t.Errorf("unparsable params invoked handlers %d times, want 0", calls)
	}
}
