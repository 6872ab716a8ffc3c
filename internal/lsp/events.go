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
	"sync"

	"github.com/google/uuid"
)

// Event names the client emits.
type Event string

const (
	// EventDiagnostics carries a PublishDiagnosticsParams payload.
	EventDiagnostics Event = "diagnostics"

	// EventError carries an error payload (spawn or handshake failure).
	EventError Event = "error"

	// EventExit carries a *int payload: the process exit code, or nil
	// when the process was killed by a signal.
	EventExit Event = "exit"
)

// Handler receives an event payload. Handlers run synchronously on the
// emitting goroutine, in registration order.
type Handler func(payload interface{})

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	id    string
	event Event
}

// Event returns the event the subscription is registered for.
func (s Subscription) Event() Event {
	return s.event
}

// =============================================================================
// EMITTER
// =============================================================================

// Emitter is the observer registry for client events and the dispatcher
// for server-initiated notifications.
//
// Thread Safety:
//
//	Safe for concurrent use. Handlers must not assume they run on any
//	particular goroutine.
type Emitter struct {
	mu   sync.Mutex
	subs map[Event][]*subEntry
}

type subEntry struct {
	id   string
	fn   Handler
	once bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[Event][]*subEntry)}
}

// On registers a handler for an event.
//
// Outputs:
//
//	Subscription - Handle for removing the registration via Off
func (e *Emitter) On(event Event, fn Handler) Subscription {
	return e.register(event, fn, false)
}

// Once registers a handler that is removed after its first invocation.
func (e *Emitter) Once(event Event, fn Handler) Subscription {
	return e.register(event, fn, true)
}

func (e *Emitter) register(event Event, fn Handler, once bool) Subscription {
	entry := &subEntry{id: uuid.NewString(), fn: fn, once: once}
	e.mu.Lock()
	e.subs[event] = append(e.subs[event], entry)
	e.mu.Unlock()
	return Subscription{id: entry.id, event: event}
}

// Off removes a registration. Removing an already-removed subscription is
// a no-op.
func (e *Emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.subs[sub.event]
	for i, entry := range entries {
		if entry.id == sub.id {
			e.subs[sub.event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the event, synchronously and
// in registration order. Once-handlers are removed before they run so a
// re-entrant Emit cannot invoke them twice.
func (e *Emitter) Emit(event Event, payload interface{}) {
	e.mu.Lock()
	entries := e.subs[event]
	fns := make([]Handler, 0, len(entries))
	kept := entries[:0:0]
	for _, entry := range entries {
		fns = append(fns, entry.fn)
		if !entry.once {
			kept = append(kept, entry)
		}
	}
	e.subs[event] = kept
	e.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// =============================================================================
// NOTIFICATION DISPATCH
// =============================================================================

// DispatchNotification routes a server notification to its event.
//
// Description:
//
//	Only textDocument/publishDiagnostics is currently mapped (to the
//	diagnostics event). Unknown methods, and known methods whose params
//	fail to parse, are dropped without error.
func (e *Emitter) DispatchNotification(n Notification) {
	switch n.Method {
	case MethodPublishDiagnostics:
		var params PublishDiagnosticsParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return
		}
		e.Emit(EventDiagnostics, params)
	}
}
