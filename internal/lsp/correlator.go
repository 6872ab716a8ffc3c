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
	"fmt"
	"sync"
	"time"
)

// DefaultRequestTimeout is the per-request timeout.
const DefaultRequestTimeout = 30 * time.Second

// requestOutcome is delivered to exactly one waiter per request.
type requestOutcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight request.
type pendingRequest struct {
	id     int64
	method string
	done   chan requestOutcome
	timer  *time.Timer
}

// =============================================================================
// CORRELATOR
// =============================================================================

// Correlator assigns request ids and matches response frames back to their
// callers.
//
// Description:
//
//	Ids start at 1 and are strictly increasing for the lifetime of the
//	correlator; they survive transport close/reopen so an id is never
//	reused within one client instance. Every request carries a fixed
//	timeout. A pending entry is removed exactly once: on the matching
//	response, on timeout, or when the transport fails as a whole. A
//	response that finds no entry (late, after timeout or shutdown) is
//	silently discarded.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple requests may be in flight at once;
//	correctness depends only on id matching, never on arrival order.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	open    bool

	write   func([]byte) error
	timeout time.Duration
}

// NewCorrelator creates a closed correlator with the given timeout.
// Use DefaultRequestTimeout when no override is needed.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		pending: make(map[int64]*pendingRequest),
		timeout: timeout,
	}
}

// Open attaches the correlator to a transport write function. Requests are
// accepted until Close is called.
func (c *Correlator) Open(write func([]byte) error) {
	c.mu.Lock()
	c.write = write
	c.open = true
	c.mu.Unlock()
}

// Send issues a request and blocks until the matching response, the
// request timeout, transport failure, or context cancellation.
//
// Description:
//
//	Allocates the next id, frames the request, records a pending entry
//	with a timeout timer, then writes the frame. The order matters: when
//	the correlator is closed the call fails with ErrNotRunning before
//	any id is allocated, and the entry is visible before the server can
//	possibly respond.
//
// Inputs:
//
//	ctx - Context for cancellation (the fixed timeout applies regardless)
//	method - The LSP method to invoke
//	params - Method parameters (JSON-marshaled)
//
// Outputs:
//
//	json.RawMessage - The raw result on success (may be JSON null)
//	error - ErrNotRunning, ErrRequestTimeout (with method), a *ServerError
//	        from an error response, ErrClientShutdown/ErrServerExited from
//	        FailAll, or a write/marshal failure
func (c *Correlator) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	c.nextID++
	id := c.nextID
	write := c.write
	c.mu.Unlock()

	frame, err := encodeMessage(wireRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	entry := &pendingRequest{
		id:     id,
		method: method,
		done:   make(chan requestOutcome, 1),
	}

	// The timer is armed in the same critical section that publishes the
	// entry, so every later read of entry.timer is ordered after it by
	// the mutex. The entry must be visible before the frame goes out: a
	// response can race the write return, never precede the write.
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	entry.timer = time.AfterFunc(c.timeout, func() {
		c.fail(id, fmt.Errorf("%w: %s", ErrRequestTimeout, method))
	})
	c.pending[id] = entry
	c.mu.Unlock()

	if err := write(frame); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.remove(id)
		return nil, ctx.Err()
	case out := <-entry.done:
		return out.result, out.err
	}
}

// Resolve delivers a response to its waiting caller. Responses whose id
// has no pending entry are discarded.
func (c *Correlator) Resolve(resp Response) {
	entry := c.remove(resp.ID)
	if entry == nil {
		return
	}
	if resp.Error != nil {
		entry.done <- requestOutcome{err: &ServerError{
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}}
		return
	}
	entry.done <- requestOutcome{result: resp.Result}
}

// FailAll rejects every pending request with err, exactly once each, and
// closes the correlator to new requests.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	entries := make([]*pendingRequest, 0, len(c.pending))
	for _, entry := range c.pending {
		entries = append(entries, entry)
	}
	c.pending = make(map[int64]*pendingRequest)
	c.open = false
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.done <- requestOutcome{err: err}
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// fail rejects one pending request, if still present.
func (c *Correlator) fail(id int64, err error) {
	entry := c.remove(id)
	if entry == nil {
		return
	}
	entry.done <- requestOutcome{err: err}
}

// remove detaches a pending entry and stops its timer. Returns nil when
// the entry was already removed.
func (c *Correlator) remove(id int64) *pendingRequest {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}
