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
	"sort"
	"sync"
)

// DocumentTracker tracks open-document URIs and per-document version
// counters for didOpen/didChange/didClose notifications.
//
// Thread Safety:
//
//	Safe for concurrent use.
type DocumentTracker struct {
	mu       sync.Mutex
	versions map[string]int
}

// NewDocumentTracker creates an empty tracker.
func NewDocumentTracker() *DocumentTracker {
	return &DocumentTracker{versions: make(map[string]int)}
}

// Open records a document as open at version 1 and returns that version.
// Re-opening an already open document resets its version to 1.
func (t *DocumentTracker) Open(uri string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[uri] = 1
	return 1
}

// Advance increments the tracked version for a change, initializing the
// document at version 1 if it was never opened, and returns the new
// version.
func (t *DocumentTracker) Advance(uri string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[uri]
	if !ok {
		t.versions[uri] = 1
		return 1
	}
	t.versions[uri] = v + 1
	return v + 1
}

// Close removes the document so a later Advance restarts at version 1.
func (t *DocumentTracker) Close(uri string) {
	t.mu.Lock()
	delete(t.versions, uri)
	t.mu.Unlock()
}

// Version returns the tracked version for a document.
func (t *DocumentTracker) Version(uri string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[uri]
	return v, ok
}

// URIs returns the open document URIs in sorted order.
func (t *DocumentTracker) URIs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	uris := make([]string, 0, len(t.versions))
	for uri := range t.versions {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Len returns the number of open documents.
func (t *DocumentTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.versions)
}

// Clear removes all tracked documents.
func (t *DocumentTracker) Clear() {
	t.mu.Lock()
	t.versions = make(map[string]int)
	t.mu.Unlock()
}
