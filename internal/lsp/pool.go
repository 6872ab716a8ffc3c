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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Pool manages one Client per language, spawning servers lazily on first
// use.
//
// Description:
//
//	Configurations are registered up front; a server process is spawned
//	only when GetOrSpawn is first called for its language. A rate
//	limiter bounds spawn attempts so a crash-looping server cannot fork
//	bomb the host. After ShutdownAll the pool refuses new spawns.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent GetOrSpawn calls for the same
//	language share a single spawn.
type Pool struct {
	mu       sync.Mutex
	configs  map[string]ServerConfig // keyed by language id
	clients  map[string]*Client      // keyed by language id
	spawning map[string]chan struct{}
	closed   bool

	spawnLimit *rate.Limiter
	opts       []ClientOption
}

// NewPool creates a pool from server configurations. Each configuration
// is registered under every language it lists; a later configuration
// claiming an already-registered language wins.
func NewPool(configs []ServerConfig, opts ...ClientOption) *Pool {
	p := &Pool{
		configs:  make(map[string]ServerConfig),
		clients:  make(map[string]*Client),
		spawning: make(map[string]chan struct{}),
		// Burst of 4 covers a polyglot repo opening; sustained spawn
		// churn beyond 1/sec means something is crash-looping.
		spawnLimit: rate.NewLimiter(rate.Limit(1), 4),
		opts:       opts,
	}
	for _, cfg := range configs {
		for _, lang := range cfg.Languages {
			p.configs[lang] = cfg
		}
	}
	return p
}

// UpdateConfigs replaces the registered server configurations, e.g. on a
// config hot reload. Running clients are untouched; the new registry
// applies to later spawns, and a language dropped from the configuration
// stops being available.
func (p *Pool) UpdateConfigs(configs []ServerConfig) {
	next := make(map[string]ServerConfig)
	for _, cfg := range configs {
		for _, lang := range cfg.Languages {
			next[lang] = cfg
		}
	}

	p.mu.Lock()
	p.configs = next
	p.mu.Unlock()

	slog.Info("LSP server registry updated",
		slog.Int("configs", len(configs)),
		slog.Int("languages", len(next)),
	)
}

// IsAvailable reports whether a server is configured for the language.
func (p *Pool) IsAvailable(language string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.configs[language]
	return ok
}

// Get returns the running client for a language, or nil if none has been
// spawned.
func (p *Pool) Get(language string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[language]
}

// RunningServers returns the language ids with a live client, sorted.
func (p *Pool) RunningServers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	langs := make([]string, 0, len(p.clients))
	for lang := range p.clients {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// GetOrSpawn returns the client for a language, spawning and starting it
// on first use. A cached client whose server has exited or been stopped
// is evicted and replaced rather than returned.
//
// Inputs:
//
//	ctx      - Context bounding the spawn and handshake
//	language - Language id ("go", "python")
//
// Outputs:
//
//	*Client - Ready client for the language
//	error   - ErrUnsupportedLanguage, ErrClientShutdown after
//	          ShutdownAll, or a Start failure
func (p *Pool) GetOrSpawn(ctx context.Context, language string) (*Client, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClientShutdown
		}
		if client, ok := p.clients[language]; ok {
			state := client.State()
			if state != StateErrored && state != StateStopped {
				p.mu.Unlock()
				return client, nil
			}
			// The server died or was stopped behind our back. Evict the
			// dead client and fall through to a fresh spawn; the rate
			// limiter keeps a crash-looping server in check.
			delete(p.clients, language)
			p.mu.Unlock()
			slog.Warn("Evicting dead LSP client",
				slog.String("language", language),
				slog.String("state", state.String()),
			)
			_ = client.Stop(ctx)
			continue
		}
		cfg, ok := p.configs[language]
		if !ok {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
		}
		if inflight, ok := p.spawning[language]; ok {
			p.mu.Unlock()
			// Another goroutine is spawning this language; wait and
			// re-check.
			select {
			case <-inflight:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		p.spawning[language] = done
		p.mu.Unlock()

		client, err := p.spawn(ctx, language, cfg)

		p.mu.Lock()
		delete(p.spawning, language)
		if err == nil {
			p.clients[language] = client
		}
		p.mu.Unlock()
		close(done)

		return client, err
	}
}

// spawn starts a new client under the rate limiter.
func (p *Pool) spawn(ctx context.Context, language string, cfg ServerConfig) (*Client, error) {
	if err := p.spawnLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("spawn rate limit: %w", err)
	}

	slog.Info("Spawning LSP server",
		slog.String("language", language),
		slog.String("server", cfg.Name),
	)

	client := NewClient(cfg, p.opts...)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start %s server: %w", cfg.Name, err)
	}
	return client, nil
}

// Shutdown stops the client for one language. A language with no running
// client is a no-op.
func (p *Pool) Shutdown(ctx context.Context, language string) error {
	p.mu.Lock()
	client, ok := p.clients[language]
	delete(p.clients, language)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return client.Stop(ctx)
}

// ShutdownAll stops every running client concurrently and prevents new
// spawns. Idempotent.
func (p *Pool) ShutdownAll(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients := make([]*Client, 0, len(p.clients))
	for _, client := range p.clients {
		clients = append(clients, client)
	}
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		g.Go(func() error {
			return client.Stop(gctx)
		})
	}
	return g.Wait()
}
