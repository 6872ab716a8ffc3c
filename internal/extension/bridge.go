// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extension bridges language server diagnostics to editor
// extensions over WebSocket.
package extension

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/kodiak/internal/config"
	"github.com/AleutianAI/kodiak/internal/lsp"
	"github.com/AleutianAI/kodiak/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to loopback; extensions connect locally.
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// WSRequest is a command from an extension client.
type WSRequest struct {
	// Action is open, update, close, or diagnostics.
	Action string `json:"action"`

	// Path is the file path the action applies to.
	Path string `json:"path"`

	// Language overrides extension-based language detection.
	Language string `json:"language,omitempty"`

	// Text is the document content for open and update.
	Text string `json:"text,omitempty"`
}

// WSResponse is a message to an extension client.
type WSResponse struct {
	Action      string           `json:"action"`
	SessionID   string           `json:"sessionId,omitempty"`
	URI         string           `json:"uri,omitempty"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics,omitempty"`
	Version     *int             `json:"version,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// wsConn is one connected extension with serialized writes.
type wsConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) sendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

// Bridge serves the extension WebSocket endpoint and fans server
// diagnostics out to every connected client.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Bridge struct {
	addr string
	pool *lsp.Pool

	mu         sync.Mutex
	conns      map[string]*wsConn
	subscribed map[*lsp.Client]bool

	srv *http.Server
}

// NewBridge creates a bridge serving the given pool on addr.
func NewBridge(addr string, pool *lsp.Pool) *Bridge {
	return &Bridge{
		addr:       addr,
		pool:       pool,
		conns:      make(map[string]*wsConn),
		subscribed: make(map[*lsp.Client]bool),
	}
}

// Router builds the gin router. Split out for tests.
func (b *Bridge) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("kodiak-bridge"))

	router.GET("/healthz", b.handleHealth)
	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}
	router.GET("/v1/stream", b.handleStream)

	return router
}

// Run serves until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.srv = &http.Server{
		Addr:              b.addr,
		Handler:           b.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Extension bridge listening", slog.String("addr", b.addr))
		errCh <- b.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.srv.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		return err
	}
}

func (b *Bridge) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"servers": b.pool.RunningServers(),
	})
}

// handleStream upgrades to WebSocket and processes extension commands
// until the client disconnects.
func (b *Bridge) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	conn := &wsConn{id: uuid.New().String(), ws: ws}
	b.addConn(conn)
	defer b.removeConn(conn)

	slog.Info("Extension connected", "sessionID", conn.id)
	if err := conn.sendJSON(WSResponse{Action: "session_created", SessionID: conn.id}); err != nil {
		return
	}

	for {
		var req WSRequest
		if err := ws.ReadJSON(&req); err != nil {
			slog.Info("Extension disconnected", "sessionID", conn.id, "error", err.Error())
			return
		}
		b.handleRequest(c.Request.Context(), conn, req)
	}
}

func (b *Bridge) handleRequest(ctx context.Context, conn *wsConn, req WSRequest) {
	language := req.Language
	if language == "" {
		language = config.DetectLanguage(req.Path)
	}
	if language == "" {
		_ = conn.sendJSON(WSResponse{Action: req.Action, Error: "cannot determine language for " + req.Path})
		return
	}

	client, err := b.pool.GetOrSpawn(ctx, language)
	if err != nil {
		_ = conn.sendJSON(WSResponse{Action: req.Action, Error: err.Error()})
		return
	}
	b.subscribeDiagnostics(client)

	uri := config.FileURI(req.Path)
	switch req.Action {
	case "open":
		err = client.OpenDocument(uri, language, req.Text)
	case "update":
		err = client.UpdateDocument(uri, req.Text)
	case "close":
		err = client.CloseDocument(uri)
	case "diagnostics":
		diags := client.Diagnostics(ctx, uri)
		_ = conn.sendJSON(WSResponse{Action: "diagnostics", URI: uri, Diagnostics: diags})
		return
	default:
		err = errors.New("unknown action: " + req.Action)
	}

	if err != nil {
		_ = conn.sendJSON(WSResponse{Action: req.Action, Error: err.Error()})
	}
}

// subscribeDiagnostics hooks the client's diagnostics event into the
// broadcast path, once per client.
func (b *Bridge) subscribeDiagnostics(client *lsp.Client) {
	b.mu.Lock()
	if b.subscribed[client] {
		b.mu.Unlock()
		return
	}
	b.subscribed[client] = true
	b.mu.Unlock()

	client.On(lsp.EventDiagnostics, func(payload interface{}) {
		params, ok := payload.(lsp.PublishDiagnosticsParams)
		if !ok {
			return
		}
		b.broadcast(WSResponse{
			Action:      "diagnostics",
			URI:         params.URI,
			Diagnostics: params.Diagnostics,
			Version:     params.Version,
		})
	})
}

// broadcast sends a message to every connected extension.
func (b *Bridge) broadcast(msg WSResponse) {
	b.mu.Lock()
	conns := make([]*wsConn, 0, len(b.conns))
	for _, conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.sendJSON(msg)
	}
}

func (b *Bridge) addConn(conn *wsConn) {
	b.mu.Lock()
	b.conns[conn.id] = conn
	b.mu.Unlock()
}

func (b *Bridge) removeConn(conn *wsConn) {
	b.mu.Lock()
	delete(b.conns, conn.id)
	b.mu.Unlock()
}
