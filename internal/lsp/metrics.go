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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP operations.
var (
	tracer = otel.Tracer("kodiak.lsp")
	meter  = otel.Meter("kodiak.lsp")
)

// Metrics for LSP operations.
var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	framesDecoded  metric.Int64Counter
	framesDropped  metric.Int64Counter
	serverSpawns   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Duration of LSP requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"lsp_request_total",
			metric.WithDescription("Total number of LSP requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		framesDecoded, err = meter.Int64Counter(
			"lsp_frames_decoded_total",
			metric.WithDescription("Total number of decoded incoming frames"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		framesDropped, err = meter.Int64Counter(
			"lsp_frames_dropped_total",
			metric.WithDescription("Total number of undecodable incoming frames"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of language server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRequestSpan creates a span for an LSP request.
func startRequestSpan(ctx context.Context, method, server string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+method,
		trace.WithAttributes(
			attribute.String("lsp.method", method),
			attribute.String("lsp.server", server),
		),
	)
}

// recordRequestMetrics records latency and outcome for one request.
func recordRequestMetrics(ctx context.Context, method, server string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("server", server),
		attribute.Bool("success", success),
	)

	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

// recordFrameDecoded counts one successfully decoded frame.
func recordFrameDecoded() {
	if err := initMetrics(); err != nil {
		return
	}
	framesDecoded.Add(context.Background(), 1)
}

// recordFrameDropped counts one skipped frame (bad header or body).
func recordFrameDropped() {
	if err := initMetrics(); err != nil {
		return
	}
	framesDropped.Add(context.Background(), 1)
}

// recordServerSpawn records a server spawn attempt.
func recordServerSpawn(ctx context.Context, server string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("success", success),
	))
}
