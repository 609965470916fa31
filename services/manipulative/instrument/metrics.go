// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for instrumentation passes.
var (
	tracer = otel.Tracer("manipulative.instrument")
	meter  = otel.Meter("manipulative.instrument")
)

var (
	passLatency  metric.Float64Histogram
	passTotal    metric.Int64Counter
	sitesTotal   metric.Int64Counter
	skippedTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passLatency, err = meter.Float64Histogram(
			"instrument_pass_duration_seconds",
			metric.WithDescription("Duration of instrumentation passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passTotal, err = meter.Int64Counter(
			"instrument_pass_total",
			metric.WithDescription("Total number of instrumentation passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sitesTotal, err = meter.Int64Counter(
			"instrument_sites_total",
			metric.WithDescription("Total number of sites rewritten"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedTotal, err = meter.Int64Counter(
			"instrument_skipped_total",
			metric.WithDescription("Total number of candidate sites left untouched"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPassMetrics records metrics for one instrumentation pass.
func recordPassMetrics(ctx context.Context, grammar string, duration time.Duration, sites, skipped int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("grammar", grammar),
		attribute.Bool("success", success),
	)
	passLatency.Record(ctx, duration.Seconds(), attrs)
	passTotal.Add(ctx, 1, attrs)

	if sites > 0 {
		sitesTotal.Add(ctx, int64(sites), metric.WithAttributes(attribute.String("grammar", grammar)))
	}
	if skipped > 0 {
		skippedTotal.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("grammar", grammar)))
	}
}

// startPassSpan creates a span for an instrumentation pass.
func startPassSpan(ctx context.Context, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Instrumenter.Instrument",
		trace.WithAttributes(
			attribute.String("instrument.file", filePath),
			attribute.Int("instrument.content_size", contentSize),
		),
	)
}

// setPassSpanResult sets the result attributes on a pass span.
func setPassSpanResult(span trace.Span, sites, skipped int, injected bool) {
	span.SetAttributes(
		attribute.Int("instrument.site_count", sites),
		attribute.Int("instrument.skipped_count", skipped),
		attribute.Bool("instrument.import_injected", injected),
	)
}
