// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("manipulative.patch")

var (
	// batchTotal counts batches by mode and outcome
	batchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manipulative_patch_batches_total",
		Help: "Total commit batches processed by mode and outcome",
	}, []string{"mode", "outcome"})

	// batchDuration tracks end-to-end batch latency
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manipulative_patch_batch_duration_seconds",
		Help:    "Commit batch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"mode"})

	// filesTotal counts files by result
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manipulative_patch_files_total",
		Help: "Total files processed by result code",
	}, []string{"result"})

	// editsPerFile tracks how many edits land in one file
	editsPerFile = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manipulative_patch_edits_per_file",
		Help:    "Number of edits applied per file",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// lockWaitDuration tracks time spent waiting for the per-file lock
	lockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manipulative_patch_lock_wait_seconds",
		Help:    "Time spent waiting for a per-file lock",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func startFileSpan(ctx context.Context, path string, edits int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.patchFile",
		trace.WithAttributes(
			attribute.String("patch.file", path),
			attribute.Int("patch.edit_count", edits),
		),
	)
}
