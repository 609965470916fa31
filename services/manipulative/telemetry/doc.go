// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for the commit
// server.
//
// Traces go to the exporter named in Config (none, stdout or otlp over
// gRPC). Metrics are always readable from MetricsHandler, which serves the
// OpenTelemetry instruments through the Prometheus exporter together with
// everything registered on the default Prometheus registry.
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "manipulative"})
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
