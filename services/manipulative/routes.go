// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manipulative

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
)

// RegisterRoutes registers the commit server endpoints.
//
// Endpoints:
//
//	POST   /commit           - Apply a commit batch (?dry_run=true previews)
//	POST   /update           - Legacy alias of /commit
//	GET    /health           - Health check
//	GET    /metrics          - Prometheus exposition
//	POST   /sessions         - Create an overlay session
//	GET    /sessions/:id     - Session snapshot
//	DELETE /sessions/:id     - Drop a session
//	GET    /sessions/:id/ws  - Drive a session over a websocket
func RegisterRoutes(r gin.IRouter, handlers *Handlers) {
	// Commits
	r.POST("/commit", handlers.HandleCommit)
	r.POST("/update", handlers.HandleCommit)

	// Health and metrics
	r.GET("/health", handlers.HandleHealth)
	r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	// Overlay sessions
	sessions := r.Group("/sessions")
	{
		sessions.POST("", handlers.HandleCreateSession)
		sessions.GET("/:id", handlers.HandleGetSession)
		sessions.DELETE("/:id", handlers.HandleDeleteSession)
		sessions.GET("/:id/ws", handlers.HandleSessionSocket)
	}
}

// NewRouter builds the gin engine with recovery, tracing, request IDs,
// CORS, request logging and, when the service has them, metrics.
func NewRouter(svc *Service, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware(svc.cfg.AllowedOrigins))
	router.Use(requestLogger(svc))
	if svc.metrics != nil {
		router.Use(telemetry.GinMetrics(svc.metrics))
	}

	RegisterRoutes(router, NewHandlers(svc))
	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

func requestLogger(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		svc.logger.Debug("Request handled",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// originAllowed reports whether origin may call the server. An empty
// origin (same-origin or non-browser client) is always allowed.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// corsMiddleware answers preflight requests and tags responses for the
// configured origins. The overlay runs on the application's origin, not
// the server's.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return originAllowed(allowed, origin)
		},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID", "traceparent", "tracestate", "baggage"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        10 * time.Minute,
	})
}
