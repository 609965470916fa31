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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/manipulative/services/manipulative/patch"
	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
)

// requestIDKey is the gin context key holding the request ID.
const requestIDKey = "request_id"

// Handlers contains the HTTP handlers of the commit server.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string  `json:"status"`
	Sessions int     `json:"sessions"`
	Uptime   float64 `json:"uptime_seconds"`
}

// SessionCreatedResponse is returned by POST /sessions.
type SessionCreatedResponse struct {
	SessionID string `json:"sessionId"`
}

// HandleCommit handles POST /commit and its legacy alias POST /update.
//
// Request Body:
//
//	protocol.CommitRequest
//
// Response:
//
//	200 OK: every file written (or previewed, with ?dry_run=true)
//	400 Bad Request: malformed body or invalid update
//	408 Request Timeout: the batch exceeded the commit timeout
//	422 Unprocessable Entity: some files failed; see failures
//	429 Too Many Requests: commit rate limit exceeded
func (h *Handlers) HandleCommit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		h.svc.logger.With("request_id", requestID, "handler", "HandleCommit"))

	if !h.svc.allowCommit() {
		logger.Warn("Commit rate limited")
		c.JSON(http.StatusTooManyRequests, protocol.ErrorResponse{
			Error:     ErrRateLimited.Error(),
			Code:      "RATE_LIMITED",
			RequestID: requestID,
		})
		return
	}

	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(c, logger, requestID, &ValidationError{Field: "dry_run", Message: "must be a boolean"}, "INVALID_REQUEST")
			return
		}
		dryRun = v
	}

	var req protocol.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, logger, requestID, bindingError(err), "INVALID_REQUEST")
		return
	}

	res, err := h.svc.Commit(c.Request.Context(), req.Updates, dryRun)
	if err != nil {
		switch {
		case errors.Is(err, patch.ErrInvalidUpdate):
			h.badRequest(c, logger, requestID, &ValidationError{Field: "updates", Message: err.Error()}, "INVALID_UPDATE")
		case errors.Is(err, ErrCommitTimeout):
			logger.Warn("Commit timed out", "updates", len(req.Updates))
			c.JSON(http.StatusRequestTimeout, protocol.ErrorResponse{
				Error:     err.Error(),
				Code:      "COMMIT_TIMEOUT",
				RequestID: requestID,
			})
		default:
			logger.Error("Commit failed", "error", err)
			c.JSON(http.StatusInternalServerError, protocol.ErrorResponse{
				Error:     "commit failed",
				Code:      "COMMIT_ERROR",
				RequestID: requestID,
			})
		}
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
		for _, f := range res.Failures {
			logger.Warn("File not patched", "file", f.FileName, "code", f.Code, "error", f.Error)
		}
	}
	c.JSON(status, res.Response(req.Updates))
}

func (h *Handlers) badRequest(c *gin.Context, logger *slog.Logger, requestID string, verr *ValidationError, code string) {
	logger.Warn("Invalid commit request", "error", verr)
	c.JSON(http.StatusBadRequest, protocol.ErrorResponse{
		Error:     verr.Error(),
		Code:      code,
		RequestID: requestID,
	})
}

// bindingError turns a gin binding failure into a ValidationError naming
// the first offending field.
func bindingError(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Namespace(), Message: "failed " + fe.Tag() + " validation"}
	}
	return &ValidationError{Message: "invalid request body: " + err.Error()}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Sessions: h.svc.sessions.Len(),
		Uptime:   h.svc.Uptime().Seconds(),
	})
}

// HandleCreateSession handles POST /sessions.
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	sess := h.svc.sessions.Create()
	h.svc.logger.Info("Overlay session created", "session_id", sess.ID(), "request_id", getOrCreateRequestID(c))
	c.JSON(http.StatusCreated, SessionCreatedResponse{SessionID: sess.ID()})
}

// HandleGetSession handles GET /sessions/:id and returns the snapshot.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	sess, ok := h.svc.sessions.Get(c.Param("id"))
	if !ok {
		sessionNotFound(c)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// HandleDeleteSession handles DELETE /sessions/:id.
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	if !h.svc.sessions.Delete(c.Param("id")) {
		sessionNotFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, protocol.ErrorResponse{
		Error:     "session not found",
		Code:      "SESSION_NOT_FOUND",
		RequestID: getOrCreateRequestID(c),
	})
}

// getOrCreateRequestID returns the request ID set by the middleware, the
// client's X-Request-ID, or a new UUID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}
