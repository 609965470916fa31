// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manipulative is the commit server of the live style editor.
//
// The service exposes endpoints for:
//   - Committing edited style values back into source files (POST /commit)
//   - Previewing a commit as unified diffs (POST /commit?dry_run=true)
//   - Hosting overlay sessions that a browser drives over a websocket
package manipulative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/manipulative/services/manipulative/config"
	"github.com/AleutianAI/manipulative/services/manipulative/overlay"
	"github.com/AleutianAI/manipulative/services/manipulative/patch"
	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
)

var (
	// ErrCommitTimeout indicates the batch did not finish within the
	// configured commit timeout. Files already being written still finish.
	ErrCommitTimeout = errors.New("commit timed out")

	// ErrRateLimited indicates the commit rate limit was exceeded.
	ErrRateLimited = errors.New("commit rate limit exceeded")
)

// ValidationError describes a request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// CommitFailedError is returned to in-process overlay sessions when some
// files of their batch could not be patched.
type CommitFailedError struct {
	Failures []protocol.FileFailure
}

func (e *CommitFailedError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s (%s)", f.FileName, f.Code)
	}
	return fmt.Sprintf("commit failed for %d file(s): %s", len(e.Failures), strings.Join(names, ", "))
}

// Patcher applies or previews commit batches. *patch.Engine implements it.
type Patcher interface {
	Apply(ctx context.Context, updates []protocol.Update) (*patch.Result, error)
	Preview(ctx context.Context, updates []protocol.Update) (*patch.Result, error)
}

// Service holds the state behind the HTTP handlers.
//
// Thread Safety: Service is safe for concurrent use.
type Service struct {
	cfg      config.ServerConfig
	patcher  Patcher
	sessions *overlay.Registry
	limiter  *rate.Limiter
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	started  time.Time
}

// NewService creates a service that commits through patcher. A nil logger
// uses slog.Default().
func NewService(cfg config.ServerConfig, patcher Patcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = config.Default().Server.CommitTimeout
	}
	svc := &Service{
		cfg:      cfg,
		patcher:  patcher,
		sessions: overlay.NewRegistry(logger),
		logger:   logger,
		started:  time.Now(),
	}
	if cfg.CommitRate > 0 {
		burst := cfg.CommitBurst
		if burst < 1 {
			burst = 1
		}
		svc.limiter = rate.NewLimiter(rate.Limit(cfg.CommitRate), burst)
	}
	return svc
}

// WithMetrics attaches request and session instruments.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// Sessions returns the overlay session registry.
func (s *Service) Sessions() *overlay.Registry {
	return s.sessions
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

// allowCommit consumes one token from the commit limiter.
func (s *Service) allowCommit() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// Commit runs a batch through the patcher, bounded by the commit timeout.
//
// When the timeout fires Commit returns ErrCommitTimeout at once. Files
// still waiting for their lock give up; files already being patched are
// written in the background.
func (s *Service) Commit(ctx context.Context, updates []protocol.Update, dryRun bool) (*patch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
	defer cancel()

	type outcome struct {
		res *patch.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		if dryRun {
			o.res, o.err = s.patcher.Preview(ctx, updates)
		} else {
			o.res, o.err = s.patcher.Apply(ctx, updates)
		}
		done <- o
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrCommitTimeout, s.cfg.CommitTimeout)
		}
		return nil, ctx.Err()
	}
}

// sessionCommitter commits overlay sessions hosted by this process
// straight into the patcher.
func (s *Service) sessionCommitter() overlay.Committer {
	return overlay.CommitterFunc(func(ctx context.Context, updates []protocol.Update) error {
		res, err := s.Commit(ctx, updates, false)
		if err != nil {
			return err
		}
		if !res.OK() {
			return &CommitFailedError{Failures: res.Failures}
		}
		return nil
	})
}
