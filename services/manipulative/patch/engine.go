// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch writes committed style edits back into source files.
//
// # Description
//
// A batch of (fileName, position, value) updates is grouped per file. Each
// file runs through one pipeline: lock, read, parse, classify every edit
// against the current text, splice back-to-front, inject the style helper
// import, format and write atomically. Files are independent: one failing
// file never affects another.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Pipelines on the same file are
// serialized in arrival order.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/manipulative/services/manipulative/format"
	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
	"github.com/AleutianAI/manipulative/services/manipulative/protocol"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
	"github.com/AleutianAI/manipulative/services/manipulative/textedit"
)

// Options configures the engine.
type Options struct {
	// AllowedRoots restricts writes to files under these directories.
	// Empty allows any absolute path.
	AllowedRoots []string

	// MaxConcurrency bounds the number of files patched at once.
	MaxConcurrency int

	// Attribute is the placeholder attribute name.
	Attribute string

	// Hook is the runtime hook export that call sites resolve to.
	Hook jsx.Target

	// StyleModule and StyleHelper name the template tag wrapped around
	// committed values.
	StyleModule string
	StyleHelper string
}

// DefaultOptions returns the options matching the default instrumenter.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: 8,
		Attribute:      "css__",
		Hook: jsx.Target{
			Modules: []string{"manipulative", "manipulative/macro"},
			Name:    "useCssPlaceholder",
		},
		StyleModule: "@emotion/react",
		StyleHelper: "css",
	}
}

// Result is the outcome of a batch.
type Result struct {
	// Written lists the files that now hold the committed values.
	Written []string

	// Failures lists every file that was left untouched.
	Failures []protocol.FileFailure

	// Diffs holds the previews of a dry run.
	Diffs []protocol.FileDiff

	// DryRun is true for Preview results.
	DryRun bool
}

// OK reports whether every file succeeded.
func (r *Result) OK() bool {
	return len(r.Failures) == 0
}

// Response converts the result to the commit endpoint body.
func (r *Result) Response(updates []protocol.Update) protocol.CommitResponse {
	resp := protocol.CommitResponse{
		Written:  r.Written,
		Failures: r.Failures,
		Diffs:    r.Diffs,
		DryRun:   r.DryRun,
	}
	if r.OK() {
		resp.Updates = updates
	}
	return resp
}

// Engine applies commit batches.
type Engine struct {
	opts      Options
	formatter format.Formatter
	logger    *slog.Logger
	locks     *fileLocks
}

// New creates an Engine. A nil formatter leaves output unformatted and a
// nil logger uses slog.Default().
func New(opts Options, formatter format.Formatter, logger *slog.Logger) *Engine {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if formatter == nil {
		formatter = format.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:      opts,
		formatter: formatter,
		logger:    logger.With(slog.String("component", "patch")),
		locks:     newFileLocks(),
	}
}

// Apply patches and writes every file addressed by updates.
//
// An error is returned only when the batch itself is invalid; per-file
// failures are reported in Result.Failures. Once a file's lock has been
// acquired its pipeline runs to completion even if ctx is canceled.
func (e *Engine) Apply(ctx context.Context, updates []protocol.Update) (*Result, error) {
	return e.run(ctx, updates, false)
}

// Preview runs the same pipeline as Apply without writing and returns a
// unified diff per changed file.
func (e *Engine) Preview(ctx context.Context, updates []protocol.Update) (*Result, error) {
	return e.run(ctx, updates, true)
}

// fileBatch is the set of edits addressed to one file.
type fileBatch struct {
	path  string
	edits map[int]string // position -> value, last write wins
}

func (b *fileBatch) positions() []int {
	out := make([]int, 0, len(b.edits))
	for p := range b.edits {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// group validates updates and groups them by cleaned file path in
// first-seen order.
func group(updates []protocol.Update) ([]*fileBatch, error) {
	var batches []*fileBatch
	byPath := make(map[string]*fileBatch)
	for i, u := range updates {
		if u.FileName == "" {
			return nil, fmt.Errorf("%w: update %d: fileName is required", ErrInvalidUpdate, i)
		}
		if u.Position < 0 {
			return nil, fmt.Errorf("%w: update %d: position must be >= 0", ErrInvalidUpdate, i)
		}
		path := filepath.Clean(u.FileName)
		b, ok := byPath[path]
		if !ok {
			b = &fileBatch{path: path, edits: make(map[int]string)}
			byPath[path] = b
			batches = append(batches, b)
		}
		b.edits[u.Position] = u.Value
	}
	return batches, nil
}

func (e *Engine) run(ctx context.Context, updates []protocol.Update, dryRun bool) (*Result, error) {
	start := time.Now()
	mode, spanName := "apply", "Engine.Apply"
	if dryRun {
		mode, spanName = "preview", "Engine.Preview"
	}
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	batches, err := group(updates)
	if err != nil {
		telemetry.RecordError(span, err)
		batchTotal.WithLabelValues(mode, "invalid").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("patch.update_count", len(updates)),
		attribute.Int("patch.file_count", len(batches)),
	)

	result := &Result{DryRun: dryRun}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrency)
	for _, b := range batches {
		g.Go(func() error {
			diff, ferr := e.patchFile(ctx, b, dryRun)

			mu.Lock()
			defer mu.Unlock()
			if ferr != nil {
				result.Failures = append(result.Failures, ferr.Failure())
				filesTotal.WithLabelValues(string(ferr.Code)).Inc()
				return nil
			}
			filesTotal.WithLabelValues("ok").Inc()
			if dryRun {
				if diff != "" {
					result.Diffs = append(result.Diffs, protocol.FileDiff{FileName: b.path, Diff: diff})
				}
			} else {
				result.Written = append(result.Written, b.path)
			}
			return nil
		})
	}
	_ = g.Wait() // pipelines record failures instead of returning them

	sort.Strings(result.Written)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].FileName < result.Failures[j].FileName })
	sort.Slice(result.Diffs, func(i, j int) bool { return result.Diffs[i].FileName < result.Diffs[j].FileName })

	outcome := "ok"
	if !result.OK() {
		outcome = "partial"
		span.SetStatus(codes.Error, fmt.Sprintf("%d files failed", len(result.Failures)))
	}
	batchTotal.WithLabelValues(mode, outcome).Inc()
	batchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	e.logger.Info("commit batch processed",
		slog.String("mode", mode),
		slog.Int("updates", len(updates)),
		slog.Int("files", len(batches)),
		slog.Int("written", len(result.Written)),
		slog.Int("failed", len(result.Failures)),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

// patchFile runs the pipeline for one file and returns its preview diff
// when dryRun is set.
func (e *Engine) patchFile(ctx context.Context, b *fileBatch, dryRun bool) (string, *FileError) {
	ctx, span := startFileSpan(ctx, b.path, len(b.edits))
	defer span.End()

	diff, ferr := e.lockedPipeline(ctx, b, dryRun)
	if ferr != nil {
		telemetry.RecordError(span, ferr, attribute.String("patch.code", string(ferr.Code)))
		e.logger.Warn("file not patched",
			slog.String("file", b.path),
			slog.String("code", string(ferr.Code)),
			slog.String("error", ferr.Err.Error()))
	}
	return diff, ferr
}

func (e *Engine) lockedPipeline(ctx context.Context, b *fileBatch, dryRun bool) (string, *FileError) {
	path := b.path
	if !isPathAllowed(path, e.opts.AllowedRoots) {
		return "", fileError(path, ErrPathNotAllowed, "must be absolute and inside the allowed roots")
	}

	waitStart := time.Now()
	release, err := e.locks.acquire(ctx, path)
	lockWaitDuration.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return "", fileError(b.path, ErrLockTimeout, "%v", err)
	}
	defer release()

	// From here on the file is ours; finish even if the request goes away.
	ctx = context.WithoutCancel(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return "", fileError(b.path, ErrFileRead, "%v", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(b.path, ErrFileRead, "%v", err)
	}

	out, ferr := e.splice(ctx, b, path, src)
	if ferr != nil {
		return "", ferr
	}

	formatted, err := e.formatter.Format(ctx, path, out)
	if err != nil {
		return "", fileError(b.path, ErrFormat, "%v", err)
	}
	editsPerFile.Observe(float64(len(b.edits)))

	if dryRun {
		diff, err := unifiedDiff(path, src, formatted)
		if err != nil {
			return "", fileError(b.path, ErrFormat, "%v", err)
		}
		return diff, nil
	}

	// Unchanged content is not rewritten; the file still counts as written.
	if bytes.Equal(src, formatted) {
		return "", nil
	}
	if err := atomicWriteFile(path, formatted, info.Mode().Perm()); err != nil {
		return "", fileError(b.path, ErrFileWrite, "%v", err)
	}
	e.logger.Debug("file patched",
		slog.String("file", path),
		slog.Int("edits", len(b.edits)),
		slog.Int("bytes", len(formatted)))
	return "", nil
}

// splice parses src once, classifies every edit and applies all
// replacements, including a helper import when one is needed.
func (e *Engine) splice(ctx context.Context, b *fileBatch, path string, src []byte) ([]byte, *FileError) {
	f, err := jsx.Parse(ctx, path, src)
	if err != nil {
		if errors.Is(err, jsx.ErrUnsupportedFile) || errors.Is(err, jsx.ErrInvalidContent) || errors.Is(err, jsx.ErrFileTooLarge) {
			return nil, fileError(b.path, ErrMalformedEdit, "%v", err)
		}
		return nil, fileError(b.path, ErrFileRead, "%v", err)
	}
	defer f.Close()

	hook := f.Resolve(e.opts.Hook)
	helper, inject := e.helperFor(f)

	reps := make([]textedit.Replacement, 0, len(b.edits)+1)
	needHelper := false
	for _, pos := range b.positions() {
		value := b.edits[pos]
		s, ok := classify(f, hook, e.opts.Attribute, pos)
		if !ok {
			return nil, fileError(b.path, ErrMalformedEdit, "position %d: %s", pos, describe(f, pos))
		}
		if strings.TrimSpace(value) != "" {
			needHelper = true
		}
		reps = append(reps, s.replacement(e.opts.Attribute, helper, value))
	}
	if needHelper && inject {
		reps = append(reps, f.ImportInsertion(e.importStatement()))
	}

	out, err := textedit.Apply(src, reps)
	if err != nil {
		return nil, fileError(b.path, ErrMalformedEdit, "%v", err)
	}
	return out, nil
}

// helperFor picks the local name of the style helper and whether its
// import has to be added.
func (e *Engine) helperFor(f *jsx.File) (string, bool) {
	if local, ok := f.FindImport(e.opts.StyleModule, e.opts.StyleHelper); ok {
		return local, false
	}
	if f.ProgramDeclares(e.opts.StyleHelper) {
		e.logger.Warn("style helper name is already declared; not injecting its import",
			slog.String("file", f.Path),
			slog.String("helper", e.opts.StyleHelper),
			slog.String("module", e.opts.StyleModule))
		return e.opts.StyleHelper, false
	}
	return e.opts.StyleHelper, true
}

func (e *Engine) importStatement() string {
	return "import { " + e.opts.StyleHelper + " } from " + jsx.QuoteString(e.opts.StyleModule) + ";"
}
