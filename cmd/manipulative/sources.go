// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/manipulative/services/manipulative/instrument"
	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
)

// ignoredDirs are never descended into.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
}

// source is one input file.
type source struct {
	// Path is absolute; it becomes the FilePath of every key in the file.
	Path string

	// Rel is the path below the input root, or the base name for a file
	// given directly. Output trees mirror it.
	Rel string

	// Display is the path as the user would write it.
	Display string
}

// inputSet is the resolved command-line inputs.
type inputSet struct {
	dirs    []string
	sources []source
}

// singleFile reports whether the inputs are exactly one file argument.
func (s *inputSet) singleFile() bool {
	return len(s.dirs) == 0 && len(s.sources) == 1
}

// resolve maps a path below one of the input directories to a source.
func (s *inputSet) resolve(path string) (source, bool) {
	for _, dir := range s.dirs {
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return source{Path: path, Rel: rel, Display: path}, true
	}
	return source{}, false
}

func skipDir(name string) bool {
	return ignoredDirs[name] || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

// collectInputs expands file and directory arguments into supported
// sources.
func collectInputs(args []string) (*inputSet, error) {
	set := &inputSet{}
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			if !jsx.Supported(abs) {
				return nil, fmt.Errorf("%s: unsupported file type", arg)
			}
			set.sources = append(set.sources, source{Path: abs, Rel: filepath.Base(abs), Display: arg})
			continue
		}

		set.dirs = append(set.dirs, abs)
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != abs && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !jsx.Supported(path) {
				return nil
			}
			rel, err := filepath.Rel(abs, path)
			if err != nil {
				return err
			}
			set.sources = append(set.sources, source{Path: path, Rel: rel, Display: filepath.Join(arg, rel)})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return set, nil
}

// outcome is the result of instrumenting one source.
type outcome struct {
	src    source
	input  []byte
	result *instrument.Result
	err    error
}

// output returns what should be written for the source: the instrumented
// text, or the input unchanged when instrumentation failed.
func (o outcome) output() []byte {
	if o.result == nil {
		return o.input
	}
	return o.result.Output
}

// instrumentFile reads and instruments one source.
func instrumentFile(ctx context.Context, in *instrument.Instrumenter, src source) outcome {
	o := outcome{src: src}
	o.input, o.err = os.ReadFile(src.Path)
	if o.err != nil {
		return o
	}
	o.result, o.err = in.Instrument(ctx, src.Path, o.input)
	return o
}

// instrumentAll instruments sources concurrently, keeping input order.
// Per-file failures are reported in the outcomes.
func instrumentAll(ctx context.Context, in *instrument.Instrumenter, sources []source) ([]outcome, error) {
	outcomes := make([]outcome, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = instrumentFile(gctx, in, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// writeMirrored writes data to the mirror of src under outDir.
func writeMirrored(outDir string, src source, data []byte) (string, error) {
	target, err := filepath.Abs(filepath.Join(outDir, src.Rel))
	if err != nil {
		return "", err
	}
	if target == src.Path {
		return "", fmt.Errorf("%s: refusing to overwrite an input file", src.Display)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}
