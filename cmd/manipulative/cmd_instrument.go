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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/manipulative/pkg/ux"
	"github.com/AleutianAI/manipulative/services/manipulative/instrument"
)

// checkError is returned by --check when placeholders remain.
type checkError struct {
	files int
}

func (e *checkError) Error() string {
	return fmt.Sprintf("%d file(s) still contain style placeholders", e.files)
}

type instrumentFlags struct {
	out      string
	stdin    bool
	filename string
	check    bool
	watch    bool
}

func newInstrumentCmd(a *app) *cobra.Command {
	f := &instrumentFlags{}
	cmd := &cobra.Command{
		Use:   "instrument [paths...]",
		Short: "Rewrite style placeholders into runtime hooks",
		Long: `Rewrite css__ placeholder attributes and hook calls so the overlay can
edit them live. Inputs are never modified.

A single file is written to stdout unless --out is given. Directories are
walked for .js, .jsx, .ts and .tsx files (node_modules and hidden
directories are skipped) and mirrored under --out.`,
		Example: `  manipulative instrument src/App.tsx
  manipulative instrument src --out .instrumented --watch
  cat App.tsx | manipulative instrument --stdin --filename "$PWD/App.tsx"
  manipulative instrument --check src`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstrument(cmd, a, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output directory mirroring the input tree")
	cmd.Flags().BoolVar(&f.stdin, "stdin", false, "read source from stdin and write the result to stdout")
	cmd.Flags().StringVar(&f.filename, "filename", "", "file name recorded in keys when reading stdin")
	cmd.Flags().BoolVar(&f.check, "check", false, "report files with placeholders and exit non-zero if any; writes nothing")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "keep running and re-instrument changed files (requires --out)")
	return cmd
}

func runInstrument(cmd *cobra.Command, a *app, f *instrumentFlags, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	in := instrument.New(a.cfg.Instrument, a.logger.Slog())

	if f.stdin {
		if len(args) > 0 {
			return errors.New("--stdin does not take path arguments")
		}
		return instrumentStdin(ctx, cmd, a, in, f)
	}
	if len(args) == 0 {
		return errors.New("no input paths; pass files or directories, or use --stdin")
	}
	if f.watch && f.out == "" {
		return errors.New("--watch requires --out")
	}

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}

	outcomes, err := instrumentAll(ctx, in, inputs.sources)
	if err != nil {
		return err
	}

	switch {
	case f.check:
		return a.reportCheck(outcomes)
	case f.out == "":
		if !inputs.singleFile() {
			return errors.New("--out is required when instrumenting a directory or several files")
		}
		o := outcomes[0]
		if o.err != nil {
			a.logger.Warn("passing source through unchanged",
				slog.String("file", o.src.Path),
				slog.String("error", o.err.Error()))
		}
		_, err := cmd.OutOrStdout().Write(o.output())
		return err
	}

	failed := a.writeOutcomes(f.out, outcomes)
	if !f.watch {
		if failed > 0 {
			return fmt.Errorf("%d file(s) could not be instrumented and were copied unchanged", failed)
		}
		return nil
	}
	return a.watchInputs(ctx, in, inputs, f.out)
}

func instrumentStdin(ctx context.Context, cmd *cobra.Command, a *app, in *instrument.Instrumenter, f *instrumentFlags) error {
	src, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	filename := f.filename
	if filename != "" {
		if filename, err = filepath.Abs(filename); err != nil {
			return err
		}
	}

	res, err := in.Instrument(ctx, filename, src)
	if err != nil {
		a.logger.Warn("passing source through unchanged", slog.String("error", err.Error()))
		res = &instrument.Result{Output: src}
	}
	if f.check {
		if res.Changed {
			return &checkError{files: 1}
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(res.Output)
	return err
}

// reportCheck prints one line per file and fails when any file has sites.
func (a *app) reportCheck(outcomes []outcome) error {
	pending := 0
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			a.printer.FileStatus(o.src.Display, ux.IconError, o.err.Error())
		case o.result.Changed:
			pending++
			a.printer.FileStatus(o.src.Display, ux.IconChanged, plural(len(o.result.Sites), "placeholder"))
		default:
			a.printer.FileStatus(o.src.Display, ux.IconSuccess, "")
		}
	}
	if pending > 0 {
		return &checkError{files: pending}
	}
	return nil
}

// writeOutcomes mirrors every outcome under outDir and returns the number
// of files that were copied through after an instrumentation error.
func (a *app) writeOutcomes(outDir string, outcomes []outcome) int {
	var changed, unchanged, failed int
	for _, o := range outcomes {
		if o.input == nil && o.err != nil {
			failed++
			a.printer.FileStatus(o.src.Display, ux.IconError, o.err.Error())
			continue
		}
		if _, err := writeMirrored(outDir, o.src, o.output()); err != nil {
			failed++
			a.printer.FileStatus(o.src.Display, ux.IconError, err.Error())
			continue
		}
		a.reportOutcome(o)
		switch {
		case o.err != nil:
			failed++
		case o.result.Changed:
			changed++
		default:
			unchanged++
		}
	}
	a.printer.Summary(changed, unchanged, failed)
	return failed
}

func (a *app) reportOutcome(o outcome) {
	switch {
	case o.err != nil:
		a.printer.FileStatus(o.src.Display, ux.IconWarning, "copied unchanged: "+o.err.Error())
	case o.result.Changed:
		detail := plural(len(o.result.Sites), "site")
		if n := len(o.result.Skipped); n > 0 {
			detail += ", " + plural(n, "skipped candidate")
		}
		a.printer.FileStatus(o.src.Display, ux.IconChanged, detail)
	default:
		a.printer.FileStatus(o.src.Display, ux.IconSkipped, "no sites")
	}
}

// watchInputs re-instruments sources as they change until interrupted.
func (a *app) watchInputs(ctx context.Context, in *instrument.Instrumenter, inputs *inputSet, outDir string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return err
	}

	direct := make(map[string]source)
	parents := make(map[string]bool)
	for _, src := range inputs.sources {
		if _, ok := inputs.resolve(src.Path); !ok {
			direct[src.Path] = src
			parents[filepath.Dir(src.Path)] = true
		}
	}

	w := &sourceWatcher{
		dirs:     inputs.dirs,
		exclude:  absOut,
		debounce: defaultDebounce,
		prints:   newFingerprints(),
		logger:   a.logger.Slog(),
	}
	for dir := range parents {
		w.parents = append(w.parents, dir)
	}
	for _, src := range inputs.sources {
		if data, err := os.ReadFile(src.Path); err == nil {
			w.prints.changed(src.Path, data)
		}
	}

	w.handle = func(path string, data []byte) {
		src, ok := direct[path]
		if !ok {
			if src, ok = inputs.resolve(path); !ok {
				return
			}
		}
		o := outcome{src: src, input: data}
		o.result, o.err = in.Instrument(ctx, path, data)
		if _, err := writeMirrored(absOut, src, o.output()); err != nil {
			a.printer.FileStatus(src.Display, ux.IconError, err.Error())
			return
		}
		a.reportOutcome(o)
	}

	a.printer.Title("watching for changes; press Ctrl+C to stop")
	return w.Run(ctx)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
