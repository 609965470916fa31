// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package format runs a source formatter over patched files before they
// are written back.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrFormatterNotInstalled indicates the formatter binary is not on PATH.
	ErrFormatterNotInstalled = errors.New("formatter not installed")

	// ErrFormatterTimeout indicates the formatter exceeded its timeout.
	ErrFormatterTimeout = errors.New("formatter timed out")

	// ErrFormatterFailed indicates the formatter exited with an error.
	ErrFormatterFailed = errors.New("formatter failed")
)

// Formatter normalizes source text. Implementations must be safe for
// concurrent use.
type Formatter interface {
	// Format returns the formatted text of src. path is used for
	// configuration lookup and parser selection; it need not exist.
	Format(ctx context.Context, path string, src []byte) ([]byte, error)
}

// Noop returns its input unchanged.
type Noop struct{}

// Format implements Formatter.
func (Noop) Format(_ context.Context, _ string, src []byte) ([]byte, error) {
	return src, nil
}

// DefaultTimeout bounds a single formatter invocation.
const DefaultTimeout = 10 * time.Second

// Command pipes the source through an external formatter on stdin and
// reads the result from stdout.
//
// The placeholder {path} in Args is replaced by the file path.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Prettier returns the prettier formatter, resolving its config from the
// file's directory.
func Prettier() *Command {
	return &Command{
		Name:    "prettier",
		Args:    []string{"--stdin-filepath", "{path}"},
		Timeout: DefaultTimeout,
	}
}

// Available reports whether the binary can be found.
func (c *Command) Available() bool {
	_, err := exec.LookPath(c.Name)
	return err == nil
}

// Format implements Formatter.
func (c *Command) Format(ctx context.Context, path string, src []byte) ([]byte, error) {
	if _, err := exec.LookPath(c.Name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormatterNotInstalled, c.Name)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = strings.ReplaceAll(a, "{path}", path)
	}

	cmd := exec.CommandContext(cmdCtx, c.Name, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdin = bytes.NewReader(src)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %s after %s", ErrFormatterTimeout, c.Name, timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrFormatterFailed, c.Name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// New builds the formatter named in configuration: "" or "none" for
// Noop, "prettier", or any other command line.
func New(spec string, timeout time.Duration) Formatter {
	fields := strings.Fields(spec)
	if len(fields) == 0 || fields[0] == "none" {
		return Noop{}
	}
	if len(fields) == 1 && fields[0] == "prettier" {
		p := Prettier()
		if timeout > 0 {
			p.Timeout = timeout
		}
		return p
	}
	return &Command{Name: fields[0], Args: fields[1:], Timeout: timeout}
}
