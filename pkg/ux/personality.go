// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level controls how rich CLI output is.
type Level string

const (
	// LevelRich enables colors, icons and tables.
	LevelRich Level = "rich"

	// LevelPlain keeps icons and tables but drops colors.
	LevelPlain Level = "plain"

	// LevelMachine prints tab-separated text suitable for scripts.
	LevelMachine Level = "machine"
)

// OutputEnv overrides level detection.
const OutputEnv = "MANIPULATIVE_OUTPUT"

// ParseLevel converts a flag or environment value to a Level. Unknown
// values yield LevelPlain.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "color":
		return LevelRich
	case "machine", "quiet", "q", "tsv":
		return LevelMachine
	default:
		return LevelPlain
	}
}

// DetectLevel picks the level for f: the OutputEnv override if set, rich
// on a terminal, machine otherwise.
func DetectLevel(f *os.File) Level {
	if env := os.Getenv(OutputEnv); env != "" {
		return ParseLevel(env)
	}
	if IsTerminal(f) {
		return LevelRich
	}
	return LevelMachine
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
