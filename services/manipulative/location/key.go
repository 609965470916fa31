// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package location defines the identity of one editable style site.
//
// A Key is captured by the instrumenter from the original parse of a file,
// carried through the runtime overlay, and handed back to the patch engine
// as (fileName, position). Offsets are byte offsets into the file text as
// it was at the most recent instrumentation pass.
package location

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath indicates a key without a file path.
	ErrEmptyPath = errors.New("location: empty file path")

	// ErrNegativeOffset indicates a key with an offset below zero.
	ErrNegativeOffset = errors.New("location: negative offset")

	// ErrMalformedKey indicates a string that is not "<path>:<offset>".
	ErrMalformedKey = errors.New("location: malformed key")
)

// Key identifies one instrumentable site.
//
// (FilePath, Offset) is unique within one instrumentation pass.
// LineNumber and SourceSnippet are for display only.
type Key struct {
	// FilePath is the absolute path of the source file.
	FilePath string `json:"filePath"`

	// Offset is the byte offset of the site's start.
	Offset int `json:"offset"`

	// LineNumber is the 1-based line of the site, 0 when unknown.
	LineNumber int `json:"lineNumber,omitempty"`

	// SourceSnippet is the literal source line, empty when unknown.
	SourceSnippet string `json:"sourceSnippet,omitempty"`
}

// String returns the "<FilePath>:<Offset>" form used to key overlay entries.
func (k Key) String() string {
	return k.FilePath + ":" + strconv.Itoa(k.Offset)
}

// Validate reports whether the key can address a site.
func (k Key) Validate() error {
	if k.FilePath == "" {
		return ErrEmptyPath
	}
	if k.Offset < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeOffset, k.Offset)
	}
	return nil
}

// Literal returns the elements of the location array emitted into
// instrumented code: path, offset, and line/snippet when the line is known.
func (k Key) Literal() []any {
	if k.LineNumber <= 0 {
		return []any{k.FilePath, k.Offset}
	}
	return []any{k.FilePath, k.Offset, k.LineNumber, k.SourceSnippet}
}

// Parse converts "<path>:<offset>" back into a Key.
//
// The split happens at the last colon so paths containing colons
// (drive letters, URLs) survive.
func Parse(s string) (Key, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	offset, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	k := Key{FilePath: s[:i], Offset: offset}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
