// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// contextLines is the number of unchanged lines around a hunk.
const contextLines = 3

// unifiedDiff renders the change from before to after as a single-hunk unified
// diff covering the first through the last differing line. It returns ""
// when the texts are equal.
func unifiedDiff(path string, before, after []byte) (string, error) {
	if bytes.Equal(before, after) {
		return "", nil
	}
	a := splitLines(string(before))
	b := splitLines(string(after))

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	start := max(0, prefix-contextLines)
	origEnd := min(len(a), len(a)-suffix+contextLines)
	newEnd := min(len(b), len(b)-suffix+contextLines)

	var body bytes.Buffer
	writeLines(&body, ' ', a[start:prefix])
	writeLines(&body, '-', a[prefix:len(a)-suffix])
	writeLines(&body, '+', b[prefix:len(b)-suffix])
	writeLines(&body, ' ', a[len(a)-suffix:origEnd])

	hunk := &diff.Hunk{
		OrigStartLine: int32(start + 1),
		OrigLines:     int32(origEnd - start),
		NewStartLine:  int32(start + 1),
		NewLines:      int32(newEnd - start),
		Body:          body.Bytes(),
	}
	if hunk.OrigLines == 0 {
		hunk.OrigStartLine = int32(start)
	}
	if hunk.NewLines == 0 {
		hunk.NewStartLine = int32(start)
	}

	out, err := diff.PrintFileDiff(&diff.FileDiff{
		OrigName: "a" + path,
		NewName:  "b" + path,
		Hunks:    []*diff.Hunk{hunk},
	})
	if err != nil {
		return "", fmt.Errorf("printing diff: %w", err)
	}
	return string(out), nil
}

// splitLines splits s after each newline, keeping the terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			buf.WriteString("\n\\ No newline at end of file\n")
		}
	}
}
