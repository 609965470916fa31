// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textedit applies byte-range replacements to source text.
//
// All ranges are expressed against the original text. Apply sorts them by
// start offset descending and splices from the back of the buffer toward
// the front, so an edit never moves the offsets of the edits still to come.
package textedit

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfRange indicates a replacement outside the source text.
	ErrOutOfRange = errors.New("textedit: range out of bounds")

	// ErrOverlap indicates two replacements that touch the same bytes.
	ErrOverlap = errors.New("textedit: overlapping replacements")
)

// Replacement replaces src[Start:End] with Text. Start == End inserts.
type Replacement struct {
	Start int
	End   int
	Text  string
}

// Len returns the number of original bytes the replacement covers.
func (r Replacement) Len() int {
	return r.End - r.Start
}

// Delta returns how much the replacement grows or shrinks the text.
func (r Replacement) Delta() int {
	return len(r.Text) - r.Len()
}

func (r Replacement) String() string {
	return fmt.Sprintf("[%d,%d)->%q", r.Start, r.End, r.Text)
}

// Sorted returns the replacements in application order: start offset
// descending; at equal starts, ranges before insertions, and insertions in
// reverse input order so they land in input order.
func Sorted(reps []Replacement) []Replacement {
	idx := make([]int, len(reps))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := reps[idx[a]], reps[idx[b]]
		if ra.Start != rb.Start {
			return ra.Start > rb.Start
		}
		if (ra.Len() > 0) != (rb.Len() > 0) {
			return ra.Len() > 0
		}
		return idx[a] > idx[b]
	})
	out := make([]Replacement, len(reps))
	for i, j := range idx {
		out[i] = reps[j]
	}
	return out
}

func plan(size int, reps []Replacement) ([]Replacement, error) {
	for _, r := range reps {
		if r.Start < 0 || r.End < r.Start || r.End > size {
			return nil, fmt.Errorf("%w: %s in %d bytes", ErrOutOfRange, r, size)
		}
	}
	ordered := Sorted(reps)
	for i := 1; i < len(ordered); i++ {
		right, left := ordered[i-1], ordered[i]
		if left.End > right.Start {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlap, left, right)
		}
	}
	return ordered, nil
}

// Apply returns src with every replacement applied. src is not modified.
//
// On error nothing is applied and the returned slice is nil.
func Apply(src []byte, reps []Replacement) ([]byte, error) {
	ordered, err := plan(len(src), reps)
	if err != nil {
		return nil, err
	}

	grow := 0
	for _, r := range ordered {
		if d := r.Delta(); d > 0 {
			grow += d
		}
	}
	buf := make([]byte, len(src), len(src)+grow)
	copy(buf, src)

	for _, r := range ordered {
		buf = splice(buf, r)
	}
	return buf, nil
}

// splice replaces buf[r.Start:r.End] with r.Text in place.
func splice(buf []byte, r Replacement) []byte {
	tail := len(buf) - r.End
	newLen := r.Start + len(r.Text) + tail
	if newLen > cap(buf) {
		grown := make([]byte, len(buf), newLen)
		copy(grown, buf)
		buf = grown
	}
	old := len(buf)
	buf = buf[:max(old, newLen)]
	copy(buf[r.Start+len(r.Text):], buf[r.End:old])
	copy(buf[r.Start:], r.Text)
	return buf[:newLen]
}
