// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package textedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_BackToFront(t *testing.T) {
	src := []byte("AxBxC")

	// Input order ascending; Apply must still resolve both against the original.
	out, err := Apply(src, []Replacement{
		{Start: 1, End: 2, Text: "1"},
		{Start: 3, End: 4, Text: "22"},
	})
	require.NoError(t, err)
	assert.Equal(t, "A1B22C", string(out))
	assert.Equal(t, "AxBxC", string(src), "source must not be modified")
}

func TestApply_OrderIndependent(t *testing.T) {
	src := []byte("AxBxC")
	a := Replacement{Start: 1, End: 2, Text: "1"}
	b := Replacement{Start: 3, End: 4, Text: "22"}

	out1, err := Apply(src, []Replacement{a, b})
	require.NoError(t, err)
	out2, err := Apply(src, []Replacement{b, a})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestApply_Shrink(t *testing.T) {
	out, err := Apply([]byte("<div css__={css`a`} />"), []Replacement{{Start: 5, End: 19, Text: "css__"}})
	require.NoError(t, err)
	assert.Equal(t, "<div css__ />", string(out))
}

func TestApply_InsertionsAtSamePoint(t *testing.T) {
	out, err := Apply([]byte("xy"), []Replacement{
		{Start: 1, End: 1, Text: "a"},
		{Start: 1, End: 1, Text: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "xaby", string(out))
}

func TestApply_InsertionBeforeRangeAtSameStart(t *testing.T) {
	out, err := Apply([]byte("0123"), []Replacement{
		{Start: 0, End: 0, Text: "import;"},
		{Start: 0, End: 2, Text: "ab"},
	})
	require.NoError(t, err)
	assert.Equal(t, "import;ab23", string(out))
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name string
		reps []Replacement
		want error
	}{
		{"negative", []Replacement{{Start: -1, End: 0}}, ErrOutOfRange},
		{"past end", []Replacement{{Start: 2, End: 9}}, ErrOutOfRange},
		{"inverted", []Replacement{{Start: 3, End: 2}}, ErrOutOfRange},
		{"overlap", []Replacement{{Start: 0, End: 3}, {Start: 2, End: 4}}, ErrOverlap},
		{"same range twice", []Replacement{{Start: 1, End: 2}, {Start: 1, End: 2}}, ErrOverlap},
		{"insert inside range", []Replacement{{Start: 0, End: 4}, {Start: 2, End: 2}}, ErrOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply([]byte("abcde"), tt.reps)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, out)
		})
	}
}

func TestApply_Empty(t *testing.T) {
	out, err := Apply([]byte("same"), nil)
	require.NoError(t, err)
	assert.Equal(t, "same", string(out))
}

func TestSorted(t *testing.T) {
	got := Sorted([]Replacement{
		{Start: 1, End: 1, Text: "i"},
		{Start: 5, End: 6},
		{Start: 1, End: 3},
	})
	assert.Equal(t, []Replacement{
		{Start: 5, End: 6},
		{Start: 1, End: 3},
		{Start: 1, End: 1, Text: "i"},
	}, got)
}
