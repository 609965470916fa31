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
	"strings"

	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
	"github.com/AleutianAI/manipulative/services/manipulative/textedit"
)

type siteKind int

const (
	siteAttribute siteKind = iota + 1
	siteCall
)

// site is a classified edit target in the current file text.
type site struct {
	kind       siteKind
	start, end int
	callee     string // call sites only
}

// classify finds the placeholder attribute or hook call that starts at
// offset. Nothing is guessed: any other node is a malformed edit.
func classify(f *jsx.File, hook jsx.Resolved, attribute string, offset int) (site, bool) {
	if offset < 0 || offset >= len(f.Source) {
		return site{}, false
	}
	for _, n := range f.NodesStartingAt(offset) {
		switch n.Type() {
		case jsx.NodeJSXAttribute:
			if f.AttributeName(n) == attribute {
				return site{kind: siteAttribute, start: int(n.StartByte()), end: int(n.EndByte())}, true
			}
		case jsx.NodeCallExpression:
			if f.Calls(n, hook) {
				return site{
					kind:   siteCall,
					start:  int(n.StartByte()),
					end:    int(n.EndByte()),
					callee: f.Text(jsx.Callee(n)),
				}, true
			}
		}
	}
	return site{}, false
}

// replacement renders the new text of s. helper is the local name of the
// style template tag. An empty or whitespace value removes the style.
func (s site) replacement(attribute, helper, value string) textedit.Replacement {
	empty := strings.TrimSpace(value) == ""
	var text string
	switch s.kind {
	case siteAttribute:
		if empty {
			text = attribute
		} else {
			text = attribute + "={" + jsx.TemplateLiteral(helper, value) + "}"
		}
	case siteCall:
		if empty {
			text = s.callee + "()"
		} else {
			text = s.callee + "(" + jsx.TemplateLiteral(helper, value) + ")"
		}
	}
	return textedit.Replacement{Start: s.start, End: s.end, Text: text}
}

// describe returns a short description of what sits at offset, for
// malformed edit messages.
func describe(f *jsx.File, offset int) string {
	if offset < 0 || offset >= len(f.Source) {
		return "offset outside file"
	}
	nodes := f.NodesStartingAt(offset)
	if len(nodes) == 0 {
		return "no syntax node starts at offset"
	}
	return "found " + nodes[0].Type()
}
