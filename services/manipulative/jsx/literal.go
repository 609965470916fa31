// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsx

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/manipulative/services/manipulative/textedit"
)

// QuoteString renders s as a double-quoted JavaScript string literal.
//
// JSON string syntax is a subset of JavaScript's, and encoding/json also
// escapes U+2028 and U+2029, which older engines reject inside literals.
func QuoteString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// LiteralArray renders values as a JavaScript array literal. Strings are
// quoted, ints are written as decimal numbers.
func LiteralArray(values []any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		switch v := v.(type) {
		case string:
			b.WriteString(QuoteString(v))
		case int:
			b.WriteString(strconv.Itoa(v))
		default:
			b.WriteString("undefined")
		}
	}
	b.WriteByte(']')
	return b.String()
}

var templateEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`", "${", `\${`)

// EscapeTemplate makes s safe as the body of a template literal.
func EscapeTemplate(s string) string {
	return templateEscaper.Replace(s)
}

// UnescapeTemplate reverses EscapeTemplate on the raw body of a template
// literal. Other escape sequences are left as written.
func UnescapeTemplate(raw string) string {
	if !strings.Contains(raw, `\`) {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) {
			switch raw[i+1] {
			case '\\', '`', '$':
				b.WriteByte(raw[i+1])
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// TemplateLiteral renders value as a tagged template: tag`value`.
func TemplateLiteral(tag, value string) string {
	return tag + "`" + EscapeTemplate(value) + "`"
}

// StaticStyle extracts the text of a style value that carries no runtime
// expressions: a string, an untagged template or a tagged template without
// substitutions, optionally wrapped in a JSX expression container.
func (f *File) StaticStyle(n *sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case NodeJSXExpression:
		if n.NamedChildCount() != 1 {
			return "", false
		}
		return f.StaticStyle(n.NamedChild(0))

	case nodeString:
		raw := f.Text(n)
		if len(raw) < 2 {
			return "", false
		}
		body := raw[1 : len(raw)-1]
		if p := n.Parent(); p != nil && p.Type() == NodeJSXAttribute {
			// JSX attribute strings have no escape sequences.
			return body, true
		}
		return unescapeString(body), true

	case NodeTemplateString:
		return f.staticTemplate(n)

	case NodeCallExpression:
		args := Arguments(n)
		if args == nil || args.Type() != NodeTemplateString {
			return "", false
		}
		return f.staticTemplate(args)
	}
	return "", false
}

func (f *File) staticTemplate(tmpl *sitter.Node) (string, bool) {
	for i := 0; i < int(tmpl.NamedChildCount()); i++ {
		if c := tmpl.NamedChild(i); c != nil && c.Type() == nodeTemplateSubst {
			return "", false
		}
	}
	raw := f.Text(tmpl)
	if len(raw) < 2 {
		return "", false
	}
	return UnescapeTemplate(raw[1 : len(raw)-1]), true
}

// unescapeString decodes the common escapes of a quoted JavaScript string.
func unescapeString(body string) string {
	if !strings.Contains(body, `\`) {
		return body
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\n':
			// line continuation
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

// IsLocationLiteral reports whether n is an array literal whose first two
// elements are a string and a number, the shape of an instrumented
// location argument.
func IsLocationLiteral(n *sitter.Node) bool {
	if n == nil || n.Type() != NodeArray || n.NamedChildCount() < 2 {
		return false
	}
	first, second := n.NamedChild(0), n.NamedChild(1)
	return first != nil && second != nil &&
		first.Type() == nodeString && second.Type() == NodeNumber
}

// ImportInsertion returns the edit that adds stmt as the first statement
// of the file: after a hashbang line and the directive prologue, before
// any other statement.
func (f *File) ImportInsertion(stmt string) textedit.Replacement {
	prologueEnd := -1
	for i := 0; i < int(f.root.NamedChildCount()); i++ {
		child := f.root.NamedChild(i)
		if child == nil {
			continue
		}
		switch {
		case child.Type() == nodeHashBangLine || isDirective(child):
			prologueEnd = int(child.EndByte())
			continue
		case child.Type() == nodeComment:
			continue
		}
		if prologueEnd >= 0 {
			break
		}
		at := int(child.StartByte())
		return textedit.Replacement{Start: at, End: at, Text: stmt + "\n"}
	}
	if prologueEnd >= 0 {
		return textedit.Replacement{Start: prologueEnd, End: prologueEnd, Text: "\n" + stmt}
	}
	end := len(f.Source)
	text := stmt + "\n"
	if end > 0 && f.Source[end-1] != '\n' {
		text = "\n" + text
	}
	return textedit.Replacement{Start: end, End: end, Text: text}
}

// isDirective reports whether n is a prologue directive such as
// "use client";
func isDirective(n *sitter.Node) bool {
	if n.Type() != nodeExpressionStatement || n.NamedChildCount() != 1 {
		return false
	}
	c := n.NamedChild(0)
	return c != nil && c.Type() == nodeString
}
