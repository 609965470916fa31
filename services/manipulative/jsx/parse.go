// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsx wraps tree-sitter parsing of JavaScript, TypeScript and TSX
// sources with the queries the instrumenter and the patch engine share:
// import collection, scope-aware identifier resolution, literal quoting
// and the position where new imports belong.
//
// All positions are byte offsets into the parsed source.
package jsx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// MaxFileSize is the largest source the parser accepts (10MB).
const MaxFileSize = 10 * 1024 * 1024

var (
	// ErrUnsupportedFile indicates an extension with no known grammar.
	ErrUnsupportedFile = errors.New("jsx: unsupported file type")

	// ErrFileTooLarge indicates a source above MaxFileSize.
	ErrFileTooLarge = errors.New("jsx: file exceeds maximum size limit")

	// ErrInvalidContent indicates a source that is not valid UTF-8.
	ErrInvalidContent = errors.New("jsx: invalid content")
)

// Grammar selects the tree-sitter language for a file.
type Grammar int

const (
	GrammarJavaScript Grammar = iota
	GrammarTypeScript
	GrammarTSX
)

func (g Grammar) String() string {
	switch g {
	case GrammarTypeScript:
		return "typescript"
	case GrammarTSX:
		return "tsx"
	default:
		return "javascript"
	}
}

func (g Grammar) language() *sitter.Language {
	switch g {
	case GrammarTypeScript:
		return typescript.GetLanguage()
	case GrammarTSX:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// GrammarFor picks the grammar from the file extension.
//
// Plain .ts files use the typescript grammar, which has no JSX; .js files
// use the javascript grammar, which does.
func GrammarFor(path string) (Grammar, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return GrammarTSX, nil
	case ".ts", ".mts", ".cts":
		return GrammarTypeScript, nil
	case ".js", ".jsx", ".mjs", ".cjs":
		return GrammarJavaScript, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// Supported reports whether path has a parseable extension.
func Supported(path string) bool {
	_, err := GrammarFor(path)
	return err == nil
}

// File is one parsed source. Close releases the tree.
type File struct {
	Path    string
	Source  []byte
	Grammar Grammar

	tree  *sitter.Tree
	root  *sitter.Node
	lines [][]byte

	// lazily computed, see Imports and ProgramDeclarations
	imports []Import
	decls   map[string]int
}

// Parse parses src with the grammar chosen for path.
//
// A new parser is created per call so File values can be produced
// concurrently.
func Parse(ctx context.Context, path string, src []byte) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	grammar, err := GrammarFor(path)
	if err != nil {
		return nil, err
	}
	if len(src) > MaxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(src), MaxFileSize)
	}
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar.language())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, fmt.Errorf("%w: tree-sitter returned nil root node", ErrInvalidContent)
	}

	return &File{
		Path:    path,
		Source:  src,
		Grammar: grammar,
		tree:    tree,
		root:    root,
	}, nil
}

// Close releases the syntax tree.
func (f *File) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

// Root returns the program node.
func (f *File) Root() *sitter.Node {
	return f.root
}

// Text returns the source text of n.
func (f *File) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(f.Source[n.StartByte():n.EndByte()])
}

// Line returns the 1-based line of n and the text of that line without
// its line terminator.
func (f *File) Line(n *sitter.Node) (int, string) {
	if f.lines == nil {
		f.lines = bytes.Split(f.Source, []byte("\n"))
	}
	row := int(n.StartPoint().Row)
	if row < 0 || row >= len(f.lines) {
		return 0, ""
	}
	return row + 1, string(bytes.TrimSuffix(f.lines[row], []byte("\r")))
}

// Walk visits n and its named descendants in document order. Returning
// false from visit skips the node's children.
func Walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	stack := []*sitter.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(cur) {
			continue
		}
		for i := int(cur.NamedChildCount()) - 1; i >= 0; i-- {
			if c := cur.NamedChild(i); c != nil {
				stack = append(stack, c)
			}
		}
	}
}

// NodesStartingAt returns the named nodes whose start byte equals offset,
// outermost first.
func (f *File) NodesStartingAt(offset int) []*sitter.Node {
	var out []*sitter.Node
	n := f.root
	for depth := 0; n != nil; depth++ {
		if depth > 0 && int(n.StartByte()) == offset {
			out = append(out, n)
		}
		var next *sitter.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c == nil {
				continue
			}
			if int(c.StartByte()) <= offset && offset < int(c.EndByte()) {
				next = c
				break
			}
		}
		n = next
	}
	return out
}

// AttributeName returns the name of a jsx_attribute node.
func (f *File) AttributeName(attr *sitter.Node) string {
	if attr == nil || attr.Type() != NodeJSXAttribute || attr.NamedChildCount() == 0 {
		return ""
	}
	return f.Text(attr.NamedChild(0))
}

// AttributeValue returns the value node of a jsx_attribute, or nil for a
// bare attribute.
func AttributeValue(attr *sitter.Node) *sitter.Node {
	if attr == nil || attr.NamedChildCount() < 2 {
		return nil
	}
	return attr.NamedChild(int(attr.NamedChildCount()) - 1)
}

// Callee returns the function node of a call_expression.
func Callee(call *sitter.Node) *sitter.Node {
	if call == nil || call.Type() != NodeCallExpression {
		return nil
	}
	return call.ChildByFieldName("function")
}

// Arguments returns the arguments (or template_string) node of a call.
func Arguments(call *sitter.Node) *sitter.Node {
	if call == nil || call.Type() != NodeCallExpression {
		return nil
	}
	return call.ChildByFieldName("arguments")
}
