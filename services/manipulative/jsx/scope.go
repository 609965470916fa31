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
	"slices"

	sitter "github.com/smacker/go-tree-sitter"
)

// ProgramDeclarations counts the program-scope declarations of each name:
// import bindings, variables, functions, classes and enums, including
// exported ones. A count above one means the name is redeclared.
func (f *File) ProgramDeclarations() map[string]int {
	if f.decls != nil {
		return f.decls
	}
	decls := make(map[string]int)
	for _, imp := range f.Imports() {
		for _, b := range imp.Bindings {
			if !b.TypeOnly {
				decls[b.Local]++
			}
		}
	}
	for i := 0; i < int(f.root.NamedChildCount()); i++ {
		child := f.root.NamedChild(i)
		if child == nil {
			continue
		}
		if child.Type() == nodeExportStatement {
			child = child.ChildByFieldName("declaration")
		}
		for _, name := range f.declaredBy(child) {
			decls[name]++
		}
	}
	f.decls = decls
	return decls
}

// ProgramDeclares reports whether name is declared at program scope.
func (f *File) ProgramDeclares(name string) bool {
	return f.ProgramDeclarations()[name] > 0
}

// Shadowed reports whether name, referenced at ref, is bound by a
// declaration in some scope between ref and the program.
func (f *File) Shadowed(ref *sitter.Node, name string) bool {
	for p := ref.Parent(); p != nil; p = p.Parent() {
		if p.Type() == NodeProgram {
			return false
		}
		if f.scopeDeclares(p, name) {
			return true
		}
	}
	return false
}

// scopeDeclares reports whether scope introduces name for its descendants.
func (f *File) scopeDeclares(scope *sitter.Node, name string) bool {
	switch scope.Type() {
	case nodeStatementBlock, nodeClassStaticBlock:
		return f.blockDeclares(scope, name)

	case nodeSwitchBody:
		for i := 0; i < int(scope.NamedChildCount()); i++ {
			if f.blockDeclares(scope.NamedChild(i), name) {
				return true
			}
		}
		return false

	case nodeFunctionDeclaration, nodeGeneratorFunctionDeclaration,
		nodeFunctionExpression, nodeFunction, nodeGeneratorFunction,
		nodeArrowFunction, nodeMethodDefinition:
		return f.functionDeclares(scope, name)

	case nodeCatchClause:
		return slices.Contains(f.patternNames(scope.ChildByFieldName("parameter")), name)

	case nodeForStatement:
		return slices.Contains(f.declaredBy(scope.ChildByFieldName("initializer")), name)

	case nodeForInStatement:
		if !hasDeclarationKeyword(scope) {
			return false
		}
		return slices.Contains(f.patternNames(scope.ChildByFieldName("left")), name)

	case nodeClass:
		// Named class expressions bind their own name inside the body.
		return f.Text(scope.ChildByFieldName("name")) == name
	}
	return false
}

// functionDeclares checks parameters, a function expression's own name,
// and var declarations hoisted from anywhere in the body.
func (f *File) functionDeclares(fn *sitter.Node, name string) bool {
	switch fn.Type() {
	case nodeFunctionExpression, nodeFunction, nodeGeneratorFunction:
		if f.Text(fn.ChildByFieldName("name")) == name {
			return true
		}
	}
	if slices.Contains(f.patternNames(fn.ChildByFieldName("parameters")), name) {
		return true
	}
	if p := fn.ChildByFieldName("parameter"); p != nil && f.Text(p) == name {
		return true
	}
	body := fn.ChildByFieldName("body")
	if body == nil || body.Type() != nodeStatementBlock {
		return false
	}
	found, root := false, true
	Walk(body, func(n *sitter.Node) bool {
		if found {
			return false
		}
		if !root && isFunctionLike(n.Type()) {
			return false
		}
		root = false
		if n.Type() == nodeVariableDeclaration && slices.Contains(f.declaredBy(n), name) {
			found = true
			return false
		}
		return true
	})
	return found
}

// blockDeclares checks the direct statements of a block.
func (f *File) blockDeclares(block *sitter.Node, name string) bool {
	if block == nil {
		return false
	}
	for i := 0; i < int(block.NamedChildCount()); i++ {
		if slices.Contains(f.declaredBy(block.NamedChild(i)), name) {
			return true
		}
	}
	return false
}

// declaredBy returns the names a statement declares in its enclosing scope.
func (f *File) declaredBy(stmt *sitter.Node) []string {
	if stmt == nil {
		return nil
	}
	switch stmt.Type() {
	case nodeLexicalDeclaration, nodeVariableDeclaration:
		return f.patternNames(stmt)
	case nodeFunctionDeclaration, nodeGeneratorFunctionDeclaration,
		nodeClassDeclaration, nodeAbstractClassDeclaration, nodeEnumDeclaration:
		if n := stmt.ChildByFieldName("name"); n != nil {
			return []string{f.Text(n)}
		}
	}
	return nil
}

// patternNames returns every identifier bound by a binding pattern,
// parameter list or declaration.
func (f *File) patternNames(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case NodeIdentifier, nodeShorthandPropertyPattern:
		return []string{f.Text(n)}

	case nodeObjectPattern, nodeArrayPattern, nodeFormalParameters,
		nodeLexicalDeclaration, nodeVariableDeclaration:
		var out []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, f.patternNames(n.NamedChild(i))...)
		}
		return out

	case nodePairPattern:
		return f.patternNames(n.ChildByFieldName("value"))

	case nodeAssignmentPattern, nodeObjectAssignmentPattern:
		return f.patternNames(n.ChildByFieldName("left"))

	case nodeRestPattern:
		if n.NamedChildCount() > 0 {
			return f.patternNames(n.NamedChild(0))
		}

	case nodeRequiredParameter, nodeOptionalParameter:
		return f.patternNames(n.ChildByFieldName("pattern"))

	case nodeVariableDeclarator:
		return f.patternNames(n.ChildByFieldName("name"))
	}
	return nil
}

func isFunctionLike(t string) bool {
	switch t {
	case nodeFunctionDeclaration, nodeGeneratorFunctionDeclaration,
		nodeFunctionExpression, nodeFunction, nodeGeneratorFunction,
		nodeArrowFunction, nodeMethodDefinition:
		return true
	}
	return false
}

// hasDeclarationKeyword reports whether a for-in/of header declares its
// loop variable (`for (const x of xs)`) rather than assigning to one.
func hasDeclarationKeyword(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			switch c.Type() {
			case "const", "let", "var":
				return true
			}
		}
	}
	return false
}
