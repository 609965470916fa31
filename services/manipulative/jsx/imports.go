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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Binding is one local name introduced by an import statement.
type Binding struct {
	// Local is the name visible in the file.
	Local string

	// Imported is the exported name: "default" for default imports and
	// "*" for namespace imports.
	Imported string

	// Namespace is true for `import * as ns`.
	Namespace bool

	// TypeOnly is true for `import type` and `import { type X }`.
	TypeOnly bool
}

// Import is one top-level import statement.
type Import struct {
	Module string

	// Start and End delimit the whole statement.
	Start, End int

	// SourceStart and SourceEnd delimit the module string, quotes included.
	SourceStart, SourceEnd int

	Bindings []Binding
}

// Quote returns the quote character used by the module string.
func (imp Import) Quote(src []byte) byte {
	if imp.SourceStart < len(src) && src[imp.SourceStart] == '\'' {
		return '\''
	}
	return '"'
}

// Imports returns the file's top-level import statements in order.
func (f *File) Imports() []Import {
	if f.imports != nil {
		return f.imports
	}
	imports := make([]Import, 0)
	for i := 0; i < int(f.root.NamedChildCount()); i++ {
		child := f.root.NamedChild(i)
		if child == nil || child.Type() != nodeImportStatement {
			continue
		}
		if imp, ok := f.importStatement(child); ok {
			imports = append(imports, imp)
		}
	}
	f.imports = imports
	return imports
}

// importStatement handles one ES module import statement.
func (f *File) importStatement(node *sitter.Node) (Import, bool) {
	imp := Import{
		Start: int(node.StartByte()),
		End:   int(node.EndByte()),
	}
	typeOnly := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "type":
			// import type { ... }
			typeOnly = true
		case nodeImportClause:
			imp.Bindings = f.importClause(child, typeOnly)
		case nodeString:
			imp.Module = unquoteModule(f.Text(child))
			imp.SourceStart = int(child.StartByte())
			imp.SourceEnd = int(child.EndByte())
		}
	}
	if imp.Module == "" {
		return Import{}, false
	}
	return imp, true
}

// importClause extracts the bindings of an import clause.
func (f *File) importClause(node *sitter.Node, typeOnly bool) []Binding {
	var out []Binding
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case NodeIdentifier:
			// import foo from 'bar'
			out = append(out, Binding{Local: f.Text(child), Imported: "default", TypeOnly: typeOnly})
		case nodeNamespaceImport:
			// import * as foo from 'bar'
			for j := 0; j < int(child.NamedChildCount()); j++ {
				gc := child.NamedChild(j)
				if gc != nil && gc.Type() == NodeIdentifier {
					out = append(out, Binding{Local: f.Text(gc), Imported: "*", Namespace: true, TypeOnly: typeOnly})
				}
			}
		case nodeNamedImports:
			// import { a, b as c } from 'bar'
			for j := 0; j < int(child.NamedChildCount()); j++ {
				gc := child.NamedChild(j)
				if gc != nil && gc.Type() == nodeImportSpecifier {
					if b, ok := f.importSpecifier(gc, typeOnly); ok {
						out = append(out, b)
					}
				}
			}
		}
	}
	return out
}

// importSpecifier extracts a single named import.
func (f *File) importSpecifier(node *sitter.Node, typeOnly bool) (Binding, bool) {
	var name, alias string
	if n := node.ChildByFieldName("name"); n != nil {
		name = unquoteModule(f.Text(n))
	}
	if a := node.ChildByFieldName("alias"); a != nil {
		alias = f.Text(a)
	}
	if name == "" {
		return Binding{}, false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if c := node.Child(i); c != nil && c.Type() == "type" {
			typeOnly = true
		}
	}
	local := name
	if alias != "" {
		local = alias
	}
	return Binding{Local: local, Imported: name, TypeOnly: typeOnly}, true
}

func unquoteModule(raw string) string {
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return raw[1 : len(raw)-1]
	}
	return strings.Trim(raw, `"'`)
}

// Target names one export that may be reached from several modules, such
// as a hook re-exported by a wrapper package.
type Target struct {
	Modules []string
	Name    string
}

// Resolved lists the program-scope names through which a Target is
// reachable in one file.
type Resolved struct {
	Target Target

	// Locals are named (or default) import bindings of the export.
	Locals []string

	// Namespaces are `* as ns` bindings of one of the modules.
	Namespaces []string

	// Missing are imported locals that also have another program-scope
	// declaration, so references cannot be attributed to the import.
	Missing []string
}

// Resolve finds the bindings of t among the file's imports.
func (f *File) Resolve(t Target) Resolved {
	r := Resolved{Target: t}
	for _, imp := range f.Imports() {
		if !slices.Contains(t.Modules, imp.Module) {
			continue
		}
		for _, b := range imp.Bindings {
			if b.TypeOnly {
				continue
			}
			if !b.Namespace && b.Imported != t.Name {
				continue
			}
			if f.ProgramDeclarations()[b.Local] > 1 {
				r.Missing = append(r.Missing, b.Local)
				continue
			}
			if b.Namespace {
				r.Namespaces = append(r.Namespaces, b.Local)
			} else {
				r.Locals = append(r.Locals, b.Local)
			}
		}
	}
	return r
}

// Calls reports whether call invokes the resolved export, either through
// a local binding or as a member of a namespace binding, and the reference
// is not shadowed at the call site.
func (f *File) Calls(call *sitter.Node, r Resolved) bool {
	callee := Callee(call)
	if callee == nil {
		return false
	}
	switch callee.Type() {
	case NodeIdentifier:
		name := f.Text(callee)
		return slices.Contains(r.Locals, name) && !f.Shadowed(callee, name)
	case NodeMemberExpression:
		obj := callee.ChildByFieldName("object")
		prop := callee.ChildByFieldName("property")
		if obj == nil || prop == nil || obj.Type() != NodeIdentifier {
			return false
		}
		name := f.Text(obj)
		return f.Text(prop) == r.Target.Name &&
			slices.Contains(r.Namespaces, name) &&
			!f.Shadowed(obj, name)
	}
	return false
}

// FindImport returns the first import of module that binds exported name
// (not type-only), and the local name it is bound to.
func (f *File) FindImport(module, name string) (string, bool) {
	for _, imp := range f.Imports() {
		if imp.Module != module {
			continue
		}
		for _, b := range imp.Bindings {
			if !b.TypeOnly && !b.Namespace && b.Imported == name {
				return b.Local, true
			}
		}
	}
	return "", false
}
