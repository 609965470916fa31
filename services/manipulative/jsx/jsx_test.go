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
	"context"
	"errors"
	"strings"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/manipulative/services/manipulative/textedit"
)

func parse(t *testing.T, name, src string) *File {
	t.Helper()
	f, err := Parse(context.Background(), name, []byte(src))
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func nodesOfType(f *File, typ string) []*sitter.Node {
	var out []*sitter.Node
	Walk(f.Root(), func(n *sitter.Node) bool {
		if n.Type() == typ {
			out = append(out, n)
		}
		return true
	})
	return out
}

func TestGrammarFor(t *testing.T) {
	tests := []struct {
		path string
		want Grammar
	}{
		{"/a/App.tsx", GrammarTSX},
		{"/a/util.ts", GrammarTypeScript},
		{"/a/App.jsx", GrammarJavaScript},
		{"/a/index.js", GrammarJavaScript},
		{"/a/index.MJS", GrammarJavaScript},
	}
	for _, tt := range tests {
		got, err := GrammarFor(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := GrammarFor("/a/style.css")
	assert.True(t, errors.Is(err, ErrUnsupportedFile))
	assert.False(t, Supported("README.md"))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(context.Background(), "a.tsx", []byte{0xff, 0xfe})
	assert.ErrorIs(t, err, ErrInvalidContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Parse(ctx, "a.tsx", []byte("const a = 1;"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImports(t *testing.T) {
	f := parse(t, "/src/App.tsx", `import React from "react";
import { useCssPlaceholder as usePh, css } from 'manipulative';
import * as m from "manipulative";
import "./side-effect.css";
`)

	imports := f.Imports()
	require.Len(t, imports, 4)

	assert.Equal(t, "react", imports[0].Module)
	assert.Equal(t, []Binding{{Local: "React", Imported: "default"}}, imports[0].Bindings)

	assert.Equal(t, "manipulative", imports[1].Module)
	assert.Equal(t, byte('\''), imports[1].Quote(f.Source))
	assert.Equal(t, []Binding{
		{Local: "usePh", Imported: "useCssPlaceholder"},
		{Local: "css", Imported: "css"},
	}, imports[1].Bindings)

	assert.Equal(t, []Binding{{Local: "m", Imported: "*", Namespace: true}}, imports[2].Bindings)
	assert.Equal(t, "./side-effect.css", imports[3].Module)
	assert.Empty(t, imports[3].Bindings)

	src := string(f.Source)
	assert.Equal(t, `'manipulative'`, src[imports[1].SourceStart:imports[1].SourceEnd])
	assert.True(t, strings.HasPrefix(src[imports[0].Start:imports[0].End], "import React"))

	local, ok := f.FindImport("manipulative", "css")
	assert.True(t, ok)
	assert.Equal(t, "css", local)
	_, ok = f.FindImport("@emotion/react", "css")
	assert.False(t, ok)
}

func TestResolveAndCalls_Shadowing(t *testing.T) {
	f := parse(t, "/src/App.jsx", `import { useCssPlaceholder as usePh } from "manipulative";
import * as m from "manipulative";

function A() {
  const a = usePh();
  return a;
}
function B(usePh) {
  return usePh();
}
function C() {
  const usePh = () => 1;
  return usePh();
}
const D = () => m.useCssPlaceholder();
const E = (m) => m.useCssPlaceholder();
function F() {
  if (true) {
    var usePh = null;
  }
  return usePh();
}
`)

	r := f.Resolve(Target{Modules: []string{"manipulative"}, Name: "useCssPlaceholder"})
	assert.Equal(t, []string{"usePh"}, r.Locals)
	assert.Equal(t, []string{"m"}, r.Namespaces)
	assert.Empty(t, r.Missing)

	var got []bool
	for _, call := range nodesOfType(f, NodeCallExpression) {
		callee := f.Text(Callee(call))
		if callee == "usePh" || callee == "m.useCssPlaceholder" {
			got = append(got, f.Calls(call, r))
		}
	}
	// A, B, C, D, E, F in source order.
	assert.Equal(t, []bool{true, false, false, true, false, false}, got)
}

func TestResolve_MissingBinding(t *testing.T) {
	f := parse(t, "/src/App.jsx", `import { useCssPlaceholder } from "manipulative";
const useCssPlaceholder = 1;
`)
	r := f.Resolve(Target{Modules: []string{"manipulative"}, Name: "useCssPlaceholder"})
	assert.Empty(t, r.Locals)
	assert.Empty(t, r.Namespaces)
	assert.Equal(t, []string{"useCssPlaceholder"}, r.Missing)
	assert.Equal(t, 2, f.ProgramDeclarations()["useCssPlaceholder"])
}

func TestProgramDeclares(t *testing.T) {
	f := parse(t, "/src/a.js", `export function css() {}
class Box {}
let { a, b: [c] } = obj;
`)
	for _, name := range []string{"css", "Box", "a", "c"} {
		assert.True(t, f.ProgramDeclares(name), name)
	}
	assert.False(t, f.ProgramDeclares("b"))
	assert.False(t, f.ProgramDeclares("obj"))
}

func TestStaticStyle(t *testing.T) {
	f := parse(t, "/src/App.jsx", "const x = <div\n"+
		"  a=\"color: red;\"\n"+
		"  b={css`padding: 0;`}\n"+
		"  c={css`width: ${w}px;`}\n"+
		"  d={`margin: 0; \\` ok`}\n"+
		"  e={style}\n"+
		"/>;\n")

	want := map[string]struct {
		value string
		ok    bool
	}{
		"a": {"color: red;", true},
		"b": {"padding: 0;", true},
		"c": {"", false},
		"d": {"margin: 0; ` ok", true},
		"e": {"", false},
	}
	attrs := nodesOfType(f, NodeJSXAttribute)
	require.Len(t, attrs, len(want))
	for _, attr := range attrs {
		name := f.AttributeName(attr)
		value, ok := f.StaticStyle(AttributeValue(attr))
		assert.Equal(t, want[name].ok, ok, name)
		assert.Equal(t, want[name].value, value, name)
	}
}

func TestTemplateEscapeRoundTrip(t *testing.T) {
	for _, s := range []string{
		"color: red;",
		"content: '`';",
		`content: "\f101";`,
		"background: url(${x});",
		`\\`,
	} {
		assert.Equal(t, s, UnescapeTemplate(EscapeTemplate(s)), s)
	}
	assert.Equal(t, "css`a \\` b \\${c}`", TemplateLiteral("css", "a ` b ${c}"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteString("plain"))
	assert.Equal(t, `"<div class=\"x\">"`, QuoteString(`<div class="x">`))
	assert.Equal(t, `"a\nb"`, QuoteString("a\nb"))
	assert.Equal(t, `"\u2028"`, QuoteString("\u2028"))
}

func TestLiteralArray(t *testing.T) {
	assert.Equal(t, `["/a.tsx", 12, 3, "  <div css__ />"]`, LiteralArray([]any{"/a.tsx", 12, 3, "  <div css__ />"}))
	assert.Equal(t, `["/a.tsx", 0]`, LiteralArray([]any{"/a.tsx", 0}))
}

func TestIsLocationLiteral(t *testing.T) {
	f := parse(t, "/src/a.js", `f(["/a.js", 10, 1, "x"]); f([1, 2]); f(["a"]);`)
	var got []bool
	for _, arr := range nodesOfType(f, NodeArray) {
		got = append(got, IsLocationLiteral(arr))
	}
	assert.Equal(t, []bool{true, false, false}, got)
}

func TestImportInsertion(t *testing.T) {
	stmt := `import { css } from "@emotion/react";`
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "plain",
			src:  "const a = 1;\n",
			want: stmt + "\nconst a = 1;\n",
		},
		{
			name: "after directive",
			src:  "\"use client\";\nconst a = 1;\n",
			want: "\"use client\";\n" + stmt + "\nconst a = 1;\n",
		},
		{
			name: "after hashbang",
			src:  "#!/usr/bin/env node\nrun();\n",
			want: "#!/usr/bin/env node\n" + stmt + "\nrun();\n",
		},
		{
			name: "after leading comment",
			src:  "// header\nimport a from \"a\";\n",
			want: "// header\n" + stmt + "\nimport a from \"a\";\n",
		},
		{
			name: "empty file",
			src:  "",
			want: stmt + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parse(t, "/src/a.js", tt.src)
			out, err := textedit.Apply(f.Source, []textedit.Replacement{f.ImportInsertion(stmt)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestNodesStartingAt(t *testing.T) {
	src := "const el = <div css__ />;\n"
	f := parse(t, "/src/a.jsx", src)
	offset := strings.Index(src, "css__")

	var types []string
	for _, n := range f.NodesStartingAt(offset) {
		types = append(types, n.Type())
	}
	require.NotEmpty(t, types)
	assert.Equal(t, NodeJSXAttribute, types[0])

	line, snippet := f.Line(f.NodesStartingAt(offset)[0])
	assert.Equal(t, 1, line)
	assert.Equal(t, "const el = <div css__ />;", snippet)

	assert.Empty(t, f.NodesStartingAt(strings.Index(src, "div")+1))
}
