// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
)

const injectedImport = `import { useCssPlaceholder as useCssPlaceholder__INJECT } from "manipulative";`

func newTestInstrumenter() *Instrumenter {
	return New(DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func run(t *testing.T, filename, src string) *Result {
	t.Helper()
	res, err := newTestInstrumenter().Instrument(context.Background(), filename, []byte(src))
	require.NoError(t, err)
	return res
}

func TestInstrument_BareAttribute(t *testing.T) {
	src := "const App = () => <div css__ />;\n"
	res := run(t, "/src/App.jsx", src)

	offset := strings.Index(src, "css__")
	want := injectedImport + "\n" + fmt.Sprintf(
		`const App = () => <div css={useCssPlaceholder__INJECT(["/src/App.jsx", %d, 1, "const App = () => <div css__ />;"])} />;`,
		offset) + "\n"

	assert.Equal(t, want, string(res.Output))
	assert.True(t, res.Changed)
	assert.True(t, res.ImportInjected)
	require.Len(t, res.Sites, 1)
	assert.Equal(t, SiteAttribute, res.Sites[0].Kind)
	assert.Equal(t, offset, res.Sites[0].Key.Offset)
	assert.Equal(t, 1, res.Sites[0].Key.LineNumber)
	assert.Equal(t, "/src/App.jsx", res.Sites[0].Key.FilePath)
	assert.Empty(t, res.Skipped)
}

func TestInstrument_AttributeWithInitialValue(t *testing.T) {
	src := "const App = () => <div css__={css`color: red;`} />;\n"
	res := run(t, "/src/App.tsx", src)

	require.Len(t, res.Sites, 1)
	assert.Equal(t, "color: red;", res.Sites[0].Initial)
	assert.Contains(t, string(res.Output), `], "color: red;")}`)
	assert.Contains(t, string(res.Output), "<div css={")
	assert.NotContains(t, string(res.Output), "<div css__")

	// Blank values are not forwarded.
	res = run(t, "/src/App.tsx", "const App = () => <div css__=\"  \" />;\n")
	require.Len(t, res.Sites, 1)
	assert.Contains(t, string(res.Output), `"])} />`)
}

func TestInstrument_DynamicValueIsSkipped(t *testing.T) {
	src := "const App = () => <div css__={styles.box} />;\n"
	res := run(t, "/src/App.jsx", src)

	assert.False(t, res.Changed)
	assert.Equal(t, src, string(res.Output))
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, UnresolvedSite, res.Skipped[0].Reason)
	assert.Equal(t, strings.Index(src, "css__"), res.Skipped[0].Offset)
}

func TestInstrument_NoSitesLeavesInputIdentical(t *testing.T) {
	src := "import React from \"react\";\nexport const A = () => <div css={x} />;\n"
	res := run(t, "/src/A.jsx", src)

	assert.False(t, res.Changed)
	assert.False(t, res.ImportInjected)
	assert.Equal(t, src, string(res.Output))
	assert.Empty(t, res.Sites)
}

func TestInstrument_Idempotent(t *testing.T) {
	src := `import { useCssPlaceholder } from "manipulative";

export function Card() {
  const cls = useCssPlaceholder();
  return <section css__>
    <h1 css__={css` + "`font-weight: bold;`" + `}>Title</h1>
  </section>;
}
`
	in := newTestInstrumenter()
	first, err := in.Instrument(context.Background(), "/src/Card.jsx", []byte(src))
	require.NoError(t, err)
	require.Len(t, first.Sites, 3)

	second, err := in.Instrument(context.Background(), "/src/Card.jsx", first.Output)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Empty(t, second.Sites)
	assert.Equal(t, string(first.Output), string(second.Output))
}

func TestInstrument_OffsetsReferToInput(t *testing.T) {
	src := "const A = () => <p css__ />;\n" +
		"const B = () => <p css__ />;\n" +
		"const C = () => <p css__ />;\n"
	res := run(t, "/src/abc.jsx", src)
	require.Len(t, res.Sites, 3)

	idx := 0
	for i, site := range res.Sites {
		pos := strings.Index(src[idx:], "css__") + idx
		assert.Equal(t, pos, site.Key.Offset, "site %d", i)
		assert.Equal(t, i+1, site.Key.LineNumber, "site %d", i)
		idx = pos + 1
	}
	assert.Equal(t, 1, strings.Count(string(res.Output), injectedImport))
}

func TestInstrument_UsesExistingBindings(t *testing.T) {
	t.Run("alias", func(t *testing.T) {
		src := "import { useCssPlaceholder as usePh } from \"manipulative\";\nconst A = () => <div css__ />;\n"
		res := run(t, "/src/A.jsx", src)
		assert.False(t, res.ImportInjected)
		assert.Contains(t, string(res.Output), "css={usePh([")
		assert.NotContains(t, string(res.Output), "__INJECT")
	})

	t.Run("namespace", func(t *testing.T) {
		src := "import * as m from \"manipulative\";\nconst A = () => <div css__ />;\n"
		res := run(t, "/src/A.jsx", src)
		assert.False(t, res.ImportInjected)
		assert.Contains(t, string(res.Output), "css={m.useCssPlaceholder([")
	})

	t.Run("shadowed alias falls back to injection", func(t *testing.T) {
		src := "import { useCssPlaceholder as usePh } from \"manipulative\";\n" +
			"function A(usePh) { return <div css__ />; }\n"
		res := run(t, "/src/A.jsx", src)
		assert.True(t, res.ImportInjected)
		assert.Contains(t, string(res.Output), "css={useCssPlaceholder__INJECT([")
	})
}

func TestInstrument_HookCalls(t *testing.T) {
	src := "import { useCssPlaceholder as usePh } from \"manipulative\";\n" +
		"function A() { return usePh(\"color: blue;\"); }\n" +
		"function B(usePh) { return usePh(); }\n"
	res := run(t, "/src/hooks.js", src)

	require.Len(t, res.Sites, 1)
	site := res.Sites[0]
	assert.Equal(t, SiteHookCall, site.Kind)
	assert.Equal(t, "color: blue;", site.Initial)
	assert.Equal(t, strings.Index(src, "usePh(\"color"), site.Key.Offset)
	assert.Equal(t, 2, site.Key.LineNumber)

	out := string(res.Output)
	want := fmt.Sprintf(`usePh(["/src/hooks.js", %d, 2, "function A() { return usePh(\"color: blue;\"); }"], "color: blue;")`, site.Key.Offset)
	assert.Contains(t, out, want)
	assert.Contains(t, out, "function B(usePh) { return usePh(); }")
	assert.False(t, res.ImportInjected)
}

func TestInstrument_MacroImportRewritten(t *testing.T) {
	src := "import { useCssPlaceholder } from 'manipulative/macro';\nconst a = useCssPlaceholder();\n"
	res := run(t, "/src/m.js", src)

	require.Len(t, res.Sites, 1)
	assert.True(t, strings.HasPrefix(string(res.Output), "import { useCssPlaceholder } from 'manipulative';\n"))

	// Without sites the macro import is left alone.
	untouched := "import { useCssPlaceholder } from 'manipulative/macro';\n"
	res = run(t, "/src/m.js", untouched)
	assert.Equal(t, untouched, string(res.Output))
}

func TestInstrument_MissingBinding(t *testing.T) {
	src := "import { useCssPlaceholder } from \"manipulative\";\nvar useCssPlaceholder;\nuseCssPlaceholder();\n"
	res := run(t, "/src/x.js", src)

	assert.False(t, res.Changed)
	require.NotEmpty(t, res.Skipped)
	assert.Equal(t, MissingBinding, res.Skipped[0].Reason)
	assert.Equal(t, "useCssPlaceholder", res.Skipped[0].Name)
}

func TestInstrument_EmptyFilename(t *testing.T) {
	src := "const A = () => <div css__ />;\n"
	res := run(t, "", src)

	assert.False(t, res.Changed)
	assert.Equal(t, src, string(res.Output))
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, UnresolvedSite, res.Skipped[0].Reason)
}

func TestInstrument_Errors(t *testing.T) {
	in := newTestInstrumenter()

	_, err := in.Instrument(context.Background(), "/src/styles.css", []byte("a{}"))
	assert.ErrorIs(t, err, jsx.ErrUnsupportedFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = in.Instrument(ctx, "/src/a.js", []byte("const a = 1;"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_Keys(t *testing.T) {
	res := run(t, "/src/k.jsx", "const A = () => <p><i css__ /><b css__ /></p>;\n")
	keys := res.Keys()
	require.Len(t, keys, 2)
	assert.Less(t, keys[0].Offset, keys[1].Offset)
}

func TestOptions_HookTarget(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtraHookModules = []string{"@acme/styles"}
	target := opts.HookTarget()
	assert.Equal(t, []string{"manipulative", "manipulative/macro", "@acme/styles"}, target.Modules)
	assert.Equal(t, "useCssPlaceholder", target.Name)
}
