// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instrument rewrites style placeholders in JSX/TSX sources into
// runtime hook calls that carry their own location.
//
// Two kinds of sites are rewritten:
//
//	<div css__ />                     ->  <div css={useCssPlaceholder__INJECT(["/src/App.tsx", 5, 1, "<div css__ />"])} />
//	<div css__={css`color: red;`} />  ->  <div css={useCssPlaceholder__INJECT([...], "color: red;")} />
//	useCssPlaceholder()               ->  useCssPlaceholder(["/src/App.tsx", 120, 4, "..."])
//
// The pass is computed as a list of replacements against the original
// parse and applied once, so every captured offset refers to the input
// text regardless of visit order. Running it on its own output is a no-op.
package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/manipulative/services/manipulative/jsx"
	"github.com/AleutianAI/manipulative/services/manipulative/location"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
	"github.com/AleutianAI/manipulative/services/manipulative/textedit"
)

// Options configures what the instrumenter looks for and what it emits.
type Options struct {
	// Attribute is the placeholder attribute name.
	Attribute string `mapstructure:"attribute" yaml:"attribute" validate:"required"`

	// TargetAttribute replaces Attribute in the output.
	TargetAttribute string `mapstructure:"target_attribute" yaml:"target_attribute" validate:"required"`

	// HookModule is the module that exports the runtime hook.
	HookModule string `mapstructure:"hook_module" yaml:"hook_module" validate:"required"`

	// MacroModules are compile-time aliases of HookModule. Their import
	// sources are rewritten to HookModule.
	MacroModules []string `mapstructure:"macro_modules" yaml:"macro_modules"`

	// ExtraHookModules re-export the hook under HookName.
	ExtraHookModules []string `mapstructure:"extra_hook_modules" yaml:"extra_hook_modules"`

	// HookName is the exported name of the runtime hook.
	HookName string `mapstructure:"hook_name" yaml:"hook_name" validate:"required"`

	// InjectedLocal is the local name used when the hook import has to be
	// added to a file.
	InjectedLocal string `mapstructure:"injected_local" yaml:"injected_local" validate:"required"`
}

// DefaultOptions returns the defaults used by the manipulative runtime.
func DefaultOptions() Options {
	return Options{
		Attribute:       "css__",
		TargetAttribute: "css",
		HookModule:      "manipulative",
		MacroModules:    []string{"manipulative/macro"},
		HookName:        "useCssPlaceholder",
		InjectedLocal:   "useCssPlaceholder__INJECT",
	}
}

// hookModules returns every module through which the hook is reachable.
func (o Options) hookModules() []string {
	out := make([]string, 0, 1+len(o.MacroModules)+len(o.ExtraHookModules))
	out = append(out, o.HookModule)
	out = append(out, o.MacroModules...)
	out = append(out, o.ExtraHookModules...)
	return out
}

// HookTarget is the export the instrumenter and the patch engine resolve
// call sites against.
func (o Options) HookTarget() jsx.Target {
	return jsx.Target{Modules: o.hookModules(), Name: o.HookName}
}

// SkipReason explains why a candidate site was left untouched.
type SkipReason string

const (
	// UnresolvedSite means the site has no usable file name, offset or
	// static value.
	UnresolvedSite SkipReason = "unresolved_site"

	// MissingBinding means an import of the hook could not be tied to a
	// single program-scope binding.
	MissingBinding SkipReason = "missing_binding"
)

// Skip records one candidate that was not instrumented.
type Skip struct {
	Reason SkipReason `json:"reason"`
	Offset int        `json:"offset"`
	Name   string     `json:"name,omitempty"`
	Detail string     `json:"detail"`
}

// SiteKind distinguishes the two rewritable constructs.
type SiteKind string

const (
	SiteAttribute SiteKind = "attribute"
	SiteHookCall  SiteKind = "hook_call"
)

// Site is one rewritten location.
type Site struct {
	Key     location.Key `json:"key"`
	Kind    SiteKind     `json:"kind"`
	Initial string       `json:"initial,omitempty"`
}

// Result is the outcome of one instrumentation pass.
type Result struct {
	// Output is the instrumented text. It aliases the input when Changed
	// is false.
	Output []byte

	// Sites are the rewritten locations in source order.
	Sites []Site

	// Skipped are candidates left untouched.
	Skipped []Skip

	// Changed is false when Output is byte-identical to the input.
	Changed bool

	// ImportInjected is true when the hook import was added.
	ImportInjected bool
}

// Keys returns the location keys of all rewritten sites.
func (r *Result) Keys() []location.Key {
	keys := make([]location.Key, len(r.Sites))
	for i, s := range r.Sites {
		keys[i] = s.Key
	}
	return keys
}

// Instrumenter runs instrumentation passes. It is safe for concurrent use.
type Instrumenter struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Instrumenter. A nil logger uses slog.Default().
func New(opts Options, logger *slog.Logger) *Instrumenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumenter{opts: opts, logger: logger.With(slog.String("component", "instrument"))}
}

// Options returns the instrumenter configuration.
func (in *Instrumenter) Options() Options {
	return in.opts
}

// pass holds the state of one Instrument call.
type pass struct {
	in       *Instrumenter
	f        *jsx.File
	filename string
	hook     jsx.Resolved
	reps     []textedit.Replacement
	result   *Result
	inject   bool
}

// Instrument rewrites every site in src.
//
// filename must be the absolute path the patch engine will later open;
// its extension selects the grammar. Problems with individual sites are
// recorded in Result.Skipped and never fail the pass. Errors are returned
// only for unsupported, oversized or invalid input and cancellation, in
// which case the caller should pass src through unchanged.
func (in *Instrumenter) Instrument(ctx context.Context, filename string, src []byte) (*Result, error) {
	start := time.Now()
	ctx, span := startPassSpan(ctx, filename, len(src))
	defer span.End()

	grammarName := filename
	if grammarName == "" {
		grammarName = "input.tsx"
	}
	f, err := jsx.Parse(ctx, grammarName, src)
	if err != nil {
		telemetry.RecordError(span, err)
		recordPassMetrics(ctx, "unknown", time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("instrument %s: %w", filename, err)
	}
	defer f.Close()

	p := &pass{
		in:       in,
		f:        f,
		filename: filename,
		hook:     f.Resolve(in.opts.HookTarget()),
		result:   &Result{Output: src},
	}
	for _, local := range p.hook.Missing {
		p.skip(MissingBinding, 0, local, "hook import is redeclared at program scope")
	}

	p.collect()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("instrument %s: %w", filename, err)
	}
	if len(p.result.Sites) > 0 {
		p.rewriteMacroImports()
		if p.inject {
			p.reps = append(p.reps, f.ImportInsertion(in.importStatement()))
			p.result.ImportInjected = true
		}
		out, err := textedit.Apply(src, p.reps)
		if err != nil {
			// Sites come from disjoint subtrees; an overlap here is a bug,
			// and the build must still see the original text.
			in.logger.Error("instrumentation produced conflicting edits",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			p.result = &Result{Output: src, Skipped: p.result.Skipped}
		} else {
			p.result.Output = out
			p.result.Changed = true
		}
	}

	for _, s := range p.result.Skipped {
		in.logger.Debug("site skipped",
			slog.String("file", filename),
			slog.String("reason", string(s.Reason)),
			slog.Int("offset", s.Offset),
			slog.String("detail", s.Detail))
	}
	setPassSpanResult(span, len(p.result.Sites), len(p.result.Skipped), p.result.ImportInjected)
	recordPassMetrics(ctx, f.Grammar.String(), time.Since(start), len(p.result.Sites), len(p.result.Skipped), true)
	return p.result, nil
}

// collect walks the tree once and queues a replacement per site.
func (p *pass) collect() {
	jsx.Walk(p.f.Root(), func(n *sitter.Node) bool {
		switch n.Type() {
		case jsx.NodeJSXAttribute:
			if p.f.AttributeName(n) == p.in.opts.Attribute {
				p.attribute(n)
				return false
			}
		case jsx.NodeCallExpression:
			if p.f.Calls(n, p.hook) {
				p.hookCall(n)
				return false
			}
		}
		return true
	})
}

func (p *pass) skip(reason SkipReason, offset int, name, detail string) {
	p.result.Skipped = append(p.result.Skipped, Skip{Reason: reason, Offset: offset, Name: name, Detail: detail})
}

// key captures the location of n from the original parse.
func (p *pass) key(n *sitter.Node) (location.Key, bool) {
	offset := int(n.StartByte())
	if p.filename == "" {
		p.skip(UnresolvedSite, offset, "", "no file name")
		return location.Key{}, false
	}
	if n.HasError() || n.IsMissing() {
		p.skip(UnresolvedSite, offset, "", "site contains syntax errors")
		return location.Key{}, false
	}
	line, snippet := p.f.Line(n)
	return location.Key{
		FilePath:      p.filename,
		Offset:        offset,
		LineNumber:    line,
		SourceSnippet: snippet,
	}, true
}

// attribute rewrites `css__` or `css__={...}` into `css={hook([...])}`.
func (p *pass) attribute(attr *sitter.Node) {
	key, ok := p.key(attr)
	if !ok {
		return
	}

	initial := ""
	if value := jsx.AttributeValue(attr); value != nil {
		v, static := p.f.StaticStyle(value)
		if !static {
			p.skip(UnresolvedSite, key.Offset, p.in.opts.Attribute, "attribute value is not a static style")
			return
		}
		initial = v
	}

	callee, inject, ok := p.calleeAt(attr)
	if !ok {
		p.skip(MissingBinding, key.Offset, p.in.opts.InjectedLocal, "injected hook name is already declared")
		return
	}
	p.inject = p.inject || inject

	if p.hasSiblingAttribute(attr, p.in.opts.TargetAttribute) {
		p.in.logger.Warn("element already has a target attribute; the instrumented one takes precedence",
			slog.String("file", p.filename),
			slog.Int("line", key.LineNumber),
			slog.String("attribute", p.in.opts.TargetAttribute))
	}

	text := p.in.opts.TargetAttribute + "={" + callee + "(" + callArgs(key, initial) + ")}"
	p.reps = append(p.reps, textedit.Replacement{
		Start: int(attr.StartByte()),
		End:   int(attr.EndByte()),
		Text:  text,
	})
	p.result.Sites = append(p.result.Sites, Site{Key: key, Kind: SiteAttribute, Initial: initial})
}

// hookCall replaces the argument list of a resolved hook call.
func (p *pass) hookCall(call *sitter.Node) {
	args := jsx.Arguments(call)
	if args == nil {
		return
	}

	initial := ""
	if args.Type() == jsx.NodeTemplateString {
		// useCssPlaceholder`...`
		v, ok := p.f.StaticStyle(args)
		if !ok {
			p.skip(UnresolvedSite, int(call.StartByte()), p.in.opts.HookName, "template has substitutions")
			return
		}
		initial = v
	} else if args.NamedChildCount() > 0 {
		first := args.NamedChild(0)
		if jsx.IsLocationLiteral(first) {
			// Already instrumented.
			return
		}
		if v, ok := p.f.StaticStyle(first); ok {
			initial = v
		}
	}

	key, ok := p.key(call)
	if !ok {
		return
	}
	p.reps = append(p.reps, textedit.Replacement{
		Start: int(args.StartByte()),
		End:   int(args.EndByte()),
		Text:  "(" + callArgs(key, initial) + ")",
	})
	p.result.Sites = append(p.result.Sites, Site{Key: key, Kind: SiteHookCall, Initial: initial})
}

// calleeAt picks the expression used to call the hook at n: an existing
// import binding visible there, otherwise the injected local.
func (p *pass) calleeAt(n *sitter.Node) (callee string, inject bool, ok bool) {
	for _, local := range p.hook.Locals {
		if !p.f.Shadowed(n, local) {
			return local, false, true
		}
	}
	for _, ns := range p.hook.Namespaces {
		if !p.f.Shadowed(n, ns) {
			return ns + "." + p.in.opts.HookName, false, true
		}
	}
	if p.f.ProgramDeclares(p.in.opts.InjectedLocal) {
		return "", false, false
	}
	return p.in.opts.InjectedLocal, true, true
}

// rewriteMacroImports points macro imports of the hook at the runtime module.
func (p *pass) rewriteMacroImports() {
	for _, imp := range p.f.Imports() {
		if !containsString(p.in.opts.MacroModules, imp.Module) {
			continue
		}
		q := string(imp.Quote(p.f.Source))
		p.reps = append(p.reps, textedit.Replacement{
			Start: imp.SourceStart,
			End:   imp.SourceEnd,
			Text:  q + p.in.opts.HookModule + q,
		})
	}
}

func (p *pass) hasSiblingAttribute(attr *sitter.Node, name string) bool {
	parent := attr.Parent()
	if parent == nil {
		return false
	}
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		c := parent.NamedChild(i)
		if c != nil && c.Type() == jsx.NodeJSXAttribute && p.f.AttributeName(c) == name {
			return true
		}
	}
	return false
}

// importStatement renders the hook import added to files that need it.
func (in *Instrumenter) importStatement() string {
	spec := in.opts.HookName
	if in.opts.InjectedLocal != in.opts.HookName {
		spec += " as " + in.opts.InjectedLocal
	}
	return "import { " + spec + " } from " + jsx.QuoteString(in.opts.HookModule) + ";"
}

// callArgs renders the hook arguments: the location array and, when the
// site already carries a style, its text.
func callArgs(key location.Key, initial string) string {
	args := jsx.LiteralArray(key.Literal())
	if strings.TrimSpace(initial) != "" {
		args += ", " + jsx.QuoteString(initial)
	}
	return args
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
