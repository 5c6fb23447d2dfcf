// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package format renders markdown into the HTML dialect used for
// formatted message bodies.
//
// Input is GitHub Flavored Markdown. Single newlines become hard
// line breaks, matching how chat clients treat message text. Fenced
// code blocks are syntax-highlighted with inline styles when a lexer
// matches the fence language; otherwise they render as a plain
// pre/code pair carrying the language class, so receiving clients
// can highlight them client-side. Raw HTML in the source is omitted,
// not passed through.
package format

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// highlightStyle is the chroma style for fenced code blocks. Inline
// styles survive client-side sanitizers that strip stylesheets.
const highlightStyle = "github"

// converterInstance is initialized once and reused. The converter
// configuration never changes and goldmark.Markdown is safe to share:
// each Convert creates its own parse state.
var (
	converterInstance goldmark.Markdown
	converterOnce     sync.Once
)

func converter() goldmark.Markdown {
	converterOnce.Do(func() {
		converterInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				renderer.WithNodeRenderers(
					util.Prioritized(&codeBlockRenderer{}, 100),
				),
			),
		)
	})
	return converterInstance
}

// HTML renders markdown to HTML for a formatted message body.
func HTML(markdown string) (string, error) {
	var buffer bytes.Buffer
	if err := converter().Convert([]byte(markdown), &buffer); err != nil {
		return "", fmt.Errorf("format: rendering markdown: %w", err)
	}
	return strings.TrimRight(buffer.String(), "\n"), nil
}

// codeBlockRenderer overrides goldmark's fenced code block output.
// Registered below the default renderer's priority, so it wins for
// the one node kind it handles.
type codeBlockRenderer struct{}

func (r *codeBlockRenderer) RegisterFuncs(registerer renderer.NodeRendererFuncRegisterer) {
	registerer.Register(ast.KindFencedCodeBlock, r.render)
}

func (r *codeBlockRenderer) render(writer util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	block := node.(*ast.FencedCodeBlock)
	language := string(block.Language(source))

	var code strings.Builder
	lines := block.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(source))
	}

	lexer := lexers.Get(language)
	if lexer == nil {
		writePlainCode(writer, code.String(), language)
		return ast.WalkSkipChildren, nil
	}
	if err := highlight(writer, code.String(), lexer); err != nil {
		return ast.WalkStop, fmt.Errorf("format: highlighting %s block: %w", language, err)
	}
	return ast.WalkSkipChildren, nil
}

// highlight writes a chroma-rendered code block with inline styles.
func highlight(writer util.BufWriter, code string, lexer chroma.Lexer) error {
	style := styles.Get(highlightStyle)
	if style == nil {
		style = styles.Fallback
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return err
	}
	return chromahtml.New().Format(writer, style, iterator)
}

// writePlainCode emits the conventional pre/code pair with the
// language class, escaping the body.
func writePlainCode(writer util.BufWriter, code, language string) {
	writer.WriteString("<pre><code")
	if language != "" {
		writer.WriteString(` class="language-` + stdhtml.EscapeString(language) + `"`)
	}
	writer.WriteString(">")
	writer.WriteString(stdhtml.EscapeString(code))
	writer.WriteString("</code></pre>\n")
}
