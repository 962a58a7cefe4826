// Package render turns BBCode chat markup into HTML.
package render

import (
	"github.com/frustra/bbcode"
)

// BBCode renders chat markup; raw HTML in the input is escaped
type BBCode struct {
	compiler bbcode.Compiler
}

// NewBBCode creates a renderer that auto-closes open tags and ignores stray closing tags
func NewBBCode() *BBCode {
	return &BBCode{compiler: bbcode.NewCompiler(true, true)}
}

// Render implements interfaces.Renderer
func (b *BBCode) Render(markup string) string {
	return b.compiler.Compile(markup)
}
