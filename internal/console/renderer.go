// Package console is the line-mode terminal front end: it draws new
// scrollback lines with lipgloss and reads commands from standard input.
package console

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

// Renderer writes styled lines to a terminal. It remembers how much of the
// scrollback it has drawn, so each Draw emits only new lines.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	w      io.Writer
	r      *lipgloss.Renderer
	styles map[ansi.Color]lipgloss.Style
	drawn  int
}

// NewRenderer creates a Renderer for w. Colour output follows what the
// terminal behind w supports; a non-terminal gets plain text.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	// MUD output assumes light text on a dark screen
	r.SetHasDarkBackground(true)
	return &Renderer{
		w:      w,
		r:      r,
		styles: make(map[ansi.Color]lipgloss.Style),
	}
}

func (r *Renderer) style(c ansi.Color) lipgloss.Style {
	if s, ok := r.styles[c]; ok {
		return s
	}
	s := r.r.NewStyle().Foreground(lipgloss.Color(c.Hex())).TabWidth(lipgloss.NoTabConversion)
	r.styles[c] = s
	return s
}

// RenderLine returns l as terminal text without a trailing newline.
func (r *Renderer) RenderLine(l ansi.Line) string {
	var b strings.Builder
	for _, run := range l {
		b.WriteString(r.style(run.Foreground).Render(run.Text))
	}
	return b.String()
}

// Draw writes every line of buf appended since the previous Draw.
//
// Postcondition: Returns the number of lines written.
func (r *Renderer) Draw(buf *scrollback.Buffer) (int, error) {
	end := buf.Len()
	n, err := r.write(buf.ReadRange(r.drawn, end))
	r.drawn += n
	return n, err
}

// Replay writes lines regardless of what has been drawn, for #tail.
func (r *Renderer) Replay(lines iter.Seq[ansi.Line]) (int, error) {
	return r.write(lines)
}

func (r *Renderer) write(lines iter.Seq[ansi.Line]) (int, error) {
	n := 0
	for l := range lines {
		if _, err := fmt.Fprintln(r.w, r.RenderLine(l)); err != nil {
			return n, fmt.Errorf("writing line: %w", err)
		}
		n++
	}
	return n, nil
}
