package ansi

import "strings"

// Run is a contiguous span of text sharing one foreground colour.
type Run struct {
	Text       string
	Foreground Color
}

// Line is one terminal row: an ordered sequence of runs.
type Line []Run

// Text returns the line's plain text without styling.
func (l Line) Text() string {
	var b strings.Builder
	for _, r := range l {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Clone returns a copy that shares no backing storage with l.
func (l Line) Clone() Line {
	if l == nil {
		return nil
	}
	out := make(Line, len(l))
	copy(out, l)
	return out
}

// Token is one element of decoder output: a styled run, or a line break
// when Break is set.
type Token struct {
	Run
	Break bool
}

// Coalesce merges adjacent runs that share a colour and drops empty runs.
// Line breaks are preserved in place.
func Coalesce(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Break {
			out = append(out, tok)
			continue
		}
		if tok.Text == "" {
			continue
		}
		if n := len(out); n > 0 && !out[n-1].Break && out[n-1].Foreground == tok.Foreground {
			out[n-1].Text += tok.Text
			continue
		}
		out = append(out, tok)
	}
	return out
}

// LineBuilder assembles decoder tokens into complete lines.
// Adjacent runs of the same colour are merged, so a line split across reads
// comes out identical to one received in a single read.
type LineBuilder struct {
	pending Line
}

// Push consumes tokens and returns every line completed by a break.
func (b *LineBuilder) Push(tokens []Token) []Line {
	var done []Line
	for _, tok := range tokens {
		if tok.Break {
			done = append(done, b.take())
			continue
		}
		b.Add(tok.Run)
	}
	return done
}

// Add appends a run to the line under construction.
func (b *LineBuilder) Add(r Run) {
	if r.Text == "" {
		return
	}
	if n := len(b.pending); n > 0 && b.pending[n-1].Foreground == r.Foreground {
		b.pending[n-1].Text += r.Text
		return
	}
	b.pending = append(b.pending, r)
}

// Pending reports whether an unterminated line is being built.
func (b *LineBuilder) Pending() bool {
	return len(b.pending) > 0
}

// Flush returns the unterminated line, if any, and starts a new one.
func (b *LineBuilder) Flush() (Line, bool) {
	if len(b.pending) == 0 {
		return nil, false
	}
	return b.take(), true
}

func (b *LineBuilder) take() Line {
	l := b.pending
	b.pending = nil
	if l == nil {
		l = Line{}
	}
	return l
}

// DecodeLines decodes s with a fresh decoder. A trailing unterminated line
// is included.
func DecodeLines(s string) []Line {
	var d Decoder
	var lb LineBuilder
	lines := lb.Push(d.Feed([]byte(s)))
	if l, ok := lb.Flush(); ok {
		lines = append(lines, l)
	}
	return lines
}
