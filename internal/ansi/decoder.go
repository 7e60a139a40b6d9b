package ansi

import (
	"strings"
	"unicode/utf8"
)

// State is the escape-sequence parser state.
type State int

const (
	// StateNormal consumes plain text.
	StateNormal State = iota
	// StateEscaped has seen ESC and waits for '['.
	StateEscaped
	// StateParsing accumulates CSI parameter bytes until a final byte.
	StateParsing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateEscaped:
		return "escaped"
	case StateParsing:
		return "parsing"
	default:
		return "unknown"
	}
}

const (
	esc = 0x1B

	// maxParamLen bounds the CSI parameter buffer; longer sequences are
	// abandoned so hostile input cannot grow decoder state.
	maxParamLen = 32
)

// Decoder turns a byte stream containing SGR escape sequences into styled
// runs. It carries an in-progress escape sequence (and an incomplete UTF-8
// rune) across Feed calls; plain text is always flushed at the end of Feed.
//
// The zero value is ready to use with DefaultTable and white text.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	table *Table

	state   State
	params  []byte
	foreign bool // current CSI sequence is not SGR and will be discarded

	fg    Color
	fgSet bool

	text    []byte
	partial []byte // trailing bytes of an incomplete UTF-8 rune
	out     []Token
}

// NewDecoder returns a decoder resolving colours through table.
// A nil table selects DefaultTable.
func NewDecoder(table *Table) *Decoder {
	return &Decoder{table: table}
}

// State reports the current parser state.
func (d *Decoder) State() State {
	return d.state
}

// Foreground reports the colour applied to the next run.
func (d *Decoder) Foreground() Color {
	if !d.fgSet {
		return DefaultForeground
	}
	return d.fg
}

// Reset returns the decoder to Normal with the default colour, discarding
// any partial sequence.
func (d *Decoder) Reset() {
	d.state = StateNormal
	d.params = d.params[:0]
	d.foreign = false
	d.fgSet = false
	d.text = d.text[:0]
	d.partial = d.partial[:0]
}

// Feed decodes p and returns the resulting runs and line breaks.
// Malformed sequences never fail; they degrade to plain text or are dropped.
func (d *Decoder) Feed(p []byte) []Token {
	d.out = nil
	if len(d.partial) > 0 {
		d.text = append(d.text, d.partial...)
		d.partial = d.partial[:0]
	}

	for _, c := range p {
		switch d.state {
		case StateNormal:
			d.normal(c)
		case StateEscaped:
			if c == '[' {
				d.state = StateParsing
				d.params = d.params[:0]
				d.foreign = false
			} else {
				d.state = StateNormal
			}
		case StateParsing:
			d.parsing(c)
		}
	}

	d.carryPartialRune()
	d.flush()
	return d.out
}

func (d *Decoder) normal(c byte) {
	switch {
	case c == esc:
		d.flush()
		d.state = StateEscaped
	case c == '\r':
	case c == '\n':
		d.flush()
		d.out = append(d.out, Token{Break: true})
	case c == '\t':
		d.text = append(d.text, c)
	case c < 0x20 || c == 0x7F:
		// other control bytes are never echoed
	default:
		d.text = append(d.text, c)
	}
}

func (d *Decoder) parsing(c byte) {
	if len(d.params) >= maxParamLen {
		d.abandon()
		return
	}
	switch {
	case (c >= '0' && c <= '9') || c == ';':
		d.params = append(d.params, c)
	case c == 'm' && !d.foreign:
		d.setForeground(d.resolve(string(d.params)))
		d.params = d.params[:0]
		d.state = StateNormal
	case c >= 0x20 && c <= 0x3F:
		// private parameter or intermediate byte: consume the rest of the
		// sequence without effect
		d.foreign = true
		d.params = append(d.params, c)
	default:
		// any final byte of a non-SGR sequence, or garbage
		d.abandon()
	}
}

func (d *Decoder) abandon() {
	d.params = d.params[:0]
	d.foreign = false
	d.state = StateNormal
}

func (d *Decoder) resolve(code string) Color {
	t := d.table
	if t == nil {
		t = DefaultTable
	}
	return t.Lookup(code)
}

func (d *Decoder) setForeground(c Color) {
	d.fg = c
	d.fgSet = true
}

// carryPartialRune moves an incomplete trailing UTF-8 sequence out of the
// text buffer so the next Feed can complete it.
func (d *Decoder) carryPartialRune() {
	n := len(d.text)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(d.text[i]) {
			continue
		}
		if !utf8.FullRune(d.text[i:]) {
			d.partial = append(d.partial[:0], d.text[i:]...)
			d.text = d.text[:i]
		}
		return
	}
}

func (d *Decoder) flush() {
	if len(d.text) == 0 {
		return
	}
	d.out = append(d.out, Token{Run: Run{
		Text:       sanitize(d.text),
		Foreground: d.Foreground(),
	}})
	d.text = d.text[:0]
}

// sanitize converts b to a string, replacing each invalid byte with U+FFFD.
func sanitize(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
