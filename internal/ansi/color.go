package ansi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// Color is a 24-bit RGB display colour.
type Color struct {
	R, G, B uint8
}

// RGB builds a Color from its channels.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// Int packs the colour as 0xRRGGBB.
func (c Color) Int() int {
	return int(c.R)<<16 | int(c.G)<<8 | int(c.B)
}

// FromInt unpacks a 0xRRGGBB integer. Bits above 24 are ignored.
func FromInt(v int) Color {
	return Color{R: uint8(v >> 16 & 0xFF), G: uint8(v >> 8 & 0xFF), B: uint8(v & 0xFF)}
}

// Hex renders the colour as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// String implements fmt.Stringer.
func (c Color) String() string {
	return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
}

// DefaultForeground is the colour used for unstyled text and unknown codes.
var DefaultForeground = Color{R: 255, G: 255, B: 255}

// DefaultBackground is the fallback for unknown background colour names.
var DefaultBackground = Color{R: 0, G: 0, B: 0}

// standard holds ANSI colours 0-7 as selected by "0;3x".
var standard = [8]Color{
	{0, 0, 0},
	{128, 0, 0},
	{0, 128, 0},
	{128, 128, 0},
	{0, 0, 128},
	{128, 0, 128},
	{0, 128, 128},
	{192, 192, 192},
}

// bright holds ANSI colours 8-15 as selected by "1;3x".
var bright = [8]Color{
	{128, 128, 128},
	{255, 0, 0},
	{0, 255, 0},
	{255, 255, 0},
	{0, 0, 255},
	{255, 0, 255},
	{0, 255, 255},
	{255, 255, 255},
}

var baseNames = [8]string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

// Table maps SGR parameter strings and colour names to colours.
// A Table is immutable after construction and safe for concurrent use.
type Table struct {
	codes map[string]Color
	names map[string]Color

	// deterministic scan order for NameOf
	nameKeys []string
	codeKeys []string
}

// DefaultTable is built once at process start.
var DefaultTable = NewTable()

// NewTable builds the 16-colour, 256-colour and named colour table.
//
// Postcondition: Returns a fully populated, read-only Table.
func NewTable() *Table {
	t := &Table{
		codes: make(map[string]Color, 300),
		names: make(map[string]Color, len(tcell.ColorNames)+24),
	}

	t.codes[""] = DefaultForeground
	t.codes["0"] = DefaultForeground
	for i := 0; i < 8; i++ {
		t.codes[fmt.Sprintf("0;3%d", i)] = standard[i]
		t.codes[fmt.Sprintf("1;3%d", i)] = bright[i]
		t.codes[fmt.Sprintf("3%d", i)] = standard[i]
		t.codes[fmt.Sprintf("9%d", i)] = bright[i]
	}
	for n := 0; n < 256; n++ {
		t.codes["38;5;"+strconv.Itoa(n)] = xterm(n)
	}

	// W3C names first; the ANSI names below override the few that collide
	// ("red", "green", ...) so scripts get terminal colours for them.
	for name, c := range tcell.ColorNames {
		r, g, b := c.RGB()
		if r < 0 {
			continue
		}
		t.names[strings.ToLower(name)] = Color{R: uint8(r), G: uint8(g), B: uint8(b)}
	}
	var preferred []string
	for i, name := range baseNames {
		t.names[name] = bright[i]
		t.names["bright"+name] = bright[i]
		preferred = append(preferred, name)
	}
	t.names["black"] = standard[0]
	for _, name := range baseNames {
		preferred = append(preferred, "bright"+name)
	}

	// ANSI names are matched before the W3C names in NameOf.
	seen := make(map[string]bool, len(preferred))
	for _, k := range preferred {
		seen[k] = true
	}
	var rest []string
	for k := range t.names {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	t.nameKeys = append(preferred, rest...)

	for k := range t.codes {
		t.codeKeys = append(t.codeKeys, k)
	}
	sort.Strings(t.codeKeys)
	return t
}

// xterm returns entry n of the 256-colour xterm palette.
func xterm(n int) Color {
	switch {
	case n < 8:
		return standard[n]
	case n < 16:
		return bright[n-8]
	case n < 232:
		i := n - 16
		return Color{
			R: uint8((i / 36) * 51),
			G: uint8(((i % 36) / 6) * 51),
			B: uint8((i % 6) * 51),
		}
	default:
		v := uint8(((n - 232) * 255) / 23)
		return Color{R: v, G: v, B: v}
	}
}

// Find returns the colour for an SGR parameter string such as "1;32" or
// "38;5;196", reporting whether the code is known.
func (t *Table) Find(code string) (Color, bool) {
	c, ok := t.codes[code]
	return c, ok
}

// Lookup returns the colour for code, or DefaultForeground if unknown.
func (t *Table) Lookup(code string) Color {
	if c, ok := t.codes[code]; ok {
		return c
	}
	return DefaultForeground
}

// ResolveName resolves a colour by SGR code, by name (case-insensitive) or
// by "#rrggbb" hex notation.
func (t *Table) ResolveName(name string) (Color, bool) {
	if c, ok := t.codes[name]; ok {
		return c, true
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := t.names[key]; ok {
		return c, true
	}
	if strings.HasPrefix(key, "#") {
		tc := tcell.GetColor(key)
		if tc.Valid() {
			r, g, b := tc.RGB()
			return Color{R: uint8(r), G: uint8(g), B: uint8(b)}, true
		}
	}
	return Color{}, false
}

// NameOf returns the first name, then the first SGR code, whose colour
// exactly matches c. With no exact match it returns "rgb(r, g, b)".
func (t *Table) NameOf(c Color) string {
	for _, k := range t.nameKeys {
		if t.names[k] == c {
			return k
		}
	}
	for _, k := range t.codeKeys {
		if k != "" && t.codes[k] == c {
			return k
		}
	}
	return c.String()
}

// Lookup resolves code against DefaultTable.
func Lookup(code string) Color {
	return DefaultTable.Lookup(code)
}
