package scripting

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

// call is the output state of one script execution. Tell-style functions
// extend the pending line; Note-style functions complete it.
type call struct {
	buf        *scrollback.Buffer
	line       ansi.LineBuilder
	transcript strings.Builder
}

func (c *call) tell(r ansi.Run) {
	c.line.Add(r)
	c.transcript.WriteString(r.Text)
}

func (c *call) note(runs ...ansi.Run) {
	for _, r := range runs {
		c.tell(r)
	}
	c.endLine()
}

func (c *call) endLine() {
	c.transcript.WriteByte('\n')
	l, ok := c.line.Flush()
	if !ok {
		l = ansi.Line{}
	}
	c.buf.Append(l)
}

// finish appends any text left pending by Tell.
func (c *call) finish() {
	if l, ok := c.line.Flush(); ok {
		c.buf.Append(l)
	}
}

// register creates the host functions, installs them as session globals so
// loaded libraries can use them, and returns them for per-call environments.
func (b *Bridge) register(L *lua.LState) map[string]*lua.LFunction {
	api := map[string]lua.LGFunction{
		"print":           b.luaPrint,
		"color_print":     b.luaColorPrint,
		"Note":            b.luaNote,
		"Tell":            b.luaTell,
		"ColourNote":      b.luaColourNote,
		"ColourTell":      b.luaColourTell,
		"AnsiNote":        b.luaAnsiNote,
		"ColourNameToRGB": b.luaColourNameToRGB,
		"RGBColourToName": b.luaRGBColourToName,
		"ANSI":            b.luaANSI,
		"Send":            b.luaSend,
	}
	funcs := make(map[string]*lua.LFunction, len(api))
	for name, fn := range api {
		f := L.NewFunction(fn)
		L.SetGlobal(name, f)
		funcs[name] = f
	}
	return funcs
}

// current returns the active call. Host functions only run inside Execute
// or a script load, but a detached call keeps them safe regardless.
func (b *Bridge) current() *call {
	if b.cur == nil {
		return &call{buf: b.buf}
	}
	return b.cur
}

// colour resolves a colour argument, falling back to def.
func (b *Bridge) colour(name string, def ansi.Color) ansi.Color {
	if c, ok := b.table.ResolveName(name); ok {
		return c
	}
	return def
}

// argString converts argument n with tostring semantics; a missing
// argument is the empty string.
func argString(L *lua.LState, n int) string {
	if n > L.GetTop() {
		return ""
	}
	return L.ToStringMeta(L.Get(n)).String()
}

// print(...) writes its arguments, separated by spaces, as one white line.
func (b *Bridge) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, argString(L, i))
	}
	b.current().note(ansi.Run{Text: strings.Join(parts, " "), Foreground: ansi.DefaultForeground})
	return 0
}

// color_print(text, colour)
func (b *Bridge) luaColorPrint(L *lua.LState) int {
	text := argString(L, 1)
	fg := b.colour(L.OptString(2, ""), ansi.DefaultForeground)
	b.current().note(ansi.Run{Text: text, Foreground: fg})
	return 0
}

// Note(text)
func (b *Bridge) luaNote(L *lua.LState) int {
	b.current().note(ansi.Run{Text: argString(L, 1), Foreground: ansi.DefaultForeground})
	return 0
}

// Tell(text)
func (b *Bridge) luaTell(L *lua.LState) int {
	b.current().tell(ansi.Run{Text: argString(L, 1), Foreground: ansi.DefaultForeground})
	return 0
}

// colourRuns reads (fg, bg, text) triplets. The background is resolved for
// validation only; runs carry no background.
func (b *Bridge) colourRuns(L *lua.LState) []ansi.Run {
	top := L.GetTop()
	if top < 3 {
		L.ArgError(top+1, "expected foreground, background and text")
		return nil
	}
	runs := make([]ansi.Run, 0, top/3)
	for i := 1; i+2 <= top; i += 3 {
		fg := b.colour(L.OptString(i, ""), ansi.DefaultForeground)
		_ = b.colour(L.OptString(i+1, ""), ansi.DefaultBackground)
		runs = append(runs, ansi.Run{Text: argString(L, i+2), Foreground: fg})
	}
	return runs
}

// ColourNote(fg, bg, text [, fg, bg, text ...])
func (b *Bridge) luaColourNote(L *lua.LState) int {
	b.current().note(b.colourRuns(L)...)
	return 0
}

// ColourTell(fg, bg, text [, fg, bg, text ...])
func (b *Bridge) luaColourTell(L *lua.LState) int {
	c := b.current()
	for _, r := range b.colourRuns(L) {
		c.tell(r)
	}
	return 0
}

// AnsiNote(text) decodes embedded SGR sequences. Every line break in text
// completes a line; the last line is always completed.
func (b *Bridge) luaAnsiNote(L *lua.LState) int {
	c := b.current()
	d := ansi.NewDecoder(b.table)
	tokens := d.Feed([]byte(L.CheckString(1)))
	broke := false
	for _, tok := range tokens {
		if tok.Break {
			c.endLine()
			broke = true
			continue
		}
		c.tell(tok.Run)
		broke = false
	}
	if !broke || len(tokens) == 0 {
		c.endLine()
	}
	return 0
}

// ColourNameToRGB(name) returns 0xRRGGBB; unknown names give white.
func (b *Bridge) luaColourNameToRGB(L *lua.LState) int {
	c := b.colour(L.CheckString(1), ansi.DefaultForeground)
	L.Push(lua.LNumber(c.Int()))
	return 1
}

// RGBColourToName(n) returns a colour name or "rgb(r, g, b)".
func (b *Bridge) luaRGBColourToName(L *lua.LState) int {
	L.Push(lua.LString(b.table.NameOf(ansi.FromInt(L.CheckInt(1)))))
	return 1
}

// ANSI(code ...) returns the SGR escape for its arguments joined by ";".
func (b *Bridge) luaANSI(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, argString(L, i))
	}
	L.Push(lua.LString("\x1b[" + strings.Join(parts, ";") + "m"))
	return 1
}

// Send(text) sends text as a line to the MUD. It returns true, or nil and
// an error message.
func (b *Bridge) luaSend(L *lua.LState) int {
	text := L.CheckString(1)
	if b.out == nil || !b.out.IsConnected() {
		L.Push(lua.LNil)
		L.Push(lua.LString("not connected"))
		return 2
	}
	if err := b.out.SendLine(text); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
