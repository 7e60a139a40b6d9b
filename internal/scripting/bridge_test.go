package scripting_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/config"
	"github.com/cory-johannsen/mudforge/internal/scripting"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

type fakeSender struct {
	connected bool
	err       error
	lines     []string
}

func (s *fakeSender) SendLine(line string) error {
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *fakeSender) IsConnected() bool {
	return s.connected
}

func testScriptingConfig() config.ScriptingConfig {
	return config.ScriptingConfig{
		InstructionLimit: 100_000,
		Timeout:          time.Second,
		Prefix:           "/",
	}
}

func newTestBridge(t testing.TB, cfg config.ScriptingConfig, out scripting.Sender) (*scripting.Bridge, *scrollback.Buffer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	buf := scrollback.New(16)
	b, err := scripting.NewBridge(buf, out, cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b, buf, logs
}

func writeTempLua(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
	}
	return dir
}

func run(t testing.TB, b *scripting.Bridge, src string) string {
	t.Helper()
	out, err := b.Execute(context.Background(), src)
	require.NoError(t, err)
	return out
}

var (
	white = ansi.DefaultForeground
	red   = ansi.RGB(255, 0, 0)
	cyan  = ansi.RGB(0, 255, 255)
	green = ansi.RGB(0, 255, 0)
)

func TestBridge_Print(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `print("hello", 42, nil)`)
	assert.Equal(t, "hello 42 nil\n", out)
	require.Equal(t, 1, buf.Len())
	assert.Equal(t, ansi.Line{{Text: "hello 42 nil", Foreground: white}}, buf.Lines(0)[0])
}

func TestBridge_ColorPrint(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `color_print("danger", "red") color_print("plain", "no-such-colour")`)
	assert.Equal(t, "danger\nplain\n", out)
	lines := buf.Lines(0)
	require.Len(t, lines, 2)
	assert.Equal(t, red, lines[0][0].Foreground)
	assert.Equal(t, white, lines[1][0].Foreground)
}

func TestBridge_TellJoinsNextNote(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `Tell("a ") ColourTell("red", "black", "b ") Note("c")`)
	assert.Equal(t, "a b c\n", out)
	require.Equal(t, 1, buf.Len())
	assert.Equal(t, ansi.Line{
		{Text: "a ", Foreground: white},
		{Text: "b ", Foreground: red},
		{Text: "c", Foreground: white},
	}, buf.Lines(0)[0])
}

func TestBridge_PendingTellFlushedAtEnd(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `Tell("prompt> ")`)
	assert.Equal(t, "prompt> ", out)
	require.Equal(t, 1, buf.Len())
	assert.Equal(t, "prompt> ", buf.Lines(0)[0].Text())
}

func TestBridge_ColourNote(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `
		ColourNote("cyan", "black", "hi")
		ColourNote("bogus", "bogus", "fallback")
		ColourNote("red", "", "one ", "#00ff00", "", "two")
	`)
	assert.Equal(t, "hi\nfallback\none two\n", out)
	lines := buf.Lines(0)
	require.Len(t, lines, 3)
	assert.Equal(t, cyan, lines[0][0].Foreground)
	assert.Equal(t, white, lines[1][0].Foreground)
	assert.Equal(t, ansi.Line{{Text: "one ", Foreground: red}, {Text: "two", Foreground: green}}, lines[2])
}

func TestBridge_ColourNoteMissingArgs(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)

	_, err := b.Execute(context.Background(), `ColourNote("red")`)
	var scriptErr *scripting.ScriptError
	assert.True(t, errors.As(err, &scriptErr))
}

func TestBridge_AnsiNote(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `AnsiNote(ANSI("1;32") .. "green" .. ANSI(0) .. " plain\nsecond")`)
	assert.Equal(t, "green plain\nsecond\n", out)
	lines := buf.Lines(0)
	require.Len(t, lines, 2)
	assert.Equal(t, ansi.Line{{Text: "green", Foreground: green}, {Text: " plain", Foreground: white}}, lines[0])
	assert.Equal(t, "second", lines[1].Text())
}

func TestBridge_AnsiNoteTrailingNewline(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `AnsiNote("done\n")`)
	assert.Equal(t, "done\n", out)
	assert.Equal(t, 1, buf.Len())
}

func TestBridge_ColourConversions(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)

	out := run(t, b, `
		print(ColourNameToRGB("red"))
		print(ColourNameToRGB("no-such-colour"))
		print(RGBColourToName(16711680))
		print(RGBColourToName(66051))
		print(ANSI("1;31") == "\27[1;31m", ANSI(1, 31) == "\27[1;31m")
	`)
	assert.Equal(t, "16711680\n16777215\nred\nrgb(1, 2, 3)\ntrue true\n", out)
}

func TestBridge_Send(t *testing.T) {
	sender := &fakeSender{connected: true}
	b, _, _ := newTestBridge(t, testScriptingConfig(), sender)

	out := run(t, b, `print(Send("look"))`)
	assert.Equal(t, "true\n", out)
	assert.Equal(t, []string{"look"}, sender.lines)

	sender.err = errors.New("connection lost")
	out = run(t, b, `local ok, err = Send("north") print(ok, err)`)
	assert.Equal(t, "nil connection lost\n", out)

	sender.connected = false
	out = run(t, b, `local ok, err = Send("north") print(ok, err)`)
	assert.Equal(t, "nil not connected\n", out)
}

func TestBridge_SendWithoutSender(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	out := run(t, b, `print(Send("look"))`)
	assert.Equal(t, "nil not connected\n", out)
}

func TestBridge_SyntaxError(t *testing.T) {
	b, buf, _ := newTestBridge(t, testScriptingConfig(), nil)

	_, err := b.Execute(context.Background(), `this is not lua @@`)
	var scriptErr *scripting.ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.NotEmpty(t, scriptErr.Message)
	assert.Equal(t, 0, buf.Len())
}

func TestBridge_RuntimeErrorKeepsOutput(t *testing.T) {
	b, buf, logs := newTestBridge(t, testScriptingConfig(), nil)

	out, err := b.Execute(context.Background(), `Note("before") Tell("half") error("boom")`)
	var scriptErr *scripting.ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.Contains(t, scriptErr.Message, "boom")
	assert.Equal(t, "before\nhalf", out)

	lines := buf.Lines(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "before", lines[0].Text())
	assert.Equal(t, "half", lines[1].Text())
	assert.Equal(t, 1, logs.FilterMessage("scripting: execution failed").Len())
}

func TestBridge_InstructionLimit(t *testing.T) {
	cfg := testScriptingConfig()
	cfg.InstructionLimit = 1000
	b, _, _ := newTestBridge(t, cfg, nil)

	_, err := b.Execute(context.Background(), `while true do end`)
	assert.ErrorIs(t, err, scripting.ErrInstructionLimit)

	// the limit applies per call
	assert.Equal(t, "ok\n", run(t, b, `print("ok")`))
}

func TestBridge_Timeout(t *testing.T) {
	cfg := testScriptingConfig()
	cfg.InstructionLimit = 1 << 40
	cfg.Timeout = 20 * time.Millisecond
	b, _, _ := newTestBridge(t, cfg, nil)

	_, err := b.Execute(context.Background(), `while true do end`)
	assert.ErrorIs(t, err, scripting.ErrTimeout)
}

func TestBridge_GlobalsDoNotLeak(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)

	run(t, b, `x = 5 _G.y = 6 print = nil`)
	assert.Equal(t, "nil nil\n", run(t, b, `print(x, y)`))
}

func TestBridge_LibraryTablesDoNotLeak(t *testing.T) {
	dir := writeTempLua(t, map[string]string{
		"lib.lua": `util = { name = "util" }`,
	})
	cfg := testScriptingConfig()
	cfg.Dir = dir
	b, _, _ := newTestBridge(t, cfg, nil)

	run(t, b, `
		string.upper = function() return "patched" end
		math.floor = nil
		table.insert = nil
		util.name = "patched"
	`)
	assert.Equal(t, "HI HI 2 util\n", run(t, b, `
		local t = {}
		table.insert(t, 1)
		print(string.upper("hi"), ("hi"):upper(), math.floor(2.5), util.name)
	`))
}

func TestBridge_PatchedLibraryVisibleWithinCall(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	assert.Equal(t, "patched\n", run(t, b, `
		string.upper = function() return "patched" end
		print(string.upper("hi"))
	`))
}

func TestBridge_EnvironmentMetatableLocked(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)

	assert.Equal(t, "locked\n", run(t, b, `print(getmetatable(_G))`))
	_, err := b.Execute(context.Background(), `setmetatable(_G, {})`)
	assert.Error(t, err)
}

func TestBridge_SandboxedGlobals(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	assert.Equal(t, "nil nil nil nil nil\n", run(t, b, `print(os, io, dofile, require, loadstring)`))
}

func TestBridge_LoadsScriptDir(t *testing.T) {
	dir := writeTempLua(t, map[string]string{
		"01_helpers.lua": `function greet(name) Note("hello " .. name) end`,
		"02_bad.lua":     `error("broken")`,
		"03_more.lua":    `answer = 42`,
		"notes.txt":      `not lua`,
	})
	cfg := testScriptingConfig()
	cfg.Dir = dir
	b, buf, logs := newTestBridge(t, cfg, nil)

	warns := logs.FilterMessage("scripting: skipping script").All()
	require.Len(t, warns, 1)
	assert.Equal(t, filepath.Join(dir, "02_bad.lua"), warns[0].ContextMap()["path"])

	before := buf.Len()
	out := run(t, b, `greet("bob") print(answer)`)
	assert.Equal(t, "hello bob\n42\n", out)
	assert.Equal(t, before+2, buf.Len())
}

func TestBridge_MissingScriptDirIsNotFatal(t *testing.T) {
	cfg := testScriptingConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "missing")
	b, _, logs := newTestBridge(t, cfg, nil)
	assert.Equal(t, 1, logs.FilterMessage("scripting: no script directory").Len())
	assert.Equal(t, "ok\n", run(t, b, `print("ok")`))
}

func TestBridge_LoadDirUnreadable(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	assert.Error(t, b.LoadDir(filepath.Join(t.TempDir(), "missing")))
}

func TestBridge_ResetDropsLoadedDefinitions(t *testing.T) {
	base := writeTempLua(t, map[string]string{"base.lua": `function base() return "base" end`})
	extra := writeTempLua(t, map[string]string{"extra.lua": `function extra() return "extra" end`})
	cfg := testScriptingConfig()
	cfg.Dir = base
	b, _, _ := newTestBridge(t, cfg, nil)

	require.NoError(t, b.LoadDir(extra))
	assert.Equal(t, "base extra\n", run(t, b, `print(base(), extra())`))

	require.NoError(t, b.Reset())
	assert.Equal(t, "base nil\n", run(t, b, `print(base(), extra)`))
}

func TestBridge_Closed(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	b.Close()
	_, err := b.Execute(context.Background(), `print("x")`)
	assert.ErrorIs(t, err, scripting.ErrClosed)
	assert.ErrorIs(t, b.LoadDir(t.TempDir()), scripting.ErrClosed)
}

// Property: assignments made by one script are never visible to the next.
func TestProperty_ScriptGlobalsIsolated(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.SampledFrom([]string{"alpha", "beta", "score", "hp", "target"}).Draw(rt, "name")
		value := rapid.IntRange(-1000, 1000).Draw(rt, "value")
		if _, err := b.Execute(context.Background(), fmt.Sprintf("%s = %d", name, value)); err != nil {
			rt.Fatalf("assign: %v", err)
		}
		out, err := b.Execute(context.Background(), fmt.Sprintf("print(%s)", name))
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if out != "nil\n" {
			rt.Fatalf("global %s leaked: %q", name, out)
		}

		lib := rapid.SampledFrom([]string{"string", "math", "table"}).Draw(rt, "lib")
		if _, err := b.Execute(context.Background(), fmt.Sprintf("%s.%s = %d", lib, name, value)); err != nil {
			rt.Fatalf("patch %s: %v", lib, err)
		}
		out, err = b.Execute(context.Background(), fmt.Sprintf("print(%s.%s)", lib, name))
		if err != nil {
			rt.Fatalf("read %s: %v", lib, err)
		}
		if out != "nil\n" {
			rt.Fatalf("%s.%s leaked: %q", lib, name, out)
		}
	})
}

// Property: a colour name produced by RGBColourToName resolves back to the
// same value.
func TestProperty_ColourNameRoundTrip(t *testing.T) {
	b, _, _ := newTestBridge(t, testScriptingConfig(), nil)
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 0xFFFFFF).Draw(rt, "rgb")
		out, err := b.Execute(context.Background(), fmt.Sprintf(`
			local name = RGBColourToName(%d)
			if string.sub(name, 1, 4) == "rgb(" then
				print(true)
			else
				print(ColourNameToRGB(name) == %d)
			end
		`, n, n))
		if err != nil {
			rt.Fatalf("execute: %v", err)
		}
		if out != "true\n" {
			rt.Fatalf("round trip failed for %06x", n)
		}
	})
}
