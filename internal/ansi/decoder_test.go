package ansi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var red = RGB(255, 0, 0)

func run(text string, c Color) Token {
	return Token{Run: Run{Text: text, Foreground: c}}
}

var lineBreak = Token{Break: true}

func TestDecoder_ColorThenReset(t *testing.T) {
	d := NewDecoder(nil)
	got := d.Feed([]byte("\x1b[1;31mHELLO\x1b[0mWORLD\n"))
	assert.Equal(t, []Token{
		run("HELLO", red),
		run("WORLD", DefaultForeground),
		lineBreak,
	}, got)
	assert.Equal(t, StateNormal, d.State())
}

func TestDecoder_CarriageReturnIgnored(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("one\r\ntwo\r\n"))
	assert.Equal(t, []Token{
		run("one", DefaultForeground), lineBreak,
		run("two", DefaultForeground), lineBreak,
	}, got)
}

func TestDecoder_PlainTextFlushedAtEndOfFeed(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("prompt> "))
	assert.Equal(t, []Token{run("prompt> ", DefaultForeground)}, got)
}

func TestDecoder_SequenceSplitAcrossFeeds(t *testing.T) {
	var d Decoder
	first := d.Feed([]byte("a\x1b[1;3"))
	assert.Equal(t, []Token{run("a", DefaultForeground)}, first)
	assert.Equal(t, StateParsing, d.State())

	second := d.Feed([]byte("1mb"))
	assert.Equal(t, []Token{run("b", red)}, second)
	assert.Equal(t, StateNormal, d.State())
}

func TestDecoder_EscapeWithoutBracketDropsByte(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("x\x1bQy"))
	assert.Equal(t, []Token{run("x", DefaultForeground), run("y", DefaultForeground)}, got)
}

func TestDecoder_NonSGRSequenceDiscarded(t *testing.T) {
	var d Decoder
	got := Coalesce(d.Feed([]byte("a\x1b[2Jb\x1b[?25hc\x1b[10;5Hd")))
	assert.Equal(t, []Token{run("abcd", DefaultForeground)}, got)
	assert.Equal(t, StateNormal, d.State())
}

func TestDecoder_ColorPersistsAcrossFeeds(t *testing.T) {
	var d Decoder
	d.Feed([]byte("\x1b[0;32m"))
	got := d.Feed([]byte("still green\n"))
	assert.Equal(t, []Token{run("still green", RGB(0, 128, 0)), lineBreak}, got)
}

func TestDecoder_UnknownCodeIsWhite(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("\x1b[1;31mred\x1b[99;99mwhite"))
	assert.Equal(t, []Token{run("red", red), run("white", DefaultForeground)}, got)
}

func TestDecoder_CompoundCodesOutsideTableAreWhite(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("\x1b[1;31ma\x1b[0;1;31mb\x1b[1;31mc\x1b[31;1md\x1b[38;2;10;20;30me"))
	assert.Equal(t, []Token{
		run("a", red),
		run("b", DefaultForeground),
		run("c", red),
		run("d", DefaultForeground),
		run("e", DefaultForeground),
	}, got)
}

func TestDecoder_TableEntriesResolveExactly(t *testing.T) {
	for code, want := range map[string]Color{
		"0;31":     RGB(128, 0, 0),
		"0;37":     RGB(192, 192, 192),
		"1;30":     RGB(128, 128, 128),
		"1;33":     RGB(255, 255, 0),
		"38;5;208": RGB(255, 102, 0),
		"0":        DefaultForeground,
	} {
		var d Decoder
		got := d.Feed([]byte("\x1b[" + code + "mx"))
		require.Len(t, got, 1, code)
		assert.Equal(t, want, got[0].Foreground, code)
	}
}

func TestDecoder_ControlBytesNotEchoed(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte("a\x07b\x00c\td"))
	assert.Equal(t, []Token{run("abc\td", DefaultForeground)}, got)
}

func TestDecoder_OverlongParametersAbandoned(t *testing.T) {
	var d Decoder
	input := "\x1b["
	for i := 0; i < 100; i++ {
		input += "1"
	}
	d.Feed([]byte(input))
	assert.Equal(t, StateNormal, d.State())
}

func TestDecoder_UTF8RuneSplitAcrossFeeds(t *testing.T) {
	var d Decoder
	b := []byte("café\n")
	first := d.Feed(b[:4]) // "caf" plus the first byte of é
	second := d.Feed(b[4:])
	assert.Equal(t, []Token{run("caf", DefaultForeground)}, first)
	assert.Equal(t, []Token{run("é", DefaultForeground), lineBreak}, second)
}

func TestDecoder_Reset(t *testing.T) {
	var d Decoder
	d.Feed([]byte("\x1b[1;31m\x1b[12"))
	require.Equal(t, StateParsing, d.State())
	d.Reset()
	assert.Equal(t, StateNormal, d.State())
	assert.Equal(t, DefaultForeground, d.Foreground())
}

func TestDecodeLines_IncludesTrailingPartial(t *testing.T) {
	lines := DecodeLines("\x1b[1;34mblue\x1b[0m text\nlast")
	require.Len(t, lines, 2)
	assert.Equal(t, Line{{Text: "blue", Foreground: RGB(0, 0, 255)}, {Text: " text", Foreground: DefaultForeground}}, lines[0])
	assert.Equal(t, "last", lines[1].Text())
}

func TestLineBuilder_MergesSameColour(t *testing.T) {
	var lb LineBuilder
	assert.Empty(t, lb.Push([]Token{run("ab", red)}))
	lines := lb.Push([]Token{run("cd", red), lineBreak})
	require.Len(t, lines, 1)
	assert.Equal(t, Line{{Text: "abcd", Foreground: red}}, lines[0])
	assert.False(t, lb.Pending())
}

func TestLineBuilder_EmptyLine(t *testing.T) {
	var lb LineBuilder
	lines := lb.Push([]Token{lineBreak})
	require.Len(t, lines, 1)
	assert.Empty(t, lines[0])
	_, ok := lb.Flush()
	assert.False(t, ok)
}

// Property: Feed terminates on arbitrary bytes and leaves the decoder in a
// state from which a terminator returns it to Normal.
func TestPropertyDecoderNeverStuck(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOf(rapid.Byte()).Draw(t, "input")
		var d Decoder
		assert.NotPanics(t, func() { d.Feed(input) })
		d.Feed([]byte("m"))
		d.Feed([]byte("x"))
		assert.Equal(t, StateNormal, d.State())
	})
}

// Property: decoded text never contains ESC or other C0 controls besides TAB.
func TestPropertyDecoderNoControlBytesInOutput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := rapid.SliceOf(rapid.Byte()).Draw(t, "input")
		var d Decoder
		for _, tok := range d.Feed(input) {
			for _, r := range tok.Text {
				if r < 0x20 {
					assert.Equal(t, '\t', r, "unexpected control rune %q", r)
				}
			}
		}
	})
}

// sgrStream generates well-formed text interleaved with SGR sequences.
func sgrStream() *rapid.Generator[[]byte] {
	piece := rapid.OneOf(
		rapid.StringMatching(`[a-zA-Z0-9 .,:!]{1,12}`),
		rapid.SampledFrom([]string{"\x1b[0m", "\x1b[1;31m", "\x1b[0;32m", "\x1b[38;5;208m", "\x1b[99;99m", "\x1b[2J", "\n", "\r\n", "é", "→"}),
	)
	return rapid.Custom(func(t *rapid.T) []byte {
		var out []byte
		for _, p := range rapid.SliceOfN(piece, 0, 30).Draw(t, "pieces") {
			out = append(out, p...)
		}
		return out
	})
}

// Property: splitting input at any point yields the same coalesced output as
// feeding it whole.
func TestPropertyDecoderChunkingEquivalence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		input := sgrStream().Draw(t, "input")
		split := rapid.IntRange(0, len(input)).Draw(t, "split")

		var whole Decoder
		want := Coalesce(whole.Feed(input))

		var chunked Decoder
		got := append(chunked.Feed(input[:split]), chunked.Feed(input[split:])...)
		assert.Equal(t, want, Coalesce(got))
	})
}
