// Package ansi decodes ANSI SGR colour sequences into styled text runs and
// provides the colour table shared by the transport and scripting layers.
package ansi

import (
	"fmt"
	"strconv"
)

// ANSI escape code constants for terminal styling.
const (
	Reset = "\033[0m"

	// Foreground colors
	Black   = "\033[0;30m"
	Red     = "\033[0;31m"
	Green   = "\033[0;32m"
	Yellow  = "\033[0;33m"
	Blue    = "\033[0;34m"
	Magenta = "\033[0;35m"
	Cyan    = "\033[0;36m"
	White   = "\033[0;37m"

	// Bright foreground colors
	BrightBlack   = "\033[1;30m"
	BrightRed     = "\033[1;31m"
	BrightGreen   = "\033[1;32m"
	BrightYellow  = "\033[1;33m"
	BrightBlue    = "\033[1;34m"
	BrightMagenta = "\033[1;35m"
	BrightCyan    = "\033[1;36m"
	BrightWhite   = "\033[1;37m"
)

// Sequence returns the SGR escape for a numeric parameter, e.g. 31 -> "\033[31m".
func Sequence(code int) string {
	return "\033[" + strconv.Itoa(code) + "m"
}

// Xterm returns the SGR escape selecting entry n of the 256-colour palette.
func Xterm(n int) string {
	return fmt.Sprintf("\033[38;5;%dm", n)
}

// Colorize wraps text with the given ANSI color code and a reset suffix.
//
// Precondition: color must be a valid ANSI escape sequence.
// Postcondition: Returns text wrapped with the color code and Reset.
func Colorize(color, text string) string {
	return color + text + Reset
}

// Colorf wraps a formatted string with the given ANSI color code.
func Colorf(color, format string, args ...interface{}) string {
	return color + fmt.Sprintf(format, args...) + Reset
}

// StripANSI removes CSI escape sequences from a string.
// An unterminated sequence at the end of s is dropped.
//
// Postcondition: Returns text with all \033[... sequences removed.
func StripANSI(s string) string {
	result := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		if s[i] == '\033' {
			if i+1 < len(s) && s[i+1] == '[' {
				// Skip past the final byte
				j := i + 2
				for j < len(s) && (s[j] < 0x40 || s[j] > 0x7E) {
					j++
				}
				i = j + 1
				continue
			}
			i++
			continue
		}
		result = append(result, s[i])
		i++
	}
	return string(result)
}
