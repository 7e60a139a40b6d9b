// Package client ties the transport, the scrollback and the scripting bridge
// into the session a front end drives: it dispatches typed input and pumps
// the connection on every tick.
package client

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/config"
	"github.com/cory-johannsen/mudforge/internal/scripting"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
	"github.com/cory-johannsen/mudforge/internal/telnet"
)

// Conn is the transport surface a Session needs.
type Conn interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect()
	Send(p []byte) error
	SendLine(s string) error
	PollOnce() (int, error)
	IsConnected() bool
	RemoteEcho() bool
}

// Scripts executes user scripts.
type Scripts interface {
	Execute(ctx context.Context, source string) (string, error)
	Reset() error
}

// ErrUsage is returned for a malformed or unknown client command.
var ErrUsage = errors.New("invalid client command")

// Session is the single-threaded owner of one client connection. All
// methods must be called from the goroutine that runs Tick.
type Session struct {
	buf     *scrollback.Buffer
	conn    Conn
	scripts Scripts
	logger  *zap.Logger

	prefix  string
	echoFG  ansi.Color
	errorFG ansi.Color
	world   *config.World
	quit    bool
}

// NewSession creates a Session.
//
// Precondition: all arguments must be non-nil.
// Postcondition: Returns a Session that is not connected.
func NewSession(buf *scrollback.Buffer, conn Conn, scripts Scripts, cfg config.Config, logger *zap.Logger) *Session {
	return &Session{
		buf:     buf,
		conn:    conn,
		scripts: scripts,
		logger:  logger,
		prefix:  cfg.Scripting.Prefix,
		echoFG:  resolve(cfg.Display.EchoColour, ansi.RGB(255, 255, 0)),
		errorFG: resolve(cfg.Display.ErrorColour, ansi.RGB(255, 0, 0)),
	}
}

func resolve(name string, def ansi.Color) ansi.Color {
	if c, ok := ansi.DefaultTable.ResolveName(name); ok {
		return c
	}
	return def
}

// AppendLine adds a line to the scrollback.
func (s *Session) AppendLine(line ansi.Line) {
	s.buf.Append(line)
}

// ReadLines yields the scrollback lines in [from, to).
func (s *Session) ReadLines(from, to int) iter.Seq[ansi.Line] {
	return s.buf.ReadRange(from, to)
}

// Len returns the number of scrollback lines.
func (s *Session) Len() int {
	return s.buf.Len()
}

// SendRaw queues bytes for the MUD without any line framing.
func (s *Session) SendRaw(p []byte) error {
	return s.conn.Send(p)
}

// IsConnected reports whether the session has a live connection.
func (s *Session) IsConnected() bool {
	return s.conn.IsConnected()
}

// Quit reports whether the user asked to leave.
func (s *Session) Quit() bool {
	return s.quit
}

// Connect opens a connection and reports the outcome in the scrollback.
func (s *Session) Connect(ctx context.Context, host string, port int) error {
	s.notice(fmt.Sprintf("Connecting to %s:%d...", host, port))
	if err := s.conn.Connect(ctx, host, port); err != nil {
		s.fail(fmt.Sprintf("Connect failed: %v", err))
		return err
	}
	s.notice(fmt.Sprintf("Connected to %s:%d.", host, port))
	return nil
}

// ConnectWorld connects to a world profile and sends its login commands.
func (s *Session) ConnectWorld(ctx context.Context, w config.World) error {
	s.world = &w
	if err := s.Connect(ctx, w.Host, w.Port); err != nil {
		return err
	}
	for _, cmd := range w.OnConnect {
		if err := s.conn.SendLine(cmd); err != nil {
			s.fail(fmt.Sprintf("Send failed: %v", err))
			return err
		}
	}
	return nil
}

// Disconnect closes the connection, if any.
func (s *Session) Disconnect() {
	if !s.conn.IsConnected() {
		return
	}
	s.conn.Disconnect()
	s.notice("Disconnected.")
}

// ExecuteScript runs Lua source. Failures are written to the scrollback in
// the error colour and returned.
func (s *Session) ExecuteScript(ctx context.Context, source string) (string, error) {
	out, err := s.scripts.Execute(ctx, source)
	if err != nil {
		s.fail(err.Error())
	}
	return out, err
}

// Submit dispatches one line of user input: script prefix lines run as
// Lua, '#' lines are client commands, anything else goes to the MUD.
func (s *Session) Submit(ctx context.Context, input string) error {
	switch {
	case s.prefix != "" && strings.HasPrefix(input, s.prefix):
		_, err := s.ExecuteScript(ctx, strings.TrimPrefix(input, s.prefix))
		return err
	case strings.HasPrefix(input, "#"):
		return s.command(ctx, strings.Fields(input))
	}

	if !s.conn.IsConnected() {
		s.fail("Not connected.")
		return telnet.ErrNotConnected
	}
	// with remote echo on the server is hiding input, typically a password
	if !s.conn.RemoteEcho() {
		s.buf.AppendRun(input, s.echoFG)
	}
	if err := s.conn.SendLine(input); err != nil {
		s.fail(fmt.Sprintf("Send failed: %v", err))
		return err
	}
	return nil
}

func (s *Session) command(ctx context.Context, args []string) error {
	switch args[0] {
	case "#connect":
		if len(args) == 1 && s.world != nil {
			return s.ConnectWorld(ctx, *s.world)
		}
		if len(args) != 3 {
			s.fail("Usage: #connect <host> <port>")
			return ErrUsage
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			s.fail(fmt.Sprintf("Invalid port %q.", args[2]))
			return ErrUsage
		}
		return s.Connect(ctx, args[1], port)
	case "#disconnect":
		s.Disconnect()
		return nil
	case "#reload":
		if err := s.scripts.Reset(); err != nil {
			s.fail(fmt.Sprintf("Reload failed: %v", err))
			return err
		}
		s.notice("Scripts reloaded.")
		return nil
	case "#quit":
		s.Disconnect()
		s.quit = true
		return nil
	}
	s.fail(fmt.Sprintf("Unknown command %s.", args[0]))
	return ErrUsage
}

// Tick pumps the connection once. A lost connection is reported in the
// scrollback and is not returned as an error.
//
// Postcondition: Returns the number of lines the transport appended.
func (s *Session) Tick() (int, error) {
	if !s.conn.IsConnected() {
		return 0, nil
	}
	n, err := s.conn.PollOnce()
	if err != nil {
		if errors.Is(err, telnet.ErrConnectionLost) {
			s.logger.Warn("connection lost", zap.Error(err))
			s.fail("Connection lost.")
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (s *Session) notice(text string) {
	s.buf.AppendRun(text, ansi.DefaultForeground)
}

func (s *Session) fail(text string) {
	s.buf.AppendRun(text, s.errorFG)
}

var (
	_ Conn    = (*telnet.Transport)(nil)
	_ Scripts = (*scripting.Bridge)(nil)
)
