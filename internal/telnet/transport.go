package telnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/config"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

// handle is the live connection. It exists only between a successful
// Connect and the matching Disconnect or connection loss.
type handle struct {
	id   uuid.UUID
	addr string
	sock Socket
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the TCP dialer, typically with a fake in tests.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dial = d
	}
}

// WithResolver replaces host name resolution.
func WithResolver(r func(ctx context.Context, host string) ([]string, error)) Option {
	return func(t *Transport) {
		t.resolve = r
	}
}

// Transport connects to a MUD, answers option negotiation and turns the
// inbound stream into styled lines appended to a scrollback buffer.
//
// All methods are expected to run on one goroutine (the poll loop); the
// scrollback buffer is the only state shared with readers.
type Transport struct {
	cfg     config.ConnectionConfig
	logger  *zap.Logger
	buf     *scrollback.Buffer
	dial    Dialer
	resolve func(ctx context.Context, host string) ([]string, error)

	conn       *handle
	parser     Parser
	negotiator *Negotiator
	decoder    *ansi.Decoder
	lines      ansi.LineBuilder

	// pending holds unsent buffers in FIFO order; frontSent marks that a
	// prefix of the front buffer is already on the wire. pending[:ctrlEnd]
	// are negotiation replies (plus a partly sent buffer ahead of them).
	pending   [][]byte
	frontSent bool
	ctrlEnd   int
	writeErr  error

	readBuf []byte
}

// NewTransport creates a disconnected Transport appending to buf.
//
// Precondition: buf and logger must be non-nil.
// Postcondition: Returns a Transport ready for Connect.
func NewTransport(cfg config.ConnectionConfig, buf *scrollback.Buffer, logger *zap.Logger, opts ...Option) *Transport {
	size := cfg.ReadBufferSize
	if size <= 0 {
		size = 8192
	}
	t := &Transport{
		cfg:     cfg,
		logger:  logger,
		buf:     buf,
		dial:    NetDialer(cfg.DialTimeout, cfg.PollWindow),
		resolve: net.DefaultResolver.LookupHost,
		decoder: ansi.NewDecoder(ansi.DefaultTable),
		readBuf: make([]byte, size),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.negotiator = NewNegotiator(cfg.TerminalType)
	return t
}

// Buffer returns the scrollback the transport appends to.
func (t *Transport) Buffer() *scrollback.Buffer {
	return t.buf
}

// IsConnected reports whether a connection handle is present.
func (t *Transport) IsConnected() bool {
	return t.conn != nil
}

// Options returns the Telnet options currently enabled.
func (t *Transport) Options() []byte {
	return t.negotiator.Options()
}

// RemoteEcho reports whether the server echoes input.
func (t *Transport) RemoteEcho() bool {
	return t.conn != nil && t.negotiator.RemoteEcho()
}

// Pending returns the number of buffers waiting to be written.
func (t *Transport) Pending() int {
	return len(t.pending)
}

// Connect resolves host, dials its first address and performs the opening
// negotiation. An existing connection is replaced only once the new dial
// succeeds.
//
// Postcondition: On success IsConnected is true. Errors wrap
// ErrInvalidAddress, ErrConnectFailed or ErrIOSetupFailed, and leave any
// existing connection untouched.
func (t *Transport) Connect(ctx context.Context, host string, port int) error {
	if host == "" || port < 1 || port > 65535 {
		return fmt.Errorf("%w: %q port %d", ErrInvalidAddress, host, port)
	}

	addrs, err := t.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrInvalidAddress, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s has no addresses", ErrInvalidAddress, host)
	}
	addr := net.JoinHostPort(addrs[0], strconv.Itoa(port))

	sock, err := t.dial(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrIOSetupFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
	}
	t.drop("reconnect")

	t.conn = &handle{id: uuid.New(), addr: addr, sock: sock}
	t.parser = Parser{}
	t.negotiator = NewNegotiator(t.cfg.TerminalType)
	t.decoder.Reset()
	t.lines = ansi.LineBuilder{}
	t.writeErr = nil

	t.logger.Info("connected",
		zap.String("conn_id", t.conn.id.String()),
		zap.String("host", host),
		zap.String("addr", addr),
	)

	t.queueControl(t.negotiator.Start())
	if err := t.Flush(); err != nil {
		t.logger.Warn("sending opening negotiation",
			zap.String("conn_id", t.conn.id.String()),
			zap.Error(err),
		)
	}
	return nil
}

// Disconnect closes the connection and discards unsent data. It is a no-op
// when not connected.
func (t *Transport) Disconnect() {
	t.drop("disconnect")
}

func (t *Transport) drop(reason string) {
	if t.conn == nil {
		return
	}
	var bytes int
	for _, p := range t.pending {
		bytes += len(p)
	}
	fields := []zap.Field{
		zap.String("conn_id", t.conn.id.String()),
		zap.String("reason", reason),
		zap.Int("discarded_buffers", len(t.pending)),
		zap.Int("discarded_bytes", bytes),
	}
	if err := t.conn.sock.Close(); err != nil {
		fields = append(fields, zap.Error(err))
	}
	t.logger.Info("disconnected", fields...)

	// keep any unterminated text the server already sent
	if line, ok := t.lines.Flush(); ok {
		t.buf.Append(line)
	}
	t.conn = nil
	t.pending = nil
	t.frontSent = false
	t.ctrlEnd = 0
	t.writeErr = nil
}

// Send queues a copy of p and writes as much of the queue as the socket
// accepts without blocking.
//
// Postcondition: Returns ErrNotConnected without a connection, an error
// wrapping ErrConnectionLost on a hard write failure, or nil. Data that
// would block stays queued and is not an error.
func (t *Transport) Send(p []byte) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if len(p) == 0 {
		return nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	t.pending = append(t.pending, cp)
	return t.Flush()
}

// SendLine sends s terminated by CRLF with literal 0xFF bytes escaped.
func (t *Transport) SendLine(s string) error {
	p := EscapeIAC([]byte(s))
	return t.Send(append(p[:len(p):len(p)], '\r', '\n'))
}

// queueControl places a negotiation reply ahead of user data that has not
// started going out, behind replies queued earlier.
func (t *Transport) queueControl(p []byte) {
	if len(p) == 0 {
		return
	}
	at := t.ctrlEnd
	if t.frontSent && at == 0 {
		at = 1
	}
	t.pending = append(t.pending, nil)
	copy(t.pending[at+1:], t.pending[at:])
	t.pending[at] = p
	t.ctrlEnd = at + 1
}

// Flush writes queued buffers in order until the queue is empty or the
// socket would block.
func (t *Transport) Flush() error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	for len(t.pending) > 0 {
		front := t.pending[0]
		n, err := t.conn.sock.Write(front)
		if n > 0 {
			front = front[n:]
			t.pending[0] = front
			t.frontSent = true
		}
		if len(front) == 0 {
			t.pending[0] = nil
			t.pending = t.pending[1:]
			t.frontSent = false
			if t.ctrlEnd > 0 {
				t.ctrlEnd--
			}
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			t.writeErr = fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
			return t.writeErr
		}
		if n == 0 && len(front) > 0 {
			// no progress without an error; try again next poll
			return nil
		}
	}
	return nil
}

// PollOnce performs one non-blocking read, answers negotiation and appends
// every completed line to the buffer. It never waits longer than the poll
// window.
//
// Postcondition: Returns the number of lines appended. A lost connection
// is reported once with an error wrapping ErrConnectionLost; later calls
// return ErrNotConnected.
func (t *Transport) PollOnce() (int, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	if err := t.Flush(); err != nil {
		t.drop("write failed")
		return 0, err
	}

	n, err := t.conn.sock.Read(t.readBuf)
	appended := 0
	if n > 0 {
		appended = t.process(t.readBuf[:n])
	}
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return appended, nil
		}
		reason := "read failed"
		if errors.Is(err, io.EOF) {
			reason = "closed by remote"
		}
		t.drop(reason)
		return appended, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	if n == 0 {
		return 0, nil
	}

	if err := t.Flush(); err != nil {
		t.drop("write failed")
		return appended, err
	}
	return appended, nil
}

func (t *Transport) process(data []byte) int {
	appended := 0
	for _, ev := range t.parser.Parse(data) {
		switch ev.Kind {
		case EventData:
			lines := t.lines.Push(t.decoder.Feed(ev.Data))
			t.buf.AppendAll(lines)
			appended += len(lines)
		case EventNegotiation, EventSubnegotiation:
			reply := t.negotiator.Handle(ev)
			t.logger.Debug("negotiation",
				zap.String("conn_id", t.conn.id.String()),
				zap.Stringer("event", ev),
				zap.Int("reply_bytes", len(reply)),
			)
			t.queueControl(reply)
		case EventCommand:
			if ev.Command == GA || ev.Command == EOR {
				appended += t.flushPartial()
			}
		}
	}
	if t.cfg.FlushPartial && t.parser.Idle() {
		appended += t.flushPartial()
	}
	return appended
}

func (t *Transport) flushPartial() int {
	line, ok := t.lines.Flush()
	if !ok {
		return 0
	}
	t.buf.Append(line)
	return 1
}
