package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// DefaultPollWindow is how long a socket operation may wait for readiness
// before reporting ErrWouldBlock.
const DefaultPollWindow = time.Millisecond

// Socket is a byte stream with non-blocking semantics. Read and Write
// return ErrWouldBlock instead of waiting; Write may accept a prefix of p
// before doing so.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Dialer opens a Socket to a resolved "ip:port" address.
type Dialer func(ctx context.Context, addr string) (Socket, error)

// netSocket adapts a net.Conn to Socket using near-immediate deadlines, so
// no call parks the caller for longer than the poll window.
type netSocket struct {
	conn   net.Conn
	window time.Duration
}

// NetDialer returns a Dialer that opens TCP connections with the given
// connect timeout and poll window.
func NetDialer(timeout, window time.Duration) Dialer {
	return func(ctx context.Context, addr string) (Socket, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		sock, err := newNetSocket(conn, window)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return sock, nil
	}
}

func newNetSocket(conn net.Conn, window time.Duration) (*netSocket, error) {
	if window <= 0 {
		window = DefaultPollWindow
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			return nil, fmt.Errorf("%w: disabling Nagle: %v", ErrIOSetupFailed, err)
		}
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: clearing deadlines: %v", ErrIOSetupFailed, err)
	}
	return &netSocket{conn: conn, window: window}, nil
}

func (s *netSocket) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.window)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrWouldBlock
	}
	return n, err
}

func (s *netSocket) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.window)); err != nil {
		return 0, err
	}
	n, err := s.conn.Write(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrWouldBlock
	}
	return n, err
}

func (s *netSocket) Close() error {
	return s.conn.Close()
}
