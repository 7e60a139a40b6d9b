package testutil

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"
)

// MUDServer is a single-connection fake Telnet host for integration tests.
// It accepts one client, lets the test push raw bytes to it and records
// everything the client sends.
type MUDServer struct {
	ln       net.Listener
	accepted chan net.Conn
	conn     net.Conn
	received bytes.Buffer
	t        *testing.T
}

// NewMUDServer listens on an ephemeral loopback port.
//
// Postcondition: Returns a listening server or fails the test. The server
// is closed by t.Cleanup.
func NewMUDServer(t *testing.T) *MUDServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s := &MUDServer{ln: ln, accepted: make(chan net.Conn, 1), t: t}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(s.accepted)
			return
		}
		s.accepted <- conn
	}()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening IP address.
func (s *MUDServer) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *MUDServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns "host:port".
func (s *MUDServer) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// Accept waits for the client connection.
//
// Postcondition: The client is connected or the test fails.
func (s *MUDServer) Accept(timeout time.Duration) {
	s.t.Helper()
	if s.conn != nil {
		return
	}
	select {
	case conn, ok := <-s.accepted:
		if !ok {
			s.t.Fatalf("listener closed before a client connected")
		}
		s.conn = conn
	case <-time.After(timeout):
		s.t.Fatalf("no client connected within %s", timeout)
	}
}

// Write sends raw bytes to the client.
//
// Precondition: Accept must have returned.
func (s *MUDServer) Write(p []byte) {
	s.t.Helper()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := s.conn.Write(p); err != nil {
		s.t.Fatalf("writing %q: %v", p, err)
	}
}

// ReadUntil reads from the client until want appears in everything received
// so far, and returns the accumulated bytes.
//
// Precondition: want must be non-empty and Accept must have returned.
// Postcondition: Returns the received bytes containing want, or fails on timeout.
func (s *MUDServer) ReadUntil(want []byte, timeout time.Duration) []byte {
	s.t.Helper()
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	tmp := make([]byte, 1024)
	for !bytes.Contains(s.received.Bytes(), want) {
		n, err := s.conn.Read(tmp)
		if n > 0 {
			s.received.Write(tmp[:n])
			continue
		}
		if err != nil {
			s.t.Fatalf("reading until %q: got %q, error: %v", want, s.received.Bytes(), err)
		}
	}
	return s.received.Bytes()
}

// Hangup closes the client connection, leaving the listener open.
func (s *MUDServer) Hangup() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// Close shuts down the connection and the listener.
func (s *MUDServer) Close() {
	s.Hangup()
	s.ln.Close()
}
