package telnet

import "sort"

// DefaultTerminalType is announced in response to TTYPE SEND.
const DefaultTerminalType = "xterm-256color"

type optState int

const (
	optNo optState = iota
	optWantYes
	optYes
)

// Negotiator implements the client's option policy. It tracks the state of
// each option on both sides (a reduced RFC 1143 "Q method") so that repeated
// requests never produce a negotiation loop.
//
// Policy: the client offers TTYPE itself, lets the server perform ECHO, SGA
// and EOR, and refuses everything else.
type Negotiator struct {
	terminalType string
	local        map[byte]optState // options this side performs
	remote       map[byte]optState // options the server performs
}

// NewNegotiator creates a Negotiator that reports terminalType on request.
// An empty terminalType selects DefaultTerminalType.
func NewNegotiator(terminalType string) *Negotiator {
	if terminalType == "" {
		terminalType = DefaultTerminalType
	}
	return &Negotiator{
		terminalType: terminalType,
		local:        make(map[byte]optState),
		remote:       make(map[byte]optState),
	}
}

func supportedLocal(opt byte) bool {
	return opt == OptTerminalType
}

func supportedRemote(opt byte) bool {
	switch opt {
	case OptEcho, OptSuppressGoAhead, OptEndOfRecord:
		return true
	}
	return false
}

// Start returns the negotiation the client volunteers on connect.
func (n *Negotiator) Start() []byte {
	if n.local[OptTerminalType] != optNo {
		return nil
	}
	n.local[OptTerminalType] = optWantYes
	return []byte{IAC, WILL, OptTerminalType}
}

// Handle returns the reply bytes for a protocol event, or nil if none is due.
func (n *Negotiator) Handle(ev Event) []byte {
	switch ev.Kind {
	case EventNegotiation:
		switch ev.Command {
		case DO:
			return n.onDo(ev.Option)
		case DONT:
			return n.onDont(ev.Option)
		case WILL:
			return n.onWill(ev.Option)
		case WONT:
			return n.onWont(ev.Option)
		}
	case EventSubnegotiation:
		if ev.Option == OptTerminalType && len(ev.Data) > 0 && ev.Data[0] == TTypeSend &&
			n.local[OptTerminalType] == optYes {
			return n.terminalTypeReply()
		}
	}
	return nil
}

func (n *Negotiator) onDo(opt byte) []byte {
	switch n.local[opt] {
	case optYes:
		return nil
	case optWantYes:
		n.local[opt] = optYes
		return nil
	}
	if supportedLocal(opt) {
		n.local[opt] = optYes
		return []byte{IAC, WILL, opt}
	}
	return []byte{IAC, WONT, opt}
}

func (n *Negotiator) onDont(opt byte) []byte {
	switch n.local[opt] {
	case optYes:
		n.local[opt] = optNo
		return []byte{IAC, WONT, opt}
	case optWantYes:
		n.local[opt] = optNo
	}
	return nil
}

func (n *Negotiator) onWill(opt byte) []byte {
	switch n.remote[opt] {
	case optYes:
		return nil
	case optWantYes:
		n.remote[opt] = optYes
		return nil
	}
	if supportedRemote(opt) {
		n.remote[opt] = optYes
		return []byte{IAC, DO, opt}
	}
	return []byte{IAC, DONT, opt}
}

func (n *Negotiator) onWont(opt byte) []byte {
	switch n.remote[opt] {
	case optYes:
		n.remote[opt] = optNo
		return []byte{IAC, DONT, opt}
	case optWantYes:
		n.remote[opt] = optNo
	}
	return nil
}

func (n *Negotiator) terminalTypeReply() []byte {
	out := []byte{IAC, SB, OptTerminalType, TTypeIs}
	out = append(out, EscapeIAC([]byte(n.terminalType))...)
	return append(out, IAC, SE)
}

// RemoteEcho reports whether the server has taken over echoing, which MUDs
// use to hide password input.
func (n *Negotiator) RemoteEcho() bool {
	return n.remote[OptEcho] == optYes
}

// Options returns the options currently enabled on either side, sorted.
func (n *Negotiator) Options() []byte {
	seen := make(map[byte]bool)
	for opt, st := range n.local {
		if st == optYes {
			seen[opt] = true
		}
	}
	for opt, st := range n.remote {
		if st == optYes {
			seen[opt] = true
		}
	}
	out := make([]byte, 0, len(seen))
	for opt := range seen {
		out = append(out, opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
