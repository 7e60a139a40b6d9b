// Package telnet implements the client side of the Telnet protocol: a
// resumable IAC parser, option negotiation and a non-blocking transport that
// feeds decoded text into the scrollback.
package telnet

import "fmt"

// Telnet IAC (Interpret As Command) constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	GA   byte = 249 // Go Ahead
	NOP  byte = 241
	SE   byte = 240 // Sub-negotiation End
	EOR  byte = 239 // End of Record (RFC 885)

	// Telnet options
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptTerminalType    byte = 24
	OptEndOfRecord     byte = 25
	OptNAWS            byte = 31
	OptLinemode        byte = 34

	// Terminal-type sub-negotiation verbs (RFC 1091)
	TTypeIs   byte = 0
	TTypeSend byte = 1
)

// maxSubnegotiation bounds a buffered SB payload; the excess is discarded.
const maxSubnegotiation = 1024

// EventKind classifies a parsed protocol event.
type EventKind int

const (
	// EventData carries plain payload bytes for the escape decoder.
	EventData EventKind = iota
	// EventNegotiation is WILL, WONT, DO or DONT with an option byte.
	EventNegotiation
	// EventSubnegotiation carries an option and its SB payload.
	EventSubnegotiation
	// EventCommand is any other two-byte command such as GA or NOP.
	EventCommand
)

// Event is one unit of parser output.
type Event struct {
	Kind    EventKind
	Command byte
	Option  byte
	Data    []byte
}

// String implements fmt.Stringer for log fields.
func (e Event) String() string {
	switch e.Kind {
	case EventData:
		return fmt.Sprintf("data(%d)", len(e.Data))
	case EventNegotiation:
		return fmt.Sprintf("%s %s", CommandName(e.Command), OptionName(e.Option))
	case EventSubnegotiation:
		return fmt.Sprintf("SB %s (%d)", OptionName(e.Option), len(e.Data))
	default:
		return CommandName(e.Command)
	}
}

// CommandName returns a readable name for a command byte.
func CommandName(b byte) string {
	switch b {
	case WILL:
		return "WILL"
	case WONT:
		return "WONT"
	case DO:
		return "DO"
	case DONT:
		return "DONT"
	case SB:
		return "SB"
	case SE:
		return "SE"
	case GA:
		return "GA"
	case NOP:
		return "NOP"
	case EOR:
		return "EOR"
	default:
		return fmt.Sprintf("CMD(%d)", b)
	}
}

// OptionName returns a readable name for an option byte.
func OptionName(b byte) string {
	switch b {
	case OptEcho:
		return "ECHO"
	case OptSuppressGoAhead:
		return "SGA"
	case OptTerminalType:
		return "TTYPE"
	case OptEndOfRecord:
		return "EOR"
	case OptNAWS:
		return "NAWS"
	case OptLinemode:
		return "LINEMODE"
	default:
		return fmt.Sprintf("OPT(%d)", b)
	}
}

type parserState int

const (
	psData parserState = iota
	psIAC
	psOption // after WILL/WONT/DO/DONT
	psSBOption
	psSB
	psSBIAC
)

// Parser splits an inbound Telnet byte stream into events. It keeps its
// state between Parse calls, so a command split across two reads is
// reassembled. A Parser is not safe for concurrent use.
type Parser struct {
	state  parserState
	cmd    byte
	option byte
	sb     []byte
}

// Parse consumes in and returns the events it completes. Consecutive plain
// bytes are grouped into one EventData; an escaped IAC IAC becomes a
// literal 0xFF in the data.
func (p *Parser) Parse(in []byte) []Event {
	var events []Event
	var data []byte

	flushData := func() {
		if len(data) > 0 {
			events = append(events, Event{Kind: EventData, Data: data})
			data = nil
		}
	}

	command := func(b byte) {
		switch b {
		case IAC:
			data = append(data, IAC)
			p.state = psData
		case WILL, WONT, DO, DONT:
			p.cmd = b
			p.state = psOption
		case SB:
			p.state = psSBOption
		default:
			flushData()
			events = append(events, Event{Kind: EventCommand, Command: b})
			p.state = psData
		}
	}

	for _, b := range in {
		switch p.state {
		case psData:
			if b == IAC {
				p.state = psIAC
				continue
			}
			data = append(data, b)

		case psIAC:
			command(b)

		case psOption:
			flushData()
			events = append(events, Event{Kind: EventNegotiation, Command: p.cmd, Option: b})
			p.state = psData

		case psSBOption:
			p.option = b
			p.sb = p.sb[:0]
			p.state = psSB

		case psSB:
			if b == IAC {
				p.state = psSBIAC
				continue
			}
			if len(p.sb) < maxSubnegotiation {
				p.sb = append(p.sb, b)
			}

		case psSBIAC:
			switch b {
			case SE:
				flushData()
				payload := make([]byte, len(p.sb))
				copy(payload, p.sb)
				events = append(events, Event{Kind: EventSubnegotiation, Command: SB, Option: p.option, Data: payload})
				p.sb = p.sb[:0]
				p.state = psData
			case IAC:
				if len(p.sb) < maxSubnegotiation {
					p.sb = append(p.sb, IAC)
				}
				p.state = psSB
			default:
				// malformed: abandon the sub-negotiation and treat the byte
				// as the command that interrupted it
				p.sb = p.sb[:0]
				command(b)
			}
		}
	}
	flushData()
	return events
}

// Idle reports whether the parser sits between commands.
func (p *Parser) Idle() bool {
	return p.state == psData
}

// FilterIAC removes Telnet IAC sequences from raw input bytes.
// This is a pure function useful for testing and protocol parsing.
//
// Postcondition: Returns input with all IAC sequences removed.
func FilterIAC(input []byte) []byte {
	var p Parser
	result := make([]byte, 0, len(input))
	for _, ev := range p.Parse(input) {
		if ev.Kind == EventData {
			result = append(result, ev.Data...)
		}
	}
	return result
}

// EscapeIAC doubles every 0xFF in p so it is sent as literal data.
func EscapeIAC(p []byte) []byte {
	n := 0
	for _, b := range p {
		if b == IAC {
			n++
		}
	}
	if n == 0 {
		return p
	}
	out := make([]byte, 0, len(p)+n)
	for _, b := range p {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}
