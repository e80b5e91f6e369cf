package pty

import (
	"fmt"
)

// QueryKind enumerates the terminal query escape sequences a Terminal
// recognises and answers on the PTY's behalf. The agent process
// running inside the sandbox has no real display to query, so
// something has to impersonate one whenever it asks where the cursor
// is or what kind of terminal it's talking to.
type QueryKind int

const (
	QueryCursorPosition QueryKind = iota
	QueryDeviceAttributesPrimary
	QueryDeviceAttributesSecondary
)

type eventKind int

const (
	eventOutput eventKind = iota
	eventQuery
)

// TerminalEvent is either a run of bytes destined for the screen grid
// or a recognised query escape sequence with no grid effect of its
// own, awaiting a synthesised response.
type TerminalEvent struct {
	kind  eventKind
	data  []byte
	query QueryKind
}

// maxPendingQuery bounds how long QueryParser will wait for a CSI
// sequence to complete before giving up and forwarding the partial
// bytes as plain output; a well-formed query is a handful of bytes,
// so anything longer is not one.
const maxPendingQuery = 64

// QueryParser splits a raw PTY output stream into screen output and
// query escape sequences, holding a partial CSI sequence across calls
// when one lands on a read boundary.
type QueryParser struct {
	pending []byte
}

// Parse scans data and returns one event per contiguous output run
// and per recognised query, in the order encountered.
func (p *QueryParser) Parse(data []byte) []TerminalEvent {
	input := data
	if len(p.pending) > 0 {
		input = append(append([]byte{}, p.pending...), data...)
		p.pending = nil
	}

	var events []TerminalEvent
	var out []byte
	flushOutput := func() {
		if len(out) > 0 {
			events = append(events, TerminalEvent{kind: eventOutput, data: out})
			out = nil
		}
	}

	i := 0
	for i < len(input) {
		b := input[i]
		if b != 0x1b {
			out = append(out, b)
			i++
			continue
		}

		// Only CSI ('[') sequences ever carry a recognised query; any
		// other escape is forwarded verbatim for the screen grid to
		// interpret on its own.
		if i+1 >= len(input) {
			flushOutput()
			p.pending = append(p.pending, input[i:]...)
			i = len(input)
			break
		}
		if input[i+1] != '[' {
			out = append(out, input[i], input[i+1])
			i += 2
			continue
		}

		end := findCSIEnd(input, i+2)
		if end < 0 {
			if len(input)-i > maxPendingQuery {
				out = append(out, input[i:]...)
				i = len(input)
				break
			}
			flushOutput()
			p.pending = append(p.pending, input[i:]...)
			i = len(input)
			break
		}

		params := string(input[i+2 : end])
		final := input[end]
		if query, ok := classifyQuery(params, final); ok {
			flushOutput()
			events = append(events, TerminalEvent{kind: eventQuery, query: query})
		} else {
			out = append(out, input[i:end+1]...)
		}
		i = end + 1
	}
	flushOutput()
	return events
}

// findCSIEnd returns the index of the final byte (0x40-0x7e) of a CSI
// sequence starting the search at from, or -1 if input ends before
// one is found.
func findCSIEnd(input []byte, from int) int {
	for j := from; j < len(input); j++ {
		if input[j] >= 0x40 && input[j] <= 0x7e {
			return j
		}
	}
	return -1
}

// classifyQuery recognises the query-class CSI finals: `n` (Device
// Status Report, only the cursor-position request) and `c` (Device
// Attributes, primary and secondary forms).
func classifyQuery(params string, final byte) (QueryKind, bool) {
	switch final {
	case 'n':
		if params == "6" {
			return QueryCursorPosition, true
		}
	case 'c':
		switch params {
		case "", "0":
			return QueryDeviceAttributesPrimary, true
		case ">", ">0":
			return QueryDeviceAttributesSecondary, true
		}
	}
	return 0, false
}

// buildQueryResponse synthesises the escape sequence a real terminal
// would send back for query, given the screen's current 1-indexed
// cursor position.
func buildQueryResponse(query QueryKind, row, col int) []byte {
	switch query {
	case QueryCursorPosition:
		return []byte(fmt.Sprintf("\x1b[%d;%dR", row, col))
	case QueryDeviceAttributesPrimary:
		// VT100 with Advanced Video Option.
		return []byte("\x1b[?1;2c")
	case QueryDeviceAttributesSecondary:
		return []byte("\x1b[>1;10;0c")
	default:
		return nil
	}
}
