// Package gcode stitches single-tool pcb2gcode toolpath files into one
// program that shares a single machine setup and finishing sequence.
package gcode

import "strings"

// RetractMarker ends the initialization block of a pcb2gcode file.
const RetractMarker = "(Retract to tool change height)"

// State is a position of the segment scanner.
type State int

const (
	StateInit State = iota
	StateToolChange
	StateMilling
	StateFinish
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateToolChange:
		return "toolChange"
	case StateMilling:
		return "milling"
	case StateFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// Segment names the group a line is appended to. Segments and states share
// the same four values.
type Segment = State

// Step advances the scanner by one line. It returns the next state and the
// segment the line belongs to.
func Step(s State, line string) (State, Segment) {
	switch s {
	case StateInit:
		if strings.Contains(line, RetractMarker) {
			return StateToolChange, StateInit
		}
		return StateInit, StateInit
	case StateToolChange:
		if strings.HasPrefix(line, "M3") {
			return StateMilling, StateMilling
		}
		return StateToolChange, StateToolChange
	case StateMilling:
		if strings.HasPrefix(line, "M5") {
			return StateFinish, StateFinish
		}
		return StateMilling, StateMilling
	default:
		return StateFinish, StateFinish
	}
}

// Program is one toolpath file partitioned into its four segments.
type Program struct {
	Init       []string
	ToolChange []string
	Milling    []string
	Finish     []string
}

// Len is the total number of lines across all segments.
func (p Program) Len() int {
	return len(p.Init) + len(p.ToolChange) + len(p.Milling) + len(p.Finish)
}

// Split partitions content line by line. Lines keep their exact text; a file
// without markers stays in the segment that was active at the end.
func Split(content string) Program {
	var p Program
	state := StateInit
	for _, line := range strings.Split(content, "\n") {
		var seg Segment
		state, seg = Step(state, line)
		switch seg {
		case StateInit:
			p.Init = append(p.Init, line)
		case StateToolChange:
			p.ToolChange = append(p.ToolChange, line)
		case StateMilling:
			p.Milling = append(p.Milling, line)
		default:
			p.Finish = append(p.Finish, line)
		}
	}
	return p
}
