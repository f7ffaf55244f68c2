package models

import "strings"

// Signal is the change detector's verdict, exchanged between processes as one
// line on the detector's stdout.
type Signal string

const (
	SignalChanged   Signal = "YES_CHANGED"
	SignalUnchanged Signal = "NO_CHANGED"
	SignalError     Signal = "ERROR"
)

// String returns the wire token
func (s Signal) String() string {
	return string(s)
}

// Valid reports whether s is one of the three protocol tokens
func (s Signal) Valid() bool {
	switch s {
	case SignalChanged, SignalUnchanged, SignalError:
		return true
	}
	return false
}

// ParseSignal extracts the signal from captured detector output. Only the last
// non-empty line counts and it must match a token exactly (surrounding
// whitespace ignored). ok is false for anything else.
func ParseSignal(output string) (Signal, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		signal := Signal(line)
		return signal, signal.Valid()
	}
	return "", false
}
