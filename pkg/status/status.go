// Package status defines the signal phase shared by the signal, runner and progress packages.
package status

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPhase is returned when parsing a name that is not a phase.
var ErrUnknownPhase = errors.New("unknown phase")

// Phase is the state of a traffic signal. the zero value is PhaseRed.
type Phase int

// Phase constants, the only two states a signal can be in.
const (
	PhaseRed   Phase = iota // traffic must stop
	PhaseGreen              // traffic may pass
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseRed:
		return "red"
	case PhaseGreen:
		return "green"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	return p == PhaseRed || p == PhaseGreen
}

// Next returns the phase a signal moves to from p: green after red, red after green.
func (p Phase) Next() Phase {
	if p == PhaseRed {
		return PhaseGreen
	}
	return PhaseRed
}

// ParsePhase converts "red" or "green" (any case, surrounding spaces ignored) to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return PhaseRed, nil
	case "green":
		return PhaseGreen, nil
	default:
		return PhaseRed, fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
