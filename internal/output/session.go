package output

import (
	"fmt"

	"codeberg.org/mutker/waysn/internal/colortemp"
	"codeberg.org/mutker/waysn/internal/gamma"
)

const (
	DefaultKelvin = colortemp.NeutralKelvin
	DefaultGamma  = float32(gamma.DefaultGamma)
)

// Session is the daemon's view of one output.
type Session struct {
	ID       uint32
	Name     string
	RampSize uint32
	Output   Handle
	Control  Handle
	Kelvin   uint32
	Gamma    float32
}

func newSession(id uint32, out Handle) *Session {
	return &Session{
		ID:     id,
		Output: out,
		Kelvin: DefaultKelvin,
		Gamma:  DefaultGamma,
	}
}

// Ready reports whether a ramp can be submitted to the session.
func (s *Session) Ready() bool {
	return s.Control != 0 && s.RampSize > 0
}

// Label is the name used in query results; outputs that have not reported
// a name yet are labelled by identity.
func (s *Session) Label() string {
	if s.Name != "" {
		return s.Name
	}

	return fmt.Sprintf("wl_output-%d", s.ID)
}

// State returns the last applied values.
func (s *Session) State() State {
	return State{Kelvin: s.Kelvin, Gamma: s.Gamma}
}
