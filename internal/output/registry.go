// Package output tracks the outputs advertised by the compositor and their
// gamma-control sessions. All methods must be called from the goroutine
// that owns the compositor connection.
package output

import (
	"sort"

	"codeberg.org/mutker/waysn/internal/colortemp"
	"codeberg.org/mutker/waysn/internal/gamma"
	"codeberg.org/mutker/waysn/internal/logger"
)

// Registry maps output identities to sessions. Sessions are created and
// removed only by registry events.
type Registry struct {
	proto       Protocol
	log         logger.Logger
	sessions    map[uint32]*Session
	byOutput    map[Handle]uint32
	byControl   map[Handle]uint32
	manager     Handle
	managerName uint32
}

func NewRegistry(proto Protocol, log logger.Logger) *Registry {
	return &Registry{
		proto:     proto,
		log:       log,
		sessions:  make(map[uint32]*Session),
		byOutput:  make(map[Handle]uint32),
		byControl: make(map[Handle]uint32),
	}
}

// Handle applies one compositor event. Events that refer to objects the
// registry no longer tracks are ignored.
func (r *Registry) Handle(ev Event) {
	switch ev := ev.(type) {
	case Global:
		r.handleGlobal(ev)
	case GlobalRemove:
		r.handleGlobalRemove(ev)
	case OutputName:
		if s := r.byHandle(r.byOutput, ev.Output); s != nil {
			s.Name = ev.Name
			r.log.Debug().Uint32("output", s.ID).Str("name", ev.Name).Msg("Output named")
		}
	case GammaSize:
		if s := r.byHandle(r.byControl, ev.Control); s != nil && s.RampSize == 0 {
			s.RampSize = ev.Size
			r.log.Debug().Uint32("output", s.ID).Uint32("ramp_size", ev.Size).Msg("Gamma size negotiated")
		}
	case GammaFailed:
		r.handleGammaFailed(ev)
	}
}

func (r *Registry) handleGlobal(ev Global) {
	switch ev.Interface {
	case InterfaceOutput:
		if _, exists := r.sessions[ev.Name]; exists {
			return
		}
		out := r.proto.BindOutput(ev.Name, ev.Version)
		s := newSession(ev.Name, out)
		r.sessions[ev.Name] = s
		r.byOutput[out] = ev.Name
		r.log.Debug().Uint32("output", ev.Name).Uint32("version", ev.Version).Msg("Output added")
		r.negotiate(s)

	case InterfaceGammaManager:
		if r.manager != 0 {
			return
		}
		r.manager = r.proto.BindManager(ev.Name, ev.Version)
		r.managerName = ev.Name
		r.log.Debug().Uint32("global", ev.Name).Msg("Gamma control manager bound")
		for _, s := range r.sorted() {
			r.negotiate(s)
		}
	}
}

func (r *Registry) handleGlobalRemove(ev GlobalRemove) {
	if s, ok := r.sessions[ev.Name]; ok {
		r.releaseControl(s)
		r.proto.ReleaseOutput(s.Output)
		delete(r.byOutput, s.Output)
		delete(r.sessions, ev.Name)
		r.log.Info().Uint32("output", s.ID).Str("name", s.Name).Msg("Output removed")
		return
	}

	if r.manager != 0 && ev.Name == r.managerName {
		// Controls created by the manager stay valid on their own.
		r.proto.DestroyManager(r.manager)
		r.manager = 0
		r.managerName = 0
		r.log.Warn().Msg("Gamma control manager withdrawn by compositor")
	}
}

func (r *Registry) handleGammaFailed(ev GammaFailed) {
	s := r.byHandle(r.byControl, ev.Control)
	if s == nil {
		return
	}

	r.releaseControl(s)
	r.log.Warn().Uint32("output", s.ID).Str("name", s.Name).Msg("Gamma control is no longer valid")
}

// negotiate creates the gamma control for s once both the manager and the
// output are known. It is a no-op when s already has one.
func (r *Registry) negotiate(s *Session) {
	if s.Control != 0 || r.manager == 0 {
		return
	}

	s.Control = r.proto.GetGammaControl(r.manager, s.Output)
	r.byControl[s.Control] = s.ID
}

func (r *Registry) releaseControl(s *Session) {
	if s.Control == 0 {
		return
	}

	r.proto.DestroyGammaControl(s.Control)
	delete(r.byControl, s.Control)
	s.Control = 0
}

func (r *Registry) byHandle(index map[Handle]uint32, h Handle) *Session {
	id, ok := index[h]
	if !ok {
		return nil
	}

	return r.sessions[id]
}

func (r *Registry) sorted() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// matching returns the sessions selected by filter in identity order. An
// empty filter selects every session.
func (r *Registry) matching(filter []string) []*Session {
	all := r.sorted()
	if len(filter) == 0 {
		return all
	}

	names := make(map[string]struct{}, len(filter))
	for _, name := range filter {
		names[name] = struct{}{}
	}

	out := all[:0]
	for _, s := range all {
		if _, ok := names[s.Label()]; ok {
			out = append(out, s)
		}
	}

	return out
}

// Apply submits a ramp for kelvin and gamma to every matched session that
// has finished negotiation, and returns the labels of the sessions it
// updated. Sessions still negotiating are skipped. The first transfer
// failure is returned immediately.
func (r *Registry) Apply(filter []string, kelvin uint32, g float32) ([]string, error) {
	rgb := colortemp.FromKelvin(kelvin)

	var updated []string
	for _, s := range r.matching(filter) {
		if !s.Ready() {
			r.log.Debug().Uint32("output", s.ID).Msg("Skipping output without negotiated gamma control")
			continue
		}

		f, err := gamma.NewRampFile(gamma.Build(s.RampSize, rgb, float64(g)))
		if err != nil {
			return updated, err
		}
		if err := r.proto.SetGamma(s.Control, f); err != nil {
			return updated, err
		}

		s.Kelvin = kelvin
		s.Gamma = g
		updated = append(updated, s.Label())
	}

	return updated, nil
}

// Query returns the state of every matched session, negotiated or not.
func (r *Registry) Query(filter []string) map[string]State {
	out := make(map[string]State)
	for _, s := range r.matching(filter) {
		out[s.Label()] = s.State()
	}

	return out
}

// Sessions returns a snapshot of all sessions in identity order.
func (r *Registry) Sessions() []Session {
	all := r.sorted()
	out := make([]Session, len(all))
	for i, s := range all {
		out[i] = *s
	}

	return out
}

// HasManager reports whether the gamma-control manager is bound.
func (r *Registry) HasManager() bool {
	return r.manager != 0
}

// Close destroys every gamma control, which hands the ramps back to the
// compositor, and releases all outputs and the manager.
func (r *Registry) Close() {
	for _, s := range r.sorted() {
		r.releaseControl(s)
		r.proto.ReleaseOutput(s.Output)
		delete(r.byOutput, s.Output)
		delete(r.sessions, s.ID)
	}

	if r.manager != 0 {
		r.proto.DestroyManager(r.manager)
		r.manager = 0
		r.managerName = 0
	}
}
