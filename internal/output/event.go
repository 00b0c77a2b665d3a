package output

// Event is one compositor notification relevant to output sessions. The
// set of variants is closed.
type Event interface {
	isEvent()
}

// Global announces a registry global.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalRemove withdraws a registry global.
type GlobalRemove struct {
	Name uint32
}

// OutputName reports the human readable name of a bound output.
type OutputName struct {
	Output Handle
	Name   string
}

// GammaSize reports the ramp size supported by a gamma control.
type GammaSize struct {
	Control Handle
	Size    uint32
}

// GammaFailed reports that a gamma control is no longer valid.
type GammaFailed struct {
	Control Handle
}

func (Global) isEvent()       {}
func (GlobalRemove) isEvent() {}
func (OutputName) isEvent()   {}
func (GammaSize) isEvent()    {}
func (GammaFailed) isEvent()  {}
