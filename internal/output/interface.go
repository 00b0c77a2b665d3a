package output

import "os"

// Handle is a compositor-side object handle. Zero means no object.
type Handle uint32

// Interface names that the registry reacts to.
const (
	InterfaceOutput       = "wl_output"
	InterfaceGammaManager = "zwlr_gamma_control_manager_v1"
)

// Protocol issues the compositor requests the registry needs. It is
// implemented over the Wayland connection by the compositor package.
type Protocol interface {
	// BindOutput binds the output global advertised under name.
	BindOutput(name, version uint32) Handle
	// BindManager binds the gamma-control manager global.
	BindManager(name, version uint32) Handle
	// GetGammaControl creates a gamma-control session for output.
	GetGammaControl(manager, output Handle) Handle
	// SetGamma submits a ramp file to a gamma control. The protocol owns
	// f and closes it after the request has been written.
	SetGamma(control Handle, f *os.File) error
	DestroyGammaControl(control Handle)
	ReleaseOutput(output Handle)
	DestroyManager(manager Handle)
}

// State is the last applied temperature and gamma of one output.
type State struct {
	Kelvin uint32
	Gamma  float32
}
