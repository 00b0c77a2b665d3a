package wayland

// Interface names as advertised by wl_registry.global.
const (
	InterfaceDisplay             = "wl_display"
	InterfaceRegistry            = "wl_registry"
	InterfaceCallback            = "wl_callback"
	InterfaceOutput              = "wl_output"
	InterfaceGammaControlManager = "zwlr_gamma_control_manager_v1"
	InterfaceGammaControl        = "zwlr_gamma_control_v1"
)

// DisplayID is the fixed id of the wl_display singleton.
const DisplayID ObjectID = 1

// wl_display
const (
	DisplaySync        uint16 = 0
	DisplayGetRegistry uint16 = 1

	DisplayEventError    uint16 = 0
	DisplayEventDeleteID uint16 = 1
)

// wl_registry
const (
	RegistryBind uint16 = 0

	RegistryEventGlobal       uint16 = 0
	RegistryEventGlobalRemove uint16 = 1
)

// wl_callback
const (
	CallbackEventDone uint16 = 0
)

// wl_output
const (
	OutputRelease uint16 = 0

	OutputEventGeometry    uint16 = 0
	OutputEventMode        uint16 = 1
	OutputEventDone        uint16 = 2
	OutputEventScale       uint16 = 3
	OutputEventName        uint16 = 4
	OutputEventDescription uint16 = 5

	// OutputReleaseSince is the first wl_output version with release.
	OutputReleaseSince = 3
	// OutputNameSince is the first wl_output version with the name event.
	OutputNameSince = 4
)

// zwlr_gamma_control_manager_v1
const (
	GammaManagerGetGammaControl uint16 = 0
	GammaManagerDestroy         uint16 = 1
)

// zwlr_gamma_control_v1
const (
	GammaControlSetGamma uint16 = 0
	GammaControlDestroy  uint16 = 1

	GammaControlEventGammaSize uint16 = 0
	GammaControlEventFailed    uint16 = 1
)
