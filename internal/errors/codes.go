package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig      ErrorCode = "invalid_configuration"
	ErrMissingEnvironment ErrorCode = "missing_environment"
	ErrBindFlags          ErrorCode = "bind_flags_failed"
	ErrReadConfig         ErrorCode = "read_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrBindSocket     ErrorCode = "bind_socket_failed"

	// Resource errors
	ErrResourceExhausted ErrorCode = "resource_exhausted"

	// Local channel errors
	ErrFrameTooLarge ErrorCode = "frame_too_large"
	ErrDecodeFailed  ErrorCode = "decode_failed"
	ErrEncodeFailed  ErrorCode = "encode_failed"
	ErrUnknownKind   ErrorCode = "unknown_message_kind"

	// Compositor errors
	ErrCompositorIO           ErrorCode = "compositor_io_failed"
	ErrCompositorProtocol     ErrorCode = "compositor_protocol_error"
	ErrCompositorDisconnected ErrorCode = "compositor_disconnected"
	ErrMissingGlobal          ErrorCode = "compositor_missing_global"

	// Application errors
	ErrInitApp   ErrorCode = "init_app_failed"
	ErrMainLoop  ErrorCode = "main_loop_failed"
	ErrApplyRamp ErrorCode = "apply_ramp_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// History errors
	ErrInitHistory   ErrorCode = "init_history_failed"
	ErrRecordHistory ErrorCode = "record_history_failed"
	ErrCloseHistory  ErrorCode = "close_history_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrInvalidArgument:        "Invalid argument provided",
	ErrUnavailable:            "Service unavailable",
	ErrInvalidConfig:          "Invalid configuration",
	ErrMissingEnvironment:     "Missing environment variable",
	ErrBindFlags:              "Failed to bind flags",
	ErrReadConfig:             "Failed to read config file",
	ErrInvalidLogLevel:        "Invalid log level",
	ErrInitFailed:             "Initialization failed",
	ErrShutdownFailed:         "Shutdown failed",
	ErrAlreadyRunning:         "Another daemon instance is already running",
	ErrBindSocket:             "Failed to bind command socket",
	ErrResourceExhausted:      "Resource exhausted",
	ErrFrameTooLarge:          "Frame exceeds maximum size",
	ErrDecodeFailed:           "Failed to decode message",
	ErrEncodeFailed:           "Failed to encode message",
	ErrUnknownKind:            "Unknown message kind",
	ErrCompositorIO:           "Compositor I/O failed",
	ErrCompositorProtocol:     "Compositor reported a protocol error",
	ErrCompositorDisconnected: "Compositor closed the connection",
	ErrMissingGlobal:          "Compositor does not advertise a required global",
	ErrInitApp:                "Failed to initialize application",
	ErrMainLoop:               "Error in main loop",
	ErrApplyRamp:              "Failed to apply gamma ramp",
	ErrTimeout:                "Operation timed out",
	ErrInitHistory:            "Failed to initialize history",
	ErrRecordHistory:          "Failed to record history",
	ErrCloseHistory:           "Failed to close history",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
