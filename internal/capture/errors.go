package capture

import "errors"

// Error taxonomy for discovery and session lifecycle failures.
// Platform errors are wrapped so errors.Is matches both the sentinel and the cause.
var (
	// ErrPermissionDenied is returned when the OS refuses screen recording
	ErrPermissionDenied = errors.New("screen capture permission denied")

	// ErrPlatformUnsupported is returned when the platform lacks discovery/streaming
	ErrPlatformUnsupported = errors.New("screen capture not supported on this platform")

	// ErrNoSurfaceAvailable is returned when discovery yields no displays
	ErrNoSurfaceAvailable = errors.New("no capturable surface available")

	// ErrStreamStart is returned when the platform rejects a stream start
	ErrStreamStart = errors.New("failed to start capture stream")

	// ErrStreamRuntime is reported when a live stream fails
	ErrStreamRuntime = errors.New("capture stream failed")

	// ErrStartTimeout is returned when start acknowledgment does not arrive in time
	ErrStartTimeout = errors.New("timed out waiting for capture stream to start")

	// ErrInvalidConfiguration is returned for malformed Start arguments
	ErrInvalidConfiguration = errors.New("invalid capture configuration")

	// ErrSessionUsed is returned when Start is called on a session that already left Idle
	ErrSessionUsed = errors.New("capture session already started")
)
