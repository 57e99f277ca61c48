package netmux

import "errors"

// Construction-time errors (spec §7 tier 1): surfaced directly as typed
// I/O errors from Connect/Listen. No resource is registered on failure.
var (
	// ErrInvalidRemoteAddr is returned when a RemoteAddr's URL cannot be
	// parsed or resolved by the target adapter.
	ErrInvalidRemoteAddr = errors.New("netmux: invalid remote address")
)
