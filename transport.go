package netmux

// Transport enumerates the adapter ids the bundled adapters (see the
// adapters/ package) are conventionally mounted under. Applications are
// free to mount their own adapters under other ids; these are only
// conventional names. The adapters/* constructors take no id, and Mount
// uses whatever id its caller passes.
type Transport uint8

const (
	// TransportTCP is the raw byte-stream adapter (adapters/tcp).
	TransportTCP Transport = iota
	// TransportFramedTCP is the length-prefixed framing adapter
	// (adapters/framedtcp).
	TransportFramedTCP
	// TransportUDP is the datagram adapter (adapters/udp).
	TransportUDP
	// TransportWS is the WebSocket adapter (adapters/ws).
	TransportWS
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportFramedTCP:
		return "framed-tcp"
	case TransportUDP:
		return "udp"
	case TransportWS:
		return "ws"
	default:
		return "unknown"
	}
}

// ConnectionOriented reports whether the built-in transport is stream
// (connection-oriented) or datagram.
func (t Transport) ConnectionOriented() bool {
	return t != TransportUDP
}
