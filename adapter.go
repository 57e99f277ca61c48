package netmux

import "net"

// ReadStatus is the outcome of one adapter Remote.Receive drain cycle.
type ReadStatus int

const (
	// WaitNextEvent means the drain loop hit WouldBlock; wait for the
	// next readiness notification.
	WaitNextEvent ReadStatus = iota
	// Disconnected means the peer closed the connection or a fatal I/O
	// error occurred; the resource must be removed.
	Disconnected
)

// SendStatusKind enumerates the possible outcomes of Send.
type SendStatusKind int

const (
	// Sent indicates the payload was written (or, for a framed adapter
	// mid-handshake, queued for delivery once the handshake completes).
	Sent SendStatusKind = iota
	// MaxPacketSizeExceeded means data exceeded the adapter's protocol
	// limit. The resource is left untouched and stays alive.
	MaxPacketSizeExceeded
	// ResourceNotFound means the target resource id is stale.
	ResourceNotFound
	// ResourceNotAvailable means the resource exists but cannot currently
	// accept a send (e.g. it is mid-teardown).
	ResourceNotAvailable
)

// SendStatus is the status-coded (never an error) result of Send: per
// spec §7, "send never throws; it returns a status."
type SendStatus struct {
	Kind SendStatusKind
	Size int // populated for MaxPacketSizeExceeded
	Max  int // populated for MaxPacketSizeExceeded
}

// SentStatus is the common "Sent" result.
func SentStatus() SendStatus { return SendStatus{Kind: Sent} }

// TooLargeStatus builds a MaxPacketSizeExceeded result.
func TooLargeStatus(size, max int) SendStatus {
	return SendStatus{Kind: MaxPacketSizeExceeded, Size: size, Max: max}
}

// NotFoundStatus builds a ResourceNotFound result.
func NotFoundStatus() SendStatus { return SendStatus{Kind: ResourceNotFound} }

// NotAvailableStatus builds a ResourceNotAvailable result.
func NotAvailableStatus() SendStatus { return SendStatus{Kind: ResourceNotAvailable} }

// RemoteAddr is the address an adapter connects to: either a plain socket
// address, or (for URL-addressed protocols like WebSocket) a scheme+path
// string the adapter resolves itself.
type RemoteAddr struct {
	socket net.Addr
	url    string
	isURL  bool
}

// SocketRemoteAddr builds a RemoteAddr from a resolved socket address.
func SocketRemoteAddr(addr net.Addr) RemoteAddr { return RemoteAddr{socket: addr} }

// URLRemoteAddr builds a RemoteAddr from a scheme-qualified string
// (e.g. "ws://host:port/path").
func URLRemoteAddr(s string) RemoteAddr { return RemoteAddr{url: s, isURL: true} }

// IsURL reports whether this RemoteAddr carries a URL string rather than
// a resolved socket address.
func (r RemoteAddr) IsURL() bool { return r.isURL }

// Socket returns the resolved socket address form.
func (r RemoteAddr) Socket() net.Addr { return r.socket }

// URL returns the URL string form.
func (r RemoteAddr) URL() string { return r.url }

// Resource is anything an adapter's Local/Remote can expose a readiness
// source for: a raw, already-non-blocking file descriptor the poller can
// register.
type Resource interface {
	FD() int
}

// RemoteResource is a connected peer resource. Receive and Send may be
// called concurrently from the I/O thread and the application thread
// respectively: implementations must serialize internally (a per-resource
// lock) and release it before invoking the process-data callback, so the
// callback may itself call Send re-entrantly on the same resource.
type RemoteResource interface {
	Resource

	// PeerAddr returns the remote socket address this resource talks to.
	PeerAddr() net.Addr

	// Receive drains readable data, invoking processData once per
	// decoded application payload, until WouldBlock or disconnection.
	Receive(processData func(data []byte)) ReadStatus

	// Send writes data, transparently retrying a partial/WouldBlock
	// write using the protocol's own resumption primitive.
	Send(data []byte) SendStatus

	// HasPending reports whether a previous Send left unwritten bytes
	// buffered (WouldBlock), in which case the driver prioritizes
	// draining them over new reads on the next write-readiness wakeup —
	// the same ordering discipline as the teacher's reactor_linux.go
	// ("don't change the ordering of processing EPOLLOUT/EPOLLIN").
	HasPending() bool

	// FlushPending retries writing buffered bytes. done is true once
	// nothing remains buffered.
	FlushPending() (done bool, err error)

	// Close releases the underlying socket. Called once, by the
	// register, when the resource is removed.
	Close() error
}

// LocalResource is a bound listener (stream adapters) or a bound
// receiving socket (datagram adapters).
type LocalResource interface {
	Resource

	// Accept drains the OS accept queue (stream adapters) or incoming
	// datagrams (datagram adapters), invoking acceptRemote once per
	// accepted peer or received datagram, until WouldBlock.
	Accept(acceptRemote func(AcceptedType))

	// Close releases the underlying socket.
	Close() error
}

// AcceptedKind discriminates the two things Local.Accept can yield.
type AcceptedKind int

const (
	// AcceptedRemote is a newly accepted connection (stream adapters).
	AcceptedRemote AcceptedKind = iota
	// AcceptedData is a received datagram (datagram adapters).
	AcceptedData
)

// AcceptedType is one item yielded by Local.Accept.
type AcceptedType struct {
	Kind     AcceptedKind
	Addr     net.Addr
	Resource RemoteResource // set when Kind == AcceptedRemote
	Data     []byte         // set when Kind == AcceptedData
}

// ConnectionInfo is returned by Adapter.Connect: the newly created Remote
// resource plus the local/peer addresses the connect attempt resolved to.
type ConnectionInfo struct {
	Remote   RemoteResource
	LocalAddr net.Addr
	PeerAddr  net.Addr
}

// ListeningInfo is returned by Adapter.Listen: the newly bound Local
// resource plus the actual bound address (important when the caller asked
// for an ephemeral port).
type ListeningInfo struct {
	Local     LocalResource
	LocalAddr net.Addr
}

// Adapter is the contract each transport satisfies. An Adapter value is
// itself stateless: it is a factory for the Remote/Local resources the
// engine registers and drives.
type Adapter interface {
	// Name identifies the adapter for logging/diagnostics.
	Name() string

	// ConnectionOriented reports whether resources from this adapter are
	// connection-oriented (stream adapters) or not (datagram adapters).
	// NetworkEngine.EndpointFromListener is only valid for a non-connection-oriented
	// adapter.
	ConnectionOriented() bool

	// Connect synchronously establishes (or, for framed protocols,
	// begins) a connection to remote. Handshakes that cannot complete
	// synchronously must leave the resource in its own pending state and
	// complete it on subsequent readiness.
	Connect(remote RemoteAddr) (ConnectionInfo, error)

	// Listen binds addr and returns the actual bound address.
	Listen(addr net.Addr) (ListeningInfo, error)
}
