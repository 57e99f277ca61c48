package netmux

import (
	"fmt"
	"net"
)

// Endpoint identifies an application-visible peer: a ResourceID plus the
// peer's socket address. For connection-oriented adapters, endpoints are
// only ever constructed by the engine, at connect/accept time. For
// connectionless adapters (e.g. UDP), applications may build one from a
// Local listener's resource id plus an arbitrary peer address, to send
// datagrams without a prior connection.
type Endpoint struct {
	resourceID ResourceID
	addr       net.Addr
}

func newEndpoint(id ResourceID, addr net.Addr) Endpoint {
	return Endpoint{resourceID: id, addr: addr}
}

// ResourceID returns the resource this endpoint's traffic is routed
// through. It need not be unique per endpoint: every endpoint built from
// the same Local listener (UDP) shares one.
func (e Endpoint) ResourceID() ResourceID { return e.resourceID }

// Addr returns the peer socket address.
func (e Endpoint) Addr() net.Addr { return e.addr }

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s", e.resourceID, e.addr)
}
