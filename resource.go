package netmux

import (
	"fmt"
	"sync/atomic"
)

// ResourceType distinguishes a bound/listening resource from a connected
// peer resource.
type ResourceType uint8

const (
	// Remote identifies a connected peer's resource (a per-socket state
	// machine on the I/O thread side of a connection).
	Remote ResourceType = iota
	// Local identifies a bound listener or receiving socket.
	Local
)

func (t ResourceType) String() string {
	if t == Local {
		return "Local"
	}
	return "Remote"
}

// AdapterIDMax bounds the number of adapters that can be mounted on one
// engine: ids are assigned contiguously starting at 0 by the caller of
// Mount, per spec §6 "Adapter id allocation".
const AdapterIDMax = 1<<8 - 1

const (
	serialBits = 23
	serialMax  = 1<<serialBits - 1
)

// ResourceID is a compact 32-bit handle identifying one adapter resource:
// an 8-bit adapter id, a 1-bit resource type, and a 23-bit monotonic
// per-(adapter,type) serial. Two resources alive at the same time never
// share a ResourceID; freed ids are not reused until the serial wraps.
type ResourceID uint32

func newResourceID(adapterID uint8, rtype ResourceType, serial uint32) ResourceID {
	serial &= serialMax
	id := uint32(adapterID)<<24 | uint32(rtype)<<23 | serial
	return ResourceID(id)
}

// AdapterID returns the 8-bit adapter id encoded in this resource id.
func (id ResourceID) AdapterID() uint8 {
	return uint8(id >> 24)
}

// ResourceType returns whether this id names a Local or a Remote resource.
func (id ResourceID) ResourceType() ResourceType {
	if (id>>23)&1 != 0 {
		return Local
	}
	return Remote
}

// Serial returns the monotonic per-(adapter,type) counter value.
func (id ResourceID) Serial() uint32 {
	return uint32(id) & serialMax
}

func (id ResourceID) String() string {
	return fmt.Sprintf("ResourceID(%d, %s, %d)", id.AdapterID(), id.ResourceType(), id.Serial())
}

// idGenerator hands out monotonically increasing ResourceIDs for one
// (adapter, resource type) namespace. It never resets: the serial wraps
// past serialMax only after ~8M ids, well beyond the spec's "wraps never
// in practice" liveness horizon for any single run.
type idGenerator struct {
	adapterID uint8
	rtype     ResourceType
	next      uint32
}

func newIDGenerator(adapterID uint8, rtype ResourceType) *idGenerator {
	return &idGenerator{adapterID: adapterID, rtype: rtype}
}

func (g *idGenerator) generate() ResourceID {
	serial := atomic.AddUint32(&g.next, 1) - 1
	return newResourceID(g.adapterID, g.rtype, serial)
}
