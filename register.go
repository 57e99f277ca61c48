package netmux

import (
	"sync"

	"github.com/hatch-io/netmux/internal/poll"
)

// closeableResource is the constraint ResourceRegister instantiates over:
// both RemoteResource and LocalResource satisfy it.
type closeableResource interface {
	Resource
	Close() error
}

// ResourceRegister is a per-adapter, per-kind table mapping ResourceID to
// a live resource. Adding a resource also registers its OS-level source
// with the poller; removing deregisters it and closes it. It is safe for
// concurrent use: the application thread (connect/listen/remove) and the
// I/O thread (accept/receive dispatch, which looks resources up via Get,
// adds accepted Remotes and removes disconnected ones) may call it
// concurrently.
type ResourceRegister[R closeableResource] struct {
	mu        sync.Mutex
	resources map[ResourceID]R
	gen       *idGenerator
	preg      *poll.Register
}

// NewResourceRegister creates a register for one (adapter, resource type)
// namespace, backed by the given poll namespace.
func NewResourceRegister[R closeableResource](adapterID uint8, rtype ResourceType, preg *poll.Register) *ResourceRegister[R] {
	return &ResourceRegister[R]{
		resources: make(map[ResourceID]R),
		gen:       newIDGenerator(adapterID, rtype),
		preg:      preg,
	}
}

// Add inserts r, registers it with the poller (read-only, or read+write
// if writable is set — a Remote that already has queued output at
// creation time, e.g. a handshake with pending sends, wants both), and
// returns the id it was assigned.
func (rr *ResourceRegister[R]) Add(r R, writable bool) (ResourceID, error) {
	id := rr.gen.generate()
	var err error
	if writable {
		err = rr.preg.AddReadWrite(r.FD(), uint32(id))
	} else {
		err = rr.preg.Add(r.FD(), uint32(id))
	}
	if err != nil {
		var zero ResourceID
		return zero, err
	}
	rr.mu.Lock()
	rr.resources[id] = r
	rr.mu.Unlock()
	return id, nil
}

// Get looks up a live resource by id.
func (rr *ResourceRegister[R]) Get(id ResourceID) (R, bool) {
	rr.mu.Lock()
	r, ok := rr.resources[id]
	rr.mu.Unlock()
	return r, ok
}

// Remove deregisters and closes the resource for id, if present.
// Removing a stale or already-removed id is a safe no-op, which is what
// lets EventProcessor.process treat a vanished id as a no-op per spec
// §4.3.
func (rr *ResourceRegister[R]) Remove(id ResourceID) bool {
	rr.mu.Lock()
	r, ok := rr.resources[id]
	if ok {
		delete(rr.resources, id)
	}
	rr.mu.Unlock()
	if !ok {
		return false
	}
	_ = rr.preg.Remove(r.FD(), uint32(id))
	_ = r.Close()
	return true
}

// SetWritable toggles whether id is also registered for write-readiness,
// e.g. when an outbound buffer transitions between empty and non-empty.
func (rr *ResourceRegister[R]) SetWritable(id ResourceID, writable bool) error {
	r, ok := rr.Get(id)
	if !ok {
		return nil
	}
	return rr.preg.ModifyWritable(r.FD(), uint32(id), writable)
}

// Range calls f for a snapshot of the currently live resources, stopping
// early if f returns false. It is used by best-effort maintenance sweeps
// (e.g. stale-handshake GC) that must not hold the register lock while
// calling back into resource-specific logic.
func (rr *ResourceRegister[R]) Range(f func(ResourceID, R) bool) {
	rr.mu.Lock()
	snapshot := make(map[ResourceID]R, len(rr.resources))
	for id, r := range rr.resources {
		snapshot[id] = r
	}
	rr.mu.Unlock()
	for id, r := range snapshot {
		if !f(id, r) {
			return
		}
	}
}

// Len reports the number of live resources, mostly for diagnostics/tests.
func (rr *ResourceRegister[R]) Len() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.resources)
}

// CloseAll removes and closes every resource, used by engine teardown.
func (rr *ResourceRegister[R]) CloseAll() {
	rr.mu.Lock()
	ids := make([]ResourceID, 0, len(rr.resources))
	for id := range rr.resources {
		ids = append(ids, id)
	}
	rr.mu.Unlock()
	for _, id := range ids {
		rr.Remove(id)
	}
}
