package netmux

import (
	"net"
	"time"
)

// AdapterEventKind discriminates the three things an EventProcessor can
// emit.
type AdapterEventKind int

const (
	// EventAdded is a newly accepted Remote (stream adapters only).
	EventAdded AdapterEventKind = iota
	// EventData is a decoded application payload.
	EventData
	// EventRemoved is a Remote's disconnection.
	EventRemoved
)

// AdapterEvent is what an EventProcessor hands to the engine's callback.
// Data is a borrowed slice, valid only for the duration of the callback
// invocation; a consumer that needs to retain it must copy it.
type AdapterEvent struct {
	Kind       AdapterEventKind
	Endpoint   Endpoint
	ListenerID ResourceID // set on EventAdded: the Local that accepted it
	Data       []byte
}

// ActionController is the per-adapter, application-thread-facing half of
// the driver (spec §4.3). Implementations are safe to call concurrently
// with the matching EventProcessor running on the I/O thread.
type ActionController interface {
	Connect(remote RemoteAddr) (Endpoint, error)
	Listen(addr net.Addr) (ResourceID, net.Addr, error)
	Send(ep Endpoint, data []byte) SendStatus
	Remove(id ResourceID) bool
	LocalAddr(id ResourceID) (net.Addr, bool)

	// Close releases every resource this adapter still has live, both
	// Locals and Remotes. Called once per adapter by NetworkEngine.Close.
	Close()
}

// EventProcessor is the per-adapter, I/O-thread-facing half of the
// driver. Process is invoked once per readiness wakeup for one resource.
type EventProcessor interface {
	Process(id ResourceID, readable, writable bool, emit func(AdapterEvent))
}

// genericActionController and genericEventProcessor are the generic glue
// that turns an Adapter's Connect/Listen/Accept/Receive/Send hooks into
// the two trait-object-sized driver components, per spec §4.3 ("Driver:
// ActionController + EventProcessor ... generic per-adapter glue").
type genericActionController struct {
	adapter Adapter
	remotes *ResourceRegister[RemoteResource]
	locals  *ResourceRegister[LocalResource]
}

func newGenericActionController(adapter Adapter, remotes *ResourceRegister[RemoteResource], locals *ResourceRegister[LocalResource]) *genericActionController {
	return &genericActionController{
		adapter: adapter,
		remotes: remotes,
		locals:  locals,
	}
}

func (c *genericActionController) Connect(remote RemoteAddr) (Endpoint, error) {
	info, err := c.adapter.Connect(remote)
	if err != nil {
		return Endpoint{}, err
	}
	id, err := c.remotes.Add(info.Remote, info.Remote.HasPending())
	if err != nil {
		_ = info.Remote.Close()
		return Endpoint{}, err
	}
	return newEndpoint(id, info.PeerAddr), nil
}

func (c *genericActionController) Listen(addr net.Addr) (ResourceID, net.Addr, error) {
	info, err := c.adapter.Listen(addr)
	if err != nil {
		var zero ResourceID
		return zero, nil, err
	}
	id, err := c.locals.Add(info.Local, false)
	if err != nil {
		_ = info.Local.Close()
		var zero ResourceID
		return zero, nil, err
	}
	return id, info.LocalAddr, nil
}

func (c *genericActionController) Send(ep Endpoint, data []byte) SendStatus {
	id := ep.ResourceID()
	if id.ResourceType() == Local {
		l, ok := c.locals.Get(id)
		if !ok {
			return NotFoundStatus()
		}
		sender, ok := l.(connectionlessSender)
		if !ok {
			return NotAvailableStatus()
		}
		return sender.SendTo(ep.Addr(), data)
	}
	r, ok := c.remotes.Get(id)
	if !ok {
		return NotFoundStatus()
	}
	status := r.Send(data)
	_ = c.remotes.SetWritable(id, r.HasPending())
	return status
}

func (c *genericActionController) Remove(id ResourceID) bool {
	if id.ResourceType() == Local {
		return c.locals.Remove(id)
	}
	return c.remotes.Remove(id)
}

// Close releases every Local and Remote this controller's adapter still
// has live, per spec's shutdown contract ("any adapter resources still
// alive are released").
func (c *genericActionController) Close() {
	c.remotes.CloseAll()
	c.locals.CloseAll()
}

func (c *genericActionController) LocalAddr(id ResourceID) (net.Addr, bool) {
	if id.ResourceType() == Local {
		l, ok := c.locals.Get(id)
		if !ok {
			return nil, false
		}
		if la, ok := l.(interface{ LocalAddr() net.Addr }); ok {
			return la.LocalAddr(), true
		}
		return nil, false
	}
	r, ok := c.remotes.Get(id)
	if !ok {
		return nil, false
	}
	if la, ok := r.(interface{ LocalAddr() net.Addr }); ok {
		return la.LocalAddr(), true
	}
	return nil, false
}

// connectionlessSender is implemented by LocalResource values belonging
// to datagram adapters (UDP), letting ActionController.Send dispatch a
// send-from-listener per spec §4.3 ("Local ... for connectionless send
// using the endpoint's stored peer address").
type connectionlessSender interface {
	SendTo(addr net.Addr, data []byte) SendStatus
}

type genericEventProcessor struct {
	adapterID uint8
	remotes   *ResourceRegister[RemoteResource]
	locals    *ResourceRegister[LocalResource]
}

func newGenericEventProcessor(adapterID uint8, remotes *ResourceRegister[RemoteResource], locals *ResourceRegister[LocalResource]) *genericEventProcessor {
	return &genericEventProcessor{adapterID: adapterID, remotes: remotes, locals: locals}
}

func (p *genericEventProcessor) Process(id ResourceID, readable, writable bool, emit func(AdapterEvent)) {
	if id.ResourceType() == Local {
		p.processLocal(id, readable, emit)
		return
	}
	p.processRemote(id, readable, writable, emit)
}

func (p *genericEventProcessor) processLocal(id ResourceID, readable bool, emit func(AdapterEvent)) {
	local, ok := p.locals.Get(id)
	if !ok || !readable {
		return
	}
	local.Accept(func(at AcceptedType) {
		switch at.Kind {
		case AcceptedRemote:
			rid, err := p.remotes.Add(at.Resource, at.Resource.HasPending())
			if err != nil {
				_ = at.Resource.Close()
				return
			}
			emit(AdapterEvent{Kind: EventAdded, Endpoint: newEndpoint(rid, at.Addr), ListenerID: id})
		case AcceptedData:
			emit(AdapterEvent{Kind: EventData, Endpoint: newEndpoint(id, at.Addr), Data: at.Data})
		}
	})
}

func (p *genericEventProcessor) processRemote(id ResourceID, readable, writable bool, emit func(AdapterEvent)) {
	remote, ok := p.remotes.Get(id)
	if !ok {
		return
	}

	// Mirror the teacher's reactor_linux.go ordering discipline: while
	// there is buffered output, prioritize draining it over processing
	// new reads.
	if remote.HasPending() {
		if writable {
			_, err := remote.FlushPending()
			if err != nil {
				p.disconnect(id, remote, emit)
				return
			}
			_ = p.remotes.SetWritable(id, remote.HasPending())
		}
		return
	}

	if !readable {
		return
	}

	ep := newEndpoint(id, remote.PeerAddr())
	status := remote.Receive(func(data []byte) {
		emit(AdapterEvent{Kind: EventData, Endpoint: ep, Data: data})
	})
	if status == Disconnected {
		p.disconnect(id, remote, emit)
	}
}

func (p *genericEventProcessor) disconnect(id ResourceID, remote RemoteResource, emit func(AdapterEvent)) {
	ep := newEndpoint(id, remote.PeerAddr())
	p.remotes.Remove(id)
	emit(AdapterEvent{Kind: EventRemoved, Endpoint: ep})
}

// staleHandshakeResource is implemented by Remote resources with a
// resumable, multi-readiness-wakeup handshake (currently only
// adapters/ws). The engine's janitor uses it to GC peers stuck in a
// pending handshake well past a reasonable deadline.
type staleHandshakeResource interface {
	// HandshakeStartedAt reports when a currently-pending handshake
	// began; pending is false once the handshake has completed.
	HandshakeStartedAt() (started time.Time, pending bool)
}

// sweepStaleHandshakes force-disconnects Remotes whose handshake has been
// pending for longer than maxAge.
func (c *genericActionController) sweepStaleHandshakes(maxAge time.Duration, emit func(AdapterEvent)) {
	var stale []ResourceID
	c.remotes.Range(func(id ResourceID, r RemoteResource) bool {
		if sh, ok := r.(staleHandshakeResource); ok {
			if start, pending := sh.HandshakeStartedAt(); pending && time.Since(start) > maxAge {
				stale = append(stale, id)
			}
		}
		return true
	})
	for _, id := range stale {
		r, ok := c.remotes.Get(id)
		if !ok {
			continue
		}
		ep := newEndpoint(id, r.PeerAddr())
		c.remotes.Remove(id)
		emit(AdapterEvent{Kind: EventRemoved, Endpoint: ep})
	}
}
