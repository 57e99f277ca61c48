package netmux

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/hatch-io/netmux/internal/poll"
)

// Logger is where netmux logs fatal poller errors and adapter-internal
// failures that spec §7 classifies as "logged and abort" or "never
// surfaced". It mirrors the teacher's use of the plain log package
// (gnet.go's sniffError): no structured logging is introduced here
// because the teacher never reaches for one either.
var Logger = log.New(os.Stderr, "netmux: ", log.LstdFlags)

// defaultSamplingTimeout bounds how long the I/O thread can block inside one
// poll wait; it is also the worst-case latency for observing engine
// shutdown, per spec §4.4.
const defaultSamplingTimeout = 50 * time.Millisecond

// staleHandshakeMaxAge is how long a Remote may sit in a pending,
// resumable handshake (see staleHandshakeResource) before the janitor
// force-disconnects it.
const staleHandshakeMaxAge = 30 * time.Second

// handshakeSweepEvery is how many poll-wait iterations elapse between
// janitor sweeps (roughly once per second at the default 50ms sampling
// timeout).
const handshakeSweepEvery = 20

// ErrNonSequentialAdapterID is returned by Mount when adapter ids are not
// assigned contiguously starting at 0. Spec §9 "Open questions" leaves
// this ambiguous for the source; this port resolves it by rejecting the
// gap with a typed error rather than leaving a panicking placeholder
// controller in the hole.
var ErrNonSequentialAdapterID = fmt.Errorf("netmux: adapter ids must be mounted contiguously starting at 0")

// AdapterLauncher accumulates mounted adapters before a NetworkEngine is
// built from it. Mirrors the source's AdapterLauncher<C>::mount.
type AdapterLauncher struct {
	poll       *poll.Poll
	controllers []ActionController
	processors  []EventProcessor
	connOriented []bool
}

// NewAdapterLauncher creates a launcher backed by a fresh OS poller.
func NewAdapterLauncher() (*AdapterLauncher, error) {
	p, err := poll.New()
	if err != nil {
		return nil, err
	}
	return &AdapterLauncher{poll: p}, nil
}

// Mount installs adapter under adapterID. Ids must be assigned
// contiguously starting at 0 (spec §6).
func (l *AdapterLauncher) Mount(adapterID uint8, adapter Adapter) error {
	if int(adapterID) != len(l.controllers) {
		return ErrNonSequentialAdapterID
	}
	remotePollReg := l.poll.CreateRegister(adapterID, uint8(Remote))
	localPollReg := l.poll.CreateRegister(adapterID, uint8(Local))

	remotes := NewResourceRegister[RemoteResource](adapterID, Remote, remotePollReg)
	locals := NewResourceRegister[LocalResource](adapterID, Local, localPollReg)

	l.controllers = append(l.controllers, newGenericActionController(adapter, remotes, locals))
	l.processors = append(l.processors, newGenericEventProcessor(adapterID, remotes, locals))
	l.connOriented = append(l.connOriented, adapter.ConnectionOriented())
	return nil
}

// NetworkEngine owns the I/O thread: the poller, one ActionController per
// mounted adapter, and the atomic flag that tells the I/O thread to stop.
// It does not own the EventQueue; the callback given to New is the bridge
// that turns AdapterEvent into application-level events and pushes them
// onto whatever queue the application wired up.
type NetworkEngine struct {
	poll        *poll.Poll
	controllers []ActionController
	connOriented []bool

	running atomic.Bool
	wg      sync.WaitGroup

	samplingTimeout time.Duration

	// janitor bounds the concurrency of background maintenance work
	// (currently: sweeping stuck adapter handshakes) instead of spawning
	// an unbounded goroutine per stall. See DESIGN.md.
	janitor *ants.Pool
}

// EngineOption configures a NetworkEngine at construction time.
type EngineOption func(*NetworkEngine)

// WithSamplingTimeout overrides the default 50ms poll-wait bound.
func WithSamplingTimeout(d time.Duration) EngineOption {
	return func(e *NetworkEngine) { e.samplingTimeout = d }
}

// NewNetworkEngine spawns the I/O thread and starts polling. callback is
// invoked on the I/O thread for every AdapterEvent, except the
// EventRemoved events of the stale-handshake sweep, which are emitted from
// a janitor pool goroutine and can overlap the I/O thread's calls; it must not block for
// long and must not call back into the engine while holding locks of its
// own that the engine's own callers might need (no different from any
// other single-threaded reactor).
func NewNetworkEngine(launcher *AdapterLauncher, callback func(AdapterEvent), opts ...EngineOption) *NetworkEngine {
	e := &NetworkEngine{
		poll:            launcher.poll,
		controllers:     launcher.controllers,
		connOriented:    launcher.connOriented,
		samplingTimeout: defaultSamplingTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	janitor, err := ants.NewPool(4)
	if err != nil {
		Logger.Printf("janitor pool: %v", err)
	}
	e.janitor = janitor
	e.running.Store(true)

	processors := launcher.processors
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		iterations := 0
		for e.running.Load() {
			err := e.poll.Wait(e.samplingTimeout, func(ev poll.Event) {
				id := ResourceID(ev.ID)
				adapterID := int(id.AdapterID())
				if adapterID >= len(processors) {
					return
				}
				readable := ev.Readable || ev.HangupOrErr
				processors[adapterID].Process(id, readable, ev.Writable, callback)
			})
			if err != nil {
				// Fatal poller errors have no recovery contract per
				// spec §7: log and stop driving this engine.
				Logger.Printf("poll wait: %v", err)
				return
			}
			iterations++
			if iterations%handshakeSweepEvery == 0 {
				e.scheduleHandshakeSweep(callback)
			}
		}
	}()
	return e
}

// scheduleHandshakeSweep submits a bounded janitor task (rather than an
// unbounded goroutine per sweep) that force-disconnects any Remote stuck
// mid-handshake past staleHandshakeMaxAge.
func (e *NetworkEngine) scheduleHandshakeSweep(callback func(AdapterEvent)) {
	if e.janitor == nil {
		return
	}
	controllers := e.controllers
	err := e.janitor.Submit(func() {
		for _, c := range controllers {
			if gac, ok := c.(*genericActionController); ok {
				gac.sweepStaleHandshakes(staleHandshakeMaxAge, callback)
			}
		}
	})
	if err != nil && err != ants.ErrPoolOverload {
		Logger.Printf("janitor submit: %v", err)
	}
}

// Connect synchronously establishes a connection on the given adapter.
func (e *NetworkEngine) Connect(adapterID uint8, addr net.Addr) (Endpoint, error) {
	return e.controllers[adapterID].Connect(SocketRemoteAddr(addr))
}

// ConnectURL is the URL-addressed counterpart of Connect, used by
// adapters (e.g. WebSocket) that resolve their own scheme/host/path.
func (e *NetworkEngine) ConnectURL(adapterID uint8, url string) (Endpoint, error) {
	return e.controllers[adapterID].Connect(URLRemoteAddr(url))
}

// Listen binds addr on the given adapter.
func (e *NetworkEngine) Listen(adapterID uint8, addr net.Addr) (ResourceID, net.Addr, error) {
	return e.controllers[adapterID].Listen(addr)
}

// Send dispatches data on ep's resource, routing through the adapter ep
// belongs to.
func (e *NetworkEngine) Send(ep Endpoint, data []byte) SendStatus {
	return e.controllers[ep.ResourceID().AdapterID()].Send(ep, data)
}

// Remove deregisters and releases id's resource. Returns false if id was
// already gone.
func (e *NetworkEngine) Remove(id ResourceID) bool {
	return e.controllers[id.AdapterID()].Remove(id)
}

// LocalAddr returns the bound/local address of id's resource, if live.
func (e *NetworkEngine) LocalAddr(id ResourceID) (net.Addr, bool) {
	return e.controllers[id.AdapterID()].LocalAddr(id)
}

// EndpointFromListener builds an Endpoint for a connectionless send from
// a Local resource (spec §3 "Endpoint"), panicking if id is not Local or
// if its adapter is connection-oriented — a programming error, matching
// the spec's construction-time abort.
func (e *NetworkEngine) EndpointFromListener(id ResourceID, addr net.Addr) Endpoint {
	if id.ResourceType() != Local {
		panic("netmux: EndpointFromListener requires a Local resource id")
	}
	if int(id.AdapterID()) >= len(e.connOriented) || e.connOriented[id.AdapterID()] {
		panic("netmux: EndpointFromListener requires a connectionless adapter")
	}
	return newEndpoint(id, addr)
}

// Close flips the running flag, wakes the I/O thread so it observes the
// flag without waiting a full sampling window, and joins it. Any
// resources still alive are released as part of teardown.
func (e *NetworkEngine) Close() {
	e.running.Store(false)
	_ = e.poll.Wake()
	e.wg.Wait()
	if e.janitor != nil {
		e.janitor.Release()
	}
	for _, c := range e.controllers {
		c.Close()
	}
	_ = e.poll.Close()
}
