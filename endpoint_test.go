package netmux

import (
	"net"
	"testing"
)

func TestEndpointAccessors(t *testing.T) {
	id := newResourceID(1, Remote, 42)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	ep := newEndpoint(id, addr)

	if ep.ResourceID() != id {
		t.Errorf("ResourceID() = %s, want %s", ep.ResourceID(), id)
	}
	if ep.Addr().String() != addr.String() {
		t.Errorf("Addr() = %s, want %s", ep.Addr(), addr)
	}
}

func TestEndpointFromListenerPanicsOnConnectionOriented(t *testing.T) {
	launcher, err := NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, stubAdapter{connectionOriented: true}); err != nil {
		t.Fatal(err)
	}
	engine := NewNetworkEngine(launcher, func(AdapterEvent) {})
	defer engine.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for connection-oriented adapter")
		}
	}()
	engine.EndpointFromListener(newResourceID(0, Local, 0), &net.TCPAddr{})
}

func TestEndpointFromListenerPanicsOnRemoteID(t *testing.T) {
	launcher, err := NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, stubAdapter{connectionOriented: false}); err != nil {
		t.Fatal(err)
	}
	engine := NewNetworkEngine(launcher, func(AdapterEvent) {})
	defer engine.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a Remote resource id")
		}
	}()
	engine.EndpointFromListener(newResourceID(0, Remote, 0), &net.TCPAddr{})
}

func TestEndpointFromListenerOKOnConnectionless(t *testing.T) {
	launcher, err := NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, stubAdapter{connectionOriented: false}); err != nil {
		t.Fatal(err)
	}
	engine := NewNetworkEngine(launcher, func(AdapterEvent) {})
	defer engine.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	ep := engine.EndpointFromListener(newResourceID(0, Local, 0), addr)
	if ep.Addr().String() != addr.String() {
		t.Errorf("Addr() = %s, want %s", ep.Addr(), addr)
	}
}

// stubAdapter is a minimal Adapter used only to exercise
// EndpointFromListener's panic/no-panic contract without a real socket.
type stubAdapter struct {
	connectionOriented bool
}

func (stubAdapter) Name() string                          { return "stub" }
func (s stubAdapter) ConnectionOriented() bool             { return s.connectionOriented }
func (stubAdapter) Connect(RemoteAddr) (ConnectionInfo, error) { return ConnectionInfo{}, ErrInvalidRemoteAddr }
func (stubAdapter) Listen(net.Addr) (ListeningInfo, error)     { return ListeningInfo{}, ErrInvalidRemoteAddr }
