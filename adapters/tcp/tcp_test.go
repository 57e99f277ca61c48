package tcp_test

import (
	"net"
	"testing"
	"time"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/adapters/tcp"
)

func mustLoopback(t *testing.T) (*netmux.NetworkEngine, netmux.ResourceID, net.Addr) {
	t.Helper()
	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, tcp.New()); err != nil {
		t.Fatal(err)
	}
	engine := netmux.NewNetworkEngine(launcher, func(netmux.AdapterEvent) {})
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	id, bound, err := engine.Listen(0, addr)
	if err != nil {
		engine.Close()
		t.Fatal(err)
	}
	return engine, id, bound
}

func TestTCPEchoRoundTrip(t *testing.T) {
	type result struct {
		ep   netmux.Endpoint
		data []byte
	}

	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, tcp.New()); err != nil {
		t.Fatal(err)
	}

	serverRecv := make(chan result, 1)
	var serverEngine *netmux.NetworkEngine
	serverEngine = netmux.NewNetworkEngine(launcher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
			serverRecv <- result{ep: ev.Endpoint, data: append([]byte(nil), ev.Data...)}
			serverEngine.Send(ev.Endpoint, ev.Data)
		}
	})
	defer serverEngine.Close()

	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	_, bound, err := serverEngine.Listen(0, addr)
	if err != nil {
		t.Fatal(err)
	}

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, tcp.New()); err != nil {
		t.Fatal(err)
	}
	clientRecv := make(chan []byte, 1)
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
			clientRecv <- append([]byte(nil), ev.Data...)
		}
	})
	defer clientEngine.Close()

	ep, err := clientEngine.Connect(0, bound)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello over raw tcp")
	status := clientEngine.Send(ep, payload)
	if status.Kind != netmux.Sent {
		t.Fatalf("Send() = %v, want Sent", status.Kind)
	}

	select {
	case r := <-serverRecv:
		if string(r.data) != string(payload) {
			t.Fatalf("server received %q, want %q", r.data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the payload")
	}

	select {
	case echoed := <-clientRecv:
		if string(echoed) != string(payload) {
			t.Fatalf("client received %q, want %q", echoed, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the echo")
	}
}

func TestTCPSendToStaleResourceIsNotFound(t *testing.T) {
	engine, _, bound := mustLoopback(t)
	defer engine.Close()

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, tcp.New()); err != nil {
		t.Fatal(err)
	}
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(netmux.AdapterEvent) {})
	defer clientEngine.Close()

	ep, err := clientEngine.Connect(0, bound)
	if err != nil {
		t.Fatal(err)
	}
	if !clientEngine.Remove(ep.ResourceID()) {
		t.Fatal("Remove() on a freshly connected resource should succeed")
	}
	status := clientEngine.Send(ep, []byte("x"))
	if status.Kind != netmux.ResourceNotFound {
		t.Fatalf("Send() after Remove() = %v, want ResourceNotFound", status.Kind)
	}
}
