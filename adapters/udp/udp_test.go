package udp_test

import (
	"net"
	"testing"
	"time"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/adapters/udp"
)

func TestUDPSendThroughConnectedRemote(t *testing.T) {
	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, udp.New()); err != nil {
		t.Fatal(err)
	}

	recv := make(chan []byte, 1)
	engine := netmux.NewNetworkEngine(launcher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
			recv <- append([]byte(nil), ev.Data...)
		}
	})
	defer engine.Close()

	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	_, bound, err := engine.Listen(0, addr)
	if err != nil {
		t.Fatal(err)
	}

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, udp.New()); err != nil {
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
	if status := clientEngine.Send(ep, []byte("ping")); status.Kind != netmux.Sent {
		t.Fatalf("Send() = %v, want Sent", status.Kind)
	}

	select {
	case data := <-recv:
		if string(data) != "ping" {
			t.Fatalf("server received %q, want %q", data, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the datagram")
	}
}

func TestUDPOversizeSendIsRejected(t *testing.T) {
	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, udp.New()); err != nil {
		t.Fatal(err)
	}
	engine := netmux.NewNetworkEngine(launcher, func(netmux.AdapterEvent) {})
	defer engine.Close()

	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	_, bound, err := engine.Listen(0, addr)
	if err != nil {
		t.Fatal(err)
	}

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, udp.New()); err != nil {
		t.Fatal(err)
	}
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(netmux.AdapterEvent) {})
	defer clientEngine.Close()

	ep, err := clientEngine.Connect(0, bound)
	if err != nil {
		t.Fatal(err)
	}
	oversized := make([]byte, udp.MaxDatagramSize+1)
	status := clientEngine.Send(ep, oversized)
	if status.Kind != netmux.MaxPacketSizeExceeded {
		t.Fatalf("Send() with an oversized datagram = %v, want MaxPacketSizeExceeded", status.Kind)
	}
}
