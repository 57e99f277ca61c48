package framedtcp_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/adapters/framedtcp"
)

func TestFramedTCPMultipleFramesInOrder(t *testing.T) {
	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, framedtcp.New()); err != nil {
		t.Fatal(err)
	}

	recv := make(chan []byte, 8)
	engine := netmux.NewNetworkEngine(launcher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
			recv <- append([]byte(nil), ev.Data...)
		}
	})
	defer engine.Close()

	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	_, bound, err := engine.Listen(0, addr)
	if err != nil {
		t.Fatal(err)
	}

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, framedtcp.New()); err != nil {
		t.Fatal(err)
	}
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(netmux.AdapterEvent) {})
	defer clientEngine.Close()

	ep, err := clientEngine.Connect(0, bound)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, w := range want {
		if status := clientEngine.Send(ep, w); status.Kind != netmux.Sent {
			t.Fatalf("Send(%q) = %v, want Sent", w, status.Kind)
		}
	}

	for i, w := range want {
		select {
		case got := <-recv:
			if !bytes.Equal(got, w) {
				t.Fatalf("frame #%d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame #%d never arrived", i)
		}
	}
}

func TestFramedTCPOversizeSendIsRejected(t *testing.T) {
	launcher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := launcher.Mount(0, framedtcp.New(netmux.WithMaxPayload(16))); err != nil {
		t.Fatal(err)
	}
	engine := netmux.NewNetworkEngine(launcher, func(netmux.AdapterEvent) {})
	defer engine.Close()

	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	_, bound, err := engine.Listen(0, addr)
	if err != nil {
		t.Fatal(err)
	}

	clientLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := clientLauncher.Mount(0, framedtcp.New(netmux.WithMaxPayload(16))); err != nil {
		t.Fatal(err)
	}
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(netmux.AdapterEvent) {})
	defer clientEngine.Close()

	ep, err := clientEngine.Connect(0, bound)
	if err != nil {
		t.Fatal(err)
	}

	status := clientEngine.Send(ep, bytes.Repeat([]byte("x"), 64))
	if status.Kind != netmux.MaxPacketSizeExceeded {
		t.Fatalf("Send() with an oversized frame = %v, want MaxPacketSizeExceeded", status.Kind)
	}
}
