package ws_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/adapters/ws"
)

func TestWebSocketEchoAfterHandshake(t *testing.T) {
	serverLauncher, err := netmux.NewAdapterLauncher()
	if err != nil {
		t.Fatal(err)
	}
	if err := serverLauncher.Mount(0, ws.New()); err != nil {
		t.Fatal(err)
	}

	var serverEngine *netmux.NetworkEngine
	serverEngine = netmux.NewNetworkEngine(serverLauncher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
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
	if err := clientLauncher.Mount(0, ws.New()); err != nil {
		t.Fatal(err)
	}
	recv := make(chan []byte, 1)
	clientEngine := netmux.NewNetworkEngine(clientLauncher, func(ev netmux.AdapterEvent) {
		if ev.Kind == netmux.EventData {
			recv <- append([]byte(nil), ev.Data...)
		}
	})
	defer clientEngine.Close()

	url := fmt.Sprintf("ws://%s/", bound.String())
	ep, err := clientEngine.ConnectURL(0, url)
	if err != nil {
		t.Fatal(err)
	}

	// Send immediately, before the handshake necessarily completes: it
	// must be queued and flushed once the upgrade finishes, not dropped.
	payload := []byte("hello over ws")
	if status := clientEngine.Send(ep, payload); status.Kind != netmux.Sent {
		t.Fatalf("Send() = %v, want Sent", status.Kind)
	}

	select {
	case echoed := <-recv:
		if string(echoed) != string(payload) {
			t.Fatalf("received %q, want %q", echoed, payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("never received the echoed message")
	}
}
