// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package udp implements netmux's connectionless datagram transport: one
// bound socket (a Local resource) that both receives datagrams from any
// peer and sends to an arbitrary peer address, per spec's "Local ...
// connectionless send" contract for non-connection-oriented adapters.
package udp

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/libp2p/go-reuseport"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/internal/bufpool"
	"github.com/hatch-io/netmux/internal/sockaddr"
)

// MaxDatagramSize is the largest UDP payload this adapter will send or
// accept: the IPv4 theoretical max (65535) minus the UDP header (8).
const MaxDatagramSize = 65535 - 8

// Adapter implements netmux.Adapter for UDP.
type Adapter struct {
	opts *netmux.ResourceOptions
}

// New creates a UDP adapter.
func New(options ...netmux.Option) *Adapter {
	return &Adapter{opts: netmux.InitOptions(options...)}
}

func (a *Adapter) Name() string { return "udp" }

func (a *Adapter) ConnectionOriented() bool { return false }

// Connect for UDP "connects" the datagram socket to a fixed peer: a
// thin convenience for applications that want a dedicated Remote
// instead of routing every send through a Local's SendTo. Most UDP
// consumers will prefer Listen + Endpoint-from-listener instead.
func (a *Adapter) Connect(remote netmux.RemoteAddr) (netmux.ConnectionInfo, error) {
	if remote.IsURL() {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}
	addr, ok := remote.Socket().(*net.UDPAddr)
	if !ok {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return netmux.ConnectionInfo{}, err
	}
	fd, err := dupNonblock(conn)
	if err != nil {
		_ = conn.Close()
		return netmux.ConnectionInfo{}, err
	}
	r := &remoteResource{fd: fd, localAddr: conn.LocalAddr(), peerAddr: conn.RemoteAddr(), conn: conn}
	return netmux.ConnectionInfo{Remote: r, LocalAddr: conn.LocalAddr(), PeerAddr: conn.RemoteAddr()}, nil
}

// Listen binds a receiving UDP socket.
func (a *Adapter) Listen(addr net.Addr) (netmux.ListeningInfo, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netmux.ListeningInfo{}, netmux.ErrInvalidRemoteAddr
	}
	var conn net.PacketConn
	var err error
	if a.opts.ReusePort {
		conn, err = reuseport.ListenPacket("udp", udpAddr.String())
	} else {
		conn, err = net.ListenUDP("udp", udpAddr)
	}
	if err != nil {
		return netmux.ListeningInfo{}, err
	}
	fd, err := dupPacketConnNonblock(conn)
	if err != nil {
		_ = conn.Close()
		return netmux.ListeningInfo{}, err
	}
	l := &localResource{fd: fd, addr: conn.LocalAddr(), conn: conn}
	return netmux.ListeningInfo{Local: l, LocalAddr: conn.LocalAddr()}, nil
}

func dupNonblock(conn *net.UDPConn) (int, error) {
	f, err := conn.File()
	if err != nil {
		return -1, err
	}
	fd := int(f.Fd())
	newFd, err := unix.Dup(fd)
	_ = f.Close()
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(newFd, true); err != nil {
		_ = unix.Close(newFd)
		return -1, err
	}
	return newFd, nil
}

func dupPacketConnNonblock(conn net.PacketConn) (int, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return -1, netmux.ErrInvalidRemoteAddr
	}
	f, err := fc.File()
	if err != nil {
		return -1, err
	}
	fd := int(f.Fd())
	newFd, err := unix.Dup(fd)
	_ = f.Close()
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(newFd, true); err != nil {
		_ = unix.Close(newFd)
		return -1, err
	}
	return newFd, nil
}

// localResource is the bound UDP socket: both the receiving endpoint
// (Accept yields AcceptedData per datagram) and the connectionless
// sender (SendTo).
type localResource struct {
	fd   int
	addr net.Addr
	conn net.PacketConn // kept alive for LocalAddr(); not read/written directly
}

func (l *localResource) FD() int { return l.fd }

func (l *localResource) LocalAddr() net.Addr { return l.addr }

func (l *localResource) Accept(acceptRemote func(netmux.AcceptedType)) {
	buf := bufpool.Get(MaxDatagramSize)
	defer bufpool.Put(buf)
	for {
		n, sa, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			return
		}
		peer, perr := sockaddr.ToUDPAddr(sa)
		if perr != nil {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		acceptRemote(netmux.AcceptedType{Kind: netmux.AcceptedData, Addr: peer, Data: data})
	}
}

// SendTo implements the driver's connectionlessSender contract: send one
// datagram to addr through this bound socket.
func (l *localResource) SendTo(addr net.Addr, data []byte) netmux.SendStatus {
	if len(data) > MaxDatagramSize {
		return netmux.TooLargeStatus(len(data), MaxDatagramSize)
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netmux.NotAvailableStatus()
	}
	sa, err := sockaddr.FromUDPAddr(udpAddr)
	if err != nil {
		return netmux.NotAvailableStatus()
	}
	if err := unix.Sendto(l.fd, data, 0, sa); err != nil {
		return netmux.NotAvailableStatus()
	}
	return netmux.SentStatus()
}

func (l *localResource) Close() error {
	err := unix.Close(l.fd)
	if l.conn != nil {
		_ = l.conn.Close()
	}
	return err
}

// remoteResource is a UDP socket dialed to a single fixed peer (see
// Adapter.Connect). Unlike TCP, short writes/WouldBlock are not buffered:
// a datagram either goes out whole or Send reports ResourceNotAvailable,
// since partially delivering a datagram makes no sense.
type remoteResource struct {
	fd        int
	localAddr net.Addr
	peerAddr  net.Addr
	conn      net.Conn
}

func (r *remoteResource) FD() int { return r.fd }

func (r *remoteResource) LocalAddr() net.Addr { return r.localAddr }

func (r *remoteResource) PeerAddr() net.Addr { return r.peerAddr }

func (r *remoteResource) Receive(processData func(data []byte)) netmux.ReadStatus {
	buf := bufpool.Get(MaxDatagramSize)
	defer bufpool.Put(buf)
	for {
		n, _, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN {
				return netmux.WaitNextEvent
			}
			return netmux.Disconnected
		}
		processData(buf[:n])
	}
}

func (r *remoteResource) Send(data []byte) netmux.SendStatus {
	if len(data) > MaxDatagramSize {
		return netmux.TooLargeStatus(len(data), MaxDatagramSize)
	}
	if err := unix.Send(r.fd, data, 0); err != nil {
		return netmux.NotAvailableStatus()
	}
	return netmux.SentStatus()
}

// HasPending/FlushPending are always no-ops: UDP sends never buffer
// partial writes.
func (r *remoteResource) HasPending() bool           { return false }
func (r *remoteResource) FlushPending() (bool, error) { return true, nil }

func (r *remoteResource) Close() error {
	if r.conn != nil {
		_ = r.conn.Close()
	}
	return unix.Close(r.fd)
}
