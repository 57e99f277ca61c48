// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package tcp implements netmux's raw byte-stream transport: a TCP
// listener/connection pair driven by non-blocking raw syscalls, obtained
// by dup'ing the fd out of Go's net.Conn/net.Listener (see Connect and
// Listen) the same way the teacher's Connect does for its client
// sockets.
package tcp

import (
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/libp2p/go-reuseport"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/internal/bufpool"
	"github.com/hatch-io/netmux/internal/ringbuffer"
	"github.com/hatch-io/netmux/internal/sockaddr"
)

// DefaultMaxPayload bounds a single Receive chunk; TCP itself has no
// message framing, so this is only a read-buffer sizing hint, not a
// protocol limit.
const DefaultMaxPayload = 64 * 1024

// Adapter implements netmux.Adapter for plain TCP streams.
type Adapter struct {
	opts *netmux.ResourceOptions
}

// New creates a TCP adapter. Pass netmux.WithReusePort/WithTCPKeepAlive
// to configure the sockets it creates.
func New(options ...netmux.Option) *Adapter {
	return &Adapter{opts: netmux.InitOptions(options...)}
}

func (a *Adapter) Name() string { return "tcp" }

func (a *Adapter) ConnectionOriented() bool { return true }

// Connect dials addr and dups the resulting fd into non-blocking mode,
// mirroring the teacher's Connect: the dup'd fd drives all I/O while the
// original net.Conn is kept alive only for its LocalAddr/RemoteAddr
// accessors.
func (a *Adapter) Connect(remote netmux.RemoteAddr) (netmux.ConnectionInfo, error) {
	if remote.IsURL() {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}
	addr, ok := remote.Socket().(*net.TCPAddr)
	if !ok {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}

	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return netmux.ConnectionInfo{}, err
	}
	if a.opts.TCPKeepAlive > 0 {
		_ = conn.SetKeepAlive(true)
		_ = conn.SetKeepAlivePeriod(a.opts.TCPKeepAlive)
	}

	fd, err := dupNonblock(conn)
	if err != nil {
		_ = conn.Close()
		return netmux.ConnectionInfo{}, err
	}

	r := newRemote(fd, conn.LocalAddr(), conn.RemoteAddr(), conn)
	return netmux.ConnectionInfo{Remote: r, LocalAddr: conn.LocalAddr(), PeerAddr: conn.RemoteAddr()}, nil
}

// Listen binds addr, optionally via go-reuseport's SO_REUSEPORT listener
// when netmux.WithReusePort(true) was set, matching the teacher's
// WithReusePort behavior.
func (a *Adapter) Listen(addr net.Addr) (netmux.ListeningInfo, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return netmux.ListeningInfo{}, netmux.ErrInvalidRemoteAddr
	}

	var ln net.Listener
	var err error
	if a.opts.ReusePort {
		ln, err = reuseport.Listen("tcp", tcpAddr.String())
	} else {
		ln, err = net.ListenTCP("tcp", tcpAddr)
	}
	if err != nil {
		return netmux.ListeningInfo{}, err
	}

	fd, err := dupListenerNonblock(ln)
	if err != nil {
		_ = ln.Close()
		return netmux.ListeningInfo{}, err
	}

	l := &localResource{fd: fd, addr: ln.Addr(), ln: ln}
	return netmux.ListeningInfo{Local: l, LocalAddr: ln.Addr()}, nil
}

// dupNonblock extracts an independently-owned, non-blocking raw fd from
// conn without closing conn itself.
func dupNonblock(conn *net.TCPConn) (int, error) {
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

// fileListener is satisfied by *net.TCPListener and the *net.TCPListener
// go-reuseport's Listen returns under the hood.
type fileListener interface {
	File() (*os.File, error)
}

func dupListenerNonblock(ln net.Listener) (int, error) {
	fl, ok := ln.(fileListener)
	if !ok {
		return -1, netmux.ErrInvalidRemoteAddr
	}
	f, err := fl.File()
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

// localResource is the bound TCP listener, accepting connections via raw
// unix.Accept4 so every accepted socket starts life non-blocking without
// a second syscall round-trip.
type localResource struct {
	fd   int
	addr net.Addr
	ln   net.Listener // kept alive for Addr(); never read/written directly
}

func (l *localResource) FD() int { return l.fd }

func (l *localResource) LocalAddr() net.Addr { return l.addr }

func (l *localResource) Accept(acceptRemote func(netmux.AcceptedType)) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		peer, err := sockaddr.ToTCPAddr(sa)
		if err != nil {
			_ = unix.Close(nfd)
			continue
		}
		r := newRemote(nfd, l.addr, peer, nil)
		acceptRemote(netmux.AcceptedType{Kind: netmux.AcceptedRemote, Addr: peer, Resource: r})
	}
}

func (l *localResource) Close() error {
	err := unix.Close(l.fd)
	if l.ln != nil {
		_ = l.ln.Close()
	}
	return err
}

// remoteResource is one connected TCP peer. conn, when non-nil, is the
// original net.Conn kept alive purely for LocalAddr()/RemoteAddr(); all
// actual I/O goes through fd via raw syscalls.
type remoteResource struct {
	fd        int
	localAddr net.Addr
	peerAddr  net.Addr
	conn      net.Conn

	mu  sync.Mutex
	out *ringbuffer.RingBuffer
}

func newRemote(fd int, local, peer net.Addr, conn net.Conn) *remoteResource {
	return &remoteResource{fd: fd, localAddr: local, peerAddr: peer, conn: conn}
}

func (r *remoteResource) FD() int { return r.fd }

func (r *remoteResource) LocalAddr() net.Addr { return r.localAddr }

func (r *remoteResource) PeerAddr() net.Addr { return r.peerAddr }

// Receive drains the socket edge-triggered, invoking processData once
// per non-empty read, until EAGAIN, EOF (Disconnected) or a fatal error
// (Disconnected).
func (r *remoteResource) Receive(processData func(data []byte)) netmux.ReadStatus {
	buf := bufpool.Get(DefaultMaxPayload)
	defer bufpool.Put(buf)
	for {
		n, err := unix.Read(r.fd, buf)
		if n > 0 {
			processData(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN {
				return netmux.WaitNextEvent
			}
			return netmux.Disconnected
		}
		if n == 0 {
			return netmux.Disconnected
		}
	}
}

// Send writes data, buffering whatever a partial/WouldBlock write leaves
// over into r.out for the driver to flush on the next write-readiness
// wakeup (see HasPending/FlushPending).
func (r *remoteResource) Send(data []byte) netmux.SendStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out != nil && !r.out.IsEmpty() {
		_, _ = r.out.Write(data)
		return netmux.SentStatus()
	}

	n, err := r.writeLocked(data)
	if err != nil && err != unix.EAGAIN {
		return netmux.SentStatus()
	}
	if n < len(data) {
		r.ensureBuf()
		_, _ = r.out.Write(data[n:])
	}
	return netmux.SentStatus()
}

func (r *remoteResource) writeLocked(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := unix.Write(r.fd, data[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == unix.EAGAIN {
				return total, unix.EAGAIN
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

func (r *remoteResource) ensureBuf() {
	if r.out == nil {
		r.out = ringbuffer.New(4096)
	}
}

func (r *remoteResource) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out != nil && !r.out.IsEmpty()
}

// FlushPending retries writing buffered bytes, following the same
// ordering discipline as the teacher's reactor_linux.go: keep draining
// outbound before anything else happens on this resource.
func (r *remoteResource) FlushPending() (done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil || r.out.IsEmpty() {
		return true, nil
	}
	pending := r.out.Bytes()
	n, werr := r.writeLocked(pending)
	r.out.Discard(n)
	if werr != nil && werr != unix.EAGAIN {
		return r.out.IsEmpty(), werr
	}
	return r.out.IsEmpty(), nil
}

func (r *remoteResource) Close() error {
	if r.conn != nil {
		_ = r.conn.Close()
	}
	return unix.Close(r.fd)
}
