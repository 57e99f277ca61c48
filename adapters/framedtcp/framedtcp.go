// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package framedtcp implements netmux's length-prefixed TCP transport:
// each Send is delivered as exactly one decoded message on the peer,
// using smallnest/goframe's length-field framing over a TCP stream.
//
// goframe's FrameConn reads and writes against a blocking net.Conn, which
// doesn't fit the single-I/O-thread, edge-triggered epoll model the tcp
// adapter uses directly. Instead, each remoteResource runs its own
// blocking ReadFrame loop on a dedicated goroutine and signals the
// driver's I/O thread through a pipe registered with the poller, the same
// "hand blocking work to a bounded helper, wake the reactor" shape the
// engine's janitor uses for stale-handshake sweeps. Writes go straight
// through FrameConn.WriteFrame on whichever goroutine calls Send; when
// that is the I/O thread (a callback sending re-entrantly), the I/O loop
// waits until the write completes.
package framedtcp

import (
	"encoding/binary"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/libp2p/go-reuseport"
	"github.com/smallnest/goframe"

	"github.com/hatch-io/netmux"
	"github.com/hatch-io/netmux/internal/sockaddr"
)

// DefaultMaxPayload bounds a single frame's payload: Send rejects larger
// data with MaxPacketSizeExceeded, and received frames larger than it are
// dropped without being delivered.
const DefaultMaxPayload = 16 * 1024 * 1024

const lengthFieldBytes = 4

// Adapter implements netmux.Adapter for length-prefixed TCP framing.
type Adapter struct {
	opts       *netmux.ResourceOptions
	maxPayload int
}

// New creates a framed-TCP adapter.
func New(options ...netmux.Option) *Adapter {
	opts := netmux.InitOptions(options...)
	maxPayload := DefaultMaxPayload
	if opts.MaxPayload > 0 {
		maxPayload = opts.MaxPayload
	}
	return &Adapter{opts: opts, maxPayload: maxPayload}
}

func (a *Adapter) Name() string { return "framed-tcp" }

func (a *Adapter) ConnectionOriented() bool { return true }

func frameConfig() (goframe.EncoderConfig, goframe.DecoderConfig) {
	enc := goframe.EncoderConfig{
		ByteOrder:                       binary.LittleEndian,
		LengthFieldLength:               lengthFieldBytes,
		LengthAdjustment:                0,
		LengthIncludesLengthFieldLength: false,
	}
	dec := goframe.DecoderConfig{
		ByteOrder:           binary.LittleEndian,
		LengthFieldOffset:   0,
		LengthFieldLength:   lengthFieldBytes,
		LengthAdjustment:    0,
		InitialBytesToStrip: lengthFieldBytes,
	}
	return enc, dec
}

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
	r, err := newRemote(conn, a.maxPayload)
	if err != nil {
		_ = conn.Close()
		return netmux.ConnectionInfo{}, err
	}
	return netmux.ConnectionInfo{Remote: r, LocalAddr: conn.LocalAddr(), PeerAddr: conn.RemoteAddr()}, nil
}

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
	fl, ok := ln.(interface{ File() (*os.File, error) })
	if !ok {
		_ = ln.Close()
		return netmux.ListeningInfo{}, netmux.ErrInvalidRemoteAddr
	}
	f, err := fl.File()
	if err != nil {
		_ = ln.Close()
		return netmux.ListeningInfo{}, err
	}
	fd := int(f.Fd())
	dupFd, err := unix.Dup(fd)
	_ = f.Close()
	if err != nil {
		_ = ln.Close()
		return netmux.ListeningInfo{}, err
	}
	if err := unix.SetNonblock(dupFd, true); err != nil {
		_ = unix.Close(dupFd)
		_ = ln.Close()
		return netmux.ListeningInfo{}, err
	}
	l := &localResource{fd: dupFd, addr: ln.Addr(), ln: ln, maxPayload: a.maxPayload, keepAlive: a.opts.TCPKeepAlive}
	return netmux.ListeningInfo{Local: l, LocalAddr: ln.Addr()}, nil
}

type localResource struct {
	fd         int
	addr       net.Addr
	ln         net.Listener
	maxPayload int
	keepAlive  time.Duration
}

func (l *localResource) FD() int { return l.fd }

func (l *localResource) LocalAddr() net.Addr { return l.addr }

func (l *localResource) Accept(acceptRemote func(netmux.AcceptedType)) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		peer, perr := sockaddr.ToTCPAddr(sa)
		if perr != nil {
			_ = unix.Close(nfd)
			continue
		}
		// net.FileConn dups nfd again and hands it to the runtime poller
		// for the blocking-style Read/Write goframe's FrameConn needs;
		// close our copy once the dup succeeds.
		f := os.NewFile(uintptr(nfd), "framedtcp-conn")
		conn, cerr := net.FileConn(f)
		_ = f.Close()
		if cerr != nil {
			continue
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			_ = conn.Close()
			continue
		}
		if l.keepAlive > 0 {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(l.keepAlive)
		}
		r, rerr := newRemote(tcpConn, l.maxPayload)
		if rerr != nil {
			_ = tcpConn.Close()
			continue
		}
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

// remoteResource is one framed-TCP peer, backed by a goframe FrameConn
// and a background decode goroutine.
type remoteResource struct {
	conn       *net.TCPConn
	fc         goframe.FrameConn
	maxPayload int

	notifyR, notifyW *os.File

	mu     sync.Mutex
	frames [][]byte
	closed bool
	readErr error

	sendMu sync.Mutex
}

func newRemote(conn *net.TCPConn, maxPayload int) (*remoteResource, error) {
	enc, dec := frameConfig()
	fc := goframe.NewLengthFieldBasedFrameConn(enc, dec, conn)
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	r := &remoteResource{conn: conn, fc: fc, maxPayload: maxPayload, notifyR: pr, notifyW: pw}
	go r.decodeLoop()
	return r, nil
}

func (r *remoteResource) decodeLoop() {
	for {
		frame, err := r.fc.ReadFrame()
		r.mu.Lock()
		if err != nil {
			r.closed = true
			r.readErr = err
			r.mu.Unlock()
			r.signal()
			return
		}
		if len(frame) > r.maxPayload {
			// Oversize frames are dropped rather than buffered; the
			// connection is left alive (mirrors Send's
			// MaxPacketSizeExceeded: reject the payload, not the peer).
			r.mu.Unlock()
			continue
		}
		cp := append([]byte(nil), frame...)
		r.frames = append(r.frames, cp)
		r.mu.Unlock()
		r.signal()
	}
}

func (r *remoteResource) signal() {
	_, _ = r.notifyW.Write([]byte{1})
}

func (r *remoteResource) FD() int { return int(r.notifyR.Fd()) }

func (r *remoteResource) LocalAddr() net.Addr { return r.conn.LocalAddr() }

func (r *remoteResource) PeerAddr() net.Addr { return r.conn.RemoteAddr() }

// Receive drains decoded frames accumulated by decodeLoop and the pipe
// bytes that woke the poller for them.
func (r *remoteResource) Receive(processData func(data []byte)) netmux.ReadStatus {
	var discard [64]byte
	for {
		n, err := unix.Read(int(r.notifyR.Fd()), discard[:])
		if n <= 0 && err != nil {
			break
		}
	}
	r.mu.Lock()
	frames := r.frames
	r.frames = nil
	closed := r.closed
	r.mu.Unlock()

	for _, f := range frames {
		processData(f)
	}
	if closed {
		return netmux.Disconnected
	}
	return netmux.WaitNextEvent
}

// Send writes one length-prefixed frame synchronously. When called from
// the I/O thread (a callback sending re-entrantly), a blocking write
// holds up the I/O loop until it completes.
func (r *remoteResource) Send(data []byte) netmux.SendStatus {
	if len(data) > r.maxPayload {
		return netmux.TooLargeStatus(len(data), r.maxPayload)
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if err := r.fc.WriteFrame(data); err != nil {
		return netmux.NotAvailableStatus()
	}
	return netmux.SentStatus()
}

// HasPending is always false: writes are synchronous, there is no
// driver-managed outbound buffer for this adapter.
func (r *remoteResource) HasPending() bool { return false }

func (r *remoteResource) FlushPending() (bool, error) { return true, nil }

func (r *remoteResource) Close() error {
	_ = r.notifyR.Close()
	_ = r.notifyW.Close()
	return r.conn.Close()
}
