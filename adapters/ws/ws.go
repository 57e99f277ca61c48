// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package ws implements netmux's WebSocket transport using
// gorilla/websocket. Both the client-side Dial and the server-side HTTP
// upgrade handshake are driven synchronously by gorilla/websocket, which
// blocks the calling goroutine until the handshake completes; that
// doesn't fit the single-I/O-thread model directly, so each Remote runs
// its handshake on a dedicated goroutine (same shape as adapters/framedtcp's
// decodeLoop) and reports itself as pending until it finishes. A resource
// stuck mid-handshake for too long (a slow or dead peer) is eventually
// reclaimed by the engine's janitor via HandshakeStartedAt.
//
// Sends issued against a still-pending Remote are queued and flushed once
// the handshake completes, rather than rejected, so application code
// never has to special-case "not connected yet".
package ws

import (
	"bufio"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"github.com/hatch-io/netmux"
)

// DefaultMaxPayload is the default maximum message size (32 MiB): it is
// set as each connection's read limit and checked by Send.
const DefaultMaxPayload = 32 * 1024 * 1024

// Adapter implements netmux.Adapter for WebSocket.
type Adapter struct {
	opts       *netmux.ResourceOptions
	maxPayload int64
	upgrader   websocket.Upgrader
	dialer     websocket.Dialer
}

// New creates a WebSocket adapter.
func New(options ...netmux.Option) *Adapter {
	opts := netmux.InitOptions(options...)
	maxPayload := int64(DefaultMaxPayload)
	if opts.MaxPayload > 0 {
		maxPayload = int64(opts.MaxPayload)
	}
	return &Adapter{
		opts:       opts,
		maxPayload: maxPayload,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		dialer:     websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (a *Adapter) Name() string { return "ws" }

func (a *Adapter) ConnectionOriented() bool { return true }

// Connect dials a ws:// or wss:// URL. remote must be URL-addressed
// (netmux.URLRemoteAddr); the handshake runs on a background goroutine
// and the Remote starts in the pending-handshake state.
func (a *Adapter) Connect(remote netmux.RemoteAddr) (netmux.ConnectionInfo, error) {
	if !remote.IsURL() {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}
	u, err := url.Parse(remote.URL())
	if err != nil {
		return netmux.ConnectionInfo{}, netmux.ErrInvalidRemoteAddr
	}
	r, err := newPendingRemote(a.maxPayload)
	if err != nil {
		return netmux.ConnectionInfo{}, err
	}
	go r.dial(&a.dialer, u.String())

	localAddr := &net.TCPAddr{}
	peerAddr := &wsAddr{url: u.String()}
	r.localAddr = localAddr
	r.peerAddr = peerAddr
	return netmux.ConnectionInfo{Remote: r, LocalAddr: localAddr, PeerAddr: peerAddr}, nil
}

// Listen binds a plain TCP listener that Accept drives raw, handing each
// accepted connection to a background goroutine that performs the HTTP
// upgrade handshake.
func (a *Adapter) Listen(addr net.Addr) (netmux.ListeningInfo, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return netmux.ListeningInfo{}, netmux.ErrInvalidRemoteAddr
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return netmux.ListeningInfo{}, err
	}
	f, err := ln.File()
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
	l := &localResource{fd: dupFd, addr: ln.Addr(), ln: ln, adapter: a}
	return netmux.ListeningInfo{Local: l, LocalAddr: ln.Addr()}, nil
}

// wsAddr is net.Addr over a WebSocket URL, for peers that were dialed by
// URL rather than a resolved socket address.
type wsAddr struct{ url string }

func (a *wsAddr) Network() string { return "ws" }
func (a *wsAddr) String() string  { return a.url }

type localResource struct {
	fd      int
	addr    net.Addr
	ln      net.Listener
	adapter *Adapter
}

func (l *localResource) FD() int { return l.fd }

func (l *localResource) LocalAddr() net.Addr { return l.addr }

func (l *localResource) Accept(acceptRemote func(netmux.AcceptedType)) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		var peer net.Addr = l.addr
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			peer = &net.TCPAddr{IP: append([]byte(nil), sa4.Addr[:]...), Port: sa4.Port}
		}
		f := os.NewFile(uintptr(nfd), "ws-conn")
		conn, cerr := net.FileConn(f)
		_ = f.Close()
		if cerr != nil {
			continue
		}
		r, rerr := newPendingRemote(l.adapter.maxPayload)
		if rerr != nil {
			_ = conn.Close()
			continue
		}
		r.localAddr = l.addr
		r.peerAddr = peer
		go r.upgrade(&l.adapter.upgrader, conn)
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

// remoteResource is one WebSocket peer. Before the handshake completes
// it only accumulates queued sends; afterward conn drives actual I/O and
// a background readLoop feeds decoded message frames into the same
// pipe-notify queue shape as adapters/framedtcp.
type remoteResource struct {
	maxPayload int64
	localAddr  net.Addr
	peerAddr   net.Addr

	notifyR, notifyW *os.File

	mu               sync.Mutex
	conn             *websocket.Conn
	handshakeStarted time.Time
	handshakePending bool
	handshakeFailed  bool
	pendingSends     [][]byte
	frames           [][]byte
	closed           bool
}

func newPendingRemote(maxPayload int64) (*remoteResource, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	return &remoteResource{
		maxPayload:       maxPayload,
		notifyR:          pr,
		notifyW:          pw,
		handshakeStarted: time.Now(),
		handshakePending: true,
	}, nil
}

func (r *remoteResource) dial(dialer *websocket.Dialer, url string) {
	conn, _, err := dialer.Dial(url, nil)
	r.finishHandshake(conn, err)
}

func (r *remoteResource) upgrade(upgrader *websocket.Upgrader, conn net.Conn) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		_ = conn.Close()
		r.finishHandshake(nil, err)
		return
	}
	hj := &hijackedConn{conn: conn, br: br}
	wsConn, err := upgrader.Upgrade(hj, req, nil)
	r.finishHandshake(wsConn, err)
}

func (r *remoteResource) finishHandshake(conn *websocket.Conn, err error) {
	r.mu.Lock()
	r.handshakePending = false
	if err != nil || conn == nil {
		r.handshakeFailed = true
		r.closed = true
		r.mu.Unlock()
		r.signal()
		return
	}
	conn.SetReadLimit(r.maxPayload)
	r.conn = conn
	queued := r.pendingSends
	r.pendingSends = nil
	r.mu.Unlock()
	for _, msg := range queued {
		_ = conn.WriteMessage(websocket.BinaryMessage, msg)
	}
	go r.readLoop(conn)
}

func (r *remoteResource) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		r.mu.Lock()
		if err != nil {
			r.closed = true
			r.mu.Unlock()
			r.signal()
			return
		}
		r.frames = append(r.frames, data)
		r.mu.Unlock()
		r.signal()
	}
}

func (r *remoteResource) signal() { _, _ = r.notifyW.Write([]byte{1}) }

func (r *remoteResource) FD() int { return int(r.notifyR.Fd()) }

func (r *remoteResource) LocalAddr() net.Addr { return r.localAddr }

func (r *remoteResource) PeerAddr() net.Addr { return r.peerAddr }

// HandshakeStartedAt implements the engine's staleHandshakeResource
// contract, letting the janitor reclaim a Remote stuck mid-handshake.
func (r *remoteResource) HandshakeStartedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handshakeStarted, r.handshakePending
}

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

// Send writes a binary message once the handshake has completed,
// otherwise queues it (see finishHandshake's flush).
func (r *remoteResource) Send(data []byte) netmux.SendStatus {
	if int64(len(data)) > r.maxPayload {
		return netmux.TooLargeStatus(len(data), int(r.maxPayload))
	}
	r.mu.Lock()
	if r.handshakeFailed || r.closed {
		r.mu.Unlock()
		return netmux.NotAvailableStatus()
	}
	if r.handshakePending {
		r.pendingSends = append(r.pendingSends, append([]byte(nil), data...))
		r.mu.Unlock()
		return netmux.SentStatus()
	}
	conn := r.conn
	r.mu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return netmux.NotAvailableStatus()
	}
	return netmux.SentStatus()
}

func (r *remoteResource) HasPending() bool           { return false }
func (r *remoteResource) FlushPending() (bool, error) { return true, nil }

func (r *remoteResource) Close() error {
	_ = r.notifyR.Close()
	_ = r.notifyW.Close()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// hijackedConn lets upgrader.Upgrade drive the WebSocket handshake over a
// connection we've already started reading the request from (via
// bufio.Reader br), by implementing the minimal http.ResponseWriter +
// http.Hijacker surface Upgrade needs.
type hijackedConn struct {
	conn net.Conn
	br   *bufio.Reader
	hdr  http.Header
}

func (h *hijackedConn) Header() http.Header {
	if h.hdr == nil {
		h.hdr = make(http.Header)
	}
	return h.hdr
}

func (h *hijackedConn) Write(b []byte) (int, error) { return h.conn.Write(b) }

func (h *hijackedConn) WriteHeader(int) {}

func (h *hijackedConn) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(h.br, bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}
