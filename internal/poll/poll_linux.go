// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package poll wraps the Linux epoll readiness multiplexer behind a small
// interface the driver (see the root netmux package) can register sockets
// with from the application thread while the I/O thread blocks inside
// Wait. It plays the role of the teacher's netpoll package (see
// reactor_linux.go's Polling/AddRead/Trigger), generalized so that every
// readiness notification carries a caller-chosen 32-bit id instead of a
// raw file descriptor.
package poll

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const maxWaitEvents = 256

// Poll wraps one epoll instance. Registration (Add/Modify/Remove) may be
// called concurrently with Wait from another goroutine: epoll_ctl and
// epoll_wait on the same epoll fd are safe to run on different threads,
// so cross-thread registration requires no additional locking at this
// layer.
type Poll struct {
	fd       int // epoll fd
	wakeupFD int // eventfd used to interrupt a blocked Wait

	mu  sync.Mutex
	fds map[uint32]int // id -> raw fd of each registered resource; Remove takes the fd from its caller
}

// New creates an epoll instance.
func New() (*Poll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeupFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	p := &Poll{fd: fd, wakeupFD: wakeupFD, fds: make(map[uint32]int)}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeupFD)}
	if err := unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wakeupFD, &ev); err != nil {
		_ = unix.Close(wakeupFD)
		_ = unix.Close(fd)
		return nil, err
	}
	return p, nil
}

// Register is a namespace handed out by CreateRegister for one
// (adapter id, resource type) pair. It only exists so call sites read the
// way spec §4.1 describes ("create_register(adapter_id, kind)"); all
// namespaces share the same underlying epoll instance.
type Register struct {
	poll *Poll
}

// CreateRegister allocates a namespace for a (adapter, kind) pair.
func (p *Poll) CreateRegister(adapterID uint8, kind uint8) *Register {
	return &Register{poll: p}
}

// Add registers fd for read readiness (edge-triggered), tagged with id.
// The adapter must drain fd until EAGAIN on every wakeup.
func (r *Register) Add(fd int, id uint32) error {
	return r.poll.addFD(fd, id, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLET)
}

// AddReadWrite registers fd for both read and write readiness.
func (r *Register) AddReadWrite(fd int, id uint32) error {
	return r.poll.addFD(fd, id, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLRDHUP|unix.EPOLLET)
}

// ModifyWritable toggles whether write-readiness is requested for id,
// mirroring the teacher's outboundBuffer.IsEmpty() gate in
// reactor_linux.go: a resource only asks for EPOLLOUT while it has a
// pending write.
func (r *Register) ModifyWritable(fd int, id uint32, writable bool) error {
	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET)
	if writable {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(id)}
	return unix.EpollCtl(r.poll.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (r *Register) Remove(fd int, id uint32) error {
	r.poll.mu.Lock()
	delete(r.poll.fds, id)
	r.poll.mu.Unlock()
	return unix.EpollCtl(r.poll.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Poll) addFD(fd int, id uint32, events uint32) error {
	p.mu.Lock()
	p.fds[id] = fd
	p.mu.Unlock()
	ev := unix.EpollEvent{Events: events, Fd: int32(id)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Event describes one ready resource delivered by Wait.
type Event struct {
	ID          uint32
	Readable    bool
	Writable    bool
	HangupOrErr bool
}

// Wait blocks up to timeout for readiness, invoking handler once per
// ready resource, then returns. A zero timeout polls without blocking; a
// negative one blocks indefinitely. Wait is only ever called from the I/O
// thread.
func (p *Poll) Wait(timeout time.Duration, handler func(Event)) error {
	var events [maxWaitEvents]unix.EpollEvent
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.fd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		if int(ev.Fd) == p.wakeupFD || uint32(ev.Fd) == uint32(p.wakeupFD) {
			p.drainWakeup()
			continue
		}
		handler(Event{
			ID:          uint32(ev.Fd),
			Readable:    ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable:    ev.Events&unix.EPOLLOUT != 0,
			HangupOrErr: ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return nil
}

func (p *Poll) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakeupFD, buf[:])
		if err != nil {
			return
		}
	}
}

// Wake interrupts a blocked Wait call, used to fast-path the I/O thread's
// exit instead of waiting for the next sampling timeout.
func (p *Poll) Wake() error {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(p.wakeupFD, one)
	return err
}

// Close releases the epoll instance and its wakeup eventfd.
func (p *Poll) Close() error {
	_ = unix.Close(p.wakeupFD)
	return unix.Close(p.fd)
}
