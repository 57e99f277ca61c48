//go:build !linux

package poll

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned by New on platforms other than Linux.
// The teacher ships separate reactors per OS (kqueue on BSD/Darwin, IOCP
// on Windows); only the epoll backend was in scope for this port.
var ErrUnsupportedPlatform = errors.New("netmux: poll: only linux (epoll) is implemented")

type Poll struct{}

func New() (*Poll, error) { return nil, ErrUnsupportedPlatform }

type Register struct{}

func (p *Poll) CreateRegister(adapterID uint8, kind uint8) *Register { return &Register{} }

func (r *Register) Add(fd int, id uint32) error                            { return ErrUnsupportedPlatform }
func (r *Register) AddReadWrite(fd int, id uint32) error                   { return ErrUnsupportedPlatform }
func (r *Register) ModifyWritable(fd int, id uint32, writable bool) error  { return ErrUnsupportedPlatform }
func (r *Register) Remove(fd int, id uint32) error                        { return ErrUnsupportedPlatform }

type Event struct {
	ID          uint32
	Readable    bool
	Writable    bool
	HangupOrErr bool
}

func (p *Poll) Wait(timeout time.Duration, handler func(Event)) error { return ErrUnsupportedPlatform }
func (p *Poll) Wake() error                                           { return ErrUnsupportedPlatform }
func (p *Poll) Close() error                                          { return nil }
