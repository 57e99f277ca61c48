// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sockaddr converts between golang.org/x/sys/unix's raw
// unix.Sockaddr and the net package's address types, for adapters that
// drive sockets directly with unix.Accept4/unix.Recvfrom instead of
// net.Conn (see adapters/tcp and adapters/udp).
package sockaddr

import (
	"net"

	"golang.org/x/sys/unix"
)

// ToTCPAddr converts a raw accept/getpeername sockaddr into a *net.TCPAddr.
func ToTCPAddr(sa unix.Sockaddr) (*net.TCPAddr, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		ip := append([]byte(nil), a.Addr[:]...)
		var zone string
		if a.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				zone = iface.Name
			}
		}
		return &net.TCPAddr{IP: ip, Port: a.Port, Zone: zone}, nil
	default:
		return nil, errUnsupportedFamily
	}
}

// ToUDPAddr converts a raw recvfrom sockaddr into a *net.UDPAddr.
func ToUDPAddr(sa unix.Sockaddr) (*net.UDPAddr, error) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}, nil
	case *unix.SockaddrInet6:
		ip := append([]byte(nil), a.Addr[:]...)
		var zone string
		if a.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(a.ZoneId)); err == nil {
				zone = iface.Name
			}
		}
		return &net.UDPAddr{IP: ip, Port: a.Port, Zone: zone}, nil
	default:
		return nil, errUnsupportedFamily
	}
}

// FromUDPAddr converts a *net.UDPAddr into a raw unix.Sockaddr suitable
// for unix.Sendto.
func FromUDPAddr(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, errUnsupportedFamily
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip16)
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}
	return sa, nil
}

var errUnsupportedFamily = unsupportedFamilyError{}

type unsupportedFamilyError struct{}

func (unsupportedFamilyError) Error() string { return "sockaddr: unsupported address family" }
