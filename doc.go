// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package netmux is a transport-agnostic, single-I/O-thread asynchronous
// network engine. It multiplexes connection-oriented byte streams,
// datagram protocols and framed protocols (e.g. WebSocket) behind one
// uniform interface: applications mount adapters onto a NetworkEngine,
// drive it with Listen/Connect/Send/Remove, and consume a single merged
// event stream (network events, application signals, and idle/start
// lifecycle events) from an EventQueue.
//
// The engine owns one background goroutine (the "I/O loop") that waits
// on a readiness poller and drives each adapter's state machine, plus a
// small bounded worker pool for periodic stale-handshake sweeps.
// Everything else — accept/connect/send/receive — is adapter-specific and
// pluggable; the core package never talks to a raw socket directly.
package netmux
