// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package netmux

import "time"

// Option is a function that configures an adapter's ResourceOptions,
// following gnet's own Option func(*Options) pattern (see
// _examples/darinkes-gnet/options.go).
type Option func(opts *ResourceOptions)

// ResourceOptions are settings shared across the bundled adapters
// (adapters/tcp, adapters/framedtcp, adapters/udp, adapters/ws). Not
// every adapter uses every field (UDP ignores TCPKeepAlive, for
// instance); unused fields are simply no-ops for that adapter.
type ResourceOptions struct {
	// ReusePort sets SO_REUSEPORT on listen, via libp2p/go-reuseport —
	// the same library and semantics as the teacher's WithReusePort.
	ReusePort bool

	// TCPKeepAlive (SO_KEEPALIVE) socket option; zero disables it.
	TCPKeepAlive time.Duration

	// MaxPayload bounds a single adapter-level message/frame; 0 means
	// "adapter default" (see the DefaultMaxPayload const of
	// adapters/framedtcp and adapters/ws). adapters/tcp and adapters/udp
	// do not read this field.
	MaxPayload int
}

// InitOptions applies a list of Options over the zero value, exactly like
// the teacher's initOptions.
func InitOptions(options ...Option) *ResourceOptions {
	opts := new(ResourceOptions)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// WithReusePort sets up the SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *ResourceOptions) { opts.ReusePort = reusePort }
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option.
func WithTCPKeepAlive(d time.Duration) Option {
	return func(opts *ResourceOptions) { opts.TCPKeepAlive = d }
}

// WithMaxPayload overrides an adapter's default maximum message size.
func WithMaxPayload(n int) Option {
	return func(opts *ResourceOptions) { opts.MaxPayload = n }
}
