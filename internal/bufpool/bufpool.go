// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package bufpool hands out pooled scratch byte slices for adapters'
// read/accept drain loops, avoiding a fresh allocation on every readiness
// wakeup. It is a thin wrapper around gobwas/pool/pbytes's size-classed
// byte slice pool (a dependency carried from the teacher's go.mod).
package bufpool

import "github.com/gobwas/pool/pbytes"

// Default size classes: from a small control-frame scratch buffer up to
// the TCP/UDP adapters' largest single-read chunk.
const (
	minSize = 128
	maxSize = 64 * 1024
)

var pool = pbytes.New(minSize, maxSize)

// Get returns a scratch slice of length n, reused from the pool when
// possible.
func Get(n int) []byte {
	return pool.GetLen(n)
}

// Put returns b to the pool. Callers must not use b after calling Put.
func Put(b []byte) {
	pool.Put(b)
}
