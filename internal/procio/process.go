// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procio is used to read typed values out of an attached game
// process through the timer host's read_mem import. You attach once and
// read from addresses in the attached process, the "inferior".
//
// The inferior is live and can exit or unmap memory between ticks, so
// every Read* operation here returns an error instead of panicking.
package procio

import (
	"errors"
	"unsafe"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/hostabi"
)

// ErrNotAttached is returned by Attach when the host reports the named
// process is not currently running. This is an expected, routine outcome.
var ErrNotAttached = errors.New("procio: process not found")

// ErrFailedRead is returned by any read that the host could not satisfy in
// full. Partial reads are failures.
var ErrFailedRead = errors.New("procio: failed read")

// A Handle exclusively owns an attachment token issued by the host. While
// a Handle exists, the host guarantees the token is valid for reads; Close
// releases the token exactly once.
type Handle struct {
	host   hostabi.Host
	token  hostabi.Handle
	closed bool
}

// Attach opens a Handle on the named process. It returns ErrNotAttached,
// not a panic, if the process isn't running — callers are expected to
// retry on a later tick.
func Attach(host hostabi.Host, name string) (*Handle, error) {
	token, ok := host.Attach(name)
	if !ok {
		return nil, ErrNotAttached
	}
	return &Handle{host: host, token: token}, nil
}

// Close releases the attachment. It is safe to call more than once; only
// the first call detaches.
func (h *Handle) Close() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.host.Detach(h.token)
}

// Module returns the base address of a loaded module by name.
func (h *Handle) Module(name string) (arch.Address, bool) {
	return h.host.GetModule(h.token, name)
}

// ReadInto reads len(buf) bytes from addr into buf.
func (h *Handle) ReadInto(addr arch.Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if !h.host.ReadMem(h.token, addr, buf) {
		return ErrFailedRead
	}
	return nil
}

// Read reads sizeof(T) bytes at addr and reinterprets them as a value of
// T. T must be a fixed-width numeric type, a bool (decoded byte-for-byte,
// not via a strict 0/1 constructor), or a C-layout struct built only from
// such types: T's byte image must be valid for any bit pattern the
// inferior might hand back. Never instantiate Read with a pointer, slice,
// string, interface, or map type.
func Read[T any](h *Handle, addr arch.Address) (T, error) {
	var v T
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	if err := h.ReadInto(addr, buf); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
