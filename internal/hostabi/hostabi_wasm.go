// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build wasm

package hostabi

import (
	"unsafe"

	"github.com/asl-project/celeste-splitter/internal/arch"
)

// These are the byte-exact host imports: pointers and lengths are 32-bit
// indices into the plugin's own linear memory, addresses in the attached
// process are 64-bit.

//go:wasmimport env print_message
func importPrintMessage(ptr, length uint32)

//go:wasmimport env attach
func importAttach(ptr, length uint32) uint64

//go:wasmimport env detach
func importDetach(handle uint64)

//go:wasmimport env get_module
func importGetModule(handle uint64, ptr, length uint32) uint64

//go:wasmimport env read_mem
func importReadMem(handle uint64, address uint64, buf uint32, bufLength uint32) uint32

//go:wasmimport env start
func importStart()

//go:wasmimport env split
func importSplit()

//go:wasmimport env reset
func importReset()

//go:wasmimport env pause_game_time
func importPauseGameTime()

//go:wasmimport env resume_game_time
func importResumeGameTime()

//go:wasmimport env set_game_time
func importSetGameTime(seconds float64)

//go:wasmimport env set_tick_rate
func importSetTickRate(hz float64)

//go:wasmimport env set_variable
func importSetVariable(keyPtr, keyLen, valPtr, valLen uint32)

//go:wasmimport env get_timer_state
func importGetTimerState() uint32

func ptrOf(s string) uint32 {
	if len(s) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(unsafe.StringData(s))))
}

func ptrOfBuf(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&b[0])))
}

// wasmHost is the Host implementation that actually talks to the timer
// host. It carries no state of its own; every call is a direct foreign
// call.
type wasmHost struct{}

// Default is the Host the plugin's composition root should use. It is only
// meaningful once loaded by a host that provides the env module imports.
var Default Host = wasmHost{}

func (wasmHost) Print(msg string) {
	importPrintMessage(ptrOf(msg), uint32(len(msg)))
}

func (wasmHost) Attach(name string) (Handle, bool) {
	h := importAttach(ptrOf(name), uint32(len(name)))
	if h == 0 {
		return 0, false
	}
	return Handle(h), true
}

func (wasmHost) Detach(h Handle) {
	importDetach(uint64(h))
}

func (wasmHost) GetModule(h Handle, name string) (arch.Address, bool) {
	a := importGetModule(uint64(h), ptrOf(name), uint32(len(name)))
	if a == 0 {
		return 0, false
	}
	return arch.Address(a), true
}

func (wasmHost) ReadMem(h Handle, addr arch.Address, buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	return importReadMem(uint64(h), uint64(addr), ptrOfBuf(buf), uint32(len(buf))) != 0
}

func (wasmHost) Start()   { importStart() }
func (wasmHost) Split()   { importSplit() }
func (wasmHost) Reset()   { importReset() }
func (wasmHost) Pause()   { importPauseGameTime() }
func (wasmHost) Unpause() { importResumeGameTime() }

func (wasmHost) SetGameTime(seconds float64) { importSetGameTime(seconds) }
func (wasmHost) SetTickRate(hz float64)      { importSetTickRate(hz) }

func (wasmHost) SetVariable(key, value string) {
	importSetVariable(ptrOf(key), uint32(len(key)), ptrOf(value), uint32(len(value)))
}

func (wasmHost) GetTimerState() TimerState {
	return TimerState(importGetTimerState())
}
