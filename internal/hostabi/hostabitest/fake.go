// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostabitest is an in-memory fake of the timer host ABI, standing
// in for a live game process and a live LiveSplit-style host. It is used
// by every other package's tests and by cmd/splitsim.
package hostabitest

import (
	"fmt"
	"sort"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/hostabi"
)

// Command records one timer operation the plugin issued, in the order
// issued, so tests can assert on the exact sequence.
type Command struct {
	Op    string // "start", "split", "reset", "pause", "unpause", "set_game_time", "set_tick_rate", "set_variable:<key>"
	Value string // for SetGameTime/SetTickRate/SetVariable-shaped ops
}

// Host is a fake hostabi.Host backed by a plain Go map of memory and a
// command log, rather than a real attached process.
type Host struct {
	Memory    map[arch.Address]byte
	Modules   map[string]arch.Address
	Processes map[string]hostabi.Handle // process name -> handle, 0 = absent

	state    hostabi.TimerState
	vars     map[string]string
	commands []Command
	prints   []string

	// FailReads, when non-nil, reports whether a read at the given
	// address should fail regardless of whether memory is populated;
	// used to simulate sustained read failures.
	FailReads func(addr arch.Address, length int) bool

	nextHandle hostabi.Handle
}

// New returns an empty fake host with no attached processes.
func New() *Host {
	return &Host{
		Memory:     make(map[arch.Address]byte),
		Modules:    make(map[string]arch.Address),
		Processes:  make(map[string]hostabi.Handle),
		vars:       make(map[string]string),
		nextHandle: 1,
	}
}

// WriteBytes populates memory starting at addr, as if the game process had
// that data resident there.
func (h *Host) WriteBytes(addr arch.Address, data []byte) {
	for i, b := range data {
		h.Memory[addr.Add(int64(i))] = b
	}
}

// SetProcess registers name as attachable and returns the handle that will
// be issued for it.
func (h *Host) SetProcess(name string) hostabi.Handle {
	handle := h.nextHandle
	h.nextHandle++
	h.Processes[name] = handle
	return handle
}

// Commands returns the command log in issue order.
func (h *Host) Commands() []Command { return h.commands }

// Prints returns every message passed to Print, in order.
func (h *Host) Prints() []string { return h.prints }

// Variable returns the last value set_variable published for key.
func (h *Host) Variable(key string) (string, bool) {
	v, ok := h.vars[key]
	return v, ok
}

// SetTimerState lets a test drive the host's reported timer state, as if
// the player had manually paused or reset the run.
func (h *Host) SetTimerState(s hostabi.TimerState) { h.state = s }

func (h *Host) Print(msg string) {
	h.prints = append(h.prints, msg)
}

func (h *Host) Attach(name string) (hostabi.Handle, bool) {
	handle, ok := h.Processes[name]
	if !ok || handle == 0 {
		return 0, false
	}
	return handle, true
}

func (h *Host) Detach(handle hostabi.Handle) {
	for name, hh := range h.Processes {
		if hh == handle {
			h.Processes[name] = 0
		}
	}
}

func (h *Host) GetModule(_ hostabi.Handle, name string) (arch.Address, bool) {
	a, ok := h.Modules[name]
	return a, ok
}

func (h *Host) ReadMem(_ hostabi.Handle, addr arch.Address, buf []byte) bool {
	if h.FailReads != nil && h.FailReads(addr, len(buf)) {
		return false
	}
	for i := range buf {
		b, ok := h.Memory[addr.Add(int64(i))]
		if !ok {
			return false
		}
		buf[i] = b
	}
	return true
}

func (h *Host) Start()   { h.commands = append(h.commands, Command{Op: "start"}) }
func (h *Host) Split()   { h.commands = append(h.commands, Command{Op: "split"}) }
func (h *Host) Reset()   { h.commands = append(h.commands, Command{Op: "reset"}) }
func (h *Host) Pause()   { h.commands = append(h.commands, Command{Op: "pause"}) }
func (h *Host) Unpause() { h.commands = append(h.commands, Command{Op: "unpause"}) }

func (h *Host) SetGameTime(seconds float64) {
	h.commands = append(h.commands, Command{Op: "set_game_time", Value: fmt.Sprintf("%.3f", seconds)})
}

func (h *Host) SetTickRate(hz float64) {
	h.commands = append(h.commands, Command{Op: "set_tick_rate", Value: fmt.Sprintf("%g", hz)})
}

func (h *Host) SetVariable(key, value string) {
	h.vars[key] = value
	h.commands = append(h.commands, Command{Op: "set_variable:" + key, Value: value})
}

func (h *Host) GetTimerState() hostabi.TimerState { return h.state }

// OpCounts returns how many times each op name was issued, for assertions
// that don't care about exact ordering.
func (h *Host) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, c := range h.commands {
		counts[c.Op]++
	}
	return counts
}

// SortedModuleNames returns the registered module names in sorted order,
// a small convenience for diagnostics output.
func (h *Host) SortedModuleNames() []string {
	names := make([]string, 0, len(h.Modules))
	for n := range h.Modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
