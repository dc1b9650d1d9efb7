// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build wasm

// Command celeste-splitter is the autosplitter plugin itself: a WASM
// module loaded by a LiveSplit-style timer host. It wires the host ABI
// (internal/hostabi), the Celeste game adapter (internal/celeste), and the
// split state machine (internal/splits) into the two hooks the host calls.
//
// There is exactly one splitter singleton for the lifetime of the loaded
// module. A WASM plugin instance is single-threaded by construction, so a
// package-level variable is enough to hold it.
package main

import (
	"github.com/asl-project/celeste-splitter/internal/hostabi"
	"github.com/asl-project/celeste-splitter/internal/splits"
)

var singleton *splits.Machine

//go:wasmexport configure
func configure() {
	singleton = splits.New(hostabi.Default)
}

//go:wasmexport update
func update() {
	singleton.Update()
}
