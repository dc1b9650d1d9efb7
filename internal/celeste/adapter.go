// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package celeste is the game adapter: the one-time discovery of the
// specific classes and addresses this game exposes, and the per-tick
// derivation of an Info snapshot from them. Nothing else in this module
// knows the name "Celeste" or "SaveData"; this is the specialization
// point the generic mono reflector is built for.
package celeste

import (
	"fmt"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/hostabi"
	"github.com/asl-project/celeste-splitter/internal/mono"
	"github.com/asl-project/celeste-splitter/internal/procio"
)

// Fixed addresses and offsets tied to one build of the game. Named here,
// not inlined at call sites.
const (
	// domainListAddr is the absolute address of Mono's domain list
	// pointer in this build of the game's main module.
	domainListAddr = arch.Address(0xA17698)

	// classCacheOffsetInImage is the offset from a MonoImage to its
	// embedded class cache.
	classCacheOffsetInImage = 1216 // 0x4C0

	// assemblyOffsetInDomain is the offset from a MonoDomain to its
	// MonoAssembly pointer.
	assemblyOffsetInDomain = 0xd0

	// imageOffsetInAssembly is the offset from a MonoAssembly to its
	// MonoImage pointer.
	imageOffsetInAssembly = 0x60

	// domainAssemblyNameOffset is the offset from a MonoDomain to the
	// address holding its main assembly's name-string pointer.
	domainAssemblyNameOffset = 0xd8

	// splitterInfoHeaderSize is the size of the managed object header
	// that precedes the AutoSplitterInfo payload's boxed fields.
	splitterInfoHeaderSize = 0x10

	expectedAssemblyName = "Celeste.exe"
)

// Adapter owns the process handle and the one-time discovery of Celeste's
// classes and singleton addresses. It is weak with respect to the game's
// own memory: every address it caches is a non-owning observation, valid
// only while the process handle is live.
type Adapter struct {
	handle *procio.Handle
	ref    *mono.Reflector

	celesteClass  arch.Address
	saveDataClass arch.Address
	engineClass   arch.Address
	levelClass    arch.Address

	celesteInstance arch.Address
	infoAddr        arch.Address

	// Per-tick scratch, carried across ticks.
	prevSave  arch.Address
	modeStats arch.Address
}

// ErrWrongProcess is returned when a process of the expected name attached
// but its first domain's main assembly isn't Celeste.exe — i.e. the name
// match was a coincidence or the process is mid-startup in an
// unrecognizable way. Callers should drop the handle and retry later, the
// same as NotAttached.
var ErrWrongProcess = fmt.Errorf("celeste: attached process is not %s", expectedAssemblyName)

// ProcessName is the executable name the host attaches to.
const ProcessName = "Celeste"

// Attach attaches to the running game, if any, and performs the one-time
// class/address discovery. On any failure the returned process handle has
// already been closed; callers should retry attachment on a later tick.
func Attach(host hostabi.Host) (*Adapter, error) {
	handle, err := procio.Attach(host, ProcessName)
	if err != nil {
		return nil, err
	}
	a, err := discover(handle)
	if err != nil {
		handle.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the underlying process handle.
func (a *Adapter) Close() {
	a.handle.Close()
}

func discover(handle *procio.Handle) (*Adapter, error) {
	ref := mono.New(handle)

	domainList, err := procio.Read[arch.Address](handle, domainListAddr)
	if err != nil {
		return nil, fmt.Errorf("celeste: reading domain list: %w", err)
	}
	first, err := procio.Read[arch.Address](handle, domainList)
	if err != nil {
		return nil, fmt.Errorf("celeste: reading first domain: %w", err)
	}
	second, err := procio.Read[arch.Address](handle, domainList.Add(arch.PointerSize))
	if err != nil {
		return nil, fmt.Errorf("celeste: reading second domain: %w", err)
	}

	if first == 0 {
		return nil, ErrWrongProcess
	}
	namePtrAddr, err := procio.Read[arch.Address](handle, first.Add(domainAssemblyNameOffset))
	if err != nil {
		return nil, fmt.Errorf("celeste: reading assembly name pointer: %w", err)
	}
	namePtr, err := procio.Read[arch.Address](handle, namePtrAddr)
	if err != nil {
		return nil, fmt.Errorf("celeste: reading assembly name address: %w", err)
	}
	assemblyName, err := ref.ReadCString(namePtr)
	if err != nil {
		return nil, fmt.Errorf("celeste: reading assembly name: %w", err)
	}
	if assemblyName != expectedAssemblyName {
		return nil, ErrWrongProcess
	}

	// The main assembly's second domain is the game's own modded domain
	// when one exists; it's the active domain whenever present.
	domain := second
	if domain == 0 {
		domain = first
	}

	assembly, err := procio.Read[arch.Address](handle, domain.Add(assemblyOffsetInDomain))
	if err != nil {
		return nil, fmt.Errorf("celeste: reading assembly: %w", err)
	}
	image, err := procio.Read[arch.Address](handle, assembly.Add(imageOffsetInAssembly))
	if err != nil {
		return nil, fmt.Errorf("celeste: reading image: %w", err)
	}
	classCache := image.Add(classCacheOffsetInImage)

	a := &Adapter{handle: handle, ref: ref}
	classLookups := []struct {
		name string
		dst  *arch.Address
	}{
		{"Celeste", &a.celesteClass},
		{"SaveData", &a.saveDataClass},
		{"Engine", &a.engineClass},
		{"Level", &a.levelClass},
	}
	for _, lookup := range classLookups {
		class, err := ref.LookupClass(classCache, lookup.name)
		if err != nil {
			return nil, fmt.Errorf("celeste: locating class %s: %w", lookup.name, err)
		}
		*lookup.dst = class
	}

	celesteInstance, err := mono.StaticField[arch.Address](ref, a.celesteClass, "Instance")
	if err != nil {
		return nil, fmt.Errorf("celeste: locating Celeste.Instance: %w", err)
	}
	if celesteInstance == 0 {
		return nil, fmt.Errorf("celeste: Celeste.Instance not yet initialized")
	}
	splitterInfo, err := mono.InstanceField[arch.Address](ref, celesteInstance, "AutoSplitterInfo")
	if err != nil {
		return nil, fmt.Errorf("celeste: locating AutoSplitterInfo: %w", err)
	}

	a.celesteInstance = celesteInstance
	a.infoAddr = splitterInfo.Add(splitterInfoHeaderSize)
	return a, nil
}
