// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package celeste

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/hostabi/hostabitest"
	"github.com/asl-project/celeste-splitter/internal/mono"
)

// Offsets mirrored from internal/mono's unexported layout, as mono_test.go
// does for that package's own tests.
const (
	classKindOffset        = 0x24
	classNameOffset        = 0x40
	classVTableSizeOffset  = 0x54
	classFieldsOffset      = 0x90
	classRuntimeInfoOffset = 0xc8
	classFieldCountOffset  = 0xf0
	classNextInHashOffset  = 0xf8

	cacheTableSizeOffset = 0x18
	cacheBucketsOffset   = 0x20

	runtimeInfoMaxDomainOffset = 0x0
	runtimeInfoVTableBase      = 0x8
	vtableStaticFieldsBase     = 64

	monoClassFieldSize = 32
)

type field struct {
	name   string
	offset uint32
}

// world is a fake process's memory, built one Mono structure at a time, the
// same way mono_test.go's harness builds fixtures for the reflector alone.
type world struct {
	host *hostabitest.Host
	next arch.Address
}

func newWorld() *world {
	return &world{host: hostabitest.New(), next: arch.Address(0x200000)}
}

func (w *world) alloc(n int64) arch.Address {
	a := w.next
	w.next = w.next.Add(n + 64)
	return a
}

func (w *world) putU32(addr arch.Address, v uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	w.host.WriteBytes(addr, buf)
}

func (w *world) putU64(addr arch.Address, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	w.host.WriteBytes(addr, buf)
}

func (w *world) putAddr(addr, v arch.Address) { w.putU64(addr, uint64(v)) }

func (w *world) putByte(addr arch.Address, v byte) { w.host.WriteBytes(addr, []byte{v}) }

func (w *world) putCString(s string) arch.Address {
	addr := w.alloc(int64(len(s) + 1))
	w.host.WriteBytes(addr, append([]byte(s), 0))
	return addr
}

// putClass writes a Def-kind class with the given name and fields.
func (w *world) putClass(name string, fields []field) arch.Address {
	class := w.alloc(0x100)
	w.putByte(class.Add(classKindOffset), byte(mono.Def))
	w.putAddr(class.Add(classNameOffset), w.putCString(name))
	w.putU32(class.Add(classFieldCountOffset), uint32(len(fields)))
	w.putAddr(class.Add(classNextInHashOffset), 0)

	fieldsArr := w.alloc(int64(len(fields)) * monoClassFieldSize)
	for i, f := range fields {
		base := fieldsArr.Add(int64(i) * monoClassFieldSize)
		w.putU64(base, 0)
		w.putAddr(base.Add(8), w.putCString(f.name))
		w.putU64(base.Add(16), 0)
		w.putU32(base.Add(24), f.offset)
		w.putU32(base.Add(28), 0)
	}
	w.putAddr(class.Add(classFieldsOffset), fieldsArr)
	return class
}

// putStaticSlot wires class with a one-domain vtable whose slot past its
// pointer entries points at a fresh static-field storage area, and returns
// the address of that area.
func (w *world) putStaticSlot(class arch.Address) arch.Address {
	runtimeInfo := w.alloc(0x20)
	w.putU32(runtimeInfo.Add(runtimeInfoMaxDomainOffset), 0)
	vtable := w.alloc(0x200)
	w.putAddr(runtimeInfo.Add(runtimeInfoVTableBase), vtable)
	w.putAddr(class.Add(classRuntimeInfoOffset), runtimeInfo)
	w.putU32(class.Add(classVTableSizeOffset), 2)
	staticArea := w.alloc(0x40)
	w.putAddr(vtable.Add(vtableStaticFieldsBase+2*arch.PointerSize), staticArea)
	return staticArea
}

// putCacheAt writes a one-bucket-per-class cache at a pre-chosen address,
// matching the fixed classCache address discover() computes.
func (w *world) putCacheAt(cache arch.Address, classes []arch.Address) {
	w.putU32(cache.Add(cacheTableSizeOffset), uint32(len(classes)))
	buckets := w.alloc(int64(len(classes)) * arch.PointerSize)
	for i, c := range classes {
		w.putAddr(buckets.Add(int64(i)*arch.PointerSize), c)
	}
	w.putAddr(cache.Add(cacheBucketsOffset), buckets)
}

// newInstance allocates a managed instance whose class-pointer slot
// resolves to class, as internal/mono.InstanceClass expects.
func (w *world) newInstance(class arch.Address) arch.Address {
	instance := w.alloc(0x40)
	slotPtr := w.alloc(0x10)
	w.putAddr(instance, slotPtr)
	w.putAddr(slotPtr, class)
	return instance
}

// wireDomain writes a minimal domain/assembly/image chain at domainListAddr,
// naming assemblyName as the main assembly, and returns the class cache
// address discover() will compute from it.
func (w *world) wireDomain(assemblyName string) arch.Address {
	first := w.alloc(0x200)
	namePtrAddr := w.alloc(0x10)
	w.putAddr(first.Add(domainAssemblyNameOffset), namePtrAddr)
	w.putAddr(namePtrAddr, w.putCString(assemblyName))

	assembly := w.alloc(0x100)
	w.putAddr(first.Add(assemblyOffsetInDomain), assembly)
	image := w.alloc(0x2000)
	w.putAddr(assembly.Add(imageOffsetInAssembly), image)

	// domainListAddr holds a pointer to the list base; the list base in
	// turn holds the first and second domain pointers (discover() reads
	// through both levels of indirection).
	listBase := w.alloc(0x20)
	w.putAddr(listBase, first)
	w.putAddr(listBase.Add(arch.PointerSize), 0) // no second domain
	w.putAddr(domainListAddr, listBase)

	return image.Add(classCacheOffsetInImage)
}

func TestAttachWrongProcess(t *testing.T) {
	w := newWorld()
	w.wireDomain("NotCeleste.exe")
	w.host.SetProcess(ProcessName)

	_, err := Attach(w.host)
	if !errors.Is(err, ErrWrongProcess) {
		t.Fatalf("Attach = %v, want ErrWrongProcess", err)
	}
	if _, ok := w.host.Attach(ProcessName); !ok {
		t.Errorf("Attach should release the handle on failure so a retry can reattach")
	}
}

func TestAttachNoDomain(t *testing.T) {
	w := newWorld()
	listBase := w.alloc(0x20)
	w.putAddr(listBase, 0) // first domain == 0
	w.putAddr(listBase.Add(arch.PointerSize), 0)
	w.putAddr(domainListAddr, listBase)
	w.host.SetProcess(ProcessName)

	_, err := Attach(w.host)
	if !errors.Is(err, ErrWrongProcess) {
		t.Fatalf("Attach with no first domain = %v, want ErrWrongProcess", err)
	}
}

// fixture is a fully wired fake Celeste process, ready for Attach.
type fixture struct {
	w           *world
	celesteClass, saveClass, engineClass, levelClass arch.Address
	saveInstance arch.Address
}

func newFixture() *fixture {
	w := newWorld()
	classCache := w.wireDomain(expectedAssemblyName)

	celesteClass := w.putClass("Celeste", []field{
		{"Instance", 8},
		{"AutoSplitterInfo", 16},
	})
	saveClass := w.putClass("SaveData", []field{
		{"Instance", 8},
		{"TotalDeaths", 16},
		{"Areas", 24},
	})
	engineClass := w.putClass("Engine", []field{{"scene", 8}})
	levelClass := w.putClass("Level", []field{{"InCutscene", 16}})
	w.putCacheAt(classCache, []arch.Address{celesteClass, saveClass, engineClass, levelClass})

	// Celeste.Instance: an object whose AutoSplitterInfo field, at offset
	// 16, points at a boxed object; the AutoSplitterInfo payload starts
	// just past that object's header.
	celesteInstance := w.newInstance(celesteClass)
	boxedInfo := w.alloc(0x100)
	w.putAddr(celesteInstance.Add(16), boxedInfo)
	celesteStatic := w.putStaticSlot(celesteClass)
	w.putAddr(celesteStatic.Add(8), celesteInstance)

	// SaveData.Instance: a save profile with a death counter.
	saveInstance := w.newInstance(saveClass)
	saveStatic := w.putStaticSlot(saveClass)
	w.putAddr(saveStatic.Add(8), saveInstance)

	return &fixture{
		w:             w,
		celesteClass:  celesteClass,
		saveClass:     saveClass,
		engineClass:   engineClass,
		levelClass:    levelClass,
		saveInstance:  saveInstance,
	}
}

func (f *fixture) attach(t *testing.T) *Adapter {
	t.Helper()
	f.w.host.SetProcess(ProcessName)
	a, err := Attach(f.w.host)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return a
}

func (f *fixture) writeInfo(t *testing.T, a *Adapter, asi AutoSplitterInfo) {
	t.Helper()
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&asi)), unsafe.Sizeof(asi))
	f.w.host.WriteBytes(a.infoAddr, buf)
}

func (f *fixture) setTotalDeaths(deaths uint32) {
	f.w.putU32(f.saveInstance.Add(16), deaths)
}

// TestAttachDiscoversFixedAddresses exercises discover()'s whole chain:
// domain -> assembly -> image -> class cache -> the four named classes ->
// Celeste.Instance -> AutoSplitterInfo.
func TestAttachDiscoversFixedAddresses(t *testing.T) {
	f := newFixture()
	a := f.attach(t)
	defer a.Close()

	if a.celesteClass != f.celesteClass || a.saveDataClass != f.saveClass ||
		a.engineClass != f.engineClass || a.levelClass != f.levelClass {
		t.Errorf("discover() resolved the wrong class addresses")
	}
}

// TestSnapshotFirstTickIsSaveSwap: the adapter's prevSave starts at zero,
// so the very first successful Snapshot always observes save != prevSave
// and reports it as a pending swap rather than real data.
func TestSnapshotFirstTickIsSaveSwap(t *testing.T) {
	f := newFixture()
	a := f.attach(t)
	defer a.Close()
	f.setTotalDeaths(3)
	f.writeInfo(t, a, AutoSplitterInfo{Chapter: -1})

	_, err := a.Snapshot()
	if !errors.Is(err, ErrSnapshotPending) {
		t.Fatalf("first Snapshot = %v, want ErrSnapshotPending", err)
	}

	// The second tick, with the same save, should succeed.
	info, err := a.Snapshot()
	if err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	if info.DeathCount != 3 {
		t.Errorf("DeathCount = %d, want 3", info.DeathCount)
	}
	if info.InCutscene {
		t.Errorf("InCutscene = true, want false when chapter == -1")
	}
}

func TestSnapshotFailsWhenInfoUnreadable(t *testing.T) {
	f := newFixture()
	a := f.attach(t)
	defer a.Close()
	// infoAddr was never written to: the very first read must fail.
	_, err := a.Snapshot()
	if !errors.Is(err, ErrSnapshotPending) {
		t.Fatalf("Snapshot with unmapped AutoSplitterInfo = %v, want ErrSnapshotPending", err)
	}
}
