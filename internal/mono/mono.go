// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mono is the next layer up from procio: a Mono-family CLR
// reflector. Given only raw virtual addresses and the published struct
// offsets of the runtime, it resolves classes by name, resolves instance
// and static field offsets, walks instance→class→vtable chains, and
// decodes managed strings.
//
// Every operation here that names a class or field returns an error
// instead of panicking when the name isn't found — a panic here would
// tear down the host's whole timer session. A field that still reads zero
// because the game hasn't finished initializing (e.g. a static Instance
// field) is returned as a zero value with a nil error; callers treat it
// as absent.
package mono

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/asl-project/celeste-splitter/internal/arch"
	"github.com/asl-project/celeste-splitter/internal/procio"
)

// Mono class-layout offsets. Hard-coded to one build of the Mono runtime;
// named here rather than inlined at call sites.
const (
	classKindOffset       = 0x24 // low 3 bits = Kind
	classNameOffset       = 0x40 // C string pointer
	classVTableSizeOffset = 0x54 // u32
	classFieldsOffset     = 0x90 // MonoClassField array pointer
	classRuntimeInfoOffset = 0xc8
	classGenericDefOffset  = 0xe0 // for Kind == Ginst: pointer to generic type definition
	classFieldCountOffset  = 0xf0 // u32
	classNextInHashOffset  = 0xf8 // next-in-bucket-chain pointer

	cacheTableSizeOffset = 0x18 // u32
	cacheBucketsOffset   = 0x20 // pointer to array of class pointers

	runtimeInfoMaxDomainOffset = 0x0  // u32
	runtimeInfoVTableBase      = 0x8  // + 8*domain index
	vtableStaticFieldsBase     = 64   // vtable + 64 + 8*vtable_size

	monoClassFieldSize = 32 // ty:u64, name:u64, parent:u64, offset:u32, padded to 8-byte alignment
)

// Kind is the tagged variant over the low 3 bits of a class's kind byte.
// Only Def, Gtd, and Ginst are expected during field resolution.
type Kind uint8

const (
	Def    Kind = 1 // non-generic type
	Gtd    Kind = 2 // generic type definition
	Ginst  Kind = 3 // generic instantiation
	Gparam Kind = 4 // generic parameter
	Array  Kind = 5 // vector or array, bounded or not
	Pointer Kind = 6 // pointer or function pointer
)

func (k Kind) String() string {
	switch k {
	case Def:
		return "Def"
	case Gtd:
		return "Gtd"
	case Ginst:
		return "Ginst"
	case Gparam:
		return "Gparam"
	case Array:
		return "Array"
	case Pointer:
		return "Pointer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrUnexpectedKind is wrapped into the returned error whenever field
// resolution encounters a class of a kind other than Def, Gtd, or Ginst.
// This is a misuse of the reflector, but it is still returned rather than
// a panic: the caller (the adapter/tick loop) treats it exactly like a
// FailedRead and retries on the next tick.
var ErrUnexpectedKind = errors.New("mono: unexpected class kind during field resolution")

// ErrClassNotFound is returned by LookupClass when no bucket in the class
// cache yields a class with the requested name.
var ErrClassNotFound = errors.New("mono: class not found")

// ErrFieldNotFound is returned when a named field isn't present on a
// class. It is never a silent zero offset.
var ErrFieldNotFound = errors.New("mono: field not found")

// Reflector resolves names to addresses inside a game's managed heap,
// through a process handle.
//
// Field-offset resolution memoizes by (class, name): the per-tick hot path
// makes no name lookups once the adapter is built, so the first resolution
// of a given field pays the linear-search cost and every later tick's
// lookup of the same field is a map hit.
type Reflector struct {
	h            *procio.Handle
	offsetCache  map[fieldKey]uint32
}

type fieldKey struct {
	class arch.Address
	name  string
}

// New wraps a process handle in a Reflector.
func New(h *procio.Handle) *Reflector {
	return &Reflector{h: h, offsetCache: make(map[fieldKey]uint32)}
}

// ClassName reads the NUL-terminated name string of a class.
func (r *Reflector) ClassName(class arch.Address) (string, error) {
	namePtr, err := procio.Read[arch.Address](r.h, class.Add(classNameOffset))
	if err != nil {
		return "", fmt.Errorf("mono: reading class name pointer: %w", err)
	}
	s, err := r.readCString(namePtr)
	if err != nil {
		return "", fmt.Errorf("mono: reading class name: %w", err)
	}
	return s, nil
}

// ClassKind reads the low 3 bits of a class's kind byte.
func (r *Reflector) ClassKind(class arch.Address) (Kind, error) {
	b, err := procio.Read[byte](r.h, class.Add(classKindOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading class kind: %w", err)
	}
	return Kind(b & 0b111), nil
}

// LookupClass walks the hash chain of each bucket in a class cache until
// it finds a class whose name equals name, returning the first match.
//
// The original prototype panics if no bucket yields a match; here that's
// ErrClassNotFound, a routine and recoverable outcome while the game is
// still loading the assembly that defines the class.
func (r *Reflector) LookupClass(cache arch.Address, name string) (arch.Address, error) {
	tableSize, err := procio.Read[uint32](r.h, cache.Add(cacheTableSizeOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading class cache table size: %w", err)
	}
	buckets, err := procio.Read[arch.Address](r.h, cache.Add(cacheBucketsOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading class cache buckets: %w", err)
	}
	for bucket := uint32(0); bucket < tableSize; bucket++ {
		class, err := procio.Read[arch.Address](r.h, buckets.Add(int64(bucket)*arch.PointerSize))
		if err != nil {
			return 0, fmt.Errorf("mono: reading class cache bucket %d: %w", bucket, err)
		}
		for class != 0 {
			n, err := r.ClassName(class)
			if err != nil {
				return 0, err
			}
			if n == name {
				return class, nil
			}
			class, err = procio.Read[arch.Address](r.h, class.Add(classNextInHashOffset))
			if err != nil {
				return 0, fmt.Errorf("mono: walking class hash chain: %w", err)
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// ClassStaticFields resolves the address of the static-field storage area
// for class, in the first app-domain that has loaded it.
//
// Single-domain assumption: an assembly may be loaded into multiple
// app-domains (the game's own modded domain, for instance); this always
// takes the first nonzero vtable it finds, which is correct for Celeste
// because only one domain is ever relevant to the autosplitter.
func (r *Reflector) ClassStaticFields(class arch.Address) (arch.Address, error) {
	vtableSize, err := procio.Read[uint32](r.h, class.Add(classVTableSizeOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading vtable size: %w", err)
	}
	runtimeInfo, err := procio.Read[arch.Address](r.h, class.Add(classRuntimeInfoOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading runtime info pointer: %w", err)
	}
	maxDomains, err := procio.Read[uint32](r.h, runtimeInfo.Add(runtimeInfoMaxDomainOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading max domain index: %w", err)
	}
	for i := uint32(0); i <= maxDomains; i++ {
		vtable, err := procio.Read[arch.Address](r.h, runtimeInfo.Add(runtimeInfoVTableBase+int64(i)*arch.PointerSize))
		if err != nil {
			return 0, fmt.Errorf("mono: reading domain %d vtable: %w", i, err)
		}
		if vtable == 0 {
			continue
		}
		fields, err := procio.Read[arch.Address](r.h, vtable.Add(vtableStaticFieldsBase+int64(vtableSize)*arch.PointerSize))
		if err != nil {
			return 0, fmt.Errorf("mono: reading static field area: %w", err)
		}
		return fields, nil
	}
	return 0, fmt.Errorf("mono: class isn't loaded in any domain")
}

// monoClassField is the C-layout of one entry in a class's fields array.
type monoClassField struct {
	Type   uint64
	Name   uint64
	Parent uint64
	Offset uint32
	_      uint32 // padding to 8-byte alignment
}

// ClassFieldOffset resolves the byte offset of a named field on class.
//
// Ginst classes recurse onto their generic type definition: the offset of
// a field present on the definition is the same on every instantiation.
// Def and Gtd classes are searched directly. Any other kind reaching here
// is ErrUnexpectedKind.
func (r *Reflector) ClassFieldOffset(class arch.Address, name string) (uint32, error) {
	key := fieldKey{class, name}
	if off, ok := r.offsetCache[key]; ok {
		return off, nil
	}
	off, err := r.classFieldOffsetUncached(class, name)
	if err != nil {
		return 0, err
	}
	r.offsetCache[key] = off
	return off, nil
}

func (r *Reflector) classFieldOffsetUncached(class arch.Address, name string) (uint32, error) {
	kind, err := r.ClassKind(class)
	if err != nil {
		return 0, err
	}
	switch kind {
	case Ginst:
		genericDefPtr, err := procio.Read[arch.Address](r.h, class.Add(classGenericDefOffset))
		if err != nil {
			return 0, fmt.Errorf("mono: reading generic definition pointer: %w", err)
		}
		genericDef, err := procio.Read[arch.Address](r.h, genericDefPtr)
		if err != nil {
			return 0, fmt.Errorf("mono: dereferencing generic definition: %w", err)
		}
		return r.ClassFieldOffset(genericDef, name)
	case Def, Gtd:
		// fall through to linear search below
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedKind, kind)
	}

	numFields, err := procio.Read[uint32](r.h, class.Add(classFieldCountOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading field count: %w", err)
	}
	fieldsAddr, err := procio.Read[arch.Address](r.h, class.Add(classFieldsOffset))
	if err != nil {
		return 0, fmt.Errorf("mono: reading fields array pointer: %w", err)
	}
	buf := make([]byte, int(numFields)*monoClassFieldSize)
	if err := r.h.ReadInto(fieldsAddr, buf); err != nil {
		return 0, fmt.Errorf("mono: reading fields array: %w", err)
	}
	for i := 0; i < int(numFields); i++ {
		var f monoClassField
		off := i * monoClassFieldSize
		f.Type = binary.LittleEndian.Uint64(buf[off:])
		f.Name = binary.LittleEndian.Uint64(buf[off+8:])
		f.Parent = binary.LittleEndian.Uint64(buf[off+16:])
		f.Offset = binary.LittleEndian.Uint32(buf[off+24:])
		fieldName, err := r.readCString(arch.Address(f.Name))
		if err != nil {
			return 0, fmt.Errorf("mono: reading field name: %w", err)
		}
		if fieldName == name {
			return f.Offset, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrFieldNotFound, name)
}

// InstanceClass resolves the class of a managed instance, masking off the
// GC tag bit first: the class of a tagged address is the same as the
// class of the plain address.
func (r *Reflector) InstanceClass(instance arch.Address) (arch.Address, error) {
	slot, err := procio.Read[arch.Address](r.h, instance&^1)
	if err != nil {
		return 0, fmt.Errorf("mono: reading instance class-pointer slot: %w", err)
	}
	class, err := procio.Read[arch.Address](r.h, slot)
	if err != nil {
		return 0, fmt.Errorf("mono: reading instance class: %w", err)
	}
	return class, nil
}

// InstanceField reads a T-typed instance field of instance by name.
func InstanceField[T any](r *Reflector, instance arch.Address, name string) (T, error) {
	var zero T
	class, err := r.InstanceClass(instance)
	if err != nil {
		return zero, err
	}
	offset, err := r.ClassFieldOffset(class, name)
	if err != nil {
		return zero, err
	}
	return procio.Read[T](r.h, instance.Add(int64(offset)))
}

// StaticField reads a T-typed static field of class by name.
func StaticField[T any](r *Reflector, class arch.Address, name string) (T, error) {
	var zero T
	base, err := r.ClassStaticFields(class)
	if err != nil {
		return zero, err
	}
	offset, err := r.ClassFieldOffset(class, name)
	if err != nil {
		return zero, err
	}
	return procio.Read[T](r.h, base.Add(int64(offset)))
}

// ReadBoxedString decodes a boxed managed string: an m_stringLength u32
// field and an m_firstChar UTF-16 array field.
func (r *Reflector) ReadBoxedString(instance arch.Address) (string, error) {
	class, err := r.InstanceClass(instance)
	if err != nil {
		return "", err
	}
	dataOffset, err := r.ClassFieldOffset(class, "m_firstChar")
	if err != nil {
		return "", err
	}
	sizeOffset, err := r.ClassFieldOffset(class, "m_stringLength")
	if err != nil {
		return "", err
	}
	length, err := procio.Read[uint32](r.h, instance.Add(int64(sizeOffset)))
	if err != nil {
		return "", fmt.Errorf("mono: reading string length: %w", err)
	}
	buf := make([]byte, int(length)*2)
	if err := r.h.ReadInto(instance.Add(int64(dataOffset)), buf); err != nil {
		return "", fmt.Errorf("mono: reading string data: %w", err)
	}
	units := make([]uint16, length)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	// Invalid code units are lossily replaced, never a failed tick.
	return string(utf16.Decode(units)), nil
}

// ReadCString reads a NUL-terminated string directly at addr. It's the
// escape hatch the game adapter uses for the handful of raw pointer chases
// (domain and assembly bookkeeping) that happen before any class is known,
// and so can't go through ClassName or a field lookup.
func (r *Reflector) ReadCString(addr arch.Address) (string, error) {
	return r.readCString(addr)
}

// readCString reads a NUL-terminated string at addr, one chunk at a time.
// Class and field names in the Mono metadata are short and ASCII, so a
// single bounded read is enough in practice; this grows the read if it
// doesn't find a terminator. A chunk that cannot be read whole (it runs
// past readable memory) is re-read a byte at a time up to the terminator.
func (r *Reflector) readCString(addr arch.Address) (string, error) {
	const chunk = 64
	const maxLen = 4096
	var out []byte
	for total := 0; total < maxLen; total += chunk {
		buf := make([]byte, chunk)
		if err := r.h.ReadInto(addr.Add(int64(total)), buf); err != nil {
			for i := 0; i < chunk; i++ {
				b, err := procio.Read[byte](r.h, addr.Add(int64(total+i)))
				if err != nil {
					return "", err
				}
				if b == 0 {
					return string(out), nil
				}
				out = append(out, b)
			}
			continue
		}
		if i := indexByte(buf, 0); i >= 0 {
			out = append(out, buf[:i]...)
			return string(out), nil
		}
		out = append(out, buf...)
	}
	return "", fmt.Errorf("mono: C string exceeds %d bytes without a NUL terminator", maxLen)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
