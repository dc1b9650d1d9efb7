// Copyright 2014 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains the address arithmetic shared by the process
// handle and reflection layers. The attached game is always a 64-bit
// little-endian amd64 process, but the byte-order and width constants are
// still named in one place rather than inlined at call sites.
package arch

import "encoding/binary"

// PointerSize is the width, in bytes, of an address or pointer-sized
// field in the attached process.
const PointerSize = 8

// ByteOrder is the byte order of all multi-byte values read from the
// attached process.
var ByteOrder binary.ByteOrder = binary.LittleEndian

// An Address names a location in the attached process's memory. It is
// opaque except for arithmetic offsets.
type Address uint64

// Add returns the address offset by n bytes.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

// Sub returns the number of bytes between a and b (a - b).
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}
