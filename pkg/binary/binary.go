// Copyright 2026 The e2meta Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package binary translates between fixed-sized on-disk structures and their
// byte representation.
//
// Every ext on-disk structure is little endian regardless of the host, so the
// codec always encodes with an explicit byte order instead of keeping a
// byte-swapped shadow copy of the structure.
package binary

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// ByteOrder can both decode integers and append their encoding.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// LittleEndian is encoding/binary.LittleEndian as a ByteOrder.
var LittleEndian ByteOrder = binary.LittleEndian

// Marshal appends the encoding of data to buf and returns the result.
//
// data must only contain fixed-length signed and unsigned ints, arrays,
// structs and compositions of said types. data may be a pointer, but cannot
// contain pointers. Blank (_) fields are written like any other field.
func Marshal(buf []byte, order ByteOrder, data any) []byte {
	return appendValue(buf, order, reflect.Indirect(reflect.ValueOf(data)))
}

func appendValue(buf []byte, order ByteOrder, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			buf = appendValue(buf, order, v.Index(i))
		}
		return buf
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			buf = appendValue(buf, order, v.Field(i))
		}
		return buf
	}

	var u uint64
	if v.CanInt() {
		u = uint64(v.Int())
	} else if v.CanUint() {
		u = v.Uint()
	}
	switch intSize(v) {
	case 1:
		return append(buf, byte(u))
	case 2:
		return order.AppendUint16(buf, uint16(u))
	case 4:
		return order.AppendUint32(buf, uint32(u))
	default:
		return order.AppendUint64(buf, u)
	}
}

// Unmarshal decodes buf into data.
//
// data must be a slice or a pointer and buf must have a length of exactly
// Size(data). The types allowed are those of Marshal. Fields that cannot be
// set, such as blank fields, are skipped.
func Unmarshal(buf []byte, order ByteOrder, data any) {
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Ptr:
		v = v.Elem()
	case reflect.Slice:
	default:
		panic("invalid type: " + v.Type().String())
	}
	if rest := decodeValue(buf, order, v); len(rest) != 0 {
		panic(fmt.Sprintf("buffer too long by %d bytes", len(rest)))
	}
}

func decodeValue(buf []byte, order ByteOrder, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			buf = decodeValue(buf, order, v.Index(i))
		}
		return buf
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				buf = decodeValue(buf, order, f)
			} else {
				buf = buf[sizeof(f):]
			}
		}
		return buf
	}

	n := intSize(v)
	var u uint64
	switch n {
	case 1:
		u = uint64(buf[0])
	case 2:
		u = uint64(order.Uint16(buf))
	case 4:
		u = uint64(order.Uint32(buf))
	default:
		u = order.Uint64(buf)
	}
	if v.CanInt() {
		// Sign extend from the encoded width.
		shift := 64 - 8*n
		v.SetInt(int64(u<<shift) >> shift)
	} else {
		v.SetUint(u)
	}
	return buf[n:]
}

// intSize returns the encoded size of the fixed-size integer v and panics for
// any other type.
func intSize(v reflect.Value) uintptr {
	switch v.Kind() {
	case reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32:
		return 4
	case reflect.Int64, reflect.Uint64:
		return 8
	}
	panic("invalid type: " + v.Type().String())
}

// Size returns the buffer size needed by Marshal or Unmarshal for v.
func Size(v any) uintptr {
	return sizeof(reflect.Indirect(reflect.ValueOf(v)))
}

func sizeof(v reflect.Value) uintptr {
	var size uintptr
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			size += sizeof(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			size += sizeof(v.Field(i))
		}
	default:
		size = intSize(v)
	}
	return size
}
