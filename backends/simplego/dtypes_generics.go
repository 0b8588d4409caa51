// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// FuncForDispatcher is type of functions that the DTypeDispatcher can handle.
type FuncForDispatcher func(params ...any)

const MaxDTypes = 32

// DTypeDispatcher calls the function registered for a dtype.
type DTypeDispatcher struct {
	Name  string
	fnMap [MaxDTypes]FuncForDispatcher
}

// NewDTypeDispatcher creates a new dispatcher for a class of functions.
func NewDTypeDispatcher(name string) *DTypeDispatcher {
	return &DTypeDispatcher{
		Name: name,
	}
}

// Dispatch call the function that matches the dtype.
func (d *DTypeDispatcher) Dispatch(dtype dtypes.DType, params ...any) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	fn := d.fnMap[dtype]
	if fn == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	fn(params...)
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (d *DTypeDispatcher) Register(dtype dtypes.DType, fn FuncForDispatcher) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	d.fnMap[dtype] = fn
}

// IsRegistered returns whether there is a function registered for dtype.
func (d *DTypeDispatcher) IsRegistered(dtype dtypes.DType) bool {
	return dtype < MaxDTypes && d.fnMap[dtype] != nil
}

// SupportedDTypes enumerates the dtypes of tensors supported by SimpleGo.
var SupportedDTypes = []dtypes.DType{
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
}

func isSupportedDType(dtype dtypes.DType) bool {
	for _, supported := range SupportedDTypes {
		if dtype == supported {
			return true
		}
	}
	return false
}

// PODNumericConstraints are used for generics for the Golang pod (plain-old-data) types.
// BFloat16 and Float16 are not included because they are specialized types, not natively supported by Go.
type PODNumericConstraints interface {
	constraints.Integer | constraints.Float
}

// accumulatorConstraints are the types in which kernels accumulate values.
type accumulatorConstraints interface {
	int64 | uint64 | float32 | float64
}

// elementConverter converts between a storage type T and its accumulator type A.
type elementConverter[T any, A accumulatorConstraints] struct {
	load  func(T) A
	store func(A) T
}

func podConverter[T PODNumericConstraints, A accumulatorConstraints]() elementConverter[T, A] {
	return elementConverter[T, A]{
		load:  func(v T) A { return A(v) },
		store: func(v A) T { return T(v) },
	}
}

var float16Converter = elementConverter[float16.Float16, float32]{
	load:  func(v float16.Float16) float32 { return v.Float32() },
	store: float16.Fromfloat32,
}

var bfloat16Converter = elementConverter[bfloat16.BFloat16, float32]{
	load:  func(v bfloat16.BFloat16) float32 { return v.Float32() },
	store: bfloat16.FromFloat32,
}

// saturatingConverter is used by quantized types: values beyond the range of T are clamped.
func saturatingConverter[T constraints.Integer]() elementConverter[T, int64] {
	lowest, highest := integerRange[T]()
	return elementConverter[T, int64]{
		load: func(v T) int64 { return int64(v) },
		store: func(v int64) T {
			return T(min(max(v, lowest), highest))
		},
	}
}

// integerRange returns the lowest and highest values representable by T, as int64.
// For uint64 the highest is capped at math.MaxInt64.
func integerRange[T constraints.Integer]() (lowest, highest int64) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return math.MinInt8, math.MaxInt8
	case int16:
		return math.MinInt16, math.MaxInt16
	case int32:
		return math.MinInt32, math.MaxInt32
	case uint8:
		return 0, math.MaxUint8
	case uint16:
		return 0, math.MaxUint16
	case uint32:
		return 0, math.MaxUint32
	case uint64, uint, uintptr:
		return 0, math.MaxInt64
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// valueOf converts a float64 to the Go type of dtype, returned as any.
func valueOf(dtype dtypes.DType, v float64) any {
	switch dtype {
	case dtypes.Int8:
		return int8(v)
	case dtypes.Int16:
		return int16(v)
	case dtypes.Int32:
		return int32(v)
	case dtypes.Int64:
		return int64(v)
	case dtypes.Uint8:
		return uint8(v)
	case dtypes.Uint16:
		return uint16(v)
	case dtypes.Uint32:
		return uint32(v)
	case dtypes.Uint64:
		return uint64(v)
	case dtypes.Float16:
		return float16.Fromfloat32(float32(v))
	case dtypes.BFloat16:
		return bfloat16.FromFloat32(float32(v))
	case dtypes.Float32:
		return float32(v)
	case dtypes.Float64:
		return v
	}
	exceptions.Panicf("dtype %s not supported by backend %q", dtype, BackendName)
	return nil
}
