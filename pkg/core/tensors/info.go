// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors defines Info, the descriptor of a tensor living on a compute device.
//
// An Info holds the logical shape of the tensor, its quantization, its number of channels
// and the padding (halo) allocated around axis 0. Tiled kernels read whole tiles along
// axis 0, so they may touch the padding elements, which must be initialized by a border
// handler before the kernel runs.
//
// The storage layout is: axis 0 is contiguous, and each "row" (one position of all the
// other axes) occupies Padding.Left + Dim(0) + Padding.Right elements.
package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/pkg/core/shapes"
)

// QuantizationInfo holds the affine quantization parameters of a quantized tensor:
// real value = Scale * (quantized value - Offset).
type QuantizationInfo struct {
	Scale  float32
	Offset int32
}

// Padding along axis 0, in number of elements.
type Padding struct {
	Left, Right int
}

// Info describes a tensor: shape, quantization, number of channels and axis-0 padding.
//
// The zero value is invalid. Use MakeInfo to create one.
type Info struct {
	Shape shapes.Shape

	// Quantization is nil for non-quantized tensors.
	Quantization *QuantizationInfo

	// NumChannels of each element. Defaults to 1; channels are interleaved with axis 0,
	// so kernels that don't handle channels require it to be 1.
	NumChannels int

	// Padding along axis 0.
	Padding Padding
}

// MakeInfo returns an Info for a non-quantized tensor of the given shape, with 1 channel and no padding.
func MakeInfo(shape shapes.Shape) Info {
	if !shape.Ok() {
		exceptions.Panicf("tensors.MakeInfo(%s): invalid shape", shape)
	}
	return Info{Shape: shape.Clone(), NumChannels: 1}
}

// MakeQuantizedInfo returns an Info for a quantized tensor of the given shape, with 1 channel and no padding.
func MakeQuantizedInfo(shape shapes.Shape, scale float32, offset int32) Info {
	info := MakeInfo(shape)
	info.Quantization = &QuantizationInfo{Scale: scale, Offset: offset}
	return info
}

// Ok returns whether the Info holds a valid shape.
func (info *Info) Ok() bool { return info != nil && info.Shape.Ok() }

// DType of the elements.
func (info *Info) DType() dtypes.DType { return info.Shape.DType }

// Rank of the tensor.
func (info *Info) Rank() int { return info.Shape.Rank() }

// Dim returns the dimension of the given axis.
func (info *Info) Dim(axis int) int { return info.Shape.Dim(axis) }

// IsQuantized returns whether the tensor holds quantized values.
func (info *Info) IsQuantized() bool { return info.Quantization != nil }

// Clone returns a deep copy of the Info, including padding.
func (info *Info) Clone() Info {
	clone := *info
	clone.Shape = info.Shape.Clone()
	if info.Quantization != nil {
		q := *info.Quantization
		clone.Quantization = &q
	}
	return clone
}

// WithShape returns a deep copy of the Info with a new shape and no padding.
// Quantization and number of channels are preserved.
func (info *Info) WithShape(shape shapes.Shape) Info {
	clone := info.Clone()
	clone.Shape = shape.Clone()
	clone.Padding = Padding{}
	return clone
}

// ExtendPadding grows the padding so that it is at least the given one. It never shrinks it.
// It returns whether the padding changed.
func (info *Info) ExtendPadding(padding Padding) bool {
	changed := false
	if padding.Left > info.Padding.Left {
		info.Padding.Left = padding.Left
		changed = true
	}
	if padding.Right > info.Padding.Right {
		info.Padding.Right = padding.Right
		changed = true
	}
	return changed
}

// RowStride is the number of elements between two consecutive rows along axis 0, padding included.
func (info *Info) RowStride() int {
	if info.Rank() == 0 {
		return 1 + info.Padding.Left + info.Padding.Right
	}
	return info.Padding.Left + info.Dim(0) + info.Padding.Right
}

// NumRows is the number of axis-0 rows, that is, the product of the dimensions of all other axes.
func (info *Info) NumRows() int {
	if info.Rank() == 0 {
		return 1
	}
	return info.Shape.Size() / info.Dim(0)
}

// StorageLen is the number of elements needed to store the tensor, padding included.
func (info *Info) StorageLen() int {
	return info.RowStride() * info.NumRows()
}

// Memory is the number of bytes needed to store the tensor, padding included.
func (info *Info) Memory() uintptr {
	return info.DType().Memory() * uintptr(info.StorageLen())
}

// Strides returns for each axis the distance in the storage, in elements, between
// two consecutive positions along that axis.
func (info *Info) Strides() []int {
	rank := info.Rank()
	strides := make([]int, rank)
	stride := 1
	for axis := range rank {
		strides[axis] = stride
		if axis == 0 {
			stride = info.RowStride()
		} else {
			stride *= info.Dim(axis)
		}
	}
	return strides
}

// FlatIndex returns the position in the storage of the element at the given coordinates.
// The coordinate on axis 0 may fall into the padding: from -Padding.Left to Dim(0)+Padding.Right-1.
func (info *Info) FlatIndex(coords ...int) int {
	if len(coords) != info.Rank() {
		exceptions.Panicf("FlatIndex(%v) with %d coordinates for tensor of rank %d", coords, len(coords), info.Rank())
	}
	if info.Rank() == 0 {
		return info.Padding.Left
	}
	idx := info.Padding.Left + coords[0]
	stride := info.RowStride()
	for axis := 1; axis < len(coords); axis++ {
		idx += coords[axis] * stride
		stride *= info.Dim(axis)
	}
	return idx
}

// RowStart returns the position in the storage of the first (non-padding) element of the given row.
func (info *Info) RowStart(row int) int {
	return row*info.RowStride() + info.Padding.Left
}

// String pretty-prints the Info.
func (info *Info) String() string {
	if info == nil {
		return "<nil>"
	}
	var parts []string
	parts = append(parts, info.Shape.String())
	if info.IsQuantized() {
		parts = append(parts, fmt.Sprintf("quantized(scale=%g, offset=%d)", info.Quantization.Scale, info.Quantization.Offset))
	}
	if info.NumChannels > 1 {
		parts = append(parts, fmt.Sprintf("channels=%d", info.NumChannels))
	}
	if info.Padding != (Padding{}) {
		parts = append(parts, fmt.Sprintf("padding=[%d,%d]", info.Padding.Left, info.Padding.Right))
	}
	return strings.Join(parts, " ")
}
