// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/x448/float16"
)

// FillBorder implements backends.BorderHandler: it writes the padding elements of each axis-0 row.
type FillBorder struct {
	device    *Device
	tensor    *Tensor
	border    backends.BorderSize
	mode      backends.BorderMode
	fillValue float64
}

var _ backends.BorderHandler = (*FillBorder)(nil)

// Configure implements backends.BorderHandler.
//
// The border is limited to the padding of the tensor when the handler runs.
func (f *FillBorder) Configure(tensor backends.Tensor, border backends.BorderSize, mode backends.BorderMode, fillValue float64) {
	if !mode.IsABorderMode() {
		exceptions.Panicf("FillBorder.Configure(): invalid border mode %s", mode)
	}
	if border.Left < 0 || border.Right < 0 {
		exceptions.Panicf("FillBorder.Configure(): invalid border size %+v", border)
	}
	f.tensor = f.device.asTensor(tensor)
	f.border, f.mode, f.fillValue = border, mode, fillValue
}

// Name implements backends.WorkItem.
func (f *FillBorder) Name() string {
	if f.tensor == nil {
		return "FillBorder(unconfigured)"
	}
	return fmt.Sprintf("FillBorder(%s, [%d,%d], %s)", f.mode, f.border.Left, f.border.Right, f.tensor.info.Shape)
}

// Run implements backends.WorkItem: it fills the border synchronously.
func (f *FillBorder) Run() {
	f.prepare()()
}

// prepare takes a snapshot of the tensor storage, retaining it, and returns the function that
// fills the border and then releases it.
func (f *FillBorder) prepare() func() {
	if f.tensor == nil {
		exceptions.Panicf("FillBorder.Run(): handler not configured")
	}
	if f.mode == backends.BorderModeUndefined || f.border.Empty() {
		return func() {}
	}
	if f.tensor.handle == nil {
		exceptions.Panicf("%s: tensor %s has no storage -- not allocated, or its memory group not acquired", f.Name(), f.tensor)
	}
	handle, storage := retainStorage(f.tensor)
	params := &fillBorderParams{
		info:   f.tensor.info.Clone(),
		flat:   storage.flat,
		mode:   f.mode,
		device: f.device,
	}
	params.border.Left = min(f.border.Left, params.info.Padding.Left)
	params.border.Right = min(f.border.Right, params.info.Padding.Right)
	if f.mode == backends.BorderModeConstant {
		params.fillValue = valueOf(params.info.DType(), f.fillValue)
	}
	return func() {
		defer handle.Release()
		dispatchFillBorder.Dispatch(params.info.DType(), params)
	}
}

type fillBorderParams struct {
	info      tensors.Info
	flat      any
	border    backends.BorderSize
	mode      backends.BorderMode
	fillValue any
	device    *Device
}

var dispatchFillBorder = NewDTypeDispatcher("FillBorder")

func init() {
	dispatchFillBorder.Register(dtypes.Int8, execFillBorder[int8])
	dispatchFillBorder.Register(dtypes.Int16, execFillBorder[int16])
	dispatchFillBorder.Register(dtypes.Int32, execFillBorder[int32])
	dispatchFillBorder.Register(dtypes.Int64, execFillBorder[int64])
	dispatchFillBorder.Register(dtypes.Uint8, execFillBorder[uint8])
	dispatchFillBorder.Register(dtypes.Uint16, execFillBorder[uint16])
	dispatchFillBorder.Register(dtypes.Uint32, execFillBorder[uint32])
	dispatchFillBorder.Register(dtypes.Uint64, execFillBorder[uint64])
	dispatchFillBorder.Register(dtypes.Float16, execFillBorder[float16.Float16])
	dispatchFillBorder.Register(dtypes.BFloat16, execFillBorder[bfloat16.BFloat16])
	dispatchFillBorder.Register(dtypes.Float32, execFillBorder[float32])
	dispatchFillBorder.Register(dtypes.Float64, execFillBorder[float64])
}

func execFillBorder[T any](params ...any) {
	p := params[0].(*fillBorderParams)
	flat := p.flat.([]T)
	dim0 := p.info.RowStride() - p.info.Padding.Left - p.info.Padding.Right
	var fill T
	if p.mode == backends.BorderModeConstant {
		fill = p.fillValue.(T)
	}
	p.device.workers.ParallelFor(p.info.NumRows(), minRowsPerTask, func(start, end int) {
		for row := start; row < end; row++ {
			rowStart := p.info.RowStart(row)
			left, right := fill, fill
			if p.mode == backends.BorderModeReplicate {
				left, right = flat[rowStart], flat[rowStart+dim0-1]
			}
			for i := 1; i <= p.border.Left; i++ {
				flat[rowStart-i] = left
			}
			for i := range p.border.Right {
				flat[rowStart+dim0+i] = right
			}
		}
	})
}
