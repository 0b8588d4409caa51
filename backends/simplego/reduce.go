// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ReductionKernel implements backends.ReductionKernel.
//
// On the tiled path (axis 0 of non-quantized tensors) each work group sums Device.TileWidth
// consecutive elements, including the padding of the last tile: so only sum-like operations are
// supported there, with the padding initialized to 0 by a border handler.
type ReductionKernel struct {
	device         *Device
	input, output  *Tensor
	axis           int
	op             backends.ReductionOp
	originalExtent int
	border         backends.BorderSize
}

var _ backends.ReductionKernel = (*ReductionKernel)(nil)

// isTiled returns whether the reduction of the given input on axis uses the tiled path.
func isTiled(input *tensors.Info, axis int) bool {
	return axis == 0 && !input.IsQuantized()
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// ValidateReduction implements backends.Device.
func (d *Device) ValidateReduction(input, output *tensors.Info, axis int, op backends.ReductionOp, originalExtent int) error {
	if !input.Ok() || !output.Ok() {
		return errors.Errorf("reduction: invalid input (%s) or output (%s)", input, output)
	}
	if axis < 0 || axis >= input.Rank() {
		return errors.Errorf("reduction: axis %d out-of-bounds for input %s of rank %d", axis, input, input.Rank())
	}
	if !isSupportedDType(input.DType()) {
		return errors.Errorf("reduction: dtype %s not supported by backend %q", input.DType(), BackendName)
	}
	if input.NumChannels > 1 || output.NumChannels > 1 {
		return errors.Errorf("reduction: only single channel tensors are supported, got input %s and output %s", input, output)
	}
	if input.IsQuantized() != output.IsQuantized() {
		return errors.Errorf("reduction: input %s and output %s must both be quantized or not", input, output)
	}
	if input.IsQuantized() && *input.Quantization != *output.Quantization {
		return errors.Errorf("reduction: input %s and output %s must have the same quantization", input, output)
	}
	if input.IsQuantized() && (input.DType().IsFloat() || input.DType().Size() > 2) {
		return errors.Errorf("reduction: quantized tensors must be 8 or 16 bits integers, got %s", input.DType())
	}
	if !output.Shape.EqualExceptAxis(input.Shape, axis) {
		return errors.Errorf("reduction: output %s must have the same dtype and dimensions as input %s, except on axis %d",
			output, input, axis)
	}
	outDim := output.Dim(axis)
	tiled := isTiled(input, axis)
	if outDim != 1 && !(tiled && outDim == ceilDiv(input.Dim(axis), d.tileWidth)) {
		if tiled {
			return errors.Errorf("reduction: output dimension on axis %d must be 1 or %d (the number of tiles of %d), got %d",
				axis, ceilDiv(input.Dim(axis), d.tileWidth), d.tileWidth, outDim)
		}
		return errors.Errorf("reduction: output dimension on axis %d must be 1, got %d", axis, outDim)
	}
	if originalExtent < 0 {
		return errors.Errorf("reduction: original extent must be >= 0, got %d", originalExtent)
	}
	switch op {
	case backends.ReductionSum, backends.ReductionMeanSum:
	case backends.ReductionSumSquare:
		if input.IsQuantized() {
			return errors.Errorf("reduction: %s not supported for quantized input %s", op, input)
		}
	case backends.ReductionProd:
		if tiled || input.IsQuantized() {
			return errors.Errorf("reduction: %s not supported for input %s on axis %d", op, input, axis)
		}
	case backends.ReductionMin, backends.ReductionMax:
		if tiled {
			return errors.Errorf("reduction: %s not supported for input %s on axis %d", op, input, axis)
		}
	default:
		return errors.Errorf("reduction: unknown operation %s", op)
	}
	return nil
}

// Name implements backends.WorkItem.
func (k *ReductionKernel) Name() string {
	if k.input == nil {
		return "ReductionKernel(unconfigured)"
	}
	return fmt.Sprintf("ReductionKernel(%s, axis=%d, %s->%s)", k.op, k.axis, k.input.info.Shape, k.output.info.Shape)
}

// Configure implements backends.ReductionKernel.
func (k *ReductionKernel) Configure(input, output backends.Tensor, axis int, op backends.ReductionOp, originalExtent int) {
	in, out := k.device.asTensor(input), k.device.asTensor(output)
	if err := k.device.ValidateReduction(&in.info, &out.info, axis, op, originalExtent); err != nil {
		panic(errors.WithMessagef(err, "ReductionKernel.Configure()"))
	}
	k.input, k.output = in, out
	k.axis, k.op, k.originalExtent = axis, op, originalExtent
	k.border = backends.BorderSize{}
	if isTiled(&in.info, axis) {
		dim := in.info.Dim(0)
		k.border.Right = ceilDiv(dim, k.device.tileWidth)*k.device.tileWidth - dim
	}
	in.extendPadding(k.border)
}

// BorderSize implements backends.ReductionKernel.
func (k *ReductionKernel) BorderSize() backends.BorderSize { return k.border }

// Run implements backends.WorkItem: it executes the reduction synchronously.
func (k *ReductionKernel) Run() {
	k.prepare()()
}

// prepare takes a snapshot of the storage of the input and output tensors, retaining them, and
// returns the function that runs the kernel on them and then releases them.
func (k *ReductionKernel) prepare() func() {
	if k.input == nil {
		exceptions.Panicf("ReductionKernel.Run(): kernel not configured")
	}
	for _, t := range []*Tensor{k.input, k.output} {
		if t.handle == nil {
			exceptions.Panicf("%s: tensor %s has no storage -- not allocated, or its memory group not acquired", k.Name(), t)
		}
	}
	inHandle, inStorage := retainStorage(k.input)
	outHandle, outStorage := retainStorage(k.output)
	params := &reduceParams{
		input:     k.input.info.Clone(),
		output:    k.output.info.Clone(),
		inFlat:    inStorage.flat,
		outFlat:   outStorage.flat,
		axis:      k.axis,
		op:        k.op,
		tiled:     isTiled(&k.input.info, k.axis),
		tileWidth: k.device.tileWidth,
		divisor:   k.originalExtent,
		device:    k.device,
	}
	if params.divisor == 0 {
		params.divisor = k.input.info.Dim(k.axis)
	}
	return func() {
		defer inHandle.Release()
		defer outHandle.Release()
		dispatchReduce.Dispatch(params.input.DType(), params)
	}
}

// asTensor casts t to a SimpleGo tensor created by the same device.
func (d *Device) asTensor(t backends.Tensor) *Tensor {
	tt, ok := t.(*Tensor)
	if !ok || tt == nil {
		exceptions.Panicf("tensor %T is not a %q backend tensor", t, BackendName)
	}
	if tt.device != d {
		exceptions.Panicf("tensor %s belongs to a different %q device", tt, BackendName)
	}
	return tt
}

// retainStorage returns the current handle of the tensor storage, retained, and its storage.
func retainStorage(t *Tensor) (backends.Handle, *Storage) {
	h := t.handle
	h.Retain()
	return h, h.Storage().(*Storage)
}
