// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"golang.org/x/exp/constraints"
)

// reduceParams is a snapshot of a configured ReductionKernel, taken when it is enqueued.
type reduceParams struct {
	input, output   tensors.Info
	inFlat, outFlat any
	axis            int
	op              backends.ReductionOp
	tiled           bool
	tileWidth       int
	divisor         int
	device          *Device
}

// minRowsPerTask is the minimum number of rows (or output elements) reduced by each parallel task.
const minRowsPerTask = 16

var dispatchReduce = NewDTypeDispatcher("Reduce")

func init() {
	dispatchReduce.Register(dtypes.Float32, reduceFn(podConverter[float32, float32]()))
	dispatchReduce.Register(dtypes.Float64, reduceFn(podConverter[float64, float64]()))
	dispatchReduce.Register(dtypes.Float16, reduceFn(float16Converter))
	dispatchReduce.Register(dtypes.BFloat16, reduceFn(bfloat16Converter))
	dispatchReduce.Register(dtypes.Int8, reduceIntegerFn[int8, int64]())
	dispatchReduce.Register(dtypes.Int16, reduceIntegerFn[int16, int64]())
	dispatchReduce.Register(dtypes.Int32, reduceIntegerFn[int32, int64]())
	dispatchReduce.Register(dtypes.Int64, reduceIntegerFn[int64, int64]())
	dispatchReduce.Register(dtypes.Uint8, reduceIntegerFn[uint8, uint64]())
	dispatchReduce.Register(dtypes.Uint16, reduceIntegerFn[uint16, uint64]())
	dispatchReduce.Register(dtypes.Uint32, reduceIntegerFn[uint32, uint64]())
	dispatchReduce.Register(dtypes.Uint64, reduceIntegerFn[uint64, uint64]())
}

func reduceFn[T any, A accumulatorConstraints](conv elementConverter[T, A]) FuncForDispatcher {
	return func(params ...any) {
		execReduce(params[0].(*reduceParams), conv)
	}
}

// reduceIntegerFn accumulates quantized values as int64, saturating the results to the range of T.
func reduceIntegerFn[T constraints.Integer, A int64 | uint64]() FuncForDispatcher {
	plain := podConverter[T, A]()
	saturating := saturatingConverter[T]()
	return func(params ...any) {
		p := params[0].(*reduceParams)
		if p.input.IsQuantized() {
			execReduce(p, saturating)
		} else {
			execReduce(p, plain)
		}
	}
}

func execReduce[T any, A accumulatorConstraints](p *reduceParams, conv elementConverter[T, A]) {
	in := p.inFlat.([]T)
	out := p.outFlat.([]T)
	if p.tiled {
		execReduceTiled(p, conv, in, out)
	} else {
		execReduceAxis(p, conv, in, out)
	}
}

func combine[A accumulatorConstraints](op backends.ReductionOp, acc, value A) A {
	switch op {
	case backends.ReductionSumSquare:
		return acc + value*value
	case backends.ReductionProd:
		return acc * value
	case backends.ReductionMin:
		return min(acc, value)
	case backends.ReductionMax:
		return max(acc, value)
	default:
		return acc + value
	}
}

func finalize[A accumulatorConstraints](p *reduceParams, acc A) A {
	if p.op == backends.ReductionMeanSum {
		return acc / A(p.divisor)
	}
	return acc
}

// execReduceTiled reduces axis 0: each tile of p.tileWidth elements is summed independently, reading
// into the right padding for the last tile. If the output has one element per row, the tiles are added up.
func execReduceTiled[T any, A accumulatorConstraints](p *reduceParams, conv elementConverter[T, A], in, out []T) {
	tileWidth := p.tileWidth
	numTiles := ceilDiv(p.input.Dim(0), tileWidth)
	fullReduction := p.output.Dim(0) == 1
	square := p.op == backends.ReductionSumSquare
	p.device.workers.ParallelFor(p.input.NumRows(), minRowsPerTask, func(start, end int) {
		for row := start; row < end; row++ {
			inStart := p.input.RowStart(row)
			outStart := p.output.RowStart(row)
			var total A
			for tile := range numTiles {
				var acc A
				for _, v := range in[inStart+tile*tileWidth : inStart+(tile+1)*tileWidth] {
					value := conv.load(v)
					if square {
						value *= value
					}
					acc += value
				}
				if fullReduction {
					total += acc
				} else {
					out[outStart+tile] = conv.store(finalize(p, acc))
				}
			}
			if fullReduction {
				out[outStart] = conv.store(finalize(p, total))
			}
		}
	})
}

// execReduceAxis reduces all the values along p.axis for each output element. Padding is never read.
func execReduceAxis[T any, A accumulatorConstraints](p *reduceParams, conv elementConverter[T, A], in, out []T) {
	dim := p.input.Dim(p.axis)
	stride := p.input.Strides()[p.axis]
	outDims := p.output.Shape.Dimensions
	p.device.workers.ParallelFor(p.output.Shape.Size(), minRowsPerTask, func(start, end int) {
		coords := make([]int, len(outDims))
		unravel(start, outDims, coords)
		for range end - start {
			base := p.input.FlatIndex(coords...)
			acc := conv.load(in[base])
			if p.op == backends.ReductionSumSquare {
				acc *= acc
			}
			for j := 1; j < dim; j++ {
				acc = combine(p.op, acc, conv.load(in[base+j*stride]))
			}
			out[p.output.FlatIndex(coords...)] = conv.store(finalize(p, acc))
			increment(coords, outDims)
		}
	})
}

// unravel the logical flat index into coords, with axis 0 being the fastest-varying.
func unravel(flatIdx int, dims, coords []int) {
	for axis, dim := range dims {
		coords[axis] = flatIdx % dim
		flatIdx /= dim
	}
}

// increment coords to the next logical position, with axis 0 being the fastest-varying.
func increment(coords, dims []int) {
	for axis, dim := range dims {
		coords[axis]++
		if coords[axis] < dim {
			return
		}
		coords[axis] = 0
	}
}
