// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/shapes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var backend *Device

func init() {
	klog.InitFlags(nil)
}

func setup() {
	fmt.Printf("Available backends: %q\n", backends.List())
	backend = must.M1(NewWithConfig("parallelism=4"))
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run() // Run all tests in the file
	teardown()
	os.Exit(code)
}

// newTensor creates a tensor with the given info and allocates it, if data is not nil it is copied into it.
func newTensor(t *testing.T, info tensors.Info, data any) *Tensor {
	tensor := backend.NewTensor(info).(*Tensor)
	tensor.Allocate()
	if data != nil {
		require.NoError(t, tensor.CopyFrom(data))
	}
	return tensor
}

// iotaFloat32 returns n values counting from 1.
func iotaFloat32(n int) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = float32(ii + 1)
	}
	return values
}

func TestNewWithConfig(t *testing.T) {
	d, err := NewWithConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTileWidth, d.TileWidth())

	d, err = NewWithConfig("parallelism=0, tile=8")
	require.NoError(t, err)
	assert.Equal(t, 0, d.MaxParallelism())
	assert.Equal(t, 8, d.TileWidth())

	for _, config := range []string{"tile=0", "tile=x", "parallelism", "color=blue"} {
		_, err = NewWithConfig(config)
		assert.Errorf(t, err, "config %q should fail", config)
	}

	device := backends.NewWithConfig("go:tile=16")
	assert.Equal(t, 16, device.TileWidth())
	assert.Panics(t, func() { _ = backends.NewWithConfig("unknown:tile=16") })
}

func TestTensor(t *testing.T) {
	info := tensors.MakeInfo(shapes.Make(dtypes.Float32, 3, 2))
	tensor := backend.NewTensor(info).(*Tensor)
	require.False(t, tensor.IsAllocated())
	require.Error(t, tensor.CopyFrom([]float32{1, 2, 3, 4, 5, 6}))

	tensor.extendPadding(backends.BorderSize{Left: 1, Right: 2})
	assert.Equal(t, tensors.Padding{Left: 1, Right: 2}, tensor.Info().Padding)
	assert.Equal(t, tensors.Padding{}, info.Padding, "the tensor owns a copy of its info")
	tensor.Allocate()
	require.True(t, tensor.IsAllocated())
	require.Len(t, tensor.Storage().Flat().([]float32), 12)
	require.NoError(t, tensor.CopyFrom([]float32{1, 2, 3, 4, 5, 6}))
	flat := tensor.Storage().Flat().([]float32)
	assert.Equal(t, []float32{1, 2, 3}, flat[1:4])
	assert.Equal(t, []float32{4, 5, 6}, flat[7:10])

	got := make([]float32, 6)
	require.NoError(t, tensor.CopyTo(got))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, got)
	require.Error(t, tensor.CopyTo(make([]float32, 5)))
	require.Error(t, tensor.CopyTo(make([]float64, 6)))

	// Padding can't change after allocation.
	require.Panics(t, func() { tensor.extendPadding(backends.BorderSize{Right: 3}) })
	require.NotPanics(t, func() { tensor.extendPadding(backends.BorderSize{Right: 1}) })
	require.Panics(t, func() { tensor.Allocate() })

	tensor.Free()
	require.False(t, tensor.IsAllocated())
}

func TestFillBorder(t *testing.T) {
	info := tensors.MakeInfo(shapes.Make(dtypes.Int32, 3, 2))
	info.ExtendPadding(tensors.Padding{Left: 2, Right: 2})
	tensor := newTensor(t, info, []int32{1, 2, 3, 4, 5, 6})
	flat := tensor.Storage().Flat().([]int32)
	for _, idx := range []int{0, 1, 5, 6, 7, 8, 12, 13} {
		flat[idx] = -1
	}

	handler := backend.NewBorderHandler()
	handler.Configure(tensor, backends.BorderSize{Left: 1, Right: 5}, backends.BorderModeConstant, 7)
	handler.Run()
	assert.Equal(t, []int32{-1, 7, 1, 2, 3, 7, 7, -1, 7, 4, 5, 6, 7, 7}, flat)

	handler.Configure(tensor, backends.BorderSize{Left: 2, Right: 2}, backends.BorderModeReplicate, 0)
	handler.Run()
	assert.Equal(t, []int32{1, 1, 1, 2, 3, 3, 3, 4, 4, 4, 5, 6, 6, 6}, flat)

	// Undefined mode leaves the border untouched.
	flat[0] = 100
	handler.Configure(tensor, backends.BorderSize{Left: 2, Right: 2}, backends.BorderModeUndefined, 0)
	handler.Run()
	assert.Equal(t, int32(100), flat[0])
}

func TestValidateReduction(t *testing.T) {
	input := tensors.MakeInfo(shapes.Make(dtypes.Float32, 300, 2))
	partial := tensors.MakeInfo(shapes.Make(dtypes.Float32, 3, 2))
	full := tensors.MakeInfo(shapes.Make(dtypes.Float32, 1, 2))
	axis1 := tensors.MakeInfo(shapes.Make(dtypes.Float32, 300, 1))

	require.NoError(t, backend.ValidateReduction(&input, &partial, 0, backends.ReductionSum, 0))
	require.NoError(t, backend.ValidateReduction(&input, &full, 0, backends.ReductionMeanSum, 300))
	require.NoError(t, backend.ValidateReduction(&input, &axis1, 1, backends.ReductionMax, 0))

	wrongDType := tensors.MakeInfo(shapes.Make(dtypes.Float64, 1, 2))
	wrongDims := tensors.MakeInfo(shapes.Make(dtypes.Float32, 2, 2))
	quantized := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, 300, 2), 1, 0)
	quantizedOut := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, 1, 2), 1, 0)
	quantizedPartial := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, 3, 2), 1, 0)
	multiChannel := input.Clone()
	multiChannel.NumChannels = 3

	for _, tc := range []struct {
		name           string
		input, output  *tensors.Info
		axis           int
		op             backends.ReductionOp
		originalExtent int
	}{
		{"axis out-of-bounds", &input, &full, 2, backends.ReductionSum, 0},
		{"negative axis", &input, &full, -1, backends.ReductionSum, 0},
		{"dtype mismatch", &input, &wrongDType, 0, backends.ReductionSum, 0},
		{"wrong output dimension", &input, &wrongDims, 0, backends.ReductionSum, 0},
		{"partial output on axis 1", &input, &input, 1, backends.ReductionSum, 0},
		{"quantization mismatch", &input, &quantizedOut, 0, backends.ReductionSum, 0},
		{"quantized partial output", &quantized, &quantizedPartial, 0, backends.ReductionSum, 0},
		{"quantized sum of squares", &quantized, &quantizedOut, 0, backends.ReductionSumSquare, 0},
		{"max on tiled path", &input, &full, 0, backends.ReductionMax, 0},
		{"prod on tiled path", &input, &full, 0, backends.ReductionProd, 0},
		{"invalid op", &input, &full, 0, backends.ReductionInvalid, 0},
		{"negative extent", &input, &full, 0, backends.ReductionMeanSum, -1},
		{"multiple channels", &multiChannel, &full, 0, backends.ReductionSum, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := backend.ValidateReduction(tc.input, tc.output, tc.axis, tc.op, tc.originalExtent)
			require.Error(t, err)
			// Repeated validations fail identically.
			require.EqualError(t, backend.ValidateReduction(tc.input, tc.output, tc.axis, tc.op, tc.originalExtent), err.Error())
		})
	}
}

func TestReductionKernel_Tiled(t *testing.T) {
	const dim0, numRows = 300, 2
	inInfo := tensors.MakeInfo(shapes.Make(dtypes.Float32, dim0, numRows))
	outInfo := tensors.MakeInfo(shapes.Make(dtypes.Float32, 3, numRows))
	input := backend.NewTensor(inInfo).(*Tensor)
	output := backend.NewTensor(outInfo).(*Tensor)

	kernel := backend.NewReductionKernel()
	kernel.Configure(input, output, 0, backends.ReductionSum, 0)
	require.Equal(t, backends.BorderSize{Right: 384 - 300}, kernel.BorderSize())
	require.Equal(t, tensors.Padding{Right: 84}, input.Info().Padding, "kernel must extend the padding of its input")

	input.Allocate()
	output.Allocate()
	require.NoError(t, input.CopyFrom(iotaFloat32(dim0*numRows)))

	// Garbage in the padding corrupts the last tile, until the border is filled with zeros.
	flat := input.Storage().Flat().([]float32)
	for row := range numRows {
		for ii := range 84 {
			flat[input.Info().RowStart(row)+dim0+ii] = 1000
		}
	}
	border := backend.NewBorderHandler()
	border.Configure(input, kernel.BorderSize(), backends.BorderModeConstant, 0)
	border.Run()
	kernel.Run()

	got := make([]float32, 3*numRows)
	require.NoError(t, output.CopyTo(got))
	sumRange := func(from, to int) (sum float32) {
		for v := from; v <= to; v++ {
			sum += float32(v)
		}
		return
	}
	want := []float32{
		sumRange(1, 128), sumRange(129, 256), sumRange(257, 300),
		sumRange(301, 428), sumRange(429, 556), sumRange(557, 600),
	}
	assert.Equal(t, want, got)
}

func TestReductionKernel_Full(t *testing.T) {
	input := newTensor(t, tensors.MakeInfo(shapes.Make(dtypes.Float64, 4, 3)), []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		-1, -2, -3, -4,
	})
	output := backend.NewTensor(tensors.MakeInfo(shapes.Make(dtypes.Float64, 1, 3))).(*Tensor)
	output.Allocate()

	// input is already allocated with no padding: only kernels without border can be configured.
	kernel := backend.NewReductionKernel()
	require.Panics(t, func() { kernel.Configure(input, output, 0, backends.ReductionSum, 0) })

	// Axis 1 has no border.
	output1 := newTensor(t, tensors.MakeInfo(shapes.Make(dtypes.Float64, 4, 1)), nil)
	got1 := make([]float64, 4)
	for _, tc := range []struct {
		op   backends.ReductionOp
		want []float64
	}{
		{backends.ReductionSum, []float64{5, 6, 7, 8}},
		{backends.ReductionMeanSum, []float64{5.0 / 3, 2, 7.0 / 3, 8.0 / 3}},
		{backends.ReductionSumSquare, []float64{27, 44, 67, 96}},
		{backends.ReductionProd, []float64{-5, -24, -63, -128}},
		{backends.ReductionMin, []float64{-1, -2, -3, -4}},
		{backends.ReductionMax, []float64{5, 6, 7, 8}},
	} {
		kernel.Configure(input, output1, 1, tc.op, 0)
		require.True(t, kernel.BorderSize().Empty())
		kernel.Run()
		require.NoError(t, output1.CopyTo(got1))
		assert.InDeltaSlicef(t, tc.want, got1, 1e-9, "op=%s", tc.op)
	}

	// MeanSum with an explicit original extent.
	kernel.Configure(input, output1, 1, backends.ReductionMeanSum, 10)
	kernel.Run()
	require.NoError(t, output1.CopyTo(got1))
	assert.InDeltaSlice(t, []float64{0.5, 0.6, 0.7, 0.8}, got1, 1e-9)
}

func TestReductionKernel_FullAxis0(t *testing.T) {
	input := backend.NewTensor(tensors.MakeInfo(shapes.Make(dtypes.Float32, 5, 2))).(*Tensor)
	output := backend.NewTensor(tensors.MakeInfo(shapes.Make(dtypes.Float32, 1, 2))).(*Tensor)
	kernel := backend.NewReductionKernel()
	kernel.Configure(input, output, 0, backends.ReductionMeanSum, 20)
	input.Allocate()
	output.Allocate()
	require.NoError(t, input.CopyFrom(iotaFloat32(10)))
	border := backend.NewBorderHandler()
	border.Configure(input, kernel.BorderSize(), backends.BorderModeConstant, 0)
	border.Run()
	kernel.Run()
	got := make([]float32, 2)
	require.NoError(t, output.CopyTo(got))
	assert.Equal(t, []float32{15.0 / 20, 40.0 / 20}, got)
}

func TestReductionKernel_Quantized(t *testing.T) {
	inInfo := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, 3, 2), 0.5, 0)
	outInfo := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, 1, 2), 0.5, 0)
	input := backend.NewTensor(inInfo).(*Tensor)
	output := backend.NewTensor(outInfo).(*Tensor)
	kernel := backend.NewReductionKernel()
	kernel.Configure(input, output, 0, backends.ReductionSum, 0)
	require.True(t, kernel.BorderSize().Empty(), "quantized reduction on axis 0 is not tiled")
	input.Allocate()
	output.Allocate()
	require.NoError(t, input.CopyFrom([]uint8{10, 20, 30, 200, 100, 50}))
	kernel.Run()
	got := make([]uint8, 2)
	require.NoError(t, output.CopyTo(got))
	assert.Equal(t, []uint8{60, math.MaxUint8}, got, "quantized sums saturate")

	kernel.Configure(input, output, 0, backends.ReductionMeanSum, 0)
	kernel.Run()
	require.NoError(t, output.CopyTo(got))
	assert.Equal(t, []uint8{20, 116}, got)
}

func TestReductionKernel_Float16(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		input := backend.NewTensor(tensors.MakeInfo(shapes.Make(dtype, 4, 1))).(*Tensor)
		output := backend.NewTensor(tensors.MakeInfo(shapes.Make(dtype, 1, 1))).(*Tensor)
		kernel := backend.NewReductionKernel()
		kernel.Configure(input, output, 0, backends.ReductionSumSquare, 0)
		input.Allocate()
		output.Allocate()
		values := make([]any, 4)
		for ii := range values {
			values[ii] = valueOf(dtype, float64(ii+1))
		}
		flat := input.Storage().Flat()
		switch dtype {
		case dtypes.Float16:
			for ii, v := range values {
				flat.([]float16.Float16)[ii] = v.(float16.Float16)
			}
		default:
			for ii, v := range values {
				flat.([]bfloat16.BFloat16)[ii] = v.(bfloat16.BFloat16)
			}
		}
		border := backend.NewBorderHandler()
		border.Configure(input, kernel.BorderSize(), backends.BorderModeConstant, 0)
		queue := backend.NewQueue()
		queue.Enqueue(border, false)
		queue.Enqueue(kernel, false)
		require.NoError(t, queue.Finish())
		var got float32
		switch dtype {
		case dtypes.Float16:
			got = output.Storage().Flat().([]float16.Float16)[0].Float32()
		default:
			got = output.Storage().Flat().([]bfloat16.BFloat16)[0].Float32()
		}
		assert.Equalf(t, float32(1+4+9+16), got, "dtype=%s", dtype)
	}
}
