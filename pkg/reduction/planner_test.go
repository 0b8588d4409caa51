// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduction

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/shapes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumStages(t *testing.T) {
	policy := DefaultPolicy

	// Only axis 0 of non-quantized tensors is staged.
	for _, dim0 := range []int{1, 128, 1_000_000} {
		info := tensors.MakeInfo(shapes.Make(dtypes.Float32, dim0, 7, 3))
		assert.Equal(t, 1, NumStages(&info, 1, policy))
		assert.Equal(t, 1, NumStages(&info, 2, policy))
		quantized := tensors.MakeQuantizedInfo(shapes.Make(dtypes.Uint8, dim0, 7), 0.1, 3)
		assert.Equal(t, 1, NumStages(&quantized, 0, policy))
	}

	for _, tc := range []struct {
		dim0, want int
	}{
		{1, 2},
		{128, 2},
		{129, 2},
		{127 * 128, 2},
		{127*128 + 1, 3},
		{20_000, 3},
		{255 * 128, 3},
		{255*128 + 1, 4},
	} {
		info := tensors.MakeInfo(shapes.Make(dtypes.Float32, tc.dim0, 2))
		assert.Equalf(t, tc.want, NumStages(&info, 0, policy), "dim0=%d", tc.dim0)
	}

	// Tunable policy.
	info := tensors.MakeInfo(shapes.Make(dtypes.Float32, 40))
	assert.Equal(t, 7, NumStages(&info, 0, Policy{TileWidth: 4, FanIn: 2}))
}

func TestIntermediateInfos(t *testing.T) {
	input := tensors.MakeInfo(shapes.Make(dtypes.Float64, 20_000, 5, 2))
	input.Padding = tensors.Padding{Left: 1, Right: 3}
	numStages := NumStages(&input, 0, DefaultPolicy)
	infos := IntermediateInfos(&input, numStages, DefaultPolicy)
	require.Len(t, infos, numStages-1)
	assert.Equal(t, []int{157, 5, 2}, infos[0].Shape.Dimensions)
	assert.Equal(t, []int{2, 5, 2}, infos[1].Shape.Dimensions)
	prev := input.Dim(0)
	for _, info := range infos {
		assert.Equal(t, dtypes.Float64, info.DType())
		assert.Less(t, info.Dim(0), prev)
		assert.True(t, info.Shape.EqualExceptAxis(input.Shape, 0))
		assert.Equal(t, tensors.Padding{}, info.Padding)
		prev = info.Dim(0)
	}

	// Smallest staged reduction: one intermediate buffer.
	small := tensors.MakeInfo(shapes.Make(dtypes.Float32, 100, 3))
	infos = IntermediateInfos(&small, NumStages(&small, 0, DefaultPolicy), DefaultPolicy)
	require.Len(t, infos, 1)
	assert.Equal(t, []int{1, 3}, infos[0].Shape.Dimensions)

	assert.Empty(t, IntermediateInfos(&small, 1, DefaultPolicy))
}

func TestOpsFor(t *testing.T) {
	for _, tc := range []struct {
		op                        backends.ReductionOp
		first, intermediate, last backends.ReductionOp
	}{
		{backends.ReductionSum, backends.ReductionSum, backends.ReductionSum, backends.ReductionSum},
		{backends.ReductionMeanSum, backends.ReductionSum, backends.ReductionSum, backends.ReductionMeanSum},
		{backends.ReductionSumSquare, backends.ReductionSumSquare, backends.ReductionSum, backends.ReductionSum},
	} {
		ops, err := OpsFor(tc.op)
		require.NoError(t, err)
		assert.Equal(t, tc.op, ops.ForStage(0, 1))
		assert.Equal(t, tc.first, ops.ForStage(0, 4))
		assert.Equal(t, tc.intermediate, ops.ForStage(1, 4))
		assert.Equal(t, tc.intermediate, ops.ForStage(2, 4))
		assert.Equal(t, tc.last, ops.ForStage(3, 4))
		assert.Equal(t, tc.first, ops.ForStage(0, 2))
		assert.Equal(t, tc.last, ops.ForStage(1, 2))
	}

	for _, op := range []backends.ReductionOp{backends.ReductionInvalid, backends.ReductionProd,
		backends.ReductionMin, backends.ReductionMax, backends.ReductionOp(100)} {
		_, err := OpsFor(op)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedOperation))
		var opErr *UnsupportedOperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, op, opErr.Op)
	}
}

func TestMakePlan(t *testing.T) {
	input := tensors.MakeInfo(shapes.Make(dtypes.Float32, 20_000, 3))
	output := tensors.MakeInfo(shapes.Make(dtypes.Float32, 1, 3))
	plan, err := MakePlan(&input, &output, 0, backends.ReductionMeanSum, DefaultPolicy)
	require.NoError(t, err)
	require.Equal(t, 3, plan.NumStages())
	require.True(t, plan.IsStaged())

	// Stage 0 reads the input, the last one writes the output, the others chain the intermediate buffers.
	assert.Equal(t, input.Shape, plan.Stages[0].Input.Shape)
	assert.Equal(t, plan.Intermediates[0].Shape, plan.Stages[0].Output.Shape)
	assert.Equal(t, plan.Intermediates[0].Shape, plan.Stages[1].Input.Shape)
	assert.Equal(t, plan.Intermediates[1].Shape, plan.Stages[1].Output.Shape)
	assert.Equal(t, plan.Intermediates[1].Shape, plan.Stages[2].Input.Shape)
	assert.Equal(t, output.Shape, plan.Stages[2].Output.Shape)

	// Only the last stage computes the mean, dividing by the original extent.
	for ii, s := range plan.Stages {
		assert.Equal(t, ii, s.Index)
		if ii < 2 {
			assert.Equal(t, backends.ReductionSum, s.Op)
			assert.Zero(t, s.OriginalExtent)
		} else {
			assert.Equal(t, backends.ReductionMeanSum, s.Op)
			assert.Equal(t, 20_000, s.OriginalExtent)
		}
	}
	assert.Contains(t, plan.String(), "divisor=20000")

	// Plans are deterministic.
	again, err := MakePlan(&input, &output, 0, backends.ReductionMeanSum, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, plan, again)

	// Unstaged reductions keep the requested op, with no explicit divisor.
	output1 := tensors.MakeInfo(shapes.Make(dtypes.Float32, 20_000, 1))
	plan, err = MakePlan(&input, &output1, 1, backends.ReductionMeanSum, DefaultPolicy)
	require.NoError(t, err)
	require.Equal(t, 1, plan.NumStages())
	assert.Empty(t, plan.Intermediates)
	assert.Equal(t, backends.ReductionMeanSum, plan.Stages[0].Op)
	assert.Zero(t, plan.Stages[0].OriginalExtent)

	_, err = MakePlan(&input, &output, 0, backends.ReductionMax, DefaultPolicy)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	// Single stage reductions pass any valid op through.
	plan, err = MakePlan(&input, &output1, 1, backends.ReductionMax, DefaultPolicy)
	require.NoError(t, err)
	assert.Equal(t, backends.ReductionMax, plan.Stages[0].Op)
	_, err = MakePlan(&input, &output1, 1, backends.ReductionInvalid, DefaultPolicy)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = MakePlan(&input, &output, 0, backends.ReductionSum, Policy{TileWidth: 0, FanIn: 1})
	require.Error(t, err)
}
