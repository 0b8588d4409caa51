// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/backends/simplego"
	"github.com/gomlx/stagedreduce/pkg/core/shapes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/gomlx/stagedreduce/pkg/reduction"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeConfig(dims []int, axis int, op backends.ReductionOp, numRuns int) *config {
	input := tensors.MakeInfo(shapes.Make(dtypes.Float64, dims...))
	return &config{
		runID:   uuid.New(),
		input:   input,
		output:  input.WithShape(input.Shape.WithDim(axis, 1)),
		axis:    axis,
		op:      op,
		fanIn:   reduction.DefaultFanIn,
		numRuns: numRuns,
	}
}

func TestReduceInGo(t *testing.T) {
	values := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	assert.Equal(t, []float64{6, 15}, reduceInGo(values, makeConfig([]int{3, 2}, 0, backends.ReductionSum, 1)))
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, reduceInGo(values, makeConfig([]int{3, 2}, 1, backends.ReductionMeanSum, 1)))
	assert.Equal(t, []float64{17, 29, 45}, reduceInGo(values, makeConfig([]int{3, 2}, 1, backends.ReductionSumSquare, 1)))
	assert.Equal(t, []float64{6, 120}, reduceInGo(values, makeConfig([]int{3, 2}, 0, backends.ReductionProd, 1)))
	assert.Equal(t, []float64{1, 2, 3}, reduceInGo(values, makeConfig([]int{3, 2}, 1, backends.ReductionMin, 1)))
	assert.Equal(t, []float64{4, 5, 6}, reduceInGo(values, makeConfig([]int{3, 2}, 1, backends.ReductionMax, 1)))
}

func TestBenchmark_SingleStage(t *testing.T) {
	device := must.M1(simplego.NewWithConfig("parallelism=2"))
	defer device.Finalize()
	for _, op := range []backends.ReductionOp{backends.ReductionMin, backends.ReductionMax} {
		cfg := makeConfig([]int{100, 30}, 1, op, 2)
		results, err := benchmark[float64](cfg, device, reduction.PolicyFor(device))
		require.NoError(t, err)
		assert.Equal(t, 1, results.numStages)
		assert.Zero(t, results.maxError)
	}
}

func TestBenchmark(t *testing.T) {
	device := must.M1(simplego.NewWithConfig("parallelism=2"))
	defer device.Finalize()
	for _, op := range []backends.ReductionOp{backends.ReductionSum, backends.ReductionMeanSum, backends.ReductionSumSquare} {
		cfg := makeConfig([]int{17_000, 2}, 0, op, 3)
		results, err := benchmark[float64](cfg, device, reduction.PolicyFor(device))
		require.NoError(t, err)
		assert.Equal(t, 3, results.numStages)
		assert.Equal(t, 3, results.numRuns)
		assert.Less(t, results.maxError, 1e-9)
	}
}
