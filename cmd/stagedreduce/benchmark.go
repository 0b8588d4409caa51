// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/memory"
	"github.com/gomlx/stagedreduce/pkg/reduction"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// dataTensor is implemented by tensors that can copy their contents from and to Go slices, like the ones of
// the SimpleGo backend.
type dataTensor interface {
	backends.Tensor
	CopyFrom(flat any) error
	CopyTo(flat any) error
}

type benchmarkResults struct {
	numStages      int
	numRuns        int
	elapsed        time.Duration
	memoryRequired uintptr
	memoryStats    memory.Stats
	maxError       float64
}

// benchmark configures the reduction, fills the input with random values and runs it cfg.numRuns times.
// The result is compared to a reduction computed in Go.
func benchmark[T float32 | float64](cfg *config, device backends.Device, policy reduction.Policy) (*benchmarkResults, error) {
	input, ok := device.NewTensor(cfg.input).(dataTensor)
	if !ok {
		return nil, errors.Errorf("backend %q tensors can't be filled with data", device.Name())
	}
	output := device.NewTensor(cfg.output).(dataTensor)

	manager := memory.NewManager(device)
	defer manager.Release()
	queue := device.NewQueue()
	op := reduction.New(device, queue, manager, reduction.WithPolicy(policy))
	defer op.Finalize()
	if err := op.Configure(input, output, cfg.axis, cfg.op); err != nil {
		return nil, err
	}
	input.Allocator().Allocate()
	defer input.Allocator().Free()
	output.Allocator().Allocate()
	defer output.Allocator().Free()

	values := make([]T, cfg.input.Shape.Size())
	for ii := range values {
		values[ii] = T(rand.Float64()*2 - 1)
	}
	if err := input.CopyFrom(values); err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(cfg.numRuns,
		progressbar.OptionSetDescription("Reducing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	for range cfg.numRuns {
		op.Run()
		if err := queue.Finish(); err != nil {
			return nil, err
		}
		_ = bar.Add(1)
	}
	results := &benchmarkResults{
		numStages:      op.NumStages(),
		numRuns:        cfg.numRuns,
		elapsed:        time.Since(start),
		memoryRequired: op.MemoryRequired(),
		memoryStats:    manager.Stats(),
	}
	_ = bar.Finish()
	klog.V(1).Infof("run %s: %d runs in %s", cfg.runID, cfg.numRuns, results.elapsed)

	got := make([]T, cfg.output.Shape.Size())
	if err := output.CopyTo(got); err != nil {
		return nil, err
	}
	want := reduceInGo(values, cfg)
	for ii := range want {
		results.maxError = max(results.maxError, math.Abs(float64(got[ii])-want[ii]))
	}
	return results, nil
}

// reduceInGo computes the expected reduction in float64.
func reduceInGo[T float32 | float64](values []T, cfg *config) []float64 {
	dims := cfg.input.Shape.Dimensions
	stride := 1
	for axis := range cfg.axis {
		stride *= dims[axis]
	}
	dim := dims[cfg.axis]
	results := make([]float64, cfg.output.Shape.Size())
	switch cfg.op {
	case backends.ReductionProd:
		for ii := range results {
			results[ii] = 1
		}
	case backends.ReductionMin:
		for ii := range results {
			results[ii] = math.Inf(1)
		}
	case backends.ReductionMax:
		for ii := range results {
			results[ii] = math.Inf(-1)
		}
	}
	for ii, v := range values {
		// Position of the output: remove the axis coordinate from the flat index.
		outIdx := ii%stride + (ii/(stride*dim))*stride
		x := float64(v)
		switch cfg.op {
		case backends.ReductionProd:
			results[outIdx] *= x
		case backends.ReductionMin:
			results[outIdx] = min(results[outIdx], x)
		case backends.ReductionMax:
			results[outIdx] = max(results[outIdx], x)
		case backends.ReductionSumSquare:
			results[outIdx] += x * x
		default:
			results[outIdx] += x
		}
	}
	if cfg.op == backends.ReductionMeanSum {
		for ii := range results {
			results[ii] /= float64(dim)
		}
	}
	return results
}
