// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// stagedreduce prints the stage plan of a reduction and benchmarks it on a backend.
//
// Example:
//
//	stagedreduce -dims=20000,3 -axis=0 -op=MeanSum -runs=100
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	_ "github.com/gomlx/stagedreduce/backends/default"
	"github.com/gomlx/stagedreduce/pkg/core/shapes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/gomlx/stagedreduce/pkg/reduction"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "", fmt.Sprintf("Backend configuration, formatted as \"<backend>:<config>\". "+
		"If empty, it uses $%s or the first registered backend.", backends.STAGEDREDUCE_BACKEND))
	flagDims  = flag.String("dims", "20000,3", "Comma-separated dimensions of the input, axis 0 first (the fastest-varying).")
	flagDType = flag.String("dtype", "Float32", "Data type of the input: Float32 or Float64.")
	flagAxis  = flag.Int("axis", 0, "Axis to reduce.")
	flagOp    = flag.String("op", "Sum", fmt.Sprintf("Reduction operation, one of %q. "+
		"Staged reductions (axis 0) only support Sum, MeanSum and SumSquare.",
		backends.ReductionOpStrings()[1:]))
	flagFanIn    = flag.Int("fanin", reduction.DefaultFanIn, "Number of work groups per extra stage.")
	flagRuns     = flag.Int("runs", 10, "Number of times to run the reduction. If 0 only the plan is printed.")
	flagNoColors = flag.Bool("no_colors", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColors {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).Profile)
	}

	cfg, err := parseFlags()
	if err != nil {
		klog.Errorf("%v -- see 'stagedreduce -help'", err)
		os.Exit(1)
	}
	if err := execute(cfg); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// config of one execution, parsed from the flags.
type config struct {
	runID          uuid.UUID
	backend        string
	input, output  tensors.Info
	axis           int
	op             backends.ReductionOp
	fanIn, numRuns int
}

func parseFlags() (*config, error) {
	cfg := &config{
		runID:   uuid.New(),
		backend: *flagBackend,
		axis:    *flagAxis,
		fanIn:   *flagFanIn,
		numRuns: *flagRuns,
	}
	dtype, err := dtypes.DTypeString(*flagDType)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid -dtype=%q", *flagDType)
	}
	var dims []int
	for _, part := range strings.Split(*flagDims, ",") {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || dim <= 0 {
			return nil, errors.Errorf("invalid dimension %q in -dims=%q", part, *flagDims)
		}
		dims = append(dims, dim)
	}
	if cfg.axis < 0 || cfg.axis >= len(dims) {
		return nil, errors.Errorf("-axis=%d out of range for -dims=%q", cfg.axis, *flagDims)
	}
	cfg.op, err = backends.ReductionOpString(*flagOp)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid -op=%q", *flagOp)
	}
	if cfg.numRuns < 0 {
		return nil, errors.Errorf("invalid -runs=%d", cfg.numRuns)
	}
	cfg.input = tensors.MakeInfo(shapes.Make(dtype, dims...))
	cfg.output = cfg.input.WithShape(cfg.input.Shape.WithDim(cfg.axis, 1))
	return cfg, nil
}

func execute(cfg *config) error {
	var device backends.Device
	if cfg.backend == "" {
		device = backends.New()
	} else {
		device = backends.NewWithConfig(cfg.backend)
	}
	defer device.Finalize()
	klog.V(1).Infof("run %s: device %s", cfg.runID, device.Description())

	policy := reduction.PolicyFor(device)
	policy.FanIn = cfg.fanIn
	if err := reduction.ValidateWithPolicy(device, &cfg.input, &cfg.output, cfg.axis, cfg.op, policy); err != nil {
		return err
	}
	plan, err := reduction.MakePlan(&cfg.input, &cfg.output, cfg.axis, cfg.op, policy)
	if err != nil {
		return err
	}
	printPlan(cfg, device, policy, &plan)
	if cfg.numRuns == 0 {
		return nil
	}
	var results *benchmarkResults
	switch cfg.input.DType() {
	case dtypes.Float32:
		results, err = benchmark[float32](cfg, device, policy)
	case dtypes.Float64:
		results, err = benchmark[float64](cfg, device, policy)
	default:
		return errors.Errorf("running reductions of %s is not supported by the command line, only Float32 and Float64", cfg.input.DType())
	}
	if err != nil {
		return err
	}
	printResults(cfg, results)
	return nil
}
