// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduction

import (
	"fmt"
	"strings"

	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/pkg/errors"
)

const (
	// DefaultTileWidth is the number of axis-0 elements reduced by one work group: 16 elements per thread x 8 threads.
	DefaultTileWidth = 16 * 8

	// DefaultFanIn is the number of work groups per extra stage in the stage count formula.
	DefaultFanIn = 128
)

// Policy holds the parameters of the stage count formula:
//
//	numWorkGroups = ceil(dim0 / TileWidth)
//	numStages = numWorkGroups / FanIn + 2
//
// TileWidth must match the tile width of the device kernels.
type Policy struct {
	TileWidth, FanIn int
}

// DefaultPolicy matches the SimpleGo device default tile width.
var DefaultPolicy = Policy{TileWidth: DefaultTileWidth, FanIn: DefaultFanIn}

// PolicyFor returns the default policy for the device: its tile width, and DefaultFanIn.
func PolicyFor(device backends.Device) Policy {
	return Policy{TileWidth: device.TileWidth(), FanIn: DefaultFanIn}
}

// Validate returns an error if the policy can't be used.
func (p Policy) Validate() error {
	if p.TileWidth <= 0 || p.FanIn <= 0 {
		return errors.Errorf("invalid reduction policy %+v: TileWidth and FanIn must be > 0", p)
	}
	return nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// NumStages returns the number of stages used to reduce axis of input.
//
// Only the reduction of axis 0 of non-quantized tensors is staged: it always takes at least 2 stages,
// so there is at least one intermediate buffer before the final stage.
func NumStages(input *tensors.Info, axis int, policy Policy) int {
	if axis != 0 || input.Rank() == 0 || input.IsQuantized() {
		return 1
	}
	numWorkGroups := ceilDiv(input.Dim(0), policy.TileWidth)
	return numWorkGroups/policy.FanIn + 2
}

// IntermediateInfos returns the descriptors of the numStages-1 intermediate buffers: the axis-0 dimension
// of each is the one of the previous divided by the tile width (rounded up), the other dimensions are
// the input ones.
func IntermediateInfos(input *tensors.Info, numStages int, policy Policy) []tensors.Info {
	if numStages <= 1 {
		return nil
	}
	infos := make([]tensors.Info, numStages-1)
	prev := input
	for ii := range infos {
		infos[ii] = prev.WithShape(prev.Shape.WithDim(0, ceilDiv(prev.Dim(0), policy.TileWidth)))
		prev = &infos[ii]
	}
	return infos
}

// Stage is one reduction pass of a Plan.
type Stage struct {
	Index         int
	Input, Output tensors.Info
	Op            backends.ReductionOp

	// OriginalExtent is the divisor of the final ReductionMeanSum stage of a staged plan, 0 otherwise.
	OriginalExtent int
}

// Plan is the ordered list of stages of a reduction, and the descriptors of the intermediate
// buffers between them: Stages[i].Output == Intermediates[i] for all but the last stage.
type Plan struct {
	Axis          int
	Requested     backends.ReductionOp
	Stages        []Stage
	Intermediates []tensors.Info
}

// NumStages in the plan.
func (p *Plan) NumStages() int { return len(p.Stages) }

// IsStaged returns whether the reduction takes more than one pass.
func (p *Plan) IsStaged() bool { return len(p.Stages) > 1 }

// String implements fmt.Stringer.
func (p *Plan) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Plan(%s, axis=%d, %d stage(s))", p.Requested, p.Axis, len(p.Stages))
	for _, s := range p.Stages {
		_, _ = fmt.Fprintf(&sb, "\n  #%d %s: %s -> %s", s.Index, s.Op, s.Input.Shape, s.Output.Shape)
		if s.OriginalExtent > 0 {
			_, _ = fmt.Fprintf(&sb, " (divisor=%d)", s.OriginalExtent)
		}
	}
	return sb.String()
}

// MakePlan derives the stages to reduce axis of input into output with the requested op.
//
// It is a pure function of its arguments: it only fails for an unsupported op (returning an
// error that matches ErrUnsupportedOperation) or an invalid policy. Compatibility of the
// tensors is checked by the device kernels, see Validate.
//
// Only staged reductions are restricted to Sum, MeanSum and SumSquare: a single stage reduction
// passes any valid op to the kernel, which decides whether it supports it.
func MakePlan(input, output *tensors.Info, axis int, op backends.ReductionOp, policy Policy) (Plan, error) {
	if err := policy.Validate(); err != nil {
		return Plan{}, err
	}
	numStages := NumStages(input, axis, policy)
	var ops StageOps
	var err error
	if numStages > 1 {
		ops, err = OpsFor(op)
	} else {
		ops, err = passThroughOps(op)
	}
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Axis: axis, Requested: op}
	plan.Intermediates = IntermediateInfos(input, numStages, policy)
	plan.Stages = make([]Stage, numStages)
	for ii := range plan.Stages {
		stage := &plan.Stages[ii]
		stage.Index = ii
		stage.Op = ops.ForStage(ii, numStages)
		if ii == 0 {
			stage.Input = input.Clone()
		} else {
			stage.Input = plan.Intermediates[ii-1].Clone()
		}
		if ii == numStages-1 {
			stage.Output = output.Clone()
			if numStages > 1 && stage.Op == backends.ReductionMeanSum {
				stage.OriginalExtent = input.Dim(0)
			}
		} else {
			stage.Output = plan.Intermediates[ii].Clone()
		}
	}
	return plan, nil
}
