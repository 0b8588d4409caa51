// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reduction reduces one axis of a tensor with Sum, MeanSum or SumSquare, staging the
// reduction in several passes when the axis is axis 0 (the fastest-varying one).
// Single pass reductions also accept the other operations the device kernel supports (Prod, Min, Max).
//
// A single parallel pass can't efficiently reduce a long axis 0: the staged reduction first
// reduces tiles of TileWidth elements into an intermediate buffer, then reduces that buffer
// again, and so on, until the final stage writes the output. See Policy and MakePlan for
// how the number of stages and the intermediate shapes are derived.
//
// Usage:
//
//	if err := reduction.Validate(device, input.Info(), output.Info(), 0, backends.ReductionSum); err != nil { ... }
//	op := reduction.New(device, queue, nil)
//	defer op.Finalize()
//	if err := op.Configure(input, output, 0, backends.ReductionSum); err != nil { ... }
//	// Allocate and fill input and output...
//	op.Run()
//	err := queue.Finish()
package reduction

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/gomlx/stagedreduce/pkg/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Validate checks whether the reduction of axis of input into output with op can be configured on device,
// using the default policy for the device.
//
// It doesn't allocate anything: the plan is checked with descriptors only, each stage delegated to the
// device's own kernel validation. It returns the first error found.
func Validate(device backends.Device, input, output *tensors.Info, axis int, op backends.ReductionOp) error {
	return ValidateWithPolicy(device, input, output, axis, op, PolicyFor(device))
}

// ValidateWithPolicy is like Validate, but with the given policy.
func ValidateWithPolicy(device backends.Device, input, output *tensors.Info, axis int, op backends.ReductionOp, policy Policy) error {
	if !input.Ok() || !output.Ok() {
		return errors.Errorf("reduction.Validate(): invalid input (%s) or output (%s)", input, output)
	}
	plan, err := MakePlan(input, output, axis, op, policy)
	if err != nil {
		return err
	}
	if err := checkDevicePolicy(device, policy); err != nil {
		return err
	}
	for _, stage := range plan.Stages {
		if err := device.ValidateReduction(&stage.Input, &stage.Output, axis, stage.Op, stage.OriginalExtent); err != nil {
			return err
		}
	}
	return nil
}

func checkDevicePolicy(device backends.Device, policy Policy) error {
	if policy.TileWidth != device.TileWidth() {
		return errors.Errorf("reduction policy tile width %d doesn't match the %q device tile width %d",
			policy.TileWidth, device.Name(), device.TileWidth())
	}
	return nil
}

// stage is a kernel and its border handler, if any.
type stage struct {
	border backends.BorderHandler
	kernel backends.ReductionKernel
}

// Operation reduces one axis of a tensor, in one or more stages, enqueuing its work in a queue.
//
// It owns its stages and intermediate buffers. The storage of the intermediate buffers comes from
// a memory group, only bound during Run.
//
// An Operation is configured once: calling Configure again is not supported. It is not safe
// for concurrent use.
type Operation struct {
	device  backends.Device
	queue   backends.Queue
	manager *memory.Manager
	policy  Policy

	// Set by Configure.
	configured    bool
	plan          Plan
	group         *memory.Group
	stages        []stage
	intermediates []backends.Tensor
}

// Option for New.
type Option func(o *Operation)

// WithPolicy sets the policy used to stage the reduction. Its tile width must match the device's.
func WithPolicy(policy Policy) Option {
	return func(o *Operation) {
		o.policy = policy
	}
}

// New creates a reduction operation that enqueues its work on queue.
//
// The storage of intermediate buffers is taken from manager, which is retained until Finalize.
// If manager is nil, a private one is used.
func New(device backends.Device, queue backends.Queue, manager *memory.Manager, options ...Option) *Operation {
	if manager == nil {
		manager = memory.NewManager(device)
	} else {
		manager.Retain()
	}
	o := &Operation{
		device:  device,
		queue:   queue,
		manager: manager,
		policy:  PolicyFor(device),
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// Policy used by the operation.
func (o *Operation) Policy() Policy { return o.policy }

// Configure the reduction of axis of input into output with op.
//
// Callers are expected to have validated the arguments with Validate first. The kernel of the first stage
// may extend the padding of input, so input should be allocated only after Configure.
//
// Intermediate buffers are registered with a memory group, and finalized as soon as the kernels reading
// and writing them are configured.
//
// An unsupported op returns an error matching ErrUnsupportedOperation, and the operation is left unconfigured.
// If configuring a kernel fails, the padding of input is restored and the error is returned.
// Configuring an operation twice panics.
func (o *Operation) Configure(input, output backends.Tensor, axis int, op backends.ReductionOp) error {
	if o.configured {
		exceptions.Panicf("reduction.Operation.Configure(): operation already configured, create a new one instead")
	}
	if o.manager == nil {
		exceptions.Panicf("reduction.Operation.Configure(): operation already finalized")
	}
	plan, err := MakePlan(input.Info(), output.Info(), axis, op, o.policy)
	if err != nil {
		return err
	}
	if err := checkDevicePolicy(o.device, o.policy); err != nil {
		return err
	}
	klog.V(1).Infof("reduction.Configure(): %s", &plan)

	group := memory.NewGroup(o.manager)
	inputPadding := input.Info().Padding
	var stages []stage
	var intermediates []backends.Tensor
	err = exceptions.TryCatch[error](func() {
		stages, intermediates = o.configureStages(&plan, group, input, output)
	})
	if err != nil {
		group.Close()
		if !input.Allocator().IsAllocated() {
			input.Info().Padding = inputPadding
		}
		return errors.WithMessagef(err, "reduction.Configure(%s, axis=%d)", op, axis)
	}
	o.plan, o.group, o.stages, o.intermediates = plan, group, stages, intermediates
	o.configured = true
	return nil
}

// configureStages creates and wires the kernels. It panics on errors.
//
// Every intermediate buffer is managed by group before any kernel is configured: if it panics midway,
// closing group detaches the buffers already created.
func (o *Operation) configureStages(plan *Plan, group *memory.Group, input, output backends.Tensor) (stages []stage, intermediates []backends.Tensor) {
	intermediates = make([]backends.Tensor, 0, len(plan.Intermediates))
	for _, info := range plan.Intermediates {
		t := o.device.NewTensor(info)
		group.Manage(t)
		intermediates = append(intermediates, t)
	}

	numStages := plan.NumStages()
	stages = make([]stage, numStages)
	for ii, s := range plan.Stages {
		in, out := input, output
		if ii > 0 {
			in = intermediates[ii-1]
		}
		if ii < numStages-1 {
			out = intermediates[ii]
		}
		st := &stages[ii]
		st.kernel = o.device.NewReductionKernel()
		st.kernel.Configure(in, out, plan.Axis, s.Op, s.OriginalExtent)
		if plan.IsStaged() {
			st.border = o.device.NewBorderHandler()
			st.border.Configure(in, st.kernel.BorderSize(), backends.BorderModeConstant, 0)
		}
		if ii > 0 {
			// Producer and consumer of the buffer are wired: its padding is now final.
			in.Allocator().Allocate()
		}
	}
	return stages, intermediates
}

// Run enqueues the work of all stages, in order: for each stage, its border handler and then its kernel.
//
// It returns without waiting for the work to be executed. The memory group of the intermediate buffers is
// acquired while enqueuing and released right after: the queued work holds on to the storage it uses.
//
// Run can be called any number of times. Calling it before Configure panics.
func (o *Operation) Run() {
	if !o.configured {
		exceptions.Panicf("reduction.Operation.Run(): operation not configured")
	}
	o.group.Acquire()
	defer o.group.Release()
	for _, st := range o.stages {
		if st.border != nil {
			o.queue.Enqueue(st.border, false)
		}
		o.queue.Enqueue(st.kernel, false)
	}
}

// NumStages returns the number of configured stages, or 0 if not configured.
func (o *Operation) NumStages() int { return len(o.stages) }

// Plan returns the configured plan.
func (o *Operation) Plan() Plan { return o.plan }

// MemoryRequired returns the number of bytes of the intermediate buffers.
func (o *Operation) MemoryRequired() uintptr {
	if o.group == nil {
		return 0
	}
	return o.group.MemoryRequired()
}

// Finalize frees the intermediate buffers and releases the memory manager.
// The operation can't be used afterwards. Finalizing twice is a no-op.
func (o *Operation) Finalize() {
	if o.manager == nil {
		return
	}
	if o.group != nil {
		o.group.Close()
		o.group = nil
	}
	o.stages, o.intermediates = nil, nil
	o.configured = false
	o.manager.Release()
	o.manager = nil
}
