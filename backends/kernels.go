// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// WorkItem is a unit of work that can be enqueued on a Queue.
type WorkItem interface {
	// Name used for logging and tracing.
	Name() string

	// Run executes the work synchronously. Queues call it in enqueue order.
	Run()
}

// Queue is an in-order command queue: work items are executed in the order they are enqueued,
// and an item only starts after the previous one finished.
type Queue interface {
	// Enqueue schedules item for execution. If blocking is true, it returns only after
	// the item (and everything enqueued before it) has executed.
	Enqueue(item WorkItem, blocking bool)

	// Finish blocks until all enqueued items are executed. It returns the first error
	// raised by an item since the last call to Finish.
	Finish() error
}

// BorderSize is the number of halo elements a kernel reads around axis 0 of its input.
type BorderSize struct {
	Left, Right int
}

// Empty returns whether there is no border.
func (b BorderSize) Empty() bool { return b.Left == 0 && b.Right == 0 }

// BorderMode defines how a BorderHandler fills the border elements.
type BorderMode int

//go:generate go tool enumer -type BorderMode -trimprefix=BorderMode -output=gen_bordermode_enumer.go kernels.go

const (
	// BorderModeUndefined leaves the border untouched.
	BorderModeUndefined BorderMode = iota

	// BorderModeConstant fills the border with a constant value.
	BorderModeConstant

	// BorderModeReplicate fills the border with the closest edge value of the row.
	BorderModeReplicate
)

// ReductionKernel reduces one axis of its input in one parallel pass.
//
// On the axis-0 path of non-quantized tensors the kernel is tiled: each work group reduces
// Device.TileWidth consecutive elements into one output element, reading the right halo
// of the last tile -- see BorderSize. The output axis-0 dimension is then either the number
// of tiles (a partial reduction) or 1 (a full reduction).
type ReductionKernel interface {
	WorkItem

	// Configure the kernel. originalExtent is the divisor of ReductionMeanSum: if 0 the
	// input dimension of axis is used.
	//
	// It may extend the padding of input, so input must not be allocated yet.
	// It panics if the arguments don't pass Device.ValidateReduction.
	Configure(input, output Tensor, axis int, op ReductionOp, originalExtent int)

	// BorderSize returns the halo the configured kernel reads around its input.
	BorderSize() BorderSize
}

// BorderHandler initializes the border (padding) elements of a tensor.
type BorderHandler interface {
	WorkItem

	// Configure the handler to fill border elements of tensor, with the given mode. fillValue is used by
	// BorderModeConstant.
	Configure(tensor Tensor, border BorderSize, mode BorderMode, fillValue float64)
}
