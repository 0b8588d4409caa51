// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduction

import (
	"github.com/gomlx/stagedreduce/backends"
	"github.com/pkg/errors"
)

// ErrUnsupportedOperation is matched (with errors.Is) by errors returned for reductions the
// staged reduction doesn't support.
var ErrUnsupportedOperation = errors.New("unsupported reduction operation")

// UnsupportedOperationError is returned for invalid reduction operations, and for staged reductions
// with operations other than Sum, MeanSum and SumSquare.
type UnsupportedOperationError struct {
	Op     backends.ReductionOp
	Staged bool
}

// Error implements error.
func (e *UnsupportedOperationError) Error() string {
	if e.Staged {
		return "reduction operation " + e.Op.String() + " is not supported by staged reductions, only Sum, MeanSum and SumSquare"
	}
	return "invalid reduction operation " + e.Op.String()
}

// Is makes errors.Is(err, ErrUnsupportedOperation) true.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// StageOps are the operations performed by the stages of a reduction.
type StageOps struct {
	// Requested is the operation for an unstaged (single pass) reduction.
	Requested backends.ReductionOp

	// First, Intermediate and Last are the operations of a staged reduction.
	First, Intermediate, Last backends.ReductionOp
}

// OpsFor returns the stage operations for the requested op:
//
//	requested  | first      | intermediate | last
//	Sum        | Sum        | Sum          | Sum
//	MeanSum    | Sum        | Sum          | MeanSum (divides by the original extent)
//	SumSquare  | SumSquare  | Sum          | Sum
//
// Any other op returns an *UnsupportedOperationError.
func OpsFor(op backends.ReductionOp) (StageOps, error) {
	switch op {
	case backends.ReductionSum:
		return StageOps{Requested: op, First: op, Intermediate: op, Last: op}, nil
	case backends.ReductionMeanSum:
		return StageOps{Requested: op, First: backends.ReductionSum, Intermediate: backends.ReductionSum, Last: op}, nil
	case backends.ReductionSumSquare:
		return StageOps{Requested: op, First: op, Intermediate: backends.ReductionSum, Last: backends.ReductionSum}, nil
	case backends.ReductionInvalid, backends.ReductionProd, backends.ReductionMin, backends.ReductionMax:
		return StageOps{}, errors.WithStack(&UnsupportedOperationError{Op: op, Staged: true})
	default:
		// Values outside of the enum.
		return StageOps{}, errors.WithStack(&UnsupportedOperationError{Op: op, Staged: true})
	}
}

// passThroughOps returns the operations of a single stage reduction: any valid op is handed as is to the kernel.
func passThroughOps(op backends.ReductionOp) (StageOps, error) {
	if op == backends.ReductionInvalid || !op.IsAReductionOp() {
		return StageOps{}, errors.WithStack(&UnsupportedOperationError{Op: op})
	}
	return StageOps{Requested: op, First: op, Intermediate: op, Last: op}, nil
}

// ForStage returns the operation of stage index out of numStages.
func (s StageOps) ForStage(index, numStages int) backends.ReductionOp {
	switch {
	case numStages <= 1:
		return s.Requested
	case index == 0:
		return s.First
	case index == numStages-1:
		return s.Last
	default:
		return s.Intermediate
	}
}
