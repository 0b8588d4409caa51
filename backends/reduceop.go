// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// ReductionOp is the operation applied by a reduction kernel.
type ReductionOp int

//go:generate go tool enumer -type ReductionOp -trimprefix=Reduction -output=gen_reductionop_enumer.go reduceop.go

const (
	ReductionInvalid ReductionOp = iota

	// ReductionSum adds the values.
	ReductionSum

	// ReductionMeanSum adds the values and divides the result by the number of values reduced.
	ReductionMeanSum

	// ReductionSumSquare adds the squares of the values.
	ReductionSumSquare

	// ReductionProd multiplies the values.
	ReductionProd

	// ReductionMin takes the smallest value.
	ReductionMin

	// ReductionMax takes the largest value.
	ReductionMax
)

// IsSumLike returns whether the operation accumulates by addition, in which case 0 is its neutral element.
func (op ReductionOp) IsSumLike() bool {
	switch op {
	case ReductionSum, ReductionMeanSum, ReductionSumSquare:
		return true
	default:
		return false
	}
}
