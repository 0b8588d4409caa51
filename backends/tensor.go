// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
)

// Storage is a block of device memory holding Len() elements of DType().
type Storage interface {
	DType() dtypes.DType
	Len() int
}

// Handle is a reference-counted hold on a Storage, handed out by memory managers.
//
// Whoever keeps using the storage (a tensor, or a queued kernel) must Retain it and
// Release it when done. The storage is recycled when the last hold is released.
type Handle interface {
	Storage() Storage
	Retain()
	Release()
}

// MemoryOwner manages the storage of tensors on behalf of others: typically a memory group.
//
// When a tensor with an owner is allocated, its allocator calls Finalize instead of
// materializing storage: the owner will later Import a Handle into it.
type MemoryOwner interface {
	Finalize(t Tensor)
}

// Tensor is a multidimensional array stored in device memory.
type Tensor interface {
	// Info returns the tensor's descriptor. Kernels may extend its padding while being configured,
	// as long as the tensor is not yet allocated.
	Info() *tensors.Info

	// Allocator returns the object that manages the tensor's storage.
	Allocator() Allocator
}

// Allocator manages the storage of one tensor.
type Allocator interface {
	// Allocate materializes the storage of the tensor.
	//
	// If the tensor is managed by a MemoryOwner, it only finalizes the tensor's memory
	// requirements with the owner, and storage is bound later with Import.
	Allocate()

	// Free releases the storage of the tensor.
	Free()

	// IsAllocated returns whether storage is currently bound to the tensor.
	IsAllocated() bool

	// SetOwner sets the MemoryOwner of the tensor. It must be called before Allocate.
	SetOwner(owner MemoryOwner)

	// Import binds the storage held by handle to the tensor, retaining it.
	Import(handle Handle)

	// Unimport unbinds an imported storage, releasing the tensor's hold on it.
	Unimport()
}
