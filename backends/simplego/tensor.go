// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Tensor for SimpleGo holds its descriptor and a handle to the storage bound to it, if any.
//
// A Tensor is also its own allocator.
type Tensor struct {
	device *Device
	info   tensors.Info
	owner  backends.MemoryOwner
	handle backends.Handle
}

var (
	_ backends.Tensor    = (*Tensor)(nil)
	_ backends.Allocator = (*Tensor)(nil)
)

// NewTensor implements backends.Device.
func (d *Device) NewTensor(info tensors.Info) backends.Tensor {
	d.checkOk()
	if !info.Ok() {
		exceptions.Panicf("NewTensor(%s): invalid tensor info", &info)
	}
	if !isSupportedDType(info.DType()) {
		exceptions.Panicf("NewTensor(%s): dtype %s not supported by backend %q", &info, info.DType(), BackendName)
	}
	t := &Tensor{device: d, info: info.Clone()}
	if t.info.NumChannels == 0 {
		t.info.NumChannels = 1
	}
	return t
}

// Info implements backends.Tensor.
func (t *Tensor) Info() *tensors.Info { return &t.info }

// Allocator implements backends.Tensor.
func (t *Tensor) Allocator() backends.Allocator { return t }

// String implements fmt.Stringer.
func (t *Tensor) String() string { return t.info.String() }

// Allocate implements backends.Allocator.
func (t *Tensor) Allocate() {
	if t.handle != nil {
		exceptions.Panicf("Tensor(%s).Allocate(): tensor already allocated", &t.info)
	}
	if t.owner != nil {
		t.owner.Finalize(t)
		return
	}
	t.handle = t.device.newOwnedHandle(t.info.DType(), t.info.StorageLen())
}

// Free implements backends.Allocator.
func (t *Tensor) Free() {
	if t.handle == nil {
		return
	}
	t.handle.Release()
	t.handle = nil
}

// IsAllocated implements backends.Allocator.
func (t *Tensor) IsAllocated() bool { return t.handle != nil }

// SetOwner implements backends.Allocator.
func (t *Tensor) SetOwner(owner backends.MemoryOwner) {
	if t.handle != nil {
		exceptions.Panicf("Tensor(%s).SetOwner(): tensor already allocated", &t.info)
	}
	t.owner = owner
}

// Import implements backends.Allocator.
func (t *Tensor) Import(handle backends.Handle) {
	storage := handle.Storage()
	if storage.DType() != t.info.DType() || storage.Len() < t.info.StorageLen() {
		exceptions.Panicf("Tensor(%s).Import(): storage of %d elements of %s can't hold tensor that needs %d elements",
			&t.info, storage.Len(), storage.DType(), t.info.StorageLen())
	}
	handle.Retain()
	if t.handle != nil {
		t.handle.Release()
	}
	t.handle = handle
}

// Unimport implements backends.Allocator.
func (t *Tensor) Unimport() { t.Free() }

// extendPadding extends the padding of the tensor. It panics if the tensor is already allocated
// and the padding would change.
func (t *Tensor) extendPadding(border backends.BorderSize) {
	padding := tensors.Padding{Left: border.Left, Right: border.Right}
	if t.info.Padding.Left >= padding.Left && t.info.Padding.Right >= padding.Right {
		return
	}
	if t.handle != nil {
		exceptions.Panicf("Tensor(%s): can't extend padding to [%d,%d] of an allocated tensor -- configure the kernels before allocating",
			&t.info, padding.Left, padding.Right)
	}
	t.info.ExtendPadding(padding)
}

// Storage returns the storage currently bound to the tensor, including padding, or nil if not allocated.
func (t *Tensor) Storage() *Storage {
	if t.handle == nil {
		return nil
	}
	return t.handle.Storage().(*Storage)
}

// CopyFrom copies the logical values (padding excluded) from flat, which must be a slice of the tensor's dtype
// holding exactly Shape.Size() values, with axis 0 being the fastest-varying one.
func (t *Tensor) CopyFrom(flat any) error {
	storage, err := t.checkFlat("CopyFrom", flat)
	if err != nil {
		return err
	}
	dim0 := t.rowLen()
	for row := range t.info.NumRows() {
		start := t.info.RowStart(row)
		copyFlat(sliceFlat(storage.flat, start, start+dim0), sliceFlat(flat, row*dim0, (row+1)*dim0))
	}
	return nil
}

// CopyTo copies the logical values (padding excluded) to flat, which must be a slice of the tensor's dtype
// with exactly Shape.Size() elements.
func (t *Tensor) CopyTo(flat any) error {
	storage, err := t.checkFlat("CopyTo", flat)
	if err != nil {
		return err
	}
	dim0 := t.rowLen()
	for row := range t.info.NumRows() {
		start := t.info.RowStart(row)
		copyFlat(sliceFlat(flat, row*dim0, (row+1)*dim0), sliceFlat(storage.flat, start, start+dim0))
	}
	return nil
}

func (t *Tensor) rowLen() int {
	if t.info.Rank() == 0 {
		return 1
	}
	return t.info.Dim(0)
}

func (t *Tensor) checkFlat(method string, flat any) (*Storage, error) {
	storage := t.Storage()
	if storage == nil {
		return nil, errors.Errorf("Tensor(%s).%s(): tensor not allocated", &t.info, method)
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("Tensor(%s).%s(): expected a slice, got %T", &t.info, method, flat)
	}
	if dtype := dtypes.FromGoType(flatV.Type().Elem()); dtype != t.info.DType() {
		return nil, errors.Errorf("Tensor(%s).%s(): flat data type (%s) does not match tensor dtype (%s)",
			&t.info, method, flatV.Type().Elem(), t.info.DType())
	}
	if flatV.Len() != t.info.Shape.Size() {
		return nil, errors.Errorf("Tensor(%s).%s(): flat has %d elements, tensor has %d",
			&t.info, method, flatV.Len(), t.info.Shape.Size())
	}
	return storage, nil
}
