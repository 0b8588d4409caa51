// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
)

// Storage for SimpleGo holds a flat slice of the underlying data type.
//
// Storage is recycled through pools, so newly obtained storage is not zeroed: it
// holds whatever values the previous user left.
type Storage struct {
	dtype dtypes.DType

	// flat is always a slice of the underlying data type (dtype).
	flat any
}

var _ backends.Storage = (*Storage)(nil)

// DType implements backends.Storage.
func (s *Storage) DType() dtypes.DType { return s.dtype }

// Len implements backends.Storage.
func (s *Storage) Len() int { return reflect.ValueOf(s.flat).Len() }

// Flat returns the underlying slice, e.g. []float32 for dtypes.Float32.
func (s *Storage) Flat() any { return s.flat }

type storagePoolKey struct {
	dtype  dtypes.DType
	length int
}

// getStoragePool for given dtype/length.
func (d *Device) getStoragePool(dtype dtypes.DType, length int) *sync.Pool {
	key := storagePoolKey{dtype: dtype, length: length}
	poolInterface, ok := d.storagePools.Load(key)
	if !ok {
		poolInterface, _ = d.storagePools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Storage{
					dtype: dtype,
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// NewStorage implements backends.Device. It takes the storage from the device pool.
func (d *Device) NewStorage(dtype dtypes.DType, length int) backends.Storage {
	d.checkOk()
	if !isSupportedDType(dtype) {
		exceptions.Panicf("dtype %s not supported by backend %q", dtype, BackendName)
	}
	if length <= 0 {
		exceptions.Panicf("cannot allocate storage of length %d", length)
	}
	return d.getStoragePool(dtype, length).Get().(*Storage)
}

// RecycleStorage returns storage obtained with NewStorage to the device pool.
// After this any references to storage should be dropped.
func (d *Device) RecycleStorage(storage backends.Storage) {
	s, ok := storage.(*Storage)
	if !ok || s == nil || d.finalized {
		return
	}
	d.getStoragePool(s.dtype, s.Len()).Put(s)
}

// ownedHandle is the reference-counted handle of storage allocated directly by a tensor.
// The storage goes back to the device pool when the last reference is released.
type ownedHandle struct {
	device  *Device
	storage *Storage
	refs    atomic.Int32
}

func (d *Device) newOwnedHandle(dtype dtypes.DType, length int) *ownedHandle {
	h := &ownedHandle{device: d, storage: d.NewStorage(dtype, length).(*Storage)}
	h.refs.Store(1)
	return h
}

func (h *ownedHandle) Storage() backends.Storage { return h.storage }

func (h *ownedHandle) Retain() {
	for {
		refs := h.refs.Load()
		if refs <= 0 {
			exceptions.Panicf("Retain() of storage already released")
		}
		if h.refs.CompareAndSwap(refs, refs+1) {
			return
		}
	}
}

func (h *ownedHandle) Release() {
	var refs int32
	for {
		refs = h.refs.Load()
		if refs <= 0 {
			exceptions.Panicf("Release() of storage already released")
		}
		if h.refs.CompareAndSwap(refs, refs-1) {
			break
		}
	}
	if refs == 1 {
		h.device.RecycleStorage(h.storage)
		h.storage = nil
	}
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// sliceFlat returns flat[start:end] for any slice type.
func sliceFlat(flat any, start, end int) any {
	return reflect.ValueOf(flat).Slice(start, end).Interface()
}
