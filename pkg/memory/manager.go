// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory implements memory groups: sets of transient tensors whose storage is only
// bound while the group is acquired, and the pooled Manager they share.
//
// The storage is handed out as reference-counted Blob objects. Tensors and queued kernels
// retain the blobs they use, so a group can release its memory right after enqueuing work:
// the storage only returns to the pool once the device is done with it.
package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/backends"
	"k8s.io/klog/v2"
)

// Recycler is implemented by devices that pool their own storage, see simplego.Device.RecycleStorage.
// Storage dropped by a Manager is given back to them.
type Recycler interface {
	RecycleStorage(storage backends.Storage)
}

type poolKey struct {
	dtype  dtypes.DType
	length int
}

// Manager pools device storage, indexed by dtype and length, shared by any number of Group objects.
//
// It is reference counted: NewManager returns it with one reference, each Group retains it,
// and when the last reference is released the pooled storage is dropped.
type Manager struct {
	device backends.Device

	refs atomic.Int32

	mu     sync.Mutex
	pools  map[poolKey][]backends.Storage
	closed bool
	stats  Stats
}

// Stats of a Manager.
type Stats struct {
	// Hits and Misses count the blobs served from the pool and the ones that required new storage.
	Hits, Misses int

	// InUse is the number of bytes in blobs currently held, Pooled the bytes of the storage waiting
	// to be reused.
	InUse, Pooled uintptr
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("hits=%s, misses=%s, in use=%s, pooled=%s",
		humanize.Comma(int64(s.Hits)), humanize.Comma(int64(s.Misses)),
		humanize.Bytes(uint64(s.InUse)), humanize.Bytes(uint64(s.Pooled)))
}

// NewManager creates a Manager for the storage of device, holding one reference.
func NewManager(device backends.Device) *Manager {
	m := &Manager{
		device: device,
		pools:  make(map[poolKey][]backends.Storage),
	}
	m.refs.Store(1)
	return m
}

// Device used by the manager.
func (m *Manager) Device() backends.Device { return m.device }

// Retain adds a reference to the manager.
func (m *Manager) Retain() {
	if _, ok := addRef(&m.refs, 1); !ok {
		exceptions.Panicf("memory.Manager.Retain(): manager already released")
	}
}

// Release drops a reference to the manager. With the last one, all pooled storage is dropped.
// Blobs still in use are dropped as they are released.
func (m *Manager) Release() {
	refs, ok := addRef(&m.refs, -1)
	if !ok {
		exceptions.Panicf("memory.Manager.Release(): manager already released")
	}
	if refs > 0 {
		return
	}
	m.mu.Lock()
	pools := m.pools
	m.pools = nil
	m.closed = true
	m.stats.Pooled = 0
	m.mu.Unlock()
	klog.V(1).Infof("memory.Manager(%p): released, dropping %d storage pools", m, len(pools))
	for _, storages := range pools {
		for _, storage := range storages {
			m.drop(storage)
		}
	}
}

// Stats returns a snapshot of the manager statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func storageBytes(storage backends.Storage) uintptr {
	return storage.DType().Memory() * uintptr(storage.Len())
}

// NewBlob returns a blob of storage for length elements of dtype, holding one reference.
// It reuses pooled storage when possible.
func (m *Manager) NewBlob(dtype dtypes.DType, length int) *Blob {
	key := poolKey{dtype: dtype, length: length}
	var storage backends.Storage
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		exceptions.Panicf("memory.Manager.NewBlob(): manager already released")
	}
	if pool := m.pools[key]; len(pool) > 0 {
		storage = pool[len(pool)-1]
		pool[len(pool)-1] = nil
		m.pools[key] = pool[:len(pool)-1]
		m.stats.Hits++
		m.stats.Pooled -= storageBytes(storage)
	} else {
		m.stats.Misses++
	}
	m.mu.Unlock()

	if storage == nil {
		storage = m.device.NewStorage(dtype, length)
	}
	m.mu.Lock()
	m.stats.InUse += storageBytes(storage)
	m.mu.Unlock()

	b := &Blob{manager: m, storage: storage}
	b.refs.Store(1)
	return b
}

// recycle storage of a blob whose last reference was released.
func (m *Manager) recycle(storage backends.Storage) {
	m.mu.Lock()
	m.stats.InUse -= storageBytes(storage)
	if m.closed {
		m.mu.Unlock()
		m.drop(storage)
		return
	}
	key := poolKey{dtype: storage.DType(), length: storage.Len()}
	m.pools[key] = append(m.pools[key], storage)
	m.stats.Pooled += storageBytes(storage)
	m.mu.Unlock()
}

func (m *Manager) drop(storage backends.Storage) {
	if recycler, ok := m.device.(Recycler); ok {
		recycler.RecycleStorage(storage)
	}
}

// Blob is a reference-counted hold on storage from a Manager. It implements backends.Handle.
type Blob struct {
	manager *Manager
	storage backends.Storage
	refs    atomic.Int32
}

var _ backends.Handle = (*Blob)(nil)

// Storage implements backends.Handle.
func (b *Blob) Storage() backends.Storage { return b.storage }

// Retain implements backends.Handle.
func (b *Blob) Retain() {
	if _, ok := addRef(&b.refs, 1); !ok {
		exceptions.Panicf("memory.Blob.Retain(): blob already released")
	}
}

// Release implements backends.Handle. The last release returns the storage to the manager.
func (b *Blob) Release() {
	refs, ok := addRef(&b.refs, -1)
	if !ok {
		exceptions.Panicf("memory.Blob.Release(): blob already released")
	}
	if refs == 0 {
		b.manager.recycle(b.storage)
	}
}

// addRef adds delta to a positive reference count. It returns the new count, or false if the count
// had already dropped to zero, in which case it is left untouched.
func addRef(refs *atomic.Int32, delta int32) (int32, bool) {
	for {
		current := refs.Load()
		if current <= 0 {
			return current, false
		}
		if refs.CompareAndSwap(current, current+delta) {
			return current + delta, true
		}
	}
}
