// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// TensorState of a tensor managed by a Group.
type TensorState int

const (
	// Declared tensors are managed by the group, but their allocator hasn't finalized their requirements yet.
	Declared TensorState = iota

	// Finalized tensors have their memory requirements fixed: they get storage whenever the group is acquired.
	Finalized
)

type managedTensor struct {
	tensor backends.Tensor
	state  TensorState
	length int
	blob   *Blob
}

// Group manages the storage of a set of transient tensors: storage is only bound to them between
// Acquire and Release, and in between it is returned to the Manager, to be reused by other groups.
//
// The lifecycle of a tensor in a group is:
//
//  1. Manage(tensor): the group becomes the tensor's MemoryOwner.
//  2. tensor.Allocator().Allocate(): calls Group.Finalize, which records the memory requirements.
//  3. Acquire()/Release() bind and unbind storage to all finalized tensors.
//
// A Group is not safe for concurrent use.
type Group struct {
	id       uuid.UUID
	manager  *Manager
	tensors  []*managedTensor
	acquired bool
	closed   bool
}

var _ backends.MemoryOwner = (*Group)(nil)

// NewGroup creates a group that takes storage from manager, which it retains until Close.
func NewGroup(manager *Manager) *Group {
	manager.Retain()
	g := &Group{id: uuid.New(), manager: manager}
	klog.V(1).Infof("memory.Group(%s): created", g.id)
	return g
}

// ID of the group, used for logging.
func (g *Group) ID() uuid.UUID { return g.id }

func (g *Group) checkOpen(method string) {
	if g.closed {
		exceptions.Panicf("memory.Group(%s).%s(): group already closed", g.id, method)
	}
}

func (g *Group) find(t backends.Tensor) *managedTensor {
	for _, m := range g.tensors {
		if m.tensor == t {
			return m
		}
	}
	return nil
}

// Manage adds the tensor to the group, which becomes its MemoryOwner. The tensor must not be allocated.
// Managing a tensor twice is a no-op.
func (g *Group) Manage(t backends.Tensor) {
	g.checkOpen("Manage")
	if g.find(t) != nil {
		return
	}
	t.Allocator().SetOwner(g)
	g.tensors = append(g.tensors, &managedTensor{tensor: t})
}

// Finalize implements backends.MemoryOwner. It is called by the allocator of a managed tensor
// when it is allocated, and fixes the tensor's memory requirements.
//
// If the group is currently acquired, the tensor gets its storage immediately.
func (g *Group) Finalize(t backends.Tensor) {
	g.checkOpen("Finalize")
	m := g.find(t)
	if m == nil {
		exceptions.Panicf("memory.Group(%s).Finalize(): tensor %s not managed by this group", g.id, t.Info())
	}
	m.state = Finalized
	m.length = t.Info().StorageLen()
	if g.acquired {
		g.bind(m)
	}
}

func (g *Group) bind(m *managedTensor) {
	if m.blob != nil {
		return
	}
	m.blob = g.manager.NewBlob(m.tensor.Info().DType(), m.length)
	m.tensor.Allocator().Import(m.blob)
}

// Acquire binds storage to all finalized tensors of the group.
// Acquiring an already acquired group is a no-op.
func (g *Group) Acquire() {
	g.checkOpen("Acquire")
	if g.acquired {
		klog.V(1).Infof("memory.Group(%s).Acquire(): already acquired", g.id)
		return
	}
	g.acquired = true
	for _, m := range g.tensors {
		if m.state == Finalized {
			g.bind(m)
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("memory.Group(%s): acquired %d tensors, %s (%s)", g.id, g.NumFinalized(),
			humanize.Bytes(uint64(g.MemoryRequired())), g.manager.Stats())
	}
}

// Release unbinds the storage from the tensors of the group. It never blocks: work already enqueued
// using the storage retains it, and it only returns to the manager once that work is done.
// Releasing a group that is not acquired is a no-op.
func (g *Group) Release() {
	g.checkOpen("Release")
	if !g.acquired {
		klog.V(1).Infof("memory.Group(%s).Release(): not acquired", g.id)
		return
	}
	g.acquired = false
	for _, m := range g.tensors {
		if m.blob == nil {
			continue
		}
		m.tensor.Allocator().Unimport()
		m.blob.Release()
		m.blob = nil
	}
}

// IsAcquired returns whether the group is currently acquired.
func (g *Group) IsAcquired() bool { return g.acquired }

// NumManaged returns the number of tensors managed by the group.
func (g *Group) NumManaged() int { return len(g.tensors) }

// NumFinalized returns the number of managed tensors with finalized memory requirements.
func (g *Group) NumFinalized() int {
	var count int
	for _, m := range g.tensors {
		if m.state == Finalized {
			count++
		}
	}
	return count
}

// MemoryRequired is the number of bytes bound to the tensors of the group when it is acquired.
func (g *Group) MemoryRequired() uintptr {
	var total uintptr
	for _, m := range g.tensors {
		if m.state == Finalized {
			total += m.tensor.Info().DType().Memory() * uintptr(m.length)
		}
	}
	return total
}

// Close releases the group (if acquired), detaches it from its tensors and drops its reference to the manager.
// The group can't be used afterwards. Closing a closed group is a no-op.
func (g *Group) Close() {
	if g.closed {
		return
	}
	if g.acquired {
		g.Release()
	}
	for _, m := range g.tensors {
		m.tensor.Allocator().SetOwner(nil)
	}
	g.tensors = nil
	g.closed = true
	g.manager.Release()
	g.manager = nil
	klog.V(1).Infof("memory.Group(%s): closed", g.id)
}
