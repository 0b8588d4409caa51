// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable device for staged reductions.
//
// Tensors live in Go slices, kernels run on a pool of goroutines and the command queue executes
// the enqueued work in order, in a separate goroutine.
//
// It only implements the most popular dtypes.
package simplego

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/internal/workerspool"
	"github.com/pkg/errors"
)

// BackendName to be used in STAGEDREDUCE_BACKEND to specify this backend.
const BackendName = "go"

// DefaultTileWidth is the number of elements reduced by one work group of the tiled reduction kernel:
// 16 elements per thread x 8 threads.
const DefaultTileWidth = 16 * 8

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Device.
//
// The config is a comma-separated list of options:
//
//   - "parallelism=N": maximum number of goroutines used by the kernels. 0 disables parallelism,
//     -1 makes it unlimited. The default is runtime.NumCPU().
//   - "tile=N": tile width of the reduction kernel. Default is DefaultTileWidth.
//
// It panics for invalid configurations.
func New(config string) backends.Device {
	d, err := NewWithConfig(config)
	if err != nil {
		panic(err)
	}
	return d
}

// NewWithConfig is like New, but returns the concrete Device, and an error for invalid configurations.
func NewWithConfig(config string) (*Device, error) {
	d := &Device{
		workers:   workerspool.New(),
		tileWidth: DefaultTileWidth,
	}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			return nil, errors.Errorf("invalid option %q for backend %q: expected format <key>=<value>", option, BackendName)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for option %q of backend %q", key, BackendName)
		}
		switch key {
		case "parallelism":
			d.workers.SetMaxParallelism(n)
		case "tile":
			if n <= 0 {
				return nil, errors.Errorf("tile width must be > 0 for backend %q, got %d", BackendName, n)
			}
			d.tileWidth = n
		default:
			return nil, errors.Errorf("unknown option %q for backend %q", key, BackendName)
		}
	}
	return d, nil
}

// Device implements the backends.Device interface.
type Device struct {
	workers   *workerspool.Pool
	tileWidth int

	// storagePools are a map to pools of storage that can be reused.
	// The underlying type is map[storagePoolKey]*sync.Pool.
	storagePools sync.Map

	finalized bool
}

// Compile-time check that simplego.Device implements backends.Device.
var _ backends.Device = &Device{}

// Name returns the short name of the backend.
func (d *Device) Name() string {
	return "SimpleGo (go)"
}

// String implement backends.Device.
func (d *Device) String() string { return BackendName }

// Description is a longer description of the Device that can be used to pretty-print.
func (d *Device) Description() string {
	return "Simple Go Portable Device"
}

// TileWidth implements backends.Device.
func (d *Device) TileWidth() int { return d.tileWidth }

// MaxParallelism of the kernels. See New for the meaning of the values.
func (d *Device) MaxParallelism() int { return d.workers.MaxParallelism() }

// NewQueue implements backends.Device.
func (d *Device) NewQueue() backends.Queue {
	d.checkOk()
	return newQueue(d)
}

// NewReductionKernel implements backends.Device.
func (d *Device) NewReductionKernel() backends.ReductionKernel {
	d.checkOk()
	return &ReductionKernel{device: d}
}

// NewBorderHandler implements backends.Device.
func (d *Device) NewBorderHandler() backends.BorderHandler {
	d.checkOk()
	return &FillBorder{device: d}
}

// Finalize releases all the associated resources immediately, and makes the device invalid.
func (d *Device) Finalize() {
	d.finalized = true
	d.storagePools.Clear()
}

func (d *Device) checkOk() {
	if d.finalized {
		exceptions.Panicf("device %q already finalized", BackendName)
	}
}
