// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a compute device needs to implement to run staged reductions:
// tensors with device storage, reduction and border-handling kernels, and an in-order command queue.
//
// Kernels are configured once and then enqueued, as units of work, on a Queue.
// Enqueuing never waits for the work to be executed.
//
// Preconditions violations (configuring a kernel with incompatible tensors, extending the
// padding of an already allocated tensor, etc.) are reported by throwing (panic) with a
// stack trace. See package github.com/gomlx/exceptions.
// Validation functions return errors instead.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/stagedreduce/pkg/core/tensors"
)

// Device is the API that needs to be implemented by a backend.
type Device interface {
	// Name returns the short name of the device. E.g.: "go" for the SimpleGo device.
	Name() string

	// Description is a longer description of the Device that can be used to pretty-print.
	Description() string

	// NewTensor returns a tensor described by info, not yet allocated.
	// The info is copied: the tensor owns its descriptor.
	NewTensor(info tensors.Info) Tensor

	// NewStorage allocates storage for length elements of dtype.
	// It is used by memory managers that pool storage across tensors.
	NewStorage(dtype dtypes.DType, length int) Storage

	// NewReductionKernel returns an unconfigured reduction kernel.
	NewReductionKernel() ReductionKernel

	// NewBorderHandler returns an unconfigured border handler.
	NewBorderHandler() BorderHandler

	// ValidateReduction checks whether a reduction kernel can be configured with the given arguments.
	// See ReductionKernel.Configure.
	ValidateReduction(input, output *tensors.Info, axis int, op ReductionOp, originalExtent int) error

	// TileWidth is the number of consecutive axis-0 elements reduced together by one work group
	// of a tiled reduction kernel.
	TileWidth() int

	// NewQueue creates a new in-order command queue.
	NewQueue() Queue

	// Finalize releases all the associated resources immediately, and makes the device invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Device.
type Constructor func(config string) Device

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// STAGEDREDUCE_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "parallelism=4,tile=128").
const STAGEDREDUCE_BACKEND = "STAGEDREDUCE_BACKEND"

// New returns a new default Device.
//
// The default is:
//
// 1. The environment STAGEDREDUCE_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Device {
	config, found := os.LookupEnv(STAGEDREDUCE_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) Device {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- maybe import the portable one with import _ "github.com/gomlx/stagedreduce/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

// List the registered backends.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}
