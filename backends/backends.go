// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a kernel backend of the GMM specializer needs to implement.
//
// A backend is a target execution environment (a CPU runtime, an accelerator runtime) that offers
// precompiled variants of the EM kernels. Each backend declares:
//
//   - Its hardware limits (Capability), probed once when the backend is created.
//   - A ParameterSpace, whose cartesian product defines the universe of its kernel variants.
//   - A compile-feasibility predicate and a run-feasibility predicate over parameter assignments.
//   - The compiled entry point (Kernel) of each variant.
//   - Optionally, a Device with its own memory, in which case buffers are mirrored there.
//
// Backends register themselves during package initialization with Register, and are created by name with
// NewWithConfig.
package backends

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:generate go tool enumer -type=Operation -trimprefix=Operation -transform=snake -output=gen_operation_enumer.go operation.go
//go:generate go tool enumer -type=Mode -trimprefix=Mode -transform=snake -output=gen_mode_enumer.go operation.go

// Backend is the API that needs to be implemented by a GMM kernel backend.
type Backend interface {
	// Name returns the short name of the backend, used to register it and to name its variants. E.g.: "cuda".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capability returns the hardware limits of the backend, probed when it was created.
	Capability() Capability

	// ParameterSpace returns the tuning parameters of the backend's variants.
	// If autotune is true, the larger exploratory space is returned.
	ParameterSpace(autotune bool) ParameterSpace

	// CompileFeasible returns whether the variant described by the assignment can be built for this backend's
	// hardware, independent of any particular call.
	CompileFeasible(assignment Assignment) bool

	// RunCheck returns the run-feasibility predicate of the variant described by the assignment.
	// The returned function captures the static bounds of the variant, and it accepts the actual call arguments.
	RunCheck(assignment Assignment) (RunCheck, error)

	// Kernel returns the compiled entry point of the variant for the given operation.
	// It returns an error wrapping ErrNotImplemented if the variant is not available, in which case
	// the caller should register a stub in its place.
	Kernel(key OpKey, assignment Assignment) (Kernel, error)

	// Device returns the accelerator used by the backend, or nil if the backend operates on host memory only.
	Device() Device

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
//
// It should return an error if the backend is not available in this machine, e.g. no accelerator
// or no kernel library found.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if _, found := registeredConstructors[name]; found {
		exceptions.Panicf("backend %q registered twice", name)
	}
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered returns whether a backend with the given name was registered.
func IsRegistered(name string) bool {
	_, found := registeredConstructors[name]
	return found
}

// ConfigEnvVar is the environment variable with the backend configuration to use, overriding the
// configured list of backends (see specializer.Config.Candidates).
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "cuda") and
// "<backend_configuration>" is backend specific (e.g.: for cuda, "emulate,device=0").
const ConfigEnvVar = "GMM_BACKEND"

// SplitConfig splits a configuration string formatted as "<backend_name>:<backend_configuration>".
// If there is no ":" the whole string is taken as the backend name.
func SplitConfig(config string) (name, backendConfig string) {
	if idx := strings.Index(config, ":"); idx != -1 {
		return config[:idx], config[idx+1:]
	}
	return config, ""
}

// NewWithConfig takes a configurations string formatted as
// "<backend_name>:<backend_configuration>", and creates the corresponding backend.
//
// If the backend name is empty, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for the GMM specializer -- maybe import the default ones with import _ "github.com/gomlx/gmmspecializer/backends/default"?`)
	}
	backendName, backendConfig := SplitConfig(config)
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends are %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q", backendName)
	}
	klog.V(2).Infof("backends: created %q with configuration %q", backendName, backendConfig)
	return backend, nil
}
