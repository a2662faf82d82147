// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package specializer creates the Context models run in: the active backend, selected from the configuration
// with fallback to the cpu backend, its registry of kernel variants, the dispatcher with its cache, and the
// buffer manager.
//
// There is no global state: every model is created with an explicit Context, and models sharing a Context share
// its buffers and dispatch cache.
package specializer

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/em"
	"github.com/gomlx/gmmspecializer/pkg/buffers"
	"github.com/gomlx/gmmspecializer/pkg/dispatch"
	"github.com/gomlx/gmmspecializer/pkg/variants"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context owns the state shared by models: backend, variant registry, dispatch cache and buffers.
//
// Operations on the models of a Context are serialized by it, see Do.
type Context struct {
	mu          sync.Mutex
	config      Config
	backend     backends.Backend
	registry    *dispatch.Registry
	dispatcher  *dispatch.Dispatcher
	buffers     *buffers.Manager
	logTable    []float32
	isFinalized bool
}

// New creates a Context with the first available backend of config.Candidates.
//
// A backend that is unavailable (e.g. no accelerator) is skipped with a warning. An unknown backend name,
// or a backend whose variants can't be registered, is a *ConfigurationError.
func New(config Config) (*Context, error) {
	var failures []error
	for _, candidate := range config.Candidates() {
		name, _ := backends.SplitConfig(candidate)
		if !backends.IsRegistered(name) {
			return nil, &ConfigurationError{Msg: "unknown backend " + strconv.Quote(name) +
				", registered backends are " + strings.Join(backends.List(), ", ")}
		}
		backend, err := backends.NewWithConfig(candidate)
		if err != nil {
			klog.Warningf("backend %q unavailable, falling back to the next candidate: %v", candidate, err)
			failures = append(failures, err)
			continue
		}
		return NewWithBackend(backend, config)
	}
	return nil, errors.Errorf("no backend available: %v", failures)
}

// NewWithBackend creates a Context for the given backend, registering its variants for every operation and
// numeric mode. The Context owns the backend and finalizes it in Finalize.
func NewWithBackend(backend backends.Backend, config Config) (*Context, error) {
	ctx := &Context{
		config:   config,
		backend:  backend,
		registry: dispatch.NewRegistry(),
		buffers:  buffers.NewManager(backend.Device()),
	}
	ctx.dispatcher = dispatch.NewDispatcher(ctx.registry, dispatch.NewCache())
	if err := ctx.populate(); err != nil {
		backend.Finalize()
		return nil, err
	}
	total, implemented := ctx.registry.NumVariants()
	klog.V(1).Infof("specializer: backend %q (%s), %d variants registered, %d implemented",
		backend.Name(), backend.Capability(), total, implemented)
	return ctx, nil
}

// populate registers the variants of the backend: the cartesian product of its parameter space for each numeric mode,
// for every operation. Variants that can't be compiled for the hardware, or that the backend doesn't provide, are
// registered as stubs that no call can select.
func (ctx *Context) populate() error {
	backend := ctx.backend
	name := backend.Name()
	space := backend.ParameterSpace(ctx.config.Autotune)
	for _, mode := range backends.ModeValues() {
		assignments := variants.Generate(space, mode)
		compilable := make([]bool, len(assignments))
		checks := make([]backends.RunCheck, len(assignments))
		for ii, a := range assignments {
			compilable[ii] = backend.CompileFeasible(a)
			if !compilable[ii] {
				klog.V(2).Infof("specializer: variant %s of backend %q doesn't fit the hardware", a, name)
				continue
			}
			check, err := backend.RunCheck(a)
			if err != nil {
				return &ConfigurationError{Msg: "variant " + a.String() + " of backend " + name, Err: err}
			}
			checks[ii] = check
		}

		for _, op := range backends.Operations() {
			key := backends.Key(op, mode)
			records := make([]*dispatch.VariantRecord, 0, len(assignments))
			for ii, a := range assignments {
				id := variants.Identifier(name, op, a)
				record := &dispatch.VariantRecord{
					ID:         id,
					Assignment: a,
					Entry:      backends.NotImplemented(id),
					RunCheck:   backends.NeverFeasible,
				}
				if compilable[ii] {
					kernel, err := backend.Kernel(key, a)
					switch {
					case err == nil:
						record.Entry, record.RunCheck, record.Implemented = kernel, checks[ii], true
					case errors.Is(err, backends.ErrNotImplemented):
						klog.V(2).Infof("specializer: variant %q not implemented: %v", id, err)
					default:
						return errors.WithMessagef(err, "creating kernel of variant %q", id)
					}
				}
				records = append(records, record)
			}
			if err := ctx.registry.Register(key, name, records); err != nil {
				return err
			}
		}
	}
	return nil
}

// Config returns the configuration the Context was created with.
func (ctx *Context) Config() Config { return ctx.config }

// Backend returns the active backend.
func (ctx *Context) Backend() backends.Backend { return ctx.backend }

// Registry returns the registry of variants of the active backend.
func (ctx *Context) Registry() *dispatch.Registry { return ctx.registry }

// Cache returns the cache of dispatch decisions.
func (ctx *Context) Cache() *dispatch.Cache { return ctx.dispatcher.Cache() }

// Buffers returns the buffer manager. It must only be used inside Do.
func (ctx *Context) Buffers() *buffers.Manager { return ctx.buffers }

// Do runs fn holding the lock of the Context, serializing it with the operations of all its models.
// It fails if the Context was finalized.
func (ctx *Context) Do(fn func() error) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.isFinalized {
		return errors.New("specializer context already finalized")
	}
	return fn()
}

// Dispatch selects the variant of the active backend to run the operation key with the call arguments.
// It must only be used inside Do.
func (ctx *Context) Dispatch(key backends.OpKey, args backends.CallArgs) (*dispatch.VariantRecord, error) {
	return ctx.dispatcher.Dispatch(key, ctx.backend.Name(), args)
}

// Invoke dispatches the operation for the arguments of the invocation and runs the selected variant.
// A panicking kernel is reported as an error. It must only be used inside Do.
func (ctx *Context) Invoke(key backends.OpKey, inv *backends.Invocation) (backends.Result, error) {
	record, err := ctx.Dispatch(key, inv.Args)
	if err != nil {
		return backends.Result{}, err
	}
	var result backends.Result
	var callErr error
	panicErr := exceptions.TryCatch[error](func() {
		result, callErr = record.Entry(inv)
	})
	if panicErr != nil {
		return result, errors.WithMessagef(panicErr, "variant %q panicked", record.ID)
	}
	if callErr != nil {
		return result, errors.WithMessagef(callErr, "variant %q", record.ID)
	}
	return result, nil
}

// LogTable returns the logarithm lookup table used by KL distance kernels, created on first use and shared
// by all the models of the Context. It must only be used inside Do.
func (ctx *Context) LogTable() []float32 {
	if ctx.logTable == nil {
		ctx.logTable = em.NewLogTable()
		klog.V(2).Infof("specializer: created log table with %d entries", len(ctx.logTable))
	}
	return ctx.logTable
}

// Finalize frees all buffers, clears the dispatch cache and finalizes the backend.
// The Context can't be used afterwards. It is safe to call more than once.
func (ctx *Context) Finalize() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.isFinalized {
		return
	}
	ctx.isFinalized = true
	if err := ctx.buffers.FreeAll(); err != nil {
		klog.Errorf("specializer: freeing buffers: %+v", err)
	}
	ctx.dispatcher.Cache().Invalidate()
	ctx.backend.Finalize()
}
