// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package specializer

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/pkg/support/fsutil"
	"github.com/gomlx/gmmspecializer/pkg/support/sets"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FallbackBackend is always tried last, so a missing accelerator degrades to host kernels.
const FallbackBackend = "cpu"

// Config of a Context.
type Config struct {
	// Backends to try, in order of preference. Each entry is a backend name, optionally followed by
	// ":<backend_configuration>", in which case the configuration options below are not used for it.
	Backends []string `yaml:"backends"`

	// Autotune selects the exploratory parameter space of the backends, with many more variants.
	Autotune bool `yaml:"autotune"`

	// CPUWorkers is the number of goroutines used by the cpu kernels, 0 for the number of CPUs.
	CPUWorkers int `yaml:"cpu_workers"`

	CUDADeviceID int        `yaml:"cuda_device_id"`
	CUDA         CUDAConfig `yaml:"cuda"`
}

// CUDAConfig holds the options of the cuda backend.
type CUDAConfig struct {
	// Library is the path to the native kernel library. If empty, it is searched for.
	Library string `yaml:"library"`

	// Emulate the device in host memory.
	Emulate bool `yaml:"emulate"`

	// Overrides of the probed capability. Memory sizes accept units, e.g. "48KiB" or "2GB".
	MaxThreadsPerBlock      int    `yaml:"max_threads_per_block"`
	MaxSharedMemoryPerBlock string `yaml:"max_shared_memory_per_block"`
	TotalMem                string `yaml:"total_mem"`
}

// DefaultConfig returns the configuration used if none is given: only the cpu backend, with the default
// parameter spaces.
func DefaultConfig() Config {
	return Config{Backends: []string{FallbackBackend}}
}

// LoadConfig reads a yaml configuration file. Fields not in the file keep the values of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return config, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Wrapf(err, "reading configuration")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return config, &ConfigurationError{Msg: "parsing " + path, Err: err}
	}
	return config, nil
}

// BackendConfig returns the configuration string ("<name>:<options>") of the named backend built from
// the config options.
func (c Config) BackendConfig(name string) string {
	var options []string
	switch name {
	case "cpu":
		if c.CPUWorkers != 0 {
			options = append(options, "workers="+strconv.Itoa(c.CPUWorkers))
		}
	case "cuda":
		cuda := c.CUDA
		if cuda.Emulate {
			options = append(options, "emulate")
		}
		if cuda.Library != "" {
			options = append(options, "library="+cuda.Library)
		}
		if c.CUDADeviceID != 0 {
			options = append(options, "device="+strconv.Itoa(c.CUDADeviceID))
		}
		if cuda.MaxThreadsPerBlock > 0 {
			options = append(options, "threads="+strconv.Itoa(cuda.MaxThreadsPerBlock))
		}
		if cuda.MaxSharedMemoryPerBlock != "" {
			options = append(options, "shmem="+cuda.MaxSharedMemoryPerBlock)
		}
		if cuda.TotalMem != "" {
			options = append(options, "mem="+cuda.TotalMem)
		}
	}
	if len(options) == 0 {
		return name
	}
	return name + ":" + strings.Join(options, ",")
}

// Candidates returns the backend configurations to try, in order.
//
// If $GMM_BACKEND is set it replaces the configured list. FallbackBackend is appended if not yet listed.
func (c Config) Candidates() []string {
	entries := c.Backends
	if env, found := os.LookupEnv(backends.ConfigEnvVar); found && env != "" {
		entries = []string{env}
	}
	seen := sets.Make[string]()
	var candidates []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		name, options := backends.SplitConfig(entry)
		if name == "" || !seen.Add(name) {
			continue
		}
		if options == "" && !strings.Contains(entry, ":") {
			entry = c.BackendConfig(name)
		}
		candidates = append(candidates, entry)
	}
	if !seen.Has(FallbackBackend) {
		candidates = append(candidates, c.BackendConfig(FallbackBackend))
	}
	return candidates
}

// ConfigurationError reports an invalid configuration: an unknown backend or numeric mode, an unreadable
// configuration file, or a variant with an unknown kernel family. It is not recoverable.
type ConfigurationError struct {
	Msg string
	Err error
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Msg
	}
	return "configuration error: " + e.Msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error, if any.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// ParseMode parses the name of a numeric mode ("diag" or "full").
func ParseMode(name string) (backends.Mode, error) {
	mode, err := backends.ModeString(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return 0, &ConfigurationError{Msg: "unsupported numeric mode " + strconv.Quote(name) + ", valid modes are " +
			strings.Join(backends.ModeStrings(), ", ")}
	}
	return mode, nil
}
