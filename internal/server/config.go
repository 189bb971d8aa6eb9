package server

import (
	"fmt"
	"math"

	"llamactl/internal/common/fsutil"
)

// AllGPULayers asks the engine to offload every model layer to the GPU.
// It is translated to the maximum int32 the binary accepts; llama-server
// clamps it to the actual layer count.
const AllGPULayers = -1

// Defaults applied by New for zero-valued fields.
const (
	DefaultPort     = 8080
	DefaultCtxSize  = 512
	DefaultParallel = 8
)

// Config describes one llama-server invocation. Values are fixed at New;
// mutate a copy and construct a fresh Server to change them.
type Config struct {
	// BinaryPath is the llama-server executable.
	BinaryPath string
	// ModelPath is the .gguf weights file.
	ModelPath string
	// Port the subprocess listens on. 0 means DefaultPort.
	Port int
	// CtxSize is the context window per request. The binary itself takes an
	// aggregate context size; Command multiplies by Parallel. 0 means
	// DefaultCtxSize.
	CtxSize int
	// Parallel is the number of in-flight requests the subprocess handles.
	// 0 means DefaultParallel.
	Parallel int
	// GPULayers is the number of layers offloaded to the GPU. AllGPULayers
	// offloads everything; other negative values are rejected.
	GPULayers int
	// ContBatching enables the engine's continuous batching.
	ContBatching bool
}

// withDefaults returns cfg with zero-valued sizing fields filled in.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CtxSize == 0 {
		c.CtxSize = DefaultCtxSize
	}
	if c.Parallel == 0 {
		c.Parallel = DefaultParallel
	}
	return c
}

// validate rejects values the binary would misinterpret.
func (c Config) validate() error {
	if c.GPULayers < AllGPULayers {
		return fmt.Errorf("gpu layers must be non-negative or AllGPULayers, got %d", c.GPULayers)
	}
	if c.CtxSize < 0 || c.Parallel < 0 || c.Port < 0 {
		return fmt.Errorf("negative port/ctx/parallel in config")
	}
	return nil
}

// effectiveGPULayers resolves the AllGPULayers sentinel.
func (c Config) effectiveGPULayers() int {
	if c.GPULayers == AllGPULayers {
		return math.MaxInt32
	}
	return c.GPULayers
}

// CheckResources verifies that both the binary and the model weights exist.
// Called at construction and again immediately before every start, since
// either file may be deleted in between.
func (c Config) CheckResources() error {
	if !fsutil.PathExists(c.BinaryPath) {
		return &NotFoundError{What: "server binary", Path: c.BinaryPath}
	}
	if !fsutil.PathExists(c.ModelPath) {
		return &NotFoundError{What: "model weights", Path: c.ModelPath}
	}
	return nil
}
