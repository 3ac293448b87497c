// Package cpu implements the pure-Go CPU backend.
package cpu

import (
	"github.com/born-ml/encdec/internal/parallel"
	"github.com/born-ml/encdec/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
//
// Matrix products are split across goroutines by output row; every other
// kernel runs sequentially.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend with parallel.DefaultConfig.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// alloc creates a zeroed result tensor or panics with the op name.
func (cpu *CPUBackend) alloc(op string, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	r, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panicf("%s: failed to create result tensor: %v", op, err)
	}
	return r
}
