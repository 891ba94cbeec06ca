// Package cpu implements the CPU backend for deformable resampling, with gonum BLAS for the
// dense products around it.
package cpu

import (
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// CPUBackend runs the resampling kernels on the host.
type CPUBackend struct {
	device tensor.Device
	exec   deform.ExecContext
}

// New creates a CPU backend using every core and atomic accumulation.
func New() *CPUBackend {
	return NewWithExec(deform.DefaultExecContext())
}

// NewWithExec creates a CPU backend that runs every kernel with ec.
// The device field of ec is forced to CPU.
func NewWithExec(ec deform.ExecContext) *CPUBackend {
	ec.Device = tensor.CPU
	return &CPUBackend{
		device: tensor.CPU,
		exec:   ec,
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

// Exec returns the execution context the kernels run with.
func (cpu *CPUBackend) Exec() deform.ExecContext {
	return cpu.exec
}
