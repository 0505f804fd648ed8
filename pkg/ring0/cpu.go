// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ring0

import (
	"fmt"

	"ktrap.dev/ktrap/pkg/atomicbitops"
)

// CPUState is the execution state of a CPU.
type CPUState uint32

// CPU states.
const (
	CPUIdle CPUState = iota
	CPUKernel
	CPUInterrupt
	CPUUser
)

func (s CPUState) String() string {
	switch s {
	case CPUIdle:
		return "idle"
	case CPUKernel:
		return "kernel"
	case CPUInterrupt:
		return "interrupt"
	case CPUUser:
		return "user"
	default:
		return fmt.Sprintf("state %d", uint32(s))
	}
}

// FaultHandler handles a synchronous exception that is not a system call.
//
// It returns a frame to resume immediately, or nil to continue in the run
// loop. The handler is called with the CPU state exactly as trapped.
type FaultHandler func(f *Frame) *Frame

// CPU is the per-CPU struct.
type CPU struct {
	// ID is the logical CPU number.
	ID uint32

	// kernel is the kernel this CPU was initialized with.
	kernel *Kernel

	// state is a CPUState.
	state atomicbitops.Uint32

	// running is the frame that the last trap saved state into. It is only
	// accessed by this CPU.
	running *Frame

	// kernelFrame is the dedicated kernel trap frame. It is reused by
	// every trap taken while the CPU was already running kernel code.
	kernelFrame Frame

	// faultHandler is the fallback fault handler. It is written at boot
	// (possibly from another CPU) and replaced at runtime, so it is
	// accessed atomically.
	faultHandler atomicbitops.Pointer[FaultHandler]

	// traps counts traps taken by this CPU.
	traps atomicbitops.Uint64
}

// Kernel returns the kernel this CPU belongs to.
func (c *CPU) Kernel() *Kernel {
	return c.kernel
}

// State returns the current CPU state.
func (c *CPU) State() CPUState {
	return CPUState(c.state.Load())
}

// SetState sets the CPU state.
func (c *CPU) SetState(s CPUState) {
	c.state.Store(uint32(s))
}

// RunningFrame returns the frame the current trap saved state into.
//
//go:nosplit
func (c *CPU) RunningFrame() *Frame {
	return c.running
}

// SetRunningFrame is called by the exception entry code after saving state
// into f.
//
//go:nosplit
func (c *CPU) SetRunningFrame(f *Frame) {
	c.running = f
}

// KernelFrame returns the dedicated kernel trap frame.
//
//go:nosplit
func (c *CPU) KernelFrame() *Frame {
	return &c.kernelFrame
}

// IsKernelContext returns whether f is this CPU's kernel trap frame.
//
//go:nosplit
func (c *CPU) IsKernelContext(f *Frame) bool {
	return f == &c.kernelFrame
}

// SetFaultHandler installs h as this CPU's fallback fault handler. A nil h
// removes the handler.
func (c *CPU) SetFaultHandler(h FaultHandler) {
	if h == nil {
		c.faultHandler.Store(nil)
		return
	}
	c.faultHandler.Store(&h)
}

// FaultHandler returns the installed fallback fault handler, or nil.
func (c *CPU) FaultHandler() FaultHandler {
	if p := c.faultHandler.Load(); p != nil {
		return *p
	}
	return nil
}

// Traps returns the number of traps this CPU has taken.
func (c *CPU) Traps() uint64 {
	return c.traps.Load()
}
