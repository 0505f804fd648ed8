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

// Machine is the per-target hardware access layer.
//
// Every method acts on the CPU passed in, which is always the calling CPU.
// A nil CPU means the caller is not running on behalf of a trap (for
// example, during bring-up).
//
// Methods documented as not returning transfer control away from the
// caller. If an implementation does return, the router treats it as a
// fatal error.
type Machine interface {
	// SetVectorBase installs the exception vector table (VBAR_EL1).
	SetVectorBase()

	// FaultAddress returns FAR_EL1.
	FaultAddress(c *CPU) uint64

	// FramePointer returns the current frame pointer (x29).
	FramePointer(c *CPU) uint64

	// SwitchStack calls entry(arg) on the stack at the top of stack. It
	// does not return.
	SwitchStack(c *CPU, stack *Frame, entry func(*Frame), arg *Frame)

	// FrameReturn restores f and returns from the exception. It does not
	// return.
	FrameReturn(c *CPU, f *Frame)

	// Runloop enters the cooperative run loop. It does not return.
	Runloop(c *CPU)

	// Halt stops execution. It does not return.
	Halt(c *CPU)
}

// TriggerConfig is an interrupt trigger configuration.
type TriggerConfig uint8

// Trigger configurations.
const (
	TriggerLevel TriggerConfig = iota
	TriggerEdge
)

// Controller is the interrupt controller.
type Controller interface {
	// Init initializes the controller.
	Init()

	// Dispatch acknowledges and returns the highest priority pending
	// interrupt. It returns false if nothing is pending.
	Dispatch() (id uint32, ok bool)

	// EOI signals end of interrupt for id.
	EOI(id uint32)

	// Enable enables forwarding of id.
	Enable(id uint32)

	// Disable disables forwarding of id.
	Disable(id uint32)

	// SetPriority sets the priority of id. Zero is the highest priority.
	SetPriority(id uint32, priority uint8)

	// SetConfig sets the trigger configuration of id.
	SetConfig(id uint32, cfg TriggerConfig)

	// SetTarget routes id to the given core.
	SetTarget(id uint32, core uint32)

	// ClearPending clears the pending state of id.
	ClearPending(id uint32)
}

// Memory validates and reads kernel virtual memory for the unwinder.
type Memory interface {
	// Validate returns whether [addr, addr+size) is mapped.
	Validate(addr, size uint64) bool

	// Load64 reads the word at addr. It returns false if the word cannot
	// be read.
	Load64(addr uint64) (uint64, bool)
}

// Symbolizer resolves addresses to symbols.
type Symbolizer interface {
	// Lookup returns the symbol containing addr and the offset into it.
	Lookup(addr uint64) (name string, offset uint64, ok bool)
}

// TimerDevice is the architectural timer (CNTV_CTL_EL0).
type TimerDevice interface {
	// Pending returns the timer condition status (ISTATUS).
	Pending() bool

	// Disarm disables the timer.
	Disarm()
}
