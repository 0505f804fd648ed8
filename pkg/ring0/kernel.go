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
	"errors"
	"fmt"
	"io"

	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/sync"
)

// DefaultStackTop is the default upper bound of the raw stack scan.
const DefaultStackTop = 0xffff000000020000

// DefaultTimerVector is the virtual timer PPI on GICv2 platforms. It is
// below InterruptVectorStart, so platforms that route the timer through
// the registry must pick a vector of their own.
const DefaultTimerVector = 27

// Options configures a Kernel.
type Options struct {
	// NumCPUs is the number of CPUs. Zero means one.
	NumCPUs int

	// Machine is the hardware access layer. It is required.
	Machine Machine

	// Controller is the interrupt controller. It is required.
	Controller Controller

	// Memory validates addresses for the unwinder. If nil, the frame
	// pointer chain and stack scans print nothing.
	Memory Memory

	// Symbolizer resolves addresses in dumps. Optional.
	Symbolizer Symbolizer

	// Console receives fault dumps and halt messages. If nil, output is
	// discarded.
	Console io.Writer

	// Syscall is the system call entry point. It is called on the kernel
	// stack with the trapped frame, whose vector slot holds the system call
	// number. It must not return.
	Syscall func(f *Frame)

	// Timer is the architectural timer. If set, TimerVector is reserved
	// and the "arm timer" handler is registered for it.
	Timer TimerDevice

	// TimerVector is the interrupt vector of Timer.
	TimerVector uint32

	// OnTimer is called from the timer interrupt after the timer has been
	// disarmed.
	OnTimer func()

	// StackTop bounds the raw stack scan. Zero means DefaultStackTop.
	StackTop uint64
}

// Kernel is the global trap state: per-CPU structures, the interrupt
// registry and the collaborators the router calls into.
type Kernel struct {
	machine Machine
	ctl     Controller
	mem     Memory
	sym     Symbolizer
	syscall func(f *Frame)

	timer   TimerDevice
	onTimer func()

	stackTop uint64

	// consoleMu serializes multi-line dumps from different CPUs.
	consoleMu sync.Mutex
	console   io.Writer

	interrupts *Interrupts
	cpus       []*CPU
}

// NewKernel initializes trap handling.
//
// It installs the exception vector base, initializes the interrupt
// controller and, when a timer is configured, sets up the timer interrupt.
func NewKernel(opts Options) (*Kernel, error) {
	if opts.Machine == nil {
		return nil, errors.New("ring0: no machine")
	}
	if opts.Controller == nil {
		return nil, errors.New("ring0: no interrupt controller")
	}
	n := opts.NumCPUs
	if n == 0 {
		n = 1
	}
	if n < 0 {
		return nil, fmt.Errorf("ring0: invalid CPU count %d", n)
	}
	k := &Kernel{
		machine:  opts.Machine,
		ctl:      opts.Controller,
		mem:      opts.Memory,
		sym:      opts.Symbolizer,
		syscall:  opts.Syscall,
		timer:    opts.Timer,
		onTimer:  opts.OnTimer,
		stackTop: opts.StackTop,
		console:  opts.Console,
	}
	if k.stackTop == 0 {
		k.stackTop = DefaultStackTop
	}
	if k.console == nil {
		k.console = io.Discard
	}
	k.cpus = make([]*CPU, n)
	for i := range k.cpus {
		k.cpus[i] = &CPU{ID: uint32(i), kernel: k}
		k.cpus[i].SetState(CPUKernel)
	}
	k.interrupts = newInterrupts(k.ctl, func(format string, v ...any) {
		k.halt(nil, format, v...)
	})

	k.machine.SetVectorBase()
	k.ctl.Init()

	if k.timer != nil {
		v := opts.TimerVector
		if !k.interrupts.ReserveVector(v) {
			return nil, fmt.Errorf("ring0: timer vector %d: %w", v, ErrVectorRange)
		}
		k.ctl.SetConfig(v, TriggerLevel)
		k.ctl.SetPriority(v, 0)
		k.ctl.SetTarget(v, 1)
		k.interrupts.Register(v, k.armTimer, "arm timer")
	}
	log.Infof("ring0: %d CPUs, stack top %#x", n, k.stackTop)
	return k, nil
}

// armTimer services the architectural timer interrupt.
func (k *Kernel) armTimer() {
	if !k.timer.Pending() {
		k.halt(nil, "arm timer: interrupt without timer condition")
		return
	}
	k.timer.Disarm()
	if k.onTimer != nil {
		k.onTimer()
	}
}

// Interrupts returns the interrupt registry.
func (k *Kernel) Interrupts() *Interrupts {
	return k.interrupts
}

// NumCPUs returns the number of CPUs.
func (k *Kernel) NumCPUs() int {
	return len(k.cpus)
}

// CPU returns CPU i.
func (k *Kernel) CPU(i int) *CPU {
	return k.cpus[i]
}

// InstallFallbackFaultHandler installs h on every CPU.
func (k *Kernel) InstallFallbackFaultHandler(h FaultHandler) {
	for _, c := range k.cpus {
		c.SetFaultHandler(h)
	}
}

// halt prints a message and stops the machine.
func (k *Kernel) halt(c *CPU, format string, v ...any) {
	k.consoleMu.Lock()
	fmt.Fprintf(k.console, "halt: "+format+"\n", v...)
	k.consoleMu.Unlock()
	k.machine.Halt(c)
	panic("ring0: machine halt returned")
}
