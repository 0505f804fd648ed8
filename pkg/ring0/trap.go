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

	"ktrap.dev/ktrap/pkg/log"
)

// Trap is called by the exception entry code for vector v, after it has
// saved the interrupted state into f. It does not return.
//
// Interrupts are masked on entry.
func (c *CPU) Trap(v Vector, f *Frame) {
	c.running = f
	c.traps.Add(1)
	k := c.kernel
	switch v.Kind() {
	case TrapSynchronous:
		k.Synchronous(c)
	case TrapIRQ:
		k.IRQ(c)
	case TrapSError:
		k.SError(c)
	default:
		k.Invalid(c, v)
	}
}

// Synchronous handles a synchronous exception taken by c.
//
// System calls are sent to the system call entry point on the kernel
// stack. Everything else goes to the CPU's fallback fault handler, which
// may resume a frame directly. Without a fault handler the exception is
// fatal.
func (k *Kernel) Synchronous(c *CPU) {
	f := c.running
	esr := f.ESR()
	if log.IsLogging(log.Debug) {
		log.Debugf("[%2d] caught exception, EL%d, esr %#x (%v)", c.ID, f.EL(), uint32(esr), esr)
	}

	if esr.IsSyscall() {
		if k.syscall == nil {
			k.halt(c, "synchronous: no syscall entry")
			return
		}
		f.SetVector(f.Reg(FrameX8))
		c.running = &c.kernelFrame
		k.machine.SwitchStack(c, c.running, k.syscall, f)
		k.halt(c, "synchronous: syscall returned")
		return
	}

	// Fault handlers likely act on CPU state, so leave it alone.
	if fh := c.FaultHandler(); fh != nil {
		if ret := fh(f); ret != nil {
			k.machine.FrameReturn(c, ret)
			k.halt(c, "synchronous: frame return returned")
			return
		}
		if c.IsKernelContext(f) {
			// No longer saving the frame for anything.
			f.SetFull(false)
		}
		k.runloop(c)
		return
	}

	k.consoleMu.Lock()
	fmt.Fprint(k.console, "\nno fault handler for frame ")
	k.writeFrame(k.console, c, f)
	fmt.Fprint(k.console, "\nframe trace: \n")
	k.writeTrace(k.console, f.FramePointer())
	k.writeStack(k.console, f)
	k.consoleMu.Unlock()
	k.halt(c, "synchronous: unhandled %v", esr)
}

// IRQ drains the interrupt controller, running every handler registered
// for each pending vector before signalling end of interrupt.
func (k *Kernel) IRQ(c *CPU) {
	f := c.running
	prev := c.State()
	debug := log.IsLogging(log.Debug)
	if debug {
		log.Debugf("[%2d] irq: enter", c.ID)
	}

	for {
		id, ok := k.ctl.Dispatch()
		if !ok {
			break
		}
		if debug && f != nil {
			log.Debugf("[%2d] # %d, state %v, EL%d, frame %p, elr %#x, spsr_esr %#x",
				c.ID, id, c.State(), f.EL(), f, f.ELR(), f[FrameESRSPSR])
		}
		if id >= MaxInterruptVectors {
			k.halt(c, "dispatched interrupt %d exceeds MAX_INTERRUPT_VECTORS", id)
			return
		}
		hs := k.interrupts.handlers(id)
		if len(hs) == 0 {
			k.halt(c, "no handler for interrupt %d", id)
			return
		}
		k.interrupts.counts[id].Add(1)
		c.SetState(CPUInterrupt)
		for _, h := range hs {
			if debug {
				log.Debugf("   invoking handler %s", h.name)
			}
			h.fn()
		}
		if debug {
			log.Debugf("   eoi %d", id)
		}
		k.ctl.EOI(id)
	}

	c.SetState(prev)
	if f != nil && c.IsKernelContext(f) {
		f.SetFull(false)
	}
	k.runloop(c)
}

// SError handles a platform reported error. It is always fatal.
func (k *Kernel) SError(c *CPU) {
	k.fatalFrame(c, "serror")
}

// Invalid handles a trap through an unused vector table slot. It is always
// fatal.
func (k *Kernel) Invalid(c *CPU, v Vector) {
	k.fatalFrame(c, fmt.Sprintf("invalid vector (%v)", v))
}

func (k *Kernel) fatalFrame(c *CPU, what string) {
	if f := c.running; f != nil {
		k.consoleMu.Lock()
		fmt.Fprintf(k.console, "\n%s: ", what)
		k.writeFrame(k.console, c, f)
		k.consoleMu.Unlock()
	}
	k.halt(c, "%s", what)
}

func (k *Kernel) runloop(c *CPU) {
	if log.IsLogging(log.Debug) {
		log.Debugf("[%2d] calling runloop", c.ID)
	}
	k.machine.Runloop(c)
	k.halt(c, "runloop returned")
}
