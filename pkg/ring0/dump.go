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
	"io"
	"unsafe"
)

const (
	// maxTraceFrames bounds the frame pointer walk.
	maxTraceFrames = 16

	// minFramePointer is the lowest plausible frame pointer. Anything
	// below it ends the walk.
	minFramePointer = 4096

	// stackTraceDepth bounds the raw stack scan, in words.
	stackTraceDepth = 128
)

var regNames = [FrameGPRegs]string{
	"  x0", "  x1", "  x2", "  x3", "  x4", "  x5", "  x6", "  x7",
	"  x8", "  x9", " x10", " x11", " x12", " x13", " x14", " x15",
	" x16", " x17", " x18", " x19", " x20", " x21", " x22", " x23",
	" x24", " x25", " x26", " x27", " x28", " x29", " x30", "  sp",
}

// symbolize formats addr, followed by its symbol if one is known.
func (k *Kernel) symbolize(addr uint64) string {
	if k.sym != nil {
		if name, off, ok := k.sym.Lookup(addr); ok {
			if off == 0 {
				return fmt.Sprintf("%016x (%s)", addr, name)
			}
			return fmt.Sprintf("%016x (%s+%#x)", addr, name, off)
		}
	}
	return fmt.Sprintf("%016x", addr)
}

// PrintFrame writes a register dump of f to the console.
func (k *Kernel) PrintFrame(c *CPU, f *Frame) {
	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()
	k.writeFrame(k.console, c, f)
}

func (k *Kernel) writeFrame(w io.Writer, c *CPU, f *Frame) {
	v := f.Vector()
	fmt.Fprintf(w, " interrupt: %016x", v)
	if v < MaxInterruptVectors {
		for _, name := range k.interrupts.Handlers(uint32(v)) {
			fmt.Fprintf(w, " (%s)", name)
		}
	}
	fmt.Fprintf(w, "\n     frame: %s", k.symbolize(uint64(uintptr(unsafe.Pointer(f)))))
	fmt.Fprintf(w, "\n      spsr: %016x", f.SPSR())
	esr := f.ESR()
	fmt.Fprintf(w, "\n       esr: %016x", uint32(esr))
	switch esr.Class() {
	case ECUnknown, ECIllegalExecution, ECInstAbort, ECInstAbortLowerEL,
		ECPCAlignment, ECDataAbort, ECDataAbortLowerEL, ECSPAlignment, ECSError:
		fmt.Fprintf(w, " %v", esr)
	}
	if esr.FARValid() {
		fmt.Fprintf(w, "\n       far: %s", k.symbolize(k.machine.FaultAddress(c)))
	}
	fmt.Fprintf(w, "\n       elr: %s\n\n", k.symbolize(f.ELR()))
	for i, name := range regNames {
		fmt.Fprintf(w, "      %s: %s\n", name, k.symbolize(f.Reg(i)))
	}
}

// Unwind walks the frame pointer chain starting at fp and returns the
// return addresses found.
//
// Each frame record holds the caller's frame pointer followed by the
// return address. The walk stops after a fixed number of frames, at a
// frame pointer below the first page, at a record that is not mapped, or
// at a zero return address.
func (k *Kernel) Unwind(fp uint64) []uint64 {
	if k.mem == nil {
		return nil
	}
	var pcs []uint64
	for i := 0; i < maxTraceFrames; i++ {
		if fp < minFramePointer {
			break
		}
		if !k.mem.Validate(fp, 8) || !k.mem.Validate(fp+8, 8) {
			break
		}
		ret, ok := k.mem.Load64(fp + 8)
		if !ok || ret == 0 {
			break
		}
		next, ok := k.mem.Load64(fp)
		if !ok {
			break
		}
		pcs = append(pcs, ret)
		fp = next
	}
	return pcs
}

func (k *Kernel) writeTrace(w io.Writer, fp uint64) {
	for _, pc := range k.Unwind(fp) {
		fmt.Fprintf(w, "%s\n", k.symbolize(pc))
	}
}

// PrintStackFromHere writes a frame trace of the caller to the console.
func (k *Kernel) PrintStackFromHere(c *CPU) {
	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()
	fmt.Fprint(k.console, "frame trace: \n")
	k.writeTrace(k.console, k.machine.FramePointer(c))
}

// PrintStack writes the raw words above the trapped stack pointer to the
// console. Not every word is a return address.
func (k *Kernel) PrintStack(f *Frame) {
	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()
	k.writeStack(k.console, f)
}

func (k *Kernel) writeStack(w io.Writer, f *Frame) {
	fmt.Fprint(w, "\nstack trace:\n")
	if k.mem != nil {
		addr := f.SP()
		for i := 0; i < stackTraceDepth && addr < k.stackTop; i++ {
			word, ok := k.mem.Load64(addr)
			if !ok {
				break
			}
			fmt.Fprintf(w, "%016x:   %s\n", addr, k.symbolize(word))
			addr += 8
		}
	}
	fmt.Fprint(w, "\n")
}
